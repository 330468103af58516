// chargerun is the cron entry point of the recurring charge scheduler: one
// invocation runs one charging pass over all expiring subscriptions, then
// exits. The long-running server runs the same pass on a ticker; use this
// binary when an external cron owns the timing.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/submeter/submeter/app/repository"
	"github.com/submeter/submeter/internal/pkg/billing"
	"github.com/submeter/submeter/internal/pkg/database"
	"github.com/submeter/submeter/internal/pkg/env"
	"github.com/submeter/submeter/internal/pkg/locks"
	"github.com/submeter/submeter/internal/pkg/payment"
	"github.com/submeter/submeter/internal/pkg/scheduler"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "run the decision logic but skip charges and writes")
	workers := flag.Int("workers", 4, "concurrent subscription processors")
	at := flag.String("at", "", "process as if now were this RFC 3339 instant (defaults to now)")
	flag.Parse()

	now := time.Now().UTC()
	if *at != "" {
		parsed, err := time.Parse(time.RFC3339, *at)
		if err != nil {
			log.Fatalf("Invalid -at value %q: %v", *at, err)
		}
		now = parsed.UTC()
	}

	env.SetupEnvFile()
	database.SetupDatabase()

	store := repository.NewStore(database.DB)

	// SUBSCRIPTIONS_LOCK_ENABLED=false drops distributed locking entirely;
	// locks.With treats a nil locker as a pass-through.
	var locker locks.Locker
	if env.GetEnvBool("SUBSCRIPTIONS_LOCK_ENABLED", true) {
		locker = locks.NewDB(database.DB, env.GetEnvDuration("SUBSCRIPTIONS_LOCK_TIMEOUT", 5*time.Second))
	}
	providers, err := payment.NewRegistry(&payment.Dummy{})
	if err != nil {
		log.Fatal(err)
	}
	svc := billing.NewService(store, providers)

	schedule, err := scheduler.ParseSchedule(env.GetEnv("SUBSCRIPTIONS_CHARGE_SCHEDULE", ""))
	if err != nil {
		log.Fatal(err)
	}
	sched := scheduler.New(store, svc, locker, scheduler.Config{
		Schedule: schedule,
		Workers:  *workers,
		DryRun:   *dryRun,
	})
	if err := sched.Run(context.Background(), now); err != nil {
		log.Fatalf("Charge run failed: %v", err)
	}
}
