package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/submeter/submeter/app/repository"
	apiv1 "github.com/submeter/submeter/internal/api/v1"
	"github.com/submeter/submeter/internal/pkg/billing"
	"github.com/submeter/submeter/internal/pkg/cache"
	"github.com/submeter/submeter/internal/pkg/database"
	"github.com/submeter/submeter/internal/pkg/env"
	"github.com/submeter/submeter/internal/pkg/locks"
	"github.com/submeter/submeter/internal/pkg/payment"
	"github.com/submeter/submeter/internal/pkg/quota"
	"github.com/submeter/submeter/internal/pkg/router"
	"github.com/submeter/submeter/internal/pkg/scheduler"
)

func main() {
	app, manager := NewApplication()

	manager.Start()
	defer manager.Stop()

	// Shut down cleanly on SIGINT/SIGTERM so in-flight charges finish.
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		_ = app.Shutdown()
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	if err != nil {
		log.Fatal(err)
	}
}

func NewApplication() (*fiber.App, *scheduler.Manager) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	store := repository.NewStore(database.DB)

	// SUBSCRIPTIONS_LOCK_ENABLED=false drops distributed locking entirely;
	// locks.With treats a nil locker as a pass-through.
	var locker locks.Locker
	if env.GetEnvBool("SUBSCRIPTIONS_LOCK_ENABLED", true) {
		locker = locks.NewDB(database.DB, env.GetEnvDuration("SUBSCRIPTIONS_LOCK_TIMEOUT", 5*time.Second))
	}
	quotaCache := cache.NewQuotaStore(cache.GetClient(), env.GetEnvDuration("QUOTA_CACHE_TTL", cache.DefaultQuotaCacheTTL))

	resolver := quota.NewResolver(store, quotaCache, locker, quota.LimitError)
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
		Workers:  env.GetEnvInt("SUBSCRIPTIONS_CHARGE_WORKERS", 4),
		DryRun:   env.GetEnvBool("SUBSCRIPTIONS_CHARGE_DRY_RUN", false),
	})
	manager := scheduler.NewManager(sched,
		env.GetEnvDuration("SUBSCRIPTIONS_CHARGE_INTERVAL", 15*time.Minute),
		env.GetEnvDuration("SUBSCRIPTIONS_SWEEP_INTERVAL", time.Hour),
	)

	app := fiber.New(fiber.Config{
		AppName: "submeter",
	})
	app.Use(recover.New(), logger.New())
	app.Get("/metrics", monitor.New())

	// ROUTER
	router.InstallRouter(app, apiv1.NewAPIServer(store, resolver, svc))

	return app, manager
}
