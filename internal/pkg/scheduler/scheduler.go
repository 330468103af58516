// Package scheduler implements the recurring charge scheduler: it watches
// subscriptions approaching their paid-through date and attempts automatic
// charges on a retry schedule, guaranteeing at most one attempt per retry
// bucket per subscription even with many concurrent workers.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/submeter/submeter/app/models"
	"github.com/submeter/submeter/internal/pkg/billing"
	"github.com/submeter/submeter/internal/pkg/locks"
	"github.com/submeter/submeter/internal/pkg/payment"
	"github.com/submeter/submeter/internal/pkg/timeseq"
)

// DefaultSchedule is the default set of charge attempt offsets relative to a
// subscription's end: several tries before expiry, a final one at expiry.
var DefaultSchedule = []time.Duration{
	-3 * 24 * time.Hour,
	-2 * 24 * time.Hour,
	-24 * time.Hour,
	-12 * time.Hour,
	-3 * time.Hour,
	-time.Hour,
	0,
}

// ParseSchedule parses a comma-separated list of charge offsets, e.g.
// "-72h,-48h,-24h,-12h,-3h,-1h,0". Empty fields are skipped; an empty input
// yields nil, which New replaces with DefaultSchedule.
func ParseSchedule(raw string) ([]time.Duration, error) {
	var out []time.Duration
	for _, field := range strings.Split(raw, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		d, err := time.ParseDuration(field)
		if err != nil {
			return nil, fmt.Errorf("invalid schedule offset %q: %w", field, err)
		}
		out = append(out, d)
	}
	return out, nil
}

// Store is the slice of the persistent store the scheduler needs. Payment
// creation-time ranges are half-open [since, until).
type Store interface {
	// ExpiringSubscriptions returns auto-renewing subscriptions of recurring
	// plans whose end falls within [since, until], with Plan loaded.
	ExpiringSubscriptions(since, until time.Time) ([]models.Subscription, error)
	PaymentsCreatedIn(subscriptionUID uuid.UUID, since, until time.Time) ([]models.SubscriptionPayment, error)
	PendingPaymentsCreatedIn(subscriptionUID uuid.UUID, since, until time.Time) ([]models.SubscriptionPayment, error)
	// PendingPaymentsOlderThan returns subscription-linked payments stuck in
	// pending state since before the cutoff.
	PendingPaymentsOlderThan(cutoff time.Time) ([]models.SubscriptionPayment, error)
	SaveSubscription(sub *models.Subscription) error
	SavePayment(p *models.SubscriptionPayment) error
}

// Charger performs the actual automatic charge. Satisfied by
// billing.Service.
type Charger interface {
	ChargeOffline(ctx context.Context, sub *models.Subscription) (*models.SubscriptionPayment, error)
}

// Config tunes one scheduler instance.
type Config struct {
	// Schedule holds the bucket offsets relative to each subscription's
	// end, ascending. Empty disables the scheduler.
	Schedule []time.Duration
	// Workers caps concurrent subscription processing; values below 2 mean
	// strictly sequential processing.
	Workers int
	// DryRun runs the full decision logic but skips the provider call and
	// all writes.
	DryRun bool
}

// Scheduler decides, for each expiring subscription, whether to attempt an
// automatic charge now.
type Scheduler struct {
	store   Store
	charger Charger
	locker  locks.Locker
	cfg     Config
}

// New wires a scheduler. locker may be nil only in single-process tests.
func New(store Store, charger Charger, locker locks.Locker, cfg Config) *Scheduler {
	if len(cfg.Schedule) == 0 {
		cfg.Schedule = slices.Clone(DefaultSchedule)
	}
	cfg.Schedule = slices.Clone(cfg.Schedule)
	slices.Sort(cfg.Schedule)
	return &Scheduler{store: store, charger: charger, locker: locker, cfg: cfg}
}

// Run processes every auto-renewing subscription whose end falls inside the
// schedule window around now. Failures are isolated per subscription: one
// bad subscription never aborts the batch. The returned error covers only
// batch-level problems (the expiring query itself).
func (s *Scheduler) Run(ctx context.Context, now time.Time) error {
	schedule := s.cfg.Schedule
	log.Debugf("[Scheduler] Charging according to schedule %v (dry_run=%v)", schedule, s.cfg.DryRun)

	first, last := schedule[0], schedule[len(schedule)-1]
	subs, err := s.store.ExpiringSubscriptions(now.Add(-last), now.Add(-first))
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		log.Debug("[Scheduler] No subscriptions to charge")
		return nil
	}

	if s.cfg.Workers < 2 {
		for i := range subs {
			s.process(ctx, &subs[i], now)
		}
		return nil
	}

	jobs := make(chan *models.Subscription)
	var wg sync.WaitGroup
	for w := 0; w < s.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sub := range jobs {
				s.process(ctx, sub, now)
			}
		}()
	}
	for i := range subs {
		jobs <- &subs[i]
	}
	close(jobs)
	wg.Wait()
	return nil
}

// process isolates one subscription: any failure is logged, never
// propagated.
func (s *Scheduler) process(ctx context.Context, sub *models.Subscription, now time.Time) {
	err := locks.With(ctx, s.locker, chargeLockName(sub.UID), func() error {
		return s.chargeOne(ctx, sub, now)
	})
	switch {
	case err == nil:
	case errors.Is(err, locks.ErrNotAcquired):
		// Another worker owns it; the next invocation picks it up.
		log.Debugf("[Scheduler] Subscription %s is locked elsewhere, deferring", sub.UID)
	default:
		log.Errorf("[Scheduler] Failed to process subscription %s: %v", sub.UID, err)
	}
}

func chargeLockName(uid uuid.UUID) string {
	return "subscriptions:charge:" + uid.String()
}

// chargeOne runs the per-subscription decision while the subscription lock
// is held.
func (s *Scheduler) chargeOne(ctx context.Context, sub *models.Subscription, now time.Time) error {
	log.Debugf("[Scheduler] Processing subscription %s", sub)

	bucket, ok := s.bucketAt(sub, now)
	if !ok {
		log.Warnf("[Scheduler] Time %s falls within no charge bucket of subscription %s, skipping",
			now.Format(time.RFC3339), sub.UID)
		return nil
	}
	log.Debugf("[Scheduler] Time %s falls within bucket %s - %s (delta to end: %s)",
		now.Format(time.RFC3339), bucket.Start.Format(time.RFC3339), bucket.End.Format(time.RFC3339),
		sub.End.Sub(now))

	if now.Before(sub.Start.Add(sub.InitialChargeOffset)) {
		log.Debugf("[Scheduler] Subscription %s is still in its initial charge offset, skipping", sub.UID)
		return nil
	}

	// At most one attempt per bucket: any attempt inside the current bucket
	// blocks, as does a pending attempt anywhere in the schedule window.
	attempts, err := s.store.PaymentsCreatedIn(sub.UID, bucket.Start, bucket.End)
	if err != nil {
		return err
	}
	windowStart := sub.End.Add(s.cfg.Schedule[0])
	windowEnd := sub.End.Add(s.cfg.Schedule[len(s.cfg.Schedule)-1])
	pending, err := s.store.PendingPaymentsCreatedIn(sub.UID, windowStart, windowEnd)
	if err != nil {
		return err
	}

	if blocking := append(attempts, pending...); len(blocking) > 0 {
		log.Debugf("[Scheduler] Skipping subscription %s: %d existing attempt(s) block this bucket",
			sub.UID, len(blocking))
		if len(attempts) > 1 {
			log.Warnf("[Scheduler] Multiple attempts within one bucket for subscription %s (should be at most 1)", sub.UID)
		}
		for _, attempt := range attempts {
			if attempt.Status == models.PaymentStatusCompleted {
				log.Warnf("[Scheduler] Attempt %s completed but subscription %s end still approaching", attempt.UID, sub.UID)
			}
		}
		return nil
	}

	// A subscription that cannot be prolonged must never reach the provider:
	// the charge would move money with nothing left to extend.
	if _, err := billing.Prolong(sub); err != nil {
		if !errors.Is(err, billing.ErrProlongationImpossible) {
			return err
		}
		if s.cfg.DryRun {
			log.Infof("[Scheduler] Dry run: would turn off auto-renewal of subscription %s", sub.UID)
			return nil
		}
		sub.AutoRenew = false
		if err := s.store.SaveSubscription(sub); err != nil {
			return err
		}
		log.Debugf("[Scheduler] Turned off auto-renewal of subscription %s", sub.UID)
		return nil
	}

	if s.cfg.DryRun {
		log.Infof("[Scheduler] Dry run: would charge subscription %s in bucket %s - %s",
			sub.UID, bucket.Start.Format(time.RFC3339), bucket.End.Format(time.RFC3339))
		return nil
	}

	attempt, err := s.charger.ChargeOffline(ctx, sub)
	switch {
	case err == nil:
		// Completion (now or via a later confirmation) drives the
		// subscription extension; nothing more to do here.
		log.Debugf("[Scheduler] Subscription %s automatically charged: %s", sub.UID, attempt)
		return nil

	case errors.Is(err, billing.ErrProlongationImpossible):
		// The pre-charge check passed, so the cap was hit by a concurrent
		// extension; the attempt itself has been persisted by ChargeOffline.
		sub.AutoRenew = false
		if err := s.store.SaveSubscription(sub); err != nil {
			return err
		}
		log.Debugf("[Scheduler] Turned off auto-renewal of subscription %s", sub.UID)
		return nil

	default:
		var perr *payment.Error
		if !errors.As(err, &perr) {
			return err
		}
		log.Warnf("[Scheduler] Failed to auto-charge subscription %s: %v", sub.UID, perr)
		return s.recordFailedAttempt(sub, perr)
	}
}

// recordFailedAttempt persists an error attempt stamped with the provider's
// debug context so the bucket check blocks retries within the same bucket.
func (s *Scheduler) recordFailedAttempt(sub *models.Subscription, perr *payment.Error) error {
	paidSince := sub.End
	paidUntil, err := billing.Prolong(sub)
	if err != nil {
		paidUntil = sub.End
	}

	metadata := ""
	if len(perr.DebugInfo) > 0 {
		if raw, merr := json.Marshal(perr.DebugInfo); merr == nil {
			metadata = string(raw)
		}
	}

	// No provider codename: the failure may predate provider resolution, and
	// a made-up codename would break credential lookups that walk these rows.
	uid := sub.UID
	return s.store.SavePayment(&models.SubscriptionPayment{
		UserID:          sub.UserID,
		PlanID:          sub.PlanID,
		SubscriptionUID: &uid,
		Quantity:        sub.Quantity,
		Status:          models.PaymentStatusError,
		Amount:          sub.Plan.ChargeAmount,
		Currency:        sub.Plan.ChargeCurrency,
		PaidSince:       &paidSince,
		PaidUntil:       &paidUntil,
		MetadataJSON:    metadata,
	})
}

// bucketAt maps now onto the subscription's retry bucket, if any. The
// schedule offsets partition [end+first, end+last) into len-1 buckets.
func (s *Scheduler) bucketAt(sub *models.Subscription, now time.Time) (timeseq.Interval, bool) {
	schedule := s.cfg.Schedule
	for i := 0; i+1 < len(schedule); i++ {
		bucket := timeseq.Interval{
			Start: sub.End.Add(schedule[i]),
			End:   sub.End.Add(schedule[i+1]),
		}
		if bucket.Includes(now) {
			return bucket, true
		}
	}
	return timeseq.Interval{}, false
}
