package quota

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/submeter/submeter/app/models"
	"github.com/submeter/submeter/internal/pkg/locks"
	"github.com/submeter/submeter/internal/pkg/timeseq"
)

// LimitPolicy selects what happens when replayed usage exceeds the available
// balance.
type LimitPolicy int

const (
	// LimitError surfaces the excess as a LimitExceededError.
	LimitError LimitPolicy = iota
	// LimitWarn logs the excess and keeps going.
	LimitWarn
	// LimitIgnore silently clamps the excess.
	LimitIgnore
)

// Store is the slice of the persistent store the resolver reads from.
type Store interface {
	// SubscriptionsStartedBefore returns the user's subscriptions with
	// Start <= at, ordered by End descending, with Plan and Quotas loaded.
	SubscriptionsStartedBefore(userID uint, at time.Time) ([]models.Subscription, error)
	// UsagesInWindow returns usage events ordered by UsedAt. The lower bound
	// is exclusive when sinceExclusive is set, the upper bound is inclusive.
	UsagesInWindow(userID uint, since time.Time, sinceExclusive bool, until time.Time) ([]models.Usage, error)
	CreateUsage(u *models.Usage) error
}

// CacheStore holds the latest QuotaCache per user. All operations are
// best-effort: a miss or failure triggers full recomputation, never a caller
// visible error.
type CacheStore interface {
	GetQuotaCache(ctx context.Context, userID uint) (*Cache, error)
	SetQuotaCache(ctx context.Context, userID uint, c *Cache) error
	DeleteQuotaCache(ctx context.Context, userID uint) error
}

// Resolver answers remaining-balance queries and records consumption.
// It is read-only apart from UseResource and safe for unlimited concurrency;
// the only lock it ever takes is the per-user consumption lock.
type Resolver struct {
	store  Store
	cache  CacheStore
	locker locks.Locker
	policy LimitPolicy
}

// NewResolver wires a resolver. cache may be nil (no snapshot reuse) and
// locker may be nil (check-then-act races tolerated, test/degraded mode).
func NewResolver(store Store, cache CacheStore, locker locks.Locker, policy LimitPolicy) *Resolver {
	return &Resolver{store: store, cache: cache, locker: locker, policy: policy}
}

// InvolvedSubscriptions returns the minimal set of subscriptions that can
// still hold a non-expired chunk at `at`: those covering `at` plus the
// backward chain of overlapping predecessors, walked until the reachable
// start stops decreasing.
func (r *Resolver) InvolvedSubscriptions(userID uint, at time.Time) ([]models.Subscription, error) {
	subs, err := r.store.SubscriptionsStartedBefore(userID, at)
	if err != nil {
		return nil, err
	}

	var involved []models.Subscription
	from := at
	for _, sub := range subs {
		if !sub.End.After(from) {
			break
		}
		involved = append(involved, sub)
		from = timeseq.MinTime(from, sub.Start)
	}
	return involved, nil
}

// RemainingChunks computes the chunks still alive at `at`, with Remains
// reflecting the replayed usage history. qc is an optional snapshot taken at
// some instant <= at; passing nil forces full recomputation.
func (r *Resolver) RemainingChunks(userID uint, at time.Time, qc *Cache) ([]Chunk, error) {
	involved, err := r.InvolvedSubscriptions(userID, at)
	if err != nil {
		return nil, err
	}
	if len(involved) == 0 {
		return nil, fmt.Errorf("%w: user %d at %s", ErrNoActiveSubscription, userID, at.Format(time.RFC3339))
	}

	if qc != nil && qc.At.After(at) {
		log.Warnf("[Quota] Ignoring quota cache from %s: newer than requested time %s", qc.At, at)
		qc = nil
	}

	var since time.Time
	if qc != nil {
		since = qc.At
		kept := involved[:0]
		for _, sub := range involved {
			if sub.End.After(qc.At) {
				kept = append(kept, sub)
			}
		}
		involved = kept
	}

	var seqs []iter.Seq[Chunk]
	for i := range involved {
		sub := &involved[i]
		for j := range sub.Plan.Quotas {
			seq, err := ChunkSeq(sub, &sub.Plan.Quotas[j], since, at)
			if err != nil {
				return nil, err
			}
			seqs = append(seqs, seq)
		}
	}

	stream := timeseq.Merge(compareChunks, seqs...)
	if qc != nil {
		stream = qc.Apply(stream)
	}

	next, stop := iter.Pull2(stream)
	defer stop()

	pending, err, havePending := pull(next)
	if err != nil {
		return nil, err
	}
	if !havePending {
		return nil, fmt.Errorf("%w: user %d at %s", ErrNoQuotaConfigured, userID, at.Format(time.RFC3339))
	}

	usages, err := r.store.UsagesInWindow(userID, usageSince(qc, pending), qc != nil, at)
	if err != nil {
		return nil, err
	}

	var active []*Chunk
	for _, usage := range usages {
		date := usage.UsedAt

		// Admit newly started chunks up to this event, keeping one chunk of
		// lookahead past it as the next admission point.
		if len(active) == 0 || !active[len(active)-1].Start.After(date) {
			for havePending {
				admitted := pending
				active = append(active, &admitted)
				pending, err, havePending = pull(next)
				if err != nil {
					return nil, err
				}
				if admitted.Start.After(date) {
					break
				}
			}
		}

		// Drop chunks that already burned.
		alive := active[:0]
		for _, chunk := range active {
			if !chunk.End.Before(date) {
				alive = append(alive, chunk)
			}
		}
		active = alive

		// Earliest-expiring chunks are consumed first so the least balance
		// is wasted to burn.
		var candidates []*Chunk
		for _, chunk := range active {
			if chunk.ResourceID == usage.ResourceID && chunk.Includes(date) {
				candidates = append(candidates, chunk)
			}
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].End.Before(candidates[j].End)
		})

		amount := usage.Amount
		available := int64(0)
		for _, chunk := range candidates {
			available += chunk.Remains
		}
		for _, chunk := range candidates {
			if amount <= chunk.Remains {
				chunk.Remains -= amount
				amount = 0
				break
			}
			amount -= chunk.Remains
			chunk.Remains = 0
		}

		if amount > 0 {
			switch r.policy {
			case LimitError:
				return nil, &LimitExceededError{
					ResourceID: usage.ResourceID,
					Requested:  usage.Amount,
					Available:  available,
				}
			case LimitWarn:
				log.Warnf("[Quota] Limit exceeded during replay: user=%d resource=%d at=%s overused=%d",
					userID, usage.ResourceID, date, amount)
			}
		}
	}

	// Remaining balance at `at` is whatever chunks are still valid there.
	var remaining []Chunk
	for _, chunk := range active {
		if chunk.Includes(at) {
			remaining = append(remaining, *chunk)
		}
	}
	for havePending && !pending.Start.After(at) {
		if pending.Includes(at) {
			remaining = append(remaining, pending)
		}
		pending, err, havePending = pull(next)
		if err != nil {
			return nil, err
		}
	}
	return remaining, nil
}

// RemainingAmount returns the per-resource remaining balance at `at`,
// reading and refreshing the cache store along the way. Cache problems are
// downgraded to full recomputation.
func (r *Resolver) RemainingAmount(ctx context.Context, userID uint, at time.Time) (map[uint]int64, error) {
	var qc *Cache
	if r.cache != nil {
		cached, err := r.cache.GetQuotaCache(ctx, userID)
		if err != nil {
			log.Warnf("[Quota] Cache read failed for user %d: %v", userID, err)
		} else {
			qc = cached
		}
	}

	chunks, err := r.RemainingChunks(userID, at, qc)
	if errors.Is(err, ErrInconsistentQuotaCache) {
		log.Warnf("[Quota] Dropping inconsistent quota cache for user %d: %v", userID, err)
		if r.cache != nil {
			if derr := r.cache.DeleteQuotaCache(ctx, userID); derr != nil {
				log.Warnf("[Quota] Cache delete failed for user %d: %v", userID, derr)
			}
		}
		chunks, err = r.RemainingChunks(userID, at, nil)
	}
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		now := time.Now().UTC()
		if qc == nil || (qc.At.Before(at) && at.Before(now)) {
			if serr := r.cache.SetQuotaCache(ctx, userID, &Cache{At: at, Chunks: chunks}); serr != nil {
				log.Warnf("[Quota] Cache write failed for user %d: %v", userID, serr)
			}
		}
	}

	amounts := make(map[uint]int64)
	for _, chunk := range chunks {
		amounts[chunk.ResourceID] += chunk.Remains
	}
	return amounts, nil
}

// UseResource records a consumption event after a balance check, holding the
// per-user lock so two concurrent consumers cannot both pass the check
// against the same pre-deduction balance. With policy LimitError an
// insufficient balance rejects the event; other policies record it anyway.
func (r *Resolver) UseResource(ctx context.Context, userID, resourceID uint, amount int64) (int64, error) {
	if amount < 1 {
		return 0, fmt.Errorf("usage amount must be >= 1, got %d", amount)
	}

	var remains int64
	err := locks.With(ctx, r.locker, fmt.Sprintf("quota:use:%d", userID), func() error {
		available, err := r.RemainingAmount(ctx, userID, time.Now().UTC())
		if err != nil {
			if r.policy == LimitError {
				return err
			}
			log.Warnf("[Quota] Consuming without balance for user %d: %v", userID, err)
			available = map[uint]int64{}
		}

		remains = available[resourceID] - amount
		if remains < 0 && r.policy == LimitError {
			return &LimitExceededError{
				ResourceID: resourceID,
				Requested:  amount,
				Available:  available[resourceID],
			}
		}

		return r.store.CreateUsage(&models.Usage{
			UserID:     userID,
			ResourceID: resourceID,
			Amount:     amount,
		})
	})
	if err != nil {
		return 0, err
	}
	return remains, nil
}

// RefreshMoments reports, per resource, the first instant after `at` when a
// fresh quota chunk opens. With assumeProlong set, recharge moments beyond
// the current subscription end are reported too (the subscription is assumed
// to renew); otherwise they are omitted.
func (r *Resolver) RefreshMoments(userID uint, at time.Time, assumeProlong bool) (map[uint]time.Time, error) {
	involved, err := r.InvolvedSubscriptions(userID, at)
	if err != nil {
		return nil, err
	}

	moments := make(map[uint]time.Time)
	for i := range involved {
		sub := &involved[i]
		for j := range sub.Plan.Quotas {
			q := &sub.Plan.Quotas[j]
			if q.RechargePeriod <= 0 {
				return nil, fmt.Errorf("%w: quota %d has recharge period %s", ErrMalformedQuota, q.ID, q.RechargePeriod)
			}
			moment := sub.Start
			for moment.Before(at) {
				moment = moment.Add(q.RechargePeriod)
			}
			if !moment.Before(sub.End) && !assumeProlong {
				continue
			}
			if known, ok := moments[q.ResourceID]; !ok || moment.Before(known) {
				moments[q.ResourceID] = moment
			}
		}
	}
	return moments, nil
}

func usageSince(qc *Cache, first Chunk) time.Time {
	if qc != nil {
		return qc.At
	}
	return first.Start
}

func pull(next func() (Chunk, error, bool)) (Chunk, error, bool) {
	chunk, err, ok := next()
	if !ok {
		return Chunk{}, nil, false
	}
	return chunk, err, err == nil
}
