package quota

import (
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/submeter/submeter/app/models"
	"github.com/submeter/submeter/internal/pkg/timeseq"
)

// ErrMalformedQuota indicates broken plan/quota configuration, e.g. a zero
// recharge period on a persisted quota. This is a data error: it is always
// surfaced, never recovered.
var ErrMalformedQuota = errors.New("malformed quota configuration")

// chunkEpsilon excludes a grant window that starts exactly at
// `since - burn duration`: such a window expires precisely at `since`, and
// under half-open semantics it no longer holds any balance there. Without
// this, reusing a cache taken exactly at a window's expiry instant would
// regenerate the already-dead window and trip cache reconciliation.
const chunkEpsilon = time.Millisecond

// ChunkSeq lazily produces the grant windows of one (subscription, quota)
// pair, ordered by start. Window i covers
//
//	[start + i*recharge, min(start + i*recharge + burn, subscription.end))
//
// with amount = limit * quantity. Generation is pure: it consults only the
// passed subscription and quota.
//
// A zero `since` means "from the subscription start"; a zero `until` means
// "up to the subscription end".
func ChunkSeq(sub *models.Subscription, q *models.Quota, since, until time.Time) (iter.Seq[Chunk], error) {
	if q.RechargePeriod <= 0 {
		return nil, fmt.Errorf("%w: quota %d has recharge period %s", ErrMalformedQuota, q.ID, q.RechargePeriod)
	}
	if q.BurnDuration <= 0 {
		return nil, fmt.Errorf("%w: quota %d has burn duration %s", ErrMalformedQuota, q.ID, q.BurnDuration)
	}

	minStart := sub.Start
	if !since.IsZero() {
		minStart = timeseq.MaxTime(since.Add(-q.BurnDuration).Add(chunkEpsilon), sub.Start)
	}
	bound := sub.End
	if !until.IsZero() {
		bound = timeseq.MinTime(until, sub.End)
	}

	resourceID := q.ResourceID
	recharge := q.RechargePeriod
	burn := q.BurnDuration
	amount := q.Limit * sub.Quantity
	subStart, subEnd := sub.Start, sub.End

	return func(yield func(Chunk) bool) {
		for i := int64(0); ; i++ {
			start := subStart.Add(time.Duration(i) * recharge)
			if start.Before(minStart) {
				continue
			}
			if start.After(bound) {
				return
			}
			chunk := Chunk{
				ResourceID: resourceID,
				Start:      start,
				End:        timeseq.MinTime(start.Add(burn), subEnd),
				Amount:     amount,
				Remains:    amount,
			}
			if !yield(chunk) {
				return
			}
		}
	}, nil
}

// SubscriptionChunks merges the chunk streams of all quotas of a
// subscription's plan into one stream ordered by (start, end).
func SubscriptionChunks(sub *models.Subscription, since, until time.Time) (iter.Seq2[Chunk, error], error) {
	seqs := make([]iter.Seq[Chunk], 0, len(sub.Plan.Quotas))
	for i := range sub.Plan.Quotas {
		seq, err := ChunkSeq(sub, &sub.Plan.Quotas[i], since, until)
		if err != nil {
			return nil, err
		}
		seqs = append(seqs, seq)
	}
	return timeseq.Merge(compareChunks, seqs...), nil
}
