package quota

import (
	"errors"
	"fmt"
	"iter"
	"time"
)

// ErrInconsistentQuotaCache means a cached snapshot no longer matches what
// the generators produce — the subscription or quota definitions changed
// underneath it. Callers drop the cache and recompute from history.
var ErrInconsistentQuotaCache = errors.New("inconsistent quota cache")

// Cache is a snapshot of computed chunks as of a point in time. It exists
// purely to avoid replaying the full usage history on every balance query;
// it is never authoritative.
type Cache struct {
	At     time.Time `json:"at"`
	Chunks []Chunk   `json:"chunks"`
}

type chunkKey struct {
	resourceID uint
	start      time.Time
	end        time.Time
	amount     int64
}

// Apply reconciles a freshly generated chunk stream against the snapshot.
// Fresh chunks whose (resource, start, end, amount) identity matches a cached
// chunk are replaced by the cached one, preserving its already-decremented
// Remains; unmatched fresh chunks pass through with full balance. A cached
// chunk left unmatched after the fresh stream ends is an inconsistency.
//
// Both streams must already be ordered identically; Apply never reorders.
func (c *Cache) Apply(fresh iter.Seq2[Chunk, error]) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		cached := make(map[chunkKey][]Chunk, len(c.Chunks))
		for _, chunk := range c.Chunks {
			key := keyOf(chunk)
			cached[key] = append(cached[key], chunk)
		}

		for chunk, err := range fresh {
			if err != nil {
				yield(Chunk{}, err)
				return
			}
			key := keyOf(chunk)
			if stack := cached[key]; len(stack) > 0 {
				chunk = stack[len(stack)-1]
				if len(stack) == 1 {
					delete(cached, key)
				} else {
					cached[key] = stack[:len(stack)-1]
				}
			}
			if !yield(chunk, nil) {
				return
			}
		}

		for _, stack := range cached {
			if len(stack) > 0 {
				yield(Chunk{}, fmt.Errorf("%w: unmatched cached chunk %s", ErrInconsistentQuotaCache, stack[0]))
				return
			}
		}
	}
}

func keyOf(c Chunk) chunkKey {
	return chunkKey{
		resourceID: c.ResourceID,
		start:      c.Start.UTC().Truncate(0),
		end:        c.End.UTC().Truncate(0),
		amount:     c.Amount,
	}
}
