// Package quota implements the temporal quota accounting engine: turning a
// user's subscription history plus consumption events into "how much of each
// resource is left right now".
package quota

import (
	"fmt"
	"time"
)

// Chunk is one concrete grant window of a quota: Amount units of a resource
// valid over the half-open interval [Start, End), with Remains tracking how
// much of that window is still unconsumed. Chunks are derived data and never
// persisted outside the cache snapshot.
type Chunk struct {
	ResourceID uint      `json:"resource_id"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Amount     int64     `json:"amount"`
	Remains    int64     `json:"remains"`
}

// Includes reports whether the chunk is valid at t ([Start, End)).
func (c Chunk) Includes(t time.Time) bool {
	return !c.Start.After(t) && c.End.After(t)
}

// SameLifetime reports whether two chunks describe the same grant window.
func (c Chunk) SameLifetime(other Chunk) bool {
	return c.Start.Equal(other.Start) && c.End.Equal(other.End)
}

func (c Chunk) String() string {
	return fmt.Sprintf("%d/%d res=%d %s - %s",
		c.Remains, c.Amount, c.ResourceID,
		c.Start.Format(time.RFC3339), c.End.Format(time.RFC3339))
}

// compareChunks orders chunks by start, then end, matching the order the
// generator emits them in. Both the merge and the cache reconciliation rely
// on this ordering.
func compareChunks(a, b Chunk) int {
	if c := a.Start.Compare(b.Start); c != 0 {
		return c
	}
	return a.End.Compare(b.End)
}
