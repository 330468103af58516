package timeseq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIntervalIncludesHalfOpen(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	iv := Interval{Start: start, End: start.Add(time.Hour)}

	assert.True(t, iv.Includes(start), "start is inclusive")
	assert.True(t, iv.Includes(start.Add(59*time.Minute)))
	assert.False(t, iv.Includes(iv.End), "end is exclusive")
	assert.False(t, iv.Includes(start.Add(-time.Nanosecond)))
}

func TestIntervalZeroWidth(t *testing.T) {
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	iv := Interval{Start: at, End: at}

	assert.True(t, iv.IsZeroWidth())
	assert.False(t, iv.Includes(at), "a zero-width interval contains nothing")
}

func TestIntervalOverlaps(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	a := Interval{Start: base, End: base.Add(2 * time.Hour)}
	b := Interval{Start: base.Add(time.Hour), End: base.Add(3 * time.Hour)}
	c := Interval{Start: base.Add(2 * time.Hour), End: base.Add(4 * time.Hour)}

	assert.True(t, a.Overlaps(b))
	assert.True(t, b.Overlaps(a))
	assert.False(t, a.Overlaps(c), "touching intervals share no instant")
}
