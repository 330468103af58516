package timeseq

import "time"

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Includes reports whether t falls inside the interval, with Start inclusive
// and End exclusive.
func (iv Interval) Includes(t time.Time) bool {
	return !iv.Start.After(t) && iv.End.After(t)
}

// IsZeroWidth reports whether the interval covers no time at all.
func (iv Interval) IsZeroWidth() bool {
	return !iv.End.After(iv.Start)
}

// Overlaps reports whether two half-open intervals share any instant.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// MinTime returns the earlier of two instants.
func MinTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

// MaxTime returns the later of two instants.
func MaxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
