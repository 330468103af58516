// Package timeseq provides lazy ordered-sequence plumbing for the quota
// engine: half-open time intervals and a k-way merge of individually ordered
// streams that fails fast when an input turns out not to be ordered at all.
package timeseq

import (
	"errors"
	"fmt"
	"iter"
)

// ErrNonMonotonicSequence is returned when a merged stream would have to emit
// a key smaller than one it already emitted. It always indicates malformed
// input data and is never recovered silently.
var ErrNonMonotonicSequence = errors.New("non-monotonic sequence")

// Merge combines N sequences, each individually non-decreasing under cmp,
// into one non-decreasing sequence. The merge is stable: among equal heads
// the earliest-listed sequence wins. Each input is consumed with exactly one
// element of lookahead; nothing is materialized.
//
// The emitted error is non-nil only for the final element, after which
// iteration stops.
func Merge[T any](cmp func(a, b T) int, seqs ...iter.Seq[T]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		heads := make([]T, 0, len(seqs))
		nexts := make([]func() (T, bool), 0, len(seqs))
		stops := make([]func(), 0, len(seqs))
		defer func() {
			for _, stop := range stops {
				stop()
			}
		}()

		for _, seq := range seqs {
			next, stop := iter.Pull(seq)
			stops = append(stops, stop)
			if head, ok := next(); ok {
				heads = append(heads, head)
				nexts = append(nexts, next)
			}
		}

		var last T
		emitted := false
		for len(heads) > 0 {
			min := 0
			for i := 1; i < len(heads); i++ {
				if cmp(heads[i], heads[min]) < 0 {
					min = i
				}
			}

			value := heads[min]
			if emitted && cmp(last, value) > 0 {
				var zero T
				yield(zero, fmt.Errorf("%w: %v after %v", ErrNonMonotonicSequence, value, last))
				return
			}
			if !yield(value, nil) {
				return
			}
			last, emitted = value, true

			if head, ok := nexts[min](); ok {
				heads[min] = head
			} else {
				heads = append(heads[:min], heads[min+1:]...)
				nexts = append(nexts[:min], nexts[min+1:]...)
			}
		}
	}
}
