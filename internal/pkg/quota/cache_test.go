package quota

import (
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunkStream(chunks ...Chunk) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		for _, c := range chunks {
			if !yield(c, nil) {
				return
			}
		}
	}
}

func applyAll(t *testing.T, c *Cache, fresh iter.Seq2[Chunk, error]) ([]Chunk, error) {
	t.Helper()
	var out []Chunk
	for chunk, err := range c.Apply(fresh) {
		if err != nil {
			return out, err
		}
		out = append(out, chunk)
	}
	return out, nil
}

func TestCacheApplyPreservesRemains(t *testing.T) {
	window := Chunk{ResourceID: 1, Start: day(0), End: day(7), Amount: 100, Remains: 100}
	spent := window
	spent.Remains = 40

	cache := &Cache{At: day(2), Chunks: []Chunk{spent}}
	got, err := applyAll(t, cache, chunkStream(window))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(40), got[0].Remains, "cached consumption must survive regeneration")
}

func TestCacheApplyPassesUnknownChunksThrough(t *testing.T) {
	known := Chunk{ResourceID: 1, Start: day(0), End: day(7), Amount: 100, Remains: 100}
	fresh := Chunk{ResourceID: 1, Start: day(5), End: day(10), Amount: 100, Remains: 100}

	spent := known
	spent.Remains = 10
	cache := &Cache{At: day(2), Chunks: []Chunk{spent}}

	got, err := applyAll(t, cache, chunkStream(known, fresh))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(10), got[0].Remains)
	assert.Equal(t, int64(100), got[1].Remains, "new window enters with full balance")
}

func TestCacheApplyMatchesByStructuralIdentity(t *testing.T) {
	// Same window, but the amount changed (plan was edited): no match.
	cached := Chunk{ResourceID: 1, Start: day(0), End: day(7), Amount: 100, Remains: 20}
	fresh := Chunk{ResourceID: 1, Start: day(0), End: day(7), Amount: 200, Remains: 200}

	cache := &Cache{At: day(2), Chunks: []Chunk{cached}}
	_, err := applyAll(t, cache, chunkStream(fresh))
	assert.ErrorIs(t, err, ErrInconsistentQuotaCache, "orphaned cached chunk means the definitions changed")
}

func TestCacheApplyEmptyCacheIsIdentity(t *testing.T) {
	chunks := []Chunk{
		{ResourceID: 1, Start: day(0), End: day(7), Amount: 100, Remains: 100},
		{ResourceID: 2, Start: day(1), End: day(4), Amount: 50, Remains: 50},
	}

	cache := &Cache{At: day(0)}
	got, err := applyAll(t, cache, chunkStream(chunks...))
	require.NoError(t, err)
	assert.Equal(t, chunks, got)
}

func TestCacheApplyNormalizesTimezones(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	cached := Chunk{ResourceID: 1, Start: day(0).In(loc), End: day(7).In(loc), Amount: 100, Remains: 5}
	fresh := Chunk{ResourceID: 1, Start: day(0), End: day(7), Amount: 100, Remains: 100}

	cache := &Cache{At: day(1), Chunks: []Chunk{cached}}
	got, err := applyAll(t, cache, chunkStream(fresh))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(5), got[0].Remains, "same instant in another zone is the same window")
}
