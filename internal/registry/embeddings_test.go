package registry

import (
	"context"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hashScorer is a deterministic placeholder embedder, the same shape
// the registry's verb-discovery layer falls back to without a live
// model: a hash of the input text spread across a fixed-width vector.
type hashScorer struct {
	calls int
}

func (h *hashScorer) Embed(text string) ([]float32, error) {
	h.calls++
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, 8)
	for i := range vec {
		vec[i] = float32(sum[i]) / 255.0
	}
	return vec, nil
}

func TestEmbeddingPool_SerializesRequestsThroughOneScorer(t *testing.T) {
	scorer := &hashScorer{}
	pool := NewEmbeddingPool(scorer, 4)
	defer pool.Close()

	ctx := context.Background()
	v1, err := pool.Embed(ctx, "cbu.create")
	require.NoError(t, err)
	v2, err := pool.Embed(ctx, "cbu.create")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, 2, scorer.calls)
}

func TestEmbeddingPool_RespectsContextCancellation(t *testing.T) {
	scorer := &hashScorer{}
	pool := NewEmbeddingPool(scorer, 4)
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	_, err := pool.Embed(ctx, "anything")
	require.Error(t, err)
}
