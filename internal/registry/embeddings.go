package registry

import (
	"context"
	"fmt"

	"dsl-ob-poc/internal/apperrors"
)

// Scorer is a blocking, synchronous verb-discovery embedding model:
// one call, one vector, serving one request at a time. Any real
// implementation wraps a CPU- or GPU-bound model; this repository
// pulls in no embedding SDK (that remains out of scope), but still
// needs the async-bridging shape a production embedding integration
// would: expose an async surface with a worker pool, callers await on
// a bounded channel, and the pool owns the blocking model and serves
// one request at a time.
type Scorer interface {
	Embed(text string) ([]float32, error)
}

type embedRequest struct {
	text  string
	reply chan embedReply
}

type embedReply struct {
	vector []float32
	err    error
}

// EmbeddingPool bridges a blocking Scorer behind a bounded channel so
// callers can await asynchronously while the pool serializes access
// to the single underlying model.
type EmbeddingPool struct {
	requests chan embedRequest
	done     chan struct{}
}

// NewEmbeddingPool starts the worker goroutine that owns scorer and
// serves requests one at a time from a channel of the given capacity.
func NewEmbeddingPool(scorer Scorer, capacity int) *EmbeddingPool {
	p := &EmbeddingPool{
		requests: make(chan embedRequest, capacity),
		done:     make(chan struct{}),
	}
	go p.run(scorer)
	return p
}

func (p *EmbeddingPool) run(scorer Scorer) {
	for {
		select {
		case <-p.done:
			return
		case req := <-p.requests:
			vec, err := scorer.Embed(req.text)
			req.reply <- embedReply{vector: vec, err: err}
		}
	}
}

// Embed submits text to the pool and awaits the result, or ctx's
// cancellation, or the bounded channel being full (reported as a
// retryable Internal error rather than blocking indefinitely).
func (p *EmbeddingPool) Embed(ctx context.Context, text string) ([]float32, error) {
	reply := make(chan embedReply, 1)
	select {
	case p.requests <- embedRequest{text: text, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		return nil, apperrors.New(apperrors.KindInternal, "embedding pool request queue is full")
	}

	select {
	case r := <-reply:
		if r.err != nil {
			return nil, fmt.Errorf("embedding request failed: %w", r.err)
		}
		return r.vector, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the worker goroutine.
func (p *EmbeddingPool) Close() {
	close(p.done)
}
