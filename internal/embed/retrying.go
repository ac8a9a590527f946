package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	nexuserrors "github.com/Aman-CERP/nexus/internal/errors"
)

// RetryingEmbedder retries failed batches with exponential backoff and
// fails fast through a circuit breaker once the backend keeps failing.
// A batch that still fails is reported as ERR_502_EMBEDDING_FAILED.
type RetryingEmbedder struct {
	inner   Embedder
	retry   nexuserrors.RetryConfig
	breaker *nexuserrors.CircuitBreaker
}

var _ Embedder = (*RetryingEmbedder)(nil)

// RetryOption configures a RetryingEmbedder.
type RetryOption func(*RetryingEmbedder)

// WithRetryConfig replaces the backoff policy.
func WithRetryConfig(cfg nexuserrors.RetryConfig) RetryOption {
	return func(r *RetryingEmbedder) {
		r.retry = cfg
	}
}

// WithBreaker replaces the circuit breaker.
func WithBreaker(cb *nexuserrors.CircuitBreaker) RetryOption {
	return func(r *RetryingEmbedder) {
		r.breaker = cb
	}
}

// NewRetryingEmbedder wraps inner with maxRetries retries per batch.
func NewRetryingEmbedder(inner Embedder, maxRetries int, opts ...RetryOption) *RetryingEmbedder {
	cfg := nexuserrors.DefaultRetryConfig()
	if maxRetries >= 0 {
		cfg.MaxRetries = maxRetries
	}
	r := &RetryingEmbedder{
		inner: inner,
		retry: cfg,
		breaker: nexuserrors.NewCircuitBreaker("embedder",
			nexuserrors.WithMaxFailures(5),
			nexuserrors.WithResetTimeout(30*time.Second)),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.retry.OnRetry == nil {
		r.retry.OnRetry = func(attempt int, err error) {
			slog.Warn("embed_retry",
				slog.String("model", inner.ModelName()),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
		}
	}
	return r
}

// Embed generates an embedding for a single text.
func (r *RetryingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := nexuserrors.RetryWithResult(ctx, r.retry, func() ([]float32, error) {
		return nexuserrors.CircuitExecute(r.breaker, func() ([]float32, error) {
			return r.inner.Embed(ctx, text)
		})
	})
	if err != nil {
		return nil, r.failure(err, 1)
	}
	return vec, nil
}

// EmbedBatch embeds texts as one unit; the batch is retried whole.
func (r *RetryingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	vecs, err := nexuserrors.RetryWithResult(ctx, r.retry, func() ([][]float32, error) {
		return nexuserrors.CircuitExecute(r.breaker, func() ([][]float32, error) {
			return r.inner.EmbedBatch(ctx, texts)
		})
	})
	if err != nil {
		return nil, r.failure(err, len(texts))
	}
	return vecs, nil
}

// failure converts the final error. Cancellation passes through untouched
// so callers can tell a stopped run from a failed backend.
func (r *RetryingEmbedder) failure(err error, n int) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if nexuserrors.GetCode(err) == nexuserrors.ErrCodeEmbeddingFailed {
		return err
	}
	return nexuserrors.EmbeddingError(
		fmt.Sprintf("embed %d text(s) with %s: %v", n, r.inner.ModelName(), err), err)
}

// Dimensions returns the inner embedder's width.
func (r *RetryingEmbedder) Dimensions() int {
	return r.inner.Dimensions()
}

// ModelName returns the inner model name.
func (r *RetryingEmbedder) ModelName() string {
	return r.inner.ModelName()
}

// Available reports false while the breaker is open.
func (r *RetryingEmbedder) Available(ctx context.Context) bool {
	if r.breaker.State() == nexuserrors.StateOpen {
		return false
	}
	return r.inner.Available(ctx)
}

// Close closes the inner embedder.
func (r *RetryingEmbedder) Close() error {
	return r.inner.Close()
}
