package embedding

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"
)

// ErrNoTimeLeft marks a call refused because waiting for the limiter would outlast the
// caller's deadline. The context itself has not expired yet.
var ErrNoTimeLeft = errors.New("no time left for embedding call")

// RateLimited throttles calls to the wrapped embedder and bounds each call with a timeout.
type RateLimited struct {
	next    Embedder
	limiter *rate.Limiter
	timeout time.Duration
}

// NewRateLimited wraps next. perSec <= 0 disables throttling.
func NewRateLimited(next Embedder, perSec float64, burst int, timeout time.Duration) *RateLimited {
	limit := rate.Inf
	if perSec > 0 {
		limit = rate.Limit(perSec)
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(limit, burst), timeout: timeout}
}

func (r *RateLimited) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		if ctx.Err() == nil {
			// Wait refuses up front when the next token comes after the deadline
			return nil, errors.Mark(errors.Wrap(err, "wait for embedding rate limit"), ErrNoTimeLeft)
		}
		return nil, errors.Wrap(err, "wait for embedding rate limit")
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	return r.next.Embed(ctx, texts)
}
