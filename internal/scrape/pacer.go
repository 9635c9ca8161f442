package scrape

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer enforces a minimum gap between page requests. The gap is a hard
// floor: with a burst of one, the n-th Wait returns no earlier than
// (n-1)*every after the first.
type Pacer struct {
	lim *rate.Limiter
}

// NewPacer returns a pacer allowing one request per every. A non-positive
// interval disables pacing.
func NewPacer(every time.Duration) *Pacer {
	if every <= 0 {
		return &Pacer{lim: rate.NewLimiter(rate.Inf, 1)}
	}
	return &Pacer{lim: rate.NewLimiter(rate.Every(every), 1)}
}

// Wait blocks until the next request may be issued or ctx is done.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.lim.Wait(ctx)
}
