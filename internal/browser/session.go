package browser

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Session is one target's exclusive browser tab. Callers must Release it,
// normally with defer right after Acquire.
type Session struct {
	page      Page
	warmupMin time.Duration
	warmupMax time.Duration
	release   func() error

	once       sync.Once
	releaseErr error
}

// NewSession wraps a page. release tears down whatever backs the page and
// runs at most once.
func NewSession(page Page, warmupMin, warmupMax time.Duration, release func() error) *Session {
	if warmupMax < warmupMin {
		warmupMax = warmupMin
	}
	return &Session{
		page:      page,
		warmupMin: warmupMin,
		warmupMax: warmupMax,
		release:   release,
	}
}

// Page returns the underlying tab.
func (s *Session) Page() Page { return s.page }

// Open navigates to url and then waits out a randomized warm-up so that
// script-populated fields are filled before anything is read.
func (s *Session) Open(ctx context.Context, url string) error {
	if err := s.page.Navigate(ctx, url); err != nil {
		return err
	}

	wait := s.warmup()
	zap.L().Debug("browser: warm-up", zap.String("url", url), zap.Duration("wait", wait))

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "browser: warm-up interrupted")
	case <-timer.C:
		return nil
	}
}

func (s *Session) warmup() time.Duration {
	spread := s.warmupMax - s.warmupMin
	if spread <= 0 {
		return s.warmupMin
	}
	return s.warmupMin + rand.N(spread+1)
}

// Release closes the tab and its browser context. Safe to call repeatedly.
func (s *Session) Release() error {
	s.once.Do(func() {
		if s.release != nil {
			s.releaseErr = s.release()
		}
	})
	return s.releaseErr
}
