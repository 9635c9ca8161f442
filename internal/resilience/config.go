package resilience

import (
	"time"

	"github.com/sells-group/goldrate-cli/internal/config"
)

// PolicyFromConfig builds a RetryPolicy from the retry config section.
// Zero values fall back to DefaultRetryPolicy.
func PolicyFromConfig(c config.RetryConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	if c.MaxAttempts > 0 {
		p.MaxAttempts = c.MaxAttempts
	}
	if c.InitialBackoff > 0 {
		p.InitialBackoff = time.Duration(c.InitialBackoff) * time.Millisecond
	}
	if c.MaxBackoff > 0 {
		p.MaxBackoff = time.Duration(c.MaxBackoff) * time.Millisecond
	}
	if c.Multiplier > 0 {
		p.Multiplier = c.Multiplier
	}
	if c.JitterFraction >= 0 {
		p.JitterFraction = c.JitterFraction
	}
	return p
}

// BreakerFromConfig builds breaker settings from the circuit config section.
func BreakerFromConfig(c config.CircuitConfig) BreakerConfig {
	b := DefaultBreakerConfig()
	if c.FailureThreshold > 0 {
		b.FailureThreshold = c.FailureThreshold
	}
	if c.ResetTimeoutSecs > 0 {
		b.ResetTimeout = time.Duration(c.ResetTimeoutSecs) * time.Second
	}
	return b
}
