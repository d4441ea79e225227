// Package backoff wraps a single RPC operation with exponential-backoff
// retries. The default retryability predicate is a broad transient-error
// classifier tuned for JSON-RPC providers.
package backoff

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
)

// Config controls a Retry call. Zero-value fields take defaults: 1s initial
// delay, 30s max delay, unbounded retries, IsTransient as the predicate.
type Config struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// MaxRetries bounds retry attempts. Negative or zero means unbounded.
	MaxRetries int
	// Retryable decides whether a failure is worth retrying.
	Retryable func(error) bool
	// OnRetry is invoked before each sleep, for logging.
	OnRetry func(attempt int, delay time.Duration, err error)
}

func (c Config) withDefaults() Config {
	if c.InitialDelay <= 0 {
		c.InitialDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Retryable == nil {
		c.Retryable = IsTransient
	}
	return c
}

// Retry runs op until it succeeds, fails non-retryably, exhausts MaxRetries,
// or ctx is done. The delay doubles after each failure, capped at MaxDelay.
func Retry[T any](ctx context.Context, cfg Config, op func(context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()
	delay := cfg.InitialDelay

	for attempt := 1; ; attempt++ {
		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		if !cfg.Retryable(err) {
			return out, err
		}
		if cfg.MaxRetries > 0 && attempt > cfg.MaxRetries {
			return out, err
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, delay, err)
		}
		if err := sleep(ctx, delay); err != nil {
			var zero T
			return zero, err
		}
		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// transientCodes are JSON-RPC error codes providers return for load shedding
// and internal hiccups.
var transientCodes = map[int]bool{
	-32000: true,
	-32005: true,
	-32603: true,
}

var transientSubstrings = []string{
	"timeout",
	"timed out",
	"429",
	"rate limit",
	"network error",
	"missing response",
	"temporarily unavailable",
	"socket hang up",
	"gateway timeout",
	"econnreset",
	"etimedout",
	"enotfound",
	"server error",
	"connection reset",
	"connection refused",
}

// IsTransient reports whether err looks like a transient RPC failure worth
// retrying. It inspects JSON-RPC error codes, network error types, syscall
// errnos, and a substring list, recursing into the wrapped cause once.
func IsTransient(err error) bool {
	return isTransient(err, 1)
}

func isTransient(err error, depth int) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && transientCodes[rpcErr.ErrorCode()] {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, sub := range transientSubstrings {
		if strings.Contains(msg, sub) {
			return true
		}
	}

	if depth > 0 {
		if cause := errors.Unwrap(err); cause != nil {
			return isTransient(cause, depth-1)
		}
	}
	return false
}
