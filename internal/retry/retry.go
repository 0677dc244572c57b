// Package retry provides the bounded exponential backoff used by the
// event poller and executor (spec §4.2, §4.4), grounded on
// zkCaleb-dev-Indexer's internal/ledger/retry package: a Strategy
// interface, an Operation func type, and a classifier that decides
// whether an error is worth retrying at all.
package retry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Operation is a function that can be retried.
type Operation func() error

// Policy configures bounded exponential backoff.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultPolicy mirrors the "default 3, exponential backoff" of spec §4.4.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, InitialDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}
}

// Do executes operation, retrying on recoverable errors with exponential
// backoff up to p.MaxRetries additional attempts. Only network/5xx-shaped
// errors are retried; anything else (including context cancellation) is
// returned immediately, matching spec §4.4's "only network/5xx retried"
// rule and §7's "protocol-level fatal errors" rule.
func Do(ctx context.Context, p Policy, operation Operation) error {
	var lastErr error
	delay := p.InitialDelay

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRecoverable(err) {
			return err
		}

		if attempt >= p.MaxRetries {
			break
		}

		log.Warn().Err(err).Int("attempt", attempt+1).Int("max_attempts", p.MaxRetries+1).
			Dur("retry_in", delay).Msg("operation failed, retrying with backoff")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
			delay *= 2
			if delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", p.MaxRetries+1, lastErr)
}

// IsRecoverable classifies transient transport errors as retryable,
// following spec §7's transient-vs-fatal taxonomy.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	patterns := []string{
		"connection reset",
		"connection refused",
		"timeout",
		"temporary failure",
		"network is unreachable",
		"broken pipe",
		"i/o timeout",
		"eof",
		"tls handshake timeout",
		"no such host",
		"connection timed out",
		"dial tcp",
		"status code is 5",
		"status code is 429",
		"context deadline exceeded",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
