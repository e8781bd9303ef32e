// Package retry provides the bounded retry policy applied around agent and
// external service calls.
package retry

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"pharmacy-agents/internal/common/errors"
	"pharmacy-agents/internal/common/logger"
)

// Policy defines bounded retry behavior for transient failures.
// A Policy is injected at each call site; it never loops implicitly.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy provides sensible defaults for agent calls.
var DefaultPolicy = Policy{
	MaxAttempts: 3,
	BaseDelay:   500 * time.Millisecond,
	MaxDelay:    5 * time.Second,
}

// Do executes fn up to MaxAttempts times with exponential backoff.
// Only retryable errors (per the errors package classification, plus
// deadline expiry) are retried; everything else is returned immediately.
func (p Policy) Do(ctx context.Context, operationName string, log logger.Logger, fn func(context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) || attempt == p.MaxAttempts {
			return err
		}

		delay := p.BaseDelay * time.Duration(1<<(attempt-1))
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}

		if log != nil {
			log.Warn("operation failed, retrying", map[string]interface{}{
				"operation":   operationName,
				"attempt":     attempt,
				"maxAttempts": p.MaxAttempts,
				"nextRetryIn": delay.String(),
				"error":       err.Error(),
			})
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("operation %s cancelled after %d attempts: %w", operationName, attempt, ctx.Err())
		}
	}

	return fmt.Errorf("operation %s failed after %d attempts: %w", operationName, p.MaxAttempts, lastErr)
}

func isRetryable(err error) bool {
	if errors.IsRetryable(err) {
		return true
	}
	return stderrors.Is(err, context.DeadlineExceeded)
}
