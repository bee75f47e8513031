// Package retry wraps a single Adapter call with bounded exponential backoff.
package retry

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

const (
	// MaxAttempts is the initial attempt plus three retries.
	MaxAttempts = 4
	baseDelay   = time.Second
)

var (
	retryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bench",
		Subsystem: "retry",
		Name:      "attempts_total",
		Help:      "Number of adapter call attempts made, including retries",
	}, []string{"model"})

	retryExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bench",
		Subsystem: "retry",
		Name:      "exhausted_total",
		Help:      "Number of adapter calls that failed after all retries",
	}, []string{"model"})
)

// nonRetriableStatuses are substrings that, if present in an error's
// message, classify the failure as non-retriable — it is raised immediately.
var nonRetriableStatuses = []string{"401", "403", "404"}

// IsNonRetriable reports whether err's message carries one of the
// non-retriable HTTP status codes.
func IsNonRetriable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, status := range nonRetriableStatuses {
		if strings.Contains(msg, status) {
			return true
		}
	}
	return false
}

// Do invokes fn up to MaxAttempts times with delays 1s, 2s, 4s between
// attempts, doubling each time. It stops immediately on a non-retriable
// error or when ctx is cancelled (including during a backoff sleep), and
// reports the last failure otherwise.
func Do(ctx context.Context, logger zerolog.Logger, modelLabel string, fn func(ctx context.Context) (string, error)) (string, error) {
	var lastErr error
	delay := baseDelay

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		retryAttempts.WithLabelValues(modelLabel).Inc()

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		if IsNonRetriable(err) {
			logger.Warn().Err(err).Str("model", modelLabel).Int("attempt", attempt).Msg("adapter call failed with non-retriable status")
			return "", err
		}

		if attempt == MaxAttempts {
			break
		}

		logger.Warn().Err(err).Str("model", modelLabel).Int("attempt", attempt).Dur("delay", delay).Msg("retrying adapter call")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}

		delay *= 2
	}

	retryExhausted.WithLabelValues(modelLabel).Inc()
	return "", lastErr
}
