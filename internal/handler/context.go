package handler

import (
	"context"
	"time"
)

// newProbeContext derives a bounded context for an outbound provider probe
// from the request's context.
func newProbeContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 4 * time.Second
	}
	return context.WithTimeout(parent, timeout)
}
