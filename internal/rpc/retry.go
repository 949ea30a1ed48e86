package rpc

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/goran-ethernal/ChainProjector/internal/retry"
	"github.com/goran-ethernal/ChainProjector/pkg/config"
)

// transientMarkers are lowercase fragments of provider and transport messages that clear on retry.
var transientMarkers = []string{
	"timeout", "deadline exceeded",
	"429", "too many requests", "rate limit",
	"502", "503", "504", "bad gateway", "service unavailable", "gateway timeout",
	"connection pool", "no available connection",
}

// retryableError reports whether a node call failed for a transport reason.
// Execution and decoding errors are never retried.
func retryableError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	switch {
	case errors.As(err, &netErr),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE):
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// retryWithBackoff runs a node call under the shared backoff loop and counts retries per operation.
func retryWithBackoff(ctx context.Context, cfg *config.RetryConfig, operation string, fn func() error) error {
	return retry.Do(ctx, cfg, retry.Policy{
		Retryable: retryableError,
		OnRetry: func(int, error) {
			rpcRetries.WithLabelValues(operation).Inc()
		},
	}, fn)
}
