package npm

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cenkalti/backoff/v5"

	"github.com/stacklok/npm-step-reconciler/internal/httpclient"
)

type retryClass int

const (
	permanent retryClass = iota
	retryTransport
	retryAfterLogin
)

// classify decides how the retry policy answers an attempt error.
func classify(err error) retryClass {
	switch {
	case errors.Is(err, ErrAuthenticationFailed),
		errors.Is(err, httpclient.ErrResponseTooLarge),
		errors.Is(err, context.Canceled):
		return permanent
	case errors.Is(err, ErrNotAuthenticated):
		return retryAfterLogin
	case errors.Is(err, errMalformedResponse):
		return retryTransport
	}

	var unexpected *UnexpectedResponseError
	if errors.As(err, &unexpected) {
		switch {
		case unexpected.StatusCode >= 500,
			unexpected.StatusCode == http.StatusRequestTimeout,
			unexpected.StatusCode == http.StatusTooManyRequests:
			return retryTransport
		default:
			return permanent
		}
	}

	// Timeouts, refused connections and resets.
	return retryTransport
}

// withRetry runs op under the shared attempt budget. A rejected token costs
// one attempt and triggers one login before the next attempt.
func (c *Client) withRetry(ctx context.Context, operation, endpoint string, op func(ctx context.Context) error) error {
	var (
		attempts int
		lastErr  error
		stopped  bool
	)

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++

		if err := c.ensureToken(ctx); err != nil {
			lastErr = err
			if classify(err) == permanent {
				stopped = true
				return struct{}{}, backoff.Permanent(err)
			}
			c.metrics.RecordAttempt(ctx, operation, "retry")
			return struct{}{}, err
		}

		err := op(ctx)
		if err == nil {
			c.metrics.RecordAttempt(ctx, operation, "ok")
			return struct{}{}, nil
		}
		lastErr = err

		switch classify(err) {
		case permanent:
			stopped = true
			c.metrics.RecordAttempt(ctx, operation, "error")
			return struct{}{}, backoff.Permanent(err)
		case retryAfterLogin:
			slog.Debug("Token rejected, logging in again", "endpoint", endpoint, "attempt", attempts)
			c.metrics.RecordAttempt(ctx, operation, "retry")
			if lerr := c.Login(ctx); lerr != nil {
				lastErr = lerr
				if classify(lerr) == permanent {
					stopped = true
					return struct{}{}, backoff.Permanent(lerr)
				}
				return struct{}{}, lerr
			}
			return struct{}{}, err
		default:
			slog.Debug("Proxy manager request failed, retrying",
				"endpoint", endpoint, "attempt", attempts, "error", err)
			c.metrics.RecordAttempt(ctx, operation, "retry")
			return struct{}{}, err
		}
	},
		backoff.WithMaxTries(uint(c.attempts)),
		backoff.WithBackOff(backoff.NewConstantBackOff(c.retryInterval)),
	)
	if err == nil {
		return nil
	}
	if stopped {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	slog.Warn("Proxy manager unreachable, giving up on operation",
		"endpoint", endpoint, "attempts", attempts, "error", lastErr)
	return &CommunicationError{Endpoint: endpoint, Attempts: attempts, Err: lastErr}
}
