// Package remote classifies failures from the hosted model services and
// retries the ones worth retrying.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/backoff/v2"
	openai "github.com/sashabaranov/go-openai"
)

// StatusError is a non-2xx answer from a model service.
type StatusError struct {
	Service    string
	StatusCode int
	Message    string

	err error
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s returned status %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Service, e.StatusCode, e.Message)
}

func (e *StatusError) Unwrap() error { return e.err }

// Transient reports whether the same request may succeed later: rate limits
// and server-side failures.
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retryable reports whether a failed call should be attempted again. Status
// errors retry only when transient; caller cancellation and permanent errors
// never retry; anything else is treated as a network failure.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	var status *StatusError
	if errors.As(err, &status) {
		return status.Transient()
	}
	return true
}

// FromResponse turns a failed HTTP response into a StatusError. The body is
// read but not closed.
func FromResponse(service string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	msg := strings.TrimSpace(string(data))

	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return &StatusError{Service: service, StatusCode: resp.StatusCode, Message: msg}
}

// FromOpenAI lifts the HTTP status out of go-openai errors so they can be
// classified. Errors without a status are returned unchanged.
func FromOpenAI(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return &StatusError{Service: "openai", StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message, err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return &StatusError{Service: "openai", StatusCode: reqErr.HTTPStatusCode, Message: strings.TrimSpace(string(reqErr.Body)), err: err}
	}
	return err
}

type Policy struct {
	MaxRetries  int
	MinInterval time.Duration
	MaxInterval time.Duration
}

// Retrier runs calls under an exponential backoff policy with jitter.
type Retrier struct {
	policy backoff.Policy
}

func NewRetrier(p Policy) *Retrier {
	if p.MinInterval <= 0 {
		p.MinInterval = 500 * time.Millisecond
	}
	if p.MaxInterval < p.MinInterval {
		p.MaxInterval = p.MinInterval
	}

	return &Retrier{
		policy: backoff.Exponential(
			backoff.WithMinInterval(p.MinInterval),
			backoff.WithMaxInterval(p.MaxInterval),
			backoff.WithJitterFactor(0.1),
			backoff.WithMaxRetries(p.MaxRetries),
		),
	}
}

// Do calls fn until it succeeds, returns an error Retryable rejects, or the
// retry budget or ctx runs out. The last error is returned.
func Do[T any](ctx context.Context, r *Retrier, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	b := r.policy.Start(ctx)

	var lastErr error
	for backoff.Continue(b) {
		value, err := fn(ctx)
		if err == nil {
			return value, nil
		}
		lastErr = err
		if !Retryable(err) {
			return zero, err
		}
	}

	if lastErr == nil {
		lastErr = ctx.Err()
	}
	if lastErr == nil {
		lastErr = errors.New("retry budget exhausted")
	}
	return zero, lastErr
}
