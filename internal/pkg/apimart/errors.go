package apimart

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"syscall"
)

var (
	// ErrUnavailable covers transport failures: no response was received.
	ErrUnavailable = errors.New("apimart unavailable")

	// ErrRejected covers responses that arrived but cannot be used.
	ErrRejected = errors.New("apimart rejected request")

	ErrMissingTaskID   = fmt.Errorf("%w: response has no task_id", ErrRejected)
	ErrInvalidResponse = fmt.Errorf("%w: invalid response body", ErrRejected)
)

// HTTPError is a non-2xx answer. It matches ErrRejected.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("apimart http error: status=%d body=%s", e.StatusCode, e.Body)
}

func (e *HTTPError) Is(target error) bool {
	return target == ErrRejected
}

func classifyRequestError(ctx context.Context, err error) error {
	if isTimeoutError(ctx, err) {
		return fmt.Errorf("%w: timeout: %v", ErrUnavailable, err)
	}
	if isNetworkError(err) {
		return fmt.Errorf("%w: network error: %v", ErrUnavailable, err)
	}
	return fmt.Errorf("%w: request error: %v", ErrUnavailable, err)
}

func isTimeoutError(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH)
}
