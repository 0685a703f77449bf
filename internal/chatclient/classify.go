package chatclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

var (
	// ErrOffline is returned without any network attempt when the
	// connectivity check fails.
	ErrOffline = errors.New("no network connectivity")
	// ErrNoEndpoints means the dispatcher has nothing to try.
	ErrNoEndpoints = errors.New("no endpoints configured")
	// ErrBadPayload marks a 2xx response that could not be used.
	ErrBadPayload = errors.New("unusable response payload")
)

// StatusError is a non-2xx answer from an endpoint.
type StatusError struct {
	Endpoint string
	Status   int
	Code     string
	Message  string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %d %s", e.Endpoint, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %d %s", e.Endpoint, e.Status, http.StatusText(e.Status))
}

// Class tells the dispatcher what to do after a failed attempt.
type Class int

const (
	// Retry the same endpoint after the delay.
	Retry Class = iota
	// Next moves on to the following endpoint.
	Next
	// Terminal stops the whole send.
	Terminal
)

func (c Class) String() string {
	switch c {
	case Retry:
		return "retry"
	case Next:
		return "next"
	default:
		return "terminal"
	}
}

// Classify maps an attempt error onto a Class. ctx is the send's context;
// its cancellation is terminal while a per-attempt deadline is not.
func Classify(ctx context.Context, err error) Class {
	if err == nil {
		return Terminal
	}
	if ctx.Err() != nil {
		return Terminal
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.Status == http.StatusTooManyRequests, se.Status == http.StatusBadRequest,
			se.Status == http.StatusRequestEntityTooLarge:
			return Terminal
		default:
			// 408, 5xx and endpoints that are not deployed here (404/405).
			return Next
		}
	}
	if errors.Is(err, ErrBadPayload) {
		return Next
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Next
	}
	if isTransient(err) {
		return Retry
	}
	return Next
}

func isTransient(err error) bool {
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return !opErr.Timeout()
	}
	return false
}
