package chatclient

import (
	"context"
	"time"
)

// StatusSink observes a send while it is backing off. Clear is called once
// the send reaches an outcome.
type StatusSink interface {
	Retrying(endpoint string, attempt int, delay time.Duration)
	Clear()
}

type statusSinkKey struct{}

// WithStatusSink attaches sink to ctx for the dispatcher to report to.
func WithStatusSink(ctx context.Context, sink StatusSink) context.Context {
	return context.WithValue(ctx, statusSinkKey{}, sink)
}

func statusSinkFrom(ctx context.Context) StatusSink {
	if s, ok := ctx.Value(statusSinkKey{}).(StatusSink); ok && s != nil {
		return s
	}
	return nopSink{}
}

type nopSink struct{}

func (nopSink) Retrying(string, int, time.Duration) {}
func (nopSink) Clear()                              {}
