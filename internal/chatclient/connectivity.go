package chatclient

import (
	"context"
	"net"
	"time"
)

// Connectivity reports whether the runtime currently has network access.
type Connectivity interface {
	Online(ctx context.Context) bool
}

// AlwaysOnline never short-circuits.
type AlwaysOnline struct{}

func (AlwaysOnline) Online(context.Context) bool { return true }

// DialProbe considers the host online when a TCP dial to Addr succeeds.
type DialProbe struct {
	Addr    string
	Timeout time.Duration
}

func (p DialProbe) Online(ctx context.Context) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
