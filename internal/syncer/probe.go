package syncer

import (
	"context"
	"net"
	"time"
)

const (
	DefaultProbeAddr    = "8.8.8.8:53"
	DefaultProbeTimeout = 3 * time.Second
)

// Prober reports whether the relay can reach the internet right now.
type Prober interface {
	Probe(ctx context.Context) error
}

// DialProber opens and immediately closes a TCP connection to Addr.
type DialProber struct {
	Addr    string
	Timeout time.Duration
}

func (p DialProber) Probe(ctx context.Context) error {
	addr, timeout := p.Addr, p.Timeout
	if addr == "" {
		addr = DefaultProbeAddr
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}
