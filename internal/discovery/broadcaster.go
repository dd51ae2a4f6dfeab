// Package discovery implements the UDP beacon a relay broadcasts for each role
// it serves, and the scanner clients use to find one.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/lucaslui/resilientroute/internal/model"
)

const (
	DefaultPort     = 5005
	DefaultInterval = 2 * time.Second
	ErrorBackoff    = 5 * time.Second

	outboundProbe = "8.8.8.8:80"
)

// Advert is one role the relay announces and the TCP port serving it.
type Advert struct {
	Role model.Role
	Port int
}

type Broadcaster struct {
	// Target is the destination host, usually the limited broadcast address.
	Target string
	Port   int

	Interval     time.Duration
	ErrorBackoff time.Duration

	// AdvertiseIP overrides the detected outbound address when set.
	AdvertiseIP string
	Adverts     []Advert

	Logger *zap.Logger
}

// Run sends one datagram per advert every Interval until ctx is done. Send
// errors are logged and followed by a longer pause; they never end the loop.
func (b *Broadcaster) Run(ctx context.Context) error {
	logger := b.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := b.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	backoff := b.ErrorBackoff
	if backoff <= 0 {
		backoff = ErrorBackoff
	}

	lc := net.ListenConfig{Control: broadcastControl}
	conn, err := lc.ListenPacket(ctx, "udp4", ":0")
	if err != nil {
		return fmt.Errorf("discovery: open beacon socket: %w", err)
	}
	defer conn.Close()

	dst, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(b.Target, strconv.Itoa(b.Port)))
	if err != nil {
		return fmt.Errorf("discovery: resolve %s: %w", b.Target, err)
	}

	logger.Info("[beacon] broadcasting",
		zap.String("target", dst.String()),
		zap.Int("roles", len(b.Adverts)),
		zap.Duration("interval", interval))

	for {
		wait := interval
		if err := b.send(conn, dst); err != nil {
			logger.Debug("[beacon] send failed", zap.Error(err))
			wait = backoff
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (b *Broadcaster) send(conn net.PacketConn, dst net.Addr) error {
	ip := b.AdvertiseIP
	if ip == "" {
		ip = OutboundIP()
	}
	for _, a := range b.Adverts {
		payload, err := json.Marshal(model.Beacon{Role: a.Role, IP: ip, Port: a.Port})
		if err != nil {
			return err
		}
		if _, err := conn.WriteTo(payload, dst); err != nil {
			return fmt.Errorf("send %s beacon: %w", a.Role, err)
		}
	}
	return nil
}

// OutboundIP is the local address the kernel would route internet traffic
// from. No packet is sent; 127.0.0.1 is returned when there is no route.
func OutboundIP() string {
	conn, err := net.Dial("udp4", outboundProbe)
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok && addr.IP != nil {
		return addr.IP.String()
	}
	return "127.0.0.1"
}
