package discovery

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"time"

	"github.com/lucaslui/resilientroute/internal/model"
)

const DefaultScanTimeout = 3 * time.Second

const maxDatagram = 1024

// Scan listens on the discovery port for up to timeout and returns the first
// beacon advertising role. Malformed and non-matching datagrams are ignored.
// If the port cannot be bound it reports not found without waiting.
func Scan(ctx context.Context, port int, role model.Role, timeout time.Duration) (model.Beacon, bool) {
	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	lc := net.ListenConfig{Control: reuseControl}
	conn, err := lc.ListenPacket(ctx, "udp4", ":"+strconv.Itoa(port))
	if err != nil {
		return model.Beacon{}, false
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.SetReadDeadline(time.Now()) })
	defer stop()

	if err := conn.SetReadDeadline(deadline); err != nil {
		return model.Beacon{}, false
	}

	buf := make([]byte, maxDatagram)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			return model.Beacon{}, false
		}
		var b model.Beacon
		if json.Unmarshal(buf[:n], &b) != nil {
			continue
		}
		if b.Role != role || b.IP == "" || b.Port <= 0 {
			continue
		}
		return b, true
	}
}
