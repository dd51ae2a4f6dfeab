package discovery

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lucaslui/resilientroute/internal/model"
)

func freeUDPPort(t *testing.T) int {
	t.Helper()
	l, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer l.Close()
	return l.LocalAddr().(*net.UDPAddr).Port
}


func TestScanFindsBroadcaster(t *testing.T) {
	port := freeUDPPort(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := &Broadcaster{
		Target:      "127.0.0.1",
		Port:        port,
		Interval:    20 * time.Millisecond,
		AdvertiseIP: "10.1.2.3",
		Adverts:     []Advert{{Role: model.RoleIngest, Port: 6008}, {Role: model.RoleQuery, Port: 6009}},
		Logger:      zap.NewNop(),
	}
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	got, ok := Scan(context.Background(), port, model.RoleQuery, 2*time.Second)
	if !ok {
		t.Fatal("Scan: no beacon found")
	}
	want := model.Beacon{Role: model.RoleQuery, IP: "10.1.2.3", Port: 6009}
	if got != want {
		t.Fatalf("Scan = %+v, want %+v", got, want)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("broadcaster did not stop")
	}
}

func TestScanTimesOutWithoutBeacon(t *testing.T) {
	port := freeUDPPort(t)
	const timeout = 200 * time.Millisecond

	start := time.Now()
	_, ok := Scan(context.Background(), port, model.RoleIngest, timeout)
	elapsed := time.Since(start)
	if ok {
		t.Fatal("Scan found a beacon on a silent port")
	}
	if elapsed < timeout-10*time.Millisecond || elapsed > timeout+time.Second {
		t.Fatalf("Scan returned after %s, want about %s", elapsed, timeout)
	}
}

func TestScanIgnoresNoise(t *testing.T) {
	port := freeUDPPort(t)
	conn, err := net.Dial("udp4", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				for _, p := range []string{
					"not json",
					`{"role":"query","ip":"10.0.0.1","port":6009}`,
					`{"role":"ingest","ip":"","port":6008}`,
				} {
					conn.Write([]byte(p))
				}
			}
		}
	}()

	if b, ok := Scan(context.Background(), port, model.RoleIngest, 300*time.Millisecond); ok {
		t.Fatalf("Scan accepted %+v", b)
	}
}

func TestScanBindFailureReturnsImmediately(t *testing.T) {
	// A socket without SO_REUSEPORT holds the port exclusively.
	held, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		t.Fatal(err)
	}
	defer held.Close()
	port := held.LocalAddr().(*net.UDPAddr).Port

	start := time.Now()
	if _, ok := Scan(context.Background(), port, model.RoleIngest, 5*time.Second); ok {
		t.Fatal("Scan found a beacon")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("Scan waited %s on an unbindable port", time.Since(start))
	}
}

func TestScanHonoursCancel(t *testing.T) {
	port := freeUDPPort(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	if _, ok := Scan(ctx, port, model.RoleIngest, 5*time.Second); ok {
		t.Fatal("Scan found a beacon")
	}
	if time.Since(start) > time.Second {
		t.Fatal("Scan ignored cancellation")
	}
}
