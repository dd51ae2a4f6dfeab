package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lucaslui/resilientroute/internal/inbox"
	"github.com/lucaslui/resilientroute/internal/model"
	"github.com/lucaslui/resilientroute/internal/queue"
)

const validReport = `{"id":"Survivor-01","type":"sos","location":[-23.5,-46.6],"timestamp":1700000000.25,"secure_content":"gAAAAB"}`

func startIngest(t *testing.T) (string, *queue.Queue, *IngestServer) {
	t.Helper()
	q, err := queue.Open(filepath.Join(t.TempDir(), "queue.jsonl"), nil)
	if err != nil {
		t.Fatal(err)
	}
	srv, err := NewIngestServer(q, IngestOptions{IdleTimeout: 300 * time.Millisecond, MaxFrameBytes: 4096, MaxConns: 4}, nil)
	if err != nil {
		t.Fatal(err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ln.Addr().String(), q, srv
}

func startQuery(t *testing.T, orders ...model.Order) string {
	t.Helper()
	ib, err := inbox.Open(filepath.Join(t.TempDir(), "inbox.msgpack"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if orders != nil {
		if err := ib.Replace(orders); err != nil {
			t.Fatal(err)
		}
	}
	srv := NewQueryServer(ib, QueryOptions{Timeout: time.Second}, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ln.Addr().String()
}

// exchange writes payload, half-closes when asked, and returns everything the
// server sent before closing. A reset from a server that hung up on unread
// input counts as an empty reply.
func exchange(t *testing.T, addr, payload string, closeWrite bool) string {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(3 * time.Second))
	if _, err := io.WriteString(conn, payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	if closeWrite {
		conn.(*net.TCPConn).CloseWrite()
	}
	reply, _ := io.ReadAll(conn)
	return string(reply)
}

func queued(t *testing.T, q *queue.Queue) []model.Report {
	t.Helper()
	snap, err := q.DrainSnapshot()
	if err != nil {
		t.Fatal(err)
	}
	return snap
}

func TestIngestAcksAndQueues(t *testing.T) {
	addr, q, srv := startIngest(t)

	if got := exchange(t, addr, validReport+"\n", false); got != Ack {
		t.Fatalf("reply = %q, want %q", got, Ack)
	}
	snap := queued(t, q)
	if len(snap) != 1 || snap[0].SubjectID != "Survivor-01" || snap[0].SealedContent != "gAAAAB" {
		t.Fatalf("queue = %+v", snap)
	}
	if snap[0].Location.Lat != -23.5 {
		t.Fatalf("location = %+v", snap[0].Location)
	}
	if st := srv.Stats(); st.Acked != 1 || st.Rejected != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestIngestAcceptsDuplicates(t *testing.T) {
	addr, q, _ := startIngest(t)
	for i := 0; i < 2; i++ {
		if got := exchange(t, addr, validReport+"\n", false); got != Ack {
			t.Fatalf("attempt %d reply = %q", i, got)
		}
	}
	if n := len(queued(t, q)); n != 2 {
		t.Fatalf("queued %d, want 2", n)
	}
}

func TestIngestWithoutNewline(t *testing.T) {
	addr, q, _ := startIngest(t)

	// Peer closes its write side instead of sending a newline.
	if got := exchange(t, addr, validReport, true); got != Ack {
		t.Fatalf("reply after half-close = %q", got)
	}
	// Peer goes quiet; the idle timeout ends the frame.
	if got := exchange(t, addr, validReport, false); got != Ack {
		t.Fatalf("reply after idle = %q", got)
	}
	if n := len(queued(t, q)); n != 2 {
		t.Fatalf("queued %d, want 2", n)
	}
}

func TestIngestRejects(t *testing.T) {
	addr, q, srv := startIngest(t)
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", "hello relay\n"},
		{"array", "[1,2]\n"},
		{"trailing data", validReport + `{"id":"x"}` + "\n"},
		{"missing content", `{"id":"Survivor-01","type":"sos"}` + "\n"},
		{"wrong kind", `{"id":"a","type":"party","secure_content":"x"}` + "\n"},
		{"too large", `{"id":"a","secure_content":"` + strings.Repeat("x", 5000) + `"}` + "\n"},
		{"empty", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := exchange(t, addr, tc.payload, true); got != "" {
				t.Fatalf("reply = %q, want none", got)
			}
		})
	}
	if n := len(queued(t, q)); n != 0 {
		t.Fatalf("queue changed: %d records", n)
	}
	if st := srv.Stats(); st.Rejected != int64(len(tests)) || st.Acked != 0 {
		t.Fatalf("stats = %+v", st)
	}
}

type brokenQueue struct{}

func (brokenQueue) Enqueue(model.Report) error { return errors.New("disk full") }

func TestIngestNoAckWhenEnqueueFails(t *testing.T) {
	srv, err := NewIngestServer(brokenQueue{}, IngestOptions{IdleTimeout: time.Second}, nil)
	if err != nil {
		t.Fatal(err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx, ln)

	if got := exchange(t, ln.Addr().String(), validReport+"\n", false); got != "" {
		t.Fatalf("reply = %q, want none", got)
	}
	if st := srv.Stats(); st.Failed != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func decodeOrders(t *testing.T, raw string) []model.Order {
	t.Helper()
	var out []model.Order
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("reply %q is not an order array: %v", raw, err)
	}
	return out
}

func TestQueryEmptyCache(t *testing.T) {
	addr := startQuery(t)
	if got := exchange(t, addr, "GET_MAIL:Survivor-01", false); got != "[]" {
		t.Fatalf("reply = %q, want []", got)
	}
}

func TestQueryOtherTargetsOnly(t *testing.T) {
	addr := startQuery(t, model.Order{TargetID: "Survivor-02", SealedContent: "x"})
	if got := exchange(t, addr, "GET_MAIL:Survivor-01\n", false); got != "[]" {
		t.Fatalf("reply = %q, want []", got)
	}
}

func TestQueryReturnsMatches(t *testing.T) {
	addr := startQuery(t,
		model.Order{TargetID: "Survivor-01", SealedContent: "one", CreatedAt: model.NewTimestamp(time.Unix(1700000000, 0))},
		model.Order{TargetID: "Survivor-02", SealedContent: "two"},
	)
	orders := decodeOrders(t, exchange(t, addr, "GET_MAIL: Survivor-01 \n", false))
	if len(orders) != 1 || orders[0].SealedContent != "one" || orders[0].TargetID != "Survivor-01" {
		t.Fatalf("orders = %+v", orders)
	}
}

func TestQueryUnknownCommand(t *testing.T) {
	addr := startQuery(t, model.Order{TargetID: "Survivor-01", SealedContent: "x"})
	if got := exchange(t, addr, "SEND_MAIL:Survivor-01\n", false); got != "" {
		t.Fatalf("reply = %q, want none", got)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"GET_MAIL:Survivor-01", "Survivor-01", false},
		{"GET_MAIL:Survivor-01\n", "Survivor-01", false},
		{"GET_MAIL:a:b", "a:b", false},
		{"  GET_MAIL:x  ", "x", false},
		{"GET_MAIL", "", true},
		{"get_mail:x", "", true},
		{"", "", true},
	}
	for _, tc := range tests {
		got, err := ParseCommand([]byte(tc.in))
		if tc.wantErr {
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("ParseCommand(%q) err = %v, want ErrMalformed", tc.in, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("ParseCommand(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
}

func TestDecodeDefaultsKind(t *testing.T) {
	d, err := NewReportDecoder()
	if err != nil {
		t.Fatal(err)
	}
	r, err := d.Decode([]byte(`  {"id":"a","secure_content":"x"}  `))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if r.Kind != model.KindSOS {
		t.Fatalf("Kind = %q", r.Kind)
	}
}

func TestIngestToleratesStrayBytes(t *testing.T) {
	addr, q, _ := startIngest(t)
	for _, payload := range []string{
		"\x00\x00" + validReport + "\n",
		"garbage " + validReport + "\x00\r\n",
	} {
		if got := exchange(t, addr, payload, false); got != Ack {
			t.Fatalf("reply for %q = %q, want ACK", payload, got)
		}
	}
	if n := len(queued(t, q)); n != 2 {
		t.Fatalf("queued %d, want 2", n)
	}
}

func TestQueryCommandInSeveralWrites(t *testing.T) {
	addr := startQuery(t, model.Order{TargetID: "Survivor-01", SealedContent: "one"})

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(3 * time.Second))
	if _, err := io.WriteString(conn, "GET_MAIL:"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if _, err := io.WriteString(conn, "Survivor-01\n"); err != nil {
		t.Fatal(err)
	}
	reply, _ := io.ReadAll(conn)

	orders := decodeOrders(t, string(reply))
	if len(orders) != 1 || orders[0].SealedContent != "one" {
		t.Fatalf("orders = %+v", orders)
	}
}

func TestQueryStats(t *testing.T) {
	ib, err := inbox.Open(filepath.Join(t.TempDir(), "inbox.msgpack"), nil)
	if err != nil {
		t.Fatal(err)
	}
	srv := NewQueryServer(ib, QueryOptions{Timeout: time.Second}, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(ctx, ln)
	}()
	addr := ln.Addr().String()

	exchange(t, addr, "GET_MAIL:a\n", false)
	exchange(t, addr, "HELLO\n", false)
	cancel()
	<-done

	if st := srv.Stats(); st.Served != 1 || st.Rejected != 1 {
		t.Fatalf("stats = %+v", st)
	}
}
