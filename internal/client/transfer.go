// Package client is the survivor side of the relay protocols: find a relay
// by role, hand over pending reports, and collect mail.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/lucaslui/resilientroute/internal/discovery"
	"github.com/lucaslui/resilientroute/internal/model"
	"github.com/lucaslui/resilientroute/internal/relay"
	"github.com/lucaslui/resilientroute/internal/retry"
)

const (
	DefaultAttempts       = 3
	DefaultBackoff        = 2 * time.Second
	DefaultAttemptTimeout = 15 * time.Second

	maxMailBytes = 16 << 20
)

// ErrNoRelay means no relay advertised the needed role during the scan.
var ErrNoRelay = errors.New("client: no relay found")

type ScanFunc func(ctx context.Context, port int, role model.Role, timeout time.Duration) (model.Beacon, bool)

// Pending is the survivor's local outbox.
type Pending interface {
	DrainSnapshot() ([]model.Report, error)
	ConfirmIndices(idx []int) error
}

type Options struct {
	DiscoveryPort  int
	ScanTimeout    time.Duration
	Attempts       int
	Backoff        time.Duration
	AttemptTimeout time.Duration
}

// SendResult counts per-report outcomes. Failed lists the subject ids of
// reports that stayed in the outbox.
type SendResult struct {
	Sent   int
	Total  int
	Failed []string
}

type Transfer struct {
	opts   Options
	scan   ScanFunc
	logger *zap.Logger
}

func New(opts Options, logger *zap.Logger) *Transfer {
	if opts.DiscoveryPort == 0 {
		opts.DiscoveryPort = discovery.DefaultPort
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = discovery.DefaultScanTimeout
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultAttempts
	}
	if opts.Backoff < 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = DefaultAttemptTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transfer{opts: opts, scan: discovery.Scan, logger: logger}
}

// WithScanner replaces UDP discovery, e.g. to target a known relay.
func (t *Transfer) WithScanner(fn ScanFunc) *Transfer {
	t.scan = fn
	return t
}

func (t *Transfer) Discover(ctx context.Context, role model.Role) (string, error) {
	b, ok := t.scan(ctx, t.opts.DiscoveryPort, role, t.opts.ScanTimeout)
	if !ok {
		return "", fmt.Errorf("%w for role %s", ErrNoRelay, role)
	}
	return b.Addr(), nil
}

// SendPending delivers every pending report and removes exactly the ones the
// relay acknowledged.
func (t *Transfer) SendPending(ctx context.Context, pending Pending) (SendResult, error) {
	reports, err := pending.DrainSnapshot()
	if err != nil {
		return SendResult{}, err
	}
	res := SendResult{Total: len(reports)}
	if len(reports) == 0 {
		return res, nil
	}

	addr, err := t.Discover(ctx, model.RoleIngest)
	if err != nil {
		for _, r := range reports {
			res.Failed = append(res.Failed, r.SubjectID)
		}
		return res, err
	}
	t.logger.Info("[send] relay found", zap.String("addr", addr), zap.Int("pending", len(reports)))

	var delivered []int
	for i, r := range reports {
		err := retry.Do(ctx, t.opts.Attempts, t.opts.Backoff, func(ctx context.Context, attempt int) error {
			if err := t.SendReport(ctx, addr, r); err != nil {
				t.logger.Info("[send] attempt failed", zap.String("id", r.SubjectID), zap.Int("attempt", attempt), zap.Error(err))
				return err
			}
			return nil
		})
		if err != nil {
			res.Failed = append(res.Failed, r.SubjectID)
			t.logger.Warn("[send] report not delivered", zap.String("id", r.SubjectID), zap.Error(err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		delivered = append(delivered, i)
		res.Sent++
	}
	for _, r := range reports[len(delivered)+len(res.Failed):] {
		res.Failed = append(res.Failed, r.SubjectID)
	}

	if err := pending.ConfirmIndices(delivered); err != nil {
		return res, fmt.Errorf("remove delivered reports: %w", err)
	}
	return res, nil
}

// SendReport makes one delivery attempt: connect, write the report as one
// line, and wait for the acknowledgment.
func (t *Transfer) SendReport(ctx context.Context, addr string, r model.Report) error {
	line, err := json.Marshal(r)
	if err != nil {
		return retry.Permanent(err)
	}
	line = append(line, '\n')

	conn, err := t.dial(ctx, addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.Write(line); err != nil {
		return err
	}
	ack := make([]byte, len(relay.Ack))
	if _, err := io.ReadFull(conn, ack); err != nil {
		return fmt.Errorf("waiting for ack: %w", err)
	}
	if !bytes.Equal(ack, []byte(relay.Ack)) {
		return fmt.Errorf("unexpected reply %q", ack)
	}
	return nil
}

// CheckMail asks a query relay for the orders addressed to targetID.
func (t *Transfer) CheckMail(ctx context.Context, targetID string) ([]model.Order, error) {
	addr, err := t.Discover(ctx, model.RoleQuery)
	if err != nil {
		return nil, err
	}
	var orders []model.Order
	err = retry.Do(ctx, t.opts.Attempts, t.opts.Backoff, func(ctx context.Context, attempt int) error {
		got, err := t.queryOnce(ctx, addr, targetID)
		if err != nil {
			t.logger.Info("[mail] attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		orders = got
		return nil
	})
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (t *Transfer) queryOnce(ctx context.Context, addr, targetID string) ([]model.Order, error) {
	conn, err := t.dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "%s:%s\n", relay.CmdGetMail, targetID); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(io.LimitReader(conn, maxMailBytes))
	if err != nil {
		return nil, err
	}
	orders := []model.Order{}
	if err := json.Unmarshal(body, &orders); err != nil {
		return nil, fmt.Errorf("decode mail: %w", err)
	}
	return orders, nil
}

func (t *Transfer) dial(ctx context.Context, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: t.opts.AttemptTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if err := conn.SetDeadline(time.Now().Add(t.opts.AttemptTimeout)); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}
