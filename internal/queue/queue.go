// Package queue is the durable store-and-forward log of pending reports. Each
// record is one JSON line; appends are fsynced before Enqueue returns.
package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lucaslui/resilientroute/internal/model"
	"github.com/lucaslui/resilientroute/internal/retry"
)

const (
	appendAttempts = 3
	appendBackoff  = 50 * time.Millisecond
)

// Queue serializes Enqueue against the Confirm* calls with a writer lock;
// readers take the read lock and never observe a half-written line.
//
// Appends only ever go to the tail and records only leave through the
// Confirm* calls, so positions returned by DrainSnapshot stay valid until
// the single consumer confirms them.
type Queue struct {
	mu     sync.RWMutex
	path   string
	logger *zap.Logger
}

func Open(path string, logger *zap.Logger) (*Queue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("queue: create dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("queue: open %s: %w", path, err)
	}
	f.Close()
	return &Queue{path: path, logger: logger}, nil
}

func (q *Queue) Path() string { return q.path }

// Enqueue appends r. A failed attempt is rolled back to the previous file
// size so a retry never lands behind a torn line.
func (q *Queue) Enqueue(r model.Report) error {
	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("queue: encode report: %w", err)
	}
	line = append(line, '\n')

	q.mu.Lock()
	defer q.mu.Unlock()

	err = retry.Do(context.Background(), appendAttempts, appendBackoff, func(_ context.Context, attempt int) error {
		if err := q.appendLine(line); err != nil {
			q.logger.Warn("[queue] append failed", zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("queue: append: %w", err)
	}
	return nil
}

func (q *Queue) appendLine(line []byte) error {
	f, err := os.OpenFile(q.path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Truncate(size)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Truncate(size)
		return err
	}
	return nil
}

// DrainSnapshot returns every decodable record in file order without
// removing anything.
func (q *Queue) DrainSnapshot() ([]model.Report, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	lines, err := q.readLines()
	if err != nil {
		return nil, err
	}
	out := make([]model.Report, 0, len(lines))
	skipped := 0
	for _, l := range lines {
		if !l.ok {
			skipped++
			continue
		}
		out = append(out, l.report)
	}
	if skipped > 0 {
		q.logger.Warn("[queue] skipped undecodable lines", zap.Int("count", skipped), zap.String("path", q.path))
	}
	return out, nil
}

func (q *Queue) Len() (int, error) {
	snap, err := q.DrainSnapshot()
	if err != nil {
		return 0, err
	}
	return len(snap), nil
}

// ConfirmDrained removes the first n records of the last snapshot, along with
// any undecodable lines in front of them.
func (q *Queue) ConfirmDrained(n int) error {
	if n <= 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	lines, err := q.readLines()
	if err != nil {
		return err
	}
	dropped, cut := 0, 0
	for cut < len(lines) && dropped < n {
		if lines[cut].ok {
			dropped++
		}
		cut++
	}
	if dropped < n {
		return fmt.Errorf("queue: confirm %d records, only %d queued", n, dropped)
	}
	return q.rewrite(lines[cut:])
}

// ConfirmIndices removes the records at the given snapshot positions.
// Out-of-range positions are ignored.
func (q *Queue) ConfirmIndices(idx []int) error {
	if len(idx) == 0 {
		return nil
	}
	drop := make(map[int]struct{}, len(idx))
	for _, i := range idx {
		drop[i] = struct{}{}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	lines, err := q.readLines()
	if err != nil {
		return err
	}
	keep := lines[:0]
	pos := 0
	for _, l := range lines {
		if l.ok {
			_, gone := drop[pos]
			pos++
			if gone {
				continue
			}
		}
		keep = append(keep, l)
	}
	return q.rewrite(keep)
}

type line struct {
	raw    []byte
	report model.Report
	ok     bool
}

func (q *Queue) readLines() ([]line, error) {
	data, err := os.ReadFile(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("queue: read %s: %w", q.path, err)
	}
	var out []line
	for _, raw := range bytes.Split(data, []byte{'\n'}) {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			continue
		}
		l := line{raw: raw}
		l.ok = json.Unmarshal(raw, &l.report) == nil
		out = append(out, l)
	}
	return out, nil
}

func (q *Queue) rewrite(lines []line) error {
	var buf bytes.Buffer
	for _, l := range lines {
		buf.Write(l.raw)
		buf.WriteByte('\n')
	}
	if err := writeFileAtomic(q.path, buf.Bytes()); err != nil {
		return fmt.Errorf("queue: rewrite %s: %w", q.path, err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
