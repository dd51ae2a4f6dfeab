// Package inbox holds the relay's local mail cache: the last full snapshot of
// orders pulled from the remote store.
package inbox

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/lucaslui/resilientroute/internal/model"
)

type cachedOrder struct {
	TargetID      string `msgpack:"t"`
	SealedContent string `msgpack:"c"`
	CreatedAt     int64  `msgpack:"ts"`
}

type snapshot struct {
	PulledAt int64         `msgpack:"pulled_at"`
	Orders   []cachedOrder `msgpack:"orders"`
}

// Inbox is safe for concurrent use. Replace persists before it swaps the
// in-memory view, so a failed write leaves the previous snapshot in place.
type Inbox struct {
	mu       sync.RWMutex
	path     string
	orders   []model.Order
	pulledAt time.Time
	logger   *zap.Logger
}

// Open loads the snapshot at path if one exists. An unreadable snapshot is
// logged and the cache starts empty.
func Open(path string, logger *zap.Logger) (*Inbox, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("inbox: create dir: %w", err)
	}
	ib := &Inbox{path: path, logger: logger}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return ib, nil
	case err != nil:
		return nil, fmt.Errorf("inbox: read %s: %w", path, err)
	}
	var snap snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		logger.Warn("[inbox] discarding unreadable snapshot", zap.String("path", path), zap.Error(err))
		return ib, nil
	}
	ib.orders = fromCached(snap.Orders)
	if snap.PulledAt != 0 {
		ib.pulledAt = time.Unix(0, snap.PulledAt).UTC()
	}
	return ib, nil
}

// Replace overwrites the cache wholesale with orders.
func (ib *Inbox) Replace(orders []model.Order) error {
	now := time.Now().UTC()
	snap := snapshot{PulledAt: now.UnixNano(), Orders: toCached(orders)}

	var buf bytes.Buffer
	if err := msgpack.NewEncoder(&buf).Encode(&snap); err != nil {
		return fmt.Errorf("inbox: encode: %w", err)
	}

	ib.mu.Lock()
	defer ib.mu.Unlock()

	if err := writeFileAtomic(ib.path, buf.Bytes()); err != nil {
		return fmt.Errorf("inbox: persist %s: %w", ib.path, err)
	}
	ib.orders = append([]model.Order(nil), orders...)
	ib.pulledAt = now
	return nil
}

// Lookup returns the cached orders addressed to targetID, never nil.
func (ib *Inbox) Lookup(targetID string) []model.Order {
	ib.mu.RLock()
	defer ib.mu.RUnlock()

	out := []model.Order{}
	for _, o := range ib.orders {
		if o.TargetID == targetID {
			out = append(out, o)
		}
	}
	return out
}

func (ib *Inbox) Snapshot() []model.Order {
	ib.mu.RLock()
	defer ib.mu.RUnlock()
	return append([]model.Order(nil), ib.orders...)
}

// PulledAt is the time of the last successful Replace, zero if none.
func (ib *Inbox) PulledAt() time.Time {
	ib.mu.RLock()
	defer ib.mu.RUnlock()
	return ib.pulledAt
}

func toCached(orders []model.Order) []cachedOrder {
	out := make([]cachedOrder, len(orders))
	for i, o := range orders {
		out[i] = cachedOrder{TargetID: o.TargetID, SealedContent: o.SealedContent}
		if !o.CreatedAt.IsZero() {
			out[i].CreatedAt = o.CreatedAt.UnixNano()
		}
	}
	return out
}

func fromCached(in []cachedOrder) []model.Order {
	out := make([]model.Order, len(in))
	for i, c := range in {
		out[i] = model.Order{TargetID: c.TargetID, SealedContent: c.SealedContent}
		if c.CreatedAt != 0 {
			out[i].CreatedAt = model.NewTimestamp(time.Unix(0, c.CreatedAt))
		}
	}
	return out
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
