package inbox

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lucaslui/resilientroute/internal/model"
)

func order(target, content string) model.Order {
	return model.Order{
		TargetID:      target,
		SealedContent: content,
		CreatedAt:     model.NewTimestamp(time.Unix(1700000000, 123)),
	}
}

func TestLookupEmptyCache(t *testing.T) {
	ib, err := Open(filepath.Join(t.TempDir(), "inbox.msgpack"), nil)
	if err != nil {
		t.Fatal(err)
	}
	got := ib.Lookup("Survivor-01")
	if got == nil || len(got) != 0 {
		t.Fatalf("Lookup = %#v, want empty non-nil", got)
	}
}

func TestReplaceAndLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inbox.msgpack")
	ib, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := ib.Replace([]model.Order{order("Survivor-01", "a"), order("Survivor-02", "b"), order("Survivor-01", "c")}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	got := ib.Lookup("Survivor-01")
	if len(got) != 2 || got[0].SealedContent != "a" || got[1].SealedContent != "c" {
		t.Fatalf("Lookup = %+v", got)
	}
	if len(ib.Lookup("nobody")) != 0 {
		t.Fatal("expected no orders for unknown target")
	}
	if ib.PulledAt().IsZero() {
		t.Fatal("PulledAt not set")
	}

	// Full replace, not merge.
	if err := ib.Replace([]model.Order{order("Survivor-02", "d")}); err != nil {
		t.Fatal(err)
	}
	if len(ib.Lookup("Survivor-01")) != 0 {
		t.Fatal("old snapshot survived Replace")
	}
}

func TestSnapshotPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inbox.msgpack")
	ib, _ := Open(path, nil)
	want := order("Survivor-01", "hello")
	if err := ib.Replace([]model.Order{want}); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	got := reopened.Snapshot()
	if len(got) != 1 || got[0].TargetID != want.TargetID || !got[0].CreatedAt.Equal(want.CreatedAt.Time) {
		t.Fatalf("reopened snapshot = %+v", got)
	}
}

func TestFailedReplaceKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "inbox.msgpack")
	ib, _ := Open(path, nil)
	if err := ib.Replace([]model.Order{order("Survivor-01", "keep")}); err != nil {
		t.Fatal(err)
	}

	// A directory in the way of the temp file makes the write fail.
	if err := os.Mkdir(path+".tmp", 0o755); err != nil {
		t.Fatal(err)
	}
	if err := ib.Replace(nil); err == nil {
		t.Fatal("expected Replace to fail")
	}
	if got := ib.Lookup("Survivor-01"); len(got) != 1 || got[0].SealedContent != "keep" {
		t.Fatalf("cache changed after failed Replace: %+v", got)
	}
}

func TestCorruptSnapshotStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inbox.msgpack")
	if err := os.WriteFile(path, []byte{0xc1, 0xff, 0x00}, 0o644); err != nil {
		t.Fatal(err)
	}
	ib, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(ib.Snapshot()) != 0 {
		t.Fatal("expected empty cache")
	}
}
