package queue

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/lucaslui/resilientroute/internal/model"
)

func newQueue(t *testing.T) *Queue {
	t.Helper()
	q, err := Open(filepath.Join(t.TempDir(), "spool", "queue.jsonl"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return q
}

func report(id string) model.Report {
	return model.Report{
		SubjectID:     id,
		Kind:          model.KindSOS,
		Location:      model.Location{Lat: 1, Lon: 2},
		CreatedAt:     model.NewTimestamp(time.Unix(1700000000, 0)),
		SealedContent: "x",
	}
}

func ids(rs []model.Report) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.SubjectID
	}
	return out
}

func TestEnqueueSnapshotConfirm(t *testing.T) {
	q := newQueue(t)
	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(report(id)); err != nil {
			t.Fatalf("Enqueue(%s): %v", id, err)
		}
	}

	snap, err := q.DrainSnapshot()
	if err != nil {
		t.Fatalf("DrainSnapshot: %v", err)
	}
	if got := fmt.Sprint(ids(snap)); got != "[a b c]" {
		t.Fatalf("snapshot = %s", got)
	}

	// Snapshot does not consume.
	if n, _ := q.Len(); n != 3 {
		t.Fatalf("Len = %d", n)
	}

	if err := q.Enqueue(report("d")); err != nil {
		t.Fatal(err)
	}
	if err := q.ConfirmDrained(len(snap)); err != nil {
		t.Fatalf("ConfirmDrained: %v", err)
	}
	rest, _ := q.DrainSnapshot()
	if got := fmt.Sprint(ids(rest)); got != "[d]" {
		t.Fatalf("after confirm = %s", got)
	}
}

func TestConfirmDrainedTooMany(t *testing.T) {
	q := newQueue(t)
	if err := q.Enqueue(report("a")); err != nil {
		t.Fatal(err)
	}
	if err := q.ConfirmDrained(2); err == nil {
		t.Fatal("expected error")
	}
	if n, _ := q.Len(); n != 1 {
		t.Fatalf("queue modified on failed confirm: Len = %d", n)
	}
}

func TestDuplicatesAreKept(t *testing.T) {
	q := newQueue(t)
	r := report("dup")
	for i := 0; i < 2; i++ {
		if err := q.Enqueue(r); err != nil {
			t.Fatal(err)
		}
	}
	if n, _ := q.Len(); n != 2 {
		t.Fatalf("Len = %d, want 2", n)
	}
}

func TestSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.jsonl")
	q, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(report("a")); err != nil {
		t.Fatal(err)
	}

	q2, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	snap, _ := q2.DrainSnapshot()
	if len(snap) != 1 || snap[0].SubjectID != "a" {
		t.Fatalf("reopened snapshot = %v", ids(snap))
	}
}

func TestTornLinesAreSkippedAndDropped(t *testing.T) {
	q := newQueue(t)
	if err := q.Enqueue(report("a")); err != nil {
		t.Fatal(err)
	}
	f, err := os.OpenFile(q.Path(), os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("{\"id\":\"tor\n")
	f.Close()
	if err := q.Enqueue(report("b")); err != nil {
		t.Fatal(err)
	}

	snap, _ := q.DrainSnapshot()
	if got := fmt.Sprint(ids(snap)); got != "[a b]" {
		t.Fatalf("snapshot = %s", got)
	}
	if err := q.ConfirmDrained(2); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(q.Path())
	if len(data) != 0 {
		t.Fatalf("file not empty after full confirm: %q", data)
	}
}

func TestConfirmIndices(t *testing.T) {
	q := newQueue(t)
	for _, id := range []string{"a", "b", "c", "d"} {
		if err := q.Enqueue(report(id)); err != nil {
			t.Fatal(err)
		}
	}
	if err := q.ConfirmIndices([]int{0, 2, 9}); err != nil {
		t.Fatalf("ConfirmIndices: %v", err)
	}
	snap, _ := q.DrainSnapshot()
	if got := fmt.Sprint(ids(snap)); got != "[b d]" {
		t.Fatalf("snapshot = %s", got)
	}
}

func TestConcurrentEnqueue(t *testing.T) {
	q := newQueue(t)
	const writers, each = 8, 25

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				if err := q.Enqueue(report(fmt.Sprintf("w%d-%d", w, i))); err != nil {
					t.Error(err)
					return
				}
			}
		}(w)
	}
	// A reader running alongside must only ever see whole records.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			if _, err := q.DrainSnapshot(); err != nil {
				t.Error(err)
				return
			}
		}
	}()
	wg.Wait()
	<-done

	if n, _ := q.Len(); n != writers*each {
		t.Fatalf("Len = %d, want %d", n, writers*each)
	}
}
