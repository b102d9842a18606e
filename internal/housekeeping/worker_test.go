package housekeeping

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/jhm/internal/events"
	"github.com/kalambet/jhm/internal/record"
	"github.com/kalambet/jhm/internal/storage"
)

type mockMaintainer struct {
	calls atomic.Int32
	fn    func(ctx context.Context) (*storage.MaintenanceReport, error)
}

func (m *mockMaintainer) Maintain(ctx context.Context) (*storage.MaintenanceReport, error) {
	m.calls.Add(1)
	if m.fn != nil {
		return m.fn(ctx)
	}
	return &storage.MaintenanceReport{
		Integrity: &storage.IntegrityReport{Valid: true},
		Health:    storage.Health{Healthy: true},
	}, nil
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunOnce_RemovesOrphansAndPublishes(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	jobID, err := store.SaveJob(ctx, record.Record{"title": "Eng", "company": "Acme"})
	if err != nil {
		t.Fatalf("SaveJob: %v", err)
	}
	store.SaveLetter(ctx, record.Record{"jobId": jobID})
	store.SaveLetter(ctx, record.Record{"jobId": "gone"})

	bus := events.NewBus()
	var mu sync.Mutex
	var got []events.Event
	bus.Subscribe(func(e events.Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})

	rep, err := NewWorker(store, time.Hour, bus).RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if rep.OrphansRemoved != 1 {
		t.Errorf("OrphansRemoved = %d, want 1", rep.OrphansRemoved)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Source != EventSource || got[0].Count != 1 {
		t.Errorf("events = %+v, want one maintenance event with count 1", got)
	}
}

func TestRunOnce_NothingToDoPublishesNothing(t *testing.T) {
	bus := events.NewBus()
	published := false
	bus.Subscribe(func(events.Event) { published = true })

	if _, err := NewWorker(&mockMaintainer{}, time.Hour, bus).RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if published {
		t.Error("expected no event when nothing was removed")
	}
}

func TestRunOnce_Error(t *testing.T) {
	m := &mockMaintainer{fn: func(context.Context) (*storage.MaintenanceReport, error) {
		return nil, errors.New("disk gone")
	}}
	if _, err := NewWorker(m, time.Hour, nil).RunOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestRun_RepeatsUntilCancelled(t *testing.T) {
	m := &mockMaintainer{}
	w := NewWorker(m, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for m.calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if n := m.calls.Load(); n < 3 {
		t.Errorf("Maintain called %d times, want at least 3", n)
	}
}

func TestRun_ContinuesAfterError(t *testing.T) {
	m := &mockMaintainer{fn: func(context.Context) (*storage.MaintenanceReport, error) {
		return nil, errors.New("transient")
	}}
	w := NewWorker(m, 10*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	w.Run(ctx)

	if n := m.calls.Load(); n < 2 {
		t.Errorf("Maintain called %d times, want the worker to keep going", n)
	}
}

func TestNewWorker_DefaultInterval(t *testing.T) {
	w := NewWorker(&mockMaintainer{}, 0, nil)
	if w.interval != DefaultInterval {
		t.Errorf("interval = %v, want %v", w.interval, DefaultInterval)
	}
}
