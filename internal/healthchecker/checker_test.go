package healthchecker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type mockBackend struct {
	mu         sync.Mutex
	shouldFail bool
	pingCount  int
}

func (m *mockBackend) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingCount++
	if m.shouldFail {
		return errors.New("simulated backend failure")
	}
	return nil
}

func (m *mockBackend) setShouldFail(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFail = v
}

func (m *mockBackend) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingCount
}

func TestCheckerDisabledWhenIntervalZero(t *testing.T) {
	be := &mockBackend{}
	hc := New(be, Config{Interval: 0, Timeout: 25 * time.Millisecond}, nil)
	hc.Start()
	time.Sleep(80 * time.Millisecond)
	hc.Stop()

	if be.calls() != 0 {
		t.Fatalf("expected no pings with interval 0, got %d", be.calls())
	}
}

func TestCheckerPingsOnInterval(t *testing.T) {
	be := &mockBackend{}
	hc := New(be, Config{Interval: 20 * time.Millisecond, Timeout: 10 * time.Millisecond}, nil)
	hc.Start()
	time.Sleep(90 * time.Millisecond)
	hc.Stop()

	if be.calls() == 0 {
		t.Fatal("expected at least one ping")
	}
}

func TestCheckerCallsOnRecoveredAfterFailure(t *testing.T) {
	be := &mockBackend{shouldFail: true}
	var recovered int32
	hc := New(be, Config{Interval: 15 * time.Millisecond, Timeout: 10 * time.Millisecond}, func() {
		atomic.AddInt32(&recovered, 1)
	})
	hc.Start()
	time.Sleep(60 * time.Millisecond)

	be.setShouldFail(false)
	time.Sleep(60 * time.Millisecond)
	hc.Stop()

	if atomic.LoadInt32(&recovered) == 0 {
		t.Fatal("expected onRecovered to fire after backend recovered")
	}
}

func TestCheckerNeverRecoversWithoutPriorFailure(t *testing.T) {
	be := &mockBackend{}
	var recovered int32
	hc := New(be, Config{Interval: 15 * time.Millisecond, Timeout: 10 * time.Millisecond}, func() {
		atomic.AddInt32(&recovered, 1)
	})
	hc.Start()
	time.Sleep(60 * time.Millisecond)
	hc.Stop()

	if atomic.LoadInt32(&recovered) != 0 {
		t.Fatal("onRecovered should not fire when the backend never failed")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Interval != 10*time.Second || cfg.Timeout != 2*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestOptions(t *testing.T) {
	cfg := DefaultConfig()
	WithInterval(5 * time.Second)(&cfg)
	WithTimeout(1 * time.Second)(&cfg)
	if cfg.Interval != 5*time.Second || cfg.Timeout != 1*time.Second {
		t.Fatalf("options did not apply: %+v", cfg)
	}
}
