// Package healthchecker runs a background ping loop against the backend
// and reports recovery after a failed ping, independent of the request
// path's own fail-open handling.
package healthchecker

import (
	"context"
	"sync"
	"time"
)

// Backend is the subset of the backend client the checker depends on.
type Backend interface {
	Ping(ctx context.Context) error
}

// Checker polls Backend.Ping on an interval and invokes onRecovered the
// first time a ping succeeds after one or more failures.
type Checker struct {
	backend     Backend
	config      Config
	stopChan    chan struct{}
	stopOnce    sync.Once
	onRecovered func()
}

// New builds a Checker. onRecovered may be nil.
func New(backend Backend, config Config, onRecovered func()) *Checker {
	return &Checker{
		backend:     backend,
		config:      config,
		stopChan:    make(chan struct{}),
		onRecovered: onRecovered,
	}
}

// Start begins background polling. A non-positive Interval disables it.
func (h *Checker) Start() {
	if h.config.Interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(h.config.Interval)
		defer ticker.Stop()
		wasDown := false
		for {
			select {
			case <-ticker.C:
				wasDown = h.ping(wasDown)
			case <-h.stopChan:
				return
			}
		}
	}()
}

// Stop halts background polling.
func (h *Checker) Stop() {
	h.stopOnce.Do(func() { close(h.stopChan) })
}

func (h *Checker) ping(wasDown bool) bool {
	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	if err := h.backend.Ping(ctx); err != nil {
		return true
	}
	if wasDown && h.onRecovered != nil {
		h.onRecovered()
	}
	return false
}
