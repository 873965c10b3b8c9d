// Package syncworker implements the Sync Worker: a single long-running
// background task per process that cursors the dynamic redlist/redrules
// state out of the backend into the resolver's in-memory cache.
//
// State machine: Idle -> Ticking -> Sleeping -> Idle, with a terminal
// Cancelled state reachable only from Sleeping. Cancellation is observed
// only at the sleep point; a tick in progress always runs to completion.
package syncworker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ajiwo/redlimit/internal/backend"
	"github.com/ajiwo/redlimit/internal/metrics"
	"github.com/ajiwo/redlimit/internal/rules"
	"github.com/ajiwo/redlimit/internal/utils"
)

// State names the worker's current phase, surfaced for tests and logs.
type State int

const (
	Idle State = iota
	Ticking
	Sleeping
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Ticking:
		return "ticking"
	case Sleeping:
		return "sleeping"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

const redlistScanLimit = 10000

// Backend is the subset of the backend client the worker depends on.
type Backend interface {
	RedrulesAll(ctx context.Context, ns string) ([]backend.RedruleTuple, error)
	RedrulesSweep(ctx context.Context, ns string) error
	RedlistScan(ctx context.Context, ns string, cursor int64, now int64) (newCursor int64, members map[string]int64, hasStale bool, hasMore bool, err error)
	RedlistAdd(ctx context.Context, ns string, entries map[string]int64) error
	LoadScripts(ctx context.Context) error
}

// Resolver is the subset of the rule resolver the worker depends on.
type Resolver interface {
	Cursor() int64
	DynUpdate(now, cursor int64, redlistDelta map[string]int64, redrulesDelta map[string]rules.RedRuleEntry)
}

// Worker is the Sync Worker component.
type Worker struct {
	Backend   Backend
	Resolver  Resolver
	Namespace string
	Interval  time.Duration
	Logger    *zap.Logger
	Metrics   *metrics.Metrics

	state State
}

// State reports the worker's current phase (Idle before Run starts).
func (w *Worker) State() State {
	return w.state
}

// Run executes the tick/sleep loop until ctx is cancelled. Cancellation is
// observed only between ticks: a running tick always completes.
func (w *Worker) Run(ctx context.Context) {
	w.state = Idle
	for {
		w.state = Ticking
		w.tick(context.WithoutCancel(ctx))

		w.state = Sleeping
		if err := utils.SleepOrWait(ctx, w.Interval, 0); err != nil {
			w.state = Cancelled
			return
		}
		w.state = Idle
	}
}

func (w *Worker) tick(ctx context.Context) {
	start := time.Now()
	cursor := w.Resolver.Cursor()
	now := time.Now().UnixMilli()

	redrulesDelta, rulesStale := w.loadRedrules(ctx, now)
	redlistDelta, newCursor, listStale := w.loadRedlist(ctx, cursor, now)

	if rulesStale {
		if err := w.Backend.RedrulesSweep(ctx, w.Namespace); err != nil {
			w.logError("redrules sweep failed", err)
		}
	}
	if listStale {
		if err := w.Backend.RedlistAdd(ctx, w.Namespace, nil); err != nil {
			w.logError("redlist sweep failed", err)
		}
	}

	if len(redlistDelta) > 0 || len(redrulesDelta) > 0 {
		w.Resolver.DynUpdate(now, newCursor, redlistDelta, redrulesDelta)
	}

	if w.Metrics != nil {
		w.Metrics.SyncTicks.Inc()
	}
	if w.Logger != nil {
		w.Logger.Info("sync tick",
			zap.Int64("cursor", newCursor),
			zap.Int("rules", len(redrulesDelta)),
			zap.Int("list", len(redlistDelta)),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

func (w *Worker) loadRedrules(ctx context.Context, now int64) (map[string]rules.RedRuleEntry, bool) {
	tuples, err := w.Backend.RedrulesAll(ctx, w.Namespace)
	if err != nil {
		w.selfHeal(ctx, err)
		w.logError("redrules_all failed", err)
		return nil, false
	}

	delta := make(map[string]rules.RedRuleEntry, len(tuples))
	hasStale := false
	for _, t := range tuples {
		if t.Expiry > now {
			delta[t.Scope+":"+t.Path] = rules.RedRuleEntry{Quantity: t.Quantity, Expiry: t.Expiry}
		} else {
			hasStale = true
		}
	}
	return delta, hasStale
}

// loadRedlist scans the redlist cursor set starting at cursor, repeatedly
// until fewer than redlistScanLimit members come back or the cursor stops
// advancing. Pairs returned by RedlistScan are consumed strictly in order
// (spec §9's Open Question: the reference implementation's iter.nth(1)
// skip is a bug and is not reproduced here).
func (w *Worker) loadRedlist(ctx context.Context, cursor, now int64) (map[string]int64, int64, bool) {
	delta := make(map[string]int64)
	hasStale := false

	for {
		newCursor, members, stale, hasMore, err := w.Backend.RedlistScan(ctx, w.Namespace, cursor, now)
		if err != nil {
			w.selfHeal(ctx, err)
			w.logError("redlist_scan failed", err)
			return delta, cursor, hasStale
		}
		if stale {
			hasStale = true
		}
		for id, ttl := range members {
			delta[id] = ttl
		}

		if newCursor == cursor || !hasMore {
			cursor = newCursor
			break
		}
		cursor = newCursor
	}

	return delta, cursor, hasStale
}

// selfHeal reloads the script module when the backend reports the function
// missing, per spec §4.5.
func (w *Worker) selfHeal(ctx context.Context, err error) {
	if !backend.IsFunctionMissing(err) {
		return
	}
	if reloadErr := w.Backend.LoadScripts(ctx); reloadErr != nil {
		w.logError("script reload failed", reloadErr)
		return
	}
	if w.Metrics != nil {
		w.Metrics.SyncReloads.Inc()
	}
}

func (w *Worker) logError(msg string, err error) {
	if w.Metrics != nil {
		w.Metrics.SyncErrors.Inc()
	}
	if w.Logger != nil {
		w.Logger.Error(msg, zap.Error(err))
	}
}
