// Package limiter implements the Limiter Service: it resolves the effective
// limit parameters for a request, calls the backend's atomic script under a
// hard deadline, and assembles the response. Failure policy is fail-open —
// a limiter outage must never cause an outage in front of it.
package limiter

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ajiwo/redlimit/internal/backend"
	"github.com/ajiwo/redlimit/internal/builderpool"
	"github.com/ajiwo/redlimit/internal/metrics"
	"github.com/ajiwo/redlimit/internal/rules"
	"github.com/ajiwo/redlimit/internal/utils"
)

// RequestDeadline bounds how long a single backend call may take before the
// service substitutes a fail-open result.
const RequestDeadline = 100 * time.Millisecond

// Response is the outward-facing decision returned to callers.
type Response struct {
	Limit     int64
	Remaining int64
	Reset     int64 // unix seconds, 0 when not rejected
	Retry     int64 // wait ms, 0 when admitted
}

// Backend is the subset of the backend client the service depends on, kept
// narrow so tests can fake it without a real Redis connection.
type Backend interface {
	Limiting(ctx context.Context, key string, quantity, maxCount, periodMs, maxBurst, burstPeriodMs int64) (backend.LimitResult, error)
}

// Resolver is the subset of the rule resolver the service depends on.
type Resolver interface {
	LimitArgs(now int64, scope, path, id string) rules.LimitArgs
}

// Service orchestrates one rate-limit decision per request.
type Service struct {
	Resolver  Resolver
	Backend   Backend
	Namespace string
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// validArgs enforces the invariants in spec §3: a misconfigured rule
// bypasses the script entirely and the caller is told "not limited".
func validArgs(a rules.LimitArgs) bool {
	if a.Quantity <= 0 || a.Quantity > a.MaxCount {
		return false
	}
	if a.PeriodMs <= 0 || a.PeriodMs > 60_000 {
		return false
	}
	if a.MaxBurst > 0 && a.Quantity > a.MaxBurst {
		return false
	}
	if a.BurstPeriodMs > a.PeriodMs {
		return false
	}
	return true
}

// Handle resolves, calls the backend, and assembles a Response. It never
// returns an error: any backend failure is recovered as "not limited"
// per the fail-open policy in spec §4.4/§7.
func (s *Service) Handle(ctx context.Context, scope, path, id string) Response {
	now := time.Now().UnixMilli()

	if err := utils.ValidateKey(id, "id"); err != nil {
		if s.Metrics != nil {
			s.Metrics.RequestsNotLimited.Inc()
		}
		return Response{}
	}

	args := s.Resolver.LimitArgs(now, scope, path, id)

	if args.Unconfigured() || !validArgs(args) {
		if s.Metrics != nil {
			s.Metrics.RequestsNotLimited.Inc()
		}
		return Response{}
	}

	kb := builderpool.Get()
	kb.WriteString(s.Namespace)
	kb.WriteByte(':')
	kb.WriteString(scope)
	kb.WriteByte(':')
	kb.WriteString(id)
	key := kb.String()
	builderpool.Put(kb)

	callCtx, cancel := context.WithTimeout(ctx, RequestDeadline)
	defer cancel()

	result, err := s.Backend.Limiting(callCtx, key, args.Quantity, args.MaxCount, args.PeriodMs, args.MaxBurst, args.BurstPeriodMs)
	if err != nil {
		s.recordFailure(err)
		result = backend.LimitResult{}
	}

	if s.Metrics != nil {
		s.Metrics.RequestsTotal.Inc()
		if result.WaitMs > 0 {
			s.Metrics.RequestsRejected.Inc()
		}
	}

	remaining := args.MaxCount - result.Count
	if remaining < 0 {
		remaining = 0
	}

	resp := Response{
		Limit:     args.MaxCount,
		Remaining: remaining,
		Retry:     result.WaitMs,
	}
	if result.WaitMs > 0 {
		resp.Reset = (now + result.WaitMs) / 1000
	}
	return resp
}

func (s *Service) recordFailure(err error) {
	timedOut := context.DeadlineExceeded == err || backendTimedOut(err)

	if s.Metrics != nil {
		if timedOut {
			s.Metrics.BackendTimeouts.Inc()
		} else {
			s.Metrics.BackendErrors.Inc()
		}
	}

	if s.Logger == nil {
		return
	}
	if timedOut {
		s.Logger.Warn("backend deadline exceeded", zap.Error(err))
	} else {
		s.Logger.Error("backend call failed", zap.Error(err))
	}
}

func backendTimedOut(err error) bool {
	return err != nil && err == context.DeadlineExceeded
}
