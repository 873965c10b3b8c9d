// Package rules implements the rule resolver: the read-mostly structure
// that blends static scope rules with dynamic per-id and per-(scope,path)
// overrides into the effective limit parameters for a request.
package rules

import (
	"sync"

	"github.com/ajiwo/redlimit/internal/builderpool"
)

// DefaultScope and FloorScope are the reserved rule keys from the static
// configuration ("*" applies when no scope matches, "-" is the tight rule
// applied to demoted ids).
const (
	DefaultScope = "*"
	FloorScope   = "-"
)

// Rule is a limit recipe: an ordered limit tuple, a default per-call cost,
// and per-path cost overrides.
type Rule struct {
	// Limit is [maxCount, periodMs] or [maxCount, periodMs, maxBurst, burstPeriodMs].
	Limit []int64 `toml:"limit"`
	// Quantity is the default cost per call. Zero means "use 1".
	Quantity int64             `toml:"quantity"`
	Path     map[string]int64  `toml:"path"`
}

func (r Rule) maxCount() int64 {
	if len(r.Limit) > 0 {
		return r.Limit[0]
	}
	return 0
}

func (r Rule) periodMs() int64 {
	if len(r.Limit) > 1 {
		return r.Limit[1]
	}
	return 0
}

func (r Rule) maxBurst() int64 {
	if len(r.Limit) > 2 {
		return r.Limit[2]
	}
	return 0
}

func (r Rule) burstPeriodMs() int64 {
	if len(r.Limit) > 3 {
		return r.Limit[3]
	}
	return 0
}

// LimitArgs is the 5-tuple passed to the atomic limiter script.
type LimitArgs struct {
	Quantity      int64
	MaxCount      int64
	PeriodMs      int64
	MaxBurst      int64
	BurstPeriodMs int64
}

// Unconfigured reports whether these args are the "no limit configured"
// sentinel that LimitArgs returns for an empty id. A rule with no limit
// tuple still resolves to a non-zero quantity, so it is not this sentinel;
// it fails the limiter's argument validation instead.
func (a LimitArgs) Unconfigured() bool {
	return a == LimitArgs{}
}

func newLimitArgs(quantity int64, rule Rule) LimitArgs {
	return LimitArgs{
		Quantity:      quantity,
		MaxCount:      rule.maxCount(),
		PeriodMs:      rule.periodMs(),
		MaxBurst:      rule.maxBurst(),
		BurstPeriodMs: rule.burstPeriodMs(),
	}
}

// RedRuleEntry overrides the per-path cost for a scope until Expiry (ms).
type RedRuleEntry struct {
	Quantity int64
	Expiry   int64
}

type state struct {
	defaultRule Rule
	floorRule   Rule
	rules       map[string]Rule

	redlist       map[string]int64 // id -> expiry ms
	redrules      map[string]RedRuleEntry
	redlistCursor int64
}

// Resolver holds the static RuleSet plus the dynamic redlist/redrules
// overlay mirrored in from the backend by the sync worker. It is a
// single-writer, many-reader structure: one RWMutex guards the whole
// (redlist, redrules, cursor) triple so readers always see a consistent
// point-in-time snapshot.
type Resolver struct {
	mu sync.RWMutex
	s  state
}

// NewResolver builds a Resolver from the static configuration's rule map,
// splitting out the reserved "*" (default) and "-" (floor) scopes the way
// the config is expressed in TOML (§10.1 / original conf.rs).
func NewResolver(staticRules map[string]Rule) *Resolver {
	s := state{
		// Defaults mirror the reference implementation's built-in fallback
		// before any configuration is applied.
		floorRule:   Rule{Limit: []int64{3, 10000, 1, 1000}},
		defaultRule: Rule{Limit: []int64{10, 10000, 3, 1000}},
		rules:       make(map[string]Rule),
		redlist:     make(map[string]int64),
		redrules:    make(map[string]RedRuleEntry),
	}

	for scope, rule := range staticRules {
		switch scope {
		case DefaultScope:
			s.defaultRule = rule
		case FloorScope:
			s.floorRule = rule
		default:
			s.rules[scope] = rule
		}
	}

	return &Resolver{s: s}
}

func scopedPath(scope, path string) string {
	b := builderpool.Get()
	defer builderpool.Put(b)
	b.WriteString(scope)
	b.WriteByte(':')
	b.WriteString(path)
	return b.String()
}

// LimitArgs resolves the effective limit parameters for one request.
//
// Precedence is deliberate: an active redlist entry for id demotes the
// caller to the floor rule before any per-path override is considered, so
// a quarantined caller cannot escape quarantine via a lenient path rule.
func (r *Resolver) LimitArgs(now int64, scope, path, id string) LimitArgs {
	if id == "" {
		return LimitArgs{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if expiry, ok := r.s.redlist[id]; ok && expiry >= now {
		return newLimitArgs(1, r.s.floorRule)
	}

	rule, ok := r.s.rules[scope]
	if !ok {
		rule = r.s.defaultRule
	}

	if entry, ok := r.s.redrules[scopedPath(scope, path)]; ok && entry.Expiry >= now {
		return newLimitArgs(entry.Quantity, rule)
	}

	quantity, ok := rule.Path[path]
	if !ok {
		quantity = rule.Quantity
	}
	if quantity == 0 {
		quantity = 1
	}

	return newLimitArgs(quantity, rule)
}

// Redlist returns a snapshot of currently-live redlist entries, filtered by
// expiry, for introspection (GET /redlist).
func (r *Resolver) Redlist(now int64) map[string]int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int64, len(r.s.redlist))
	for id, expiry := range r.s.redlist {
		if expiry >= now {
			out[id] = expiry
		}
	}
	return out
}

// Redrules returns a snapshot of currently-live redrules entries, filtered
// by expiry, for introspection (GET /redrules).
func (r *Resolver) Redrules(now int64) map[string]RedRuleEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]RedRuleEntry, len(r.s.redrules))
	for key, entry := range r.s.redrules {
		if entry.Expiry >= now {
			out[key] = entry
		}
	}
	return out
}

// Cursor returns the current redlist scan watermark.
func (r *Resolver) Cursor() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.s.redlistCursor
}

// DynUpdate replaces the dynamic state under a single exclusive lock: the
// cursor advances monotonically, stale entries (expiry <= now) are dropped,
// and each delta entry with expiry > now is inserted. The delta is a full
// overlay of everything currently live, not a patch — callers (the sync
// worker) are responsible for including every live entry they discovered.
func (r *Resolver) DynUpdate(now, cursor int64, redlistDelta map[string]int64, redrulesDelta map[string]RedRuleEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cursor > r.s.redlistCursor {
		r.s.redlistCursor = cursor
	}

	for id, expiry := range r.s.redlist {
		if expiry <= now {
			delete(r.s.redlist, id)
		}
	}
	for id, expiry := range redlistDelta {
		if expiry > now {
			r.s.redlist[id] = expiry
		}
	}

	for key, entry := range r.s.redrules {
		if entry.Expiry <= now {
			delete(r.s.redrules, key)
		}
	}
	for key, entry := range redrulesDelta {
		if entry.Expiry > now {
			r.s.redrules[key] = entry
		}
	}
}
