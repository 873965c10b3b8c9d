// Package backend wraps the shared coordination store (Redis) behind the
// request surface the rate limiter core needs: a connection pool and a
// thin wrapper that invokes the atomic script module (§4.1/§4.2 of the
// spec) and reloads it transparently if the backend ever reports the
// module missing.
package backend

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"context"

	"github.com/redis/go-redis/v9"
)

//go:embed scripts/redlimit.lua
var redlimitScript string

// Config controls the pool and deadlines used to reach the backend. Matches
// the pool knobs described in spec §5: bounded pool size, idle timeout,
// connect timeout 3s, command timeout tighter than the request deadline.
type Config struct {
	Addr     string
	Password string
	DB       int

	// PoolSize bounds the connection pool (default ~10, configurable up to 1000).
	PoolSize int
	// IdleTimeout closes idle connections after this long (120-600s typical).
	IdleTimeout time.Duration
	// DialTimeout bounds establishing a new connection.
	DialTimeout time.Duration
	// CommandTimeout bounds a single command round trip, tighter than the
	// 100ms request deadline enforced by the limiter service.
	CommandTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PoolSize == 0 {
		c.PoolSize = 10
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 120 * time.Second
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 3 * time.Second
	}
	if c.CommandTimeout == 0 {
		c.CommandTimeout = 300 * time.Millisecond
	}
	return c
}

// Client is the Backend Client component: a pooled connection plus a
// request wrapper that loads the script module on startup and reloads it
// transparently if the backend ever reports the function missing.
type Client struct {
	rdb redis.UniversalClient
}

// New dials the backend and verifies connectivity.
func New(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ConnMaxIdleTime: cfg.IdleTimeout,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.CommandTimeout,
		WriteTimeout: cfg.CommandTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("backend: ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// NewWithClient wraps an already-connected client, mainly for tests against
// miniredis.
func NewWithClient(rdb redis.UniversalClient) *Client {
	return &Client{rdb: rdb}
}

// Ping checks backend connectivity, used by the background health monitor.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Stats exposes the raw go-redis pool statistics. The /version route logs
// the PoolStats form below, not this one.
func (c *Client) Stats() *redis.PoolStats {
	return c.rdb.PoolStats()
}

// PoolStats reports pool occupancy as plain integers, decoupling callers
// (e.g. the HTTP /version handler) from the go-redis type.
func (c *Client) PoolStats() map[string]int64 {
	s := c.rdb.PoolStats()
	return map[string]int64{
		"connections":      int64(s.TotalConns),
		"idle_connections":  int64(s.IdleConns),
		"stale_connections": int64(s.StaleConns),
	}
}

// LoadScripts loads the script module idempotently. "already exists" is
// treated as success, matching FUNCTION LOAD semantics called out in
// spec §9 (script module versioning).
func (c *Client) LoadScripts(ctx context.Context) error {
	err := c.rdb.FunctionLoad(ctx, redlimitScript).Err()
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return fmt.Errorf("backend: load script module: %w", err)
	}
	return nil
}

// fcall invokes a registered function, transparently reloading the script
// module and retrying once if the backend reports it missing.
func (c *Client) fcall(ctx context.Context, fn string, keys []string, args ...any) (*redis.Cmd, error) {
	cmd := c.rdb.FCall(ctx, fn, keys, args...)
	if err := cmd.Err(); err != nil {
		if IsFunctionMissing(err) {
			if loadErr := c.LoadScripts(ctx); loadErr != nil {
				return nil, loadErr
			}
			cmd = c.rdb.FCall(ctx, fn, keys, args...)
			if err := cmd.Err(); err != nil {
				return nil, err
			}
			return cmd, nil
		}
		return nil, err
	}
	return cmd, nil
}

// LimitResult is the 2-tuple returned by the atomic limiter script.
type LimitResult struct {
	Count  int64
	WaitMs int64
}

// Limiting invokes the atomic limiter script (§4.2). Burst arguments are
// only appended when maxBurst > 0, matching the reference implementation's
// conditional arity.
func (c *Client) Limiting(ctx context.Context, key string, quantity, maxCount, periodMs, maxBurst, burstPeriodMs int64) (LimitResult, error) {
	args := []any{quantity, maxCount, periodMs}
	if maxBurst > 0 {
		args = append(args, maxBurst)
		if burstPeriodMs > 0 {
			args = append(args, burstPeriodMs)
		}
	}

	cmd, err := c.fcall(ctx, "limiting", []string{key}, args...)
	if err != nil {
		return LimitResult{}, err
	}

	vals, err := cmd.Slice()
	if err != nil || len(vals) != 2 {
		return LimitResult{}, fmt.Errorf("backend: unexpected limiting reply: %v (%w)", vals, err)
	}
	count, err1 := toInt64(vals[0])
	wait, err2 := toInt64(vals[1])
	if err1 != nil || err2 != nil {
		return LimitResult{}, fmt.Errorf("backend: non-integer limiting reply: %v", vals)
	}
	return LimitResult{Count: count, WaitMs: wait}, nil
}

// RedlistAdd inserts or sweeps the redlist set. An empty entries map
// performs a sweep-only call.
func (c *Client) RedlistAdd(ctx context.Context, ns string, entries map[string]int64) error {
	args := make([]any, 0, len(entries)*2)
	for member, ttlMs := range entries {
		args = append(args, member, ttlMs)
	}
	_, err := c.fcall(ctx, "redlist_add", []string{ns}, args...)
	return err
}

// RedlistScan range-scans the redlist cursor set starting at cursor,
// returning the members whose ttl has not yet lapsed and the new cursor.
// Stale members observed are not returned but are reported via hasStale so
// the caller can trigger a sweep.
func (c *Client) RedlistScan(ctx context.Context, ns string, cursor int64, now int64) (newCursor int64, members map[string]int64, hasStale bool, hasMore bool, err error) {
	cmd, err := c.fcall(ctx, "redlist_scan", []string{ns}, cursor)
	if err != nil {
		return cursor, nil, false, false, err
	}

	raw, err := cmd.Slice()
	if err != nil {
		return cursor, nil, false, false, fmt.Errorf("backend: unexpected redlist_scan reply: %w", err)
	}
	if len(raw) == 0 {
		return cursor, map[string]int64{}, false, false, nil
	}

	newCursorF, err := toFloat64(raw[0])
	if err != nil {
		return cursor, nil, false, false, fmt.Errorf("backend: bad redlist_scan cursor: %w", err)
	}
	newCursor = int64(newCursorF)
	if newCursor == cursor {
		newCursor = cursor + 1
	}

	members = make(map[string]int64)
	pairCount := 0
	for i := 1; i+1 < len(raw); i += 2 {
		pairCount++
		member, ok := raw[i].(string)
		if !ok {
			continue
		}
		ttlF, err := toFloat64(raw[i+1])
		if err != nil {
			continue
		}
		ttl := int64(ttlF)
		if ttl > now {
			members[member] = ttl
		} else {
			hasStale = true
		}
	}

	hasMore = pairCount >= 10000
	return newCursor, members, hasStale, hasMore, nil
}

// RedrulesAdd inserts one redrule override.
func (c *Client) RedrulesAdd(ctx context.Context, ns, scope, path string, quantity, ttlMs int64) error {
	_, err := c.fcall(ctx, "redrules_add", []string{ns}, scope, path, quantity, ttlMs)
	return err
}

// RedrulesSweep triggers a sweep-only call (empty args) on the redrules set.
func (c *Client) RedrulesSweep(ctx context.Context, ns string) error {
	_, err := c.fcall(ctx, "redrules_add", []string{ns})
	return err
}

// RedruleTuple is a decoded [scope, path, quantity, expiry] entry.
type RedruleTuple struct {
	Scope    string
	Path     string
	Quantity int64
	Expiry   int64
}

// RedrulesAll returns every stored redrule tuple, live or stale; the caller
// filters by expiry (matching the reference implementation, which also
// returns raw hash values for the caller to filter).
func (c *Client) RedrulesAll(ctx context.Context, ns string) ([]RedruleTuple, error) {
	cmd, err := c.fcall(ctx, "redrules_all", []string{ns})
	if err != nil {
		return nil, err
	}

	raw, err := cmd.Slice()
	if err != nil {
		return nil, fmt.Errorf("backend: unexpected redrules_all reply: %w", err)
	}

	out := make([]RedruleTuple, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var tuple []any
		if err := json.Unmarshal([]byte(s), &tuple); err != nil || len(tuple) != 4 {
			continue
		}
		scope, ok1 := tuple[0].(string)
		path, ok2 := tuple[1].(string)
		quantity, ok3 := tuple[2].(float64)
		expiry, ok4 := tuple[3].(float64)
		if !ok1 || !ok2 || !ok3 || !ok4 {
			continue
		}
		out = append(out, RedruleTuple{
			Scope:    scope,
			Path:     path,
			Quantity: int64(quantity),
			Expiry:   int64(expiry),
		})
	}
	return out, nil
}

// Close releases pooled connections.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func toInt64(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case string:
		return strconv.ParseInt(t, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func toFloat64(v any) (float64, error) {
	switch t := v.(type) {
	case string:
		return strconv.ParseFloat(t, 64)
	case float64:
		return t, nil
	case int64:
		return float64(t), nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
