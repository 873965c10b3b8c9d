package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver() *Resolver {
	return NewResolver(map[string]Rule{
		DefaultScope: {Limit: []int64{10, 10000, 3, 1000}},
		FloorScope:   {Limit: []int64{3, 10000, 1, 1000}},
		"core": {
			Limit:    []int64{100, 10000, 50, 2000},
			Quantity: 1,
			Path:     map[string]int64{"GET /v1/file/list": 5},
		},
	})
}

func TestLimitArgsEmptyID(t *testing.T) {
	r := newTestResolver()
	args := r.LimitArgs(1000, "core", "GET /v1/file/list", "")
	assert.True(t, args.Unconfigured())
}

func TestLimitArgsDefaultScope(t *testing.T) {
	r := newTestResolver()
	args := r.LimitArgs(1000, "unknown-scope", "GET /x", "user1")
	want := LimitArgs{Quantity: 1, MaxCount: 10, PeriodMs: 10000, MaxBurst: 3, BurstPeriodMs: 1000}
	assert.Equal(t, want, args)
}

func TestLimitArgsPathOverride(t *testing.T) {
	r := newTestResolver()
	args := r.LimitArgs(1000, "core", "GET /v1/file/list", "user1")
	require.EqualValues(t, 5, args.Quantity)
	assert.EqualValues(t, 100, args.MaxCount)
	assert.EqualValues(t, 50, args.MaxBurst)
}

func TestLimitArgsRedlistPrecedence(t *testing.T) {
	r := newTestResolver()
	r.DynUpdate(1000, 0, map[string]int64{"u1": 5000}, map[string]RedRuleEntry{
		"core:GET /v1/file/list": {Quantity: 7, Expiry: 5000},
	})

	demoted := r.LimitArgs(2000, "core", "GET /v1/file/list", "u1")
	assert.EqualValues(t, 1, demoted.Quantity, "redlisted id should use floor rule quantity")
	assert.EqualValues(t, 3, demoted.MaxCount, "redlisted id should use floor rule max count")

	notDemoted := r.LimitArgs(2000, "core", "GET /v1/file/list", "u2")
	assert.EqualValues(t, 7, notDemoted.Quantity, "non-redlisted id should use redrule quantity")
	assert.EqualValues(t, 100, notDemoted.MaxCount, "non-redlisted id keeps scope limits")
}

func TestDynUpdateDropsExpired(t *testing.T) {
	r := newTestResolver()
	r.DynUpdate(1000, 5, map[string]int64{"u1": 1500}, nil)
	r.DynUpdate(2000, 3, nil, nil) // cursor must not regress, expired entries must be dropped

	assert.EqualValues(t, 5, r.Cursor(), "cursor must not regress")
	assert.Empty(t, r.Redlist(2000), "expired entries must be dropped")
}

func TestRedlistSnapshotFiltersExpiry(t *testing.T) {
	r := newTestResolver()
	r.DynUpdate(1000, 1, map[string]int64{"live": 5000, "dead": 100}, nil)

	got := r.Redlist(1000)
	assert.NotContains(t, got, "dead")
	assert.Contains(t, got, "live")
}
