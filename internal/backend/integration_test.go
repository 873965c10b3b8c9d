//go:build integration

package backend

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// setupIntegrationClient dials a real Redis instance and loads the script
// module. The address comes from REDLIMIT_TEST_REDIS_ADDR, falling back to
// localhost:6379 (matching the pack's REDIS_ADDR convention). These tests
// are gated behind the "integration" build tag because miniredis does not
// implement the Functions API (FUNCTION LOAD / FCALL) the script module
// depends on, so unit tests elsewhere use a fake Backend instead.
func setupIntegrationClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("REDLIMIT_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	c, err := New(Config{Addr: addr})
	if err != nil {
		t.Skipf("real Redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, c.LoadScripts(ctx))

	return c
}

func uniqueKey(t *testing.T, suffix string) string {
	t.Helper()
	return t.Name() + ":" + suffix
}

// TestIntegrationLimitingBasicAdmit covers spec §8's basic-admit scenario:
// a request within maxCount is admitted with the expected count.
func TestIntegrationLimitingBasicAdmit(t *testing.T) {
	c := setupIntegrationClient(t)
	ctx := context.Background()
	key := uniqueKey(t, "basic")

	result, err := c.Limiting(ctx, key, 1, 10, 10000, 0, 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), result.Count)
	require.Equal(t, int64(0), result.WaitMs)
}

// TestIntegrationLimitingPeriodFullRejection covers the period-full
// rejection scenario: once count reaches maxCount, further calls are
// rejected with a positive wait.
func TestIntegrationLimitingPeriodFullRejection(t *testing.T) {
	c := setupIntegrationClient(t)
	ctx := context.Background()
	key := uniqueKey(t, "full")

	for i := 0; i < 3; i++ {
		result, err := c.Limiting(ctx, key, 1, 3, 10000, 0, 0)
		require.NoError(t, err)
		require.Equal(t, int64(0), result.WaitMs)
	}

	result, err := c.Limiting(ctx, key, 1, 3, 10000, 0, 0)
	require.NoError(t, err)
	require.Greater(t, result.WaitMs, int64(0))
}

// TestIntegrationLimitingFreshWindowAfterPTTL covers the fresh-window
// scenario: after the period key expires, a call starts a new window.
func TestIntegrationLimitingFreshWindowAfterPTTL(t *testing.T) {
	c := setupIntegrationClient(t)
	ctx := context.Background()
	key := uniqueKey(t, "fresh")

	result, err := c.Limiting(ctx, key, 2, 2, 300, 0, 0)
	require.NoError(t, err)
	require.Equal(t, int64(0), result.WaitMs)

	rejected, err := c.Limiting(ctx, key, 1, 2, 300, 0, 0)
	require.NoError(t, err)
	require.Greater(t, rejected.WaitMs, int64(0))

	time.Sleep(400 * time.Millisecond)

	fresh, err := c.Limiting(ctx, key, 1, 2, 300, 0, 0)
	require.NoError(t, err)
	require.Equal(t, int64(0), fresh.WaitMs)
	require.Equal(t, int64(1), fresh.Count)
}

// TestIntegrationLimitingQuantityExceedsMaxCount covers the quantity >
// maxCount edge case: the script must reject immediately without touching
// the stored counter.
func TestIntegrationLimitingQuantityExceedsMaxCount(t *testing.T) {
	c := setupIntegrationClient(t)
	ctx := context.Background()
	key := uniqueKey(t, "oversize")

	result, err := c.Limiting(ctx, key, 5, 3, 10000, 0, 0)
	require.NoError(t, err)
	require.Equal(t, int64(5), result.Count)
	require.Equal(t, int64(1), result.WaitMs)

	admitted, err := c.Limiting(ctx, key, 1, 3, 10000, 0, 0)
	require.NoError(t, err)
	require.Equal(t, int64(0), admitted.WaitMs)
	require.Equal(t, int64(1), admitted.Count)
}

// TestIntegrationLimitingBurstRecovery covers the burst-window scenario:
// a burst allowance admits short spikes above the steady rate but still
// rejects once max_burst is exhausted within burst_period_ms, recovering
// once the burst window rolls over.
func TestIntegrationLimitingBurstRecovery(t *testing.T) {
	c := setupIntegrationClient(t)
	ctx := context.Background()
	key := uniqueKey(t, "burst")

	for i := 0; i < 2; i++ {
		result, err := c.Limiting(ctx, key, 1, 10, 10000, 2, 300)
		require.NoError(t, err)
		require.Equal(t, int64(0), result.WaitMs)
	}

	rejected, err := c.Limiting(ctx, key, 1, 10, 10000, 2, 300)
	require.NoError(t, err)
	require.Greater(t, rejected.WaitMs, int64(0))

	time.Sleep(400 * time.Millisecond)

	recovered, err := c.Limiting(ctx, key, 1, 10, 10000, 2, 300)
	require.NoError(t, err)
	require.Equal(t, int64(0), recovered.WaitMs)
}

// TestIntegrationRedlistAddAndScan exercises the redlist dynamic list
// script end to end: adding an entry, scanning it back, and sweeping it
// out once its ttl lapses.
func TestIntegrationRedlistAddAndScan(t *testing.T) {
	c := setupIntegrationClient(t)
	ctx := context.Background()
	ns := uniqueKey(t, "redlist")

	require.NoError(t, c.RedlistAdd(ctx, ns, map[string]int64{"caller-1": 500}))

	_, members, hasStale, _, err := c.RedlistScan(ctx, ns, 0, time.Now().UnixMilli())
	require.NoError(t, err)
	require.False(t, hasStale)
	require.Contains(t, members, "caller-1")

	time.Sleep(600 * time.Millisecond)

	require.NoError(t, c.RedlistAdd(ctx, ns, nil))
	_, membersAfterSweep, _, _, err := c.RedlistScan(ctx, ns, 0, time.Now().UnixMilli())
	require.NoError(t, err)
	require.NotContains(t, membersAfterSweep, "caller-1")
}

// TestIntegrationRedrulesAddAndAll exercises the redrules dynamic list
// script, verifying the ttl sorted set and data hash kept as two separate
// keys do not collide (the WRONGTYPE regression the split fixed).
func TestIntegrationRedrulesAddAndAll(t *testing.T) {
	c := setupIntegrationClient(t)
	ctx := context.Background()
	ns := uniqueKey(t, "redrules")

	require.NoError(t, c.RedrulesAdd(ctx, ns, "scope-a", "/path", 5, 1000))
	require.NoError(t, c.RedrulesAdd(ctx, ns, "scope-b", "/other", 2, 1000))

	tuples, err := c.RedrulesAll(ctx, ns)
	require.NoError(t, err)
	require.Len(t, tuples, 2)

	time.Sleep(1100 * time.Millisecond)
	require.NoError(t, c.RedrulesSweep(ctx, ns))

	swept, err := c.RedrulesAll(ctx, ns)
	require.NoError(t, err)
	require.Empty(t, swept)
}

// TestIntegrationRedlistPrecedence covers the redlist-precedence scenario
// from spec §8: a demoted id is limited by the floor rule's counter key
// regardless of the per-path redrule in effect, exercised here at the raw
// script level by confirming redlist and redrules state are independent.
func TestIntegrationRedlistPrecedence(t *testing.T) {
	c := setupIntegrationClient(t)
	ctx := context.Background()
	ns := uniqueKey(t, "precedence")

	require.NoError(t, c.RedlistAdd(ctx, ns, map[string]int64{"caller-2": 5000}))
	require.NoError(t, c.RedrulesAdd(ctx, ns, "default", "/path", 9, 5000))

	_, members, _, _, err := c.RedlistScan(ctx, ns, 0, time.Now().UnixMilli())
	require.NoError(t, err)
	require.Contains(t, members, "caller-2")

	tuples, err := c.RedrulesAll(ctx, ns)
	require.NoError(t, err)
	require.Len(t, tuples, 1)
}
