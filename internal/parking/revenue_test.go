package parking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRevenueEmpty(t *testing.T) {
	var nilAgg *RevenueAggregator
	rev := nilAgg.Since(t0)
	assert.Zero(t, rev.Total)
	assert.Zero(t, rev.Count)

	env := newTestEnv(t, SlotStandard)
	rev = env.engine.RevenueToday()
	assert.Zero(t, rev.Total)
	assert.Zero(t, rev.Count)
}

func TestRevenueSince(t *testing.T) {
	env := newTestEnv(t, SlotStandard, SlotStandard)
	ctx := context.Background()

	a := env.park(t, admin, "AAA0001", VehicleCar)
	b := env.park(t, admin, "BBB0002", VehicleCar)

	env.clock.Advance(2 * time.Hour)
	_, err := env.engine.Exit(ctx, admin, a.ID)
	require.NoError(t, err)
	cutoff := env.clock.Now()

	// still open sessions never count
	rev := env.engine.RevenueSince(t0)
	assert.Equal(t, 10.0, rev.Total)
	assert.Equal(t, 1, rev.Count)

	env.clock.Advance(time.Hour)
	_, err = env.engine.Exit(ctx, admin, b.ID)
	require.NoError(t, err)

	rev = env.engine.RevenueSince(t0)
	assert.Equal(t, 25.0, rev.Total)
	assert.Equal(t, 2, rev.Count)

	rev = env.engine.RevenueSince(cutoff.Add(time.Nanosecond))
	assert.Equal(t, 15.0, rev.Total)
	assert.Equal(t, 1, rev.Count)

	rev = env.engine.RevenueSince(cutoff)
	assert.Equal(t, 2, rev.Count, "exit exactly at the cutoff counts")
}

func TestRevenueToday(t *testing.T) {
	env := newTestEnv(t, SlotStandard)
	ctx := context.Background()

	s := env.park(t, admin, "AAA0001", VehicleCar)
	env.clock.Advance(time.Hour)
	_, err := env.engine.Exit(ctx, admin, s.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, env.engine.RevenueToday().Count)

	env.clock.Advance(24 * time.Hour)
	assert.Zero(t, env.engine.RevenueToday().Count)
}

func TestStartOfDay(t *testing.T) {
	got := StartOfDay(time.Date(2026, 3, 14, 17, 45, 3, 9, time.UTC))
	assert.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), got)
}
