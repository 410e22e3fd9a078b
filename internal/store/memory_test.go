package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking-allocator/internal/parking"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func openSession(id string, entry time.Time) parking.Session {
	return parking.Session{
		ID:            id,
		Plate:         "ABC1234",
		VehicleType:   parking.VehicleCar,
		UserID:        "alice",
		SlotID:        parking.SlotID{LotID: "LOT-1", Number: 1},
		EntryTime:     entry,
		Status:        parking.SessionOpen,
		PaymentStatus: parking.PaymentPending,
	}
}

func stored(t *testing.T, m *MemoryStore, id string) parking.Session {
	t.Helper()
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	require.Truef(t, ok, "session %s not stored", id)
	return s
}

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	require.NoError(t, m.InsertSession(ctx, openSession("a", t0)))
	require.NoError(t, m.InsertSession(ctx, openSession("b", t0.Add(time.Minute))))

	open, err := m.ListOpenSessions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "b", open[0].ID)

	require.NoError(t, m.CompleteSession(ctx, "a", 10, t0.Add(2*time.Hour)))
	got := stored(t, m, "a")
	assert.Equal(t, parking.SessionClosed, got.Status)
	assert.Equal(t, parking.PaymentPaid, got.PaymentStatus)
	assert.Equal(t, 10.0, got.Fee)

	open, err = m.ListOpenSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestMemoryStoreIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	s := openSession("a", t0)
	require.NoError(t, m.InsertSession(ctx, s))
	require.NoError(t, m.CompleteSession(ctx, "a", 5, t0.Add(time.Hour)))

	// replays of either write must not reopen or re-price the session
	require.NoError(t, m.InsertSession(ctx, s))
	require.NoError(t, m.CompleteSession(ctx, "a", 50, t0.Add(10*time.Hour)))

	got := stored(t, m, "a")
	assert.Equal(t, 5.0, got.Fee)
	assert.Equal(t, parking.SessionClosed, got.Status)
}

func TestMemoryStoreErrors(t *testing.T) {
	m := NewMemoryStore()

	err := m.CompleteSession(context.Background(), "missing", 5, t0)
	assert.ErrorIs(t, err, parking.ErrSessionNotFound)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.InsertSession(ctx, openSession("a", t0)), context.Canceled)
}

func TestMemoryStoreBacksEngine(t *testing.T) {
	inv := parking.NewInventory()
	require.NoError(t, inv.AddLot(parking.Lot{ID: "LOT-1"}, []parking.SlotType{parking.SlotStandard}))
	clock := parking.NewManualClock(t0)
	m := NewMemoryStore()

	e, err := parking.NewEngine(inv, parking.Options{Clock: clock, HourlyRate: 5, Store: m})
	require.NoError(t, err)

	ctx := context.Background()
	admin := parking.Caller{UserID: "admin", Role: parking.RoleAdmin}
	s, err := e.Park(ctx, admin, parking.AllocationRequest{LotID: "LOT-1", Plate: "abc1234", VehicleType: parking.VehicleCar})
	require.NoError(t, err)

	// a fresh engine over the same store picks the session back up
	inv2 := parking.NewInventory()
	require.NoError(t, inv2.AddLot(parking.Lot{ID: "LOT-1"}, []parking.SlotType{parking.SlotStandard}))
	e2, err := parking.NewEngine(inv2, parking.Options{Clock: clock, HourlyRate: 5, Store: m})
	require.NoError(t, err)
	n, err := e2.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	clock.Advance(3 * time.Hour)
	closed, err := e2.Exit(ctx, admin, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 15.0, closed.Fee)

	assert.Equal(t, 15.0, stored(t, m, s.ID).Fee)
}

func TestMemoryStoreListClosedSince(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, m.InsertSession(ctx, openSession(id, t0)))
	}
	require.NoError(t, m.CompleteSession(ctx, "b", 10, t0.Add(3*time.Hour)))
	require.NoError(t, m.CompleteSession(ctx, "a", 5, t0.Add(time.Hour)))

	closed, err := m.ListClosedSince(ctx, t0)
	require.NoError(t, err)
	require.Len(t, closed, 2)
	assert.Equal(t, "a", closed[0].ID, "oldest exit first")
	assert.Equal(t, "b", closed[1].ID)

	closed, err = m.ListClosedSince(ctx, t0.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, "b", closed[0].ID)
}

func TestMemoryStoreRevenueSurvivesRestart(t *testing.T) {
	lot := parking.Lot{ID: "LOT-1"}
	clock := parking.NewManualClock(t0)
	m := NewMemoryStore()
	ctx := context.Background()
	admin := parking.Caller{UserID: "admin", Role: parking.RoleAdmin}

	inv := parking.NewInventory()
	require.NoError(t, inv.AddLot(lot, []parking.SlotType{parking.SlotStandard}))
	e, err := parking.NewEngine(inv, parking.Options{Clock: clock, HourlyRate: 5, Store: m})
	require.NoError(t, err)
	s, err := e.Park(ctx, admin, parking.AllocationRequest{LotID: "LOT-1", Plate: "abc1234", VehicleType: parking.VehicleCar})
	require.NoError(t, err)
	clock.Advance(90 * time.Minute)
	_, err = e.Exit(ctx, admin, s.ID)
	require.NoError(t, err)

	inv2 := parking.NewInventory()
	require.NoError(t, inv2.AddLot(lot, []parking.SlotType{parking.SlotStandard}))
	e2, err := parking.NewEngine(inv2, parking.Options{Clock: clock, HourlyRate: 5, Store: m})
	require.NoError(t, err)
	_, err = e2.Restore(ctx)
	require.NoError(t, err)

	rev := e2.RevenueToday()
	assert.Equal(t, 10.0, rev.Total)
	assert.Equal(t, 1, rev.Count)
}
