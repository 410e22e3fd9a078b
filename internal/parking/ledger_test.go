package parking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloseMinimumAndRounding(t *testing.T) {
	env := newTestEnv(t, SlotStandard, SlotStandard)
	ctx := context.Background()

	short := env.park(t, admin, "SHORT01", VehicleCar)
	env.clock.Advance(time.Second)
	closed, err := env.engine.Exit(ctx, admin, short.ID)
	require.NoError(t, err)
	assert.Equal(t, 5.0, closed.Fee)

	long := env.park(t, admin, "LONG001", VehicleCar)
	env.clock.Advance(61 * time.Minute)
	closed, err = env.engine.Exit(ctx, admin, long.ID)
	require.NoError(t, err)
	assert.Equal(t, 10.0, closed.Fee)
}

func TestCloseTwiceIsAlreadyClosed(t *testing.T) {
	env := newTestEnv(t, SlotStandard)
	ctx := context.Background()

	s := env.park(t, alice, "ABC1234", VehicleCar)
	env.clock.Advance(30 * time.Minute)

	first, err := env.engine.Exit(ctx, alice, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 5.0, first.Fee)

	env.clock.Advance(5 * time.Hour)
	_, err = env.engine.Exit(ctx, alice, s.ID)
	assert.ErrorIs(t, err, ErrAlreadyClosed)

	stored, err := env.engine.Session(s.ID)
	require.NoError(t, err)
	assert.Equal(t, first, stored, "second close must not change the record")
	checkInvariant(t, env.engine)
}

func TestCloseUnknownSession(t *testing.T) {
	env := newTestEnv(t, SlotStandard)
	_, err := env.engine.Exit(context.Background(), admin, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCloseOwnSessionsOnly(t *testing.T) {
	env := newTestEnv(t, SlotStandard)
	ctx := context.Background()

	s := env.park(t, alice, "ABC1234", VehicleCar)

	_, err := env.engine.Exit(ctx, bob, s.ID)
	assert.ErrorIs(t, err, ErrNotPermitted)

	_, err = env.engine.Exit(ctx, admin, s.ID)
	assert.NoError(t, err)
}

func TestCloseRejectsInvalidRate(t *testing.T) {
	env := newTestEnv(t, SlotStandard)
	s := env.park(t, admin, "ABC1234", VehicleCar)

	_, err := env.engine.ledger.Close(admin, s.ID, -5)
	assert.ErrorIs(t, err, ErrInvalidRate)

	got, err := env.engine.Session(s.ID)
	require.NoError(t, err)
	assert.True(t, got.IsOpen())
}

func TestCloseAfterClockRollback(t *testing.T) {
	env := newTestEnv(t, SlotStandard)

	s := env.park(t, admin, "ABC1234", VehicleCar)
	env.clock.Set(t0.Add(-3 * time.Hour))

	closed, err := env.engine.Exit(context.Background(), admin, s.ID)
	require.NoError(t, err)
	require.NotNil(t, closed.ExitTime)
	assert.False(t, closed.ExitTime.Before(closed.EntryTime))
	assert.Equal(t, 5.0, closed.Fee)
}

func TestListOpenMostRecentFirst(t *testing.T) {
	inv := NewInventory()
	require.NoError(t, inv.AddLot(testLot("LOT-1"), []SlotType{SlotStandard, SlotStandard}))
	require.NoError(t, inv.AddLot(testLot("LOT-2"), []SlotType{SlotStandard}))
	clock := NewManualClock(t0)
	e, err := NewEngine(inv, Options{Clock: clock, HourlyRate: 5})
	require.NoError(t, err)
	ctx := context.Background()

	a, err := e.Park(ctx, admin, AllocationRequest{LotID: "LOT-1", Plate: "AAA0001", VehicleType: VehicleCar})
	require.NoError(t, err)
	clock.Advance(time.Minute)
	b, err := e.Park(ctx, admin, AllocationRequest{LotID: "LOT-2", Plate: "BBB0002", VehicleType: VehicleCar})
	require.NoError(t, err)
	clock.Advance(time.Minute)
	c, err := e.Park(ctx, admin, AllocationRequest{LotID: "LOT-1", Plate: "CCC0003", VehicleType: VehicleCar})
	require.NoError(t, err)

	all := e.ListOpen("")
	require.Len(t, all, 3)
	assert.Equal(t, []string{c.ID, b.ID, a.ID}, []string{all[0].ID, all[1].ID, all[2].ID})

	lot1 := e.ListOpen("LOT-1")
	require.Len(t, lot1, 2)
	assert.Equal(t, c.ID, lot1[0].ID)
	assert.Equal(t, a.ID, lot1[1].ID)
}

func TestCloseAllRequiresAdmin(t *testing.T) {
	env := newTestEnv(t, SlotStandard)
	env.park(t, alice, "ABC1234", VehicleCar)

	_, err := env.engine.CloseAll(context.Background(), alice, "LOT-1")
	assert.ErrorIs(t, err, ErrNotPermitted)
	assert.Len(t, env.engine.ListOpen("LOT-1"), 1)
}

func TestCloseAllClosesSnapshotOnly(t *testing.T) {
	env := newTestEnv(t, SlotStandard, SlotStandard, SlotStandard)
	ctx := context.Background()

	env.park(t, alice, "AAA0001", VehicleCar)
	env.park(t, bob, "BBB0002", VehicleCar)
	env.clock.Advance(90 * time.Minute)

	// A session opened while the bulk close runs must survive it. The
	// snapshot is taken first, so parking after it stands in for that.
	snapshot := env.engine.ListOpen("LOT-1")
	late := env.park(t, admin, "LATE001", VehicleCar)

	var closed []Session
	for _, s := range snapshot {
		c, err := env.engine.ledger.closeOne(s.ID, s.SlotID, 5)
		require.NoError(t, err)
		closed = append(closed, c)
	}
	require.Len(t, closed, 2)
	for _, c := range closed {
		assert.Equal(t, 10.0, c.Fee)
	}

	open := env.engine.ListOpen("LOT-1")
	require.Len(t, open, 1)
	assert.Equal(t, late.ID, open[0].ID)

	bulk, err := env.engine.CloseAll(ctx, admin, "LOT-1")
	require.NoError(t, err)
	require.Len(t, bulk, 1)
	assert.Equal(t, late.ID, bulk[0].ID)
	assert.Empty(t, env.engine.ListOpen(""))
	checkInvariant(t, env.engine)
}

func TestCloseAllUnknownLot(t *testing.T) {
	env := newTestEnv(t, SlotStandard)
	_, err := env.engine.CloseAll(context.Background(), admin, "nope")
	assert.ErrorIs(t, err, ErrLotNotFound)
}

func TestListByUser(t *testing.T) {
	env := newTestEnv(t, SlotStandard, SlotStandard)
	ctx := context.Background()

	first := env.park(t, alice, "AAA0001", VehicleCar)
	env.clock.Advance(time.Hour)
	_, err := env.engine.Exit(ctx, alice, first.ID)
	require.NoError(t, err)
	second := env.park(t, alice, "AAA0001", VehicleCar)
	env.park(t, bob, "BBB0002", VehicleCar)

	history := env.engine.ListByUser("alice")
	require.Len(t, history, 2)
	assert.Equal(t, second.ID, history[0].ID)
	assert.Equal(t, SessionClosed, history[1].Status)
}

func TestFindByPlate(t *testing.T) {
	env := newTestEnv(t, SlotStandard, SlotStandard)
	ctx := context.Background()

	s := env.park(t, alice, "ABC1234", VehicleCar)
	env.park(t, bob, "XYZ9876", VehicleCar)

	found, err := env.engine.FindByPlate("abc1234")
	require.NoError(t, err)
	assert.Equal(t, s.ID, found.ID)

	_, err = env.engine.Exit(ctx, alice, s.ID)
	require.NoError(t, err)
	_, err = env.engine.FindByPlate("ABC1234")
	assert.ErrorIs(t, err, ErrSessionNotFound, "closed sessions are not found")
}
