package parking

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

var (
	admin  = Caller{UserID: "admin", Role: RoleAdmin}
	alice  = Caller{UserID: "alice", Role: RoleClient}
	bob    = Caller{UserID: "bob", Role: RoleClient}
	simBot = Caller{UserID: "1", Role: RoleAdmin}
)

func testLot(id string) Lot {
	return Lot{ID: id, Name: "Test Garage", Location: "1 Test St", Category: LotStructure}
}

func newInventory(t *testing.T, lotID string, slots ...SlotType) *Inventory {
	t.Helper()
	inv := NewInventory()
	require.NoError(t, inv.AddLot(testLot(lotID), slots))
	return inv
}

type testEnv struct {
	engine *Engine
	clock  *ManualClock
	store  *fakeStore
}

func newTestEnv(t *testing.T, slots ...SlotType) *testEnv {
	t.Helper()
	inv := newInventory(t, "LOT-1", slots...)
	clock := NewManualClock(t0)
	store := newFakeStore()
	e, err := NewEngine(inv, Options{
		Clock:      clock,
		HourlyRate: 5.0,
		Store:      store,
		Retry:      RetryPolicy{MaxTries: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
	})
	require.NoError(t, err)
	return &testEnv{engine: e, clock: clock, store: store}
}

func (env *testEnv) park(t *testing.T, caller Caller, plate string, vt VehicleType) Session {
	t.Helper()
	s, err := env.engine.Park(context.Background(), caller, AllocationRequest{
		LotID: "LOT-1", Plate: plate, VehicleType: vt,
	})
	require.NoError(t, err)
	return s
}

// checkInvariant asserts that every slot is occupied iff exactly one open
// session, stored or still pending, references it.
func checkInvariant(t *testing.T, e *Engine) {
	t.Helper()
	refs := e.ledger.openSlots()
	views, err := e.inventory.Snapshot("")
	require.NoError(t, err)
	for _, v := range views {
		id, ok := refs[v.ID]
		if v.Occupied {
			require.Truef(t, ok, "slot %s occupied without an open session", v.ID)
			require.Equal(t, id, v.SessionID)
		} else {
			require.Falsef(t, ok, "slot %s free but referenced by %s", v.ID, id)
		}
	}
	for _, s := range e.ListOpen("") {
		require.Equal(t, s.ID, refs[s.SlotID])
	}
}

var errStoreDown = errors.New("store unavailable")

type fakeStore struct {
	mu          sync.Mutex
	rows        map[string]Session
	failInserts int
	failCloses  int
	inserts     int
	completes   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]Session)}
}

func (f *fakeStore) InsertSession(_ context.Context, s Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	if f.failInserts > 0 {
		f.failInserts--
		return errStoreDown
	}
	if _, ok := f.rows[s.ID]; !ok {
		f.rows[s.ID] = s
	}
	return nil
}

func (f *fakeStore) CompleteSession(_ context.Context, id string, fee float64, exit time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completes++
	if f.failCloses > 0 {
		f.failCloses--
		return errStoreDown
	}
	s, ok := f.rows[id]
	if !ok {
		return ErrSessionNotFound
	}
	if s.Status == SessionClosed {
		return nil
	}
	s.Status = SessionClosed
	s.PaymentStatus = PaymentPaid
	s.Fee = fee
	s.ExitTime = &exit
	f.rows[id] = s
	return nil
}

func (f *fakeStore) ListOpenSessions(context.Context) ([]Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Session
	for _, s := range f.rows {
		if s.IsOpen() {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryTime.After(out[j].EntryTime) })
	return out, nil
}

func (f *fakeStore) ListClosedSince(_ context.Context, since time.Time) ([]Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Session
	for _, s := range f.rows {
		if s.Status == SessionClosed && s.ExitTime != nil && !s.ExitTime.Before(since) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) row(id string) (Session, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[id]
	return s, ok
}

type recordingObserver struct {
	mu     sync.Mutex
	opened []string
	closed []string
	events []string
	err    error
}

func (o *recordingObserver) SessionOpened(_ context.Context, s Session) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened = append(o.opened, s.ID)
	o.events = append(o.events, "opened:"+s.ID)
	return o.err
}

func (o *recordingObserver) SessionClosed(_ context.Context, s Session) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = append(o.closed, s.ID)
	o.events = append(o.events, "closed:"+s.ID)
	return o.err
}

func (o *recordingObserver) log() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.events...)
}

// gatedStore holds InsertSession until release is closed, then answers
// with err.
type gatedStore struct {
	*fakeStore
	entered chan struct{}
	release chan struct{}
	err     error
	once    sync.Once
}

func newGatedStore(err error) *gatedStore {
	return &gatedStore{
		fakeStore: newFakeStore(),
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
		err:       err,
	}
}

func (g *gatedStore) InsertSession(ctx context.Context, s Session) error {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	if g.err != nil {
		return g.err
	}
	return g.fakeStore.InsertSession(ctx, s)
}
