package parking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"parking-allocator/internal/logging"
)

type Options struct {
	Clock      Clock
	HourlyRate float64
	Store      SessionStore
	Observers  []Observer
	Retry      RetryPolicy
}

// Engine ties the inventory, allocator, ledger and revenue view together
// and handles persistence and notification outside the core's locks. It
// is the API every driver (HTTP, shell, refresh poller, load generator)
// goes through.
type Engine struct {
	inventory *Inventory
	ledger    *Ledger
	allocator *Allocator
	revenue   *RevenueAggregator
	clock     Clock
	rate      float64
	store     SessionStore
	observers []Observer
	retry     RetryPolicy

	reconcileMu       sync.Mutex
	reconcileRequests chan struct{}
}

func NewEngine(inventory *Inventory, opts Options) (*Engine, error) {
	if inventory == nil {
		return nil, errors.New("inventory is required")
	}
	if err := ValidateRate(opts.HourlyRate); err != nil {
		return nil, err
	}
	clock := opts.Clock
	if clock == nil {
		clock = NewMonotonicClock(nil)
	}
	store := opts.Store
	if store == nil {
		store = discardStore{}
	}
	retry := opts.Retry
	if retry.MaxTries == 0 {
		retry = DefaultRetryPolicy()
	}

	ledger := NewLedger(inventory, clock)
	e := &Engine{
		inventory:         inventory,
		ledger:            ledger,
		allocator:         NewAllocator(inventory, ledger, clock),
		revenue:           NewRevenueAggregator(ledger),
		clock:             clock,
		rate:              opts.HourlyRate,
		store:             store,
		observers:         opts.Observers,
		retry:             retry,
		reconcileRequests: make(chan struct{}, 1),
	}
	ledger.onViolation = e.handleViolation
	return e, nil
}

func (e *Engine) HourlyRate() float64 { return e.rate }

func (e *Engine) Now() time.Time { return e.clock.Now() }

// Park allocates a slot and stores the new session. If the session cannot
// be stored the claim is undone and ErrAllocationFailed is returned.
func (e *Engine) Park(ctx context.Context, caller Caller, req AllocationRequest) (Session, error) {
	s, err := e.allocator.Allocate(caller, req)
	if err != nil {
		return Session{}, err
	}

	// The session stays pending until it is stored and announced, so no
	// reader or Exit can see it half-made.
	err = e.retry.do(ctx, func() error {
		return e.store.InsertSession(ctx, s)
	})
	if err != nil {
		if e.allocator.rollback(s) {
			logging.Warn(ctx, "allocation rolled back after persistence failure",
				slog.String("session_id", s.ID),
				slog.String("slot", s.SlotID.String()),
				slog.Any("error", err))
		}
		return Session{}, fmt.Errorf("%w: %w", ErrAllocationFailed, err)
	}

	logging.Info(ctx, "vehicle parked",
		slog.String("action", "park"),
		slog.String("user_id", caller.UserID),
		slog.String("session_id", s.ID),
		slog.String("slot", s.SlotID.String()),
		slog.String("plate", s.Plate),
		slog.String("vehicle_type", string(s.VehicleType)))
	e.notify(ctx, s, Observer.SessionOpened)
	e.ledger.commit(s.ID)
	return s, nil
}

// Exit closes a session at the engine's hourly rate.
func (e *Engine) Exit(ctx context.Context, caller Caller, sessionID string) (Session, error) {
	s, err := e.ledger.Close(caller, sessionID, e.rate)
	if err != nil {
		return Session{}, err
	}
	e.persistClose(ctx, s)

	logging.Info(ctx, "vehicle exited",
		slog.String("action", "exit"),
		slog.String("user_id", caller.UserID),
		slog.String("session_id", s.ID),
		slog.String("slot", s.SlotID.String()),
		slog.Float64("fee", s.Fee))
	e.notify(ctx, s, Observer.SessionClosed)
	return s, nil
}

// CloseAll closes every session open in the lot when the call starts.
func (e *Engine) CloseAll(ctx context.Context, caller Caller, lotID string) ([]Session, error) {
	if lotID != "" {
		if _, ok := e.inventory.Lot(lotID); !ok {
			return nil, ErrLotNotFound
		}
	}
	closed, err := e.ledger.CloseAll(caller, lotID, e.rate)
	for _, s := range closed {
		e.persistClose(ctx, s)
		e.notify(ctx, s, Observer.SessionClosed)
	}
	if err != nil {
		return closed, err
	}

	logging.Info(ctx, "bulk close",
		slog.String("action", "close_all"),
		slog.String("user_id", caller.UserID),
		slog.String("lot_id", lotID),
		slog.Int("closed", len(closed)))
	return closed, nil
}

func (e *Engine) persistClose(ctx context.Context, s Session) {
	err := e.retry.do(ctx, func() error {
		return e.store.CompleteSession(ctx, s.ID, s.Fee, *s.ExitTime)
	})
	if err != nil {
		e.ledger.markUnsynced(s.ID)
		logging.Warn(ctx, "session close not stored, will retry on reconcile",
			slog.String("session_id", s.ID),
			slog.Any("error", err))
	}
}

func (e *Engine) notify(ctx context.Context, s Session, fn func(Observer, context.Context, Session) error) {
	for _, o := range e.observers {
		if err := fn(o, ctx, s); err != nil {
			logging.Warn(ctx, "session observer failed",
				slog.String("session_id", s.ID),
				slog.String("observer", fmt.Sprintf("%T", o)),
				slog.Any("error", err))
		}
	}
}

func (e *Engine) Lots() []Lot {
	return e.inventory.Lots()
}

func (e *Engine) Status(lotID string) (LotStatus, error) {
	return e.inventory.Status(lotID)
}

// Available lists free slots in a lot, restricted to those compatible with
// vt when vt is set.
func (e *Engine) Available(lotID string, vt VehicleType) ([]SlotView, error) {
	if _, ok := e.inventory.Lot(lotID); !ok {
		return nil, ErrLotNotFound
	}
	if vt == "" {
		return e.inventory.ListAvailable(lotID), nil
	}
	if _, err := ParseVehicleType(string(vt)); err != nil {
		return nil, err
	}
	return e.inventory.ListCompatibleAvailable(lotID, vt), nil
}

func (e *Engine) ListOpen(lotID string) []Session {
	return e.ledger.ListOpen(lotID)
}

func (e *Engine) ListByUser(userID string) []Session {
	return e.ledger.ListByUser(userID)
}

func (e *Engine) Session(id string) (Session, error) {
	s, ok := e.ledger.Get(id)
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

// FindByPlate returns the open session of the vehicle with the given plate.
func (e *Engine) FindByPlate(plate string) (Session, error) {
	s, ok := e.ledger.FindOpenByPlate(strings.TrimSpace(plate))
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

func (e *Engine) RevenueSince(ts time.Time) Revenue {
	return e.revenue.Since(ts)
}

func (e *Engine) RevenueToday() Revenue {
	return e.revenue.Today(e.clock.Now())
}

func (e *Engine) AddSlot(ctx context.Context, caller Caller, lotID string, st SlotType) (SlotView, error) {
	if !caller.Role.Privileged() {
		return SlotView{}, ErrNotPermitted
	}
	if _, err := ParseSlotType(string(st)); err != nil {
		return SlotView{}, err
	}
	v, err := e.inventory.AddSlot(lotID, st)
	if err != nil {
		return SlotView{}, err
	}
	logging.Info(ctx, "slot added",
		slog.String("action", "add_slot"),
		slog.String("user_id", caller.UserID),
		slog.String("slot", v.ID.String()),
		slog.String("slot_type", string(st)))
	return v, nil
}

func (e *Engine) RemoveSlot(ctx context.Context, caller Caller, id SlotID) error {
	if !caller.Role.Privileged() {
		return ErrNotPermitted
	}
	if err := e.inventory.RemoveSlot(id); err != nil {
		return err
	}
	logging.Info(ctx, "slot removed",
		slog.String("action", "remove_slot"),
		slog.String("user_id", caller.UserID),
		slog.String("slot", id.String()))
	return nil
}

// Restore reloads open sessions from the store and re-occupies their slots,
// then reloads sessions closed since local midnight so today's revenue
// survives a restart. Open sessions that cannot be placed are logged and
// skipped.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	sessions, err := e.store.ListOpenSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list open sessions: %w", err)
	}

	restored := 0
	for _, s := range sessions {
		if !s.IsOpen() {
			continue
		}
		var added bool
		err := e.inventory.withSlot(s.SlotID, func(slot *Slot) error {
			if !slot.claimableLocked() && slot.sessionID != s.ID {
				return fmt.Errorf("%w: slot %s taken by %q", ErrSlotUnavailable, s.SlotID, slot.sessionID)
			}
			var err error
			added, err = e.ledger.restore(s)
			if err != nil {
				return err
			}
			if added {
				slot.setOccupiedLocked(true, s.VehicleType, s.ID)
			}
			return nil
		})
		if err != nil {
			logging.Warn(ctx, "could not restore session",
				slog.String("session_id", s.ID),
				slog.String("slot", s.SlotID.String()),
				slog.Any("error", err))
			continue
		}
		if added {
			restored++
		}
	}

	since := StartOfDay(e.clock.Now())
	closed, err := e.store.ListClosedSince(ctx, since)
	if err != nil {
		return restored, fmt.Errorf("list closed sessions: %w", err)
	}
	var history int
	for _, s := range closed {
		if e.ledger.restoreClosed(s) {
			history++
		}
	}
	if history > 0 {
		logging.Info(ctx, "restored sessions closed today", slog.Int("count", history))
	}
	return restored, nil
}

// ReconcileRequests delivers a value whenever a runtime check found slot
// state out of line with the ledger.
func (e *Engine) ReconcileRequests() <-chan struct{} {
	return e.reconcileRequests
}

func (e *Engine) requestReconcile() {
	select {
	case e.reconcileRequests <- struct{}{}:
	default:
	}
}

func (e *Engine) handleViolation(v Violation) {
	logging.Error(context.Background(), "slot occupancy invariant violated",
		slog.String("slot", v.SlotID.String()),
		slog.String("session_id", v.SessionID),
		slog.String("detail", v.Detail))
	e.requestReconcile()
}
