package parking

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type AllocationRequest struct {
	LotID       string
	SlotNumber  int // 0 lets the allocator choose
	Plate       string
	VehicleType VehicleType
	VehicleMake VehicleMake
}

// Allocator claims slots. Claims are serialized per slot; non-privileged
// callers are additionally serialized per user so the one-open-session
// check and the claim see the same state.
type Allocator struct {
	inventory *Inventory
	ledger    *Ledger
	clock     Clock
	users     keyedMutex
	newID     func() string
}

func NewAllocator(inventory *Inventory, ledger *Ledger, clock Clock) *Allocator {
	if clock == nil {
		clock = ledger.clock
	}
	return &Allocator{
		inventory: inventory,
		ledger:    ledger,
		clock:     clock,
		newID:     uuid.NewString,
	}
}

func (a *Allocator) Allocate(caller Caller, req AllocationRequest) (Session, error) {
	if caller.UserID == "" {
		return Session{}, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	vehicle := NewVehicle(req.Plate, req.VehicleType, req.VehicleMake)
	if vehicle.Plate == "" {
		return Session{}, fmt.Errorf("%w: plate is required", ErrInvalidRequest)
	}
	if _, err := ParseVehicleType(string(vehicle.Type)); err != nil {
		return Session{}, err
	}
	if _, ok := a.inventory.Lot(req.LotID); !ok {
		return Session{}, ErrLotNotFound
	}

	if !caller.Role.Privileged() {
		unlock := a.users.Lock(caller.UserID)
		defer unlock()
		if a.ledger.HasOpenForUser(caller.UserID) {
			return Session{}, ErrSessionLimitReached
		}
	}

	candidates := a.inventory.ListCompatibleAvailable(req.LotID, vehicle.Type)
	if len(candidates) == 0 {
		if len(a.inventory.ListAvailable(req.LotID)) == 0 && a.inventory.FitsEverySlot(req.LotID, vehicle.Type) {
			return Session{}, ErrLotFull
		}
		return Session{}, fmt.Errorf("%w: %s", ErrNoCompatibleSlot, vehicle.Type)
	}

	if req.SlotNumber != 0 {
		want := SlotID{LotID: req.LotID, Number: req.SlotNumber}
		for _, c := range candidates {
			if c.ID == want {
				return a.claim(want, vehicle, caller)
			}
		}
		return Session{}, fmt.Errorf("%w: %s", ErrSlotUnavailable, want)
	}

	for _, c := range candidates {
		s, err := a.claim(c.ID, vehicle, caller)
		if errors.Is(err, ErrSlotUnavailable) {
			continue
		}
		return s, err
	}
	return Session{}, ErrSlotUnavailable
}

// claim re-checks the slot under its lock, then records the session and
// marks the slot occupied before releasing it.
func (a *Allocator) claim(id SlotID, v Vehicle, caller Caller) (Session, error) {
	var session Session
	err := a.inventory.withSlot(id, func(slot *Slot) error {
		if !slot.claimableLocked() {
			return ErrSlotUnavailable
		}

		s := &Session{
			ID:            a.newID(),
			Plate:         v.Plate,
			VehicleType:   v.Type,
			VehicleMake:   v.Make,
			UserID:        caller.UserID,
			SlotID:        id,
			EntryTime:     a.clock.Now(),
			Status:        SessionOpen,
			PaymentStatus: PaymentPending,
		}
		if err := a.ledger.open(s); err != nil {
			if errors.Is(err, errInconsistentSlot) {
				a.ledger.reportViolation(Violation{SlotID: id, Detail: err.Error()})
				return ErrSlotUnavailable
			}
			return err
		}
		slot.setOccupiedLocked(true, v.Type, s.ID)
		session = *s
		return nil
	})
	if errors.Is(err, ErrSlotNotFound) {
		return Session{}, fmt.Errorf("%w: %s", ErrSlotUnavailable, id)
	}
	return session, err
}

// rollback undoes a claim whose session could not be stored. It only acts
// if the session is still open.
func (a *Allocator) rollback(s Session) bool {
	var undone bool
	_ = a.inventory.withSlot(s.SlotID, func(slot *Slot) error {
		if !a.ledger.discard(s.ID) {
			return nil
		}
		undone = true
		if slot.sessionID == s.ID {
			slot.setOccupiedLocked(false, "", "")
		}
		return nil
	})
	return undone
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
