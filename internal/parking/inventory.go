package parking

import (
	"fmt"
	"sync"
)

type lotSlots struct {
	lot        Lot
	slots      []*Slot
	nextNumber int
}

// Inventory owns every lot's slots. mu guards only the structure (which
// slots exist and their order); occupancy is guarded by each slot's own
// mutex. mu is never acquired while a slot mutex is held.
type Inventory struct {
	mu    sync.RWMutex
	lots  map[string]*lotSlots
	order []string
	index map[SlotID]*Slot
}

func NewInventory() *Inventory {
	return &Inventory{
		lots:  make(map[string]*lotSlots),
		index: make(map[SlotID]*Slot),
	}
}

// AddLot provisions a lot with slots numbered from 1 in the given order.
func (inv *Inventory) AddLot(lot Lot, slotTypes []SlotType) error {
	if lot.ID == "" {
		return fmt.Errorf("%w: lot id is required", ErrInvalidRequest)
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()

	if _, exists := inv.lots[lot.ID]; exists {
		return fmt.Errorf("%w: lot %s already exists", ErrInvalidRequest, lot.ID)
	}

	ls := &lotSlots{lot: lot}
	for _, st := range slotTypes {
		inv.appendSlotLocked(ls, st)
	}
	inv.lots[lot.ID] = ls
	inv.order = append(inv.order, lot.ID)
	return nil
}

func (inv *Inventory) appendSlotLocked(ls *lotSlots, st SlotType) *Slot {
	ls.nextNumber++
	slot := NewSlot(SlotID{LotID: ls.lot.ID, Number: ls.nextNumber}, st)
	ls.slots = append(ls.slots, slot)
	inv.index[slot.ID] = slot
	return slot
}

func (inv *Inventory) AddSlot(lotID string, st SlotType) (SlotView, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	ls, ok := inv.lots[lotID]
	if !ok {
		return SlotView{}, ErrLotNotFound
	}
	return inv.appendSlotLocked(ls, st).View(), nil
}

// RemoveSlot deletes a free slot. A slot referenced by an open session is
// rejected with ErrSlotOccupied.
func (inv *Inventory) RemoveSlot(id SlotID) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	slot, ok := inv.index[id]
	if !ok {
		return ErrSlotNotFound
	}

	slot.mu.Lock()
	if slot.occupied {
		slot.mu.Unlock()
		return ErrSlotOccupied
	}
	slot.removed = true
	slot.mu.Unlock()

	delete(inv.index, id)
	ls := inv.lots[id.LotID]
	for i, s := range ls.slots {
		if s == slot {
			ls.slots = append(ls.slots[:i:i], ls.slots[i+1:]...)
			break
		}
	}
	return nil
}

func (inv *Inventory) Lot(lotID string) (Lot, bool) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	ls, ok := inv.lots[lotID]
	if !ok {
		return Lot{}, false
	}
	return ls.lot, true
}

// Lots returns lot metadata in provisioning order.
func (inv *Inventory) Lots() []Lot {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	out := make([]Lot, 0, len(inv.order))
	for _, id := range inv.order {
		out = append(out, inv.lots[id].lot)
	}
	return out
}

// slots copies the slot list of a lot so callers can walk it without
// holding mu. An empty lotID means every lot.
func (inv *Inventory) slots(lotID string) ([]*Slot, error) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	if lotID == "" {
		var all []*Slot
		for _, id := range inv.order {
			all = append(all, inv.lots[id].slots...)
		}
		return all, nil
	}

	ls, ok := inv.lots[lotID]
	if !ok {
		return nil, ErrLotNotFound
	}
	return append([]*Slot(nil), ls.slots...), nil
}

func (inv *Inventory) lookup(id SlotID) (*Slot, bool) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	slot, ok := inv.index[id]
	return slot, ok
}

// ListAvailable returns free slots of a lot in provisioning order. An
// unknown lot yields an empty list.
func (inv *Inventory) ListAvailable(lotID string) []SlotView {
	return inv.listAvailable(lotID, func(SlotType) bool { return true })
}

// ListCompatibleAvailable is ListAvailable filtered by IsCompatible, with
// the same order.
func (inv *Inventory) ListCompatibleAvailable(lotID string, vt VehicleType) []SlotView {
	return inv.listAvailable(lotID, func(st SlotType) bool { return IsCompatible(st, vt) })
}

func (inv *Inventory) listAvailable(lotID string, keep func(SlotType) bool) []SlotView {
	if lotID == "" {
		return nil
	}
	slots, err := inv.slots(lotID)
	if err != nil {
		return nil
	}

	var out []SlotView
	for _, s := range slots {
		if !keep(s.Type) {
			continue
		}
		v := s.View()
		if !v.Occupied {
			out = append(out, v)
		}
	}
	return out
}

// SetOccupied is the raw occupancy switch, applied under the slot's lock.
// It leaves the slot's session reference alone and does not touch the
// ledger, so it can put a slot out of line with the sessions; Reconcile
// brings it back. Allocation, close and repair use the locked form so that
// occupancy and the session change together.
func (inv *Inventory) SetOccupied(id SlotID, occupied bool, vt VehicleType) error {
	return inv.withSlot(id, func(s *Slot) error {
		s.setOccupiedLocked(occupied, vt, s.sessionID)
		return nil
	})
}

// withSlot runs fn with the slot's mutex held.
func (inv *Inventory) withSlot(id SlotID, fn func(*Slot) error) error {
	slot, ok := inv.lookup(id)
	if !ok {
		return ErrSlotNotFound
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.removed {
		return ErrSlotNotFound
	}
	return fn(slot)
}

// Snapshot returns every slot of a lot with its state. Slots are locked one
// at a time, so the result is per-slot consistent only.
func (inv *Inventory) Snapshot(lotID string) ([]SlotView, error) {
	slots, err := inv.slots(lotID)
	if err != nil {
		return nil, err
	}
	out := make([]SlotView, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.View())
	}
	return out, nil
}

// FitsEverySlot reports whether the lot has slots and the vehicle type
// could use each of them, free or not.
func (inv *Inventory) FitsEverySlot(lotID string, vt VehicleType) bool {
	slots, err := inv.slots(lotID)
	if err != nil || len(slots) == 0 {
		return false
	}
	for _, s := range slots {
		if !IsCompatible(s.Type, vt) {
			return false
		}
	}
	return true
}

type TypeCount struct {
	Total    int `json:"total"`
	Occupied int `json:"occupied"`
}

type LotStatus struct {
	Lot       Lot                    `json:"lot"`
	Capacity  int                    `json:"capacity"`
	Occupied  int                    `json:"occupied"`
	Available int                    `json:"available"`
	ByType    map[SlotType]TypeCount `json:"by_type"`
	Slots     []SlotView             `json:"slots"`
}

func (inv *Inventory) Status(lotID string) (LotStatus, error) {
	lot, ok := inv.Lot(lotID)
	if !ok {
		return LotStatus{}, ErrLotNotFound
	}
	views, err := inv.Snapshot(lotID)
	if err != nil {
		return LotStatus{}, err
	}

	status := LotStatus{
		Lot:      lot,
		Capacity: len(views),
		ByType:   make(map[SlotType]TypeCount),
		Slots:    views,
	}
	for _, v := range views {
		tc := status.ByType[v.Type]
		tc.Total++
		if v.Occupied {
			tc.Occupied++
			status.Occupied++
		}
		status.ByType[v.Type] = tc
	}
	status.Available = status.Capacity - status.Occupied
	return status, nil
}
