package parking

import (
	"fmt"
	"sync"
)

// SlotID is unique across the inventory: a lot id plus a number that is
// unique within that lot.
type SlotID struct {
	LotID  string `json:"lot_id"`
	Number int    `json:"number"`
}

func (id SlotID) String() string {
	return fmt.Sprintf("%s:%d", id.LotID, id.Number)
}

type Slot struct {
	ID   SlotID
	Type SlotType

	mu          sync.Mutex
	occupied    bool
	vehicleType VehicleType
	sessionID   string
	removed     bool
}

func NewSlot(id SlotID, slotType SlotType) *Slot {
	return &Slot{
		ID:   id,
		Type: slotType,
	}
}

// SlotView is a point-in-time copy of a slot's state.
type SlotView struct {
	ID          SlotID      `json:"id"`
	Type        SlotType    `json:"type"`
	Occupied    bool        `json:"occupied"`
	VehicleType VehicleType `json:"vehicle_type,omitempty"`
	SessionID   string      `json:"session_id,omitempty"`
}

func (s *Slot) View() SlotView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Slot) viewLocked() SlotView {
	return SlotView{
		ID:          s.ID,
		Type:        s.Type,
		Occupied:    s.occupied,
		VehicleType: s.vehicleType,
		SessionID:   s.sessionID,
	}
}

// setOccupiedLocked is the only place occupancy changes. Caller holds s.mu.
func (s *Slot) setOccupiedLocked(occupied bool, vt VehicleType, sessionID string) {
	s.occupied = occupied
	if occupied {
		s.vehicleType = vt
		s.sessionID = sessionID
		return
	}
	s.vehicleType = ""
	s.sessionID = ""
}

func (s *Slot) claimableLocked() bool {
	return !s.occupied && !s.removed
}
