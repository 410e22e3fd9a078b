package parking

import "testing"

func TestNewSlot(t *testing.T) {
	id := SlotID{LotID: "LOT-001", Number: 1}
	slot := NewSlot(id, SlotCompact)

	if slot.ID != id {
		t.Errorf("Expected slot id %s, got %s", id, slot.ID)
	}

	v := slot.View()
	if v.Occupied {
		t.Error("Expected new slot to be unoccupied")
	}
	if v.SessionID != "" || v.VehicleType != "" {
		t.Error("Expected new slot to have no session or vehicle")
	}
	if !slot.claimableLocked() {
		t.Error("Expected new slot to be claimable")
	}
}

func TestSlotSetOccupied(t *testing.T) {
	slot := NewSlot(SlotID{LotID: "LOT-001", Number: 2}, SlotStandard)

	slot.setOccupiedLocked(true, VehicleCar, "s-1")
	v := slot.View()
	if !v.Occupied || v.VehicleType != VehicleCar || v.SessionID != "s-1" {
		t.Errorf("Expected occupied by car s-1, got %+v", v)
	}
	if slot.claimableLocked() {
		t.Error("Expected occupied slot not to be claimable")
	}

	slot.setOccupiedLocked(false, "", "")
	v = slot.View()
	if v.Occupied || v.VehicleType != "" || v.SessionID != "" {
		t.Errorf("Expected slot to be cleared, got %+v", v)
	}
}

func TestSlotIDString(t *testing.T) {
	id := SlotID{LotID: "LOT-001", Number: 7}
	if got := id.String(); got != "LOT-001:7" {
		t.Errorf("Expected LOT-001:7, got %s", got)
	}
}
