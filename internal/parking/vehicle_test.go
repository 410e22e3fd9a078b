package parking

import (
	"errors"
	"testing"
)

func TestNewVehicle(t *testing.T) {
	vehicle := NewVehicle(" abc1234 ", VehicleCar, MakeToyota)

	if vehicle.Plate != "ABC1234" {
		t.Errorf("Expected plate ABC1234, got %s", vehicle.Plate)
	}
	if vehicle.Type != VehicleCar {
		t.Errorf("Expected type car, got %s", vehicle.Type)
	}
	if vehicle.Make != MakeToyota {
		t.Errorf("Expected make Toyota, got %s", vehicle.Make)
	}
}

func TestParseVehicleMake(t *testing.T) {
	tests := map[string]VehicleMake{
		"tesla":           MakeTesla,
		"HARLEY_DAVIDSON": MakeHarleyDavidson,
		"mercedes-benz":   MakeMercedes,
		"Mercedes":        MakeMercedes,
		"Lada":            MakeOther,
		"":                "",
	}
	for in, want := range tests {
		if got := ParseVehicleMake(in); got != want {
			t.Errorf("ParseVehicleMake(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseTypes(t *testing.T) {
	if vt, err := ParseVehicleType(" EV "); err != nil || vt != VehicleEV {
		t.Errorf("Expected ev, got %q (%v)", vt, err)
	}
	if _, err := ParseVehicleType("bus"); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest, got %v", err)
	}
	if st, err := ParseSlotType("car"); err != nil || st != SlotStandard {
		t.Errorf("Expected standard, got %q (%v)", st, err)
	}
	if st, err := ParseSlotType("ev_charging"); err != nil || st != SlotEVCharging {
		t.Errorf("Expected ev_charging, got %q (%v)", st, err)
	}
	if r, err := ParseRole("ADMIN"); err != nil || r != RoleAdmin {
		t.Errorf("Expected admin, got %v (%v)", r, err)
	}
	if r, err := ParseRole(""); err != nil || r != RoleClient {
		t.Errorf("Expected client by default, got %v (%v)", r, err)
	}
	if _, err := ParseLotCategory("underground"); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest, got %v", err)
	}
}
