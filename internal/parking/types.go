package parking

import (
	"fmt"
	"strings"
)

type SlotType string

const (
	SlotStandard    SlotType = "standard"
	SlotMotorcycle  SlotType = "motorcycle"
	SlotHandicapped SlotType = "handicapped"
	SlotEVCharging  SlotType = "ev_charging"
	SlotCompact     SlotType = "compact"
)

var slotTypes = []SlotType{SlotStandard, SlotMotorcycle, SlotHandicapped, SlotEVCharging, SlotCompact}

// SlotTypes returns every slot type in declaration order.
func SlotTypes() []SlotType {
	return append([]SlotType(nil), slotTypes...)
}

func ParseSlotType(s string) (SlotType, error) {
	v := SlotType(strings.ToLower(strings.TrimSpace(s)))
	switch v {
	case "car":
		return SlotStandard, nil
	case "ev":
		return SlotEVCharging, nil
	}
	for _, t := range slotTypes {
		if t == v {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: unknown slot type %q", ErrInvalidRequest, s)
}

type VehicleType string

const (
	VehicleCar        VehicleType = "car"
	VehicleMotorcycle VehicleType = "motorcycle"
	VehicleEV         VehicleType = "ev"
	VehicleTruck      VehicleType = "truck"
)

var vehicleTypes = []VehicleType{VehicleCar, VehicleMotorcycle, VehicleEV, VehicleTruck}

func VehicleTypes() []VehicleType {
	return append([]VehicleType(nil), vehicleTypes...)
}

func ParseVehicleType(s string) (VehicleType, error) {
	v := VehicleType(strings.ToLower(strings.TrimSpace(s)))
	for _, t := range vehicleTypes {
		if t == v {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: unknown vehicle type %q", ErrInvalidRequest, s)
}

type LotCategory string

const (
	LotSurface   LotCategory = "surface"
	LotStructure LotCategory = "structure"
)

func ParseLotCategory(s string) (LotCategory, error) {
	switch c := LotCategory(strings.ToLower(strings.TrimSpace(s))); c {
	case LotSurface, LotStructure:
		return c, nil
	}
	return "", fmt.Errorf("%w: unknown lot category %q", ErrInvalidRequest, s)
}

// Lot is display metadata. Slots are owned by the Inventory.
type Lot struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Location string      `json:"location"`
	Category LotCategory `json:"category"`
}

// LotSpec describes a lot and its initial slots in provisioning order.
type LotSpec struct {
	Lot   Lot
	Slots []SlotType
}

type Role int

const (
	RoleClient Role = iota
	RoleAdmin
)

func (r Role) String() string {
	if r == RoleAdmin {
		return "admin"
	}
	return "client"
}

// Privileged callers are exempt from the one-open-session rule and may run
// bulk and administrative operations.
func (r Role) Privileged() bool {
	return r == RoleAdmin
}

func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "client", "user":
		return RoleClient, nil
	case "admin":
		return RoleAdmin, nil
	}
	return RoleClient, fmt.Errorf("%w: unknown role %q", ErrInvalidRequest, s)
}

// Caller identifies who is issuing a mutating call.
type Caller struct {
	UserID string
	Role   Role
}

func (c Caller) String() string {
	return c.UserID + "(" + c.Role.String() + ")"
}
