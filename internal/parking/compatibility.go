package parking

var compatibility = map[SlotType][]VehicleType{
	SlotMotorcycle:  {VehicleMotorcycle},
	SlotEVCharging:  {VehicleEV},
	SlotStandard:    {VehicleCar, VehicleEV},
	SlotHandicapped: {VehicleCar, VehicleEV},
	SlotCompact:     {VehicleCar, VehicleEV},
}

// IsCompatible reports whether a vehicle of type vt may occupy a slot of
// type st. Trucks have no compatible slot type.
func IsCompatible(st SlotType, vt VehicleType) bool {
	for _, allowed := range compatibility[st] {
		if allowed == vt {
			return true
		}
	}
	return false
}

// CompatibleSlotTypes lists the slot types a vehicle type can use, in
// declaration order.
func CompatibleSlotTypes(vt VehicleType) []SlotType {
	var out []SlotType
	for _, st := range slotTypes {
		if IsCompatible(st, vt) {
			out = append(out, st)
		}
	}
	return out
}
