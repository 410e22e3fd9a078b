package parking

import "strings"

type VehicleMake string

const (
	MakeFord           VehicleMake = "Ford"
	MakeChevrolet      VehicleMake = "Chevrolet"
	MakeGMC            VehicleMake = "GMC"
	MakeTesla          VehicleMake = "Tesla"
	MakeJeep           VehicleMake = "Jeep"
	MakeMercedes       VehicleMake = "Mercedes-Benz"
	MakeBMW            VehicleMake = "BMW"
	MakeAudi           VehicleMake = "Audi"
	MakeVolkswagen     VehicleMake = "Volkswagen"
	MakeVolvo          VehicleMake = "Volvo"
	MakeToyota         VehicleMake = "Toyota"
	MakeHonda          VehicleMake = "Honda"
	MakeNissan         VehicleMake = "Nissan"
	MakeHyundai        VehicleMake = "Hyundai"
	MakeKia            VehicleMake = "Kia"
	MakeMazda          VehicleMake = "Mazda"
	MakeSubaru         VehicleMake = "Subaru"
	MakeHarleyDavidson VehicleMake = "Harley-Davidson"
	MakeYamaha         VehicleMake = "Yamaha"
	MakeKawasaki       VehicleMake = "Kawasaki"
	MakeSuzuki         VehicleMake = "Suzuki"
	MakeDucati         VehicleMake = "Ducati"
	MakeOther          VehicleMake = "Other"
)

var vehicleMakes = []VehicleMake{
	MakeFord, MakeChevrolet, MakeGMC, MakeTesla, MakeJeep,
	MakeMercedes, MakeBMW, MakeAudi, MakeVolkswagen, MakeVolvo,
	MakeToyota, MakeHonda, MakeNissan, MakeHyundai, MakeKia, MakeMazda, MakeSubaru,
	MakeHarleyDavidson, MakeYamaha, MakeKawasaki, MakeSuzuki, MakeDucati,
	MakeOther,
}

func VehicleMakes() []VehicleMake {
	return append([]VehicleMake(nil), vehicleMakes...)
}

// ParseVehicleMake matches a display name or its constant-style spelling
// ("harley_davidson") case-insensitively. Empty input means no make; any
// other unknown text is MakeOther.
func ParseVehicleMake(s string) VehicleMake {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	norm := strings.ReplaceAll(s, "_", "-")
	for _, m := range vehicleMakes {
		if strings.EqualFold(string(m), s) || strings.EqualFold(string(m), norm) {
			return m
		}
	}
	if strings.EqualFold(s, "mercedes") {
		return MakeMercedes
	}
	return MakeOther
}

type Vehicle struct {
	Plate string
	Type  VehicleType
	Make  VehicleMake
}

func NewVehicle(plate string, vehicleType VehicleType, vehicleMake VehicleMake) Vehicle {
	return Vehicle{
		Plate: strings.ToUpper(strings.TrimSpace(plate)),
		Type:  vehicleType,
		Make:  vehicleMake,
	}
}
