package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"parking-allocator/internal/parking"
)

type lotsFile struct {
	Lots []lotEntry `yaml:"lots"`
}

type lotEntry struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	Location string   `yaml:"location"`
	Category string   `yaml:"category"`
	Slots    []string `yaml:"slots"`
}

// DefaultLots is the lot used when no lots file is configured.
func DefaultLots() []parking.LotSpec {
	return []parking.LotSpec{{
		Lot: parking.Lot{
			ID:       "LOT-001",
			Name:     "Downtown Garage",
			Location: "123 Main St",
			Category: parking.LotStructure,
		},
		Slots: []parking.SlotType{
			parking.SlotStandard,
			parking.SlotStandard,
			parking.SlotMotorcycle,
			parking.SlotEVCharging,
			parking.SlotHandicapped,
			parking.SlotStandard,
			parking.SlotStandard,
			parking.SlotCompact,
			parking.SlotEVCharging,
			parking.SlotMotorcycle,
		},
	}}
}

// LoadLots reads lot definitions from path, or returns DefaultLots when
// path is empty.
func LoadLots(path string) ([]parking.LotSpec, error) {
	if path == "" {
		return DefaultLots(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lots file: %w", err)
	}
	return ParseLots(data)
}

func ParseLots(data []byte) ([]parking.LotSpec, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f lotsFile
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse lots file: %w", err)
	}
	if len(f.Lots) == 0 {
		return nil, errors.New("lots file defines no lots")
	}

	seen := make(map[string]struct{}, len(f.Lots))
	specs := make([]parking.LotSpec, 0, len(f.Lots))
	for i, e := range f.Lots {
		if e.ID == "" {
			return nil, fmt.Errorf("lot %d: id is required", i)
		}
		if _, dup := seen[e.ID]; dup {
			return nil, fmt.Errorf("lot %s: duplicate id", e.ID)
		}
		seen[e.ID] = struct{}{}

		category := parking.LotSurface
		if e.Category != "" {
			c, err := parking.ParseLotCategory(e.Category)
			if err != nil {
				return nil, fmt.Errorf("lot %s: %w", e.ID, err)
			}
			category = c
		}

		slots := make([]parking.SlotType, 0, len(e.Slots))
		for _, raw := range e.Slots {
			st, err := parking.ParseSlotType(raw)
			if err != nil {
				return nil, fmt.Errorf("lot %s: %w", e.ID, err)
			}
			slots = append(slots, st)
		}

		specs = append(specs, parking.LotSpec{
			Lot: parking.Lot{
				ID:       e.ID,
				Name:     e.Name,
				Location: e.Location,
				Category: category,
			},
			Slots: slots,
		})
	}
	return specs, nil
}

// BuildInventory registers every lot in a fresh inventory.
func BuildInventory(specs []parking.LotSpec) (*parking.Inventory, error) {
	inv := parking.NewInventory()
	for _, spec := range specs {
		if err := inv.AddLot(spec.Lot, spec.Slots); err != nil {
			return nil, err
		}
	}
	return inv, nil
}
