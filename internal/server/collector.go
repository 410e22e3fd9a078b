package server

import (
	"github.com/prometheus/client_golang/prometheus"

	"parking-allocator/internal/parking"
)

type occupancySource interface {
	Lots() []parking.Lot
	Status(lotID string) (parking.LotStatus, error)
	ListOpen(lotID string) []parking.Session
	RevenueToday() parking.Revenue
}

// OccupancyCollector reports slot occupancy read from the inventory at
// scrape time.
type OccupancyCollector struct {
	source occupancySource

	slots    *prometheus.Desc
	occupied *prometheus.Desc
	revenue  *prometheus.Desc
	sessions *prometheus.Desc
}

var _ prometheus.Collector = (*OccupancyCollector)(nil)

func NewOccupancyCollector(source occupancySource) *OccupancyCollector {
	return &OccupancyCollector{
		source: source,
		slots: prometheus.NewDesc("parking_lot_slots",
			"Number of slots per lot and slot type.",
			[]string{"lot_id", "slot_type"}, nil),
		occupied: prometheus.NewDesc("parking_lot_slots_occupied",
			"Number of occupied slots per lot and slot type.",
			[]string{"lot_id", "slot_type"}, nil),
		sessions: prometheus.NewDesc("parking_lot_open_sessions",
			"Open sessions per lot.",
			[]string{"lot_id"}, nil),
		revenue: prometheus.NewDesc("parking_revenue_today",
			"Fees collected since local midnight.",
			nil, nil),
	}
}

func (c *OccupancyCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.slots
	ch <- c.occupied
	ch <- c.sessions
	ch <- c.revenue
}

func (c *OccupancyCollector) Collect(ch chan<- prometheus.Metric) {
	for _, lot := range c.source.Lots() {
		status, err := c.source.Status(lot.ID)
		if err != nil {
			continue
		}
		for _, st := range parking.SlotTypes() {
			tc, ok := status.ByType[st]
			if !ok {
				continue
			}
			ch <- prometheus.MustNewConstMetric(c.slots, prometheus.GaugeValue, float64(tc.Total), lot.ID, string(st))
			ch <- prometheus.MustNewConstMetric(c.occupied, prometheus.GaugeValue, float64(tc.Occupied), lot.ID, string(st))
		}
		ch <- prometheus.MustNewConstMetric(c.sessions, prometheus.GaugeValue, float64(len(c.source.ListOpen(lot.ID))), lot.ID)
	}
	ch <- prometheus.MustNewConstMetric(c.revenue, prometheus.GaugeValue, c.source.RevenueToday().Total)
}
