package parking

import (
	"math"
	"time"
)

type SessionStatus string

const (
	SessionOpen   SessionStatus = "open"
	SessionClosed SessionStatus = "closed"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
)

// Session is one vehicle's stay in a slot. Values handed out by the ledger
// are copies; a closed session never changes again.
type Session struct {
	ID            string        `json:"id"`
	Plate         string        `json:"plate"`
	VehicleType   VehicleType   `json:"vehicle_type"`
	VehicleMake   VehicleMake   `json:"vehicle_make,omitempty"`
	UserID        string        `json:"user_id"`
	SlotID        SlotID        `json:"slot_id"`
	EntryTime     time.Time     `json:"entry_time"`
	ExitTime      *time.Time    `json:"exit_time,omitempty"`
	Fee           float64       `json:"fee"`
	Status        SessionStatus `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
}

func (s Session) IsOpen() bool {
	return s.Status == SessionOpen
}

// Duration is the billed elapsed time for a closed session, or the time
// elapsed until now for an open one. Never negative.
func (s Session) Duration(now time.Time) time.Duration {
	end := now
	if s.ExitTime != nil {
		end = *s.ExitTime
	}
	if d := end.Sub(s.EntryTime); d > 0 {
		return d
	}
	return 0
}

// BillableHours rounds the stay up to whole hours with a one hour minimum.
// An exit before entry counts as zero elapsed.
func BillableHours(entry, exit time.Time) int64 {
	elapsed := exit.Sub(entry)
	if elapsed <= 0 {
		return 1
	}
	hours := int64(elapsed / time.Hour)
	if elapsed%time.Hour != 0 {
		hours++
	}
	if hours < 1 {
		return 1
	}
	return hours
}

func ValidateRate(rate float64) error {
	if math.IsNaN(rate) || math.IsInf(rate, 0) || rate < 0 {
		return ErrInvalidRate
	}
	return nil
}

func CalculateFee(entry, exit time.Time, rate float64) float64 {
	return float64(BillableHours(entry, exit)) * rate
}
