package parking

import "errors"

var (
	ErrNoCompatibleSlot    = errors.New("no compatible slot available for vehicle type")
	ErrLotFull             = errors.New("parking lot is full")
	ErrSlotUnavailable     = errors.New("slot is no longer available")
	ErrSessionLimitReached = errors.New("user already has an open session")
	ErrSessionNotFound     = errors.New("session not found")
	ErrAlreadyClosed       = errors.New("session already closed")
	ErrAllocationFailed    = errors.New("allocation failed")

	ErrLotNotFound    = errors.New("lot not found")
	ErrSlotNotFound   = errors.New("slot not found")
	ErrSlotOccupied   = errors.New("slot is occupied")
	ErrNotPermitted   = errors.New("operation not permitted for caller")
	ErrInvalidRate    = errors.New("hourly rate must be a finite non-negative number")
	ErrInvalidRequest = errors.New("invalid request")
)
