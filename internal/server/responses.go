package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"parking-allocator/internal/parking"
)

type Meta struct {
	TraceID   string `json:"trace_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Meta    *Meta  `json:"meta,omitempty"`
}

type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Lots    int    `json:"lots"`
	Meta    *Meta  `json:"meta,omitempty"`
}

type ParkRequest struct {
	Plate       string `json:"plate"`
	VehicleType string `json:"vehicle_type"`
	VehicleMake string `json:"vehicle_make,omitempty"`
	SlotNumber  int    `json:"slot_number,omitempty"`
}

type AddSlotRequest struct {
	SlotType string `json:"slot_type"`
}

type ExitResponse struct {
	Session       parking.Session `json:"session"`
	BillableHours int64           `json:"billable_hours"`
	HourlyRate    float64         `json:"hourly_rate"`
}

type CloseAllResponse struct {
	Closed   int               `json:"closed"`
	Total    float64           `json:"total"`
	Sessions []parking.Session `json:"sessions"`
}

func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func extractMeta(ctx context.Context) *Meta {
	meta := &Meta{}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().HasTraceID() {
		meta.TraceID = span.SpanContext().TraceID().String()
	}

	if reqID, ok := ctx.Value(RequestIDKey).(string); ok {
		meta.RequestID = reqID
	}

	return meta
}

func WriteSuccess(ctx context.Context, w http.ResponseWriter, message string, data any) {
	writeData(ctx, w, http.StatusOK, message, data)
}

func WriteCreated(ctx context.Context, w http.ResponseWriter, message string, data any) {
	writeData(ctx, w, http.StatusCreated, message, data)
}

func writeData(ctx context.Context, w http.ResponseWriter, status int, message string, data any) {
	WriteJSON(w, status, Response{
		Success: true,
		Message: message,
		Data:    data,
		Meta:    extractMeta(ctx),
	})
}

func WriteError(ctx context.Context, w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, Response{
		Success: false,
		Error:   message,
		Meta:    extractMeta(ctx),
	})
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, parking.ErrInvalidRequest), errors.Is(err, parking.ErrInvalidRate):
		return http.StatusBadRequest
	case errors.Is(err, parking.ErrNotPermitted):
		return http.StatusForbidden
	case errors.Is(err, parking.ErrSessionNotFound),
		errors.Is(err, parking.ErrLotNotFound),
		errors.Is(err, parking.ErrSlotNotFound):
		return http.StatusNotFound
	case errors.Is(err, parking.ErrNoCompatibleSlot),
		errors.Is(err, parking.ErrLotFull),
		errors.Is(err, parking.ErrSlotUnavailable),
		errors.Is(err, parking.ErrSessionLimitReached),
		errors.Is(err, parking.ErrAlreadyClosed),
		errors.Is(err, parking.ErrSlotOccupied):
		return http.StatusConflict
	case errors.Is(err, parking.ErrAllocationFailed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeEngineError(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError || status == http.StatusServiceUnavailable {
		// storage details stay in the logs
		message = http.StatusText(status)
		if errors.Is(err, parking.ErrAllocationFailed) {
			message = parking.ErrAllocationFailed.Error()
		}
	}
	WriteError(ctx, w, status, message)
}
