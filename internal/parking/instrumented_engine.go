package parking

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"parking-allocator/internal/telemetry"
)

type InstrumentedEngine struct {
	*Engine
	telemetry *telemetry.Provider

	// Metrics
	allocations       metric.Int64Counter
	exits             metric.Int64Counter
	openSessions      metric.Int64UpDownCounter
	operationDuration metric.Float64Histogram
	fees              metric.Float64Histogram
	repairs           metric.Int64Counter
}

func NewInstrumentedEngine(engine *Engine, tp *telemetry.Provider) (*InstrumentedEngine, error) {
	meter := tp.Meter()

	allocations, err := meter.Int64Counter("parking_allocations_total",
		metric.WithDescription("Total number of allocation attempts"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}

	exits, err := meter.Int64Counter("parking_exits_total",
		metric.WithDescription("Total number of session close attempts"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}

	openSessions, err := meter.Int64UpDownCounter("parking_open_sessions",
		metric.WithDescription("Current number of open parking sessions"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}

	operationDuration, err := meter.Float64Histogram("parking_operation_duration_seconds",
		metric.WithDescription("Duration of parking engine operations"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	fees, err := meter.Float64Histogram("parking_session_fee",
		metric.WithDescription("Fee charged when a session closes"),
		metric.WithUnit("{USD}"))
	if err != nil {
		return nil, err
	}

	repairs, err := meter.Int64Counter("parking_reconcile_repairs_total",
		metric.WithDescription("Slots repaired by reconciliation"),
		metric.WithUnit("1"))
	if err != nil {
		return nil, err
	}

	ie := &InstrumentedEngine{
		Engine:            engine,
		telemetry:         tp,
		allocations:       allocations,
		exits:             exits,
		openSessions:      openSessions,
		operationDuration: operationDuration,
		fees:              fees,
		repairs:           repairs,
	}

	if n := len(engine.ListOpen("")); n > 0 {
		openSessions.Add(context.Background(), int64(n))
	}

	return ie, nil
}

// outcome labels an error with its kind for metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNoCompatibleSlot):
		return "no_compatible_slot"
	case errors.Is(err, ErrLotFull):
		return "lot_full"
	case errors.Is(err, ErrSlotUnavailable):
		return "slot_unavailable"
	case errors.Is(err, ErrSessionLimitReached):
		return "session_limit_reached"
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrAlreadyClosed):
		return "already_closed"
	case errors.Is(err, ErrAllocationFailed):
		return "allocation_failed"
	case errors.Is(err, ErrNotPermitted):
		return "not_permitted"
	case errors.Is(err, ErrLotNotFound), errors.Is(err, ErrSlotNotFound):
		return "not_found"
	}
	return "failed"
}

func (ie *InstrumentedEngine) Park(ctx context.Context, caller Caller, req AllocationRequest) (Session, error) {
	tracer := ie.telemetry.Tracer()
	ctx, span := tracer.Start(ctx, "parking.park",
		trace.WithAttributes(
			attribute.String("lot.id", req.LotID),
			attribute.String("vehicle.plate", req.Plate),
			attribute.String("vehicle.type", string(req.VehicleType)),
			attribute.Int("slot.requested", req.SlotNumber),
			attribute.String("user.id", caller.UserID),
			attribute.String("user.role", caller.Role.String()),
		))
	defer span.End()

	start := time.Now()

	span.AddEvent("finding_compatible_slot")

	s, err := ie.Engine.Park(ctx, caller, req)

	duration := time.Since(start).Seconds()

	labels := []attribute.KeyValue{
		attribute.String("operation", "park"),
		attribute.String("lot_id", req.LotID),
		attribute.String("vehicle_type", string(req.VehicleType)),
		attribute.String("status", outcome(err)),
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(
			attribute.String("session.id", s.ID),
			attribute.String("slot.id", s.SlotID.String()),
		)
		span.AddEvent("slot_claimed", trace.WithAttributes(
			attribute.Int("slot.number", s.SlotID.Number),
		))
		ie.openSessions.Add(ctx, 1, metric.WithAttributes(attribute.String("lot_id", req.LotID)))
	}

	ie.allocations.Add(ctx, 1, metric.WithAttributes(labels...))
	ie.operationDuration.Record(ctx, duration, metric.WithAttributes(labels...))

	return s, err
}

func (ie *InstrumentedEngine) Exit(ctx context.Context, caller Caller, sessionID string) (Session, error) {
	tracer := ie.telemetry.Tracer()
	ctx, span := tracer.Start(ctx, "parking.exit",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("user.id", caller.UserID),
		))
	defer span.End()

	start := time.Now()

	s, err := ie.Engine.Exit(ctx, caller, sessionID)

	duration := time.Since(start).Seconds()

	labels := []attribute.KeyValue{
		attribute.String("operation", "exit"),
		attribute.String("status", outcome(err)),
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		ie.recordClosed(ctx, span, s)
	}

	ie.exits.Add(ctx, 1, metric.WithAttributes(labels...))
	ie.operationDuration.Record(ctx, duration, metric.WithAttributes(labels...))

	return s, err
}

func (ie *InstrumentedEngine) recordClosed(ctx context.Context, span trace.Span, s Session) {
	span.SetAttributes(
		attribute.String("slot.id", s.SlotID.String()),
		attribute.Float64("session.fee", s.Fee),
		attribute.Int64("session.billable_hours", BillableHours(s.EntryTime, *s.ExitTime)),
	)
	span.AddEvent("slot_released", trace.WithAttributes(
		attribute.String("slot.id", s.SlotID.String()),
	))
	lot := attribute.String("lot_id", s.SlotID.LotID)
	ie.openSessions.Add(ctx, -1, metric.WithAttributes(lot))
	ie.fees.Record(ctx, s.Fee, metric.WithAttributes(lot))
}

func (ie *InstrumentedEngine) CloseAll(ctx context.Context, caller Caller, lotID string) ([]Session, error) {
	tracer := ie.telemetry.Tracer()
	ctx, span := tracer.Start(ctx, "parking.close_all",
		trace.WithAttributes(
			attribute.String("lot.id", lotID),
			attribute.String("user.id", caller.UserID),
		))
	defer span.End()

	start := time.Now()

	closed, err := ie.Engine.CloseAll(ctx, caller, lotID)

	duration := time.Since(start).Seconds()

	for _, s := range closed {
		ie.recordClosed(ctx, span, s)
	}
	span.SetAttributes(attribute.Int("sessions.closed", len(closed)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	labels := []attribute.KeyValue{
		attribute.String("operation", "close_all"),
		attribute.String("status", outcome(err)),
	}
	ie.exits.Add(ctx, int64(len(closed)), metric.WithAttributes(labels...))
	ie.operationDuration.Record(ctx, duration, metric.WithAttributes(labels...))

	return closed, err
}

func (ie *InstrumentedEngine) Status(ctx context.Context, lotID string) (LotStatus, error) {
	tracer := ie.telemetry.Tracer()
	ctx, span := tracer.Start(ctx, "parking.status",
		trace.WithAttributes(attribute.String("lot.id", lotID)))
	defer span.End()

	start := time.Now()

	status, err := ie.Engine.Status(lotID)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(
			attribute.Int("lot.capacity", status.Capacity),
			attribute.Int("lot.occupied", status.Occupied),
		)
	}

	ie.operationDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("operation", "status"),
		attribute.String("status", outcome(err)),
	))

	return status, err
}

func (ie *InstrumentedEngine) ListOpen(ctx context.Context, lotID string) []Session {
	tracer := ie.telemetry.Tracer()
	_, span := tracer.Start(ctx, "parking.list_open",
		trace.WithAttributes(attribute.String("lot.id", lotID)))
	defer span.End()

	sessions := ie.Engine.ListOpen(lotID)
	span.SetAttributes(attribute.Int("sessions.open", len(sessions)))
	return sessions
}

func (ie *InstrumentedEngine) AddSlot(ctx context.Context, caller Caller, lotID string, st SlotType) (SlotView, error) {
	tracer := ie.telemetry.Tracer()
	ctx, span := tracer.Start(ctx, "parking.add_slot",
		trace.WithAttributes(
			attribute.String("lot.id", lotID),
			attribute.String("slot.type", string(st)),
		))
	defer span.End()

	v, err := ie.Engine.AddSlot(ctx, caller, lotID, st)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return v, err
	}
	span.SetAttributes(attribute.String("slot.id", v.ID.String()))
	return v, nil
}

func (ie *InstrumentedEngine) RemoveSlot(ctx context.Context, caller Caller, id SlotID) error {
	tracer := ie.telemetry.Tracer()
	ctx, span := tracer.Start(ctx, "parking.remove_slot",
		trace.WithAttributes(attribute.String("slot.id", id.String())))
	defer span.End()

	err := ie.Engine.RemoveSlot(ctx, caller, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (ie *InstrumentedEngine) Reconcile(ctx context.Context) ReconcileReport {
	tracer := ie.telemetry.Tracer()
	ctx, span := tracer.Start(ctx, "parking.reconcile")
	defer span.End()

	start := time.Now()

	report := ie.Engine.Reconcile(ctx)

	span.SetAttributes(
		attribute.Int("slots.checked", report.Checked),
		attribute.Int("slots.repaired", len(report.Repaired)),
		attribute.Int("sessions.orphaned", len(report.Orphans)),
		attribute.Int("sessions.resynced", report.Resynced),
		attribute.Int("sessions.pending_sync", report.PendingSync),
	)
	if len(report.Repaired) > 0 {
		span.AddEvent("slots_repaired")
		ie.repairs.Add(ctx, int64(len(report.Repaired)))
	}

	ie.operationDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("operation", "reconcile"),
		attribute.String("status", "success"),
	))

	return report
}
