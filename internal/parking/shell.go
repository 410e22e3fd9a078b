package parking

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const shellUsage = `Commands:
  lots                                   list lots
  use <lot_id>                           switch current lot
  status                                 slot status of the current lot
  available [vehicle_type]               free slots, optionally compatible only
  park <plate> <vehicle_type> [make] [slot_number]
  makes                                  vehicle makes accepted by park
  exit <session_id>                      close a session and print the fee
  open                                   open sessions in the current lot
  find <plate>                           slot of a parked vehicle
  history [user_id]                      sessions of a user (default: you)
  close_all                              close every open session (admin)
  add_slot <slot_type>                   add a slot to the current lot (admin)
  remove_slot <slot_number>              remove a free slot (admin)
  revenue [today|<RFC3339 time>]         fees collected since a time
  reconcile                              check slot state against sessions
  help`

// Shell is a line-oriented operator console over the engine.
type Shell struct {
	engine  *InstrumentedEngine
	scanner *bufio.Scanner
	out     io.Writer
	caller  Caller
	lotID   string
}

func NewShell(engine *InstrumentedEngine, in io.Reader, out io.Writer, caller Caller) *Shell {
	s := &Shell{
		engine:  engine,
		scanner: bufio.NewScanner(in),
		out:     out,
		caller:  caller,
	}
	if lots := engine.Lots(); len(lots) > 0 {
		s.lotID = lots[0].ID
	}
	return s
}

func (s *Shell) Run(ctx context.Context) {
	tracer := s.engine.telemetry.Tracer()
	ctx, span := tracer.Start(ctx, "shell.run")
	defer span.End()

	span.AddEvent("shell_started")

	for s.scanner.Scan() {
		if ctx.Err() != nil {
			break
		}

		input := strings.TrimSpace(s.scanner.Text())
		if input == "" {
			continue
		}
		if input == "quit" || input == "q" {
			break
		}

		cmdCtx, cmdSpan := tracer.Start(ctx, "shell.process_command",
			trace.WithAttributes(attribute.String("command.input", input)))
		s.processCommand(cmdCtx, input)
		cmdSpan.End()
	}

	span.AddEvent("shell_ended")
}

func (s *Shell) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}

func (s *Shell) processCommand(ctx context.Context, input string) {
	span := trace.SpanFromContext(ctx)

	parts := strings.Fields(input)
	command, args := parts[0], parts[1:]
	span.SetAttributes(attribute.String("command.name", command))

	var err error
	switch command {
	case "lots":
		s.handleLots()
	case "use":
		err = s.handleUse(args)
	case "status":
		err = s.handleStatus(ctx)
	case "available":
		err = s.handleAvailable(args)
	case "park":
		err = s.handlePark(ctx, args)
	case "makes":
		s.handleMakes()
	case "exit":
		err = s.handleExit(ctx, args)
	case "open":
		s.handleOpen(ctx)
	case "find":
		err = s.handleFind(args)
	case "history":
		s.handleHistory(args)
	case "close_all":
		err = s.handleCloseAll(ctx)
	case "add_slot":
		err = s.handleAddSlot(ctx, args)
	case "remove_slot":
		err = s.handleRemoveSlot(ctx, args)
	case "revenue":
		err = s.handleRevenue(args)
	case "reconcile":
		s.handleReconcile(ctx)
	case "help":
		s.printf("%s\n", shellUsage)
	default:
		span.AddEvent("unknown_command", trace.WithAttributes(
			attribute.String("unknown_command", command),
		))
		s.printf("Unknown command: %s\n", command)
		return
	}

	if err != nil {
		span.RecordError(err)
		s.printf("Error: %s\n", describeError(err))
	}
}

var errUsage = errors.New("usage")

func usage(text string) error {
	return fmt.Errorf("%w: %s", errUsage, text)
}

func describeError(err error) string {
	switch {
	case errors.Is(err, errUsage):
		return strings.TrimPrefix(err.Error(), "usage: ")
	case errors.Is(err, ErrNoCompatibleSlot):
		return "no free slot fits this vehicle type"
	case errors.Is(err, ErrLotFull):
		return "parking lot is full"
	case errors.Is(err, ErrSlotUnavailable):
		return "that slot was just taken, pick another"
	case errors.Is(err, ErrSessionLimitReached):
		return "you already have a vehicle parked"
	}
	return err.Error()
}

func (s *Shell) handleLots() {
	for _, lot := range s.engine.Lots() {
		marker := " "
		if lot.ID == s.lotID {
			marker = "*"
		}
		s.printf("%s %s\t%s\t%s\t%s\n", marker, lot.ID, lot.Name, lot.Location, lot.Category)
	}
}

func (s *Shell) handleUse(args []string) error {
	if len(args) != 1 {
		return usage("use <lot_id>")
	}
	if _, ok := s.engine.inventory.Lot(args[0]); !ok {
		return ErrLotNotFound
	}
	s.lotID = args[0]
	s.printf("Using lot %s\n", s.lotID)
	return nil
}

func (s *Shell) handleStatus(ctx context.Context) error {
	status, err := s.engine.Status(ctx, s.lotID)
	if err != nil {
		return err
	}
	s.printf("%s (%s): %d/%d occupied\n", status.Lot.Name, status.Lot.ID, status.Occupied, status.Capacity)
	s.printf("Slot No.\tType\t\tVehicle\t\tSession\n")
	for _, v := range status.Slots {
		vehicle, session := "-", "-"
		if v.Occupied {
			vehicle, session = string(v.VehicleType), v.SessionID
		}
		s.printf("%d\t\t%-12s\t%-10s\t%s\n", v.ID.Number, v.Type, vehicle, session)
	}
	return nil
}

func (s *Shell) handleAvailable(args []string) error {
	var vt VehicleType
	if len(args) > 0 {
		parsed, err := ParseVehicleType(args[0])
		if err != nil {
			return err
		}
		vt = parsed
	}
	slots, err := s.engine.Available(s.lotID, vt)
	if err != nil {
		return err
	}
	if len(slots) == 0 {
		s.printf("No available slots\n")
		return nil
	}
	for _, v := range slots {
		s.printf("%d\t%s\n", v.ID.Number, v.Type)
	}
	return nil
}

func (s *Shell) handlePark(ctx context.Context, args []string) error {
	if len(args) < 2 || len(args) > 4 {
		return usage("park <plate> <vehicle_type> [make] [slot_number]")
	}
	vt, err := ParseVehicleType(args[1])
	if err != nil {
		return err
	}

	req := AllocationRequest{LotID: s.lotID, Plate: args[0], VehicleType: vt}
	for _, extra := range args[2:] {
		if n, convErr := strconv.Atoi(extra); convErr == nil {
			req.SlotNumber = n
			continue
		}
		req.VehicleMake = ParseVehicleMake(extra)
	}

	session, err := s.engine.Park(ctx, s.caller, req)
	if err != nil {
		return err
	}
	s.printf("Allocated slot number: %d (session %s)\n", session.SlotID.Number, session.ID)
	return nil
}

func (s *Shell) handleMakes() {
	names := make([]string, 0, len(vehicleMakes))
	for _, m := range VehicleMakes() {
		names = append(names, string(m))
	}
	s.printf("%s\n", strings.Join(names, ", "))
}

func (s *Shell) handleExit(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("exit <session_id>")
	}
	session, err := s.engine.Exit(ctx, s.caller, args[0])
	if err != nil {
		return err
	}
	hours := BillableHours(session.EntryTime, *session.ExitTime)
	s.printf("Slot number %d is free. %d hour(s) at $%.2f: $%.2f\n",
		session.SlotID.Number, hours, s.engine.HourlyRate(), session.Fee)
	return nil
}

func (s *Shell) printSessions(sessions []Session) {
	if len(sessions) == 0 {
		s.printf("No sessions\n")
		return
	}
	now := s.engine.Now()
	s.printf("Session\t\t\t\t\tPlate\tType\tSlot\tEntry\t\tElapsed\tStatus\n")
	for _, ses := range sessions {
		s.printf("%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			ses.ID, ses.Plate, ses.VehicleType, ses.SlotID.Number,
			ses.EntryTime.Format("15:04:05"), ses.Duration(now).Truncate(time.Second), ses.Status)
	}
}

func (s *Shell) handleOpen(ctx context.Context) {
	s.printSessions(s.engine.ListOpen(ctx, s.lotID))
}

func (s *Shell) handleFind(args []string) error {
	if len(args) != 1 {
		return usage("find <plate>")
	}
	session, err := s.engine.FindByPlate(args[0])
	if err != nil {
		return err
	}
	s.printf("%s is in %s slot %d (session %s)\n",
		session.Plate, session.SlotID.LotID, session.SlotID.Number, session.ID)
	return nil
}

func (s *Shell) handleHistory(args []string) {
	user := s.caller.UserID
	if len(args) > 0 {
		user = args[0]
	}
	s.printSessions(s.engine.ListByUser(user))
}

func (s *Shell) handleCloseAll(ctx context.Context) error {
	closed, err := s.engine.CloseAll(ctx, s.caller, s.lotID)
	if err != nil {
		return err
	}
	var total float64
	for _, c := range closed {
		total += c.Fee
	}
	s.printf("Closed %d session(s), $%.2f collected\n", len(closed), total)
	return nil
}

func (s *Shell) handleAddSlot(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("add_slot <slot_type>")
	}
	st, err := ParseSlotType(args[0])
	if err != nil {
		return err
	}
	v, err := s.engine.AddSlot(ctx, s.caller, s.lotID, st)
	if err != nil {
		return err
	}
	s.printf("Added slot %d (%s)\n", v.ID.Number, v.Type)
	return nil
}

func (s *Shell) handleRemoveSlot(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return usage("remove_slot <slot_number>")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return usage("remove_slot <slot_number>")
	}
	if err := s.engine.RemoveSlot(ctx, s.caller, SlotID{LotID: s.lotID, Number: n}); err != nil {
		return err
	}
	s.printf("Removed slot %d\n", n)
	return nil
}

func (s *Shell) handleRevenue(args []string) error {
	var rev Revenue
	switch {
	case len(args) == 0 || args[0] == "today":
		rev = s.engine.RevenueToday()
	default:
		since, err := time.Parse(time.RFC3339, args[0])
		if err != nil {
			return usage("revenue [today|<RFC3339 time>]")
		}
		rev = s.engine.RevenueSince(since)
	}
	s.printf("Revenue since %s: $%.2f from %d session(s)\n", rev.Since.Format(time.RFC3339), rev.Total, rev.Count)
	return nil
}

func (s *Shell) handleReconcile(ctx context.Context) {
	report := s.engine.Reconcile(ctx)
	s.printf("Checked %d slot(s), repaired %d, orphaned sessions %d, resynced %d, pending %d\n",
		report.Checked, len(report.Repaired), len(report.Orphans), report.Resynced, report.PendingSync)
}
