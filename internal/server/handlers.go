package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"parking-allocator/internal/parking"
)

type Handler struct {
	engine      *parking.InstrumentedEngine
	serviceName string
}

func NewHandler(engine *parking.InstrumentedEngine, serviceName string) *Handler {
	return &Handler{engine: engine, serviceName: serviceName}
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Service: h.serviceName,
		Lots:    len(h.engine.Lots()),
		Meta:    extractMeta(r.Context()),
	})
}

// requireCaller writes 401 and returns false when the request carries no
// caller identity.
func requireCaller(w http.ResponseWriter, r *http.Request) (parking.Caller, bool) {
	caller, ok := callerFrom(r.Context())
	if !ok {
		WriteError(r.Context(), w, http.StatusUnauthorized, HeaderUserID+" header is required")
		return parking.Caller{}, false
	}
	return caller, true
}

func (h *Handler) ListLots(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(r.Context(), w, "Lots retrieved successfully", h.engine.Lots())
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status, err := h.engine.Status(ctx, chi.URLParam(r, "lotID"))
	if err != nil {
		writeEngineError(ctx, w, err)
		return
	}
	WriteSuccess(ctx, w, "Status retrieved successfully", status)
}

func (h *Handler) ListAvailable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var vt parking.VehicleType
	if raw := r.URL.Query().Get("vehicle_type"); raw != "" {
		parsed, err := parking.ParseVehicleType(raw)
		if err != nil {
			writeEngineError(ctx, w, err)
			return
		}
		vt = parsed
	}

	slots, err := h.engine.Available(chi.URLParam(r, "lotID"), vt)
	if err != nil {
		writeEngineError(ctx, w, err)
		return
	}
	if slots == nil {
		slots = []parking.SlotView{}
	}
	WriteSuccess(ctx, w, "Available slots retrieved successfully", slots)
}

func (h *Handler) ParkVehicle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var req ParkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(ctx, w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Plate == "" || req.VehicleType == "" {
		WriteError(ctx, w, http.StatusBadRequest, "Plate and vehicle_type are required")
		return
	}
	if req.SlotNumber < 0 {
		WriteError(ctx, w, http.StatusBadRequest, "Slot number must be greater than 0")
		return
	}
	vt, err := parking.ParseVehicleType(req.VehicleType)
	if err != nil {
		writeEngineError(ctx, w, err)
		return
	}

	session, err := h.engine.Park(ctx, caller, parking.AllocationRequest{
		LotID:       chi.URLParam(r, "lotID"),
		SlotNumber:  req.SlotNumber,
		Plate:       req.Plate,
		VehicleType: vt,
		VehicleMake: parking.ParseVehicleMake(req.VehicleMake),
	})
	if err != nil {
		writeEngineError(ctx, w, err)
		return
	}
	WriteCreated(ctx, w, "Vehicle parked successfully", session)
}

func (h *Handler) ExitSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	session, err := h.engine.Exit(ctx, caller, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeEngineError(ctx, w, err)
		return
	}
	WriteSuccess(ctx, w, "Session closed successfully", ExitResponse{
		Session:       session,
		BillableHours: parking.BillableHours(session.EntryTime, *session.ExitTime),
		HourlyRate:    h.engine.HourlyRate(),
	})
}

func (h *Handler) CloseAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	closed, err := h.engine.CloseAll(ctx, caller, chi.URLParam(r, "lotID"))
	if err != nil {
		writeEngineError(ctx, w, err)
		return
	}
	resp := CloseAllResponse{Closed: len(closed), Sessions: closed}
	if resp.Sessions == nil {
		resp.Sessions = []parking.Session{}
	}
	for _, s := range closed {
		resp.Total += s.Fee
	}
	WriteSuccess(ctx, w, "Sessions closed successfully", resp)
}

func (h *Handler) AddSlot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var req AddSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(ctx, w, http.StatusBadRequest, "Invalid request body")
		return
	}
	st, err := parking.ParseSlotType(req.SlotType)
	if err != nil {
		writeEngineError(ctx, w, err)
		return
	}

	slot, err := h.engine.AddSlot(ctx, caller, chi.URLParam(r, "lotID"), st)
	if err != nil {
		writeEngineError(ctx, w, err)
		return
	}
	WriteCreated(ctx, w, "Slot added successfully", slot)
}

func (h *Handler) RemoveSlot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil || number <= 0 {
		WriteError(ctx, w, http.StatusBadRequest, "Slot number must be greater than 0")
		return
	}

	id := parking.SlotID{LotID: chi.URLParam(r, "lotID"), Number: number}
	if err := h.engine.RemoveSlot(ctx, caller, id); err != nil {
		writeEngineError(ctx, w, err)
		return
	}
	WriteSuccess(ctx, w, "Slot removed successfully", id)
}

func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	var sessions []parking.Session
	if user := q.Get("user"); user != "" {
		lot := q.Get("lot")
		for _, s := range h.engine.ListByUser(user) {
			if lot == "" || s.SlotID.LotID == lot {
				sessions = append(sessions, s)
			}
		}
	} else {
		sessions = h.engine.ListOpen(ctx, q.Get("lot"))
	}
	if sessions == nil {
		sessions = []parking.Session{}
	}
	WriteSuccess(ctx, w, "Sessions retrieved successfully", sessions)
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, err := h.engine.Session(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeEngineError(ctx, w, err)
		return
	}
	WriteSuccess(ctx, w, "Session retrieved successfully", session)
}

func (h *Handler) FindVehicle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, err := h.engine.FindByPlate(chi.URLParam(r, "plate"))
	if err != nil {
		writeEngineError(ctx, w, err)
		return
	}
	WriteSuccess(ctx, w, "Vehicle found", session)
}

func (h *Handler) GetRevenue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	raw := r.URL.Query().Get("since")
	if raw == "" {
		WriteSuccess(ctx, w, "Revenue retrieved successfully", h.engine.RevenueToday())
		return
	}
	since, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		WriteError(ctx, w, http.StatusBadRequest, "since must be an RFC3339 timestamp")
		return
	}
	WriteSuccess(ctx, w, "Revenue retrieved successfully", h.engine.RevenueSince(since))
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	if !caller.Role.Privileged() {
		writeEngineError(ctx, w, parking.ErrNotPermitted)
		return
	}
	WriteSuccess(ctx, w, "Reconcile pass completed", h.engine.Reconcile(ctx))
}

func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	WriteError(r.Context(), w, http.StatusNotFound, "Route not found")
}
