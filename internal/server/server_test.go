package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking-allocator/internal/parking"
	"parking-allocator/internal/telemetry"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

type testServer struct {
	handler http.Handler
	engine  *parking.InstrumentedEngine
	clock   *parking.ManualClock
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	inv := parking.NewInventory()
	require.NoError(t, inv.AddLot(parking.Lot{ID: "LOT-1", Name: "Test Garage", Category: parking.LotStructure},
		[]parking.SlotType{parking.SlotMotorcycle, parking.SlotStandard, parking.SlotEVCharging}))
	clock := parking.NewManualClock(t0)
	e, err := parking.NewEngine(inv, parking.Options{Clock: clock, HourlyRate: 5})
	require.NoError(t, err)
	ie, err := parking.NewInstrumentedEngine(e, telemetry.NewNoop())
	require.NoError(t, err)

	srv := NewServer("0", "parking-allocator-test", ie)
	return &testServer{handler: srv.Handler(), engine: ie, clock: clock}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Meta    *Meta           `json:"meta"`
}

func (ts *testServer) do(t *testing.T, method, path, user, role string, body any) (int, envelope) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rdr)
	if user != "" {
		req.Header.Set(HeaderUserID, user)
	}
	if role != "" {
		req.Header.Set(HeaderUserRole, role)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec.Code, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 1, health.Lots)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestParkExitFlow(t *testing.T) {
	ts := newTestServer(t)

	code, env := ts.do(t, http.MethodPost, "/api/parking-lot/lots/LOT-1/park", "alice", "client",
		ParkRequest{Plate: "abc1234", VehicleType: "car", VehicleMake: "toyota"})
	require.Equal(t, http.StatusCreated, code, env.Error)
	session := decode[parking.Session](t, env.Data)
	assert.Equal(t, 2, session.SlotID.Number)
	assert.Equal(t, "ABC1234", session.Plate)
	assert.Equal(t, parking.MakeToyota, session.VehicleMake)
	assert.NotEmpty(t, env.Meta.RequestID)

	code, env = ts.do(t, http.MethodGet, "/api/parking-lot/lots/LOT-1/status", "", "", nil)
	require.Equal(t, http.StatusOK, code)
	status := decode[parking.LotStatus](t, env.Data)
	assert.Equal(t, 1, status.Occupied)
	assert.Equal(t, 2, status.Available)

	code, env = ts.do(t, http.MethodGet, "/api/parking-lot/sessions?lot=LOT-1", "", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[[]parking.Session](t, env.Data), 1)

	code, env = ts.do(t, http.MethodGet, "/api/parking-lot/find/ABC1234", "", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, session.ID, decode[parking.Session](t, env.Data).ID)

	ts.clock.Advance(90 * time.Minute)
	code, env = ts.do(t, http.MethodPost, "/api/parking-lot/sessions/"+session.ID+"/exit", "alice", "", nil)
	require.Equal(t, http.StatusOK, code, env.Error)
	exit := decode[ExitResponse](t, env.Data)
	assert.Equal(t, 10.0, exit.Session.Fee)
	assert.Equal(t, int64(2), exit.BillableHours)
	assert.Equal(t, parking.PaymentPaid, exit.Session.PaymentStatus)

	code, env = ts.do(t, http.MethodPost, "/api/parking-lot/sessions/"+session.ID+"/exit", "alice", "", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.False(t, env.Success)

	code, _ = ts.do(t, http.MethodGet, "/api/parking-lot/find/ABC1234", "", "", nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, env = ts.do(t, http.MethodGet, "/api/parking-lot/revenue?since="+t0.Format(time.RFC3339), "", "", nil)
	require.Equal(t, http.StatusOK, code)
	rev := decode[parking.Revenue](t, env.Data)
	assert.Equal(t, 10.0, rev.Total)
	assert.Equal(t, 1, rev.Count)

	code, env = ts.do(t, http.MethodGet, "/api/parking-lot/sessions?user=alice", "", "", nil)
	require.Equal(t, http.StatusOK, code)
	history := decode[[]parking.Session](t, env.Data)
	require.Len(t, history, 1)
	assert.Equal(t, parking.SessionClosed, history[0].Status)
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t)
	park := func(user, role string, req ParkRequest) int {
		code, _ := ts.do(t, http.MethodPost, "/api/parking-lot/lots/LOT-1/park", user, role, req)
		return code
	}

	assert.Equal(t, http.StatusUnauthorized, park("", "", ParkRequest{Plate: "A", VehicleType: "car"}))
	assert.Equal(t, http.StatusBadRequest, park("alice", "wizard", ParkRequest{Plate: "A", VehicleType: "car"}))
	assert.Equal(t, http.StatusBadRequest, park("alice", "", ParkRequest{Plate: "A", VehicleType: "hovercraft"}))
	assert.Equal(t, http.StatusBadRequest, park("alice", "", ParkRequest{VehicleType: "car"}))
	assert.Equal(t, http.StatusConflict, park("alice", "", ParkRequest{Plate: "TRK0001", VehicleType: "truck"}))

	assert.Equal(t, http.StatusCreated, park("alice", "", ParkRequest{Plate: "AAA0001", VehicleType: "car"}))
	assert.Equal(t, http.StatusConflict, park("alice", "", ParkRequest{Plate: "AAA0002", VehicleType: "ev"}),
		"second open session for a client")
	assert.Equal(t, http.StatusConflict, park("bob", "", ParkRequest{Plate: "BBB0001", VehicleType: "car"}),
		"lot full for cars")

	code, _ := ts.do(t, http.MethodGet, "/api/parking-lot/lots/NOPE/status", "", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = ts.do(t, http.MethodGet, "/api/parking-lot/sessions/missing", "", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = ts.do(t, http.MethodGet, "/api/parking-lot/revenue?since=yesterday", "", "", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = ts.do(t, http.MethodGet, "/nowhere", "", "", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAdminRoutes(t *testing.T) {
	ts := newTestServer(t)

	code, _ := ts.do(t, http.MethodPost, "/api/parking-lot/lots/LOT-1/slots", "alice", "client", AddSlotRequest{SlotType: "compact"})
	assert.Equal(t, http.StatusForbidden, code)

	code, env := ts.do(t, http.MethodPost, "/api/parking-lot/lots/LOT-1/slots", "ops", "admin", AddSlotRequest{SlotType: "compact"})
	require.Equal(t, http.StatusCreated, code, env.Error)
	slot := decode[parking.SlotView](t, env.Data)
	assert.Equal(t, 4, slot.ID.Number)

	code, _ = ts.do(t, http.MethodGet, "/api/parking-lot/lots/LOT-1/available?vehicle_type=car", "", "", nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = ts.do(t, http.MethodDelete, "/api/parking-lot/lots/LOT-1/slots/4", "ops", "admin", nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = ts.do(t, http.MethodDelete, "/api/parking-lot/lots/LOT-1/slots/4", "ops", "admin", nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = ts.do(t, http.MethodDelete, "/api/parking-lot/lots/LOT-1/slots/zero", "ops", "admin", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	for _, plate := range []string{"AAA0001", "BBB0002"} {
		code, _ = ts.do(t, http.MethodPost, "/api/parking-lot/lots/LOT-1/park", "ops", "admin", ParkRequest{Plate: plate, VehicleType: "ev"})
		require.Equal(t, http.StatusCreated, code)
	}
	code, _ = ts.do(t, http.MethodDelete, "/api/parking-lot/lots/LOT-1/slots/2", "ops", "admin", nil)
	assert.Equal(t, http.StatusConflict, code, "occupied slot cannot be removed")

	code, _ = ts.do(t, http.MethodPost, "/api/parking-lot/lots/LOT-1/close-all", "alice", "", nil)
	assert.Equal(t, http.StatusForbidden, code)

	ts.clock.Advance(time.Hour)
	code, env = ts.do(t, http.MethodPost, "/api/parking-lot/lots/LOT-1/close-all", "ops", "admin", nil)
	require.Equal(t, http.StatusOK, code)
	bulk := decode[CloseAllResponse](t, env.Data)
	assert.Equal(t, 2, bulk.Closed)
	assert.Equal(t, 10.0, bulk.Total)

	code, _ = ts.do(t, http.MethodPost, "/api/parking-lot/reconcile", "alice", "", nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, env = ts.do(t, http.MethodPost, "/api/parking-lot/reconcile", "ops", "admin", nil)
	require.Equal(t, http.StatusOK, code)
	report := decode[parking.ReconcileReport](t, env.Data)
	assert.Equal(t, 3, report.Checked)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/api/parking-lot/lots/LOT-1/park", "alice", "", ParkRequest{Plate: "AAA0001", VehicleType: "motorcycle"})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `parking_lot_slots_occupied{lot_id="LOT-1",slot_type="motorcycle"} 1`)
	assert.Contains(t, body, `parking_lot_slots{lot_id="LOT-1",slot_type="standard"} 1`)
	assert.Contains(t, body, `parking_lot_open_sessions{lot_id="LOT-1"} 1`)
	assert.Contains(t, body, `http_requests_total{code="201",method="POST",route="/api/parking-lot/lots/{lotID}/park"} 1`)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{parking.ErrInvalidRequest, http.StatusBadRequest},
		{parking.ErrNotPermitted, http.StatusForbidden},
		{parking.ErrLotNotFound, http.StatusNotFound},
		{parking.ErrSlotUnavailable, http.StatusConflict},
		{parking.ErrSlotOccupied, http.StatusConflict},
		{parking.ErrAllocationFailed, http.StatusServiceUnavailable},
		{io.EOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestGetAddress(t *testing.T) {
	ts := newTestServer(t)
	srv := NewServer("8085", "parking-allocator-test", ts.engine)
	assert.Equal(t, "http://localhost:8085", srv.GetAddress())
}
