package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/langchou/truckpark/internal/config"
	"github.com/langchou/truckpark/internal/metrics"
	"github.com/langchou/truckpark/internal/models"
	"github.com/langchou/truckpark/internal/service"
	"github.com/langchou/truckpark/internal/storetest"
	"github.com/langchou/truckpark/internal/txn"
	"github.com/langchou/truckpark/pkg/ws"
)

const testAPIKey = "secret"

var testStart = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

type testServer struct {
	store  *storetest.Store
	gate   *storetest.Gate
	clock  *storetest.Clock
	router *gin.Engine
}

func newTestServer(t *testing.T, spaces int) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := &testServer{
		store: storetest.New(),
		gate:  storetest.NewGate(),
		clock: storetest.NewClock(testStart),
	}
	cfg := config.Parking{
		SpacesCount:         spaces,
		Cooldown:            time.Hour,
		MaxParkingTime:      18 * time.Hour,
		RecentVehiclesLimit: 3,
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	svc := service.NewParkingService(cfg, zap.NewNop(), m, s.store, s.store, s.store, s.gate, s.clock.Now)

	hub := ws.NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	h := NewHandler(zap.NewNop(), svc, s.store, hub, reg)
	hub.SetInitDataProvider(h.FreeSpacesSnapshot)

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	tx := txn.Middleware(s.store, txn.Options{
		Metrics:    m,
		Decorators: []txn.Decorator{h.UserStatusHeader},
	})
	h.RegisterRoutes(s.router, testAPIKey, tx)
	return s
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(APIKeyHeader, testAPIKey)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func userPath(userID uuid.UUID, suffix string) string {
	return "/api/user/" + userID.String() + suffix
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func statusHeader(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	raw := w.Header().Get(UserStatusHeaderName)
	if raw == "" {
		t.Fatalf("missing %s header", UserStatusHeaderName)
	}
	var status struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		t.Fatalf("decode status header %q: %v", raw, err)
	}
	return status.Status
}

type errorResponse struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
	Reason     string `json:"reason"`
}

func TestAPIKeyRequired(t *testing.T) {
	s := newTestServer(t, 2)

	for name, key := range map[string]string{"missing": "", "wrong": "nope"} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/freeParkingSpaces", nil)
			if key != "" {
				req.Header.Set(APIKeyHeader, key)
			}
			w := httptest.NewRecorder()
			s.router.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", w.Code)
			}
			var body errorResponse
			decode(t, w, &body)
			if body.Message != "API key missing or invalid" {
				t.Fatalf("unexpected message %q", body.Message)
			}
		})
	}
}

func TestParkingRoundTrip(t *testing.T) {
	s := newTestServer(t, 2)
	user := s.store.AddUser()

	w := s.do(t, http.MethodPost, userPath(user, "/parkingEvents"), `{"licensePlate":" ab 123 "}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var started models.ParkingEvent
	decode(t, w, &started)
	if started.LicensePlate != "AB 123" || started.EndTime != nil {
		t.Fatalf("unexpected started event %+v", started)
	}
	if got := statusHeader(t, w); got != "parking" {
		t.Fatalf("expected parking status header, got %q", got)
	}

	w = s.do(t, http.MethodGet, "/api/freeParkingSpaces", "")
	var snapshot models.CapacitySnapshot
	decode(t, w, &snapshot)
	if snapshot.FreeSpaces != 1 {
		t.Fatalf("expected 1 free space, got %d", snapshot.FreeSpaces)
	}

	w = s.do(t, http.MethodGet, userPath(user, "/parkingEvents/current"), "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected current event, got %d", w.Code)
	}

	s.clock.Advance(30 * time.Minute)
	w = s.do(t, http.MethodPatch, userPath(user, "/parkingEvents/current/end"), "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var ended models.ParkingEvent
	decode(t, w, &ended)
	if ended.ID != started.ID || ended.EndTime == nil {
		t.Fatalf("unexpected ended event %+v", ended)
	}
	if got := statusHeader(t, w); got != "cooldown" {
		t.Fatalf("expected cooldown status header, got %q", got)
	}

	w = s.do(t, http.MethodGet, userPath(user, "/parkingEvents/current"), "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}

	w = s.do(t, http.MethodGet, userPath(user, "/parkingEvents"), "")
	var history struct {
		ParkingEvents []models.ParkingEvent `json:"parkingEvents"`
	}
	decode(t, w, &history)
	if len(history.ParkingEvents) != 1 || history.ParkingEvents[0].ID != started.ID {
		t.Fatalf("unexpected history %+v", history.ParkingEvents)
	}

	w = s.do(t, http.MethodGet, userPath(user, "/parkingEvents/"+started.ID.String()), "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected event lookup, got %d", w.Code)
	}
}

func TestStartParkingDenied(t *testing.T) {
	s := newTestServer(t, 0)
	user := s.store.AddUser()

	w := s.do(t, http.MethodPost, userPath(user, "/parkingEvents"), `{"licensePlate":"AB123"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	var body errorResponse
	decode(t, w, &body)
	if body.Message != "cannot start parking event" || body.Reason != "areaFull" || body.Error != "Conflict" {
		t.Fatalf("unexpected body %+v", body)
	}
	if got := statusHeader(t, w); got != "idle" {
		t.Fatalf("expected idle status header after rollback, got %q", got)
	}
	if len(s.store.Events()) != 0 {
		t.Fatalf("denied admission must not store an event")
	}
	if calls := s.gate.Calls(); len(calls) != 0 {
		t.Fatalf("denied admission must not touch the gate, got %v", calls)
	}
}

func TestEndParkingDenied(t *testing.T) {
	s := newTestServer(t, 2)
	user := s.store.AddUser()

	w := s.do(t, http.MethodPatch, userPath(user, "/parkingEvents/current/end"), "")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	var body errorResponse
	decode(t, w, &body)
	if body.Message != "cannot end parking event" || body.Reason != "notParking" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestBadRequests(t *testing.T) {
	s := newTestServer(t, 2)
	user := s.store.AddUser()

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"bad user id", http.MethodGet, "/api/user/not-a-uuid/status", "", http.StatusBadRequest},
		{"bad event id", http.MethodGet, userPath(user, "/parkingEvents/xyz"), "", http.StatusBadRequest},
		{"missing plate", http.MethodPost, userPath(user, "/parkingEvents"), `{}`, http.StatusBadRequest},
		{"blank plate", http.MethodPost, userPath(user, "/parkingEvents"), `{"licensePlate":"   "}`, http.StatusBadRequest},
		{"too long plate", http.MethodPost, userPath(user, "/parkingEvents"), `{"licensePlate":"` + strings.Repeat("A", 17) + `"}`, http.StatusBadRequest},
		{"unknown user", http.MethodGet, userPath(uuid.New(), "/status"), "", http.StatusNotFound},
		{"unknown user admit", http.MethodPost, userPath(uuid.New(), "/parkingEvents"), `{"licensePlate":"AB123"}`, http.StatusNotFound},
		{"unknown event", http.MethodGet, userPath(user, "/parkingEvents/"+uuid.NewString()), "", http.StatusNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := s.do(t, tc.method, tc.path, tc.body)
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, w.Code, w.Body.String())
			}
		})
	}
	if len(s.store.Events()) != 0 {
		t.Fatalf("rejected requests must not store events")
	}
	if calls := s.gate.Calls(); len(calls) != 0 {
		t.Fatalf("rejected requests must not reach the gate, got %v", calls)
	}
}

func TestEventOfAnotherUserIsHidden(t *testing.T) {
	s := newTestServer(t, 2)
	owner := s.store.AddUser()
	other := s.store.AddUser()

	w := s.do(t, http.MethodPost, userPath(owner, "/parkingEvents"), `{"licensePlate":"AB123"}`)
	var event models.ParkingEvent
	decode(t, w, &event)

	w = s.do(t, http.MethodGet, userPath(other, "/parkingEvents/"+event.ID.String()), "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestBansAndRecentVehicles(t *testing.T) {
	s := newTestServer(t, 2)
	user := s.store.AddUser()
	s.store.AddUserBan(user, "unpaid", testStart.Add(-time.Hour), testStart.Add(time.Hour))
	s.store.AddVehicleBan("AB123", "damage", testStart.Add(-time.Hour), testStart.Add(time.Hour))
	end := testStart.Add(-2 * time.Hour)
	s.store.AddEvent(models.ParkingEvent{
		UserID:       user,
		LicensePlate: "AB123",
		StartTime:    testStart.Add(-3 * time.Hour),
		EndTime:      &end,
		ExpiryTime:   testStart.Add(15 * time.Hour),
	})

	w := s.do(t, http.MethodGet, userPath(user, "/ban"), "")
	var bans struct {
		CurrentBans []models.UserBan `json:"currentBans"`
	}
	decode(t, w, &bans)
	if len(bans.CurrentBans) != 1 || bans.CurrentBans[0].Reason != "unpaid" {
		t.Fatalf("unexpected bans %+v", bans.CurrentBans)
	}
	if got := statusHeader(t, w); got != "banned" {
		t.Fatalf("expected banned status header, got %q", got)
	}

	w = s.do(t, http.MethodGet, userPath(user, "/recentVehicles"), "")
	var recent struct {
		RecentVehicles []models.RecentVehicle `json:"recentVehicles"`
	}
	decode(t, w, &recent)
	if len(recent.RecentVehicles) != 1 || len(recent.RecentVehicles[0].Bans) != 1 {
		t.Fatalf("unexpected recent vehicles %+v", recent.RecentVehicles)
	}
}

func TestGateStatus(t *testing.T) {
	s := newTestServer(t, 2)

	w := s.do(t, http.MethodGet, "/api/gates", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Gates []service.GateGroupStatus `json:"gates"`
	}
	decode(t, w, &body)
	if len(body.Gates) != 2 {
		t.Fatalf("expected two gate groups, got %+v", body.Gates)
	}
	for _, call := range s.gate.Calls() {
		if strings.HasPrefix(call, "open:") || strings.HasPrefix(call, "close:") {
			t.Fatalf("diagnostics must not actuate gates, got %v", s.gate.Calls())
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, 2)
	user := s.store.AddUser()
	s.do(t, http.MethodPost, userPath(user, "/parkingEvents"), `{"licensePlate":"AB123"}`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	for _, name := range []string{"truckpark_parking_requests_total", "truckpark_transactions_total"} {
		if !strings.Contains(w.Body.String(), name) {
			t.Fatalf("expected %s in metrics output", name)
		}
	}
}

func TestFreeSpacesFeed(t *testing.T) {
	s := newTestServer(t, 2)
	user := s.store.AddUser()

	srv := httptest.NewServer(s.router)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	read := func(wantType string) int {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg struct {
			Type string                  `json:"type"`
			Data models.CapacitySnapshot `json:"data"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read %s: %v", wantType, err)
		}
		if msg.Type != wantType {
			t.Fatalf("expected %s message, got %s", wantType, msg.Type)
		}
		return msg.Data.FreeSpaces
	}

	if free := read(ws.MsgTypeInit); free != 2 {
		t.Fatalf("expected 2 free spaces on connect, got %d", free)
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+userPath(user, "/parkingEvents"), strings.NewReader(`{"licensePlate":"AB123"}`))
	req.Header.Set(APIKeyHeader, testAPIKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	if free := read(ws.MsgTypeFreeSpaces); free != 1 {
		t.Fatalf("expected 1 free space after admission, got %d", free)
	}
}
