package api_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/micro-nova/checkin-go/internal/api"
	"github.com/micro-nova/checkin-go/internal/config"
	"github.com/micro-nova/checkin-go/internal/controller"
	"github.com/micro-nova/checkin-go/internal/events"
	"github.com/micro-nova/checkin-go/internal/hardware"
	"github.com/micro-nova/checkin-go/internal/ledger"
	"github.com/micro-nova/checkin-go/internal/metrics"
	"github.com/micro-nova/checkin-go/internal/models"
)

type testServer struct {
	*httptest.Server
	ctrl *controller.Controller
	mock *hardware.Mock
}

// newTestServer spins up a full router with mock dependencies.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWith(t, api.Options{})
}

func newTestServerWith(t *testing.T, opts api.Options) *testServer {
	t.Helper()

	hw := hardware.NewMock()
	l, err := ledger.Open(config.NewMemStore())
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	bus := events.NewBus()
	m := metrics.New()
	ctrl := controller.New(context.Background(), controller.Options{
		Ledger:   l,
		Driver:   hw,
		Stations: []config.StationConfig{{Name: "Eingang"}, {Name: "Ausgang"}},
		Reader:   hardware.ReadoutSettings(hardware.DefaultStationCode),
		Bus:      bus,
		Metrics:  m,
		Version:  "0.0.1",
		Hostname: "test",
		Storage:  config.StorageJSON,
	})
	if opts.Metrics == nil {
		opts.Metrics = m.Handler()
	}

	srv := httptest.NewServer(api.NewRouter(ctrl, bus, opts))
	t.Cleanup(func() {
		srv.Close()
		ctrl.Shutdown()
	})
	return &testServer{Server: srv, ctrl: ctrl, mock: hw}
}

// do is a convenience helper for making requests to the test server.
func do(t *testing.T, srv *testServer, method, path, body string) *http.Response {
	t.Helper()
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, srv.URL+path, bodyReader)
	if err != nil {
		t.Fatalf("NewRequest %s %s: %v", method, path, err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("Do %s %s: %v", method, path, err)
	}
	return resp
}

// decodeJSON reads and decodes a JSON response body into v.
func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
}

// requireStatus fails the test if the response status doesn't match.
func requireStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d; body: %s", resp.StatusCode, expected, body)
	}
}

func requireAppError(t *testing.T, resp *http.Response, status int, code string) models.AppError {
	t.Helper()
	requireStatus(t, resp, status)
	var appErr models.AppError
	decodeJSON(t, resp, &appErr)
	if appErr.Code != code {
		t.Errorf("error code = %q, want %q", appErr.Code, code)
	}
	return appErr
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (srv *testServer) activate(t *testing.T, id int, action string) {
	t.Helper()
	resp := do(t, srv, "POST", "/api/stations/"+strconv.Itoa(id)+"/"+action, "")
	requireStatus(t, resp, http.StatusAccepted)
	resp.Body.Close()
	waitFor(t, "station active", func() bool {
		st, _ := srv.ctrl.Station(id)
		return st.Phase == models.PhaseActive
	})
}

// --- Tests ---

func TestGetState(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/api", "/api/"} {
		resp := do(t, srv, "GET", path, "")
		requireStatus(t, resp, http.StatusOK)

		var state models.State
		decodeJSON(t, resp, &state)
		if len(state.Stations) != 2 {
			t.Fatalf("GET %s: %d stations", path, len(state.Stations))
		}
		if state.Stations[0].Name != "Eingang" || state.Stations[0].Label != models.ModeUnconfigured.Label() {
			t.Errorf("GET %s: station 0 = %+v", path, state.Stations[0])
		}
		if state.Occupancy.MaxOccupancy != models.DefaultMaxOccupancy || state.Occupancy.Digits != 3 {
			t.Errorf("GET %s: occupancy = %+v", path, state.Occupancy)
		}
	}
}

func TestGetInfo(t *testing.T) {
	srv := newTestServer(t)
	resp := do(t, srv, "GET", "/api/info", "")
	requireStatus(t, resp, http.StatusOK)

	var info models.Info
	decodeJSON(t, resp, &info)
	if info.Version != "0.0.1" || info.Hostname != "test" || info.Stations != 2 || !info.Mock || info.Storage != "json" {
		t.Errorf("info = %+v", info)
	}
}

func TestOccupancy_GetAndPatch(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, srv, "PATCH", "/api/occupancy", `{"max_occupancy": 12}`)
	requireStatus(t, resp, http.StatusOK)
	var occ models.Occupancy
	decodeJSON(t, resp, &occ)
	if occ.MaxOccupancy != 12 || occ.Digits != 2 {
		t.Errorf("PATCH result = %+v", occ)
	}

	resp = do(t, srv, "GET", "/api/occupancy", "")
	requireStatus(t, resp, http.StatusOK)
	decodeJSON(t, resp, &occ)
	if occ.MaxOccupancy != 12 {
		t.Errorf("GET after PATCH = %+v", occ)
	}
}

func TestOccupancy_PatchInvalid(t *testing.T) {
	srv := newTestServer(t)

	requireAppError(t, do(t, srv, "PATCH", "/api/occupancy", `{"max_occupancy": -3}`), 400, "BAD_REQUEST")
	requireAppError(t, do(t, srv, "PATCH", "/api/occupancy", `{}`), 400, "BAD_REQUEST")
	requireAppError(t, do(t, srv, "PATCH", "/api/occupancy", `{"max_occupancy": "ten"}`), 400, "BAD_REQUEST")
	requireAppError(t, do(t, srv, "PATCH", "/api/occupancy", `not json`), 400, "BAD_REQUEST")

	if srv.ctrl.Occupancy().MaxOccupancy != models.DefaultMaxOccupancy {
		t.Error("rejected PATCH changed max occupancy")
	}
}

func TestStationFlow_CheckInSimulateReset(t *testing.T) {
	srv := newTestServer(t)
	srv.activate(t, 0, "check-in")

	resp := do(t, srv, "POST", "/api/stations/0/simulate", `{"event":"inserted","card":8123456}`)
	requireStatus(t, resp, http.StatusOK)
	var state models.State
	decodeJSON(t, resp, &state)
	if st := state.Stations[0]; st.Result != models.ResultCheckInSuccess || st.Message != "Willkommen!" {
		t.Errorf("station 0 = %+v", st)
	}
	if state.Occupancy.Inside != 1 {
		t.Errorf("inside = %d", state.Occupancy.Inside)
	}

	resp = do(t, srv, "GET", "/api/occupancy/cards", "")
	requireStatus(t, resp, http.StatusOK)
	var members models.MembersResponse
	decodeJSON(t, resp, &members)
	if members.Count != 1 || members.Cards[0] != 8123456 {
		t.Errorf("members = %+v", members)
	}

	resp = do(t, srv, "POST", "/api/occupancy/reset", "")
	requireStatus(t, resp, http.StatusOK)
	var occ models.Occupancy
	decodeJSON(t, resp, &occ)
	if occ.Inside != 0 {
		t.Errorf("inside after reset = %d", occ.Inside)
	}
}

func TestBeginCheckOut_Accepted(t *testing.T) {
	srv := newTestServer(t)
	release := srv.mock.HoldDetect()
	defer release()

	resp := do(t, srv, "POST", "/api/stations/1/check-out", "")
	requireStatus(t, resp, http.StatusAccepted)
	var state models.State
	decodeJSON(t, resp, &state)
	if st := state.Stations[1]; st.Phase != models.PhaseConfiguring || st.Label != "Check-out" {
		t.Errorf("station 1 = %+v", st)
	}
}

func TestStopStation(t *testing.T) {
	srv := newTestServer(t)
	srv.activate(t, 1, "check-out")

	resp := do(t, srv, "POST", "/api/stations/1/stop", "")
	requireStatus(t, resp, http.StatusOK)
	var state models.State
	decodeJSON(t, resp, &state)
	if st := state.Stations[1]; st.Phase != models.PhaseUnconfigured || len(st.Actions) != 2 {
		t.Errorf("station 1 = %+v", st)
	}
}

func TestGetStations(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, srv, "GET", "/api/stations", "")
	requireStatus(t, resp, http.StatusOK)
	var body struct {
		Stations []models.Station `json:"stations"`
	}
	decodeJSON(t, resp, &body)
	if len(body.Stations) != 2 {
		t.Errorf("stations = %d", len(body.Stations))
	}

	resp = do(t, srv, "GET", "/api/stations/1", "")
	requireStatus(t, resp, http.StatusOK)
	var st models.Station
	decodeJSON(t, resp, &st)
	if st.ID != 1 || st.Name != "Ausgang" {
		t.Errorf("station = %+v", st)
	}
}

func TestStation_NotFoundAndBadID(t *testing.T) {
	srv := newTestServer(t)

	requireAppError(t, do(t, srv, "GET", "/api/stations/9", ""), 404, "NOT_FOUND")
	requireAppError(t, do(t, srv, "POST", "/api/stations/9/check-in", ""), 404, "NOT_FOUND")
	requireAppError(t, do(t, srv, "POST", "/api/stations/9/stop", ""), 404, "NOT_FOUND")
	requireAppError(t, do(t, srv, "GET", "/api/stations/abc", ""), 400, "BAD_REQUEST")
}

func TestSimulate_Errors(t *testing.T) {
	srv := newTestServer(t)

	requireAppError(t, do(t, srv, "POST", "/api/stations/0/simulate", `{"event":"inserted","card":1}`), 409, "CONFLICT")
	srv.activate(t, 0, "check-in")
	requireAppError(t, do(t, srv, "POST", "/api/stations/0/simulate", `{"event":"dropped","card":1}`), 400, "BAD_REQUEST")
	requireAppError(t, do(t, srv, "POST", "/api/stations/0/simulate", `{"event":"inserted","card":-1}`), 400, "BAD_REQUEST")
}

func TestNotFound(t *testing.T) {
	srv := newTestServer(t)
	resp := do(t, srv, "GET", "/api/nonexistent", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestRateLimit_MutatingRoutes(t *testing.T) {
	srv := newTestServerWith(t, api.Options{RateLimit: 2})

	for i := 0; i < 2; i++ {
		resp := do(t, srv, "PATCH", "/api/occupancy", `{"max_occupancy": 5}`)
		requireStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	}
	resp := do(t, srv, "PATCH", "/api/occupancy", `{"max_occupancy": 5}`)
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("third PATCH = %d, want 429", resp.StatusCode)
	}

	for i := 0; i < 5; i++ {
		resp := do(t, srv, "GET", "/api/occupancy", "")
		requireStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/occupancy", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Origin", "http://display.local")
	req.Header.Set("Access-Control-Request-Method", "PATCH")

	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		t.Errorf("OPTIONS status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	resp := do(t, srv, "GET", "/metrics", "")
	requireStatus(t, resp, http.StatusOK)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "checkin_max_occupancy 100") {
		t.Error("metrics exposition missing checkin_max_occupancy")
	}
}

func TestSSESubscribe(t *testing.T) {
	srv := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/subscribe", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	client := &http.Client{
		Transport: &http.Transport{
			DisableCompression: true,
		},
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	requireStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	states := make(chan models.State)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var st models.State
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &st); err != nil {
				t.Errorf("SSE data is not valid State JSON: %v", err)
				return
			}
			select {
			case states <- st:
			case <-ctx.Done():
				return
			}
		}
	}()

	next := func() models.State {
		select {
		case st := <-states:
			return st
		case <-time.After(2 * time.Second):
			t.Fatal("no SSE event")
			return models.State{}
		}
	}

	if first := next(); len(first.Stations) != 2 {
		t.Fatalf("first event = %+v", first)
	}
	srv.ctrl.SetMaxOccupancy(7)
	for {
		if st := next(); st.Occupancy.MaxOccupancy == 7 {
			break
		}
	}
}

func TestWebsocketStream(t *testing.T) {
	srv := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	resp.Body.Close()
	defer conn.Close()

	read := func() models.State {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var st models.State
		if err := conn.ReadJSON(&st); err != nil {
			t.Fatalf("ReadJSON: %v", err)
		}
		return st
	}

	if first := read(); first.Stations[0].Name != "Eingang" {
		t.Errorf("first message = %+v", first)
	}
	srv.ctrl.BeginCheckIn(0)
	for {
		if st := read(); st.Stations[0].Phase == models.PhaseActive {
			break
		}
	}
}
