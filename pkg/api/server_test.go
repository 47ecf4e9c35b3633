package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"plotbot-go/pkg/errors"
	"plotbot-go/pkg/feature"
	"plotbot-go/pkg/plotter"
	"plotbot-go/pkg/protocol"
)

// fakePlotter records calls made through the API.
type fakePlotter struct {
	mu       sync.Mutex
	mode     string
	depth    int
	paused   bool
	features []feature.Feature
	jogs     []plotter.Direction
	pen      []string
	stepMode protocol.StepMode
	homes    int
	fail     error
}

func newFakePlotter() *fakePlotter {
	return &fakePlotter{mode: "normal", stepMode: protocol.Sixteenth}
}

func (f *fakePlotter) Status() plotter.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return plotter.Status{
		Mode:       f.mode,
		Paused:     f.paused,
		QueueDepth: f.depth,
		StepMode:   f.stepMode.String(),
	}
}

func (f *fakePlotter) EnqueueFeature(ft feature.Feature) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.features = append(f.features, ft)
	f.depth += 3
	return nil
}

func (f *fakePlotter) EnqueueJob(job *feature.Job) (int, error) {
	for i, ft := range job.Features {
		if err := f.EnqueueFeature(ft); err != nil {
			return i, err
		}
	}
	return len(job.Features), nil
}

func (f *fakePlotter) Pause() {
	f.mu.Lock()
	f.paused = true
	f.mu.Unlock()
}

func (f *fakePlotter) Resume() {
	f.mu.Lock()
	f.paused = false
	f.mu.Unlock()
}

func (f *fakePlotter) RequestHome() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.homes++
	f.depth = 0
	return nil
}

func (f *fakePlotter) Jog(dir plotter.Direction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.depth > 0 {
		return errors.BusyError("jog", "drawing")
	}
	f.jogs = append(f.jogs, dir)
	return nil
}

func (f *fakePlotter) penOp(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pen = append(f.pen, op)
	return nil
}

func (f *fakePlotter) PenUp() error        { return f.penOp("up") }
func (f *fakePlotter) PenDown() error      { return f.penOp("down") }
func (f *fakePlotter) CalibratePen() error { return f.penOp("calibrate") }
func (f *fakePlotter) ResetServo() error   { return f.penOp("reset") }

func (f *fakePlotter) StepMode() protocol.StepMode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stepMode
}

func (f *fakePlotter) SetStepMode(mode protocol.StepMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stepMode = mode
	return nil
}

func (f *fakePlotter) setDepth(n int) {
	f.mu.Lock()
	f.depth = n
	f.mu.Unlock()
}

func newTestServer() (*Server, *fakePlotter) {
	p := newFakePlotter()
	return New(Config{Addr: ":0", Plotter: p, StatusInterval: 20 * time.Millisecond}), p
}

func callRPC(t *testing.T, s *Server, method string, params map[string]any) jsonRPCResponse {
	t.Helper()
	body := map[string]any{"jsonrpc": "2.0", "method": method, "id": 1}
	if params != nil {
		body["params"] = params
	}
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, "/jsonrpc", bytes.NewReader(data))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("%s: status %d", method, rec.Code)
	}
	var resp jsonRPCResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("%s: decode response: %v", method, err)
	}
	return resp
}

func TestServerInfo(t *testing.T) {
	s, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/server/info", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("CORS header = %q", got)
	}
	var resp map[string]map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["result"]["state"] != "normal" {
		t.Errorf("state = %v, want normal", resp["result"]["state"])
	}
}

func TestPlotterStatusEndpoint(t *testing.T) {
	s, p := newTestServer()
	p.setDepth(7)
	req := httptest.NewRequest(http.MethodGet, "/plotter/status", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var resp struct {
		Result plotter.Status `json:"result"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Result.QueueDepth != 7 || resp.Result.Mode != "normal" {
		t.Errorf("status = %+v", resp.Result)
	}
}

func TestJSONRPCRejectsGet(t *testing.T) {
	s, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/jsonrpc", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestEnqueueFeature(t *testing.T) {
	s, p := newTestServer()
	resp := callRPC(t, s, "plotter.enqueue", map[string]any{
		"feature": map[string]any{
			"kind":  "line",
			"start": map[string]any{"x": 0, "y": 0},
			"end":   map[string]any{"x": 10, "y": 10},
		},
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if len(p.features) != 1 || p.features[0].Kind() != feature.KindLine {
		t.Fatalf("features = %v", p.features)
	}
	result := resp.Result.(map[string]any)
	id, _ := result["job_id"].(string)
	if id == "" {
		t.Fatal("missing job_id")
	}
	job, err := s.History().Get(id)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if job.Name != "line" || job.Status != JobInProgress {
		t.Errorf("job = %+v", job)
	}
}

func TestEnqueueJob(t *testing.T) {
	s, p := newTestServer()
	resp := callRPC(t, s, "plotter.enqueue", map[string]any{
		"job": map[string]any{
			"name": "square",
			"features": []any{
				map[string]any{"kind": "stroke", "points": []any{
					map[string]any{"x": 0, "y": 0},
					map[string]any{"x": 100, "y": 0},
					map[string]any{"x": 100, "y": 100},
				}},
				map[string]any{"kind": "circle", "center": map[string]any{"x": 300, "y": 300}, "radius": 40},
			},
		},
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if got := resp.Result.(map[string]any)["queued"]; got != float64(2) {
		t.Errorf("queued = %v, want 2", got)
	}
	if len(p.features) != 2 {
		t.Errorf("features = %d, want 2", len(p.features))
	}
	if jobs := s.History().List(0, 0, ""); len(jobs) != 1 || jobs[0].Name != "square" || jobs[0].Features != 2 {
		t.Errorf("history = %+v", jobs)
	}
}

func TestEnqueueErrors(t *testing.T) {
	s, p := newTestServer()

	resp := callRPC(t, s, "plotter.enqueue", map[string]any{
		"feature": map[string]any{"kind": "circle", "center": map[string]any{"x": 1, "y": 1}, "radius": -3},
	})
	if resp.Error == nil || resp.Error.Code != rpcServerError {
		t.Fatalf("expected server error, got %+v", resp.Error)
	}
	if resp.Error.Data["code"] != string(errors.ErrInvalidFeature) {
		t.Errorf("data.code = %v, want %s", resp.Error.Data["code"], errors.ErrInvalidFeature)
	}

	resp = callRPC(t, s, "plotter.enqueue", map[string]any{})
	if resp.Error == nil || resp.Error.Code != rpcInvalidParams {
		t.Errorf("missing params: %+v", resp.Error)
	}

	p.fail = errors.QueueFullError(3, 1)
	resp = callRPC(t, s, "plotter.enqueue", map[string]any{
		"feature": map[string]any{"kind": "dots", "points": []any{map[string]any{"x": 5, "y": 5}}},
	})
	if resp.Error == nil || resp.Error.Data["code"] != string(errors.ErrQueueFull) {
		t.Errorf("queue full: %+v", resp.Error)
	}
	if jobs := s.History().List(0, 0, ""); len(jobs) != 0 {
		t.Errorf("rejected enqueue recorded %d jobs", len(jobs))
	}
}

func TestMethodNotFound(t *testing.T) {
	s, _ := newTestServer()
	resp := callRPC(t, s, "printer.gcode.script", nil)
	if resp.Error == nil || resp.Error.Code != rpcMethodNotFound {
		t.Errorf("error = %+v, want -32601", resp.Error)
	}
}

func TestManualControl(t *testing.T) {
	s, p := newTestServer()

	if resp := callRPC(t, s, "plotter.jog", map[string]any{"direction": "up_left"}); resp.Error != nil {
		t.Fatalf("jog: %+v", resp.Error)
	}
	if len(p.jogs) != 1 || p.jogs[0] != plotter.UpLeft {
		t.Errorf("jogs = %v", p.jogs)
	}

	for _, action := range []string{"up", "down", "calibrate", "reset"} {
		if resp := callRPC(t, s, "plotter.pen", map[string]any{"action": action}); resp.Error != nil {
			t.Fatalf("pen %s: %+v", action, resp.Error)
		}
	}
	if strings.Join(p.pen, ",") != "up,down,calibrate,reset" {
		t.Errorf("pen ops = %v", p.pen)
	}
	if resp := callRPC(t, s, "plotter.pen", map[string]any{"action": "wiggle"}); resp.Error == nil || resp.Error.Code != rpcInvalidParams {
		t.Errorf("bad pen action: %+v", resp.Error)
	}

	resp := callRPC(t, s, "plotter.step_mode", map[string]any{"mode": "full"})
	if resp.Error != nil {
		t.Fatalf("step_mode: %+v", resp.Error)
	}
	if p.StepMode() != protocol.Full {
		t.Errorf("step mode = %v, want full", p.StepMode())
	}
	if got := resp.Result.(map[string]any)["mode"]; got != "full" {
		t.Errorf("result mode = %v", got)
	}

	p.setDepth(3)
	resp = callRPC(t, s, "plotter.jog", map[string]any{"direction": "down"})
	if resp.Error == nil || resp.Error.Data["code"] != string(errors.ErrBusy) {
		t.Errorf("jog while drawing: %+v", resp.Error)
	}
}

func TestPauseResume(t *testing.T) {
	s, p := newTestServer()
	callRPC(t, s, "plotter.pause", nil)
	if !p.Status().Paused {
		t.Error("pause did not reach plotter")
	}
	callRPC(t, s, "plotter.resume", nil)
	if p.Status().Paused {
		t.Error("resume did not reach plotter")
	}
}

func TestHomeCancelsActiveJobs(t *testing.T) {
	s, p := newTestServer()
	job := s.History().Start("spiral", 4)

	if resp := callRPC(t, s, "plotter.home", nil); resp.Error != nil {
		t.Fatalf("home: %+v", resp.Error)
	}
	if p.homes != 1 {
		t.Errorf("homes = %d", p.homes)
	}
	got, _ := s.History().Get(job.JobID)
	if got.Status != JobCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	s, _ := newTestServer()
	a := s.History().Start("a", 1)
	s.History().Start("b", 2)

	req := httptest.NewRequest(http.MethodGet, "/plotter/history?limit=1", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	var resp struct {
		Result struct {
			Count int         `json:"count"`
			Jobs  []JobRecord `json:"jobs"`
		} `json:"result"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Result.Count != 1 || resp.Result.Jobs[0].Name != "b" {
		t.Errorf("history = %+v", resp.Result)
	}

	req = httptest.NewRequest(http.MethodDelete, "/plotter/history?job_id="+a.JobID, nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	if _, err := s.History().Get(a.JobID); err == nil {
		t.Error("job still present after delete")
	}

	req = httptest.NewRequest(http.MethodDelete, "/plotter/history?job_id=missing", nil)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("delete missing = %d, want 404", rec.Code)
	}
}

func dialTestServer(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(s.Handler())
	t.Cleanup(server.Close)

	wsURL := "ws" + server.URL[4:] + "/websocket"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to connect websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	// first message announces the plotter
	var hello map[string]any
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if hello["method"] != "notify_plotter_connected" {
		t.Fatalf("hello = %v", hello)
	}
	return conn
}

func TestWebSocket(t *testing.T) {
	s, _ := newTestServer()
	conn := dialTestServer(t, s)

	if err := conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "method": "plotter.status", "id": 7}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var resp jsonRPCResponse
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	if resp.ID != float64(7) {
		t.Errorf("id = %v, want 7", resp.ID)
	}
	if resp.Result.(map[string]any)["mode"] != "normal" {
		t.Errorf("result = %v", resp.Result)
	}
}

func TestWebSocketSubscription(t *testing.T) {
	s, p := newTestServer()
	go s.statusBroadcastLoop()
	defer s.Stop()

	conn := dialTestServer(t, s)
	p.setDepth(3)
	job := s.History().Start("dots", 1)

	if err := conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "method": "plotter.subscribe", "id": 1}); err != nil {
		t.Fatalf("write: %v", err)
	}

	// the subscribe reply and the first update may arrive in either order
	var note struct {
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
		Error  *jsonRPCError     `json:"error"`
	}
	for i := 0; i < 3; i++ {
		note.Method, note.Params = "", nil
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if err := conn.ReadJSON(&note); err != nil {
			t.Fatalf("read: %v", err)
		}
		if note.Error != nil {
			t.Fatalf("subscribe: %+v", note.Error)
		}
		if note.Method == "notify_status_update" {
			break
		}
	}
	if note.Method != "notify_status_update" || len(note.Params) != 2 {
		t.Fatalf("notification = %+v", note)
	}
	var st plotter.Status
	if err := json.Unmarshal(note.Params[0], &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.QueueDepth != 3 {
		t.Errorf("queue depth = %d, want 3", st.QueueDepth)
	}

	// the job completes once the queue drains
	p.setDepth(0)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got, _ := s.History().Get(job.JobID); got.Status == JobCompleted {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("job not completed after queue drained")
}

func TestSubscribeRequiresWebSocket(t *testing.T) {
	s, _ := newTestServer()
	resp := callRPC(t, s, "plotter.subscribe", nil)
	if resp.Error == nil || resp.Error.Code != rpcInvalidParams {
		t.Errorf("error = %+v", resp.Error)
	}
}
