// Package api serves the plotter's JSON-RPC interface over websocket and
// plain HTTP, and pushes status updates to subscribed websocket clients.
package api

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"plotbot-go/pkg/errors"
	"plotbot-go/pkg/feature"
	"plotbot-go/pkg/log"
	"plotbot-go/pkg/plotter"
	"plotbot-go/pkg/protocol"
)

// Plotter is the controller surface the API drives.
type Plotter interface {
	Status() plotter.Status
	EnqueueFeature(f feature.Feature) error
	EnqueueJob(job *feature.Job) (int, error)
	Pause()
	Resume()
	RequestHome() error
	Jog(dir plotter.Direction) error
	PenUp() error
	PenDown() error
	CalibratePen() error
	ResetServo() error
	StepMode() protocol.StepMode
	SetStepMode(mode protocol.StepMode) error
}

// Config holds server configuration.
type Config struct {
	// Addr is the listen address, e.g. ":7125".
	Addr string

	Plotter Plotter

	// StatusInterval is the notify_status_update period. Default 250ms.
	StatusInterval time.Duration
}

// Server is the API server.
type Server struct {
	plotter  Plotter
	addr     string
	interval time.Duration
	history  *History
	log      *log.Logger

	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[int64]*WSClient
	wsClientMu sync.RWMutex
	nextWSID   int64

	running   atomic.Bool
	stop      chan struct{}
	stopOnce  sync.Once
	startTime time.Time
}

// New creates a server.
func New(cfg Config) *Server {
	interval := cfg.StatusInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	s := &Server{
		plotter:   cfg.Plotter,
		addr:      cfg.Addr,
		interval:  interval,
		history:   NewHistory(),
		log:       log.GetLogger("api"),
		wsClients: make(map[int64]*WSClient),
		stop:      make(chan struct{}),
		startTime: time.Now(),
	}
	s.wsUpgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return s
}

// History returns the job history.
func (s *Server) History() *History {
	return s.history
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/websocket", s.handleWebSocket)
	mux.HandleFunc("/jsonrpc", s.handleJSONRPC)
	mux.HandleFunc("/server/info", s.handleServerInfo)
	mux.HandleFunc("/plotter/status", s.handleStatus)
	mux.HandleFunc("/plotter/history", s.handleHistory)
	return s.corsMiddleware(mux)
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("api listen %s: %w", s.addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Stop.
func (s *Server) Serve(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.Handler()}
	s.running.Store(true)
	s.log.Info("API server listening on %s", ln.Addr())

	go s.statusBroadcastLoop()

	err := s.httpServer.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop closes every client and the listener.
func (s *Server) Stop() error {
	s.running.Store(false)
	s.stopOnce.Do(func() { close(s.stop) })

	s.wsClientMu.Lock()
	for _, client := range s.wsClients {
		client.Close()
	}
	s.wsClients = make(map[int64]*WSClient)
	s.wsClientMu.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// JSON-RPC 2.0 structures

type jsonRPCRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params,omitempty"`
	ID      any            `json:"id,omitempty"`
}

type jsonRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonRPCError `json:"error,omitempty"`
	ID      any           `json:"id,omitempty"`
}

type jsonRPCError struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

const (
	rpcParseError     = -32700
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
	rpcServerError    = -32000
)

// rpcFault carries a JSON-RPC error code through dispatch.
type rpcFault struct {
	code int
	msg  string
}

func (f *rpcFault) Error() string { return f.msg }

func methodNotFound(method string) error {
	return &rpcFault{code: rpcMethodNotFound, msg: "method not found: " + method}
}

func invalidParams(format string, args ...any) error {
	return &rpcFault{code: rpcInvalidParams, msg: fmt.Sprintf(format, args...)}
}

func toRPCError(err error) *jsonRPCError {
	if f, ok := err.(*rpcFault); ok {
		return &jsonRPCError{Code: f.code, Message: f.msg}
	}
	return &jsonRPCError{
		Code:    rpcServerError,
		Message: err.Error(),
		Data:    map[string]any{"code": string(errors.CodeOf(err))},
	}
}

func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req jsonRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, jsonRPCResponse{JSONRPC: "2.0", Error: &jsonRPCError{Code: rpcParseError, Message: "Parse error"}})
		return
	}

	result, err := s.dispatchMethod(req.Method, req.Params, nil)
	if err != nil {
		writeJSON(w, jsonRPCResponse{JSONRPC: "2.0", Error: toRPCError(err), ID: req.ID})
		return
	}
	writeJSON(w, jsonRPCResponse{JSONRPC: "2.0", Result: result, ID: req.ID})
}

// dispatchMethod routes a method call to its handler. client is nil for
// plain HTTP requests.
func (s *Server) dispatchMethod(method string, params map[string]any, client *WSClient) (any, error) {
	switch method {
	case "server.info":
		return s.methodServerInfo(), nil
	case "plotter.status":
		return s.plotter.Status(), nil
	case "plotter.subscribe":
		return s.methodSubscribe(client)
	case "plotter.enqueue":
		return s.methodEnqueue(params)
	case "plotter.pause":
		s.plotter.Pause()
		return s.plotter.Status(), nil
	case "plotter.resume":
		s.plotter.Resume()
		return s.plotter.Status(), nil
	case "plotter.home":
		return s.methodHome()
	case "plotter.jog":
		return s.methodJog(params)
	case "plotter.pen":
		return s.methodPen(params)
	case "plotter.step_mode":
		return s.methodStepMode(params)
	case "plotter.history":
		return s.methodHistory(params)
	default:
		return nil, methodNotFound(method)
	}
}

func (s *Server) methodServerInfo() map[string]any {
	hostname, _ := os.Hostname()
	s.wsClientMu.RLock()
	clients := len(s.wsClients)
	s.wsClientMu.RUnlock()
	return map[string]any{
		"hostname":        hostname,
		"uptime":          time.Since(s.startTime).Seconds(),
		"websocket_count": clients,
		"api_version":     []int{1, 0, 0},
		"state":           s.plotter.Status().Mode,
	}
}

func (s *Server) methodSubscribe(client *WSClient) (any, error) {
	if client == nil {
		return nil, invalidParams("subscription requires a websocket connection")
	}
	client.subscribed.Store(true)
	return s.plotter.Status(), nil
}

// methodEnqueue accepts either {"feature": {...}} or {"job": {...}}.
func (s *Server) methodEnqueue(params map[string]any) (any, error) {
	if raw, ok := params["feature"]; ok {
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, invalidParams("feature: %v", err)
		}
		f, err := feature.Decode(data)
		if err != nil {
			return nil, err
		}
		if err := s.plotter.EnqueueFeature(f); err != nil {
			return nil, err
		}
		job := s.history.Start(string(f.Kind()), 1)
		return map[string]any{"job_id": job.JobID, "queued": 1}, nil
	}

	raw, ok := params["job"]
	if !ok {
		return nil, invalidParams("missing 'feature' or 'job' parameter")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, invalidParams("job: %v", err)
	}
	job, err := feature.ParseJob(data)
	if err != nil {
		return nil, err
	}
	n, err := s.plotter.EnqueueJob(job)
	if n > 0 {
		rec := s.history.Start(job.Name, n)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeOf(err),
				fmt.Sprintf("queued %d of %d features as job %s", n, len(job.Features), rec.JobID))
		}
		return map[string]any{"job_id": rec.JobID, "queued": n}, nil
	}
	return nil, err
}

func (s *Server) methodHome() (any, error) {
	before := s.plotter.Status().Mode
	if err := s.plotter.RequestHome(); err != nil {
		return nil, err
	}
	// homing from setup leaves the queue alone
	if before == "setup" {
		return s.plotter.Status(), nil
	}
	for _, job := range s.history.Finish(JobCancelled) {
		s.log.WithField("job_id", job.JobID).Info("job cancelled by homing")
	}
	return s.plotter.Status(), nil
}

func (s *Server) methodJog(params map[string]any) (any, error) {
	dir, ok := params["direction"].(string)
	if !ok {
		return nil, invalidParams("missing 'direction' parameter")
	}
	if err := s.plotter.Jog(plotter.Direction(dir)); err != nil {
		return nil, err
	}
	return s.plotter.Status(), nil
}

func (s *Server) methodPen(params map[string]any) (any, error) {
	action, _ := params["action"].(string)
	var err error
	switch action {
	case "up":
		err = s.plotter.PenUp()
	case "down":
		err = s.plotter.PenDown()
	case "calibrate":
		err = s.plotter.CalibratePen()
	case "reset":
		err = s.plotter.ResetServo()
	default:
		return nil, invalidParams("action must be up, down, calibrate or reset, got %q", action)
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{}, nil
}

func (s *Server) methodStepMode(params map[string]any) (any, error) {
	if name, ok := params["mode"].(string); ok {
		mode, err := protocol.ParseStepMode(name)
		if err != nil {
			return nil, invalidParams("%v", err)
		}
		if err := s.plotter.SetStepMode(mode); err != nil {
			return nil, err
		}
	}
	return map[string]any{"mode": s.plotter.StepMode().String()}, nil
}

func intParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func (s *Server) methodHistory(params map[string]any) (any, error) {
	if id, ok := params["job_id"].(string); ok {
		job, err := s.history.Get(id)
		if err != nil {
			return nil, invalidParams("%v", err)
		}
		return map[string]any{"job": job}, nil
	}
	order, _ := params["order"].(string)
	jobs := s.history.List(intParam(params, "limit", 50), intParam(params, "start", 0), order)
	return map[string]any{
		"count":  len(jobs),
		"jobs":   jobs,
		"totals": s.history.Totals(),
	}, nil
}

// REST endpoint handlers

func (s *Server) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"result": s.methodServerInfo()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"result": s.plotter.Status()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := map[string]any{"order": q.Get("order")}
	if id := q.Get("job_id"); id != "" {
		params["job_id"] = id
	}
	for _, key := range []string{"limit", "start"} {
		if v := q.Get(key); v != "" {
			params[key] = v
		}
	}

	if r.Method == http.MethodDelete {
		id, _ := params["job_id"].(string)
		if err := s.history.Delete(id); err != nil {
			writeJSONError(w, err, http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{"result": map[string]any{"deleted_jobs": []string{id}}})
		return
	}

	result, err := s.methodHistory(params)
	if err != nil {
		writeJSONError(w, err, http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"result": result})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeJSONError(w http.ResponseWriter, err error, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    status,
			"message": err.Error(),
		},
	})
}

// statusBroadcastLoop pushes the controller status to subscribed clients
// and closes finished jobs in the history.
func (s *Server) statusBroadcastLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.broadcastStatus()
		}
	}
}

func (s *Server) broadcastStatus() {
	st := s.plotter.Status()
	if s.history.Active() {
		for _, job := range s.history.Observe(st) {
			s.log.WithFields(log.Fields{"job_id": job.JobID, "status": job.Status}).Info("job finished")
		}
	}

	eventtime := time.Since(s.startTime).Seconds()
	notification := map[string]any{
		"jsonrpc": "2.0",
		"method":  "notify_status_update",
		"params":  []any{st, eventtime},
	}

	s.wsClientMu.RLock()
	defer s.wsClientMu.RUnlock()
	for _, client := range s.wsClients {
		if client.subscribed.Load() {
			client.Send(notification)
		}
	}
}
