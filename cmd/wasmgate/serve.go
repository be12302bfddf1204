package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/caffeineduck/wasmgate/executor"
	"github.com/caffeineduck/wasmgate/hostfunc"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP server for guest sessions",
		Long: `Start an HTTP server that hosts guest sessions.

Endpoints:
  POST   /sessions              Create session: {"module":"kvstore","kv":true}
                                returns {"session_id":"..."}
  POST   /sessions/{id}/invoke  Invoke an export: {"export":"get_int","args":["i32:8"]}
  DELETE /sessions/{id}         Close session
  GET    /health                Health check
  GET    /metrics               Prometheus metrics

Modules are bundled guests by name; --module NAME=PATH adds .wasm files.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, _ := cmd.Flags().GetDuration("session-ttl")
			files, _ := cmd.Flags().GetStringToString("module")

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			exec, err := a.newExecutor(reg)
			if err != nil {
				return err
			}
			defer exec.Close()

			srv := newServer(exec, reg, limitsFromFlags(cmd.Flags()), a.logger)
			ctx := context.Background()
			for _, p := range guests {
				if err := srv.addModule(ctx, p.Name(), p.Module()); err != nil {
					return err
				}
			}
			for name, path := range files {
				mod, err := loadModule(ctx, exec, path)
				if err != nil {
					return fmt.Errorf("module %s: %w", name, err)
				}
				srv.modules[name] = mod
			}

			sessions := newSessionManager(ttl)
			defer sessions.closeAll()
			srv.sessions = sessions

			addr := a.listenAddr(cmd.Flags())
			a.logger.Info("listening", zap.String("addr", addr))
			fmt.Fprintf(cmd.ErrOrStderr(), "wasmgate server listening on %s\n", addr)
			return http.ListenAndServe(addr, srv.routes())
		},
	}

	cmd.Flags().String("host", a.cfg.Host, "Address to listen on")
	cmd.Flags().IntP("port", "p", a.cfg.Port, "Port to listen on")
	cmd.Flags().Duration("session-ttl", 15*time.Minute, "Close sessions idle this long")
	cmd.Flags().StringToString("module", nil, "Serve a .wasm file as NAME=PATH (repeatable)")
	a.addLimitFlags(cmd.Flags())
	return cmd
}

// listenAddr is the configured address with --host and --port applied.
func (a *app) listenAddr(fs *pflag.FlagSet) string {
	cfg := *a.cfg
	cfg.Host, _ = fs.GetString("host")
	cfg.Port, _ = fs.GetInt("port")
	return cfg.Addr()
}

type sessionManager struct {
	sessions map[string]*serverSession
	mu       sync.RWMutex
	ttl      time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

type serverSession struct {
	session  *executor.Session
	lastUsed time.Time
}

func newSessionManager(ttl time.Duration) *sessionManager {
	sm := &sessionManager{
		sessions: make(map[string]*serverSession),
		ttl:      ttl,
		stop:     make(chan struct{}),
	}
	go sm.cleanup()
	return sm
}

func (sm *sessionManager) add(session *executor.Session) string {
	id := uuid.NewString()
	sm.mu.Lock()
	sm.sessions[id] = &serverSession{session: session, lastUsed: time.Now()}
	sm.mu.Unlock()
	return id
}

func (sm *sessionManager) get(id string) (*executor.Session, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	ss, ok := sm.sessions[id]
	if !ok {
		return nil, false
	}
	ss.lastUsed = time.Now()
	return ss.session, true
}

func (sm *sessionManager) close(id string) bool {
	sm.mu.Lock()
	ss, ok := sm.sessions[id]
	delete(sm.sessions, id)
	sm.mu.Unlock()
	if ok {
		ss.session.Close()
	}
	return ok
}

func (sm *sessionManager) len() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

func (sm *sessionManager) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-sm.stop:
			return
		case now := <-ticker.C:
			sm.expire(now)
		}
	}
}

func (sm *sessionManager) expire(now time.Time) {
	sm.mu.Lock()
	var idle []*executor.Session
	for id, ss := range sm.sessions {
		if now.Sub(ss.lastUsed) > sm.ttl {
			idle = append(idle, ss.session)
			delete(sm.sessions, id)
		}
	}
	sm.mu.Unlock()
	for _, s := range idle {
		s.Close()
	}
}

func (sm *sessionManager) closeAll() {
	sm.stopOnce.Do(func() { close(sm.stop) })
	sm.mu.Lock()
	all := sm.sessions
	sm.sessions = make(map[string]*serverSession)
	sm.mu.Unlock()
	for _, ss := range all {
		ss.session.Close()
	}
}

type createSessionRequest struct {
	Module   string `json:"module"`
	KV       bool   `json:"kv,omitempty"`
	MaxPages uint32 `json:"max_pages,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

type createSessionResponse struct {
	SessionID string            `json:"session_id"`
	Exports   map[string]string `json:"exports"`
}

type invokeRequest struct {
	Export string   `json:"export"`
	Args   []string `json:"args,omitempty"`
}

type invokeResponse struct {
	Status     string `json:"status"`
	Value      string `json:"value,omitempty"`
	Trap       string `json:"trap,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

type server struct {
	exec     *executor.Executor
	gatherer prometheus.Gatherer
	defaults limits
	modules  map[string]*executor.Module
	sessions *sessionManager
	logger   *zap.Logger
}

func newServer(exec *executor.Executor, gatherer prometheus.Gatherer, defaults limits, logger *zap.Logger) *server {
	return &server{
		exec:     exec,
		gatherer: gatherer,
		defaults: defaults,
		modules:  make(map[string]*executor.Module),
		logger:   logger,
	}
}

func (s *server) addModule(ctx context.Context, name string, binary []byte) error {
	mod, err := s.exec.Load(ctx, name, binary)
	if err != nil {
		return err
	}
	s.modules[name] = mod
	return nil
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", s.handleCreate)
	mux.HandleFunc("POST /sessions/{id}/invoke", s.handleInvoke)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDelete)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

func (s *server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	mod, ok := s.modules[req.Module]
	if !ok {
		http.Error(w, fmt.Sprintf("unknown module %q", req.Module), http.StatusNotFound)
		return
	}

	l := s.defaults
	l.kv = l.kv || req.KV
	if req.MaxPages > 0 && req.MaxPages < l.maxPages {
		l.maxPages = req.MaxPages
	}
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil {
			http.Error(w, "invalid timeout", http.StatusBadRequest)
			return
		}
		if l.timeout == 0 || d < l.timeout {
			l.timeout = d
		}
	}

	session, err := s.exec.NewSession(r.Context(), mod, l.resolver(), l.sessionOptions()...)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to create session: %v", err), createStatus(err))
		return
	}
	id := s.sessions.add(session)
	s.logger.Debug("session created", zap.String("id", id), zap.String("module", req.Module))

	exports := make(map[string]string)
	for name, sig := range session.Exports() {
		exports[name] = sig.String()
	}
	writeJSON(w, http.StatusCreated, createSessionResponse{SessionID: id, Exports: exports})
}

// createStatus maps an instantiation error to an HTTP status. Refused
// imports are the client's fault; anything else is ours.
func createStatus(err error) int {
	for _, target := range []error{
		executor.ErrUnknownImport,
		executor.ErrSignatureMismatch,
		executor.ErrMemoryLimitExceeded,
		executor.ErrMultipleMemories,
	} {
		if errors.Is(err, target) {
			return http.StatusUnprocessableEntity
		}
	}
	return http.StatusInternalServerError
}

func (s *server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	session, ok := s.sessions.get(id)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	var req invokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Export == "" {
		http.Error(w, "export required", http.StatusBadRequest)
		return
	}
	args, err := parseArgs(req.Args)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// A client hanging up must not close the instance; the session timeout
	// bounds the call instead.
	result := session.Invoke(context.WithoutCancel(r.Context()), req.Export, args...)
	if err := result.Err(); errors.Is(err, executor.ErrTimeout) || errors.Is(err, executor.ErrSessionClosed) {
		s.sessions.close(id)
		s.logger.Debug("session dropped", zap.String("id", id), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, toInvokeResponse(result))
}

func toInvokeResponse(result executor.Result) invokeResponse {
	resp := invokeResponse{
		Status:     result.Status.String(),
		DurationMs: result.Duration.Milliseconds(),
	}
	switch result.Status {
	case executor.Completed:
		if result.Value.Kind() != hostfunc.None {
			resp.Value = result.Value.String()
		}
	case executor.Trapped:
		resp.Trap = result.Trap.Kind.String()
		resp.Error = result.Trap.Error()
	case executor.Failed:
		resp.Error = result.Error.Error()
	}
	return resp
}

func (s *server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !s.sessions.close(r.PathValue("id")) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
