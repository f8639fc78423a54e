// Package httpapi is the request server's net/http surface: answer
// requests (sync and SSE), tool approvals, conformal-prediction threshold
// and calibration-artifact endpoints, recent-step audit lookup, governance
// graph checks, and Prometheus scraping. Routing follows the teacher's own
// internal/auth/antigravity/server.go idiom — a bare http.ServeMux and
// http.Server, no router framework.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/uamm-go/uamm/internal/approvals"
	"github.com/uamm-go/uamm/internal/gov"
	"github.com/uamm-go/uamm/internal/logging"
	"github.com/uamm-go/uamm/internal/model"
	"github.com/uamm-go/uamm/internal/orchestrator"
	"github.com/uamm-go/uamm/internal/store"
	"github.com/uamm-go/uamm/internal/stream"
)

// Server wires the orchestrator and its stores to net/http handlers.
type Server struct {
	Orchestrator *orchestrator.Orchestrator
	Approvals    *approvals.Store
	IndexDB      *store.IndexDB
	Workspaces   orchestrator.WorkspaceResolver

	mux *http.ServeMux

	idemMu sync.Mutex
	idem   map[string]model.AgentResult // workspace+key -> cached result
}

// NewServer builds a Server with every route registered.
func NewServer(o *orchestrator.Orchestrator, approvalStore *approvals.Store, indexDB *store.IndexDB, workspaces orchestrator.WorkspaceResolver) *Server {
	s := &Server{
		Orchestrator: o,
		Approvals:    approvalStore,
		IndexDB:      indexDB,
		Workspaces:   workspaces,
		mux:          http.NewServeMux(),
		idem:         make(map[string]model.AgentResult),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) routes() {
	s.mux.HandleFunc("/agent/answer", s.handleAnswer)
	s.mux.HandleFunc("/agent/answer/stream", s.handleAnswerStream)
	s.mux.HandleFunc("/tools/approve", s.handleApprove)
	s.mux.HandleFunc("/cp/threshold", s.handleThreshold)
	s.mux.HandleFunc("/cp/artifacts", s.handleArtifacts)
	s.mux.HandleFunc("/steps/recent", s.handleRecentSteps)
	s.mux.HandleFunc("/steps/", s.handleStep)
	s.mux.HandleFunc("/gov/check", s.handleGovCheck)
	s.mux.Handle("/metrics/prom", promhttp.Handler())
}

type answerRequest struct {
	RequestID string                  `json:"request_id"`
	Question  string                  `json:"question"`
	Domain    string                  `json:"domain"`
	Workspace string                  `json:"workspace"`
	Overrides model.RequestOverrides  `json:"overrides"`
}

func (s *Server) toModelRequest(ar answerRequest) model.Request {
	return model.Request{
		RequestID: ar.RequestID, Question: ar.Question, Domain: ar.Domain,
		Workspace: ar.Workspace, Overrides: ar.Overrides,
	}
}

// handleAnswer drives one request synchronously and returns its terminal
// AgentResult. A repeated (workspace, idempotency_key) pair short-circuits
// to the cached result rather than re-running the request.
func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST only")
		return
	}
	var ar answerRequest
	if err := json.NewDecoder(r.Body).Decode(&ar); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	req := s.toModelRequest(ar)

	if req.Overrides.IdempotencyKey != "" {
		if cached, ok := s.lookupIdempotent(req.Workspace, req.Overrides.IdempotencyKey); ok {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	result, err := s.Orchestrator.Handle(r.Context(), req)
	if err != nil {
		logging.HTTPDebug("answer request %s failed: %v", req.RequestID, err)
	}
	if req.Overrides.IdempotencyKey != "" {
		s.storeIdempotent(req.Workspace, req.Overrides.IdempotencyKey, result)
	}
	writeJSON(w, http.StatusOK, result)
}

// handleAnswerStream drives one request, streaming stream.Event frames as
// server-sent events until the terminal final/error event.
func (s *Server) handleAnswerStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST only")
		return
	}
	var ar answerRequest
	if err := json.NewDecoder(r.Body).Decode(&ar); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	req := s.toModelRequest(ar)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sw := stream.NewWriter(64)
	go s.Orchestrator.HandleStream(r.Context(), req, sw)

	if err := stream.Run(r.Context(), w, sw); err != nil {
		logging.HTTPDebug("stream for request %s ended: %v", req.RequestID, err)
	}
}

type approveRequest struct {
	ApprovalID string `json:"approval_id"`
	Approved   bool   `json:"approved"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST only")
		return
	}
	var ar approveRequest
	if err := json.NewDecoder(r.Body).Decode(&ar); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if ok := s.Approvals.Decide(ar.ApprovalID, ar.Approved); !ok {
		writeError(w, http.StatusNotFound, "not_found", "approval unknown or already resolved")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"approval_id": ar.ApprovalID, "status": "resolved"})
}

func (s *Server) handleThreshold(w http.ResponseWriter, r *http.Request) {
	domain := r.URL.Query().Get("domain")
	if domain == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "domain query parameter required")
		return
	}
	table, ok, err := s.IndexDB.Threshold(domain)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("no threshold computed for domain %q", domain))
		return
	}
	writeJSON(w, http.StatusOK, table)
}

func (s *Server) handleArtifacts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST only")
		return
	}
	var body struct {
		RunID    string `json:"run_id"`
		Artifact model.CalibrationArtifact `json:"artifact"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := s.IndexDB.PutArtifact(body.RunID, body.Artifact); err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}

func (s *Server) handleRecentSteps(w http.ResponseWriter, r *http.Request) {
	workspace := r.URL.Query().Get("workspace")
	if workspace == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "workspace query parameter required")
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	wsdb, err := s.Workspaces(workspace)
	if err != nil {
		writeError(w, http.StatusNotFound, "workspace_not_found", err.Error())
		return
	}
	steps, err := wsdb.RecentSteps(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, steps)
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	stepID := r.URL.Path[len("/steps/"):]
	if stepID == "" || stepID == "recent" {
		http.NotFound(w, r)
		return
	}
	workspace := r.URL.Query().Get("workspace")
	if workspace == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "workspace query parameter required")
		return
	}
	wsdb, err := s.Workspaces(workspace)
	if err != nil {
		writeError(w, http.StatusNotFound, "workspace_not_found", err.Error())
		return
	}
	rec, ok, err := wsdb.Step(r.Context(), stepID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "step unknown")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type govCheckRequest struct {
	Nodes []*model.GoVNode `json:"nodes"`
	Edges []*model.GoVEdge `json:"edges"`
}

// handleGovCheck validates a submitted verification graph for acyclicity
// and dangling edges without evaluating PCN status, for offline graph
// authoring tools.
func (s *Server) handleGovCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST only")
		return
	}
	var body govCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	nodes := make(map[string]*model.GoVNode, len(body.Nodes))
	for _, n := range body.Nodes {
		nodes[n.ID] = n
	}
	graph := gov.Graph{Nodes: nodes, Edges: body.Edges}
	if err := graph.Validate(); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) idemKey(workspace, key string) string { return workspace + "\x00" + key }

func (s *Server) lookupIdempotent(workspace, key string) (model.AgentResult, bool) {
	s.idemMu.Lock()
	defer s.idemMu.Unlock()
	r, ok := s.idem[s.idemKey(workspace, key)]
	return r, ok
}

func (s *Server) storeIdempotent(workspace, key string, result model.AgentResult) {
	s.idemMu.Lock()
	defer s.idemMu.Unlock()
	s.idem[s.idemKey(workspace, key)] = result
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.HTTPDebug("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, stream.ErrorPayload{Code: code, Message: message})
}

// Serve starts an http.Server on addr and blocks until ctx is canceled,
// then shuts it down gracefully, mirroring the teacher's callback-server
// shutdown pattern.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
