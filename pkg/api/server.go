package api

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/rmax-ai/meshflow/pkg/engine"
	"github.com/rmax-ai/meshflow/pkg/graph"
	"github.com/rmax-ai/meshflow/pkg/packet"
	"github.com/rmax-ai/meshflow/pkg/source"
)

// Context keys
type contextKey string

const traceIDKey contextKey = "trace_id"

// maxBodyBytes bounds POST bodies.
const maxBodyBytes = 4 << 20

// Backend is the engine surface the API needs. *engine.Runner implements it.
type Backend interface {
	Snapshot() graph.Snapshot
	Flows(visible func(id string) bool) []engine.Traversal
	Pending() []engine.PendingView
	Policy() engine.Policy
	SetPolicy(p engine.Policy) bool
	Reset()
	IngestBatch(pkts []*packet.Packet) []engine.Outcome
	Stats() engine.Stats
}

// Server encapsulates the HTTP API server
type Server struct {
	backend   Backend
	server    *http.Server
	tokenHash string
	now       func() time.Time
}

// NewServer creates a new API server instance. A nil gatherer serves the
// default Prometheus registry on /metrics.
func NewServer(backend Backend, gatherer prometheus.Gatherer, addr string) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		backend: backend,
		now:     time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/v1/graph", s.handleGraph)
	mux.HandleFunc("/v1/flows", s.handleFlows)
	mux.HandleFunc("/v1/pending", s.handlePending)
	mux.HandleFunc("/v1/packets", s.withAuth(s.handlePackets))
	mux.HandleFunc("/v1/policy", s.handlePolicy)
	mux.HandleFunc("/v1/reset", s.withAuth(s.handleReset))

	// Middleware: Logging, Panic Recovery, Security Headers
	handler := withLogging(withRecovery(withSecureHeaders(mux)))

	if addr == "" {
		addr = ":8090"
	}

	s.server = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
	return s
}

// SetAuthToken requires "Authorization: Bearer <token>" on every mutating
// request. An empty token disables the check.
func (s *Server) SetAuthToken(token string) {
	if token == "" {
		s.tokenHash = ""
		return
	}
	s.tokenHash = hashToken(token)
}

// Handler returns the wrapped router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start runs the HTTP server (blocking)
func (s *Server) Start() error {
	log.WithField("addr", s.server.Addr).Info("server_starting")
	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	log.Info("server_stopping")
	return s.server.Shutdown(ctx)
}

// handleHealth returns status and engine counters.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, r, http.StatusOK, HealthResponse{Status: "ok", Stats: s.backend.Stats()})
}

// handleGraph returns the current node/link graph.
func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, r, http.StatusOK, GraphResponse{
		Snapshot:    s.backend.Snapshot(),
		GeneratedAt: s.now().UTC(),
	})
}

// handleFlows returns the traversals on their link this tick. Query
// parameters hide_ambiguous=true and hide_class=<class> filter endpoints.
func (s *Server) handleFlows(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	visible, err := s.visibilityFilter(r)
	if err != nil {
		http.Error(w, `{"error":"invalid_filter"}`, http.StatusBadRequest)
		return
	}

	flows := s.backend.Flows(visible)
	if flows == nil {
		flows = []engine.Traversal{}
	}
	writeJSON(w, r, http.StatusOK, FlowsResponse{Traversals: flows, GeneratedAt: s.now().UTC()})
}

func (s *Server) visibilityFilter(r *http.Request) (func(string) bool, error) {
	q := r.URL.Query()
	hideAmbiguous := false
	if v := q.Get("hide_ambiguous"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, err
		}
		hideAmbiguous = b
	}
	hidden := map[graph.NodeClass]bool{}
	for _, c := range q["hide_class"] {
		switch graph.NodeClass(c) {
		case graph.ClassRepeater, graph.ClassClient:
			hidden[graph.NodeClass(c)] = true
		default:
			return nil, fmt.Errorf("unknown class %q", c)
		}
	}
	if !hideAmbiguous && len(hidden) == 0 {
		return nil, nil
	}

	nodes := make(map[string]graph.Node)
	for _, n := range s.backend.Snapshot().Nodes {
		nodes[n.ID] = n
	}
	return func(id string) bool {
		n, ok := nodes[id]
		if !ok {
			return true
		}
		if hideAmbiguous && n.Ambiguous {
			return false
		}
		return !hidden[n.Class]
	}, nil
}

// handlePending lists the open aggregation entries.
func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, r, http.StatusOK, PendingResponse{Entries: s.backend.Pending()})
}

// handlePackets ingests one packet object or an array of packets.
func (s *Server) handlePackets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, `{"error":"body_too_large"}`, http.StatusRequestEntityTooLarge)
		return
	}
	pkts, err := source.ParseBatch(body)
	if err != nil {
		http.Error(w, `{"error":"invalid_json_body"}`, http.StatusBadRequest)
		return
	}

	resp := IngestResponse{Accepted: len(pkts), Outcomes: map[engine.Outcome]int{}}
	for _, o := range s.backend.IngestBatch(pkts) {
		resp.Outcomes[o]++
	}

	log.WithFields(log.Fields{
		"trace_id": getTraceID(r.Context()),
		"accepted": resp.Accepted,
	}).Debug("packets_ingested")
	writeJSON(w, r, http.StatusAccepted, resp)
}

// handlePolicy reads or replaces the resolution policy. A change resets the
// graph.
func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, r, http.StatusOK, PolicyResponse{Policy: s.backend.Policy()})
	case http.MethodPost:
		s.withAuth(func(w http.ResponseWriter, r *http.Request) {
			p := s.backend.Policy()
			if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&p); err != nil {
				http.Error(w, `{"error":"invalid_json_body"}`, http.StatusBadRequest)
				return
			}
			changed := s.backend.SetPolicy(p)
			log.WithFields(log.Fields{
				"trace_id": getTraceID(r.Context()),
				"changed":  changed,
			}).Info("policy_updated")
			writeJSON(w, r, http.StatusOK, PolicyResponse{Policy: s.backend.Policy(), Changed: changed})
		})(w, r)
	default:
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
	}
}

// handleReset clears every node but self, all links, pending entries and
// traversals.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method_not_allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	s.backend.Reset()
	log.WithField("trace_id", getTraceID(r.Context())).Info("graph_reset")
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "reset"})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithFields(log.Fields{
			"trace_id": getTraceID(r.Context()),
			"path":     r.URL.Path,
		}).WithError(err).Error("failed_to_encode_response")
	}
}

// Middleware: Auth
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.tokenHash == "" {
			next(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, `{"error":"unauthorized","reason":"missing_token"}`, http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, `{"error":"unauthorized","reason":"invalid_token_format"}`, http.StatusUnauthorized)
			return
		}

		if subtle.ConstantTimeCompare([]byte(hashToken(parts[1])), []byte(s.tokenHash)) != 1 {
			http.Error(w, `{"error":"unauthorized","reason":"invalid_token"}`, http.StatusUnauthorized)
			return
		}

		next(w, r)
	}
}

// Middleware: Panic Recovery
func withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.WithFields(log.Fields{
					"error": fmt.Sprint(err),
					"path":  r.URL.Path,
				}).Error("panic_recovered")
				http.Error(w, `{"error":"internal_server_error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Middleware: Request Logging
func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = generateTraceID()
		}

		ctx := context.WithValue(r.Context(), traceIDKey, traceID)
		r = r.WithContext(ctx)

		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		w.Header().Set("X-Trace-ID", traceID)

		next.ServeHTTP(ww, r)

		log.WithFields(log.Fields{
			"trace_id":    traceID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.status,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("http_request")
	})
}

func generateTraceID() string {
	return uuid.NewString()
}

func getTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

func hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// statusWriter captures HTTP status code
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Middleware: Secure Headers
func withSecureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'self'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")

		next.ServeHTTP(w, r)
	})
}
