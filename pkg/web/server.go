package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/ritzau/nma-engine/pkg/input"
	"github.com/ritzau/nma-engine/pkg/logging"
	"github.com/ritzau/nma-engine/pkg/model"
	"github.com/ritzau/nma-engine/pkg/pooling"
	"github.com/ritzau/nma-engine/pkg/pubsub"
)

var log = logging.New("web")

// maxBodyBytes caps dataset uploads
const maxBodyBytes = 8 << 20

// Analyzer runs analyses on request; *analysis.Runner implements it
type Analyzer interface {
	Geometry(ds *model.Dataset) (*model.GeometryReport, error)
	Consistency(ds *model.Dataset) (*model.ConsistencyReport, error)
	Pooling(ds *model.Dataset) (*model.PoolingReport, error)
	Ranking(ds *model.Dataset) (*model.RankingReport, error)
	Run(ctx context.Context, ds *model.Dataset) (*model.AnalysisReport, error)
	Latest() *model.AnalysisReport
}

// Server exposes the analyzers as JSON tool-call endpoints
type Server struct {
	router    *mux.Router
	analyzer  Analyzer
	publisher pubsub.Publisher
}

// NewPublisher creates the SSE publisher with the analysis topics configured
func NewPublisher() *pubsub.SSEPublisher {
	p := pubsub.NewSSEPublisher()

	// analysis_status: buffer one run's worth of steps, replay only the current state
	p.ConfigureTopic(pubsub.TopicAnalysisStatus, pubsub.TopicConfig{
		BufferSize: 10,
		ReplayAll:  false,
	})

	// analysis_report: replay the latest summary to late subscribers
	p.ConfigureTopic(pubsub.TopicAnalysisReport, pubsub.TopicConfig{
		BufferSize: 1,
		ReplayAll:  false,
	})
	return p
}

// NewServer creates a new web server
func NewServer(analyzer Analyzer, publisher pubsub.Publisher) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		analyzer:  analyzer,
		publisher: publisher,
	}
	s.setupRoutes()
	return s
}

// Handler returns the root handler with request logging
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(logging.RequestIDMiddleware)

	// SSE subscription endpoints
	s.router.HandleFunc("/api/subscribe/analysis", s.handleSubscribe(pubsub.TopicAnalysisStatus)).Methods("GET")
	s.router.HandleFunc("/api/subscribe/report", s.handleSubscribe(pubsub.TopicAnalysisReport)).Methods("GET")

	// Tool-call endpoints: a dataset in, a report out
	s.router.HandleFunc("/api/geometry", s.handleGeometry).Methods("POST")
	s.router.HandleFunc("/api/consistency", s.handleConsistency).Methods("POST")
	s.router.HandleFunc("/api/pooling", s.handlePooling).Methods("POST")
	s.router.HandleFunc("/api/ranking", s.handleRanking).Methods("POST")
	s.router.HandleFunc("/api/analyze", s.handleAnalyze).Methods("POST")

	s.router.HandleFunc("/api/report", s.handleReport).Methods("GET")
	s.router.HandleFunc("/api/health", s.handleHealth).Methods("GET")
}

func (s *Server) handleSubscribe(topic string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Set SSE headers
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Access-Control-Allow-Origin", "*") // CORS support

		// Create subscription
		sub, err := s.publisher.Subscribe(r.Context(), topic)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		defer sub.Close()

		// Send initial comment to establish connection (Safari compatibility)
		fmt.Fprintf(w, ": connected\n\n")
		flush(w)

		// Stream events until the client goes away or the publisher closes
		for event := range sub.Events() {
			if err := pubsub.WriteSSE(w, event); err != nil {
				logging.WarnContext(r.Context(), "error writing SSE event", "topic", topic, "error", err)
				return
			}
			flush(w)
		}
	}
}

func flush(w http.ResponseWriter) {
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (s *Server) handleGeometry(w http.ResponseWriter, r *http.Request) {
	ds, ok := decodeDataset(w, r)
	if !ok {
		return
	}
	report, err := s.analyzer.Geometry(ds)
	respond(w, r, report, err)
}

func (s *Server) handleConsistency(w http.ResponseWriter, r *http.Request) {
	ds, ok := decodeDataset(w, r)
	if !ok {
		return
	}
	report, err := s.analyzer.Consistency(ds)
	respond(w, r, report, err)
}

func (s *Server) handlePooling(w http.ResponseWriter, r *http.Request) {
	ds, ok := decodeDataset(w, r)
	if !ok {
		return
	}
	report, err := s.analyzer.Pooling(ds)
	respond(w, r, report, err)
}

func (s *Server) handleRanking(w http.ResponseWriter, r *http.Request) {
	ds, ok := decodeDataset(w, r)
	if !ok {
		return
	}
	report, err := s.analyzer.Ranking(ds)
	respond(w, r, report, err)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	ds, ok := decodeDataset(w, r)
	if !ok {
		return
	}
	report, err := s.analyzer.Run(r.Context(), ds)
	respond(w, r, report, err)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report := s.analyzer.Latest()
	if report == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no analysis has completed yet"))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeDataset(w http.ResponseWriter, r *http.Request) (*model.Dataset, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	ds, err := input.Decode(r.Body, input.FormatJSON)
	if err != nil {
		logging.DebugContext(r.Context(), "rejected request body", "error", err)
		writeError(w, http.StatusBadRequest, err)
		return nil, false
	}
	return ds, true
}

// respond maps analyzer errors onto status codes: invalid input is 422
func respond(w http.ResponseWriter, r *http.Request, report any, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, report)
	case model.IsInvalidNetwork(err), errors.Is(err, pooling.ErrSingular):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, context.Canceled):
		// client went away; nothing useful to send
	default:
		logging.ErrorContext(r.Context(), "analysis failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// Start serves on the given port until ctx is cancelled
func (s *Server) Start(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting web server", "url", fmt.Sprintf("http://localhost:%d", port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("web server: %w", err)
	case <-ctx.Done():
		log.Info("shutting down web server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.publisher.Close(); err != nil {
			log.Warn("failed to close publisher", "error", err)
		}
		return srv.Shutdown(shutdownCtx)
	}
}
