// Package server exposes the detector over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/hed1ad/lakeguard/pkg/baseline"
	"github.com/hed1ad/lakeguard/pkg/engine"
	"github.com/hed1ad/lakeguard/pkg/io/redis"
	"github.com/hed1ad/lakeguard/pkg/twin"
	"github.com/hed1ad/lakeguard/pkg/water"
)

var (
	json = jsoniter.ConfigCompatibleWithStandardLibrary
	log  = logrus.WithField("component", "server")
)

const (
	apiKeyHeader        = "X-API-Key"
	defaultHistoryLimit = 100
	maxHistoryLimit     = 500
	// storedHistoryDepth covers the longest trend window of the event bank.
	storedHistoryDepth = 6
	maxBodyBytes       = 1 << 20
)

var (
	errHistoryDisabled = errors.New("reading history is not configured")
	errTwinDisabled    = errors.New("digital twin is not configured")
)

// HistoryStore persists readings and the latest reports.
type HistoryStore interface {
	Append(ctx context.Context, r water.Reading) (redis.StoredReading, error)
	Latest(ctx context.Context) (redis.StoredReading, error)
	Recent(ctx context.Context, limit int) ([]redis.StoredReading, error)
	History(ctx context.Context, n int) ([]water.Reading, error)
	SaveReport(ctx context.Context, name string, v any) error
	RequestRead(ctx context.Context) error
	NextCommand(ctx context.Context) (string, error)
}

// Server routes API calls to the engine and the history store.
type Server struct {
	engine *engine.Engine
	store  HistoryStore
	apiKey string
	twin   *twin.Profile
	router *mux.Router
}

// Option configures a Server.
type Option func(*Server)

// WithTwin enables the what-if endpoint over p.
func WithTwin(p *twin.Profile) Option {
	return func(s *Server) {
		s.twin = p
	}
}

// New builds the router. store may be nil, in which case the reading
// endpoints answer 503. An empty apiKey disables authentication.
func New(e *engine.Engine, store HistoryStore, apiKey string, opts ...Option) *Server {
	s := &Server{engine: e, store: store, apiKey: apiKey, router: mux.NewRouter()}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router
	r.Use(instrument)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Path("/metrics").Handler(promhttp.Handler())

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/readings/latest", s.handleLatest).Methods(http.MethodGet)
	api.HandleFunc("/readings/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/baseline", s.handleBaseline).Methods(http.MethodGet)

	protected := api.NewRoute().Subrouter()
	protected.Use(s.requireAPIKey)
	protected.HandleFunc("/readings", s.handleIngest).Methods(http.MethodPost)
	protected.HandleFunc("/analyze", s.handleAnalyze).Methods(http.MethodPost)
	protected.HandleFunc("/event-detection", s.handleEventDetection).Methods(http.MethodPost)
	protected.HandleFunc("/detect", s.handleDetect).Methods(http.MethodPost)
	protected.HandleFunc("/baseline/refresh", s.handleRefresh).Methods(http.MethodPost)
	protected.HandleFunc("/esp32/request-read", s.handleRequestRead).Methods(http.MethodPost)
	protected.HandleFunc("/next-command", s.handleNextCommand).Methods(http.MethodGet)
	protected.HandleFunc("/digital-twin", s.handleTwin).Methods(http.MethodPost)
}

// NewHTTPServer wraps h with the timeouts used in production.
func NewHTTPServer(addr string, h http.Handler, read, write time.Duration) *http.Server {
	return &http.Server{
		Addr:           addr,
		Handler:        h,
		ReadTimeout:    read,
		WriteTimeout:   write,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "healthy"
	if err := s.engine.Ready(); err != nil {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, errHistoryDisabled)
		return
	}
	var p readingPayload
	if !decode(w, r, &p) {
		return
	}
	reading, err := p.reading()
	if err != nil {
		writeError(w, badRequest(err))
		return
	}
	stored, err := s.store.Append(r.Context(), reading)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": "Data received", "id": stored.ID})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, errHistoryDisabled)
		return
	}
	latest, err := s.store.Latest(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, errHistoryDisabled)
		return
	}
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			writeError(w, badRequest(errors.New("limit must be an integer between 1 and 500")))
			return
		}
		limit = n
	}
	recent, err := s.store.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if recent == nil {
		recent = []redis.StoredReading{}
	}
	writeJSON(w, http.StatusOK, recent)
}

func (s *Server) handleRequestRead(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, errHistoryDisabled)
		return
	}
	if err := s.store.RequestRead(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Sensor read requested"})
}

// handleNextCommand is polled by the sensor node.
func (s *Server) handleNextCommand(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, errHistoryDisabled)
		return
	}
	cmd, err := s.store.NextCommand(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"command": cmd})
}

func (s *Server) handleTwin(w http.ResponseWriter, r *http.Request) {
	if s.twin == nil {
		writeError(w, errTwinDisabled)
		return
	}
	scenario := twin.DefaultScenario()
	if !decode(w, r, &scenario) {
		return
	}
	out, err := s.twin.Simulate(scenario)
	if err != nil {
		writeError(w, badRequest(err))
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var p readingPayload
	if !decode(w, r, &p) {
		return
	}
	reading, err := p.reading()
	if err != nil {
		writeError(w, badRequest(err))
		return
	}
	rep, err := s.engine.Analyze(reading)
	if err != nil {
		writeError(w, err)
		return
	}
	s.saveReport(r.Context(), "anomaly", rep)
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleEventDetection(w http.ResponseWriter, r *http.Request) {
	in, ok := s.eventInput(w, r)
	if !ok {
		return
	}
	rep, err := s.engine.DetectEvents(in.reading, in.history, in.ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	s.saveReport(r.Context(), "events", rep)
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	in, ok := s.eventInput(w, r)
	if !ok {
		return
	}
	rep, err := s.engine.Detect(in.reading, in.history, in.ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	s.saveReport(r.Context(), "detection", rep)
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	m, err := s.engine.Refit(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m.Summary())
}

func (s *Server) handleBaseline(w http.ResponseWriter, _ *http.Request) {
	summary, err := s.engine.Summary()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// eventInput decodes an event request and resolves stored history when the
// caller asked for it and supplied none.
func (s *Server) eventInput(w http.ResponseWriter, r *http.Request) (eventInput, bool) {
	var req eventRequest
	if !decode(w, r, &req) {
		return eventInput{}, false
	}
	in, err := req.input()
	if err != nil {
		writeError(w, badRequest(err))
		return eventInput{}, false
	}
	if !in.hasHistory && in.wantsStored {
		if s.store == nil {
			writeError(w, errHistoryDisabled)
			return eventInput{}, false
		}
		in.history, err = s.store.History(r.Context(), storedHistoryDepth)
		if err != nil {
			writeError(w, err)
			return eventInput{}, false
		}
	}
	return in, true
}

// saveReport keeps the latest report for dashboards. Failures are logged only.
func (s *Server) saveReport(ctx context.Context, name string, v any) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveReport(ctx, name, v); err != nil {
		log.WithError(err).WithField("report", name).Warn("error saving report")
	}
}

type requestError struct{ err error }

func (e requestError) Error() string { return e.err.Error() }
func (e requestError) Unwrap() error { return e.err }

func badRequest(err error) error {
	return requestError{err: err}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		writeError(w, badRequest(errors.New("invalid JSON format")))
		return false
	}
	return true
}

func statusFor(err error) int {
	var reqErr requestError
	switch {
	case errors.As(err, &reqErr), errors.Is(err, engine.ErrInvalidReading):
		return http.StatusBadRequest
	case errors.Is(err, redis.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, baseline.ErrInsufficientData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrNoRefresher):
		return http.StatusNotImplemented
	case errors.Is(err, baseline.ErrNoBaseline), errors.Is(err, errHistoryDisabled), errors.Is(err, errTwinDisabled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	detail := err.Error()
	switch {
	case errors.Is(err, redis.ErrNotFound):
		detail = "No readings available"
	case status == http.StatusInternalServerError:
		log.WithError(err).Error("request failed")
	}
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Debug("error writing response")
	}
}
