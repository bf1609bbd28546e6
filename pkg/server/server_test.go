package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/lakeguard/pkg/baseline"
	"github.com/hed1ad/lakeguard/pkg/detectors"
	"github.com/hed1ad/lakeguard/pkg/engine"
	"github.com/hed1ad/lakeguard/pkg/events"
	"github.com/hed1ad/lakeguard/pkg/io/redis"
	"github.com/hed1ad/lakeguard/pkg/twin"
	"github.com/hed1ad/lakeguard/pkg/water"
	"github.com/hed1ad/lakeguard/pkg/water/watertest"
)

const (
	testKey  = "secret"
	spillDoc = `{"ph":4.5,"turbidity":900,"temperature":22,"do_level":8}`
	calmDoc  = `{"ph":7.2,"turbidity":150,"temperature":22,"do_level":8}`
)

var testConfig = detectors.Config{Trees: 50, SampleSize: 256, Contamination: 0.03, RandomSeed: 42}

func newTestServer(t *testing.T, withModel bool) (*Server, *redis.Store) {
	t.Helper()
	var m *baseline.Model
	if withModel {
		var err error
		m, err = engine.FitBaseline(watertest.Hourly(watertest.Freshwater, 500, 7), testConfig)
		require.NoError(t, err)
	}
	mr := miniredis.RunT(t)
	store := redis.NewFromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), redis.Options{})
	t.Cleanup(func() { store.Close() })
	return New(engine.New(baseline.NewHolder(m), nil), store, testKey), store
}

func do(s *Server, method, path, body string, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if key != "" {
		req.Header.Set(apiKeyHeader, key)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestAPIKey(t *testing.T) {
	s, _ := newTestServer(t, true)

	tests := []struct {
		name string
		key  string
		want int
	}{
		{name: "missing", key: "", want: http.StatusUnauthorized},
		{name: "wrong", key: "nope", want: http.StatusUnauthorized},
		{name: "valid", key: testKey, want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(s, http.MethodPost, "/api/analyze", calmDoc, tt.key)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	open := New(s.engine, s.store, "")
	assert.Equal(t, http.StatusOK, do(open, http.MethodPost, "/api/analyze", calmDoc, "").Code)
}

func TestReadings(t *testing.T) {
	s, _ := newTestServer(t, false)

	rec := do(s, http.MethodGet, "/api/readings/latest", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "No readings available")

	for i := 1; i <= 3; i++ {
		rec = do(s, http.MethodPost, "/api/readings", calmDoc, testKey)
		require.Equal(t, http.StatusCreated, rec.Code)
		var created struct {
			Message string `json:"message"`
			ID      int64  `json:"id"`
		}
		decodeBody(t, rec, &created)
		assert.Equal(t, "Data received", created.Message)
		assert.Equal(t, int64(i), created.ID)
	}

	rec = do(s, http.MethodGet, "/api/readings/latest", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var latest redis.StoredReading
	decodeBody(t, rec, &latest)
	assert.Equal(t, int64(3), latest.ID)
	assert.Equal(t, 7.2, latest.Acidity)

	rec = do(s, http.MethodGet, "/api/readings/history?limit=2", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var recent []redis.StoredReading
	decodeBody(t, rec, &recent)
	require.Len(t, recent, 2)
	assert.Equal(t, int64(3), recent[0].ID, "newest first")
}

func TestHistoryLimit(t *testing.T) {
	s, _ := newTestServer(t, false)

	tests := []struct {
		query string
		want  int
	}{
		{query: "", want: http.StatusOK},
		{query: "?limit=1", want: http.StatusOK},
		{query: "?limit=500", want: http.StatusOK},
		{query: "?limit=0", want: http.StatusBadRequest},
		{query: "?limit=501", want: http.StatusBadRequest},
		{query: "?limit=ten", want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := do(s, http.MethodGet, "/api/readings/history"+tt.query, "", "")
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestIngestValidation(t *testing.T) {
	s, _ := newTestServer(t, false)

	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "{"},
		{name: "missing field", body: `{"ph":7,"turbidity":100,"temperature":20}`},
		{name: "hour out of range", body: `{"ph":7,"turbidity":100,"temperature":20,"do_level":8,"hour":24}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(s, http.MethodPost, "/api/readings", tt.body, testKey)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestAnalyze(t *testing.T) {
	s, store := newTestServer(t, true)

	rec := do(s, http.MethodPost, "/api/analyze", spillDoc, testKey)
	require.Equal(t, http.StatusOK, rec.Code)
	var rep struct {
		Acidity   water.Verdict `json:"ph_anomaly"`
		Turbidity water.Verdict `json:"turbidity_anomaly"`
	}
	decodeBody(t, rec, &rep)
	assert.Equal(t, water.SeverityHigh, rep.Acidity.Severity)
	assert.Equal(t, water.SeverityHigh, rep.Turbidity.Severity)

	var saved map[string]any
	require.NoError(t, store.LatestReport(context.Background(), "anomaly", &saved))
	assert.Contains(t, saved, "ph_anomaly")
}

func TestNoBaseline(t *testing.T) {
	s, _ := newTestServer(t, false)

	for _, path := range []string{"/api/analyze", "/api/detect"} {
		body := spillDoc
		if path == "/api/detect" {
			body = `{"reading":` + spillDoc + `}`
		}
		assert.Equal(t, http.StatusServiceUnavailable, do(s, http.MethodPost, path, body, testKey).Code, path)
	}
	assert.Equal(t, http.StatusServiceUnavailable, do(s, http.MethodGet, "/api/baseline", "", "").Code)
	assert.Equal(t, http.StatusNotImplemented, do(s, http.MethodPost, "/api/baseline/refresh", "", testKey).Code)
}

func TestEventDetection(t *testing.T) {
	s, store := newTestServer(t, true)

	body := `{"reading":{"ph":7.2,"turbidity":400,"temperature":22,"do_level":8},"rainfall_mm":20}`
	rec := do(s, http.MethodPost, "/api/event-detection", body, testKey)
	require.Equal(t, http.StatusOK, rec.Code)
	var rep events.Report
	decodeBody(t, rec, &rep)
	require.Len(t, rep.Flags, len(events.Catalog))
	rain, ok := rep.Flag(events.HeavyRainTurbidity)
	require.True(t, ok)
	assert.True(t, rain.Triggered)

	var saved events.Report
	require.NoError(t, store.LatestReport(context.Background(), "events", &saved))
	assert.Len(t, saved.Flags, len(events.Catalog))

	bad := `{"reading":` + calmDoc + `,"measurement_hour":25}`
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPost, "/api/event-detection", bad, testKey).Code)
	assert.Equal(t, http.StatusBadRequest, do(s, http.MethodPost, "/api/event-detection", `{}`, testKey).Code)
}

func TestDetectUsesStoredHistory(t *testing.T) {
	s, store := newTestServer(t, true)
	ctx := context.Background()

	frozen := water.Reading{Acidity: 7.2, Turbidity: 150, Temperature: 22, DissolvedOxygen: 8}
	for i := 0; i < 3; i++ {
		_, err := store.Append(ctx, frozen)
		require.NoError(t, err)
	}

	body := `{"reading":` + calmDoc + `,"use_stored_history":true}`
	rec := do(s, http.MethodPost, "/api/detect", body, testKey)
	require.Equal(t, http.StatusOK, rec.Code)
	var rep engine.DetectionReport
	decodeBody(t, rec, &rep)
	malfunction, ok := rep.Events.Flag(events.SensorMalfunction)
	require.True(t, ok)
	assert.True(t, malfunction.Triggered, malfunction.Reason)

	rec = do(s, http.MethodPost, "/api/detect", `{"reading":`+calmDoc+`}`, testKey)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &rep)
	malfunction, _ = rep.Events.Flag(events.SensorMalfunction)
	assert.False(t, malfunction.Triggered)
}

func TestWithoutStore(t *testing.T) {
	s, _ := newTestServer(t, true)
	bare := New(s.engine, nil, "")

	assert.Equal(t, http.StatusServiceUnavailable, do(bare, http.MethodGet, "/api/readings/latest", "", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(bare, http.MethodPost, "/api/readings", calmDoc, "").Code)
	assert.Equal(t, http.StatusOK, do(bare, http.MethodPost, "/api/analyze", calmDoc, "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(bare, http.MethodPost, "/api/esp32/request-read", "", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(bare, http.MethodGet, "/api/next-command", "", "").Code)
}

func TestDeviceCommand(t *testing.T) {
	s, _ := newTestServer(t, false)

	nextCommand := func() string {
		t.Helper()
		rec := do(s, http.MethodGet, "/api/next-command", "", testKey)
		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Command string `json:"command"`
		}
		decodeBody(t, rec, &body)
		return body.Command
	}

	assert.Equal(t, http.StatusUnauthorized, do(s, http.MethodGet, "/api/next-command", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(s, http.MethodPost, "/api/esp32/request-read", "", "").Code)

	assert.Equal(t, "idle", nextCommand())

	rec := do(s, http.MethodPost, "/api/esp32/request-read", "", testKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Sensor read requested")

	assert.Equal(t, "read_sensor", nextCommand())
	assert.Equal(t, "idle", nextCommand(), "the read is handed out once")
}

func TestBaselineEndpoints(t *testing.T) {
	h := baseline.NewHolder(nil)
	load := func(context.Context) ([]water.Reading, error) {
		return watertest.Hourly(watertest.Freshwater, 300, 9), nil
	}
	r := baseline.NewRefresher(h, load, 0, nil, baseline.WithDetectorConfig(testConfig))
	s := New(engine.New(h, r), nil, "")

	rec := do(s, http.MethodPost, "/api/baseline/refresh", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(s, http.MethodGet, "/api/baseline", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary baseline.Summary
	decodeBody(t, rec, &summary)
	assert.Equal(t, 300, summary.Size)
}

func TestHealthAndMetrics(t *testing.T) {
	s, _ := newTestServer(t, false)
	do(s, http.MethodGet, "/health", "", "")

	rec := do(s, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")

	rec = do(s, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `lakeguard_http_requests_total{method="GET",route="/health",status="200"}`)
}

func TestDigitalTwin(t *testing.T) {
	base, _ := newTestServer(t, false)
	assert.Equal(t, http.StatusServiceUnavailable, do(base, http.MethodPost, "/api/digital-twin", `{}`, testKey).Code)

	p, err := twin.Learn(watertest.Hourly(watertest.Freshwater, 200, 5))
	require.NoError(t, err)
	s := New(base.engine, base.store, testKey, WithTwin(p))

	tests := []struct {
		name string
		body string
		key  string
		want int
	}{
		{name: "defaults", body: `{}`, key: testKey, want: http.StatusOK},
		{name: "custom", body: `{"temperature_rise_c":3,"pollution_event_strength":0.8,"rainfall_mm":40}`, key: testKey, want: http.StatusOK},
		{name: "strength out of range", body: `{"pollution_event_strength":1.5}`, key: testKey, want: http.StatusBadRequest},
		{name: "bad json", body: `{`, key: testKey, want: http.StatusBadRequest},
		{name: "no key", body: `{}`, want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(s, http.MethodPost, "/api/digital-twin", tt.body, tt.key)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	rec := do(s, http.MethodPost, "/api/digital-twin", `{"rainfall_mm":0}`, testKey)
	require.Equal(t, http.StatusOK, rec.Code)
	var got twin.Projection
	decodeBody(t, rec, &got)
	want, err := p.Simulate(twin.Scenario{TemperatureRiseC: 1.5, PollutionStrength: 0.35})
	require.NoError(t, err)
	assert.InDelta(t, want.OxygenDrop.Value, got.OxygenDrop.Value, 1e-9, "omitted fields keep their defaults")
	assert.InDelta(t, want.TurbidityRecovery.Value, got.TurbidityRecovery.Value, 1e-9)
	assert.NotEmpty(t, got.FishMortality.Risk)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: badRequest(errors.New("bad")), want: http.StatusBadRequest},
		{err: engine.ErrInvalidReading, want: http.StatusBadRequest},
		{err: redis.ErrNotFound, want: http.StatusNotFound},
		{err: baseline.ErrInsufficientData, want: http.StatusUnprocessableEntity},
		{err: engine.ErrNoRefresher, want: http.StatusNotImplemented},
		{err: baseline.ErrNoBaseline, want: http.StatusServiceUnavailable},
		{err: errTwinDisabled, want: http.StatusServiceUnavailable},
		{err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
