// Package engine is the call contract of the detector: fit a baseline, grade
// a reading against it and run the event bank. The package level functions
// are pure; Engine adds the atomically swapped baseline, logging and metrics
// used by the service.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hed1ad/lakeguard/pkg/anomaly"
	"github.com/hed1ad/lakeguard/pkg/baseline"
	"github.com/hed1ad/lakeguard/pkg/detectors"
	"github.com/hed1ad/lakeguard/pkg/events"
	"github.com/hed1ad/lakeguard/pkg/operational"
	"github.com/hed1ad/lakeguard/pkg/water"
)

var log = logrus.WithField("component", "engine")

// ErrInvalidReading wraps validation failures of submitted readings.
var ErrInvalidReading = errors.New("invalid reading")

// ErrNoRefresher is returned by Refit when the engine has no reference source.
var ErrNoRefresher = errors.New("baseline refresh is not configured")

// DetectionReport is the full result for one reading.
type DetectionReport struct {
	Anomaly          anomaly.Report `json:"anomaly"`
	Events           events.Report  `json:"events"`
	BaselineFittedAt time.Time      `json:"baseline_fitted_at"`
}

// FitBaseline fits a model on refs with the given pattern model settings.
func FitBaseline(refs []water.Reading, cfg detectors.Config, opts ...baseline.Option) (*baseline.Model, error) {
	opts = append([]baseline.Option{baseline.WithDetectorConfig(cfg)}, opts...)
	return baseline.Fit(refs, opts...)
}

// DetectAnomaly grades every metric and the joint pattern of r.
func DetectAnomaly(r water.Reading, m *baseline.Model) anomaly.Report {
	return anomaly.Detect(r, m)
}

// DetectEvents runs the event bank.
func DetectEvents(r water.Reading, history []water.Reading, m *baseline.Model, c events.Context) events.Report {
	return events.Detect(r, history, m, c)
}

// Detect runs both stages against the same model snapshot.
func Detect(r water.Reading, history []water.Reading, m *baseline.Model, c events.Context) DetectionReport {
	return DetectionReport{
		Anomaly:          DetectAnomaly(r, m),
		Events:           DetectEvents(r, history, m, c),
		BaselineFittedAt: m.FittedAt(),
	}
}

// Engine serves detection calls from the current baseline snapshot.
type Engine struct {
	holder    *baseline.Holder
	refresher *baseline.Refresher
}

// New builds an engine over h. refresher may be nil when the baseline is
// fixed for the life of the process.
func New(h *baseline.Holder, refresher *baseline.Refresher) *Engine {
	e := &Engine{holder: h, refresher: refresher}
	if refresher != nil {
		refresher.OnSwap(func(m *baseline.Model, took time.Duration) {
			operational.BaselineFitDuration.Observe(took.Seconds())
			observeModel(m)
		})
		refresher.OnFailure(func(error) {
			operational.BaselineFitFailures.Inc()
		})
	}
	if m := h.Load(); m != nil {
		observeModel(m)
	}
	return e
}

func observeModel(m *baseline.Model) {
	operational.BaselineSize.Set(float64(m.Size()))
	operational.BaselineFittedAt.Set(float64(m.FittedAt().Unix()))
}

// Model returns the current snapshot.
func (e *Engine) Model() (*baseline.Model, error) {
	m := e.holder.Load()
	if m == nil {
		return nil, baseline.ErrNoBaseline
	}
	return m, nil
}

// Ready reports whether a baseline is loaded. It satisfies healthcheck.Check.
func (e *Engine) Ready() error {
	_, err := e.Model()
	return err
}

// Summary describes the current baseline.
func (e *Engine) Summary() (baseline.Summary, error) {
	m, err := e.Model()
	if err != nil {
		return baseline.Summary{}, err
	}
	return m.Summary(), nil
}

// Analyze grades r against the current baseline.
func (e *Engine) Analyze(r water.Reading) (anomaly.Report, error) {
	m, err := e.snapshot(r)
	if err != nil {
		return anomaly.Report{}, err
	}
	rep := DetectAnomaly(r, m)
	recordAnomalies(rep)
	return rep, nil
}

// DetectEvents runs the event bank against the current baseline.
func (e *Engine) DetectEvents(r water.Reading, history []water.Reading, c events.Context) (events.Report, error) {
	m, err := e.snapshot(r)
	if err != nil {
		return events.Report{}, err
	}
	rep := DetectEvents(r, history, m, c)
	recordEvents(rep)
	return rep, nil
}

// Detect runs both stages against one snapshot.
func (e *Engine) Detect(r water.Reading, history []water.Reading, c events.Context) (DetectionReport, error) {
	m, err := e.snapshot(r)
	if err != nil {
		return DetectionReport{}, err
	}
	rep := Detect(r, history, m, c)
	recordAnomalies(rep.Anomaly)
	recordEvents(rep.Events)
	return rep, nil
}

// Refit refreshes the baseline now.
func (e *Engine) Refit(ctx context.Context) (*baseline.Model, error) {
	if e.refresher == nil {
		return nil, ErrNoRefresher
	}
	return e.refresher.Refresh(ctx)
}

func (e *Engine) snapshot(r water.Reading) (*baseline.Model, error) {
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReading, err)
	}
	return e.Model()
}

func recordAnomalies(rep anomaly.Report) {
	operational.ReadingsAnalyzed.Inc()
	for _, m := range water.Metrics {
		if v := rep.Metric(m); v.IsAnomaly {
			operational.AnomaliesDetected.WithLabelValues(m.String(), v.Severity.String()).Inc()
		}
	}
	if rep.Pattern.IsAnomaly {
		operational.AnomaliesDetected.WithLabelValues("pattern", rep.Pattern.Severity.String()).Inc()
	}
	if rep.Anomalous() {
		log.WithField("ph", rep.Acidity.Severity).
			WithField("turbidity", rep.Turbidity.Severity).
			WithField("temperature", rep.Temperature.Severity).
			WithField("do_level", rep.DissolvedOxygen.Severity).
			WithField("pattern", rep.Pattern.IsAnomaly).
			Debug("anomalous reading")
	}
}

func recordEvents(rep events.Report) {
	for _, f := range rep.Triggered() {
		operational.EventsTriggered.WithLabelValues(f.Name).Inc()
		log.WithField("flag", f.Name).WithField("severity", f.Severity).Debug(f.Reason)
	}
}
