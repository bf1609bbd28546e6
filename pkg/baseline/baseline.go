// Package baseline fits the statistical reference frame used to score
// readings: per-metric mean and standard deviation, the day/night dissolved
// oxygen split and the multivariate pattern model.
//
// A Model is immutable once Fit returns and may be shared by any number of
// concurrent detection calls. Refreshing means fitting a new Model and
// swapping it into a Holder.
package baseline

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"gonum.org/v1/gonum/stat"

	"github.com/hed1ad/lakeguard/pkg/detectors"
	"github.com/hed1ad/lakeguard/pkg/detectors/iforest"
	"github.com/hed1ad/lakeguard/pkg/water"
)

// Epsilon is added to every standard deviation before it is used as a divisor.
const Epsilon = 1e-6

// ErrInsufficientData is returned when the reference set cannot support a fit.
var ErrInsufficientData = errors.New("insufficient reference data")

// Stat summarizes one metric of the reference set.
type Stat struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std"`
	Count  int     `json:"count"`
}

// Z returns the absolute z-score of v.
func (s Stat) Z(v float64) float64 {
	return math.Abs(v-s.Mean) / (s.StdDev + Epsilon)
}

// Upper returns mean + k standard deviations.
func (s Stat) Upper(k float64) float64 {
	return s.Mean + k*s.StdDev
}

// Lower returns mean - k standard deviations.
func (s Stat) Lower(k float64) float64 {
	return s.Mean - k*s.StdDev
}

// Diurnal is the day/night split of dissolved oxygen.
type Diurnal struct {
	DayMean   float64 `json:"day_mean"`
	NightMean float64 `json:"night_mean"`
	Available bool    `json:"available"`
}

// Gap returns the historical day minus night difference.
func (d Diurnal) Gap() float64 {
	return d.DayMean - d.NightMean
}

// Expected returns the bucket mean matching hour.
func (d Diurnal) Expected(hour int) float64 {
	if IsDaytime(hour) {
		return d.DayMean
	}
	return d.NightMean
}

// IsDaytime reports whether hour falls in [6,20).
func IsDaytime(hour int) bool {
	return hour >= 6 && hour < 20
}

// Model is a fitted baseline.
type Model struct {
	stats     [len(metricSlots)]Stat
	available [len(metricSlots)]bool
	diurnal   Diurnal
	pattern   *iforest.IsolationForest
	config    detectors.Config
	size      int
	trainRows int
	fittedAt  time.Time
}

var metricSlots = [...]water.Metric{water.Acidity, water.Turbidity, water.Temperature, water.DissolvedOxygen}

type options struct {
	detector  detectors.Config
	withoutDO bool
	clock     clock.Clock
}

// Option configures Fit.
type Option func(*options)

// WithDetectorConfig overrides the pattern model configuration.
func WithDetectorConfig(cfg detectors.Config) Option {
	return func(o *options) {
		o.detector = cfg
	}
}

// WithoutDissolvedOxygen marks the reference set as having no oxygen column.
func WithoutDissolvedOxygen() Option {
	return func(o *options) {
		o.withoutDO = true
	}
}

// WithClock sets the clock used to stamp the fit time.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// Fit computes a Model from a reference set. Values encoded as NaN are
// treated as missing: statistics skip them and the pattern model is trained
// on forward-filled rows.
func Fit(refs []water.Reading, opts ...Option) (*Model, error) {
	o := options{
		detector: detectors.DefaultConfig(),
		clock:    clock.New(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if len(refs) == 0 {
		return nil, fmt.Errorf("%w: reference set is empty", ErrInsufficientData)
	}

	m := &Model{
		config:   o.detector,
		size:     len(refs),
		fittedAt: o.clock.Now().UTC().Round(0),
	}

	for i, metric := range metricSlots {
		if metric == water.DissolvedOxygen && o.withoutDO {
			continue
		}
		values := observed(refs, metric)
		if len(values) == 0 {
			if metric == water.DissolvedOxygen {
				continue
			}
			return nil, fmt.Errorf("%w: no %s values", ErrInsufficientData, metric)
		}
		m.stats[i] = summarize(values)
		m.available[i] = true
	}

	if m.available[water.DissolvedOxygen] {
		m.diurnal = diurnalSplit(refs)
	}

	rows := forwardFill(refs)
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no complete pattern rows after forward fill", ErrInsufficientData)
	}
	m.trainRows = len(rows)
	m.pattern = iforest.New(iforest.WithConfig(o.detector))
	if err := m.pattern.Fit(rows); err != nil {
		return nil, fmt.Errorf("fitting pattern model: %w", err)
	}

	return m, nil
}

func observed(refs []water.Reading, metric water.Metric) []float64 {
	values := make([]float64, 0, len(refs))
	for _, r := range refs {
		if v := r.Value(metric); !math.IsNaN(v) {
			values = append(values, v)
		}
	}
	return values
}

func summarize(values []float64) Stat {
	if len(values) == 1 {
		return Stat{Mean: values[0], Count: 1}
	}
	mean, std := stat.MeanStdDev(values, nil)
	return Stat{Mean: mean, StdDev: std, Count: len(values)}
}

// forwardFill patches missing pattern values with the last seen value of the
// same column. Rows that still have a gap (nothing seen yet) are dropped.
func forwardFill(refs []water.Reading) [][]float64 {
	last := []float64{math.NaN(), math.NaN(), math.NaN()}
	rows := make([][]float64, 0, len(refs))
	for _, r := range refs {
		row := r.Vector()
		complete := true
		for j, v := range row {
			if math.IsNaN(v) {
				row[j] = last[j]
			} else {
				last[j] = v
			}
			if math.IsNaN(row[j]) {
				complete = false
			}
		}
		if complete {
			rows = append(rows, row)
		}
	}
	return rows
}

func diurnalSplit(refs []water.Reading) Diurnal {
	var day, night []float64
	for _, r := range refs {
		hour, ok := localHour(r)
		if !ok || math.IsNaN(r.DissolvedOxygen) {
			continue
		}
		if IsDaytime(hour) {
			day = append(day, r.DissolvedOxygen)
		} else {
			night = append(night, r.DissolvedOxygen)
		}
	}
	if len(day) == 0 || len(night) == 0 {
		return Diurnal{}
	}
	return Diurnal{
		DayMean:   stat.Mean(day, nil),
		NightMean: stat.Mean(night, nil),
		Available: true,
	}
}

// localHour is the wall-clock hour of r: the explicit hour when set, else the
// hour of the timestamp in its own location.
func localHour(r water.Reading) (int, bool) {
	switch {
	case r.Hour != nil:
		return *r.Hour, true
	case r.HasTimestamp():
		return r.Timestamp.Hour(), true
	}
	return 0, false
}

// StatsFor returns the statistics of metric; false means the metric is
// unavailable in this baseline.
func (m *Model) StatsFor(metric water.Metric) (Stat, bool) {
	if metric < 0 || int(metric) >= len(m.stats) {
		return Stat{}, false
	}
	return m.stats[metric], m.available[metric]
}

// Outlier reports whether point ([acidity, turbidity, temperature]) is a
// joint-distribution outlier.
func (m *Model) Outlier(point []float64) bool {
	out, err := m.pattern.IsOutlier(point)
	return err == nil && out
}

// Pattern exposes the fitted pattern detector.
func (m *Model) Pattern() detectors.StreamDetector {
	return m.pattern
}

// Diurnal returns the day/night oxygen split.
func (m *Model) Diurnal() Diurnal {
	return m.diurnal
}

// Size returns the number of reference readings the model was fitted on.
func (m *Model) Size() int {
	return m.size
}

// FittedAt returns when the model was fitted.
func (m *Model) FittedAt() time.Time {
	return m.fittedAt
}

// Summary is a JSON-friendly description of a Model.
type Summary struct {
	Stats     map[string]*Stat `json:"stats"`
	Diurnal   Diurnal          `json:"diurnal"`
	Size      int              `json:"size"`
	TrainRows int              `json:"train_rows"`
	Threshold float64          `json:"pattern_threshold"`
	Config    detectors.Config `json:"pattern_config"`
	FittedAt  time.Time        `json:"fitted_at"`
}

// Summary describes the model. Unavailable metrics map to nil.
func (m *Model) Summary() Summary {
	s := Summary{
		Stats:     make(map[string]*Stat, len(metricSlots)),
		Diurnal:   m.diurnal,
		Size:      m.size,
		TrainRows: m.trainRows,
		Threshold: m.pattern.Threshold(),
		Config:    m.config,
		FittedAt:  m.fittedAt,
	}
	for i, metric := range metricSlots {
		if m.available[i] {
			st := m.stats[i]
			s.Stats[metric.String()] = &st
		} else {
			s.Stats[metric.String()] = nil
		}
	}
	return s
}
