// Package water defines the value types shared by the detection packages:
// readings, metrics, severities and verdicts.
package water

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Metric identifies one sensed quantity of a reading.
type Metric int

const (
	Acidity Metric = iota
	Turbidity
	Temperature
	DissolvedOxygen
)

// Metrics lists every metric in report order.
var Metrics = []Metric{Acidity, Turbidity, Temperature, DissolvedOxygen}

// PatternMetrics are the metrics that are always present and feed the
// multivariate outlier model, in feature-vector order.
var PatternMetrics = []Metric{Acidity, Turbidity, Temperature}

var metricLabels = [...]string{"ph", "turbidity", "temperature", "do_level"}

// String returns the label used in reasons and column headers.
func (m Metric) String() string {
	if m < 0 || int(m) >= len(metricLabels) {
		return fmt.Sprintf("metric(%d)", int(m))
	}
	return metricLabels[m]
}

// ParseMetric maps a column label back to its metric.
func ParseMetric(label string) (Metric, bool) {
	for i, l := range metricLabels {
		if l == label {
			return Metric(i), true
		}
	}
	return 0, false
}

// Reading is one water-quality sample. Missing values inside a reference set
// are encoded as NaN.
type Reading struct {
	Acidity         float64   `json:"ph"`
	Turbidity       float64   `json:"turbidity"`
	Temperature     float64   `json:"temperature"`
	DissolvedOxygen float64   `json:"do_level"`
	Timestamp       time.Time `json:"timestamp,omitempty"`
	Hour            *int      `json:"hour,omitempty"`
}

// Value returns the reading's value for m.
func (r Reading) Value(m Metric) float64 {
	switch m {
	case Acidity:
		return r.Acidity
	case Turbidity:
		return r.Turbidity
	case Temperature:
		return r.Temperature
	case DissolvedOxygen:
		return r.DissolvedOxygen
	}
	return math.NaN()
}

// With returns a copy of r with m set to v.
func (r Reading) With(m Metric, v float64) Reading {
	switch m {
	case Acidity:
		r.Acidity = v
	case Turbidity:
		r.Turbidity = v
	case Temperature:
		r.Temperature = v
	case DissolvedOxygen:
		r.DissolvedOxygen = v
	}
	return r
}

// Vector returns the pattern feature vector [acidity, turbidity, temperature].
func (r Reading) Vector() []float64 {
	return []float64{r.Acidity, r.Turbidity, r.Temperature}
}

// HasTimestamp reports whether the reading carries a timestamp.
func (r Reading) HasTimestamp() bool {
	return !r.Timestamp.IsZero()
}

// Validate checks a reading submitted for detection. Every field must be a
// finite number and the optional hour must be in [0,23].
func (r Reading) Validate() error {
	for _, m := range Metrics {
		v := r.Value(m)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s must be a finite number", m)
		}
	}
	if r.Hour != nil && (*r.Hour < 0 || *r.Hour > 23) {
		return errors.New("hour must be between 0 and 23")
	}
	return nil
}

// Equal reports whether every measured field of r and o is bit-for-bit identical.
func (r Reading) Equal(o Reading) bool {
	for _, m := range Metrics {
		if math.Float64bits(r.Value(m)) != math.Float64bits(o.Value(m)) {
			return false
		}
	}
	return true
}
