// Package anomaly grades single-metric deviations against a baseline and
// wraps the multivariate pattern verdict.
package anomaly

import (
	"github.com/hed1ad/lakeguard/pkg/baseline"
	"github.com/hed1ad/lakeguard/pkg/water"
)

const (
	ReasonNotEnoughData = "Not enough data"
	ReasonNormalRange   = "Normal range"
	ReasonPatternAnom   = "Multivariate anomaly detected"
	ReasonPatternNormal = "Normal pattern"
)

// Thresholds of the severity ladder. Comparisons are strict, so a z-score
// sitting exactly on a threshold falls into the lower band.
const (
	HighZ   = 3.0
	MediumZ = 2.0
	LowZ    = 1.5
)

// Classify grades value against stat. ok=false means the metric has no
// baseline and always yields the "Not enough data" verdict.
func Classify(value float64, stat baseline.Stat, ok bool, label string) water.Verdict {
	if !ok {
		return water.NewVerdict(water.SeverityNone, ReasonNotEnoughData)
	}

	return grade(stat.Z(value), label)
}

// grade maps a z-score onto the ladder; the first matching band wins.
func grade(z float64, label string) water.Verdict {
	switch {
	case z > HighZ:
		return water.NewVerdict(water.SeverityHigh, label+" extreme deviation")
	case z > MediumZ:
		return water.NewVerdict(water.SeverityMedium, label+" moderate deviation")
	case z > LowZ:
		return water.NewVerdict(water.SeverityLow, label+" slight deviation")
	}
	return water.NewVerdict(water.SeverityNone, ReasonNormalRange)
}

// PatternVerdict turns the pattern model's boolean into a verdict.
func PatternVerdict(outlier bool) water.Verdict {
	if outlier {
		return water.NewVerdict(water.SeverityHigh, ReasonPatternAnom)
	}
	return water.NewVerdict(water.SeverityNone, ReasonPatternNormal)
}

// Report holds one verdict per metric plus the pattern verdict.
type Report struct {
	Acidity         water.Verdict `json:"ph_anomaly"`
	Turbidity       water.Verdict `json:"turbidity_anomaly"`
	Temperature     water.Verdict `json:"temperature_anomaly"`
	DissolvedOxygen water.Verdict `json:"do_anomaly"`
	Pattern         water.Verdict `json:"pattern_anomaly"`
}

// Metric returns the verdict for m.
func (r Report) Metric(m water.Metric) water.Verdict {
	switch m {
	case water.Acidity:
		return r.Acidity
	case water.Turbidity:
		return r.Turbidity
	case water.Temperature:
		return r.Temperature
	}
	return r.DissolvedOxygen
}

// Anomalous reports whether any verdict in the report is anomalous.
func (r Report) Anomalous() bool {
	for _, m := range water.Metrics {
		if r.Metric(m).IsAnomaly {
			return true
		}
	}
	return r.Pattern.IsAnomaly
}

// Detect classifies every metric of r and scores its pattern against m.
func Detect(r water.Reading, m *baseline.Model) Report {
	classify := func(metric water.Metric) water.Verdict {
		stat, ok := m.StatsFor(metric)
		return Classify(r.Value(metric), stat, ok, metric.String())
	}
	return Report{
		Acidity:         classify(water.Acidity),
		Turbidity:       classify(water.Turbidity),
		Temperature:     classify(water.Temperature),
		DissolvedOxygen: classify(water.DissolvedOxygen),
		Pattern:         PatternVerdict(m.Outlier(r.Vector())),
	}
}
