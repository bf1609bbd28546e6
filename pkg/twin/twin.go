// Package twin runs what-if scenarios against the reference archive: how
// warming, a pollution slug or rainfall would move the lake away from its
// learned behaviour.
package twin

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/hed1ad/lakeguard/pkg/baseline"
	"github.com/hed1ad/lakeguard/pkg/water"
)

// defaultRecoveryHours is used when the archive holds no completed turbidity
// spike.
const defaultRecoveryHours = 24

// ErrInvalidScenario wraps scenario validation failures.
var ErrInvalidScenario = errors.New("invalid scenario")

// Recovery is the historical turbidity recovery benchmark.
type Recovery struct {
	TypicalHours    float64 `json:"typical_hours"`
	ReferenceSpikes int     `json:"reference_spikes"`
}

// Profile holds the reference statistics the scenarios are projected from.
type Profile struct {
	// TempOxygenSlope is the least squares change in DO per °C.
	TempOxygenSlope float64       `json:"temp_do_slope"`
	TurbidityMedian float64       `json:"turbidity_median"`
	Turbidity       baseline.Stat `json:"turbidity"`
	Acidity         baseline.Stat `json:"ph"`
	Oxygen          baseline.Stat `json:"do_level"`
	Temperature     baseline.Stat `json:"temperature"`
	Recovery        Recovery      `json:"recovery"`
	Samples         int           `json:"samples"`
}

// Learn builds a Profile from refs. Every metric, dissolved oxygen included,
// needs at least two observed values.
func Learn(refs []water.Reading) (*Profile, error) {
	p := &Profile{Samples: len(refs)}
	for _, slot := range []struct {
		metric water.Metric
		dst    *baseline.Stat
	}{
		{water.Acidity, &p.Acidity},
		{water.Turbidity, &p.Turbidity},
		{water.Temperature, &p.Temperature},
		{water.DissolvedOxygen, &p.Oxygen},
	} {
		values := observed(refs, slot.metric)
		if len(values) < 2 {
			return nil, fmt.Errorf("%w: need two %s values, have %d", baseline.ErrInsufficientData, slot.metric, len(values))
		}
		mean, std := stat.MeanStdDev(values, nil)
		*slot.dst = baseline.Stat{Mean: mean, StdDev: std, Count: len(values)}
		if slot.metric == water.Turbidity {
			p.TurbidityMedian = median(values)
		}
	}

	var temps, oxygen []float64
	for _, r := range refs {
		if !math.IsNaN(r.Temperature) && !math.IsNaN(r.DissolvedOxygen) {
			temps = append(temps, r.Temperature)
			oxygen = append(oxygen, r.DissolvedOxygen)
		}
	}
	if len(temps) >= 2 {
		if _, slope := stat.LinearRegression(temps, oxygen, nil, false); !math.IsNaN(slope) {
			p.TempOxygenSlope = slope
		}
	}

	p.Recovery = turbidityRecovery(refs, p.TurbidityMedian+p.Turbidity.StdDev)
	return p, nil
}

// turbidityRecovery measures, for every timestamped row above threshold, the
// hours until the next row back at or below it.
func turbidityRecovery(refs []water.Reading, threshold float64) Recovery {
	rows := make([]water.Reading, 0, len(refs))
	for _, r := range refs {
		if r.HasTimestamp() && !math.IsNaN(r.Turbidity) {
			rows = append(rows, r)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Timestamp.Before(rows[j].Timestamp)
	})

	var durations []float64
	for i, r := range rows {
		if r.Turbidity <= threshold {
			continue
		}
		for _, next := range rows[i+1:] {
			if next.Turbidity <= threshold {
				if hours := next.Timestamp.Sub(r.Timestamp).Hours(); hours > 0 {
					durations = append(durations, hours)
				}
				break
			}
		}
	}
	if len(durations) == 0 {
		return Recovery{TypicalHours: defaultRecoveryHours}
	}
	return Recovery{TypicalHours: median(durations), ReferenceSpikes: len(durations)}
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

// median averages the two middle values of an even-sized set.
func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
