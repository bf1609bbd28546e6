// Package events runs the bank of heuristic event detectors over a reading,
// its recent history and caller context.
//
// The catalog is fixed: every call to Detect evaluates every detector in
// Catalog order and returns exactly one Flag per detector, triggered or not.
package events

import (
	"fmt"
	"math"

	"github.com/hed1ad/lakeguard/pkg/baseline"
	"github.com/hed1ad/lakeguard/pkg/trend"
	"github.com/hed1ad/lakeguard/pkg/water"
)

// Flag names in catalog order.
const (
	PollutedInflow      = "Sudden polluted inflow"
	HeavyRainTurbidity  = "Heavy rain turbidity response"
	AeratorFailure      = "Aerator failure risk"
	SensorDrift         = "Sensor drift"
	SensorMalfunction   = "Sensor malfunction"
	DiurnalCycle        = "Night vs day chemistry cycle"
	FishMortality       = "Fish mortality prediction"
	OxygenBelowThree    = "DO < 3 mg/L"
	HeatStressLowOxygen = "High temperature stress + low DO"
	BloomTemperature    = "Algae bloom - high temperature"
	BloomAcidity        = "Algae bloom - high pH"
	BloomOxygen         = "Algae bloom - low DO pattern"
	BloomMultivariate   = "Algae bloom - multivariate trigger"
	SedimentDisturbance = "Clogging / sediment disturbance"
	AcidityShift        = "pH anomaly shift"
	AcidSpill           = "Industrial acid spill signature"
	SensorJump          = "Sensor anomaly jump"
)

// NoEventsSummary is the summary line when nothing triggered.
const NoEventsSummary = "No acute events detected; continue routine monitoring."

const (
	criticalOxygenMgL    = 3.0
	bloomAcidityFloor    = 8.3
	heavyRainMM          = 15.0
	oxygenTrendWindow    = 5
	driftWindow          = 6
	minFrozenHistory     = 2
	acidityPhysicalMin   = 4.0
	acidityPhysicalMax   = 10.0
	diurnalGapTolerance  = 0.75
	driftTemperatureFlat = 0.2
	driftAcidityFlat     = 0.05
)

// Context carries the caller-supplied conditions of a measurement.
type Context struct {
	RainfallMM float64 `json:"rainfall_mm"`
	// Hour overrides Reading.Hour when set.
	Hour *int `json:"measurement_hour,omitempty"`
}

// Flag is the outcome of one detector.
type Flag struct {
	Name      string         `json:"name"`
	Triggered bool           `json:"triggered"`
	Severity  water.Severity `json:"severity"`
	Reason    string         `json:"reason"`
}

// Report is the ordered flag list plus the human readable summary.
type Report struct {
	Flags   []Flag   `json:"flags"`
	Summary []string `json:"summary"`
}

// Triggered returns the flags that fired.
func (r Report) Triggered() []Flag {
	var out []Flag
	for _, f := range r.Flags {
		if f.Triggered {
			out = append(out, f)
		}
	}
	return out
}

// Flag returns the flag called name.
func (r Report) Flag(name string) (Flag, bool) {
	for _, f := range r.Flags {
		if f.Name == name {
			return f, true
		}
	}
	return Flag{}, false
}

// Input is everything a detector may look at. Derived signals shared by
// several detectors are computed once in NewInput.
type Input struct {
	Reading water.Reading
	History []water.Reading
	Rain    float64
	Hour    int
	HasHour bool

	Acidity     baseline.Stat
	Turbidity   baseline.Stat
	Temperature baseline.Stat
	Oxygen      baseline.Stat
	OxygenOK    bool
	Diurnal     baseline.Diurnal

	OxygenTrend    float64
	OxygenCritical bool
	Malfunction    bool
	BloomTemp      bool
	BloomAcidity   bool
	BloomOxygen    bool
}

// NewInput resolves the baseline statistics and the shared signals.
func NewInput(r water.Reading, history []water.Reading, m *baseline.Model, c Context) *Input {
	in := &Input{
		Reading: r,
		History: history,
		Rain:    c.RainfallMM,
		Diurnal: m.Diurnal(),
	}
	in.Acidity, _ = m.StatsFor(water.Acidity)
	in.Turbidity, _ = m.StatsFor(water.Turbidity)
	in.Temperature, _ = m.StatsFor(water.Temperature)
	in.Oxygen, in.OxygenOK = m.StatsFor(water.DissolvedOxygen)

	hour := r.Hour
	if c.Hour != nil {
		hour = c.Hour
	}
	if hour != nil && *hour >= 0 && *hour <= 23 {
		in.Hour, in.HasHour = *hour, true
	}

	if len(history) > 0 {
		in.OxygenTrend = trend.Slope(trend.Tail(history, oxygenTrendWindow), water.DissolvedOxygen)
	}
	in.OxygenCritical = r.DissolvedOxygen <= criticalOxygenMgL || in.oxygenBelow(2)
	in.Malfunction = r.Acidity < acidityPhysicalMin || r.Acidity > acidityPhysicalMax ||
		r.Turbidity < 0 || frozen(history)
	in.BloomTemp = r.Temperature > in.Temperature.Upper(0.75)
	in.BloomAcidity = r.Acidity > math.Max(in.Acidity.Upper(0.8), bloomAcidityFloor)
	in.BloomOxygen = in.oxygenBelow(0.75) || in.OxygenTrend < -0.3
	return in
}

// oxygenBelow reports DO < mean-k*std; false without an oxygen baseline.
func (in *Input) oxygenBelow(k float64) bool {
	return in.OxygenOK && in.Reading.DissolvedOxygen < in.Oxygen.Lower(k)
}

func (in *Input) oxygenUnderMean() bool {
	return in.OxygenOK && in.Reading.DissolvedOxygen < in.Oxygen.Mean
}

// turbidityJump returns the rise over the previous reading; false without history.
func (in *Input) turbidityJump() (float64, bool) {
	if len(in.History) == 0 {
		return 0, false
	}
	return in.Reading.Turbidity - in.History[len(in.History)-1].Turbidity, true
}

func frozen(history []water.Reading) bool {
	if len(history) < minFrozenHistory {
		return false
	}
	for _, h := range history[1:] {
		if !h.Equal(history[0]) {
			return false
		}
	}
	return true
}

// Detector evaluates one catalog entry.
type Detector func(in *Input) Flag

// Catalog lists every detector in report order.
var Catalog = []Detector{
	pollutedInflow,
	heavyRain,
	aeratorFailure,
	sensorDrift,
	sensorMalfunction,
	diurnalCycle,
	fishMortality,
	oxygenBelowThree,
	heatStress,
	bloomTemperature,
	bloomAcidity,
	bloomOxygen,
	bloomMultivariate,
	sediment,
	acidityShift,
	acidSpill,
	sensorJump,
}

// Detect runs the whole catalog.
func Detect(r water.Reading, history []water.Reading, m *baseline.Model, c Context) Report {
	return Run(NewInput(r, history, m, c))
}

// Run evaluates the catalog against a prepared input.
func Run(in *Input) Report {
	rep := Report{Flags: make([]Flag, 0, len(Catalog))}
	for _, d := range Catalog {
		f := d(in)
		rep.Flags = append(rep.Flags, f)
		if f.Triggered {
			rep.Summary = append(rep.Summary, f.Name+": "+f.Reason)
		}
	}
	if len(rep.Summary) == 0 {
		rep.Summary = []string{NoEventsSummary}
	}
	return rep
}

func flag(name string, triggered bool, sev water.Severity, yes, no string) Flag {
	if !triggered {
		return Flag{Name: name, Severity: water.SeverityNone, Reason: no}
	}
	return Flag{Name: name, Triggered: true, Severity: sev, Reason: yes}
}

func pollutedInflow(in *Input) Flag {
	r := in.Reading
	hit := r.Turbidity > in.Turbidity.Upper(2) || r.Acidity < in.Acidity.Lower(2)
	if jump, ok := in.turbidityJump(); ok && jump > in.Turbidity.StdDev {
		hit = true
	}
	return flag(PollutedInflow, hit, water.SeverityHigh,
		"Turbidity/pH deviated sharply from baseline envelope", "Within baseline dispersion")
}

func heavyRain(in *Input) Flag {
	hit := in.Rain >= heavyRainMM && in.Reading.Turbidity > in.Turbidity.Upper(1)
	return flag(HeavyRainTurbidity, hit, water.SeverityMedium,
		fmt.Sprintf("%g mm rain + elevated turbidity", in.Rain), "No rain-driven turbidity signature")
}

func aeratorFailure(in *Input) Flag {
	hit := (in.oxygenBelow(1.5) && in.Reading.Temperature > in.Temperature.Upper(0.5)) ||
		(in.OxygenTrend < -0.2 && in.oxygenUnderMean())
	return flag(AeratorFailure, hit, water.SeverityHigh,
		"DO slumping alongside warming column; probable aerator outage", "DO stable; no outage signature")
}

func sensorDrift(in *Input) Flag {
	if len(in.History) == 0 {
		return flag(SensorDrift, false, water.SeverityLow, "", "No history to assess drift")
	}
	window := trend.Tail(in.History, driftWindow)
	tempSlope := trend.Slope(window, water.Temperature)
	aciditySlope := trend.Slope(window, water.Acidity)
	hit := math.Abs(tempSlope) < driftTemperatureFlat &&
		math.Abs(aciditySlope) < driftAcidityFlat &&
		math.Abs(in.Reading.Temperature-in.History[0].Temperature) > 0.5*in.Temperature.StdDev
	return flag(SensorDrift, hit, water.SeverityLow,
		"Slow monotonic offset suggests sensor drift", "No drift signature")
}

func sensorMalfunction(in *Input) Flag {
	return flag(SensorMalfunction, in.Malfunction, water.SeverityHigh,
		"Impossible chemistry or frozen sensor stream", "Values within physical range")
}

func diurnalCycle(in *Input) Flag {
	switch {
	case !in.HasHour:
		return flag(DiurnalCycle, false, water.SeverityMedium, "", "Hour not provided")
	case !in.Diurnal.Available:
		return flag(DiurnalCycle, false, water.SeverityMedium, "", "No day/night oxygen baseline")
	}
	deviation := in.Reading.DissolvedOxygen - in.Diurnal.Expected(in.Hour)
	hit := math.Abs(deviation) > math.Abs(in.Diurnal.Gap())*diurnalGapTolerance
	period := "night"
	if baseline.IsDaytime(in.Hour) {
		period = "day"
	}
	return flag(DiurnalCycle, hit, water.SeverityMedium,
		fmt.Sprintf("DO deviated %.2f mg/L from typical %s level", deviation, period), "Within expected diurnal band")
}

func fishMortality(in *Input) Flag {
	hit := in.OxygenCritical || (in.OxygenTrend < -0.4 && in.oxygenBelow(1))
	return flag(FishMortality, hit, water.SeverityHigh,
		"Critical dissolved oxygen collapse; fish kill likely", "DO within survivable band")
}

func oxygenBelowThree(in *Input) Flag {
	return flag(OxygenBelowThree, in.Reading.DissolvedOxygen <= criticalOxygenMgL, water.SeverityHigh,
		"DO reading below 3 mg/L survival threshold", "Above 3 mg/L")
}

func heatStress(in *Input) Flag {
	hit := in.Reading.Temperature > in.Temperature.Upper(1) && (in.oxygenBelow(1) || in.OxygenCritical)
	return flag(HeatStressLowOxygen, hit, water.SeverityHigh,
		"Warming water with concurrent oxygen slump", "No combined heat/DO stress signature")
}

func bloomTemperature(in *Input) Flag {
	return flag(BloomTemperature, in.BloomTemp, water.SeverityMedium,
		"Thermally favorable conditions for bloom", "Temperature within normal band")
}

func bloomAcidity(in *Input) Flag {
	return flag(BloomAcidity, in.BloomAcidity, water.SeverityMedium,
		"pH elevated into bloom-favoring range", "pH near baseline")
}

func bloomOxygen(in *Input) Flag {
	return flag(BloomOxygen, in.BloomOxygen, water.SeverityMedium,
		"Oxygen deficit consistent with bloom respiration", "No bloom-driven DO depletion")
}

func bloomMultivariate(in *Input) Flag {
	n := 0
	for _, s := range []bool{in.BloomTemp, in.BloomAcidity, in.BloomOxygen} {
		if s {
			n++
		}
	}
	return flag(BloomMultivariate, n >= 2, water.SeverityHigh,
		"Multiple bloom drivers aligned (temp/pH/DO)", "No combined bloom signature")
}

func sediment(in *Input) Flag {
	hit := in.Reading.Turbidity > in.Turbidity.Upper(2.5)
	if jump, ok := in.turbidityJump(); ok && jump > 1.5*in.Turbidity.StdDev {
		hit = true
	}
	return flag(SedimentDisturbance, hit, water.SeverityMedium,
		"Sudden turbidity peak suggests resuspension/clogging", "Turbidity stable")
}

func acidityShift(in *Input) Flag {
	hit := math.Abs(in.Reading.Acidity-in.Acidity.Mean) > 1.5*in.Acidity.StdDev
	return flag(AcidityShift, hit, water.SeverityMedium,
		"pH deviated sharply from baseline; possible industrial discharge", "pH within normal envelope")
}

func acidSpill(in *Input) Flag {
	hit := in.Reading.Acidity < in.Acidity.Lower(2) && in.Reading.Turbidity > in.Turbidity.Upper(1)
	return flag(AcidSpill, hit, water.SeverityHigh,
		"Sharp pH drop with turbidity spike aligns with acid discharge", "No acid spill signature")
}

// sensorJump is suppressed while the malfunction flag is up.
func sensorJump(in *Input) Flag {
	if in.Malfunction {
		return flag(SensorJump, false, water.SeverityMedium, "", "Suppressed by sensor malfunction")
	}
	jump, ok := in.turbidityJump()
	if !ok {
		return flag(SensorJump, false, water.SeverityMedium, "", "No previous reading to compare")
	}
	return flag(SensorJump, math.Abs(jump) > 3*in.Turbidity.StdDev, water.SeverityMedium,
		"Sudden multi-sigma jump beyond instrument noise", "Jump within instrument noise")
}
