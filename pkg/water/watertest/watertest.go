// Package watertest builds synthetic lake reading sets for tests.
package watertest

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/hed1ad/lakeguard/pkg/water"
)

// Profile describes a normal distribution per metric.
type Profile struct {
	AcidityMean, AcidityStd         float64
	TurbidityMean, TurbidityStd     float64
	TemperatureMean, TemperatureStd float64
	OxygenDayMean, OxygenNightMean  float64
	OxygenStd                       float64
}

// Freshwater is a typical freshwater profile.
var Freshwater = Profile{
	AcidityMean: 7.2, AcidityStd: 0.4,
	TurbidityMean: 150, TurbidityStd: 100,
	TemperatureMean: 22, TemperatureStd: 2,
	OxygenDayMean: 8.5, OxygenNightMean: 7.5,
	OxygenStd: 0.5,
}

// Start is the timestamp of the first generated reading.
var Start = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

// Hourly generates n hourly readings drawn from p with a fixed seed.
func Hourly(p Profile, n int, seed int64) []water.Reading {
	rng := rand.New(rand.NewSource(seed))
	out := make([]water.Reading, n)
	for i := range out {
		ts := Start.Add(time.Duration(i) * time.Hour)
		oxygen := p.OxygenNightMean
		if h := ts.Hour(); h >= 6 && h < 20 {
			oxygen = p.OxygenDayMean
		}
		out[i] = water.Reading{
			Acidity:         p.AcidityMean + rng.NormFloat64()*p.AcidityStd,
			Turbidity:       p.TurbidityMean + rng.NormFloat64()*p.TurbidityStd,
			Temperature:     p.TemperatureMean + rng.NormFloat64()*p.TemperatureStd,
			DissolvedOxygen: oxygen + rng.NormFloat64()*p.OxygenStd,
			Timestamp:       ts,
		}
	}
	return out
}

// Repeat returns n copies of r.
func Repeat(r water.Reading, n int) []water.Reading {
	out := make([]water.Reading, n)
	for i := range out {
		out[i] = r
	}
	return out
}

// Hour returns a pointer to h.
func Hour(h int) *int {
	return &h
}

// CSV renders readings with a timestamp,ph,turbidity,temperature,do_level header.
func CSV(readings []water.Reading) string {
	var b strings.Builder
	b.WriteString("timestamp,ph,turbidity,temperature,do_level\n")
	for _, r := range readings {
		fmt.Fprintf(&b, "%s,%g,%g,%g,%g\n", r.Timestamp.Format(time.RFC3339),
			r.Acidity, r.Turbidity, r.Temperature, r.DissolvedOxygen)
	}
	return b.String()
}
