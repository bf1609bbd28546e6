package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/hed1ad/lakeguard/pkg/events"
	"github.com/hed1ad/lakeguard/pkg/water"
)

// readingPayload mirrors water.Reading with every measurement required.
type readingPayload struct {
	Acidity         *float64  `json:"ph"`
	Turbidity       *float64  `json:"turbidity"`
	Temperature     *float64  `json:"temperature"`
	DissolvedOxygen *float64  `json:"do_level"`
	Timestamp       time.Time `json:"timestamp"`
	Hour            *int      `json:"hour"`
}

func (p *readingPayload) reading() (water.Reading, error) {
	fields := []struct {
		name string
		v    *float64
	}{
		{"ph", p.Acidity},
		{"turbidity", p.Turbidity},
		{"temperature", p.Temperature},
		{"do_level", p.DissolvedOxygen},
	}
	for _, f := range fields {
		if f.v == nil {
			return water.Reading{}, fmt.Errorf("%s: field required", f.name)
		}
	}
	r := water.Reading{
		Acidity:         *p.Acidity,
		Turbidity:       *p.Turbidity,
		Temperature:     *p.Temperature,
		DissolvedOxygen: *p.DissolvedOxygen,
		Timestamp:       p.Timestamp,
		Hour:            p.Hour,
	}
	return r, r.Validate()
}

// eventRequest is the body of /api/event-detection and /api/detect.
type eventRequest struct {
	Reading          *readingPayload  `json:"reading"`
	PreviousReadings []readingPayload `json:"previous_readings"`
	RainfallMM       float64          `json:"rainfall_mm"`
	MeasurementHour  *int             `json:"measurement_hour"`
	UseStoredHistory bool             `json:"use_stored_history"`
}

type eventInput struct {
	reading     water.Reading
	history     []water.Reading
	hasHistory  bool
	wantsStored bool
	ctx         events.Context
}

func (req *eventRequest) input() (eventInput, error) {
	if req.Reading == nil {
		return eventInput{}, errors.New("reading: field required")
	}
	r, err := req.Reading.reading()
	if err != nil {
		return eventInput{}, fmt.Errorf("reading: %w", err)
	}
	if h := req.MeasurementHour; h != nil && (*h < 0 || *h > 23) {
		return eventInput{}, errors.New("measurement_hour must be between 0 and 23")
	}
	if req.RainfallMM < 0 {
		return eventInput{}, errors.New("rainfall_mm must not be negative")
	}

	in := eventInput{
		reading:     r,
		hasHistory:  req.PreviousReadings != nil,
		wantsStored: req.UseStoredHistory,
		ctx:         events.Context{RainfallMM: req.RainfallMM, Hour: req.MeasurementHour},
	}
	for i := range req.PreviousReadings {
		h, err := req.PreviousReadings[i].reading()
		if err != nil {
			return eventInput{}, fmt.Errorf("previous_readings[%d]: %w", i, err)
		}
		in.history = append(in.history, h)
	}
	return in, nil
}
