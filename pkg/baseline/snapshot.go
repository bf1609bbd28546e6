package baseline

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/hed1ad/lakeguard/pkg/detectors"
	"github.com/hed1ad/lakeguard/pkg/detectors/iforest"
)

type snapshot struct {
	Stats     [len(metricSlots)]Stat
	Available [len(metricSlots)]bool
	Diurnal   Diurnal
	Config    detectors.Config
	Size      int
	TrainRows int
	FittedAt  time.Time
	Pattern   []byte
}

// MarshalBinary encodes the fitted model so it can be shipped to other
// replicas without refitting.
func (m *Model) MarshalBinary() ([]byte, error) {
	pattern, err := m.pattern.Save()
	if err != nil {
		return nil, fmt.Errorf("saving pattern model: %w", err)
	}
	var buf bytes.Buffer
	err = gob.NewEncoder(&buf).Encode(snapshot{
		Stats:     m.stats,
		Available: m.available,
		Diurnal:   m.diurnal,
		Config:    m.config,
		Size:      m.size,
		TrainRows: m.trainRows,
		FittedAt:  m.fittedAt,
		Pattern:   pattern,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode rebuilds a Model from MarshalBinary output.
func Decode(data []byte) (*Model, error) {
	var s snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return nil, fmt.Errorf("decoding baseline snapshot: %w", err)
	}
	pattern := iforest.New()
	if err := pattern.Load(s.Pattern); err != nil {
		return nil, fmt.Errorf("loading pattern model: %w", err)
	}
	return &Model{
		stats:     s.Stats,
		available: s.Available,
		diurnal:   s.Diurnal,
		pattern:   pattern,
		config:    s.Config,
		size:      s.Size,
		trainRows: s.TrainRows,
		fittedAt:  s.FittedAt,
	}, nil
}
