// Package io connects the detector to reading sources and result sinks.
package io

import (
	"context"
	"time"

	"github.com/hed1ad/lakeguard/pkg/water"
)

// ReadingSource is the interface for reading water readings from various
// sources.
type ReadingSource interface {
	// Read returns the complete dataset.
	Read() ([]water.Reading, error)

	// Stream returns a channel of readings for real-time processing.
	Stream(ctx context.Context) (<-chan water.Reading, error)

	// Close releases resources.
	Close() error
}

// ReferenceLoader fetches a reference set on demand, typically for a
// baseline refit.
type ReferenceLoader interface {
	LoadReference(ctx context.Context) ([]water.Reading, error)
}

// Writer is the interface for writing detection results.
type Writer interface {
	// Write outputs a single result.
	Write(result Result) error

	// WriteAll outputs multiple results.
	WriteAll(results []Result) error

	// Close releases resources.
	Close() error
}

// Result is a scored reading.
type Result struct {
	Timestamp time.Time      `json:"timestamp,omitempty"`
	Reading   water.Reading  `json:"reading"`
	Score     float64        `json:"score"`
	IsAnomaly bool           `json:"is_anomaly"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
