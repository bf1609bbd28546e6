// Package detectors provides unsupervised outlier detection algorithms over
// fixed-width feature vectors.
package detectors

import "context"

// Detector is the common interface for the multivariate outlier models.
type Detector interface {
	// Fit trains the detector on reference data.
	// data is a 2D slice where each row is a sample and each column is a feature.
	Fit(data [][]float64) error

	// Predict returns anomaly scores for the given samples.
	// Scores are normalized to [0, 1] where higher values indicate anomalies.
	Predict(data [][]float64) ([]float64, error)

	// PredictOne returns the anomaly score for a single sample.
	PredictOne(sample []float64) (float64, error)

	// IsOutlier reports whether a sample scores above the fitted threshold.
	IsOutlier(sample []float64) (bool, error)

	// Save serializes the trained model to bytes.
	Save() ([]byte, error)

	// Load deserializes a trained model from bytes.
	Load(data []byte) error
}

// StreamDetector extends Detector with streaming capabilities.
type StreamDetector interface {
	Detector

	// PredictStream processes samples from a channel and outputs scores.
	PredictStream(ctx context.Context, input <-chan []float64, output chan<- Score) error
}

// Score represents an outlier detection result.
type Score struct {
	// Value is the anomaly score in [0, 1].
	Value float64
	// IsAnomaly indicates if the score exceeds the threshold.
	IsAnomaly bool
	// Features contains the original input features.
	Features []float64
}

// Config holds common configuration for detectors.
type Config struct {
	// Trees is the ensemble size.
	Trees int `mapstructure:"trees" json:"trees"`
	// SampleSize is the per-tree subsample size, capped at the training size.
	SampleSize int `mapstructure:"sample-size" json:"sampleSize"`
	// Contamination is the expected proportion of outliers in training data.
	Contamination float64 `mapstructure:"contamination" json:"contamination"`
	// RandomSeed for reproducibility.
	RandomSeed int64 `mapstructure:"seed" json:"seed"`
}

// DefaultConfig returns the pattern model configuration used for water readings.
func DefaultConfig() Config {
	return Config{
		Trees:         200,
		SampleSize:    256,
		Contamination: 0.03,
		RandomSeed:    42,
	}
}
