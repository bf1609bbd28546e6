package iforest

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/lakeguard/pkg/detectors"
)

func TestNewIsolationForest(t *testing.T) {
	tests := []struct {
		name              string
		opts              []Option
		wantNTrees        int
		wantContamination float64
	}{
		{
			name:              "default configuration",
			opts:              nil,
			wantNTrees:        200,
			wantContamination: 0.03,
		},
		{
			name:              "custom trees",
			opts:              []Option{WithTrees(50)},
			wantNTrees:        50,
			wantContamination: 0.03,
		},
		{
			name:              "multiple options",
			opts:              []Option{WithTrees(100), WithContamination(0.05), WithSeed(123)},
			wantNTrees:        100,
			wantContamination: 0.05,
		},
		{
			name:              "config keeps defaults for zero fields",
			opts:              []Option{WithConfig(detectors.Config{Trees: 10, RandomSeed: 7})},
			wantNTrees:        10,
			wantContamination: 0.03,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.opts...)
			assert.Equal(t, tt.wantNTrees, f.Trees())
			assert.Equal(t, tt.wantContamination, f.Contamination())
		})
	}
}

func TestFit(t *testing.T) {
	tests := []struct {
		name    string
		data    [][]float64
		wantErr bool
	}{
		{
			name:    "empty data",
			data:    [][]float64{},
			wantErr: true,
		},
		{
			name:    "ragged rows",
			data:    [][]float64{{1, 2, 3}, {1, 2}},
			wantErr: true,
		},
		{
			name:    "single sample",
			data:    [][]float64{{1.0, 2.0, 3.0}},
			wantErr: false,
		},
		{
			name:    "normal data",
			data:    generateTestData(rand.New(rand.NewSource(1)), 100, 3),
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(WithTrees(10), WithSeed(42))
			err := f.Fit(tt.data)

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.True(t, f.trained)
				assert.Len(t, f.trees, f.cfg.Trees)
			}
		})
	}
}

func TestSingleSampleIsNeverOutlier(t *testing.T) {
	f := New(WithTrees(5))
	require.NoError(t, f.Fit([][]float64{{7, 20, 22}}))

	out, err := f.IsOutlier([]float64{100, 100, 100})
	require.NoError(t, err)
	assert.False(t, out)
}

func TestPredict(t *testing.T) {
	trainData := generateTestData(rand.New(rand.NewSource(2)), 500, 3)
	f := New(WithTrees(50), WithSampleSize(100), WithSeed(42))
	require.NoError(t, f.Fit(trainData))

	t.Run("predict on normal data", func(t *testing.T) {
		testData := generateTestData(rand.New(rand.NewSource(3)), 100, 3)
		scores, err := f.Predict(testData)

		require.NoError(t, err)
		assert.Len(t, scores, len(testData))

		for _, score := range scores {
			assert.GreaterOrEqual(t, score, 0.0)
			assert.LessOrEqual(t, score, 1.0)
		}
	})

	t.Run("predict on anomalies", func(t *testing.T) {
		anomalies := [][]float64{
			{1000, 1000, 1000},
			{-500, -500, -500},
		}
		scores, err := f.Predict(anomalies)

		require.NoError(t, err)
		for i, score := range scores {
			assert.Greater(t, score, f.Threshold(), "anomalies should score above the threshold")
			out, err := f.IsOutlier(anomalies[i])
			require.NoError(t, err)
			assert.True(t, out)
		}
	})

	t.Run("center is not an outlier", func(t *testing.T) {
		out, err := f.IsOutlier([]float64{0, 0, 0})
		require.NoError(t, err)
		assert.False(t, out)
	})

	t.Run("predict before fit", func(t *testing.T) {
		untrained := New()
		_, err := untrained.Predict(trainData)
		assert.ErrorIs(t, err, ErrNotTrained)
		_, err = untrained.IsOutlier(trainData[0])
		assert.ErrorIs(t, err, ErrNotTrained)
	})
}

func TestContaminationFraction(t *testing.T) {
	data := generateTestData(rand.New(rand.NewSource(4)), 2000, 3)
	f := New(WithSeed(42))
	require.NoError(t, f.Fit(data))

	flagged := 0
	for _, row := range data {
		out, err := f.IsOutlier(row)
		require.NoError(t, err)
		if out {
			flagged++
		}
	}

	fraction := float64(flagged) / float64(len(data))
	assert.InDelta(t, 0.03, fraction, 0.005)
}

func TestContaminationDisabled(t *testing.T) {
	data := generateTestData(rand.New(rand.NewSource(4)), 500, 3)

	tests := []struct {
		name          string
		opts          []Option
		wantQuantile  bool
		contamination float64
	}{
		{
			name:          "zero config field keeps the quantile cut",
			opts:          []Option{WithContamination(0.1), WithConfig(detectors.Config{Trees: 20, RandomSeed: 1})},
			wantQuantile:  true,
			contamination: 0.1,
		},
		{
			name:          "explicit zero contamination",
			opts:          []Option{WithConfig(detectors.Config{Trees: 20, RandomSeed: 1}), WithContamination(0)},
			contamination: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.opts...)
			require.NoError(t, f.Fit(data))
			assert.Equal(t, tt.contamination, f.Contamination())
			if tt.wantQuantile {
				assert.NotEqual(t, 0.5, f.Threshold())
				return
			}
			assert.Equal(t, 0.5, f.Threshold())
		})
	}
}

func TestFitIsDeterministic(t *testing.T) {
	data := generateTestData(rand.New(rand.NewSource(5)), 300, 3)
	samples := generateTestData(rand.New(rand.NewSource(6)), 20, 3)

	a := New(WithTrees(30), WithSeed(9))
	b := New(WithTrees(30), WithSeed(9))
	require.NoError(t, a.Fit(data))
	require.NoError(t, b.Fit(data))

	sa, err := a.Predict(samples)
	require.NoError(t, err)
	sb, err := b.Predict(samples)
	require.NoError(t, err)
	assert.Equal(t, sa, sb)
	assert.Equal(t, a.Threshold(), b.Threshold())

	// refitting the same instance reproduces the same forest
	require.NoError(t, a.Fit(data))
	again, err := a.Predict(samples)
	require.NoError(t, err)
	assert.Equal(t, sa, again)
}

func TestPredictOne(t *testing.T) {
	trainData := generateTestData(rand.New(rand.NewSource(7)), 200, 3)
	f := New(WithTrees(20), WithSeed(42))
	require.NoError(t, f.Fit(trainData))

	score, err := f.PredictOne([]float64{0.5, 0.5, 0.5})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 1.0)
}

func TestPredictStream(t *testing.T) {
	trainData := generateTestData(rand.New(rand.NewSource(8)), 200, 3)
	f := New(WithTrees(20), WithSeed(42))
	require.NoError(t, f.Fit(trainData))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	input := make(chan []float64, 10)
	output := make(chan detectors.Score, 10)

	errc := make(chan error, 1)
	go func() {
		errc <- f.PredictStream(ctx, input, output)
	}()

	testSamples := [][]float64{
		{0.5, 0.5, 0.5},
		{100, 100, 100}, // anomaly
		{0.3, 0.3, 0.3},
	}

	go func() {
		for _, sample := range testSamples {
			input <- sample
		}
		close(input)
	}()

	results := make([]detectors.Score, 0, len(testSamples))
	for score := range output {
		results = append(results, score)
	}

	require.NoError(t, <-errc)
	require.Len(t, results, len(testSamples))
	assert.True(t, results[1].IsAnomaly)
}

func TestSaveLoad(t *testing.T) {
	trainData := generateTestData(rand.New(rand.NewSource(10)), 200, 3)
	original := New(WithTrees(30), WithContamination(0.15), WithSeed(42))
	require.NoError(t, original.Fit(trainData))

	testData := generateTestData(rand.New(rand.NewSource(11)), 50, 3)
	originalScores, err := original.Predict(testData)
	require.NoError(t, err)

	data, err := original.Save()
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	loaded := New()
	require.NoError(t, loaded.Load(data))

	loadedScores, err := loaded.Predict(testData)
	require.NoError(t, err)

	assert.Equal(t, originalScores, loadedScores)
	assert.Equal(t, original.Threshold(), loaded.Threshold())
	assert.Equal(t, 0.15, loaded.Contamination())
}

func TestSaveBeforeFit(t *testing.T) {
	_, err := New().Save()
	assert.ErrorIs(t, err, ErrNotTrained)
}

func TestLoadRejectsGarbage(t *testing.T) {
	f := New()
	assert.Error(t, f.Load([]byte("not a forest")))
	_, err := f.PredictOne([]float64{1, 2, 3})
	assert.ErrorIs(t, err, ErrNotTrained)
}

func TestPathLength(t *testing.T) {
	tree := &node{
		Feature: 0,
		Split:   5,
		Left:    &node{Size: 1},
		Right: &node{
			Feature: 1,
			Split:   0,
			Left:    &node{Size: 2},
			Right:   &node{Size: 4},
		},
	}

	tests := []struct {
		name   string
		sample []float64
		want   float64
	}{
		{name: "isolated at depth one", sample: []float64{1, 0}, want: 1},
		{name: "leaf of two", sample: []float64{9, -1}, want: 2 + averagePathLength(2)},
		{name: "leaf of four", sample: []float64{9, 1}, want: 2 + averagePathLength(4)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, pathLength(tt.sample, tree), 1e-12)
		})
	}
}

func BenchmarkFit(b *testing.B) {
	data := generateTestData(rand.New(rand.NewSource(1)), 10000, 3)
	f := New()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = f.Fit(data)
	}
}

func BenchmarkPredictOne(b *testing.B) {
	trainData := generateTestData(rand.New(rand.NewSource(1)), 5000, 3)
	sample := []float64{0.1, -0.2, 0.3}

	f := New()
	_ = f.Fit(trainData)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = f.PredictOne(sample)
	}
}

func generateTestData(rng *rand.Rand, n, features int) [][]float64 {
	data := make([][]float64, n)
	for i := 0; i < n; i++ {
		data[i] = make([]float64, features)
		for j := 0; j < features; j++ {
			data[i][j] = rng.NormFloat64()
		}
	}
	return data
}
