// Package iforest implements the Isolation Forest algorithm for multivariate
// outlier detection.
package iforest

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"math"
	"math/rand"
	"sort"
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/hed1ad/lakeguard/pkg/detectors"
)

// ErrNotTrained is returned by scoring calls made before Fit or Load.
var ErrNotTrained = errors.New("model not trained")

// eulerGamma approximates the harmonic number H(n) as ln(n) + γ.
const eulerGamma = 0.5772156649

// IsolationForest isolates outliers with an ensemble of random partition trees.
// It is safe for concurrent scoring; Fit and Load take the write lock.
type IsolationForest struct {
	mu sync.RWMutex

	cfg       detectors.Config
	threshold float64

	trees   []*node
	trained bool
	// norm is c(ψ) for the effective subsample size ψ.
	norm   float64
	subset int
}

// node is an isolation tree node. Leaves have no children and record how many
// training rows reached them. Fields are exported for gob.
type node struct {
	Feature int
	Split   float64
	Left    *node
	Right   *node
	Size    int
}

func (n *node) leaf() bool {
	return n.Left == nil && n.Right == nil
}

// Option configures an IsolationForest.
type Option func(*IsolationForest)

// WithTrees sets the number of isolation trees.
func WithTrees(n int) Option {
	return func(f *IsolationForest) {
		f.cfg.Trees = n
	}
}

// WithSampleSize sets the subsample size for each tree.
func WithSampleSize(n int) Option {
	return func(f *IsolationForest) {
		f.cfg.SampleSize = n
	}
}

// WithContamination sets the expected proportion of anomalies.
func WithContamination(c float64) Option {
	return func(f *IsolationForest) {
		f.cfg.Contamination = c
	}
}

// WithSeed sets the random seed for reproducibility.
func WithSeed(seed int64) Option {
	return func(f *IsolationForest) {
		f.cfg.RandomSeed = seed
	}
}

// WithConfig applies a detectors.Config. Zero Trees, SampleSize and
// Contamination keep the current values, so a zero Config never disables the
// contamination threshold; use WithContamination(0) for a fixed 0.5 cut.
// RandomSeed is always applied.
func WithConfig(cfg detectors.Config) Option {
	return func(f *IsolationForest) {
		if cfg.Trees > 0 {
			f.cfg.Trees = cfg.Trees
		}
		if cfg.SampleSize > 0 {
			f.cfg.SampleSize = cfg.SampleSize
		}
		if cfg.Contamination > 0 {
			f.cfg.Contamination = cfg.Contamination
		}
		f.cfg.RandomSeed = cfg.RandomSeed
	}
}

// New creates a forest with the water reading defaults, then applies opts.
func New(opts ...Option) *IsolationForest {
	f := &IsolationForest{cfg: detectors.DefaultConfig(), threshold: 0.5}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fit grows the forest on data. The random source is re-seeded on every call,
// so identical data and seed give an identical forest.
func (f *IsolationForest) Fit(data [][]float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(data) == 0 {
		return errors.New("empty training data")
	}
	if f.cfg.Trees <= 0 {
		return errors.New("number of trees must be positive")
	}
	width := len(data[0])
	for _, row := range data {
		if len(row) != width {
			return errors.New("training rows have inconsistent widths")
		}
	}

	subset := f.cfg.SampleSize
	if subset <= 0 || subset > len(data) {
		subset = len(data)
	}
	f.subset = subset
	f.norm = averagePathLength(float64(subset))

	g := grower{
		rng:      rand.New(rand.NewSource(f.cfg.RandomSeed)),
		data:     data,
		width:    width,
		maxDepth: int(math.Ceil(math.Log2(float64(subset)))),
	}
	f.trees = make([]*node, f.cfg.Trees)
	for i := range f.trees {
		rows := g.rng.Perm(len(data))[:subset]
		f.trees[i] = g.grow(rows, 0)
	}
	f.trained = true

	f.threshold = 0.5
	if c := f.cfg.Contamination; c > 0 && c < 1 {
		scores := make([]float64, len(data))
		for i, row := range data {
			scores[i] = f.score(row)
		}
		sort.Float64s(scores)
		f.threshold = stat.Quantile(1-f.cfg.Contamination, stat.Empirical, scores, nil)
	}
	return nil
}

// grower builds trees over row indices of data, partitioning them in place.
type grower struct {
	rng      *rand.Rand
	data     [][]float64
	width    int
	maxDepth int
}

func (g *grower) grow(rows []int, depth int) *node {
	if depth >= g.maxDepth || len(rows) <= 1 {
		return &node{Size: len(rows)}
	}

	feature := g.rng.Intn(g.width)
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, r := range rows {
		v := g.data[r][feature]
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo == hi {
		return &node{Size: len(rows)}
	}

	split := lo + g.rng.Float64()*(hi-lo)
	mid := 0
	for i, r := range rows {
		if g.data[r][feature] < split {
			rows[i], rows[mid] = rows[mid], rows[i]
			mid++
		}
	}
	return &node{
		Feature: feature,
		Split:   split,
		Left:    g.grow(rows[:mid], depth+1),
		Right:   g.grow(rows[mid:], depth+1),
	}
}

// Predict returns anomaly scores in [0, 1] for the given samples.
func (f *IsolationForest) Predict(data [][]float64) ([]float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, ErrNotTrained
	}
	scores := make([]float64, len(data))
	for i, sample := range data {
		scores[i] = f.score(sample)
	}
	return scores, nil
}

// PredictOne returns the anomaly score for a single sample.
func (f *IsolationForest) PredictOne(sample []float64) (float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return 0, ErrNotTrained
	}
	return f.score(sample), nil
}

// IsOutlier reports whether sample scores strictly above the contamination
// threshold learned during Fit.
func (f *IsolationForest) IsOutlier(sample []float64) (bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return false, ErrNotTrained
	}
	return f.score(sample) > f.threshold, nil
}

// score is 2^(-E[h(x)]/c(ψ)).
func (f *IsolationForest) score(sample []float64) float64 {
	// A single-row forest cannot separate anything.
	if f.norm == 0 {
		return 0.5
	}
	var total float64
	for _, root := range f.trees {
		total += pathLength(sample, root)
	}
	return math.Pow(2, -total/float64(len(f.trees))/f.norm)
}

// pathLength is the depth at which sample lands, plus c(size) for the rows
// the leaf left unseparated.
func pathLength(sample []float64, n *node) float64 {
	depth := 0
	for !n.leaf() {
		if sample[n.Feature] < n.Split {
			n = n.Left
		} else {
			n = n.Right
		}
		depth++
	}
	return float64(depth) + averagePathLength(float64(n.Size))
}

// averagePathLength is c(n), the mean path length of an unsuccessful binary
// search tree lookup over n items.
func averagePathLength(n float64) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	return 2*(math.Log(n-1)+eulerGamma) - 2*(n-1)/n
}

// PredictStream scores samples from input in arrival order until input is
// closed or ctx is done. It closes output on return.
func (f *IsolationForest) PredictStream(ctx context.Context, input <-chan []float64, output chan<- detectors.Score) error {
	defer close(output)

	f.mu.RLock()
	trained := f.trained
	f.mu.RUnlock()
	if !trained {
		return ErrNotTrained
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sample, ok := <-input:
			if !ok {
				return nil
			}

			f.mu.RLock()
			s := detectors.Score{Value: f.score(sample), Features: sample}
			s.IsAnomaly = s.Value > f.threshold
			f.mu.RUnlock()

			select {
			case output <- s:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// state is the persisted form of a trained forest.
type state struct {
	Config    detectors.Config
	Subset    int
	Threshold float64
	Norm      float64
	Trees     []*node
}

// Save serializes the trained model.
func (f *IsolationForest) Save() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, ErrNotTrained
	}
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(state{
		Config:    f.cfg,
		Subset:    f.subset,
		Threshold: f.threshold,
		Norm:      f.norm,
		Trees:     f.trees,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load restores a model written by Save.
func (f *IsolationForest) Load(data []byte) error {
	var s state
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return err
	}
	if len(s.Trees) == 0 {
		return errors.New("saved forest has no trees")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = s.Config
	f.subset = s.Subset
	f.threshold = s.Threshold
	f.norm = s.Norm
	f.trees = s.Trees
	f.trained = true
	return nil
}

// Threshold returns the current anomaly threshold.
func (f *IsolationForest) Threshold() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.threshold
}

// Trees returns the ensemble size.
func (f *IsolationForest) Trees() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cfg.Trees
}

// Contamination returns the configured outlier fraction.
func (f *IsolationForest) Contamination() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cfg.Contamination
}
