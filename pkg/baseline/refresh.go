package baseline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/hed1ad/lakeguard/pkg/water"
)

var log = logrus.WithField("component", "baseline")

// ErrNoBaseline is returned by Holder users when nothing has been stored yet.
var ErrNoBaseline = errors.New("no baseline fitted yet")

// Holder publishes the current Model. Readers get the snapshot that was
// current when they called Load and keep it for the whole request.
type Holder struct {
	current atomic.Pointer[Model]
}

// NewHolder returns a holder seeded with m, which may be nil.
func NewHolder(m *Model) *Holder {
	h := &Holder{}
	if m != nil {
		h.current.Store(m)
	}
	return h
}

// Load returns the current model or nil.
func (h *Holder) Load() *Model {
	return h.current.Load()
}

// Swap publishes m and returns the previous model.
func (h *Holder) Swap(m *Model) *Model {
	return h.current.Swap(m)
}

// LoadFunc fetches a fresh reference set.
type LoadFunc func(ctx context.Context) ([]water.Reading, error)

// Refresher periodically refits a Model from a reference source and swaps it
// into a Holder. A failed refit leaves the previous model in place.
type Refresher struct {
	holder   *Holder
	load     LoadFunc
	interval time.Duration
	clock    clock.Clock
	opts     []Option
	onSwap   func(m *Model, took time.Duration)
	onError  func(err error)
}

// NewRefresher creates a refresher. interval <= 0 disables periodic refits;
// Refresh can still be called directly.
func NewRefresher(h *Holder, load LoadFunc, interval time.Duration, c clock.Clock, opts ...Option) *Refresher {
	if c == nil {
		c = clock.New()
	}
	return &Refresher{
		holder:   h,
		load:     load,
		interval: interval,
		clock:    c,
		opts:     append([]Option{WithClock(c)}, opts...),
	}
}

// OnSwap registers a hook called after every successful swap.
func (r *Refresher) OnSwap(fn func(m *Model, took time.Duration)) {
	r.onSwap = fn
}

// OnFailure registers a hook called whenever a refit fails.
func (r *Refresher) OnFailure(fn func(err error)) {
	r.onError = fn
}

// Refresh loads the reference set, fits and publishes a new Model.
func (r *Refresher) Refresh(ctx context.Context) (*Model, error) {
	m, took, err := r.refit(ctx)
	if err != nil {
		if r.onError != nil {
			r.onError(err)
		}
		return nil, err
	}
	r.holder.Swap(m)
	log.WithField("readings", m.Size()).WithField("took", took).Info("baseline refreshed")
	if r.onSwap != nil {
		r.onSwap(m, took)
	}
	return m, nil
}

func (r *Refresher) refit(ctx context.Context) (*Model, time.Duration, error) {
	start := r.clock.Now()
	refs, err := r.load(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("loading reference readings: %w", err)
	}
	m, err := Fit(refs, r.opts...)
	if err != nil {
		return nil, 0, err
	}
	return m, r.clock.Since(start), nil
}

// Run refreshes on every tick until ctx is done.
func (r *Refresher) Run(ctx context.Context) {
	if r.interval <= 0 {
		log.Debug("periodic baseline refresh disabled")
		<-ctx.Done()
		return
	}
	ticker := r.clock.Ticker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Refresh(ctx); err != nil {
				log.WithError(err).Warn("baseline refresh failed, keeping previous model")
			}
		}
	}
}
