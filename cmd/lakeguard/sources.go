package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/hed1ad/lakeguard/pkg/baseline"
	"github.com/hed1ad/lakeguard/pkg/config"
	lgio "github.com/hed1ad/lakeguard/pkg/io"
	"github.com/hed1ad/lakeguard/pkg/io/csv"
	"github.com/hed1ad/lakeguard/pkg/io/redis"
	"github.com/hed1ad/lakeguard/pkg/io/s3"
	"github.com/hed1ad/lakeguard/pkg/water"
)

// backends holds the optional storage connections.
type backends struct {
	redis *redis.Store
	s3    *s3.Store
}

func connect(ctx context.Context, o *config.Options) (*backends, error) {
	b := &backends{}
	if o.Redis.Enabled() {
		store, err := redis.New(ctx, redis.Options{
			Addr:       o.Redis.Addr,
			Password:   o.Redis.Password,
			DB:         o.Redis.DB,
			HistoryCap: o.Redis.HistoryCap,
			ReportTTL:  o.Redis.ReportTTL,
		})
		if err != nil {
			return nil, err
		}
		b.redis = store
	}
	if o.S3.Enabled() {
		store, err := s3.New(ctx, s3.Config{
			Endpoint:        o.S3.Endpoint,
			AccessKeyID:     o.S3.AccessKeyID,
			SecretAccessKey: o.S3.SecretAccessKey,
			Bucket:          o.S3.Bucket,
			Secure:          o.S3.Secure,
			ReferenceObject: o.S3.ReferenceObject,
			SnapshotObject:  o.S3.SnapshotObject,
		})
		if err != nil {
			b.close()
			return nil, err
		}
		b.s3 = store
	}
	return b, nil
}

func (b *backends) close() {
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			log.WithError(err).Warn("error closing redis")
		}
	}
}

// fileLoader reads the whole reference CSV on every call.
type fileLoader string

func (f fileLoader) LoadReference(context.Context) ([]water.Reading, error) {
	r, err := csv.NewReader(string(f))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	refs, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f, err)
	}
	if skipped := r.Skipped(); skipped > 0 {
		log.WithField("file", string(f)).Warnf("skipped %d malformed rows", skipped)
	}
	return refs, nil
}

// referenceLoader picks the configured reference source.
func referenceLoader(o *config.Options, b *backends) (lgio.ReferenceLoader, error) {
	switch o.Baseline.Source {
	case config.SourceFile:
		return fileLoader(o.Baseline.File), nil
	case config.SourceS3:
		if b.s3 == nil {
			return nil, errors.New("s3 source selected but s3 is not configured")
		}
		return b.s3, nil
	case config.SourceRedis:
		if b.redis == nil {
			return nil, errors.New("redis source selected but redis is not configured")
		}
		return b.redis.Window(o.Baseline.RedisWindow), nil
	}
	return nil, fmt.Errorf("unknown baseline source %q", o.Baseline.Source)
}

func fitOptions(o *config.Options) []baseline.Option {
	fit := []baseline.Option{baseline.WithDetectorConfig(o.Detector)}
	if o.Baseline.WithoutOxygen {
		fit = append(fit, baseline.WithoutDissolvedOxygen())
	}
	return fit
}

// loadSnapshot returns a previously fitted model, from the configured
// snapshot file or the S3 snapshot object. It returns nil when neither holds
// one.
func loadSnapshot(ctx context.Context, o *config.Options, b *backends) (*baseline.Model, error) {
	var (
		data   []byte
		err    error
		origin string
	)
	switch {
	case o.Baseline.Snapshot != "":
		origin = o.Baseline.Snapshot
		data, err = os.ReadFile(o.Baseline.Snapshot)
	case b.s3 != nil && o.S3.SnapshotObject != "":
		origin = o.S3.SnapshotObject
		data, err = b.s3.GetSnapshot(ctx)
		if errors.Is(err, s3.ErrNotFound) {
			return nil, nil
		}
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading baseline snapshot %s: %w", origin, err)
	}
	m, err := baseline.Decode(data)
	if err != nil {
		return nil, err
	}
	log.WithField("origin", origin).WithField("fitted_at", m.FittedAt()).Info("loaded baseline snapshot")
	return m, nil
}

// currentModel loads the stored snapshot or, failing that, fits one from the
// reference source.
func currentModel(ctx context.Context, o *config.Options, b *backends) (*baseline.Model, error) {
	m, err := loadSnapshot(ctx, o, b)
	if err != nil || m != nil {
		return m, err
	}
	loader, err := referenceLoader(o, b)
	if err != nil {
		return nil, err
	}
	refs, err := loader.LoadReference(ctx)
	if err != nil {
		return nil, err
	}
	return baseline.Fit(refs, fitOptions(o)...)
}
