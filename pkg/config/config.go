// Package config holds the service options and binds them to flags, an
// optional config file and LAKEGUARD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/hed1ad/lakeguard/pkg/detectors"
)

// Reference sources.
const (
	SourceFile  = "file"
	SourceS3    = "s3"
	SourceRedis = "redis"
)

type Options struct {
	Server   Server           `mapstructure:"server" json:"server"`
	Health   Health           `mapstructure:"health" json:"health"`
	Baseline Baseline         `mapstructure:"baseline" json:"baseline"`
	Detector detectors.Config `mapstructure:"detector" json:"detector"`
	Redis    Redis            `mapstructure:"redis" json:"redis"`
	S3       S3               `mapstructure:"s3" json:"s3"`
}

type Server struct {
	Address         string        `mapstructure:"address" json:"address"`
	APIKey          string        `mapstructure:"api-key" json:"-"`
	ReadTimeout     time.Duration `mapstructure:"read-timeout" json:"readTimeout"`
	WriteTimeout    time.Duration `mapstructure:"write-timeout" json:"writeTimeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown-timeout" json:"shutdownTimeout"`
}

type Health struct {
	Address string `mapstructure:"address" json:"address"`
	Port    string `mapstructure:"port" json:"port"`
}

type Baseline struct {
	// Source is where reference readings come from: file, s3 or redis.
	Source          string        `mapstructure:"source" json:"source"`
	File            string        `mapstructure:"file" json:"file"`
	Snapshot        string        `mapstructure:"snapshot" json:"snapshot"`
	RefreshInterval time.Duration `mapstructure:"refresh-interval" json:"refreshInterval"`
	WithoutOxygen   bool          `mapstructure:"without-do" json:"withoutDO"`
	// RedisWindow is how many stored readings feed a redis-sourced refit.
	RedisWindow int `mapstructure:"redis-window" json:"redisWindow"`
}

type Redis struct {
	Addr       string        `mapstructure:"addr" json:"addr"`
	Password   string        `mapstructure:"password" json:"-"`
	DB         int           `mapstructure:"db" json:"db"`
	HistoryCap int           `mapstructure:"history-cap" json:"historyCap"`
	ReportTTL  time.Duration `mapstructure:"report-ttl" json:"reportTTL"`
}

// Enabled reports whether a redis address is configured.
func (r Redis) Enabled() bool {
	return r.Addr != ""
}

type S3 struct {
	Endpoint        string `mapstructure:"endpoint" json:"endpoint"`
	AccessKeyID     string `mapstructure:"access-key-id" json:"accessKeyId"`
	SecretAccessKey string `mapstructure:"secret-access-key" json:"-"`
	Bucket          string `mapstructure:"bucket" json:"bucket"`
	ReferenceObject string `mapstructure:"reference-object" json:"referenceObject"`
	SnapshotObject  string `mapstructure:"snapshot-object" json:"snapshotObject"`
	Secure          bool   `mapstructure:"secure" json:"secure"`
}

// Enabled reports whether an S3 endpoint is configured.
func (s S3) Enabled() bool {
	return s.Endpoint != ""
}

// Default returns the options used when nothing is configured.
func Default() Options {
	return Options{
		Server: Server{
			Address:         ":8000",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Health: Health{Address: "0.0.0.0", Port: "8081"},
		Baseline: Baseline{
			Source:          SourceFile,
			File:            "sample_lake_readings.csv",
			RefreshInterval: time.Hour,
			RedisWindow:     5000,
		},
		Detector: detectors.DefaultConfig(),
		Redis: Redis{
			HistoryCap: 10000,
			ReportTTL:  5 * time.Minute,
		},
		S3: S3{
			ReferenceObject: "reference/lake_readings.csv",
			SnapshotObject:  "baseline/model.gob",
		},
	}
}

// Validate checks option ranges and cross-field requirements.
func (o *Options) Validate() error {
	d := o.Detector
	switch {
	case d.Trees <= 0:
		return errors.New("detector.trees must be positive")
	case d.SampleSize <= 0:
		return errors.New("detector.sample-size must be positive")
	case d.Contamination <= 0 || d.Contamination >= 0.5:
		return fmt.Errorf("detector.contamination must be in (0, 0.5), got %v", d.Contamination)
	case o.Baseline.RefreshInterval < 0:
		return errors.New("baseline.refresh-interval must not be negative")
	}

	switch o.Baseline.Source {
	case SourceFile:
		if o.Baseline.File == "" {
			return errors.New("baseline.file is required for the file source")
		}
	case SourceS3:
		if !o.S3.Enabled() || o.S3.Bucket == "" || o.S3.ReferenceObject == "" {
			return errors.New("s3.endpoint, s3.bucket and s3.reference-object are required for the s3 source")
		}
	case SourceRedis:
		if !o.Redis.Enabled() {
			return errors.New("redis.addr is required for the redis source")
		}
		if o.Baseline.RedisWindow <= 0 {
			return errors.New("baseline.redis-window must be positive")
		}
	default:
		return fmt.Errorf("unknown baseline.source %q", o.Baseline.Source)
	}

	if o.Redis.Enabled() && o.Redis.HistoryCap <= 0 {
		return errors.New("redis.history-cap must be positive")
	}
	return nil
}
