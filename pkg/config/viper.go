package config

import (
	"fmt"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	EnvPrefix             = "LAKEGUARD"
	DefaultConfigFileName = ".lakeguard"
)

// NewViper prepares a viper instance reading cfgFile, or $HOME/.lakeguard
// when cfgFile is empty, plus LAKEGUARD_* environment variables. A missing
// config file is reported but not fatal.
func NewViper(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return v, err
		}
		v.AddConfigPath(home)
		v.SetConfigName(DefaultConfigFileName)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	return v, v.ReadInConfig()
}

// BindFlags applies viper values to every flag the user did not set.
// Dotted flag names are also bound to LAKEGUARD_SECTION_KEY variables.
func BindFlags(flags *pflag.FlagSet, v *viper.Viper) {
	flags.VisitAll(func(f *pflag.Flag) {
		if strings.Contains(f.Name, ".") {
			envVarSuffix := strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(f.Name))
			_ = v.BindEnv(f.Name, fmt.Sprintf("%s_%s", EnvPrefix, envVarSuffix))
		}

		if f.Changed || !v.IsSet(f.Name) {
			return
		}
		val := v.Get(f.Name)
		switch val.(type) {
		case bool, uint, string, int32, int16, int8, int, uint32, uint64, int64, float64, float32:
			_ = flags.Set(f.Name, fmt.Sprintf("%v", val))
		default:
			b, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(&val)
			if err != nil {
				log.Fatalf("can't parse flag %s into json with value %v got error %s", f.Name, val, err)
				return
			}
			_ = flags.Set(f.Name, string(b))
		}
	})
}

// RegisterFlags declares every option on fs, defaulting to o's values.
func RegisterFlags(fs *pflag.FlagSet, o *Options) {
	fs.StringVar(&o.Server.Address, "server.address", o.Server.Address, "HTTP API listen address")
	fs.StringVar(&o.Server.APIKey, "server.api-key", o.Server.APIKey, "API key required in X-API-Key (empty disables auth)")
	fs.DurationVar(&o.Server.ReadTimeout, "server.read-timeout", o.Server.ReadTimeout, "HTTP read timeout")
	fs.DurationVar(&o.Server.WriteTimeout, "server.write-timeout", o.Server.WriteTimeout, "HTTP write timeout")
	fs.DurationVar(&o.Server.ShutdownTimeout, "server.shutdown-timeout", o.Server.ShutdownTimeout, "Graceful shutdown timeout")

	fs.StringVar(&o.Health.Address, "health.address", o.Health.Address, "Health server address")
	fs.StringVar(&o.Health.Port, "health.port", o.Health.Port, "Health server port")

	fs.StringVar(&o.Baseline.Source, "baseline.source", o.Baseline.Source, "Reference source: file, s3 or redis")
	fs.StringVar(&o.Baseline.File, "baseline.file", o.Baseline.File, "Reference CSV file")
	fs.StringVar(&o.Baseline.Snapshot, "baseline.snapshot", o.Baseline.Snapshot, "Fitted baseline snapshot to load at startup")
	fs.DurationVar(&o.Baseline.RefreshInterval, "baseline.refresh-interval", o.Baseline.RefreshInterval, "Baseline refit interval (0 disables)")
	fs.BoolVar(&o.Baseline.WithoutOxygen, "baseline.without-do", o.Baseline.WithoutOxygen, "Ignore dissolved oxygen in the reference set")
	fs.IntVar(&o.Baseline.RedisWindow, "baseline.redis-window", o.Baseline.RedisWindow, "Stored readings used by a redis-sourced refit")

	fs.IntVar(&o.Detector.Trees, "detector.trees", o.Detector.Trees, "Isolation forest size")
	fs.IntVar(&o.Detector.SampleSize, "detector.sample-size", o.Detector.SampleSize, "Isolation forest subsample size")
	fs.Float64Var(&o.Detector.Contamination, "detector.contamination", o.Detector.Contamination, "Expected outlier fraction")
	fs.Int64Var(&o.Detector.RandomSeed, "detector.seed", o.Detector.RandomSeed, "Random seed")

	fs.StringVar(&o.Redis.Addr, "redis.addr", o.Redis.Addr, "Redis address (empty disables reading history)")
	fs.StringVar(&o.Redis.Password, "redis.password", o.Redis.Password, "Redis password")
	fs.IntVar(&o.Redis.DB, "redis.db", o.Redis.DB, "Redis database")
	fs.IntVar(&o.Redis.HistoryCap, "redis.history-cap", o.Redis.HistoryCap, "Readings kept in redis")
	fs.DurationVar(&o.Redis.ReportTTL, "redis.report-ttl", o.Redis.ReportTTL, "Lifetime of the stored latest report")

	fs.StringVar(&o.S3.Endpoint, "s3.endpoint", o.S3.Endpoint, "S3 endpoint (empty disables object storage)")
	fs.StringVar(&o.S3.AccessKeyID, "s3.access-key-id", o.S3.AccessKeyID, "S3 access key")
	fs.StringVar(&o.S3.SecretAccessKey, "s3.secret-access-key", o.S3.SecretAccessKey, "S3 secret key")
	fs.StringVar(&o.S3.Bucket, "s3.bucket", o.S3.Bucket, "S3 bucket")
	fs.StringVar(&o.S3.ReferenceObject, "s3.reference-object", o.S3.ReferenceObject, "Reference CSV object name")
	fs.StringVar(&o.S3.SnapshotObject, "s3.snapshot-object", o.S3.SnapshotObject, "Baseline snapshot object name")
	fs.BoolVar(&o.S3.Secure, "s3.secure", o.S3.Secure, "Use TLS for S3")
}
