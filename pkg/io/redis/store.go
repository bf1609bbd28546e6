// Package redis keeps the recent reading history and the latest detection
// reports in redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	lgio "github.com/hed1ad/lakeguard/pkg/io"
	"github.com/hed1ad/lakeguard/pkg/water"
)

var (
	json = jsoniter.ConfigCompatibleWithStandardLibrary
	log  = logrus.WithField("component", "redis")
)

// ErrNotFound is returned when nothing is stored under a key.
var ErrNotFound = errors.New("not found")

const (
	defaultPrefix     = "lakeguard"
	defaultHistoryCap = 10000
	defaultReportTTL  = 5 * time.Minute
)

// StoredReading is a reading as persisted, with its sequence id.
type StoredReading struct {
	ID         int64     `json:"id"`
	ReceivedAt time.Time `json:"received_at"`
	water.Reading
}

// Options configures a Store.
type Options struct {
	Addr       string
	Password   string
	DB         int
	Prefix     string
	HistoryCap int
	ReportTTL  time.Duration
}

// Store wraps a redis client.
type Store struct {
	client     *redis.Client
	prefix     string
	historyCap int64
	reportTTL  time.Duration
	now        func() time.Time
}

// New connects to redis and checks the connection.
func New(ctx context.Context, o Options) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         o.Addr,
		Password:     o.Password,
		DB:           o.DB,
		PoolSize:     50,
		MinIdleConns: 10,
		MaxRetries:   3,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", o.Addr, err)
	}
	log.WithField("addr", o.Addr).Info("connected to redis")
	return NewFromClient(client, o), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client *redis.Client, o Options) *Store {
	s := &Store{
		client:     client,
		prefix:     o.Prefix,
		historyCap: int64(o.HistoryCap),
		reportTTL:  o.ReportTTL,
		now:        time.Now,
	}
	if s.prefix == "" {
		s.prefix = defaultPrefix
	}
	if s.historyCap <= 0 {
		s.historyCap = defaultHistoryCap
	}
	if s.reportTTL <= 0 {
		s.reportTTL = defaultReportTTL
	}
	return s
}

func (s *Store) key(parts ...string) string {
	k := s.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Append stores r as the newest reading and trims the list to the cap.
func (s *Store) Append(ctx context.Context, r water.Reading) (StoredReading, error) {
	id, err := s.client.Incr(ctx, s.key("readings", "seq")).Result()
	if err != nil {
		return StoredReading{}, err
	}
	stored := StoredReading{ID: id, ReceivedAt: s.now().UTC(), Reading: r}
	data, err := json.Marshal(stored)
	if err != nil {
		return StoredReading{}, err
	}

	listKey := s.key("readings")
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, listKey, data)
		pipe.LTrim(ctx, listKey, 0, s.historyCap-1)
		return nil
	})
	if err != nil {
		return StoredReading{}, err
	}
	return stored, nil
}

// Recent returns up to limit readings, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]StoredReading, error) {
	if limit <= 0 {
		return nil, nil
	}
	vals, err := s.client.LRange(ctx, s.key("readings"), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]StoredReading, 0, len(vals))
	for _, v := range vals {
		var sr StoredReading
		if err := json.Unmarshal([]byte(v), &sr); err != nil {
			log.WithError(err).Warn("skipping undecodable stored reading")
			continue
		}
		out = append(out, sr)
	}
	return out, nil
}

// Latest returns the newest stored reading.
func (s *Store) Latest(ctx context.Context) (StoredReading, error) {
	recent, err := s.Recent(ctx, 1)
	if err != nil {
		return StoredReading{}, err
	}
	if len(recent) == 0 {
		return StoredReading{}, ErrNotFound
	}
	return recent[0], nil
}

// History returns up to n readings, oldest first, ready for event detection.
func (s *Store) History(ctx context.Context, n int) ([]water.Reading, error) {
	recent, err := s.Recent(ctx, n)
	if err != nil {
		return nil, err
	}
	out := make([]water.Reading, len(recent))
	for i, sr := range recent {
		out[len(recent)-1-i] = sr.Reading
	}
	return out, nil
}

// SaveReport stores v under name with the configured TTL.
func (s *Store) SaveReport(ctx context.Context, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key("report", name), data, s.reportTTL).Err()
}

// LatestReport decodes the report stored under name into v.
func (s *Store) LatestReport(ctx context.Context, name string, v any) error {
	val, err := s.client.Get(ctx, s.key("report", name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(val, v)
}

// Device commands handed to the sensor node on its next poll.
const (
	CommandReadSensor = "read_sensor"
	CommandIdle       = "idle"
)

// RequestRead queues a one-shot read for the sensor node. Repeated requests
// before the next poll collapse into one.
func (s *Store) RequestRead(ctx context.Context) error {
	return s.client.Set(ctx, s.key("device", "command"), CommandReadSensor, 0).Err()
}

// NextCommand pops the pending device command, or returns CommandIdle.
func (s *Store) NextCommand(ctx context.Context) (string, error) {
	cmd, err := s.client.GetDel(ctx, s.key("device", "command")).Result()
	if errors.Is(err, redis.Nil) {
		return CommandIdle, nil
	}
	if err != nil {
		return "", err
	}
	return cmd, nil
}

// Window exposes the last n stored readings as a reading source.
func (s *Store) Window(n int) *Window {
	return &Window{store: s, size: n}
}

// Window is a fixed-size view over the stored history.
type Window struct {
	store *Store
	size  int
}

var (
	_ lgio.ReadingSource   = (*Window)(nil)
	_ lgio.ReferenceLoader = (*Window)(nil)
)

// LoadReference returns the window, oldest first.
func (w *Window) LoadReference(ctx context.Context) ([]water.Reading, error) {
	return w.store.History(ctx, w.size)
}

// Read returns the window, oldest first.
func (w *Window) Read() ([]water.Reading, error) {
	return w.LoadReference(context.Background())
}

// Stream emits the window oldest first.
func (w *Window) Stream(ctx context.Context) (<-chan water.Reading, error) {
	readings, err := w.LoadReference(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan water.Reading, 100)
	go func() {
		defer close(out)
		for _, r := range readings {
			select {
			case out <- r:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close is a no-op; the store owns the connection.
func (w *Window) Close() error {
	return nil
}
