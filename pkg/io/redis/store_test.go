package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/lakeguard/pkg/water"
)

func newTestStore(t *testing.T, o Options) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), o)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func reading(turbidity float64) water.Reading {
	return water.Reading{Acidity: 7, Turbidity: turbidity, Temperature: 20, DissolvedOxygen: 8}
}

func TestNew(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	s, err := New(context.Background(), Options{Addr: addr})
	require.NoError(t, err)
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())

	mr.Close()
	_, err = New(context.Background(), Options{Addr: addr})
	assert.Error(t, err)
}

func TestAppendAndHistory(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, Options{HistoryCap: 3})
	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	_, err := s.Latest(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	for i := 1; i <= 5; i++ {
		stored, err := s.Append(ctx, reading(float64(i)))
		require.NoError(t, err)
		assert.Equal(t, int64(i), stored.ID)
		assert.Equal(t, fixed, stored.ReceivedAt)
	}

	latest, err := s.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), latest.ID)
	assert.Equal(t, 5.0, latest.Turbidity)

	recent, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 3, "list is capped")
	assert.Equal(t, []int64{5, 4, 3}, []int64{recent[0].ID, recent[1].ID, recent[2].ID})

	history, err := s.History(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []water.Reading{reading(4), reading(5)}, history, "history is oldest first")

	none, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestReports(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t, Options{ReportTTL: time.Minute})

	type report struct {
		Summary []string `json:"summary"`
	}
	var got report
	assert.ErrorIs(t, s.LatestReport(ctx, "events", &got), ErrNotFound)

	require.NoError(t, s.SaveReport(ctx, "events", report{Summary: []string{"Sensor drift: No drift signature"}}))
	require.NoError(t, s.LatestReport(ctx, "events", &got))
	assert.Equal(t, []string{"Sensor drift: No drift signature"}, got.Summary)
	assert.Equal(t, time.Minute, mr.TTL("lakeguard:report:events"))

	mr.FastForward(2 * time.Minute)
	assert.ErrorIs(t, s.LatestReport(ctx, "events", &got), ErrNotFound)
}

func TestWindow(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, Options{Prefix: "lake1"})
	for i := 1; i <= 4; i++ {
		_, err := s.Append(ctx, reading(float64(i)))
		require.NoError(t, err)
	}

	w := s.Window(3)
	refs, err := w.Read()
	require.NoError(t, err)
	assert.Equal(t, []water.Reading{reading(2), reading(3), reading(4)}, refs)

	ch, err := w.Stream(ctx)
	require.NoError(t, err)
	var streamed []water.Reading
	for r := range ch {
		streamed = append(streamed, r)
	}
	assert.Equal(t, refs, streamed)
	assert.NoError(t, w.Close())
}

func TestDeviceCommands(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t, Options{})

	cmd, err := s.NextCommand(ctx)
	require.NoError(t, err)
	assert.Equal(t, CommandIdle, cmd, "nothing queued")

	require.NoError(t, s.RequestRead(ctx))
	require.NoError(t, s.RequestRead(ctx))
	got, err := mr.Get("lakeguard:device:command")
	require.NoError(t, err)
	assert.Equal(t, CommandReadSensor, got)

	cmd, err = s.NextCommand(ctx)
	require.NoError(t, err)
	assert.Equal(t, CommandReadSensor, cmd)

	cmd, err = s.NextCommand(ctx)
	require.NoError(t, err)
	assert.Equal(t, CommandIdle, cmd, "a read is handed out once")
}
