package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/lakeguard/pkg/baseline"
	"github.com/hed1ad/lakeguard/pkg/config"
	"github.com/hed1ad/lakeguard/pkg/detectors"
	"github.com/hed1ad/lakeguard/pkg/engine"
	"github.com/hed1ad/lakeguard/pkg/events"
	"github.com/hed1ad/lakeguard/pkg/io/csv"
	"github.com/hed1ad/lakeguard/pkg/io/jsonl"
	"github.com/hed1ad/lakeguard/pkg/twin"
	"github.com/hed1ad/lakeguard/pkg/water"
	"github.com/hed1ad/lakeguard/pkg/water/watertest"
)

func testOptions(t *testing.T) config.Options {
	t.Helper()
	dir := t.TempDir()
	file := filepath.Join(dir, "reference.csv")
	require.NoError(t, os.WriteFile(file, []byte(watertest.CSV(watertest.Hourly(watertest.Freshwater, 400, 11))), 0o600))

	o := config.Default()
	o.Baseline.File = file
	o.Detector = detectors.Config{Trees: 50, SampleSize: 256, Contamination: 0.03, RandomSeed: 42}
	require.NoError(t, o.Validate())
	return o
}

func TestReferenceLoader(t *testing.T) {
	o := testOptions(t)
	b := &backends{}

	loader, err := referenceLoader(&o, b)
	require.NoError(t, err)
	refs, err := loader.LoadReference(context.Background())
	require.NoError(t, err)
	assert.Len(t, refs, 400)

	for _, source := range []string{config.SourceS3, config.SourceRedis, "ftp"} {
		o.Baseline.Source = source
		_, err := referenceLoader(&o, b)
		assert.Error(t, err, source)
	}

	_, err = fileLoader(filepath.Join(t.TempDir(), "missing.csv")).LoadReference(context.Background())
	assert.Error(t, err)
}

func TestFitWritesSnapshot(t *testing.T) {
	o := testOptions(t)
	snapshot := filepath.Join(t.TempDir(), "model.gob")

	var out bytes.Buffer
	require.NoError(t, fit(context.Background(), &o, fitFlags{out: snapshot}, &out))

	var summary baseline.Summary
	require.NoError(t, json.Unmarshal(out.Bytes(), &summary))
	assert.Equal(t, 400, summary.Size)
	assert.True(t, summary.Diurnal.Available)

	o.Baseline.Snapshot = snapshot
	m, err := loadSnapshot(context.Background(), &o, &backends{})
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, summary.FittedAt, m.FittedAt())

	assert.Error(t, fit(context.Background(), &o, fitFlags{upload: true}, &out), "upload without s3")
}

func TestFitWithoutOxygen(t *testing.T) {
	o := testOptions(t)
	o.Baseline.WithoutOxygen = true

	var out bytes.Buffer
	require.NoError(t, fit(context.Background(), &o, fitFlags{}, &out))
	var summary baseline.Summary
	require.NoError(t, json.Unmarshal(out.Bytes(), &summary))
	require.Contains(t, summary.Stats, water.DissolvedOxygen.String())
	assert.Nil(t, summary.Stats[water.DissolvedOxygen.String()])
	assert.False(t, summary.Diurnal.Available)
}

func TestDetect(t *testing.T) {
	o := testOptions(t)
	f := detectFlags{
		reading: water.Reading{Acidity: 4.5, Turbidity: 900, Temperature: 22, DissolvedOxygen: 8},
		hour:    -1,
	}

	var out bytes.Buffer
	require.NoError(t, detect(context.Background(), &o, f, &out))

	var rep engine.DetectionReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &rep))
	assert.Equal(t, water.SeverityHigh, rep.Anomaly.Acidity.Severity)
	spill, ok := rep.Events.Flag(events.AcidSpill)
	require.True(t, ok)
	assert.True(t, spill.Triggered)

	f.reading.Acidity = 7.2
	f.reading.Turbidity = 150
	f.hour = 30
	out.Reset()
	assert.ErrorIs(t, detect(context.Background(), &o, f, &out), engine.ErrInvalidReading)
}

func TestSimulate(t *testing.T) {
	o := testOptions(t)

	var out bytes.Buffer
	require.NoError(t, simulate(context.Background(), &o, twin.DefaultScenario(), &out))
	var proj twin.Projection
	require.NoError(t, json.Unmarshal(out.Bytes(), &proj))
	assert.Equal(t, "High (multiple historical matches)", proj.OxygenDrop.Confidence)
	assert.NotEmpty(t, proj.AlgaeBloom.Risk)

	bad := twin.DefaultScenario()
	bad.PollutionStrength = 2
	assert.ErrorIs(t, simulate(context.Background(), &o, bad, &out), twin.ErrInvalidScenario)
}

func TestScanStream(t *testing.T) {
	m, err := baseline.Fit(watertest.Hourly(watertest.Freshwater, 500, 12),
		baseline.WithDetectorConfig(detectors.Config{Trees: 50, SampleSize: 256, Contamination: 0.03, RandomSeed: 42}))
	require.NoError(t, err)

	rows := watertest.Hourly(watertest.Freshwater, 20, 13)
	rows[5] = water.Reading{Acidity: 3, Turbidity: 2000, Temperature: 35, DissolvedOxygen: 2, Timestamp: rows[5].Timestamp}
	data := watertest.CSV(rows) + "2024-06-02T00:00:00Z,,120,21,8\n"

	src, err := csv.New(strings.NewReader(data), csv.WithoutSorting())
	require.NoError(t, err)

	var out bytes.Buffer
	scored, outliers, err := scanStream(context.Background(), m, src, jsonl.NewWriter(&out), false)
	require.NoError(t, err)
	assert.Equal(t, 20, scored, "rows without a pattern feature are skipped")
	assert.GreaterOrEqual(t, outliers, 1)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, outliers)
	assert.Contains(t, out.String(), `"turbidity":2000`)
}
