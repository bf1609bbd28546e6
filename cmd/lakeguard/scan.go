package main

import (
	"context"
	"fmt"
	"io"
	"math"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hed1ad/lakeguard/pkg/baseline"
	"github.com/hed1ad/lakeguard/pkg/config"
	"github.com/hed1ad/lakeguard/pkg/detectors"
	lgio "github.com/hed1ad/lakeguard/pkg/io"
	"github.com/hed1ad/lakeguard/pkg/io/csv"
	"github.com/hed1ad/lakeguard/pkg/io/jsonl"
	"github.com/hed1ad/lakeguard/pkg/water"
)

type scanFlags struct {
	all bool
}

func newScanCmd() *cobra.Command {
	var f scanFlags
	cmd := &cobra.Command{
		Use:   "scan FILE",
		Short: "Score every row of a CSV with the pattern model and print outliers as JSON lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return scan(cmd.Context(), &opts, args[0], f, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&f.all, "all", false, "Print every scored row, not only outliers")
	return cmd
}

func scan(ctx context.Context, o *config.Options, file string, f scanFlags, out io.Writer) error {
	b, err := connect(ctx, o)
	if err != nil {
		return err
	}
	defer b.close()

	m, err := currentModel(ctx, o, b)
	if err != nil {
		return err
	}

	src, err := csv.NewReader(file, csv.WithoutSorting())
	if err != nil {
		return err
	}
	defer src.Close()

	// hide any Close method so stdout stays open
	sink := jsonl.NewWriter(struct{ io.Writer }{out})
	n, outliers, err := scanStream(ctx, m, src, sink, f.all)
	if err != nil {
		return err
	}
	log.WithField("rows", n).WithField("outliers", outliers).WithField("skipped", src.Skipped()).Info("scan complete")
	return nil
}

// scanStream scores src in order. Rows with a missing pattern feature are
// skipped since the pattern model has no value to isolate.
func scanStream(ctx context.Context, m *baseline.Model, src lgio.ReadingSource, w lgio.Writer, all bool) (scored, outliers int, err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	readings, err := src.Stream(ctx)
	if err != nil {
		return 0, 0, err
	}

	vectors := make(chan []float64)
	scores := make(chan detectors.Score)
	pending := make(chan water.Reading, 1)
	go func() {
		defer close(vectors)
		for r := range readings {
			if !complete(r) {
				continue
			}
			select {
			case pending <- r:
			case <-ctx.Done():
				return
			}
			select {
			case vectors <- r.Vector():
			case <-ctx.Done():
				return
			}
		}
	}()

	streamErr := make(chan error, 1)
	go func() { streamErr <- m.Pattern().PredictStream(ctx, vectors, scores) }()

	for s := range scores {
		r := <-pending
		scored++
		if s.IsAnomaly {
			outliers++
		}
		if !s.IsAnomaly && !all {
			continue
		}
		if err := w.Write(lgio.Result{Timestamp: r.Timestamp, Reading: r, Score: s.Value, IsAnomaly: s.IsAnomaly}); err != nil {
			cancel()
			<-streamErr
			return scored, outliers, fmt.Errorf("writing result: %w", err)
		}
	}
	if err := <-streamErr; err != nil {
		return scored, outliers, err
	}
	return scored, outliers, w.Close()
}

func complete(r water.Reading) bool {
	for _, v := range r.Vector() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
