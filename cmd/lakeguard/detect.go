package main

import (
	"context"
	"errors"
	"io"

	"github.com/spf13/cobra"

	"github.com/hed1ad/lakeguard/pkg/baseline"
	"github.com/hed1ad/lakeguard/pkg/config"
	"github.com/hed1ad/lakeguard/pkg/engine"
	"github.com/hed1ad/lakeguard/pkg/events"
	"github.com/hed1ad/lakeguard/pkg/water"
)

type detectFlags struct {
	reading  water.Reading
	hour     int
	rainfall float64
	history  string
}

func newDetectCmd() *cobra.Command {
	f := detectFlags{hour: -1}
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Grade one reading and run the event bank",
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, name := range []string{"ph", "turbidity", "temperature", "do"} {
				if !cmd.Flags().Changed(name) {
					return errors.New("--ph, --turbidity, --temperature and --do are required")
				}
			}
			return detect(cmd.Context(), &opts, f, cmd.OutOrStdout())
		},
	}
	fs := cmd.Flags()
	fs.Float64Var(&f.reading.Acidity, "ph", 0, "pH")
	fs.Float64Var(&f.reading.Turbidity, "turbidity", 0, "Turbidity")
	fs.Float64Var(&f.reading.Temperature, "temperature", 0, "Water temperature, °C")
	fs.Float64Var(&f.reading.DissolvedOxygen, "do", 0, "Dissolved oxygen, mg/L")
	fs.IntVar(&f.hour, "hour", -1, "Measurement hour 0-23 (negative means unknown)")
	fs.Float64Var(&f.rainfall, "rainfall", 0, "Recent rainfall, mm")
	fs.StringVar(&f.history, "history", "", "CSV of previous readings, oldest first")
	return cmd
}

func detect(ctx context.Context, o *config.Options, f detectFlags, out io.Writer) error {
	b, err := connect(ctx, o)
	if err != nil {
		return err
	}
	defer b.close()

	m, err := currentModel(ctx, o, b)
	if err != nil {
		return err
	}

	c := events.Context{RainfallMM: f.rainfall}
	reading := f.reading
	if f.hour >= 0 {
		hour := f.hour
		reading.Hour = &hour
	}
	var history []water.Reading
	if f.history != "" {
		if history, err = fileLoader(f.history).LoadReference(ctx); err != nil {
			return err
		}
	}

	rep, err := engine.New(baseline.NewHolder(m), nil).Detect(reading, history, c)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}
