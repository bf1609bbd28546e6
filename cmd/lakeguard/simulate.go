package main

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/hed1ad/lakeguard/pkg/config"
	lgio "github.com/hed1ad/lakeguard/pkg/io"
	"github.com/hed1ad/lakeguard/pkg/twin"
)

func newSimulateCmd() *cobra.Command {
	s := twin.DefaultScenario()
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Project a warming, pollution and rainfall scenario onto the reference archive",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return simulate(cmd.Context(), &opts, s, cmd.OutOrStdout())
		},
	}
	fs := cmd.Flags()
	fs.Float64Var(&s.TemperatureRiseC, "temperature-rise", s.TemperatureRiseC, "Projected surface warming, °C")
	fs.Float64Var(&s.PollutionStrength, "pollution", s.PollutionStrength, "Pollution slug strength 0-1")
	fs.Float64Var(&s.RainfallMM, "rainfall", s.RainfallMM, "Recent rainfall, mm")
	return cmd
}

func simulate(ctx context.Context, o *config.Options, s twin.Scenario, out io.Writer) error {
	b, err := connect(ctx, o)
	if err != nil {
		return err
	}
	defer b.close()

	loader, err := referenceLoader(o, b)
	if err != nil {
		return err
	}
	p, err := learnTwin(ctx, loader)
	if err != nil {
		return err
	}
	proj, err := p.Simulate(s)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(proj)
}

func learnTwin(ctx context.Context, loader lgio.ReferenceLoader) (*twin.Profile, error) {
	refs, err := loader.LoadReference(ctx)
	if err != nil {
		return nil, err
	}
	return twin.Learn(refs)
}
