package main

import (
	"context"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/hed1ad/lakeguard/pkg/baseline"
	"github.com/hed1ad/lakeguard/pkg/config"
)

type fitFlags struct {
	out    string
	upload bool
}

func newFitCmd() *cobra.Command {
	var f fitFlags
	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Fit a baseline from the reference source and print its summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return fit(cmd.Context(), &opts, f, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&f.out, "out", "", "Write the fitted snapshot to this file")
	cmd.Flags().BoolVar(&f.upload, "upload", false, "Upload the fitted snapshot to the S3 snapshot object")
	return cmd
}

func fit(ctx context.Context, o *config.Options, f fitFlags, out io.Writer) error {
	b, err := connect(ctx, o)
	if err != nil {
		return err
	}
	defer b.close()
	if f.upload && b.s3 == nil {
		return fmt.Errorf("--upload needs s3.endpoint")
	}

	loader, err := referenceLoader(o, b)
	if err != nil {
		return err
	}
	refs, err := loader.LoadReference(ctx)
	if err != nil {
		return err
	}
	m, err := baseline.Fit(refs, fitOptions(o)...)
	if err != nil {
		return err
	}

	if f.out != "" || f.upload {
		data, err := m.MarshalBinary()
		if err != nil {
			return err
		}
		if f.out != "" {
			if err := os.WriteFile(f.out, data, 0o644); err != nil {
				return fmt.Errorf("writing snapshot: %w", err)
			}
			log.WithField("file", f.out).Info("snapshot written")
		}
		if f.upload {
			if err := b.s3.PutSnapshot(ctx, data); err != nil {
				return err
			}
			log.WithField("object", o.S3.SnapshotObject).Info("snapshot uploaded")
		}
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(m.Summary())
}
