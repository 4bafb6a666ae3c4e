package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/safesim/simdash/internal/api"
	"github.com/safesim/simdash/internal/model"
)

func newUploadImageCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "upload-image <configuration> <file>",
		Short: "Replace the diagram shown for a SAFe configuration",
		Long:  "Upload a PNG or JPEG diagram for one of the configurations the config demo explains.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := model.Configuration(args[0])
			if !slices.Contains(model.DemoConfigurations(), cfg) {
				return fmt.Errorf("unknown configuration %q", args[0])
			}

			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()

			a, err := newApp(opts, false)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.RequestTimeout)
			defer cancel()
			path, err := a.channel.UploadConfigImage(ctx, cfg, filepath.Base(args[1]), f)
			if err != nil {
				if errors.Is(err, api.ErrBackendRejection) || errors.Is(err, api.ErrNetworkFailure) {
					return errors.New(api.UserMessage(err))
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s diagram: %s\n", cfg.Title(), path)
			return nil
		},
	}
}
