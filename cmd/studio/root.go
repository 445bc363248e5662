package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag string

	rootCmd := &cobra.Command{
		Use:           "studio",
		Short:         "Image generation studio: prompt queue, gallery and upscaling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "YAML configuration file (overrides STUDIO_CONFIG)")

	ctx := newCommandContext(&configFlag)
	rootCmd.AddCommand(
		newServeCommand(ctx),
		newGalleryCommand(ctx),
	)
	return rootCmd
}
