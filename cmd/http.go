package cmd

import (
	"github.com/spf13/cobra"
	"github.com/tanq16/splitfetch/internal/utils"
)

func newHTTPCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "http [URL] [--output OUTPUT_PATH]",
		Short: "Download file via HTTP/HTTPS",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobs(cmd.Context(), []utils.Job{cfg.Job(args[0], outputPath)})
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file name")
	return cmd
}
