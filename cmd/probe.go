package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	splithttp "github.com/tanq16/splitfetch/internal/downloaders/http"
	"github.com/tanq16/splitfetch/internal/output"
	"github.com/tanq16/splitfetch/internal/utils"
)

func newProbeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe [URL]",
		Short: "Show what the server reports for a URL and how it would be split",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engineCfg := splithttp.DefaultConfig()
			engineCfg.OutputDir = cfg.OutputDir
			engineCfg.Overwrite = cfg.Overwrite
			engine := splithttp.NewEngine(utils.NewClient(cfg.HTTPClientConfig()), engineCfg)
			desc, err := engine.Probe(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			tasks, err := splithttp.Partition(desc, cfg.SegmentSize)
			if err != nil {
				return err
			}
			printDescriptor(desc, len(tasks))
			return nil
		},
	}
	return cmd
}

func printDescriptor(d *splithttp.Descriptor, tasks int) {
	row := func(key, value string) {
		fmt.Printf("  %s %s\n", output.FDetail(fmt.Sprintf("%-16s", key)), value)
	}
	output.PrintHeader(d.URL)
	row("file", d.FileName)
	row("path", d.LocalPath)
	row("size", utils.FormatBytes(d.Size))
	row("ranges", fmt.Sprint(d.RangeSupported))
	row("chunked", fmt.Sprint(d.Chunked))
	if d.Validator != "" {
		row("etag", d.Validator)
	}
	if d.Segmentable() {
		row("plan", fmt.Sprintf("%d ranges of up to %s over %d connections", tasks, utils.FormatBytes(cfg.SegmentSize), cfg.Connections))
	} else {
		row("plan", "single stream")
	}
}
