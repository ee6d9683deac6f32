package cmd

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tanq16/splitfetch/internal/config"
	"github.com/tanq16/splitfetch/internal/output"
	"github.com/tanq16/splitfetch/internal/utils"
	"gopkg.in/yaml.v3"
)

// BatchFile groups entries by job type, e.g.
//
//	http:
//	  - link: https://example.com/a.iso
//	    op: a.iso
type BatchFile map[string][]utils.DownloadEntry

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [YAML_FILE] [OPTIONS]",
		Short: "Process multiple downloads from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("error reading YAML file: %w", err)
			}
			var batchFile BatchFile
			if err := yaml.Unmarshal(data, &batchFile); err != nil {
				return fmt.Errorf("error parsing YAML file: %w", err)
			}
			jobs, warnings := buildJobsFromBatch(batchFile, cfg)
			for _, w := range warnings {
				output.PrintWarning("Warning: " + w)
			}
			if len(jobs) == 0 {
				return errors.New("no valid jobs found in the batch file")
			}
			return runJobs(cmd.Context(), jobs)
		},
	}
	return cmd
}

func buildJobsFromBatch(batchFile BatchFile, cfg *config.Config) ([]utils.Job, []string) {
	var jobs []utils.Job
	var warnings []string
	types := make([]string, 0, len(batchFile))
	for jobType := range batchFile {
		types = append(types, jobType)
	}
	sort.Strings(types)
	for _, jobType := range types {
		if normalizeJobType(jobType) != "http" {
			warnings = append(warnings, fmt.Sprintf("unknown job type '%s', skipping", jobType))
			continue
		}
		for _, entry := range batchFile[jobType] {
			if entry.URL == "" {
				warnings = append(warnings, fmt.Sprintf("empty link found in %s section, skipping", jobType))
				continue
			}
			jobs = append(jobs, cfg.Job(entry.URL, entry.OutputPath))
		}
	}
	return jobs, warnings
}

func normalizeJobType(jobType string) string {
	switch strings.ToLower(jobType) {
	case "http", "https":
		return "http"
	}
	return ""
}
