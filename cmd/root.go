package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tanq16/splitfetch/internal/config"
	"github.com/tanq16/splitfetch/internal/output"
	"github.com/tanq16/splitfetch/internal/scheduler"
	"github.com/tanq16/splitfetch/internal/utils"
)

// Upper bound on connections across all parallel jobs of one run.
const maxTotalConnections = 64

var SplitfetchVersion = "dev"

var (
	v          = config.NewViper()
	cfgFile    string
	cfg        *config.Config
	logCloser  io.Closer
	outputPath string
)

var rootCmd = &cobra.Command{
	Use:               "splitfetch [URL]",
	Short:             "splitfetch downloads files over parallel HTTP range requests",
	Version:           SplitfetchVersion,
	Args:              cobra.MaximumNArgs(1),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return cmd.Help()
		}
		return runJobs(cmd.Context(), []utils.Job{cfg.Job(args[0], outputPath)})
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		output.PrintError("Error: " + err.Error())
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, _ []string) error {
	if err := config.BindFlags(v, cmd.Root().PersistentFlags()); err != nil {
		return err
	}
	if err := config.ReadFile(v, cfgFile); err != nil {
		return err
	}
	loaded, err := config.Load(v)
	if err != nil {
		return err
	}
	closer, err := utils.InitLogger(loaded.Debug, loaded.LogFile)
	if err != nil {
		return err
	}
	cfg, logCloser = loaded, closer
	return nil
}

func runJobs(ctx context.Context, jobs []utils.Job) error {
	if cfg.Workers > 1 && cfg.Workers*cfg.Connections > maxTotalConnections {
		perJob := max(maxTotalConnections/cfg.Workers, 1)
		for i := range jobs {
			jobs[i].Connections = perJob
			jobs[i].HTTPClientConfig.HighThreadMode = perJob > utils.HighThreadLimit
		}
	}
	return scheduler.New(cfg.Workers).Run(ctx, jobs)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, config.ConfigFile, "", "Config file (default $HOME/.config/splitfetch/config.yaml)")
	pf.IntP(config.Connections, "c", utils.DefaultConnections, "Number of concurrent range requests per download (above 8 enables high-thread-mode)")
	pf.StringP(config.SegmentSize, "s", "2MiB", "Size of each range request (eg. 512KiB, 4MiB)")
	pf.StringP(config.OutputDir, "d", ".", "Directory downloads are written to")
	pf.DurationP(config.Timeout, "t", 0, "Deadline for a whole download, 0 disables (eg. 10m)")
	pf.Duration(config.RequestTimeout, 3*time.Minute, "Idle timeout for response headers and between body reads")
	pf.DurationP(config.KeepAliveTimeout, "k", 90*time.Second, "Keep-alive timeout for idle connections (eg. 10s, 1m)")
	pf.StringP(config.UserAgent, "a", utils.ToolUserAgent, "User agent, or 'randomize' to pick a browser agent")
	pf.StringArrayP(config.Header, "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")
	pf.StringP(config.RateLimit, "r", "0", "Bandwidth cap per download in bytes per second, 0 disables (eg. 5MiB)")
	pf.Bool(config.FailFast, true, "Stop starting new ranges after the first failure")
	pf.Bool(config.Overwrite, false, "Replace an existing file instead of writing to a new name")
	pf.IntP(config.Workers, "w", 1, "Number of downloads to run in parallel")
	pf.Bool(config.Debug, false, "Enable debug logging")
	pf.String(config.LogFile, "", "Write logs to this file instead of stderr")

	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file name (inferred from the server if not provided)")

	rootCmd.AddCommand(newHTTPCmd())
	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newProbeCmd())
}
