// Package config layers flags, SPLITFETCH_* environment variables and an
// optional YAML file into the settings a download runs with.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/tanq16/splitfetch/internal/utils"
)

// Option names shared by flags, environment and the config file.
const (
	Connections      = "connections"
	SegmentSize      = "segment-size"
	OutputDir        = "output-dir"
	Timeout          = "timeout"
	RequestTimeout   = "request-timeout"
	KeepAliveTimeout = "keep-alive-timeout"
	UserAgent        = "user-agent"
	Header           = "header"
	RateLimit        = "rate-limit"
	FailFast         = "fail-fast"
	Overwrite        = "overwrite"
	Workers          = "workers"
	Debug            = "debug"
	LogFile          = "log-file"
	ConfigFile       = "config"
)

const EnvPrefix = "SPLITFETCH"

type Config struct {
	Connections      int
	SegmentSize      int64
	OutputDir        string
	Timeout          time.Duration
	RequestTimeout   time.Duration
	KeepAliveTimeout time.Duration
	UserAgent        string
	Headers          map[string]string
	RateLimit        int64
	FailFast         bool
	Overwrite        bool
	Workers          int
	Debug            bool
	LogFile          string
}

// NewViper returns an instance with defaults and environment binding set up.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetDefault(Connections, utils.DefaultConnections)
	v.SetDefault(SegmentSize, "2MiB")
	v.SetDefault(OutputDir, ".")
	v.SetDefault(Timeout, time.Duration(0))
	v.SetDefault(RequestTimeout, 3*time.Minute)
	v.SetDefault(KeepAliveTimeout, 90*time.Second)
	v.SetDefault(UserAgent, utils.ToolUserAgent)
	v.SetDefault(Header, []string{})
	v.SetDefault(RateLimit, "0")
	v.SetDefault(FailFast, true)
	v.SetDefault(Overwrite, false)
	v.SetDefault(Workers, 1)
	v.SetDefault(Debug, false)
	v.SetDefault(LogFile, "")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// ReadFile loads path, or $HOME/.config/splitfetch/config.yaml when path is
// empty. A missing default file is not an error.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
		return nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	v.AddConfigPath(filepath.Join(home, ".config", "splitfetch"))
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// BindFlags makes every flag in fs that names an option override the file
// and environment values when it is set explicitly.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == ConfigFile || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(f.Name, f)
	})
	return bindErr
}

// Load reads the effective settings out of v and validates them.
func Load(v *viper.Viper) (*Config, error) {
	segment, err := utils.ParseSize(v.GetString(SegmentSize))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", SegmentSize, err)
	}
	rateLimit, err := utils.ParseSize(v.GetString(RateLimit))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", RateLimit, err)
	}
	cfg := &Config{
		Connections:      v.GetInt(Connections),
		SegmentSize:      segment,
		OutputDir:        v.GetString(OutputDir),
		Timeout:          v.GetDuration(Timeout),
		RequestTimeout:   v.GetDuration(RequestTimeout),
		KeepAliveTimeout: v.GetDuration(KeepAliveTimeout),
		UserAgent:        v.GetString(UserAgent),
		Headers:          utils.ParseHeaderArgs(v.GetStringSlice(Header)),
		RateLimit:        rateLimit,
		FailFast:         v.GetBool(FailFast),
		Overwrite:        v.GetBool(Overwrite),
		Workers:          v.GetInt(Workers),
		Debug:            v.GetBool(Debug),
		LogFile:          v.GetString(LogFile),
	}
	if cfg.UserAgent == "randomize" {
		cfg.UserAgent = utils.GetRandomUserAgent()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Connections < 1 {
		errs = append(errs, fmt.Errorf("%s must be at least 1, got %d", Connections, c.Connections))
	}
	if c.SegmentSize < 1 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %d", SegmentSize, c.SegmentSize))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("%s must be at least 1, got %d", Workers, c.Workers))
	}
	if c.Timeout < 0 || c.RequestTimeout < 0 || c.KeepAliveTimeout < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if c.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("%s must not be negative", RateLimit))
	}
	if c.OutputDir == "" {
		errs = append(errs, fmt.Errorf("%s must not be empty", OutputDir))
	}
	return errors.Join(errs...)
}

func (c *Config) HTTPClientConfig() utils.HTTPClientConfig {
	return utils.HTTPClientConfig{
		Timeout:        c.RequestTimeout,
		KATimeout:      c.KeepAliveTimeout,
		UserAgent:      c.UserAgent,
		Headers:        c.Headers,
		HighThreadMode: c.Connections > utils.HighThreadLimit,
	}
}

// Job fills a download job for rawURL with these settings. outputPath may be
// empty to let the probe pick the name.
func (c *Config) Job(rawURL, outputPath string) utils.Job {
	return utils.Job{
		JobType:          "http",
		URL:              rawURL,
		OutputPath:       outputPath,
		OutputDir:        c.OutputDir,
		Connections:      c.Connections,
		SegmentSize:      c.SegmentSize,
		RateLimit:        c.RateLimit,
		FailFast:         c.FailFast,
		Overwrite:        c.Overwrite,
		Timeout:          c.Timeout,
		Metadata:         make(map[string]any),
		HTTPClientConfig: c.HTTPClientConfig(),
	}
}
