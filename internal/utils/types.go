package utils

import (
	"context"
	"time"
)

type Downloader interface {
	ValidateJob(job *Job) error
	BuildJob(ctx context.Context, job *Job) error
	Download(ctx context.Context, job *Job) error
}

// ProgressFunc receives the running byte total, the expected total (-1 when
// unknown) and the rate of the last throughput sample.
type ProgressFunc func(downloaded, total int64, bytesPerSec float64)

type Job struct {
	ID               string
	JobType          string
	URL              string
	OutputPath       string // explicit file name, relative to OutputDir unless absolute
	OutputDir        string
	Connections      int
	SegmentSize      int64
	RateLimit        int64 // bytes per second, 0 disables
	FailFast         bool
	Overwrite        bool
	Timeout          time.Duration // whole download, 0 disables
	ProgressFunc     ProgressFunc
	Metadata         map[string]any
	HTTPClientConfig HTTPClientConfig
}

type DownloadEntry struct {
	OutputPath string `yaml:"op,omitempty"`
	URL        string `yaml:"link"`
}
