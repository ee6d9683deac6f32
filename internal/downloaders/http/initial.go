package splithttp

import (
	"context"
	"fmt"
	"net/url"

	"github.com/tanq16/splitfetch/internal/throughput"
	"github.com/tanq16/splitfetch/internal/utils"
)

const descriptorKey = "descriptor"

type HTTPDownloader struct {
	// Client overrides the client built from the job; used by tests.
	Client utils.HTTPDoer
}

func (d *HTTPDownloader) ValidateJob(job *utils.Job) error {
	parsedURL, err := url.Parse(job.URL)
	if err != nil {
		return fmt.Errorf("invalid URL: %v", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("missing host in URL: %s", job.URL)
	}
	if job.Connections < 0 {
		return fmt.Errorf("invalid number of connections: %d", job.Connections)
	}
	if job.SegmentSize < 0 {
		return fmt.Errorf("invalid segment size: %d", job.SegmentSize)
	}
	if job.RateLimit < 0 {
		return fmt.Errorf("invalid rate limit: %d", job.RateLimit)
	}
	return nil
}

// BuildJob probes the resource and stores the descriptor in the job metadata.
func (d *HTTPDownloader) BuildJob(ctx context.Context, job *utils.Job) error {
	if job.Connections == 0 {
		job.Connections = utils.DefaultConnections
	}
	job.HTTPClientConfig.HighThreadMode = job.Connections > utils.HighThreadLimit
	engine := d.engine(job)
	desc, err := engine.Probe(ctx, job.URL)
	if err != nil {
		return fmt.Errorf("error probing resource: %w", err)
	}
	if job.Metadata == nil {
		job.Metadata = make(map[string]any)
	}
	job.ID = engine.ID()
	job.OutputPath = desc.LocalPath
	job.Metadata[descriptorKey] = desc
	job.Metadata["fileSize"] = desc.Size
	job.Metadata["rangeSupported"] = desc.Segmentable()
	return nil
}

func (d *HTTPDownloader) Download(ctx context.Context, job *utils.Job) error {
	desc, ok := job.Metadata[descriptorKey].(*Descriptor)
	if !ok {
		return fmt.Errorf("job %s was not built", job.URL)
	}
	engine := d.engine(job)
	res, err := engine.Run(ctx, desc)
	if res != nil {
		job.Metadata["totalDownloaded"] = res.Committed
		job.Metadata["totalTime"] = res.Elapsed.Seconds()
		job.Metadata["state"] = res.State.String()
	}
	return err
}

func (d *HTTPDownloader) engine(job *utils.Job) *Engine {
	client := d.Client
	if client == nil {
		client = utils.NewClient(job.HTTPClientConfig)
	}
	cfg := DefaultConfig()
	cfg.Concurrency = job.Connections
	cfg.SegmentSize = job.SegmentSize
	cfg.OutputDir = job.OutputDir
	cfg.OutputName = job.OutputPath
	cfg.Overwrite = job.Overwrite
	cfg.Timeout = job.Timeout
	cfg.RateLimit = job.RateLimit
	cfg.FailFast = job.FailFast
	if job.ProgressFunc != nil {
		total := int64(UnknownSize)
		if desc, ok := job.Metadata[descriptorKey].(*Descriptor); ok {
			total = desc.Size
		}
		cfg.OnSample = func(s throughput.Sample) {
			job.ProgressFunc(s.Total, total, s.Rate)
		}
	}
	return NewEngine(client, cfg)
}
