package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	splithttp "github.com/tanq16/splitfetch/internal/downloaders/http"
	"github.com/tanq16/splitfetch/internal/output"
	"github.com/tanq16/splitfetch/internal/utils"
)

// ErrJobsFailed is returned by Run when at least one job did not complete.
var ErrJobsFailed = errors.New("one or more downloads failed")

// DefaultRegistry maps job types to their downloader implementations.
func DefaultRegistry() map[string]utils.Downloader {
	return map[string]utils.Downloader{
		"http": &splithttp.HTTPDownloader{},
	}
}

type Scheduler struct {
	Registry map[string]utils.Downloader
	Workers  int
	Output   *output.Manager
}

func New(workers int) *Scheduler {
	return &Scheduler{
		Registry: DefaultRegistry(),
		Workers:  workers,
		Output:   output.NewManager(),
	}
}

// Run processes jobs on Workers goroutines and blocks until all are done or
// ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, jobs []utils.Job) error {
	s.Output.StartDisplay()
	defer s.Output.StopDisplay()

	jobCh := make(chan *utils.Job, len(jobs))
	for i := range jobs {
		jobCh <- &jobs[i]
	}
	close(jobCh)

	var wg sync.WaitGroup
	for i := range max(s.Workers, 1) {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for job := range jobCh {
				if ctx.Err() != nil {
					return
				}
				s.processJob(ctx, workerID, job)
			}
		}(i + 1)
	}
	wg.Wait()

	if _, failed := s.Output.Counts(); failed > 0 {
		return ErrJobsFailed
	}
	return ctx.Err()
}

func (s *Scheduler) processJob(ctx context.Context, workerID int, job *utils.Job) {
	name := job.URL
	if job.OutputPath != "" {
		name = filepath.Base(job.OutputPath)
	}
	id := s.Output.Register(name)
	logger := log.With().Str("op", "scheduler").Int("worker", workerID).Str("url", job.URL).Logger()

	downloader, exists := s.Registry[job.JobType]
	if !exists {
		s.Output.ReportError(id, fmt.Errorf("unknown job type: %s", job.JobType))
		return
	}
	if job.Metadata == nil {
		job.Metadata = make(map[string]any)
	}

	s.Output.SetMessage(id, fmt.Sprintf("Validating %s", name))
	if err := downloader.ValidateJob(job); err != nil {
		logger.Error().Err(err).Msg("Validation failed")
		s.Output.ReportError(id, fmt.Errorf("validation failed: %w", err))
		return
	}

	s.Output.SetMessage(id, fmt.Sprintf("Probing %s", name))
	if err := downloader.BuildJob(ctx, job); err != nil {
		logger.Error().Err(err).Msg("Build failed")
		s.Output.ReportError(id, fmt.Errorf("build failed: %w", err))
		return
	}
	name = filepath.Base(job.OutputPath)

	s.Output.SetMessage(id, fmt.Sprintf("Downloading %s", name))
	job.ProgressFunc = func(downloaded, total int64, bytesPerSec float64) {
		s.Output.SetProgress(id, downloaded, total, bytesPerSec)
	}
	if err := downloader.Download(ctx, job); err != nil {
		logger.Error().Err(err).Msg("Download failed")
		s.Output.SetMessage(id, fmt.Sprintf("Failed %s", name))
		s.Output.ReportError(id, err)
		return
	}
	size, _ := job.Metadata["totalDownloaded"].(int64)
	s.Output.Complete(id, fmt.Sprintf("Completed %s (%s)", name, utils.FormatBytes(size)))
	logger.Info().Str("path", job.OutputPath).Int64("bytes", size).Msg("Job complete")
}
