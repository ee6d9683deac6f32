package splithttp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/splitfetch/internal/throughput"
	"github.com/tanq16/splitfetch/internal/utils"
	"golang.org/x/time/rate"
)

type State int32

const (
	StateIdle State = iota
	StateProbing
	StatePartitioning
	StateOpeningOutput
	StateDownloading
	StateAssembling
	StateFinished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProbing:
		return "probing"
	case StatePartitioning:
		return "partitioning"
	case StateOpeningOutput:
		return "opening-output"
	case StateDownloading:
		return "downloading"
	case StateAssembling:
		return "assembling"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

type Config struct {
	Concurrency int   // fetch workers
	SegmentSize int64 // bytes per task
	OutputDir   string
	OutputName  string // overrides the resolved file name
	Overwrite   bool   // truncate an existing file instead of picking a new name
	Timeout     time.Duration
	RateLimit   int64 // bytes per second across all workers, 0 disables
	FailFast    bool

	SampleInterval time.Duration
	OnSample       func(throughput.Sample)
	OnState        func(State)
	Resolver       FileNameResolver
}

func DefaultConfig() Config {
	return Config{
		Concurrency:    utils.DefaultConnections,
		SegmentSize:    DefaultSegmentSize,
		OutputDir:      ".",
		FailFast:       true,
		SampleInterval: throughput.DefaultInterval,
	}
}

type Result struct {
	ID         string
	Descriptor *Descriptor
	Tasks      int
	Committed  int64
	Elapsed    time.Duration
	State      State
}

// Engine drives one download at a time. Separate engines share nothing and
// may run concurrently.
type Engine struct {
	id     string
	client utils.HTTPDoer
	cfg    Config
	state  atomic.Int32
}

func NewEngine(client utils.HTTPDoer, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.SegmentSize == 0 {
		cfg.SegmentSize = def.SegmentSize
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = def.OutputDir
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = def.SampleInterval
	}
	return &Engine{id: uuid.NewString(), client: client, cfg: cfg}
}

func (e *Engine) ID() string { return e.id }

func (e *Engine) State() State { return State(e.state.Load()) }

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
	if e.cfg.OnState != nil {
		e.cfg.OnState(s)
	}
}

// Probe learns the resource metadata and resolves the local path. Without
// Overwrite an existing file is left alone and a fresh sibling name is used.
func (e *Engine) Probe(ctx context.Context, rawURL string) (*Descriptor, error) {
	e.setState(StateProbing)
	p := &Prober{
		Client:     e.client,
		Resolver:   e.cfg.Resolver,
		OutputDir:  e.cfg.OutputDir,
		OutputName: e.cfg.OutputName,
	}
	d, err := p.Probe(ctx, rawURL)
	if err != nil {
		e.setState(StateFailed)
		return nil, err
	}
	if !e.cfg.Overwrite {
		if _, err := os.Stat(d.LocalPath); err == nil {
			d = d.WithLocalPath(utils.RenewOutputPath(d.LocalPath))
		}
	}
	return d, nil
}

// Download probes rawURL and fetches it. The configured timeout covers both.
func (e *Engine) Download(ctx context.Context, rawURL string) (*Result, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	d, err := e.Probe(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, d)
}

// Run fetches a resource that has already been probed.
func (e *Engine) Run(ctx context.Context, d *Descriptor) (*Result, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.run(ctx, d)
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, e.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

func (e *Engine) run(ctx context.Context, d *Descriptor) (*Result, error) {
	start := time.Now()
	logger := log.With().Str("op", "http/multi-down").Str("id", e.id).Str("url", d.URL).Logger()
	res := &Result{ID: e.id, Descriptor: d}

	e.setState(StatePartitioning)
	tasks, err := Partition(d, e.cfg.SegmentSize)
	if err != nil {
		return e.failed(res, start), err
	}
	res.Tasks = len(tasks)
	logger.Debug().Int("tasks", len(tasks)).Int64("segmentSize", e.cfg.SegmentSize).Int("workers", e.cfg.Concurrency).Msg("Partitioned resource")

	e.setState(StateOpeningOutput)
	f, err := openOutput(d)
	if err != nil {
		return e.failed(res, start), err
	}

	e.setState(StateDownloading)
	monitor := throughput.New(e.cfg.SampleInterval, e.cfg.OnSample)
	monitor.Start()
	defer monitor.Stop()
	logger.Debug().Dur("sampleInterval", monitor.Interval()).Str("path", d.LocalPath).Msg("Output open, fetching")

	fetchCtx, cancelFetch := context.WithCancel(ctx)
	defer cancelFetch()

	chunks := make(chan Chunk, e.cfg.Concurrency)
	writer := NewWriter(f, d.LocalPath, d.Size)
	writeDone := make(chan WriteResult, 1)
	go func() {
		wr := writer.Run(ctx, chunks)
		if wr.Err != nil {
			cancelFetch() // nothing more can be committed
		}
		writeDone <- wr
	}()

	pool := &Pool{
		Size: e.cfg.Concurrency,
		Fetcher: &Fetcher{
			Client:    e.client,
			URL:       d.URL,
			Validator: d.Validator,
			Limiter:   e.limiter(),
			Progress:  monitor.Add,
		},
		Out:      chunks,
		FailFast: e.cfg.FailFast,
	}
	failures := pool.Run(fetchCtx, tasks)
	close(chunks)

	e.setState(StateAssembling)
	wr := <-writeDone
	monitor.Stop()
	closeErr := finalizeOutput(f, d.LocalPath)
	res.Elapsed = time.Since(start)

	if len(failures) == 0 && wr.Err == nil && wr.Done && closeErr == nil {
		res.Committed = wr.Committed
		res.State = StateFinished
		e.setState(StateFinished)
		logger.Info().Int64("bytes", wr.Committed).Dur("elapsed", res.Elapsed).Str("path", d.LocalPath).Msg("Download complete")
		return res, nil
	}

	derr := &DownloadError{URL: d.URL, Failures: failures, Cause: wr.Err}
	if derr.Cause == nil {
		derr.Cause = closeErr
	}
	if derr.Cause == nil && ctx.Err() != nil {
		derr.Cause = ctx.Err()
	}
	if derr.Cause == nil && len(failures) == 0 {
		derr.Cause = ErrIncomplete
	}
	sort.Slice(derr.Failures, func(i, j int) bool { return derr.Failures[i].Ordinal < derr.Failures[j].Ordinal })
	for _, t := range tasks {
		if wr.Fulfilled[t.Ordinal] {
			derr.Committed += max(t.Len(), 0)
		} else {
			derr.Unfulfilled = append(derr.Unfulfilled, t.Range())
		}
	}
	res.Committed = derr.Committed
	logger.Error().Err(derr).Int("failed", len(failures)).Int("unfulfilled", len(derr.Unfulfilled)).Msg("Download failed")
	return e.failed(res, start), derr
}

func (e *Engine) failed(res *Result, start time.Time) *Result {
	res.State = StateFailed
	res.Elapsed = time.Since(start)
	e.setState(StateFailed)
	return res
}

func (e *Engine) limiter() *rate.Limiter {
	if e.cfg.RateLimit <= 0 {
		return nil
	}
	burst := int(min(e.cfg.RateLimit, int64(utils.DefaultReadSize)))
	return rate.NewLimiter(rate.Limit(e.cfg.RateLimit), burst)
}

// openOutput creates or truncates the destination. Segmented downloads get
// the final size up front so positional writes never extend the file.
func openOutput(d *Descriptor) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(d.LocalPath), 0755); err != nil {
		return nil, &IOError{Op: "mkdir", Path: filepath.Dir(d.LocalPath), Err: err}
	}
	f, err := os.OpenFile(d.LocalPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, &IOError{Op: "open", Path: d.LocalPath, Err: err}
	}
	if d.Segmentable() && d.Size > 0 {
		if err := f.Truncate(d.Size); err != nil {
			f.Close()
			return nil, &IOError{Op: "truncate", Path: d.LocalPath, Offset: d.Size, Err: err}
		}
	}
	return f, nil
}

func finalizeOutput(f *os.File, path string) error {
	syncErr := f.Sync()
	closeErr := f.Close()
	if err := errors.Join(syncErr, closeErr); err != nil {
		return &IOError{Op: "close", Path: path, Err: fmt.Errorf("error finalizing output file: %w", err)}
	}
	return nil
}
