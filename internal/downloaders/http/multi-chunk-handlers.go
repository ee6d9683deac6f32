package splithttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/splitfetch/internal/utils"
	"golang.org/x/time/rate"
)

// Chunk carries the bytes of one task, or one piece of the degraded stream,
// to the assembly writer. The writer owns Data once the chunk is handed off.
type Chunk struct {
	Ordinal int
	Start   int64
	End     int64
	Data    []byte
	Append  bool // degraded stream piece, written at the current end of file
	Last    bool // degraded stream reached end of input; Data is empty
}

// Fetcher executes tasks against one URL. It is safe for concurrent use.
type Fetcher struct {
	Client    utils.HTTPDoer
	URL       string
	Validator string
	Limiter   *rate.Limiter // optional, shared by all workers
	Progress  func(n int64) // called after every read with its size
	ReadSize  int           // read granularity, utils.DefaultReadSize when zero
}

// Fetch retrieves a ranged task into a buffer of exactly Len() bytes.
func (f *Fetcher) Fetch(ctx context.Context, t *Task) (Chunk, error) {
	r := t.Range()
	rangeHeader := fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return Chunk{}, &ConnectionError{Op: "fetch", URL: f.URL, Err: err}
	}
	req.Header.Set("Range", rangeHeader)
	if v := ifRangeValidator(f.Validator); v != "" {
		req.Header.Set("If-Range", v)
	}
	log.Debug().Str("op", "http/multi-chunk").Int("ordinal", t.Ordinal).Str("range", rangeHeader).Msg("Sending range request")
	resp, err := f.Client.Do(req)
	if err != nil {
		return Chunk{}, &ConnectionError{Op: "fetch", URL: f.URL, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
	case http.StatusOK:
		return Chunk{}, &ProtocolError{Range: r, StatusCode: resp.StatusCode, Reason: "server ignored the range request or the resource changed"}
	case http.StatusRequestedRangeNotSatisfiable:
		return Chunk{}, &ProtocolError{Range: r, StatusCode: resp.StatusCode, Reason: "range not satisfiable"}
	case http.StatusPreconditionFailed:
		return Chunk{}, &ProtocolError{Range: r, StatusCode: resp.StatusCode, Reason: "validator no longer matches"}
	default:
		return Chunk{}, &ConnectionError{Op: "fetch", URL: f.URL, StatusCode: resp.StatusCode}
	}
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		start, end, _, err := ParseContentRange(cr)
		if err != nil {
			return Chunk{}, &ProtocolError{Range: r, StatusCode: resp.StatusCode, Reason: err.Error()}
		}
		if start != r.Start || end != r.End {
			return Chunk{}, &ProtocolError{Range: r, StatusCode: resp.StatusCode, Reason: "Content-Range " + cr + " does not match request"}
		}
	}

	want := r.Len()
	buf := make([]byte, want)
	got, err := f.readInto(ctx, resp.Body, buf)
	if err != nil {
		return Chunk{}, &ConnectionError{Op: "fetch", URL: f.URL, Err: err}
	}
	if got < want {
		return Chunk{}, &IncompleteTransferError{Range: r, Expected: want, Received: got}
	}
	if extra := countRemaining(resp.Body); extra > 0 {
		return Chunk{}, &IncompleteTransferError{Range: r, Expected: want, Received: want + extra}
	}
	return Chunk{Ordinal: t.Ordinal, Start: r.Start, End: r.End, Data: buf}, nil
}

// ifRangeValidator returns the entity tag to send in If-Range. A weak tag is
// never a valid If-Range value, so the request goes out unconditional and the
// Content-Range and length checks are left to catch a changed resource.
func ifRangeValidator(etag string) string {
	etag = strings.TrimSpace(etag)
	if strings.HasPrefix(etag, "W/") {
		return ""
	}
	return etag
}

// readInto fills buf from body until it is full or the body ends, throttling
// and reporting every read.
func (f *Fetcher) readInto(ctx context.Context, body io.Reader, buf []byte) (int64, error) {
	step := f.readSize()
	var got int
	for got < len(buf) {
		n, err := body.Read(buf[got:min(got+step, len(buf))])
		if n > 0 {
			if werr := f.account(ctx, n); werr != nil {
				return int64(got), werr
			}
			got += n
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return int64(got), err
		}
	}
	return int64(got), nil
}

func (f *Fetcher) account(ctx context.Context, n int) error {
	if f.Progress != nil {
		f.Progress(int64(n))
	}
	if f.Limiter != nil {
		return f.Limiter.WaitN(ctx, n)
	}
	return nil
}

func (f *Fetcher) readSize() int {
	size := f.ReadSize
	if size <= 0 {
		size = utils.DefaultReadSize
	}
	if f.Limiter != nil && f.Limiter.Burst() < size {
		size = max(f.Limiter.Burst(), 1)
	}
	return size
}

// countRemaining drains r and returns how many bytes were left in it.
func countRemaining(r io.Reader) int64 {
	n, _ := io.Copy(io.Discard, r)
	return n
}

// Pool runs tasks on a fixed number of workers and hands completed chunks to Out.
type Pool struct {
	Size    int
	Fetcher *Fetcher
	Out     chan<- Chunk
	// FailFast stops workers from starting tasks they draw after the first
	// failure; tasks already in flight still run to completion.
	FailFast bool
}

// Run dispatches tasks in order and blocks until every worker has returned.
// Tasks skipped after a fail-fast stop stay Pending.
func (p *Pool) Run(ctx context.Context, tasks []*Task) []TaskFailure {
	size := max(p.Size, 1)
	drawCtx, stopDrawing := context.WithCancel(ctx)
	defer stopDrawing()

	dispatch := make(chan *Task)
	go func() {
		defer close(dispatch)
		for _, t := range tasks {
			if drawCtx.Err() != nil {
				return
			}
			select {
			case dispatch <- t:
			case <-drawCtx.Done():
				return
			}
		}
	}()

	var (
		mu       sync.Mutex
		failures []TaskFailure
		wg       sync.WaitGroup
	)
	for i := range size {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for t := range dispatch {
				if drawCtx.Err() != nil {
					continue
				}
				if err := p.execute(ctx, t); err != nil {
					log.Error().Str("op", "http/multi-chunk").Int("worker", workerID).Int("ordinal", t.Ordinal).
						Str("range", t.Range().String()).Err(err).Msg("Task failed")
					mu.Lock()
					failures = append(failures, TaskFailure{Ordinal: t.Ordinal, Range: t.Range(), Err: err})
					mu.Unlock()
					if p.FailFast {
						stopDrawing()
					}
				}
			}
		}(i + 1)
	}
	wg.Wait()
	return failures
}

func (p *Pool) execute(ctx context.Context, t *Task) error {
	t.setStatus(TaskInFlight)
	var err error
	if t.Ranged {
		var c Chunk
		if c, err = p.Fetcher.Fetch(ctx, t); err == nil {
			err = p.handOff(ctx, c)
		}
	} else {
		err = p.Fetcher.Stream(ctx, t, func(c Chunk) error {
			return p.handOff(ctx, c)
		})
	}
	if err != nil {
		t.setStatus(TaskFailed)
		return err
	}
	t.setStatus(TaskDone)
	return nil
}

func (p *Pool) handOff(ctx context.Context, c Chunk) error {
	select {
	case p.Out <- c:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("hand-off of range %d-%d: %w", c.Start, c.End, ctx.Err())
	}
}

// ParseContentRange parses "bytes start-end/total". Total is -1 for "*".
func ParseContentRange(header string) (start, end, total int64, err error) {
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, "bytes ") {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}
	header = strings.TrimPrefix(header, "bytes ")
	parts := strings.Split(header, "/")
	if len(parts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}
	rangeParts := strings.Split(parts[0], "-")
	if len(rangeParts) != 2 {
		return 0, 0, 0, fmt.Errorf("invalid Content-Range format: %s", header)
	}
	if start, err = strconv.ParseInt(rangeParts[0], 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid start byte: %w", err)
	}
	if end, err = strconv.ParseInt(rangeParts[1], 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid end byte: %w", err)
	}
	if parts[1] == "*" {
		total = -1
	} else if total, err = strconv.ParseInt(parts[1], 10, 64); err != nil {
		return 0, 0, 0, fmt.Errorf("invalid total bytes: %w", err)
	}
	return start, end, total, nil
}
