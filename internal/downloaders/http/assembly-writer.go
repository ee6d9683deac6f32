package splithttp

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog/log"
)

// Sink is the output file as the writer sees it.
type Sink interface {
	io.Writer
	io.WriterAt
}

type WriteResult struct {
	Committed int64
	Done      bool
	Fulfilled map[int]bool // ordinals whose bytes are all on disk
	Err       error
}

// Writer is the single owner of the output file for one download. Chunks may
// arrive in any order; ranged chunks are written at their own offset and
// degraded-stream chunks are appended.
type Writer struct {
	sink  Sink
	path  string
	total int64

	committed int64
	fulfilled map[int]bool
	done      chan struct{}
	doneOnce  sync.Once
}

// NewWriter prepares a writer expecting total bytes, or UnknownSize.
func NewWriter(sink Sink, path string, total int64) *Writer {
	return &Writer{
		sink:      sink,
		path:      path,
		total:     total,
		fulfilled: make(map[int]bool),
		done:      make(chan struct{}),
	}
}

// Done is closed once the writer has committed the whole resource.
func (w *Writer) Done() <-chan struct{} {
	return w.done
}

// Run consumes chunks until the channel is closed, ctx is cancelled or a
// write fails. It must be called once.
func (w *Writer) Run(ctx context.Context, chunks <-chan Chunk) WriteResult {
	if w.total == 0 {
		w.markDone()
	}
	for {
		select {
		case <-ctx.Done():
			if w.isDone() {
				return w.result(nil)
			}
			return w.result(ctx.Err())
		case c, ok := <-chunks:
			if !ok {
				return w.result(nil)
			}
			if err := w.commit(c); err != nil {
				log.Error().Str("op", "http/assembly-writer").Str("path", w.path).Int("ordinal", c.Ordinal).Err(err).Msg("Write failed")
				return w.result(err)
			}
		}
	}
}

func (w *Writer) commit(c Chunk) error {
	if c.Last {
		return w.finishStream(c)
	}
	n := int64(len(c.Data))
	if n != c.End-c.Start+1 || n == 0 {
		return fmt.Errorf("%w: range %d-%d carries %d bytes", ErrChunkLength, c.Start, c.End, n)
	}
	if !c.Append && w.fulfilled[c.Ordinal] {
		return fmt.Errorf("%w: ordinal %d committed twice", ErrOvercommit, c.Ordinal)
	}
	if w.total >= 0 && (c.End >= w.total || w.committed+n > w.total) {
		return fmt.Errorf("%w: range %d-%d with %d of %d bytes committed", ErrOvercommit, c.Start, c.End, w.committed, w.total)
	}

	if c.Append {
		if c.Start != w.committed {
			return &IOError{Op: "append", Path: w.path, Offset: c.Start, Err: fmt.Errorf("stream out of order, file ends at %d", w.committed)}
		}
		written, err := w.sink.Write(c.Data)
		if err == nil && int64(written) != n {
			err = io.ErrShortWrite
		}
		if err != nil {
			return &IOError{Op: "append", Path: w.path, Offset: c.Start, Err: err}
		}
	} else {
		written, err := w.sink.WriteAt(c.Data, c.Start)
		if err == nil && int64(written) != n {
			err = io.ErrShortWrite
		}
		if err != nil {
			return &IOError{Op: "write", Path: w.path, Offset: c.Start, Err: err}
		}
		w.fulfilled[c.Ordinal] = true
	}

	w.committed += n
	log.Debug().Str("op", "http/assembly-writer").Int("ordinal", c.Ordinal).Int64("start", c.Start).
		Int64("bytes", n).Int64("committed", w.committed).Msg("Chunk committed")
	if w.total >= 0 && w.committed == w.total {
		w.markDone()
	}
	return nil
}

// finishStream handles the end-of-input marker of the degraded stream.
func (w *Writer) finishStream(c Chunk) error {
	if c.Start != w.committed {
		return &IOError{Op: "append", Path: w.path, Offset: c.Start, Err: fmt.Errorf("end of stream at %d, file ends at %d", c.Start, w.committed)}
	}
	if w.total >= 0 && w.committed != w.total {
		return fmt.Errorf("%w: stream ended at %d of %d bytes", ErrIncomplete, w.committed, w.total)
	}
	w.fulfilled[c.Ordinal] = true
	w.markDone()
	return nil
}

func (w *Writer) markDone() {
	w.doneOnce.Do(func() { close(w.done) })
}

func (w *Writer) isDone() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

func (w *Writer) result(err error) WriteResult {
	return WriteResult{
		Committed: w.committed,
		Done:      w.isDone(),
		Fulfilled: w.fulfilled,
		Err:       err,
	}
}
