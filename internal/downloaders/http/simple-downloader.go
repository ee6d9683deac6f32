package splithttp

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Stream performs a plain GET for a non-ranged task and emits the body as
// append chunks in read order, finishing with a Last marker. When the task
// length is known the received byte count must match it.
func (f *Fetcher) Stream(ctx context.Context, t *Task, emit func(Chunk) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return &ConnectionError{Op: "fetch", URL: f.URL, Err: err}
	}
	log.Debug().Str("op", "http/simple-downloader").Str("url", f.URL).Int64("expected", t.Len()).Msg("Starting single stream download")
	resp, err := f.Client.Do(req)
	if err != nil {
		return &ConnectionError{Op: "fetch", URL: f.URL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &ConnectionError{Op: "fetch", URL: f.URL, StatusCode: resp.StatusCode}
	}

	step := f.readSize()
	var offset int64
	for {
		buf := make([]byte, step)
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if err := f.account(ctx, n); err != nil {
				return &ConnectionError{Op: "fetch", URL: f.URL, Err: err}
			}
			if t.End >= 0 && offset+int64(n) > t.Len() {
				return &IncompleteTransferError{Range: t.Range(), Expected: t.Len(), Received: offset + int64(n) + countRemaining(resp.Body)}
			}
			c := Chunk{Ordinal: t.Ordinal, Start: offset, End: offset + int64(n) - 1, Data: buf[:n], Append: true}
			if err := emit(c); err != nil {
				return err
			}
			offset += int64(n)
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return &ConnectionError{Op: "fetch", URL: f.URL, Err: readErr}
		}
	}
	if t.End >= 0 && offset != t.Len() {
		return &IncompleteTransferError{Range: t.Range(), Expected: t.Len(), Received: offset}
	}
	return emit(Chunk{Ordinal: t.Ordinal, Start: offset, End: offset - 1, Append: true, Last: true})
}
