package splithttp

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidSegmentSize = errors.New("segment size must be positive")
	ErrOvercommit         = errors.New("chunk would exceed expected total size")
	ErrChunkLength        = errors.New("chunk buffer length does not match its range")
	ErrIncomplete         = errors.New("download ended before all bytes were committed")
)

// Range is an inclusive byte range. End is -1 when the length is unknown.
type Range struct {
	Start int64
	End   int64
}

func (r Range) Len() int64 {
	if r.End < 0 {
		return -1
	}
	return r.End - r.Start + 1
}

func (r Range) String() string {
	if r.End < 0 {
		return fmt.Sprintf("%d-", r.Start)
	}
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// ConnectionError is a network or status failure during probe or fetch.
type ConnectionError struct {
	Op         string // "probe" or "fetch"
	URL        string
	StatusCode int // zero when no response was received
	Err        error
}

func (e *ConnectionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: unexpected status code %d", e.Op, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError means the server advertised range support but did not honour
// a ranged request.
type ProtocolError struct {
	Range      Range
	StatusCode int
	Reason     string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("range %s: %s (status %d)", e.Range, e.Reason, e.StatusCode)
}

type IncompleteTransferError struct {
	Range    Range
	Expected int64
	Received int64
}

func (e *IncompleteTransferError) Error() string {
	return fmt.Sprintf("range %s: expected %d bytes, received %d", e.Range, e.Expected, e.Received)
}

// IOError is a local file failure: open, write, sync or close.
type IOError struct {
	Op     string
	Path   string
	Offset int64
	Err    error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s at offset %d: %v", e.Op, e.Path, e.Offset, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// TaskFailure is the captured outcome of one failed task.
type TaskFailure struct {
	Ordinal int
	Range   Range
	Err     error
}

// DownloadError aggregates every task failure of one download together with
// the ranges that were never committed to the output file.
type DownloadError struct {
	URL         string
	Failures    []TaskFailure
	Unfulfilled []Range
	Committed   int64 // bytes of fully committed tasks
	Cause       error // writer failure, cancellation or timeout
}

func (e *DownloadError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "download %s failed", e.URL)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	if len(e.Failures) > 0 {
		fmt.Fprintf(&b, "; %d task(s) failed", len(e.Failures))
		for i, f := range e.Failures {
			if i == 3 {
				fmt.Fprintf(&b, "; and %d more", len(e.Failures)-i)
				break
			}
			fmt.Fprintf(&b, "; [%d] %v", f.Ordinal, f.Err)
		}
	}
	if len(e.Unfulfilled) > 0 {
		fmt.Fprintf(&b, "; %d range(s) unfulfilled", len(e.Unfulfilled))
	}
	return b.String()
}

func (e *DownloadError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures)+1)
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
