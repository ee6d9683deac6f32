package splithttp

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func rangedChunk(ordinal int, data []byte, start int64) Chunk {
	return Chunk{Ordinal: ordinal, Start: start, End: start + int64(len(data)) - 1, Data: data}
}

func runWriter(w *Writer, chunks ...Chunk) WriteResult {
	ch := make(chan Chunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return w.Run(context.Background(), ch)
}

func TestWriterOutOfOrder(t *testing.T) {
	data := payload(100)
	sink := &memSink{}
	w := NewWriter(sink, "mem", 100)
	ch := make(chan Chunk)
	resCh := make(chan WriteResult, 1)
	go func() { resCh <- w.Run(context.Background(), ch) }()

	order := []int{3, 0, 2, 1}
	for i, ord := range order {
		start := int64(ord * 25)
		ch <- rangedChunk(ord, data[start:start+25], start)
		if i < len(order)-1 {
			select {
			case <-w.Done():
				t.Fatalf("writer done after %d of %d chunks", i+1, len(order))
			default:
			}
		}
	}
	close(ch)
	res := <-resCh
	if res.Err != nil || !res.Done || res.Committed != 100 {
		t.Fatalf("unexpected result %+v", res)
	}
	if !bytes.Equal(sink.bytes(), data) {
		t.Error("output does not match source")
	}
	for ord := range 4 {
		if !res.Fulfilled[ord] {
			t.Errorf("ordinal %d not fulfilled", ord)
		}
	}
}

func TestWriterRejectsBadChunks(t *testing.T) {
	tests := []struct {
		name   string
		total  int64
		chunks []Chunk
		want   error
	}{
		{
			name:   "duplicate ordinal",
			total:  20,
			chunks: []Chunk{rangedChunk(0, make([]byte, 10), 0), rangedChunk(0, make([]byte, 10), 0)},
			want:   ErrOvercommit,
		},
		{
			name:   "past total",
			total:  10,
			chunks: []Chunk{rangedChunk(0, make([]byte, 10), 5)},
			want:   ErrOvercommit,
		},
		{
			name:   "length mismatch",
			total:  10,
			chunks: []Chunk{{Ordinal: 0, Start: 0, End: 9, Data: make([]byte, 4)}},
			want:   ErrChunkLength,
		},
		{
			name:   "stream ended early",
			total:  10,
			chunks: []Chunk{{Start: 0, End: 3, Data: make([]byte, 4), Append: true}, {Start: 4, End: 3, Append: true, Last: true}},
			want:   ErrIncomplete,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runWriter(NewWriter(&memSink{}, "mem", tt.total), tt.chunks...)
			if !errors.Is(res.Err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, res.Err)
			}
			if res.Done {
				t.Error("writer must not report done")
			}
		})
	}
}

func TestWriterFailedWriteNotCounted(t *testing.T) {
	boom := errors.New("disk full")
	sink := &memSink{err: boom}
	res := runWriter(NewWriter(sink, "mem", 10), rangedChunk(0, make([]byte, 10), 0))
	var ioErr *IOError
	if !errors.As(res.Err, &ioErr) || !errors.Is(res.Err, boom) {
		t.Fatalf("expected IOError wrapping disk full, got %v", res.Err)
	}
	if res.Committed != 0 || res.Fulfilled[0] || res.Done {
		t.Errorf("failed write was counted: %+v", res)
	}
}

func TestWriterAppendStream(t *testing.T) {
	sink := &memSink{}
	w := NewWriter(sink, "mem", UnknownSize)
	res := runWriter(w,
		Chunk{Start: 0, End: 2, Data: []byte("abc"), Append: true},
		Chunk{Start: 3, End: 4, Data: []byte("de"), Append: true},
		Chunk{Start: 5, End: 4, Append: true, Last: true},
	)
	if res.Err != nil || !res.Done || res.Committed != 5 {
		t.Fatalf("unexpected result %+v", res)
	}
	if string(sink.bytes()) != "abcde" {
		t.Errorf("output = %q", sink.bytes())
	}
}

func TestWriterAppendOutOfOrder(t *testing.T) {
	res := runWriter(NewWriter(&memSink{}, "mem", UnknownSize),
		Chunk{Start: 3, End: 4, Data: []byte("de"), Append: true},
	)
	var ioErr *IOError
	if !errors.As(res.Err, &ioErr) {
		t.Fatalf("expected IOError, got %v", res.Err)
	}
}

func TestWriterEmptyResourceIsDone(t *testing.T) {
	w := NewWriter(&memSink{}, "mem", 0)
	res := runWriter(w)
	if res.Err != nil || !res.Done {
		t.Fatalf("unexpected result %+v", res)
	}
	select {
	case <-w.Done():
	default:
		t.Error("done channel not closed")
	}
}

func TestWriterStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := NewWriter(&memSink{}, "mem", 10).Run(ctx, make(chan Chunk))
	if !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", res.Err)
	}
}
