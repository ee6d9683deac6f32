package splithttp

import (
	"sync/atomic"

	"github.com/tanq16/splitfetch/internal/utils"
)

const DefaultSegmentSize int64 = utils.DefaultSegmentSize

type TaskStatus int32

const (
	TaskPending TaskStatus = iota
	TaskInFlight
	TaskDone
	TaskFailed
)

func (s TaskStatus) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskInFlight:
		return "in-flight"
	case TaskDone:
		return "done"
	case TaskFailed:
		return "failed"
	}
	return "unknown"
}

// Task is one contiguous byte range of the resource. Ranges never change
// after Partition; only the status moves.
type Task struct {
	Ordinal int
	Start   int64
	End     int64 // inclusive, -1 for the single task of an unknown-length resource
	Ranged  bool  // false in degraded mode: plain GET streamed in append order
	status  atomic.Int32
}

func (t *Task) Range() Range { return Range{Start: t.Start, End: t.End} }

// Len is the number of bytes the task covers, -1 when unknown.
func (t *Task) Len() int64 { return t.Range().Len() }

func (t *Task) Status() TaskStatus { return TaskStatus(t.status.Load()) }

func (t *Task) setStatus(s TaskStatus) { t.status.Store(int32(s)) }

// Partition splits the resource into tasks ordered by ascending offset.
// Without range support or a known size the whole resource is one task. A
// known empty resource yields no tasks.
func Partition(d *Descriptor, segmentSize int64) ([]*Task, error) {
	if segmentSize <= 0 {
		return nil, ErrInvalidSegmentSize
	}
	if d.KnownSize() && d.Size == 0 {
		return nil, nil
	}
	if !d.Segmentable() {
		end := UnknownSize
		if d.KnownSize() {
			end = d.Size - 1
		}
		return []*Task{{Ordinal: 0, Start: 0, End: end}}, nil
	}

	full := d.Size / segmentSize
	tasks := make([]*Task, 0, full+1)
	seq := 0
	next := func(start, end int64) {
		tasks = append(tasks, &Task{Ordinal: seq, Start: start, End: end, Ranged: true})
		seq++
	}
	for i := int64(0); i < full; i++ {
		start := i * segmentSize
		next(start, start+segmentSize-1)
	}
	if rem := d.Size % segmentSize; rem != 0 {
		start := full * segmentSize
		next(start, start+rem-1)
	}
	return tasks, nil
}
