// Package ids generates time-ordered 64-bit identifiers.
//
// Layout (most significant first):
//
//	42 bits  milliseconds since 2022-01-01T00:00:00Z
//	10 bits  worker ID
//	12 bits  per-millisecond sequence
package ids

import (
	"fmt"
	"sync"
	"time"
)

const (
	workerBits   = 10
	sequenceBits = 12

	MaxWorkerID = 1<<workerBits - 1
	maxSequence = 1<<sequenceBits - 1

	workerShift    = sequenceBits
	timestampShift = sequenceBits + workerBits
)

// Epoch is the zero point of the timestamp component.
var Epoch = time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)

// Generator hands out unique, strictly increasing IDs.
type Generator interface {
	NextID() uint64
}

// Snowflake is a process-local Generator. Distinct processes need distinct
// worker IDs for their IDs not to collide.
type Snowflake struct {
	mu       sync.Mutex
	workerID uint64
	lastMs   int64
	sequence uint64
	now      func() time.Time
}

var _ Generator = (*Snowflake)(nil)

func NewSnowflake(workerID int) (*Snowflake, error) {
	if workerID < 0 || workerID > MaxWorkerID {
		return nil, fmt.Errorf("worker id %d out of range 0-%d", workerID, MaxWorkerID)
	}
	return &Snowflake{
		workerID: uint64(workerID),
		now:      time.Now,
	}, nil
}

// NextID returns the next ID. When the sequence for the current millisecond
// is exhausted, or the wall clock moves backwards, the timestamp component
// is carried forward instead of waiting.
func (s *Snowflake) NextID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms := s.now().Sub(Epoch).Milliseconds()
	if ms > s.lastMs {
		s.lastMs = ms
		s.sequence = 0
	} else {
		s.sequence++
		if s.sequence > maxSequence {
			s.lastMs++
			s.sequence = 0
		}
	}

	return uint64(s.lastMs)<<timestampShift | s.workerID<<workerShift | s.sequence
}

// Timestamp extracts the creation time encoded in id.
func Timestamp(id uint64) time.Time {
	return Epoch.Add(time.Duration(id>>timestampShift) * time.Millisecond)
}

// WorkerID extracts the worker component of id.
func WorkerID(id uint64) int {
	return int((id >> workerShift) & MaxWorkerID)
}
