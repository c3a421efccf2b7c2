package idgen

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// An ID packs, from the most significant bit down:
//
//	1 bit unused | 41 bits ms since Epoch | 10 bits node | 12 bits sequence
const (
	nodeBits     = 10
	sequenceBits = 12

	// MaxNodeID is the largest node ID an ID can carry.
	MaxNodeID   = 1<<nodeBits - 1
	maxSequence = 1<<sequenceBits - 1

	nodeShift      = sequenceBits
	timestampShift = sequenceBits + nodeBits

	// Epoch is 2024-01-01 00:00:00 UTC in milliseconds.
	Epoch = 1704067200000
)

var (
	ErrNodeIDTooLarge   = errors.New("node ID too large")
	ErrClockMovedBack   = errors.New("clock moved backwards")
	ErrClockBeforeEpoch = errors.New("clock is before the ID epoch")
)

// Snowflake issues time-ordered 64-bit IDs, unique per node.
type Snowflake struct {
	mu       sync.Mutex
	clock    Clock
	nodeID   int64
	lastTime int64
	sequence int64
}

// New creates a generator for nodeID. A nil clock uses the system clock.
func New(nodeID int64, clock Clock) (*Snowflake, error) {
	if nodeID < 0 || nodeID > MaxNodeID {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrNodeIDTooLarge, nodeID, MaxNodeID)
	}
	if clock == nil {
		clock = &SystemClock{}
	}
	return &Snowflake{clock: clock, nodeID: nodeID, lastTime: -1}, nil
}

// Next returns an ID greater than every ID this generator returned before.
func (s *Snowflake) Next() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	switch {
	case now < Epoch:
		return 0, ErrClockBeforeEpoch
	case now < s.lastTime:
		return 0, fmt.Errorf("%w by %dms", ErrClockMovedBack, s.lastTime-now)
	case now == s.lastTime:
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			now = s.waitNextMillis()
		}
	default:
		s.sequence = 0
	}

	s.lastTime = now
	return compose(now, s.nodeID, s.sequence), nil
}

// waitNextMillis spins until the clock passes lastTime; 4096 IDs in one
// millisecond exhaust the sequence.
func (s *Snowflake) waitNextMillis() int64 {
	now := s.clock.Now()
	for now <= s.lastTime {
		time.Sleep(50 * time.Microsecond)
		now = s.clock.Now()
	}
	return now
}

func compose(ms, nodeID, sequence int64) int64 {
	return (ms-Epoch)<<timestampShift | nodeID<<nodeShift | sequence
}

// Parts is a decoded ID.
type Parts struct {
	Time     time.Time
	NodeID   int64
	Sequence int64
}

// Decompose splits an ID produced by Next back into its components.
func Decompose(id int64) Parts {
	return Parts{
		Time:     time.UnixMilli((id >> timestampShift) + Epoch).UTC(),
		NodeID:   (id >> nodeShift) & MaxNodeID,
		Sequence: id & maxSequence,
	}
}
