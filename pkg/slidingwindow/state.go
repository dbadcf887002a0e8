package slidingwindow

import (
	"fmt"
	"sync"
	"time"

	"github.com/ava-labs/rollup-settler/pkg/types"
)

// State is the thread-safe in-memory view of the pipeline window: the settlement watermark, the
// known chain head, claimed and completed blocks and per-block retry bookkeeping.
type State struct {
	mu         sync.Mutex
	lowest     uint64 // next block to settle.
	highest    uint64 // highest block known to exist.
	hasHighest bool

	// Blocks claimed by a worker.
	inflight map[uint64]struct{}
	// Proved blocks waiting for their turn to settle.
	ready map[uint64]*types.BlockJob

	failCounts map[uint64]int
	notBefore  map[uint64]time.Time
}

// NewState creates a State whose next block to settle is lowest. The head is unknown until
// SetHighest is called.
func NewState(lowest uint64) *State {
	return &State{
		lowest:     lowest,
		inflight:   make(map[uint64]struct{}),
		ready:      make(map[uint64]*types.BlockJob),
		failCounts: make(map[uint64]int),
		notBefore:  make(map[uint64]time.Time),
	}
}

// GetLowest returns the next block to settle.
func (s *State) GetLowest() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lowest
}

// GetHighest returns the known head and whether one was observed yet.
func (s *State) GetHighest() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.highest, s.hasHighest
}

// SetHighest raises the known head. Lower values are ignored: a lagging head poll never shrinks
// the window. Returns true if the head moved.
func (s *State) SetHighest(h uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasHighest && h <= s.highest {
		return false
	}
	s.highest = h
	s.hasHighest = true
	return true
}

// TryClaim marks the first claimable block of [lowest, lowest+window-1] inflight and returns
// it. The range is further capped by the head and by end when set. Blocks already inflight,
// already proved or still backing off are skipped.
func (s *State) TryClaim(now time.Time, window uint64, end *uint64) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasHighest || window == 0 {
		return 0, false
	}
	last := s.lowest + window - 1
	if s.highest < last {
		last = s.highest
	}
	if end != nil && *end < last {
		last = *end
	}
	for h := s.lowest; h <= last; h++ {
		if _, ok := s.inflight[h]; ok {
			continue
		}
		if _, ok := s.ready[h]; ok {
			continue
		}
		if t, ok := s.notBefore[h]; ok && now.Before(t) {
			continue
		}
		delete(s.notBefore, h)
		s.inflight[h] = struct{}{}
		return h, true
	}
	return 0, false
}

// Complete moves a claimed block to the ready set.
func (s *State) Complete(job *types.BlockJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inflight[job.Number]; !ok {
		return fmt.Errorf("block %d completed without being claimed", job.Number)
	}
	delete(s.inflight, job.Number)
	delete(s.failCounts, job.Number)
	s.ready[job.Number] = job
	return nil
}

// Release drops the claim on h so it can be claimed again right away.
func (s *State) Release(h uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, h)
}

// Defer drops the claim on h and keeps it from being claimed before until.
func (s *State) Defer(h uint64, until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, h)
	s.notBefore[h] = until
}

// NextReady returns the proved job for lowest, if there is one.
func (s *State) NextReady() (*types.BlockJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.ready[s.lowest]
	return job, ok
}

// AdvanceSettled records that h, which must be lowest, is settled and slides the window.
func (s *State) AdvanceSettled(h uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h != s.lowest {
		return fmt.Errorf("settled block %d is not the lowest unsettled block %d", h, s.lowest)
	}
	delete(s.ready, h)
	delete(s.failCounts, h)
	delete(s.notBefore, h)
	s.lowest++
	return nil
}

// IncrementFailureCount increments the failure count of h and returns the new count.
func (s *State) IncrementFailureCount(h uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCounts[h]++
	return s.failCounts[h]
}

func (s *State) GetFailureCount(h uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failCounts[h]
}

// Counts returns the number of inflight and ready blocks.
func (s *State) Counts() (inflight, ready int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight), len(s.ready)
}
