package stratum

import (
	"fmt"
	"sync"
	"sync/atomic"

	"chainweb-mining-client/internal/work"
)

// Job is a unit of mining work distributed to sessions via
// mining.notify. Unlike a coinbase-splicing Stratum pool, Chainweb's
// Work blob is opaque to the session: the server hands out the whole
//286-byte template and the session only ever rewrites its own nonce
// slice.
type Job struct {
	ID      string
	Work    work.Work
	Target  work.Target
	ChainID work.ChainID
}

// JobStore tracks the most recently issued jobs of one session, bounded so a
// slow-draining session cannot force unbounded memory growth. It is
// safe for concurrent use.
type JobStore struct {
	mu      sync.RWMutex
	jobs    map[string]*Job
	order   []string // insertion order, oldest first
	maxJobs int
	nextID  atomic.Uint64
}

// NewJobStore returns a store retaining at most maxJobs jobs. A maxJobs
// of zero defaults to 10.
func NewJobStore(maxJobs int) *JobStore {
	if maxJobs <= 0 {
		maxJobs = 10
	}
	return &JobStore{
		jobs:    make(map[string]*Job),
		maxJobs: maxJobs,
	}
}

// Create allocates a new Job ID, stores the Job, and evicts the oldest
// entry if the store is now over capacity. onEvict, if non-nil, is
// called with the evicted job's ID so callers can drop any state they
// keep keyed on it (e.g. a ShareValidator's duplicate-tracking map).
func (s *JobStore) Create(w work.Work, target work.Target, chain work.ChainID, onEvict func(string)) *Job {
	id := fmt.Sprintf("%x", s.nextID.Add(1))
	job := &Job{ID: id, Work: w, Target: target, ChainID: chain}

	s.mu.Lock()
	s.jobs[id] = job
	s.order = append(s.order, id)
	var evicted string
	if len(s.order) > s.maxJobs {
		evicted = s.order[0]
		s.order = s.order[1:]
		delete(s.jobs, evicted)
	}
	s.mu.Unlock()

	if evicted != "" && onEvict != nil {
		onEvict(evicted)
	}
	return job
}

// Get looks up a job by ID. It returns nil if the job is unknown or has
// been evicted.
func (s *JobStore) Get(id string) *Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs[id]
}

// Clear discards all tracked jobs.
func (s *JobStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = make(map[string]*Job)
	s.order = nil
}
