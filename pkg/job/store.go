package job

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Store persists jobs
type Store interface {
	// Create inserts j and assigns its ID. A unique job whose name is already
	// held by an active unique job fails with ErrDuplicateJob.
	Create(ctx context.Context, j *Job) error
	Get(ctx context.Context, id int64) (*Job, error)
	Update(ctx context.Context, j *Job) error
	Children(ctx context.Context, rootID int64) ([]*Job, error)
}

// MemoryStore keeps jobs in process memory
type MemoryStore struct {
	mu     sync.RWMutex
	jobs   map[int64]*Job
	nextID int64
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[int64]*Job)}
}

func (s *MemoryStore) Create(ctx context.Context, j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j.Unique {
		for _, existing := range s.jobs {
			if existing.Unique && existing.Name == j.Name && !existing.Status.Terminal() {
				return fmt.Errorf("%w: %s (job %d)", ErrDuplicateJob, j.Name, existing.ID)
			}
		}
	}

	s.nextID++
	j.ID = s.nextID
	stored := *j
	s.jobs[j.ID] = &stored
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id int64) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrJobNotFound, id)
	}
	found := *j
	return &found, nil
}

func (s *MemoryStore) Update(ctx context.Context, j *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[j.ID]; !ok {
		return fmt.Errorf("%w: %d", ErrJobNotFound, j.ID)
	}
	stored := *j
	s.jobs[j.ID] = &stored
	return nil
}

func (s *MemoryStore) Children(ctx context.Context, rootID int64) ([]*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var children []*Job
	for _, j := range s.jobs {
		if j.RootJobID == rootID {
			child := *j
			children = append(children, &child)
		}
	}
	sort.Slice(children, func(a, b int) bool { return children[a].ID < children[b].ID })
	return children, nil
}

// Put stores j under its own ID, replacing any existing job. It lets callers
// seed jobs created by another system.
func (s *MemoryStore) Put(j *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *j
	s.jobs[j.ID] = &stored
	if j.ID > s.nextID {
		s.nextID = j.ID
	}
}
