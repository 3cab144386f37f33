package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/garyjia/booking-approval/internal/application/port"
	"github.com/garyjia/booking-approval/internal/domain/entity"
)

const defaultMaxUpdateAttempts = 5

// MutateFunc changes a private copy of a workflow inside Store.Update.
// Returning an error aborts the update without writing anything.
type MutateFunc func(wf *entity.Workflow) error

// Store is the single source of truth for workflow state: a durable
// repository fronted by a write-through cache of deep copies.
//
// No lock is held across repository calls. Concurrent writers are
// serialised by the repository's version check; the loser re-reads and
// re-applies its mutation against the winner's state.
type Store struct {
	repo        port.WorkflowRepository
	logger      *zap.Logger
	now         func() time.Time
	maxAttempts int

	mu    sync.RWMutex
	cache map[string]*entity.Workflow
	loads singleflight.Group
}

// StoreOption configures the store
type StoreOption func(*Store)

// WithStoreClock overrides the clock used for UpdatedAt
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// WithMaxUpdateAttempts bounds the optimistic retry loop of Update
func WithMaxUpdateAttempts(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// NewStore creates a workflow store over the given repository
func NewStore(repo port.WorkflowRepository, logger *zap.Logger, opts ...StoreOption) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		repo:        repo,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		maxAttempts: defaultMaxUpdateAttempts,
		cache:       make(map[string]*entity.Workflow),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create persists a brand-new workflow at version 1 and caches it.
// The workflow does not exist until Create returns nil.
func (s *Store) Create(ctx context.Context, wf *entity.Workflow) (string, error) {
	cp := wf.Clone()
	now := s.now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	cp.Version = 1

	if err := s.repo.Create(ctx, cp); err != nil {
		return "", fmt.Errorf("%w: failed to create workflow %s: %w", ErrPersistence, cp.WorkflowID, err)
	}

	s.put(cp)
	*wf = *cp.Clone()
	return cp.WorkflowID, nil
}

// Get returns a copy of the workflow, loading it on a cache miss.
// Unknown ids yield ErrWorkflowNotFound.
func (s *Store) Get(ctx context.Context, workflowID string) (*entity.Workflow, error) {
	s.mu.RLock()
	cached, ok := s.cache[workflowID]
	s.mu.RUnlock()
	if ok {
		return cached.Clone(), nil
	}

	v, err, _ := s.loads.Do(workflowID, func() (interface{}, error) {
		wf, err := s.repo.Get(ctx, workflowID)
		if err != nil {
			if errors.Is(err, port.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
			}
			return nil, fmt.Errorf("%w: failed to load workflow %s: %w", ErrPersistence, workflowID, err)
		}
		s.put(wf)
		return wf, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*entity.Workflow).Clone(), nil
}

// Update applies mutate to the latest state and writes it through to the
// repository and then the cache. The returned workflow is the persisted copy.
func (s *Store) Update(ctx context.Context, workflowID string, mutate MutateFunc) (*entity.Workflow, error) {
	for attempt := 1; ; attempt++ {
		current, err := s.Get(ctx, workflowID)
		if err != nil {
			return nil, err
		}

		expected := current.Version
		if err := mutate(current); err != nil {
			return nil, err
		}
		current.WorkflowID = workflowID
		current.Version = expected + 1
		current.UpdatedAt = s.now()

		err = s.repo.Save(ctx, current, expected)
		switch {
		case err == nil:
			// finished workflows are served from the repository from now on
			if current.IsComplete() {
				s.invalidate(workflowID)
			} else {
				s.put(current)
			}
			return current.Clone(), nil
		case errors.Is(err, port.ErrConflict):
			s.invalidate(workflowID)
			if attempt >= s.maxAttempts {
				return nil, fmt.Errorf("%w: %s after %d attempts", ErrVersionConflict, workflowID, attempt)
			}
			s.logger.Debug("Workflow version conflict, retrying",
				zap.String("workflow_id", workflowID),
				zap.Int64("expected_version", expected),
				zap.Int("attempt", attempt))
		case errors.Is(err, port.ErrNotFound):
			s.invalidate(workflowID)
			return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
		default:
			return nil, fmt.Errorf("%w: failed to save workflow %s: %w", ErrPersistence, workflowID, err)
		}
	}
}

// ListActive loads every non-terminal workflow into the cache and returns copies
func (s *Store) ListActive(ctx context.Context) ([]*entity.Workflow, error) {
	workflows, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list active workflows: %w", ErrPersistence, err)
	}

	out := make([]*entity.Workflow, 0, len(workflows))
	for _, wf := range workflows {
		s.put(wf)
		out = append(out, wf.Clone())
	}
	return out, nil
}

// FindByThread resolves the workflow owning a coordinator thread
func (s *Store) FindByThread(ctx context.Context, threadRef string) (*entity.Workflow, error) {
	if threadRef == "" {
		return nil, fmt.Errorf("%w: empty thread reference", ErrWorkflowNotFound)
	}
	wf, err := s.repo.GetByThread(ctx, threadRef)
	if err != nil {
		if errors.Is(err, port.ErrNotFound) {
			return nil, fmt.Errorf("%w: no workflow for thread %s", ErrWorkflowNotFound, threadRef)
		}
		return nil, fmt.Errorf("%w: failed to find workflow by thread: %w", ErrPersistence, err)
	}
	s.put(wf)
	return s.Get(ctx, wf.WorkflowID)
}

// put caches a copy unless a newer version is already cached
func (s *Store) put(wf *entity.Workflow) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.cache[wf.WorkflowID]; ok && existing.Version > wf.Version {
		return
	}
	s.cache[wf.WorkflowID] = wf.Clone()
}

func (s *Store) invalidate(workflowID string) {
	s.mu.Lock()
	delete(s.cache, workflowID)
	s.mu.Unlock()
}

// CachedCount returns the number of cached workflows
func (s *Store) CachedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}
