package job

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Compile-time check that MemoryRepository implements Repository and Pruner.
var (
	_ Repository = (*MemoryRepository)(nil)
	_ Pruner     = (*MemoryRepository)(nil)
)

// MemoryRepository is an in-memory implementation of Repository.
// It uses a map with RWMutex for thread-safe access. Jobs do not survive a
// restart.
type MemoryRepository struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemoryRepository creates a new in-memory job repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		jobs: make(map[string]*Job),
	}
}

// Save stores a clone of the job to avoid external mutations.
func (r *MemoryRepository) Save(_ context.Context, job *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job.Clone()
	return nil
}

// FindByID retrieves a job by its ID.
// Returns a clone to prevent external mutations.
func (r *MemoryRepository) FindByID(_ context.Context, id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// List returns all jobs ordered by creation time.
// Returns clones to prevent external mutations.
func (r *MemoryRepository) List(_ context.Context) ([]*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		result = append(result, job.Clone())
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result, nil
}

// Delete removes a job from storage.
func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(r.jobs, id)
	return nil
}

// PruneTerminal deletes terminal jobs completed before the cutoff and
// returns how many were removed. Running jobs are never pruned.
func (r *MemoryRepository) PruneTerminal(_ context.Context, before time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, job := range r.jobs {
		if job.IsTerminal() && job.CompletedAt.Before(before) {
			delete(r.jobs, id)
			n++
		}
	}
	return n, nil
}

// RunJanitor prunes terminal jobs older than retention every interval until
// ctx is cancelled.
func RunJanitor(ctx context.Context, p Pruner, retention, interval time.Duration, logger *slog.Logger) {
	if retention <= 0 {
		return
	}
	if interval <= 0 {
		interval = retention / 4
		if interval < time.Second {
			interval = time.Second
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := p.PruneTerminal(ctx, now.Add(-retention))
			if err != nil {
				logger.Error("failed to prune jobs", slog.String("error", err.Error()))
				continue
			}
			if n > 0 {
				logger.Debug("pruned finished jobs", slog.Int("count", n))
			}
		}
	}
}
