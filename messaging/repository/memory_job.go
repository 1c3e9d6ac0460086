package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AzielCF/az-dispatch/messaging/domain/common"
	"github.com/AzielCF/az-dispatch/messaging/domain/job"
)

// MemoryJobStore keeps campaigns and scheduled dispatches in a map guarded by
// a single mutex, which makes every status transition atomic.
type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]job.Job
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[string]job.Job),
	}
}

func (s *MemoryJobStore) Init(ctx context.Context) error {
	return nil
}

func (s *MemoryJobStore) Create(ctx context.Context, j job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[j.ID]; exists {
		return fmt.Errorf("job %s already exists", j.ID)
	}

	now := time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now
	s.jobs[j.ID] = cloneJob(j)
	return nil
}

func (s *MemoryJobStore) Get(ctx context.Context, id string) (job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return job.Job{}, common.ErrJobNotFound
	}
	return cloneJob(j), nil
}

func (s *MemoryJobStore) List(ctx context.Context, filter job.Filter) ([]job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var res []job.Job
	for _, j := range s.jobs {
		if filter.InstanceID != "" && j.InstanceID != filter.InstanceID {
			continue
		}
		if filter.Kind != "" && j.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		res = append(res, cloneJob(j))
	}

	sort.Slice(res, func(a, b int) bool { return res[a].CreatedAt.After(res[b].CreatedAt) })
	if filter.Limit > 0 && len(res) > filter.Limit {
		res = res[:filter.Limit]
	}
	return res, nil
}

func (s *MemoryJobStore) ListDue(ctx context.Context, now time.Time) ([]job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var res []job.Job
	for _, j := range s.jobs {
		if j.Status != job.StatusScheduled || j.ScheduledAt == nil {
			continue
		}
		if !j.ScheduledAt.After(now) {
			res = append(res, cloneJob(j))
		}
	}
	sort.Slice(res, func(a, b int) bool { return res[a].ScheduledAt.Before(*res[b].ScheduledAt) })
	return res, nil
}

func (s *MemoryJobStore) CompareAndSwapStatus(ctx context.Context, id string, from, to job.Status) (bool, error) {
	if from.IsTerminal() {
		return false, common.ErrJobTerminal
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return false, common.ErrJobNotFound
	}
	if j.Status != from {
		return false, nil
	}

	now := time.Now().UTC()
	j.Status = to
	j.UpdatedAt = now
	if to.IsRunning() {
		j.StartedAt = &now
	}
	if to.IsTerminal() {
		j.FinishedAt = &now
	}
	s.jobs[id] = j
	return true, nil
}

func (s *MemoryJobStore) IncrementProgress(ctx context.Context, id string, failed bool) (job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return job.Job{}, common.ErrJobNotFound
	}
	if j.Status.IsTerminal() {
		return cloneJob(j), common.ErrJobTerminal
	}
	if j.SentCount >= j.Total() {
		return cloneJob(j), nil
	}

	j.SentCount++
	if failed {
		j.FailedCount++
	}
	j.UpdatedAt = time.Now().UTC()
	s.jobs[id] = j
	return cloneJob(j), nil
}

func (s *MemoryJobStore) Finish(ctx context.Context, id string, status job.Status, errMsg string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("finish requires a terminal status, got %s", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return common.ErrJobNotFound
	}
	if j.Status.IsTerminal() {
		return common.ErrJobTerminal
	}

	now := time.Now().UTC()
	j.Status = status
	j.Error = errMsg
	j.UpdatedAt = now
	j.FinishedAt = &now
	s.jobs[id] = j
	return nil
}

func cloneJob(j job.Job) job.Job {
	out := j
	out.Recipients = append([]job.Recipient(nil), j.Recipients...)
	if j.Media != nil {
		m := *j.Media
		out.Media = &m
	}
	return out
}
