package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/AzielCF/az-dispatch/messaging/domain/common"
	"github.com/AzielCF/az-dispatch/messaging/domain/instance"
)

// MemoryInstanceRegistry keeps instances in a map. Data is lost on restart;
// it backs tests and single-shot CLI runs.
type MemoryInstanceRegistry struct {
	mu        sync.RWMutex
	instances map[string]instance.Instance
}

func NewMemoryInstanceRegistry() *MemoryInstanceRegistry {
	return &MemoryInstanceRegistry{
		instances: make(map[string]instance.Instance),
	}
}

func (r *MemoryInstanceRegistry) Init(ctx context.Context) error {
	return nil
}

func (r *MemoryInstanceRegistry) Create(ctx context.Context, inst instance.Instance) error {
	if err := inst.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.instances[inst.ID]; exists {
		return common.ErrDuplicateInstance
	}
	for _, existing := range r.instances {
		if existing.Name == inst.Name {
			return common.ErrDuplicateInstance
		}
	}

	now := time.Now().UTC()
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = now
	}
	inst.UpdatedAt = now
	r.instances[inst.ID] = inst
	return nil
}

func (r *MemoryInstanceRegistry) Get(ctx context.Context, id string) (instance.Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst, ok := r.instances[id]
	if !ok {
		return instance.Instance{}, common.ErrInstanceNotFound
	}
	return inst, nil
}

func (r *MemoryInstanceRegistry) GetByName(ctx context.Context, name string) (instance.Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, inst := range r.instances {
		if inst.Name == name {
			return inst, nil
		}
	}
	return instance.Instance{}, common.ErrInstanceNotFound
}

func (r *MemoryInstanceRegistry) List(ctx context.Context) ([]instance.Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]instance.Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		res = append(res, inst)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (r *MemoryInstanceRegistry) ListByStatus(ctx context.Context, status instance.Status) ([]instance.Instance, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	var res []instance.Instance
	for _, inst := range all {
		if inst.Status == status {
			res = append(res, inst)
		}
	}
	return res, nil
}

func (r *MemoryInstanceRegistry) Update(ctx context.Context, id string, fn instance.UpdateFunc) (instance.Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.instances[id]
	if !ok {
		return instance.Instance{}, common.ErrInstanceNotFound
	}

	next := current
	if err := fn(&next); err != nil {
		return current, err
	}
	if err := next.Validate(); err != nil {
		return current, err
	}

	next.ID = current.ID
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = time.Now().UTC()
	r.instances[id] = next
	return next, nil
}

func (r *MemoryInstanceRegistry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.instances, id)
	return nil
}
