package memory

import (
	"context"
	"sort"
	"time"

	"github.com/alanyoungcy/sharemarket/internal/domain"
)

// PlanStore implements domain.PlanStore.
type PlanStore struct {
	s *Store
}

func (ps *PlanStore) Create(ctx context.Context, plan domain.ReconciliationPlan) error {
	ps.s.mu.Lock()
	defer ps.s.mu.Unlock()
	ps.s.plans[plan.ID] = clonePlan(plan)
	return nil
}

func (ps *PlanStore) GetByID(ctx context.Context, id string) (domain.ReconciliationPlan, error) {
	ps.s.mu.Lock()
	defer ps.s.mu.Unlock()
	p, ok := ps.s.plans[id]
	if !ok {
		return domain.ReconciliationPlan{}, domain.ErrNotFound
	}
	return clonePlan(p), nil
}

func (ps *PlanStore) MarkApplied(ctx context.Context, id string, at time.Time) error {
	ps.s.mu.Lock()
	defer ps.s.mu.Unlock()
	p, ok := ps.s.plans[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Status != domain.PlanStatusPending {
		return domain.ErrPlanNotPending
	}
	p = clonePlan(p)
	p.Status = domain.PlanStatusApplied
	p.AppliedAt = &at
	ps.s.plans[id] = p
	return nil
}

func (ps *PlanStore) MarkDiscarded(ctx context.Context, id string) error {
	ps.s.mu.Lock()
	defer ps.s.mu.Unlock()
	p, ok := ps.s.plans[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Status != domain.PlanStatusPending {
		return domain.ErrPlanNotPending
	}
	p = clonePlan(p)
	p.Status = domain.PlanStatusDiscarded
	ps.s.plans[id] = p
	return nil
}

func (ps *PlanStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.ReconciliationPlan, error) {
	ps.s.mu.Lock()
	defer ps.s.mu.Unlock()
	out := make([]domain.ReconciliationPlan, 0, len(ps.s.plans))
	for _, p := range ps.s.plans {
		if inWindow(p.CreatedAt, opts) {
			out = append(out, clonePlan(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, opts), nil
}

var _ domain.PlanStore = (*PlanStore)(nil)
