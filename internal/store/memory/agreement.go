package memory

import (
	"context"
	"sort"

	"github.com/alanyoungcy/sharemarket/internal/domain"
)

// AgreementStore implements domain.AgreementStore.
type AgreementStore struct {
	s *Store
}

func (as *AgreementStore) Create(ctx context.Context, agreement domain.Agreement) error {
	as.s.mu.Lock()
	defer as.s.mu.Unlock()
	as.s.agreements[agreement.ID] = cloneAgreement(agreement)
	return nil
}

func (as *AgreementStore) GetByID(ctx context.Context, id string) (domain.Agreement, error) {
	as.s.mu.Lock()
	defer as.s.mu.Unlock()
	a, ok := as.s.agreements[id]
	if !ok {
		return domain.Agreement{}, domain.ErrNotFound
	}
	return cloneAgreement(a), nil
}

func (as *AgreementStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Agreement, error) {
	as.s.mu.Lock()
	defer as.s.mu.Unlock()
	out := make([]domain.Agreement, 0, len(as.s.agreements))
	for _, a := range as.s.agreements {
		out = append(out, cloneAgreement(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, opts), nil
}

var _ domain.AgreementStore = (*AgreementStore)(nil)
