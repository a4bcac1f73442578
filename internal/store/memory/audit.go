package memory

import (
	"context"
	"time"

	"github.com/alanyoungcy/sharemarket/internal/domain"
)

// AuditStore implements domain.AuditStore as an append-only slice.
type AuditStore struct {
	s *Store
}

func (as *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	as.s.mu.Lock()
	defer as.s.mu.Unlock()
	as.s.nextAuditID++
	as.s.audit = append(as.s.audit, domain.AuditEntry{
		ID:        as.s.nextAuditID,
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (as *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	as.s.mu.Lock()
	defer as.s.mu.Unlock()
	out := make([]domain.AuditEntry, 0, len(as.s.audit))
	for i := len(as.s.audit) - 1; i >= 0; i-- {
		if inWindow(as.s.audit[i].CreatedAt, opts) {
			out = append(out, as.s.audit[i])
		}
	}
	return paginate(out, opts), nil
}

func (as *AuditStore) ListBefore(ctx context.Context, before time.Time) ([]domain.AuditEntry, error) {
	as.s.mu.Lock()
	defer as.s.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range as.s.audit {
		if e.CreatedAt.Before(before) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (as *AuditStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	as.s.mu.Lock()
	defer as.s.mu.Unlock()
	var kept []domain.AuditEntry
	var removed int64
	for _, e := range as.s.audit {
		if e.CreatedAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	as.s.audit = kept
	return removed, nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
