package memory

import (
	"context"
	"math/big"
	"sort"
	"time"

	"github.com/alanyoungcy/sharemarket/internal/domain"
)

// BalanceStore implements domain.BalanceStore. All mutations run under the
// shared store mutex, which linearizes them the way row locks do in SQL.
type BalanceStore struct {
	s *Store
}

// balance returns the live (uncloned) row for in-place mutation under the
// store lock, creating a zero row when absent.
func (s *Store) balance(holder, agreementID string) domain.ShareBalance {
	k := balanceKey{holder: holder, agreement: agreementID}
	b, ok := s.balances[k]
	if !ok {
		b = domain.ZeroBalance(holder, agreementID)
	}
	return b
}

func (s *Store) putBalance(b domain.ShareBalance) {
	b.UpdatedAt = time.Now().UTC()
	s.balances[balanceKey{holder: b.HolderAddress, agreement: b.AgreementID}] = b
}

func (bs *BalanceStore) Get(ctx context.Context, holder, agreementID string) (domain.ShareBalance, error) {
	bs.s.mu.Lock()
	defer bs.s.mu.Unlock()
	return cloneBalance(bs.s.balance(holder, agreementID)), nil
}

func (bs *BalanceStore) Credit(ctx context.Context, holder, agreementID string, amountWei *big.Int) error {
	bs.s.mu.Lock()
	defer bs.s.mu.Unlock()
	b := cloneBalance(bs.s.balance(holder, agreementID))
	b.BalanceWei.Add(b.BalanceWei, amountWei)
	bs.s.putBalance(b)
	return nil
}

func (bs *BalanceStore) Debit(ctx context.Context, holder, agreementID string, amountWei *big.Int) error {
	bs.s.mu.Lock()
	defer bs.s.mu.Unlock()
	b := cloneBalance(bs.s.balance(holder, agreementID))
	if b.BalanceWei.Cmp(amountWei) < 0 {
		return domain.ErrInsufficientBalance
	}
	b.BalanceWei.Sub(b.BalanceWei, amountWei)
	bs.s.putBalance(b)
	return nil
}

func (bs *BalanceStore) ListByAgreement(ctx context.Context, agreementID string) ([]domain.ShareBalance, error) {
	bs.s.mu.Lock()
	defer bs.s.mu.Unlock()
	var out []domain.ShareBalance
	for k, b := range bs.s.balances {
		if k.agreement == agreementID {
			out = append(out, cloneBalance(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].HolderAddress < out[j].HolderAddress })
	return out, nil
}

func (bs *BalanceStore) TotalWei(ctx context.Context, agreementID string) (*big.Int, error) {
	bs.s.mu.Lock()
	defer bs.s.mu.Unlock()
	total := big.NewInt(0)
	for k, b := range bs.s.balances {
		if k.agreement == agreementID && b.BalanceWei != nil {
			total.Add(total, b.BalanceWei)
		}
	}
	return total, nil
}

var _ domain.BalanceStore = (*BalanceStore)(nil)
