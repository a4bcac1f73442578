package memory

import (
	"context"
	"math/big"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/sharemarket/internal/domain"
)

// TradeStore implements domain.TradeStore. Settle performs the same
// composite mutation as the SQL store: seller debit plus reservation
// release, buyer credit, listing decrement, trade insert, all under one
// lock.
type TradeStore struct {
	s *Store
}

func (ts *TradeStore) Settle(ctx context.Context, p domain.SettleParams) (domain.Trade, error) {
	ts.s.mu.Lock()
	defer ts.s.mu.Unlock()

	l, ok := ts.s.listings[p.ListingID]
	if !ok {
		return domain.Trade{}, domain.ErrNotFound
	}
	if l.Status != domain.ListingStatusActive {
		return domain.Trade{}, domain.ErrListingNotActive
	}
	if p.SharesPurchased == nil || p.SharesPurchased.Sign() <= 0 {
		return domain.Trade{}, domain.ErrInvalidAmount
	}
	if p.SharesPurchased.Cmp(l.SharesForSale) > 0 {
		return domain.Trade{}, domain.ErrInsufficientSharesAvailable
	}

	seller := cloneBalance(ts.s.balance(l.SellerAddress, l.AgreementID))
	if seller.BalanceWei.Cmp(p.SharesPurchased) < 0 ||
		seller.ReservedWei.Cmp(p.SharesPurchased) < 0 {
		return domain.Trade{}, domain.ErrInsufficientBalance
	}
	seller.BalanceWei.Sub(seller.BalanceWei, p.SharesPurchased)
	seller.ReservedWei.Sub(seller.ReservedWei, p.SharesPurchased)
	ts.s.putBalance(seller)

	buyer := cloneBalance(ts.s.balance(p.BuyerAddress, l.AgreementID))
	buyer.BalanceWei.Add(buyer.BalanceWei, p.SharesPurchased)
	ts.s.putBalance(buyer)

	l = cloneListing(l)
	l.SharesForSale.Sub(l.SharesForSale, p.SharesPurchased)
	if l.SharesForSale.Sign() == 0 {
		l.Status = domain.ListingStatusSold
	}
	l.UpdatedAt = time.Now().UTC()
	ts.s.listings[l.ID] = l

	t := domain.Trade{
		ID:              uuid.NewString(),
		ListingID:       l.ID,
		AgreementID:     l.AgreementID,
		SellerAddress:   l.SellerAddress,
		BuyerAddress:    p.BuyerAddress,
		SharesPurchased: new(big.Int).Set(p.SharesPurchased),
		PricePerShare:   cloneWei(l.PricePerShare),
		TxHash:          p.TxHash,
		GasUsed:         p.GasUsed,
		ExecutedAt:      p.ExecutedAt,
	}
	ts.s.trades[t.ID] = cloneTrade(t)
	return t, nil
}

func (ts *TradeStore) GetByID(ctx context.Context, id string) (domain.Trade, error) {
	ts.s.mu.Lock()
	defer ts.s.mu.Unlock()
	t, ok := ts.s.trades[id]
	if !ok {
		return domain.Trade{}, domain.ErrNotFound
	}
	return cloneTrade(t), nil
}

func (ts *TradeStore) GetByTxHash(ctx context.Context, txHash string) (domain.Trade, error) {
	ts.s.mu.Lock()
	defer ts.s.mu.Unlock()
	for _, t := range ts.s.trades {
		if t.TxHash == txHash {
			return cloneTrade(t), nil
		}
	}
	return domain.Trade{}, domain.ErrNotFound
}

func (ts *TradeStore) list(filter func(domain.Trade) bool, opts domain.ListOpts) []domain.Trade {
	var out []domain.Trade
	for _, t := range ts.s.trades {
		if filter(t) && inWindow(t.ExecutedAt, opts) {
			out = append(out, cloneTrade(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExecutedAt.After(out[j].ExecutedAt) })
	return paginate(out, opts)
}

func (ts *TradeStore) ListByListing(ctx context.Context, listingID string, opts domain.ListOpts) ([]domain.Trade, error) {
	ts.s.mu.Lock()
	defer ts.s.mu.Unlock()
	return ts.list(func(t domain.Trade) bool { return t.ListingID == listingID }, opts), nil
}

func (ts *TradeStore) ListByWallet(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.Trade, error) {
	ts.s.mu.Lock()
	defer ts.s.mu.Unlock()
	return ts.list(func(t domain.Trade) bool {
		return t.BuyerAddress == wallet || t.SellerAddress == wallet
	}, opts), nil
}

func (ts *TradeStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Trade, error) {
	ts.s.mu.Lock()
	defer ts.s.mu.Unlock()
	var out []domain.Trade
	for _, t := range ts.s.trades {
		if t.ExecutedAt.Before(before) {
			out = append(out, cloneTrade(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExecutedAt.Before(out[j].ExecutedAt) })
	return out, nil
}

var _ domain.TradeStore = (*TradeStore)(nil)
