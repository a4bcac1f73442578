package memory

import (
	"context"
	"sort"
	"time"

	"github.com/alanyoungcy/sharemarket/internal/domain"
)

// ListingStore implements domain.ListingStore, including the reservation
// bookkeeping on the seller's balance row.
type ListingStore struct {
	s *Store
}

func (ls *ListingStore) CreateReserving(ctx context.Context, listing domain.Listing) error {
	ls.s.mu.Lock()
	defer ls.s.mu.Unlock()

	b := cloneBalance(ls.s.balance(listing.SellerAddress, listing.AgreementID))
	if b.AvailableWei().Cmp(listing.SharesForSale) < 0 {
		return domain.ErrInsufficientAvailableBalance
	}
	b.ReservedWei.Add(b.ReservedWei, listing.SharesForSale)
	ls.s.putBalance(b)

	ls.s.listings[listing.ID] = cloneListing(listing)
	return nil
}

func (ls *ListingStore) GetByID(ctx context.Context, id string) (domain.Listing, error) {
	ls.s.mu.Lock()
	defer ls.s.mu.Unlock()
	l, ok := ls.s.listings[id]
	if !ok {
		return domain.Listing{}, domain.ErrNotFound
	}
	return cloneListing(l), nil
}

// terminateLocked moves an ACTIVE listing to a terminal status and releases
// its remaining reservation. Caller holds the store mutex.
func (s *Store) terminateLocked(id string, to domain.ListingStatus) (domain.Listing, error) {
	l, ok := s.listings[id]
	if !ok {
		return domain.Listing{}, domain.ErrNotFound
	}
	if l.Status != domain.ListingStatusActive {
		return domain.Listing{}, domain.ErrListingNotActive
	}
	l = cloneListing(l)
	if err := l.Transition(to); err != nil {
		return domain.Listing{}, err
	}
	l.UpdatedAt = time.Now().UTC()

	b := cloneBalance(s.balance(l.SellerAddress, l.AgreementID))
	b.ReservedWei.Sub(b.ReservedWei, l.SharesForSale)
	s.putBalance(b)

	s.listings[id] = l
	return cloneListing(l), nil
}

func (ls *ListingStore) Terminate(ctx context.Context, id string, to domain.ListingStatus) (domain.Listing, error) {
	ls.s.mu.Lock()
	defer ls.s.mu.Unlock()
	return ls.s.terminateLocked(id, to)
}

func (ls *ListingStore) ExpireDue(ctx context.Context, now time.Time) ([]domain.Listing, error) {
	ls.s.mu.Lock()
	defer ls.s.mu.Unlock()

	var due []string
	for id, l := range ls.s.listings {
		if l.Status == domain.ListingStatusActive && l.Expired(now) {
			due = append(due, id)
		}
	}
	sort.Strings(due)

	var out []domain.Listing
	for _, id := range due {
		l, err := ls.s.terminateLocked(id, domain.ListingStatusExpired)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func (ls *ListingStore) list(filter func(domain.Listing) bool, opts domain.ListOpts) []domain.Listing {
	var out []domain.Listing
	for _, l := range ls.s.listings {
		if filter(l) && inWindow(l.CreatedAt, opts) {
			out = append(out, cloneListing(l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, opts)
}

func (ls *ListingStore) ListByAgreement(ctx context.Context, agreementID string, opts domain.ListOpts) ([]domain.Listing, error) {
	ls.s.mu.Lock()
	defer ls.s.mu.Unlock()
	return ls.list(func(l domain.Listing) bool { return l.AgreementID == agreementID }, opts), nil
}

func (ls *ListingStore) ListBySeller(ctx context.Context, seller string, opts domain.ListOpts) ([]domain.Listing, error) {
	ls.s.mu.Lock()
	defer ls.s.mu.Unlock()
	return ls.list(func(l domain.Listing) bool { return l.SellerAddress == seller }, opts), nil
}

func (ls *ListingStore) ActiveBySellerAgreement(ctx context.Context, seller, agreementID string) ([]domain.Listing, error) {
	ls.s.mu.Lock()
	defer ls.s.mu.Unlock()
	return ls.list(func(l domain.Listing) bool {
		return l.SellerAddress == seller && l.AgreementID == agreementID &&
			l.Status == domain.ListingStatusActive
	}, domain.ListOpts{}), nil
}

var _ domain.ListingStore = (*ListingStore)(nil)
