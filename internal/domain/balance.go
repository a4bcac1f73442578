package domain

import (
	"math/big"
	"time"
)

// ShareBalance is the ledger row for one (holder, agreement) pair. Rows are
// never deleted: a holder who sells out keeps a zero-balance row.
//
// ReservedWei is the maintained counter of wei committed to the holder's own
// ACTIVE listings. It is updated in the same transaction as every listing
// create, cancel, expire, and fill, so the available balance is a single row
// read rather than a sum over listings.
type ShareBalance struct {
	HolderAddress string
	AgreementID   string
	BalanceWei    *big.Int
	ReservedWei   *big.Int
	UpdatedAt     time.Time
}

// AvailableWei returns the balance minus outstanding listing reservations.
func (b ShareBalance) AvailableWei() *big.Int {
	bal := b.BalanceWei
	if bal == nil {
		bal = new(big.Int)
	}
	res := b.ReservedWei
	if res == nil {
		res = new(big.Int)
	}
	return new(big.Int).Sub(bal, res)
}

// ZeroBalance returns an empty ledger row for a pair that has no stored row
// yet. Reads of absent rows report zero, not an error.
func ZeroBalance(holder, agreementID string) ShareBalance {
	return ShareBalance{
		HolderAddress: holder,
		AgreementID:   agreementID,
		BalanceWei:    new(big.Int),
		ReservedWei:   new(big.Int),
	}
}
