package domain

import (
	"math/big"
	"time"
)

// Trade records a settled purchase against a listing. Rows are append-only
// and immutable; TxHash is unique because one on-chain transfer settles
// exactly one trade.
type Trade struct {
	ID              string
	ListingID       string
	AgreementID     string
	SellerAddress   string
	BuyerAddress    string
	SharesPurchased *big.Int // wei
	PricePerShare   *big.Int // payment-token wei per whole share
	TxHash          string
	GasUsed         uint64
	ExecutedAt      time.Time
}
