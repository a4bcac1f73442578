// Package domain defines the core types, store interfaces, and sentinel
// errors for the share marketplace: tokenized agreements, per-holder share
// balances, secondary-market listings, settled trades, and token-weighted
// governance.
package domain

import (
	"math/big"
	"time"
)

// TokenStandard identifies the on-chain token contract flavour backing an
// agreement.
type TokenStandard string

const (
	// TokenStandardERC20 is a dedicated fungible contract per agreement.
	TokenStandardERC20 TokenStandard = "erc20"
	// TokenStandardERC1155 is a shared multi-unit contract; each agreement
	// occupies one token id.
	TokenStandardERC1155 TokenStandard = "erc1155"
)

// Valid reports whether the standard is one of the supported variants.
func (s TokenStandard) Valid() bool {
	return s == TokenStandardERC20 || s == TokenStandardERC1155
}

// weiPerShare is 10^18: one whole share expressed in wei. All balances,
// reservations, and vote tallies are carried in wei so fractional ownership
// never rounds.
var weiPerShare = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// WeiPerShare returns a fresh copy of the 10^18 wei-per-share unit.
func WeiPerShare() *big.Int {
	return new(big.Int).Set(weiPerShare)
}

// SharesToWei converts a whole-share count to wei.
func SharesToWei(shares int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(shares), weiPerShare)
}

// Agreement is a tokenized yield-bearing asset whose supply is divided into
// fungible shares. Immutable after registration.
type Agreement struct {
	ID               string
	Name             string
	Symbol           string
	TotalTokenSupply int64 // whole shares
	TokenStandard    TokenStandard
	TokenContract    string   // on-chain contract address
	TokenUnitID      *big.Int // token id within an ERC-1155 contract; nil for ERC-20
	OwnerAddress     string   // initial holder of the full supply at mint
	CreatedAt        time.Time
}

// SupplyWei returns the total supply expressed in wei.
func (a Agreement) SupplyWei() *big.Int {
	return SharesToWei(a.TotalTokenSupply)
}
