package domain

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenStandardValid(t *testing.T) {
	assert.True(t, TokenStandardERC20.Valid())
	assert.True(t, TokenStandardERC1155.Valid())
	assert.False(t, TokenStandard("erc721").Valid())
	assert.False(t, TokenStandard("").Valid())
}

func TestSharesToWei(t *testing.T) {
	assert.Zero(t, SharesToWei(0).Sign())

	one, _ := new(big.Int).SetString("1000000000000000000", 10)
	assert.Equal(t, one, SharesToWei(1))
	assert.Equal(t, WeiPerShare(), SharesToWei(1))

	thousand := new(big.Int).Mul(one, big.NewInt(1000))
	assert.Equal(t, thousand, SharesToWei(1000))
}

func TestWeiPerShareReturnsCopy(t *testing.T) {
	w := WeiPerShare()
	w.SetInt64(0)
	assert.Equal(t, SharesToWei(1), WeiPerShare(), "callers must not be able to mutate the unit")
}

func TestAgreementSupplyWei(t *testing.T) {
	a := Agreement{TotalTokenSupply: 500}
	assert.Equal(t, SharesToWei(500), a.SupplyWei())
}

func TestShareBalanceAvailableWei(t *testing.T) {
	b := ShareBalance{BalanceWei: SharesToWei(10), ReservedWei: SharesToWei(4)}
	assert.Equal(t, SharesToWei(6), b.AvailableWei())

	// Nil fields read as zero.
	assert.Zero(t, ShareBalance{}.AvailableWei().Sign())
	assert.Equal(t, SharesToWei(10), ShareBalance{BalanceWei: SharesToWei(10)}.AvailableWei())
}

func TestZeroBalance(t *testing.T) {
	b := ZeroBalance("0xabc", "agr-1")
	assert.Equal(t, "0xabc", b.HolderAddress)
	assert.Equal(t, "agr-1", b.AgreementID)
	assert.Equal(t, big.NewInt(0), b.BalanceWei)
	assert.Equal(t, big.NewInt(0), b.ReservedWei)
}
