package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSettleLockOrder(t *testing.T) {
	a := "0x1111111111111111111111111111111111111111"
	b := "0x2222222222222222222222222222222222222222"

	// Both directions of a crossed pair must lock in the same order.
	assert.Equal(t, []string{a, b}, settleLockOrder(a, b))
	assert.Equal(t, []string{a, b}, settleLockOrder(b, a))

	assert.Equal(t, []string{a, a}, settleLockOrder(a, a))
}
