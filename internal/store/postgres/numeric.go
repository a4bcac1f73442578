package postgres

import (
	"fmt"
	"math/big"
)

// weiText renders a wei amount for binding into a NUMERIC(78,0) parameter.
// Nil is treated as zero.
func weiText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// parseWei converts a NUMERIC(78,0) value selected as text back into a
// big.Int.
func parseWei(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: malformed numeric %q", s)
	}
	return v, nil
}

// nullableWeiText renders an optional wei amount, mapping nil to SQL NULL.
func nullableWeiText(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

// parseNullableWei converts an optional NUMERIC value selected as text.
func parseNullableWei(s *string) (*big.Int, error) {
	if s == nil {
		return nil, nil
	}
	return parseWei(*s)
}
