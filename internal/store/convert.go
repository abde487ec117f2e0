package store

import "math/big"

// bigIntOrNil lets a nil *big.Int reach pgx as SQL NULL instead of a
// driver error converting a nil pointer to a numeric parameter.
func bigIntOrNil(v *big.Int) any {
	if v == nil {
		return nil
	}
	return v.String()
}
