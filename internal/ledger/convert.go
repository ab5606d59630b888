package ledger

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/yield-vault/aavevault/internal/protocol"
)

// TokensToShares converts an asset amount to shares at the rate given by a
// snapshot of the vault's underlying value and share supply.
//
// An empty ledger prices 1:1 (shares use the asset's precision). Otherwise
// the result is floor(tokens * totalShares / underlying), so a deposit never
// receives more shares than it backs.
func TokensToShares(tokens, underlying, totalShares *uint256.Int) (*uint256.Int, error) {
	if totalShares.IsZero() {
		return tokens.Clone(), nil
	}
	if underlying.IsZero() {
		// Shares outstanding against nothing: any price is meaningless.
		return nil, fmt.Errorf("%w: %s shares outstanding against zero underlying", protocol.ErrDivisionByZero, totalShares.Dec())
	}
	shares, overflow := new(uint256.Int).MulDivOverflow(tokens, totalShares, underlying)
	if overflow {
		return nil, fmt.Errorf("%w: %s overflows share conversion", protocol.ErrInvalidAmount, tokens.Dec())
	}
	return shares, nil
}

// TokensToSharesUp is TokensToShares rounded up. It prices the shares a
// holder must give up to withdraw an exact asset amount.
func TokensToSharesUp(tokens, underlying, totalShares *uint256.Int) (*uint256.Int, error) {
	if totalShares.IsZero() || underlying.IsZero() {
		return nil, fmt.Errorf("%w: cannot price %s against an empty ledger", protocol.ErrDivisionByZero, tokens.Dec())
	}
	return mulDivUp(tokens, totalShares, underlying)
}

// SharesToTokens converts shares to the asset amount they are entitled to:
// floor(shares * underlying / totalShares). A redemption never pays out more
// than its proportional entitlement.
func SharesToTokens(shares, underlying, totalShares *uint256.Int) (*uint256.Int, error) {
	if totalShares.IsZero() {
		return nil, fmt.Errorf("%w: cannot redeem %s shares", protocol.ErrDivisionByZero, shares.Dec())
	}
	tokens, overflow := new(uint256.Int).MulDivOverflow(shares, underlying, totalShares)
	if overflow {
		return nil, fmt.Errorf("%w: %s overflows asset conversion", protocol.ErrInvalidAmount, shares.Dec())
	}
	return tokens, nil
}

func mulDivUp(x, y, d *uint256.Int) (*uint256.Int, error) {
	num := new(big.Int).Mul(x.ToBig(), y.ToBig())
	q, r := new(big.Int).QuoRem(num, d.ToBig(), new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	out, overflow := uint256.FromBig(q)
	if overflow {
		return nil, fmt.Errorf("%w: %s overflows share conversion", protocol.ErrInvalidAmount, x.Dec())
	}
	return out, nil
}
