package venue

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/yield-vault/aavevault/internal/logger"
	"github.com/yield-vault/aavevault/internal/protocol"
)

// MaxAllowance is the approval granted to a pool when the current one is short.
var MaxAllowance = new(uint256.Int).SetAllOne()

// Adapter moves the vault's underlying asset in and out of the active pool.
type Adapter struct {
	vault   common.Address
	asset   Asset
	receipt ReceiptToken
	locator *Locator
	log     zerolog.Logger
}

func NewAdapter(vault common.Address, asset Asset, receipt ReceiptToken, locator *Locator) *Adapter {
	return &Adapter{
		vault:   vault,
		asset:   asset,
		receipt: receipt,
		locator: locator,
		log:     logger.GetForComponent("venue"),
	}
}

// Vault returns the account the adapter holds receipt balance for.
func (a *Adapter) Vault() common.Address { return a.vault }

// Asset returns the underlying asset handle.
func (a *Adapter) Asset() Asset { return a.asset }

// ReceiptToken returns the receipt token handle.
func (a *Adapter) ReceiptToken() ReceiptToken { return a.receipt }

// Locator returns the locator used to resolve the pool.
func (a *Adapter) Locator() *Locator { return a.locator }

// CurrentBalance returns the vault's yield-inclusive receipt balance, read
// from the venue on every call.
func (a *Adapter) CurrentBalance(ctx context.Context) (*uint256.Int, error) {
	bal, err := a.receipt.BalanceOf(ctx, a.vault)
	if err != nil {
		return nil, fmt.Errorf("%w: receipt token %s: %v", protocol.ErrVenueBalanceUnavailable, a.receipt.Address().Hex(), err)
	}
	return bal, nil
}

// Supply pulls amount from `from` and supplies it to the active pool on the
// vault's behalf. Funds pulled before a pool rejection are returned to `from`.
func (a *Adapter) Supply(ctx context.Context, from common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return fmt.Errorf("%w: supply of zero", protocol.ErrInvalidAmount)
	}

	pool, err := a.locator.Resolve(ctx)
	if err != nil {
		return err
	}

	if err := a.asset.TransferFrom(ctx, from, a.vault, amount); err != nil {
		return fmt.Errorf("%w: pull %s from %s: %v", protocol.ErrVenueSupplyFailed, amount.Dec(), from.Hex(), err)
	}

	if err := a.supplyPulled(ctx, pool, amount); err != nil {
		if refundErr := a.asset.Transfer(ctx, from, amount); refundErr != nil {
			a.log.Error().Err(refundErr).Str("from", from.Hex()).Str("amount", amount.Dec()).
				Msg("failed to refund depositor after rejected supply")
		}
		return err
	}

	a.log.Debug().Str("pool", pool.Address().Hex()).Str("from", from.Hex()).Str("amount", amount.Dec()).Msg("supplied")
	return nil
}

func (a *Adapter) supplyPulled(ctx context.Context, pool Pool, amount *uint256.Int) error {
	if err := a.EnsureAllowance(ctx, pool.Address(), amount); err != nil {
		return err
	}
	if err := pool.Supply(ctx, a.asset.Address(), amount, a.vault); err != nil {
		return fmt.Errorf("%w: pool %s: %v", protocol.ErrVenueSupplyFailed, pool.Address().Hex(), err)
	}
	return nil
}

// EnsureAllowance makes sure the vault has approved at least amount to
// spender, re-approving the maximum when short. Repeating it is harmless.
func (a *Adapter) EnsureAllowance(ctx context.Context, spender common.Address, amount *uint256.Int) error {
	current, err := a.asset.Allowance(ctx, a.vault, spender)
	if err != nil {
		return fmt.Errorf("%w: allowance: %v", protocol.ErrVenueSupplyFailed, err)
	}
	if !current.Lt(amount) {
		return nil
	}
	if err := a.asset.Approve(ctx, spender, MaxAllowance); err != nil {
		return fmt.Errorf("%w: approve %s: %v", protocol.ErrVenueSupplyFailed, spender.Hex(), err)
	}
	a.log.Debug().Str("spender", spender.Hex()).Msg("approved pool")
	return nil
}

// Withdraw asks the active pool to release amount to recipient.
func (a *Adapter) Withdraw(ctx context.Context, amount *uint256.Int, recipient common.Address) (*uint256.Int, error) {
	if amount.IsZero() {
		return nil, fmt.Errorf("%w: withdraw of zero", protocol.ErrInvalidAmount)
	}

	balance, err := a.CurrentBalance(ctx)
	if err != nil {
		return nil, err
	}
	if amount.Gt(balance) {
		return nil, fmt.Errorf("%w: requested %s, venue holds %s", protocol.ErrInsufficientVenueBalance, amount.Dec(), balance.Dec())
	}

	pool, err := a.locator.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	withdrawn, err := pool.Withdraw(ctx, a.asset.Address(), amount, recipient)
	if err != nil {
		return nil, fmt.Errorf("%w: pool %s: %v", protocol.ErrVenueWithdrawFailed, pool.Address().Hex(), err)
	}
	if withdrawn == nil || !withdrawn.Eq(amount) {
		got := "nil"
		if withdrawn != nil {
			got = withdrawn.Dec()
		}
		return withdrawn, fmt.Errorf("%w: pool %s delivered %s of %s", protocol.ErrVenueWithdrawFailed, pool.Address().Hex(), got, amount.Dec())
	}

	a.log.Debug().Str("pool", pool.Address().Hex()).Str("to", recipient.Hex()).Str("amount", amount.Dec()).Msg("withdrew")
	return withdrawn, nil
}
