package venue

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Asset is the underlying token as seen from the vault's account: transfers
// and approvals are made by the vault.
type Asset interface {
	Address() common.Address
	Decimals() uint8
	// Transfer sends amount from the vault to `to`.
	Transfer(ctx context.Context, to common.Address, amount *uint256.Int) error
	// TransferFrom moves amount from `from` to `to` using the vault's allowance.
	TransferFrom(ctx context.Context, from, to common.Address, amount *uint256.Int) error
	// Approve sets the vault's allowance for spender.
	Approve(ctx context.Context, spender common.Address, amount *uint256.Int) error
	Allowance(ctx context.Context, owner, spender common.Address) (*uint256.Int, error)
}

// Pool is a lending venue instance, called from the vault's account.
type Pool interface {
	Address() common.Address
	// Supply pulls amount of asset from the caller and credits onBehalfOf's
	// receipt balance.
	Supply(ctx context.Context, asset common.Address, amount *uint256.Int, onBehalfOf common.Address) error
	// Withdraw burns receipt balance of the caller and sends the asset to `to`,
	// returning the amount actually withdrawn. It either delivers or fails
	// without moving funds.
	Withdraw(ctx context.Context, asset common.Address, amount *uint256.Int, to common.Address) (*uint256.Int, error)
}

// ReceiptToken reports yield-inclusive balances held in the venue.
type ReceiptToken interface {
	Address() common.Address
	UnderlyingAsset() common.Address
	BalanceOf(ctx context.Context, account common.Address) (*uint256.Int, error)
}

// Registry lists the providers that know the active pool.
type Registry interface {
	Address() common.Address
	ListProviders(ctx context.Context) ([]Provider, error)
}

// Provider resolves the currently active pool.
type Provider interface {
	Address() common.Address
	GetActivePool(ctx context.Context) (Pool, error)
}
