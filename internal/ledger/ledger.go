package ledger

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/yield-vault/aavevault/internal/logger"
	"github.com/yield-vault/aavevault/internal/protocol"
)

// Ledger tracks share ownership. Every mint and burn updates the holder's
// balance and the supply together, so the sum of all balances always equals
// the supply.
type Ledger struct {
	mu    sync.Mutex
	store *Store
	log   zerolog.Logger
}

// Holding is a holder's share balance.
type Holding struct {
	Holder common.Address
	Shares *uint256.Int
}

func New(store *Store) *Ledger {
	return &Ledger{
		store: store,
		log:   logger.GetForComponent("ledger"),
	}
}

// TotalShares returns the number of shares outstanding.
func (l *Ledger) TotalShares() (*uint256.Int, error) {
	return l.store.Total()
}

// BalanceOf returns holder's share balance.
func (l *Ledger) BalanceOf(holder common.Address) (*uint256.Int, error) {
	return l.store.Balance(holder)
}

// Mint credits shares to holder.
func (l *Ledger) Mint(holder common.Address, shares *uint256.Int) error {
	if shares.IsZero() {
		return fmt.Errorf("%w: mint of zero shares", protocol.ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	balance, err := l.store.Balance(holder)
	if err != nil {
		return err
	}
	total, err := l.store.Total()
	if err != nil {
		return err
	}

	newBalance, overflow := new(uint256.Int).AddOverflow(balance, shares)
	if overflow {
		return fmt.Errorf("%w: balance overflow", protocol.ErrInvalidAmount)
	}
	newTotal, overflow := new(uint256.Int).AddOverflow(total, shares)
	if overflow {
		return fmt.Errorf("%w: supply overflow", protocol.ErrInvalidAmount)
	}

	if err := l.store.write(holder, newBalance, newTotal); err != nil {
		return fmt.Errorf("mint: %w", err)
	}
	l.log.Debug().Str("holder", holder.Hex()).Str("shares", shares.Dec()).Str("total", newTotal.Dec()).Msg("minted")
	return nil
}

// Burn debits shares from holder.
func (l *Ledger) Burn(holder common.Address, shares *uint256.Int) error {
	if shares.IsZero() {
		return fmt.Errorf("%w: burn of zero shares", protocol.ErrInvalidAmount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	balance, err := l.store.Balance(holder)
	if err != nil {
		return err
	}
	if balance.Lt(shares) {
		return fmt.Errorf("%w: %s holds %s shares, burning %s",
			protocol.ErrInsufficientBalance, holder.Hex(), balance.Dec(), shares.Dec())
	}
	total, err := l.store.Total()
	if err != nil {
		return err
	}

	newBalance := new(uint256.Int).Sub(balance, shares)
	newTotal := new(uint256.Int).Sub(total, shares)
	if err := l.store.write(holder, newBalance, newTotal); err != nil {
		return fmt.Errorf("burn: %w", err)
	}
	l.log.Debug().Str("holder", holder.Hex()).Str("shares", shares.Dec()).Str("total", newTotal.Dec()).Msg("burned")
	return nil
}

// Holders lists every holder with a non-zero balance.
func (l *Ledger) Holders() ([]Holding, error) {
	var out []Holding
	err := l.store.ForEach(func(holder common.Address, shares *uint256.Int) bool {
		out = append(out, Holding{Holder: holder, Shares: shares})
		return true
	})
	return out, err
}
