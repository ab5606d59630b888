package simvenue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientFunds     = errors.New("transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

// Token is a minimal ERC-20 ledger.
type Token struct {
	mu         sync.Mutex
	address    common.Address
	symbol     string
	decimals   uint8
	balances   map[common.Address]*uint256.Int
	allowances map[common.Address]map[common.Address]*uint256.Int
}

func NewToken(address common.Address, symbol string, decimals uint8) *Token {
	return &Token{
		address:    address,
		symbol:     symbol,
		decimals:   decimals,
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[common.Address]map[common.Address]*uint256.Int),
	}
}

func (t *Token) Address() common.Address { return t.address }
func (t *Token) Symbol() string          { return t.symbol }
func (t *Token) Decimals() uint8         { return t.decimals }

// Mint credits amount to `to` out of thin air.
func (t *Token) Mint(to common.Address, amount *uint256.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balanceLocked(to).Add(t.balanceLocked(to), amount)
}

func (t *Token) BalanceOf(account common.Address) *uint256.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balanceLocked(account).Clone()
}

func (t *Token) AllowanceOf(owner, spender common.Address) *uint256.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allowanceLocked(owner, spender).Clone()
}

func (t *Token) balanceLocked(account common.Address) *uint256.Int {
	bal, ok := t.balances[account]
	if !ok {
		bal = new(uint256.Int)
		t.balances[account] = bal
	}
	return bal
}

func (t *Token) allowanceLocked(owner, spender common.Address) *uint256.Int {
	m, ok := t.allowances[owner]
	if !ok {
		m = make(map[common.Address]*uint256.Int)
		t.allowances[owner] = m
	}
	a, ok := m[spender]
	if !ok {
		a = new(uint256.Int)
		m[spender] = a
	}
	return a
}

func (t *Token) transferLocked(from, to common.Address, amount *uint256.Int) error {
	fromBal := t.balanceLocked(from)
	if fromBal.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, from.Hex(), fromBal.Dec(), amount.Dec())
	}
	fromBal.Sub(fromBal, amount)
	toBal := t.balanceLocked(to)
	toBal.Add(toBal, amount)
	return nil
}

func (t *Token) transfer(from, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transferLocked(from, to, amount)
}

// transferFrom moves funds using spender's allowance. A maximal allowance
// is never decreased, as in common ERC-20 implementations.
func (t *Token) transferFrom(spender, from, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	allowance := t.allowanceLocked(from, spender)
	if allowance.Lt(amount) {
		return fmt.Errorf("%w: %s allows %s %s, needs %s", ErrInsufficientAllowance, from.Hex(), spender.Hex(), allowance.Dec(), amount.Dec())
	}
	if err := t.transferLocked(from, to, amount); err != nil {
		return err
	}
	if !allowance.Eq(maxUint) {
		allowance.Sub(allowance, amount)
	}
	return nil
}

func (t *Token) approve(owner, spender common.Address, amount *uint256.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.allowanceLocked(owner, spender).Set(amount)
}

// As returns a handle that acts from account.
func (t *Token) As(account common.Address) *TokenSession {
	return &TokenSession{token: t, caller: account}
}

// TokenSession is a Token bound to a calling account.
type TokenSession struct {
	token  *Token
	caller common.Address
}

func (s *TokenSession) Address() common.Address { return s.token.address }
func (s *TokenSession) Decimals() uint8         { return s.token.decimals }

func (s *TokenSession) Transfer(_ context.Context, to common.Address, amount *uint256.Int) error {
	return s.token.transfer(s.caller, to, amount)
}

func (s *TokenSession) TransferFrom(_ context.Context, from, to common.Address, amount *uint256.Int) error {
	return s.token.transferFrom(s.caller, from, to, amount)
}

func (s *TokenSession) Approve(_ context.Context, spender common.Address, amount *uint256.Int) error {
	s.token.approve(s.caller, spender, amount)
	return nil
}

func (s *TokenSession) Allowance(_ context.Context, owner, spender common.Address) (*uint256.Int, error) {
	return s.token.AllowanceOf(owner, spender), nil
}
