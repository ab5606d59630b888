// Package simvenue is an in-process lending market that implements the
// venue and incentive boundaries the vault consumes. Balances grow through a
// liquidity index the same way an Aave v3 aToken does, pools can be migrated
// behind a provider, and rewards accrue separately from principal.
package simvenue

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/yield-vault/aavevault/internal/venue"
)

var (
	ErrPaused             = errors.New("reserve is paused")
	ErrAssetNotListed     = errors.New("asset not listed")
	ErrPoolRetired        = errors.New("pool has been migrated")
	ErrLiquidityShortfall = errors.New("not enough available liquidity")
	ErrExceedsBalance     = errors.New("amount exceeds receipt balance")
	ErrNoEligibleAssets   = errors.New("no eligible assets")
)

var (
	maxUint = new(uint256.Int).SetAllOne()
	ray     = new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(27))
	bpsBase = uint256.NewInt(10_000)
)

// Config describes the market to create.
type Config struct {
	Deployer       common.Address
	AssetSymbol    string
	AssetDecimals  uint8
	RewardSymbol   string
	RewardDecimals uint8
}

// Market holds one listed reserve, its receipt token, a reward token, the
// registry/provider pair and every pool instance ever deployed.
type Market struct {
	mu sync.Mutex

	deployer common.Address
	nonce    uint64

	asset    *Token
	reward   *Token
	aToken   common.Address
	borrower common.Address

	scaled     map[common.Address]*uint256.Int
	index      *uint256.Int
	paused     bool
	pools      map[common.Address]bool // address -> active
	activePool common.Address
	registry   common.Address
	providers  []common.Address
	controller common.Address
	accrued    map[common.Address]*uint256.Int
}

// NewMarket deploys the asset, receipt token, reward token, first pool,
// provider, registry and incentive controller.
func NewMarket(cfg Config) *Market {
	if cfg.Deployer == (common.Address{}) {
		cfg.Deployer = common.HexToAddress("0x00000000000000000000000000000000000de910")
	}
	if cfg.AssetSymbol == "" {
		cfg.AssetSymbol = "USDC"
	}
	if cfg.AssetDecimals == 0 {
		cfg.AssetDecimals = 6
	}
	if cfg.RewardSymbol == "" {
		cfg.RewardSymbol = "RWD"
	}
	if cfg.RewardDecimals == 0 {
		cfg.RewardDecimals = 18
	}

	m := &Market{
		deployer: cfg.Deployer,
		scaled:   make(map[common.Address]*uint256.Int),
		index:    ray.Clone(),
		pools:    make(map[common.Address]bool),
		accrued:  make(map[common.Address]*uint256.Int),
	}
	m.asset = NewToken(m.deploy(), cfg.AssetSymbol, cfg.AssetDecimals)
	m.reward = NewToken(m.deploy(), cfg.RewardSymbol, cfg.RewardDecimals)
	m.aToken = m.deploy()
	m.borrower = m.deploy()
	m.registry = m.deploy()
	m.controller = m.deploy()
	m.providers = []common.Address{m.deploy()}
	m.activePool = m.deploy()
	m.pools[m.activePool] = true
	return m
}

// deploy derives the next contract address from the deployer nonce.
func (m *Market) deploy() common.Address {
	addr := crypto.CreateAddress(m.deployer, m.nonce)
	m.nonce++
	return addr
}

func (m *Market) AssetToken() *Token                { return m.asset }
func (m *Market) RewardToken() *Token               { return m.reward }
func (m *Market) ATokenAddress() common.Address     { return m.aToken }
func (m *Market) RegistryAddress() common.Address   { return m.registry }
func (m *Market) ControllerAddress() common.Address { return m.controller }

// ActivePool returns the address the provider currently reports.
func (m *Market) ActivePool() common.Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activePool
}

// MigratePool deploys a new pool over the same reserve and retires the old
// one, which rejects any further call.
func (m *Market) MigratePool() common.Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[m.activePool] = false
	m.activePool = m.deploy()
	m.pools[m.activePool] = true
	return m.activePool
}

// SetActivePool overrides what the provider reports; the zero address makes
// the pool unresolvable.
func (m *Market) SetActivePool(addr common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activePool = addr
	if addr != (common.Address{}) {
		m.pools[addr] = true
	}
}

// ClearProviders empties the registry.
func (m *Market) ClearProviders() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers = nil
}

// AddProvider registers another provider and returns its address.
func (m *Market) AddProvider() common.Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.deploy()
	m.providers = append(m.providers, p)
	return p
}

func (m *Market) SetPaused(paused bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = paused
}

// LiquidityIndex returns the current index in ray units.
func (m *Market) LiquidityIndex() *uint256.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index.Clone()
}

// AccrueYield grows every receipt balance by bps basis points and funds the
// interest into the reserve, as repaid borrow interest would.
func (m *Market) AccrueYield(bps uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	newIndex := new(uint256.Int).Mul(m.index, new(uint256.Int).Add(bpsBase, uint256.NewInt(bps)))
	newIndex.Div(newIndex, bpsBase)

	interest := new(uint256.Int)
	for _, s := range m.scaled {
		before := rayMul(s, m.index)
		after := rayMul(s, newIndex)
		interest.Add(interest, new(uint256.Int).Sub(after, before))
	}
	m.index = newIndex
	if !interest.IsZero() {
		m.asset.Mint(m.aToken, interest)
	}
}

// Drain lends amount of the reserve out, reducing available liquidity.
func (m *Market) Drain(amount *uint256.Int) error {
	return m.asset.transfer(m.aToken, m.borrower, amount)
}

// Repay returns previously drained liquidity.
func (m *Market) Repay(amount *uint256.Int) error {
	return m.asset.transfer(m.borrower, m.aToken, amount)
}

// AccrueRewards credits reward tokens to a receipt holder.
func (m *Market) AccrueRewards(user common.Address, amount *uint256.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accrued[user]
	if !ok {
		acc = new(uint256.Int)
		m.accrued[user] = acc
	}
	acc.Add(acc, amount)
}

// ReceiptBalance returns account's yield-inclusive receipt balance.
func (m *Market) ReceiptBalance(account common.Address) *uint256.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balanceLocked(account)
}

func (m *Market) balanceLocked(account common.Address) *uint256.Int {
	s, ok := m.scaled[account]
	if !ok {
		return new(uint256.Int)
	}
	return rayMul(s, m.index)
}

func rayMul(x, index *uint256.Int) *uint256.Int {
	out, _ := new(uint256.Int).MulDivOverflow(x, index, ray)
	return out
}

// rayDivUp returns ceil(x * RAY / index).
func rayDivUp(x, index *uint256.Int) *uint256.Int {
	num := new(big.Int).Mul(x.ToBig(), ray.ToBig())
	q, r := new(big.Int).QuoRem(num, index.ToBig(), new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	out, _ := uint256.FromBig(q)
	return out
}

func (m *Market) supply(pool, caller, asset common.Address, amount *uint256.Int, onBehalfOf common.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkPoolLocked(pool, asset); err != nil {
		return err
	}
	if amount.IsZero() {
		return errors.New("invalid amount")
	}
	if err := m.asset.transferFrom(pool, caller, m.aToken, amount); err != nil {
		return err
	}

	add, _ := new(uint256.Int).MulDivOverflow(amount, ray, m.index)
	s, ok := m.scaled[onBehalfOf]
	if !ok {
		s = new(uint256.Int)
		m.scaled[onBehalfOf] = s
	}
	s.Add(s, add)
	return nil
}

func (m *Market) withdraw(pool, caller, asset common.Address, amount *uint256.Int, to common.Address) (*uint256.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkPoolLocked(pool, asset); err != nil {
		return nil, err
	}
	balance := m.balanceLocked(caller)
	if amount.Gt(balance) {
		return nil, fmt.Errorf("%w: %s > %s", ErrExceedsBalance, amount.Dec(), balance.Dec())
	}
	available := m.asset.BalanceOf(m.aToken)
	if amount.Gt(available) {
		return nil, fmt.Errorf("%w: %s available", ErrLiquidityShortfall, available.Dec())
	}

	burn := rayDivUp(amount, m.index)
	s := m.scaled[caller]
	if burn.Gt(s) {
		burn = s.Clone()
	}
	if err := m.asset.transfer(m.aToken, to, amount); err != nil {
		return nil, err
	}
	s.Sub(s, burn)
	return amount.Clone(), nil
}

func (m *Market) checkPoolLocked(pool, asset common.Address) error {
	if !m.pools[pool] {
		return fmt.Errorf("%w: %s", ErrPoolRetired, pool.Hex())
	}
	if asset != m.asset.address {
		return fmt.Errorf("%w: %s", ErrAssetNotListed, asset.Hex())
	}
	if m.paused {
		return ErrPaused
	}
	return nil
}

func (m *Market) claim(caller common.Address, assets []common.Address, amount *uint256.Int, to common.Address) (*uint256.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	eligible := false
	for _, a := range assets {
		if a == m.aToken {
			eligible = true
		}
	}
	if !eligible {
		return nil, ErrNoEligibleAssets
	}

	acc, ok := m.accrued[caller]
	if !ok || acc.IsZero() {
		return new(uint256.Int), nil
	}
	claimed := acc.Clone()
	if amount.Lt(claimed) {
		claimed = amount.Clone()
	}
	acc.Sub(acc, claimed)
	m.reward.Mint(to, claimed)
	return claimed, nil
}

func (m *Market) accruedFor(assets []common.Address, user common.Address) *uint256.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range assets {
		if a == m.aToken {
			if acc, ok := m.accrued[user]; ok {
				return acc.Clone()
			}
		}
	}
	return new(uint256.Int)
}

// Bindings, each acting from a fixed calling account.

// Asset returns the underlying asset bound to caller.
func (m *Market) Asset(caller common.Address) venue.Asset {
	return m.asset.As(caller)
}

// ReceiptToken returns the aToken view.
func (m *Market) ReceiptToken() venue.ReceiptToken {
	return &receiptToken{m: m}
}

// Registry returns the registry whose pools act from caller.
func (m *Market) Registry(caller common.Address) venue.Registry {
	return &registry{m: m, caller: caller}
}

// Pool returns a handle on pool address acting from caller.
func (m *Market) Pool(address, caller common.Address) venue.Pool {
	return &pool{m: m, address: address, caller: caller}
}

// Controller returns the incentive controller acting from caller.
func (m *Market) Controller(caller common.Address) *Controller {
	return &Controller{m: m, caller: caller}
}

type receiptToken struct{ m *Market }

func (r *receiptToken) Address() common.Address         { return r.m.aToken }
func (r *receiptToken) UnderlyingAsset() common.Address { return r.m.asset.address }
func (r *receiptToken) BalanceOf(_ context.Context, account common.Address) (*uint256.Int, error) {
	return r.m.ReceiptBalance(account), nil
}

type registry struct {
	m      *Market
	caller common.Address
}

func (r *registry) Address() common.Address { return r.m.registry }

func (r *registry) ListProviders(_ context.Context) ([]venue.Provider, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := make([]venue.Provider, 0, len(r.m.providers))
	for _, p := range r.m.providers {
		out = append(out, &provider{m: r.m, address: p, caller: r.caller})
	}
	return out, nil
}

type provider struct {
	m       *Market
	address common.Address
	caller  common.Address
}

func (p *provider) Address() common.Address { return p.address }

func (p *provider) GetActivePool(_ context.Context) (venue.Pool, error) {
	active := p.m.ActivePool()
	if active == (common.Address{}) {
		return nil, nil
	}
	return p.m.Pool(active, p.caller), nil
}

type pool struct {
	m       *Market
	address common.Address
	caller  common.Address
}

func (p *pool) Address() common.Address { return p.address }

func (p *pool) Supply(_ context.Context, asset common.Address, amount *uint256.Int, onBehalfOf common.Address) error {
	return p.m.supply(p.address, p.caller, asset, amount, onBehalfOf)
}

func (p *pool) Withdraw(_ context.Context, asset common.Address, amount *uint256.Int, to common.Address) (*uint256.Int, error) {
	return p.m.withdraw(p.address, p.caller, asset, amount, to)
}

// Controller is the incentive controller bound to a calling account.
type Controller struct {
	m      *Market
	caller common.Address
}

func (c *Controller) Address() common.Address { return c.m.controller }

func (c *Controller) ClaimRewards(_ context.Context, assets []common.Address, amount *uint256.Int, to common.Address) (*uint256.Int, error) {
	return c.m.claim(c.caller, assets, amount, to)
}

func (c *Controller) UserRewards(_ context.Context, assets []common.Address, user common.Address) (*uint256.Int, error) {
	return c.m.accruedFor(assets, user), nil
}

// Faucet drives the market on behalf of a single vault in devnet mode.
type Faucet struct {
	m     *Market
	vault common.Address
}

// Faucet returns devnet controls for the vault account.
func (m *Market) Faucet(vault common.Address) *Faucet {
	return &Faucet{m: m, vault: vault}
}

// Fund mints amount of the asset to account and approves the vault to pull
// it, standing in for the user's own approval.
func (f *Faucet) Fund(ctx context.Context, account common.Address, amount *uint256.Int) error {
	f.m.asset.Mint(account, amount)
	return f.m.Asset(account).Approve(ctx, f.vault, maxUint)
}

func (f *Faucet) AccrueYield(bps uint64) { f.m.AccrueYield(bps) }

// AccrueRewards credits incentive rewards to the vault's receipt balance.
func (f *Faucet) AccrueRewards(amount *uint256.Int) { f.m.AccrueRewards(f.vault, amount) }
