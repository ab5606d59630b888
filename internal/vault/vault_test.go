package vault

import (
	"context"
	"math/big"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yield-vault/aavevault/internal/ledger"
	"github.com/yield-vault/aavevault/internal/protocol"
	"github.com/yield-vault/aavevault/internal/venue"
	"github.com/yield-vault/aavevault/internal/venue/simvenue"
)

var (
	vaultAddr = common.HexToAddress("0x0000000000000000000000000000000000005a17")
	owner     = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob       = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol     = common.HexToAddress("0x00000000000000000000000000000000000ca201")
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

type fixture struct {
	m *simvenue.Market
	v *Vault
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithRegistry(t, nil)
}

// newFixtureWithRegistry lets a test wrap the registry the vault resolves
// pools through.
func newFixtureWithRegistry(t *testing.T, wrap func(venue.Registry) venue.Registry) *fixture {
	t.Helper()
	return buildFixture(t, wrap, nil)
}

// newFixtureWithStore binds a fresh market to an existing share ledger.
func newFixtureWithStore(t *testing.T, store *ledger.Store) *fixture {
	t.Helper()
	return buildFixture(t, nil, store)
}

func buildFixture(t *testing.T, wrap func(venue.Registry) venue.Registry, store *ledger.Store) *fixture {
	t.Helper()
	m := simvenue.NewMarket(simvenue.Config{})
	registry := m.Registry(vaultAddr)
	if wrap != nil {
		registry = wrap(registry)
	}
	v, err := New(Params{
		Vault:               vaultAddr,
		Asset:               m.Asset(vaultAddr),
		ReceiptToken:        m.ReceiptToken(),
		Registry:            registry,
		IncentiveController: m.Controller(vaultAddr),
		Name:                "Yield Vault USDC",
		Symbol:              "yvUSDC",
		Decimals:            6,
		Owner:               owner,
		Store:               store,
	})
	require.NoError(t, err)
	return &fixture{m: m, v: v}
}

func (f *fixture) fund(t *testing.T, who common.Address, amount uint64) {
	t.Helper()
	f.m.AssetToken().Mint(who, u(amount))
	require.NoError(t, f.m.Asset(who).Approve(context.Background(), vaultAddr, venue.MaxAllowance))
}

func (f *fixture) deposit(t *testing.T, who common.Address, amount uint64) *uint256.Int {
	t.Helper()
	f.fund(t, who, amount)
	res, err := f.v.DepositFor(context.Background(), who, u(amount))
	require.NoError(t, err)
	return res.Shares
}

func (f *fixture) assertConserved(t *testing.T) {
	t.Helper()
	holders, err := f.v.Holders()
	require.NoError(t, err)
	sum := new(uint256.Int)
	for _, h := range holders {
		sum.Add(sum, h.Shares)
	}
	total, err := f.v.TotalShares()
	require.NoError(t, err)
	assert.Equal(t, total.Dec(), sum.Dec(), "sum of balances equals total shares")
}

func (f *fixture) shares(t *testing.T, who common.Address) uint64 {
	t.Helper()
	s, err := f.v.BalanceOf(who)
	require.NoError(t, err)
	return s.Uint64()
}

func (f *fixture) assets(t *testing.T, who common.Address) uint64 {
	t.Helper()
	a, err := f.v.BalanceOfAssets(context.Background(), who)
	require.NoError(t, err)
	return a.Uint64()
}

func TestNew_EmitsInitialized(t *testing.T) {
	f := newFixture(t)

	logs := f.v.Events(protocol.EventInitialized.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, vaultAddr, logs[0].Address)

	fields, err := protocol.DecodeLog(protocol.EventInitialized, logs[0])
	require.NoError(t, err)
	assert.Equal(t, f.m.ATokenAddress(), fields["receiptToken"])
	assert.Equal(t, f.m.ControllerAddress(), fields["incentivesController"])
	assert.Equal(t, f.m.RegistryAddress(), fields["registry"])
	assert.Equal(t, uint8(6), fields["decimals"])
	assert.Equal(t, "Yield Vault USDC", fields["name"])
	assert.Equal(t, "yvUSDC", fields["symbol"])
	assert.Equal(t, owner, fields["owner"])

	assert.Equal(t, f.m.AssetToken().Address(), f.v.Asset())
	assert.Equal(t, f.m.ATokenAddress(), f.v.ReceiptToken())
	assert.Equal(t, uint8(6), f.v.Decimals())
	assert.Equal(t, owner, f.v.Owner())
}

type mismatchedReceipt struct{ venue.ReceiptToken }

func (mismatchedReceipt) UnderlyingAsset() common.Address { return common.HexToAddress("0xbad") }

func TestNew_RejectsBadBinding(t *testing.T) {
	m := simvenue.NewMarket(simvenue.Config{})
	base := Params{
		Vault:               vaultAddr,
		Asset:               m.Asset(vaultAddr),
		ReceiptToken:        m.ReceiptToken(),
		Registry:            m.Registry(vaultAddr),
		IncentiveController: m.Controller(vaultAddr),
		Owner:               owner,
	}

	p := base
	p.Owner = common.Address{}
	_, err := New(p)
	assert.ErrorIs(t, err, protocol.ErrInvalidAddress)

	p = base
	p.ReceiptToken = mismatchedReceipt{m.ReceiptToken()}
	_, err = New(p)
	assert.ErrorIs(t, err, ErrBinding)

	p = base
	p.Decimals = 18
	_, err = New(p)
	assert.ErrorIs(t, err, ErrBinding)

	p = base
	p.Registry = nil
	_, err = New(p)
	assert.ErrorIs(t, err, ErrBinding)

	v, err := New(base)
	require.NoError(t, err)
	assert.Equal(t, uint8(6), v.Decimals(), "decimals default to the asset's")
}

func TestDeposit_BootstrapIsOneToOne(t *testing.T) {
	f := newFixture(t)
	shares := f.deposit(t, alice, 1_000_000)
	assert.Equal(t, uint64(1_000_000), shares.Uint64())

	total, err := f.v.TotalAssets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), total.Uint64())
	assert.True(t, f.m.AssetToken().BalanceOf(alice).IsZero())
	f.assertConserved(t)
}

func TestScenario_YieldIsDeliveredOnRedeem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	shares := f.deposit(t, alice, 1_000_000)
	f.m.AccrueYield(500)
	assert.Equal(t, uint64(1_050_000), f.assets(t, alice))

	res, err := f.v.RedeemFor(ctx, alice, shares, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_050_000), res.Amount.Uint64())
	assert.Equal(t, uint64(1_050_000), f.m.AssetToken().BalanceOf(bob).Uint64())

	total, err := f.v.TotalShares()
	require.NoError(t, err)
	assert.True(t, total.IsZero())
	f.assertConserved(t)
}

func TestDeposit_AfterYieldPricesAtCurrentRate(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, alice, 1_000_000)
	f.m.AccrueYield(500)

	shares := f.deposit(t, bob, 1_050_000)
	assert.Equal(t, uint64(1_000_000), shares.Uint64())
	assert.Equal(t, uint64(1_050_000), f.assets(t, alice))
	assert.Equal(t, uint64(1_050_000), f.assets(t, bob))
	f.assertConserved(t)
}

func TestDeposit_RoundsInFavorOfVault(t *testing.T) {
	f := newFixture(t)
	f.deposit(t, alice, 2)
	f.m.AccrueYield(5_000) // 2 -> 3

	shares := f.deposit(t, bob, 2)
	assert.Equal(t, uint64(1), shares.Uint64(), "floor(2*2/3)")
	assert.LessOrEqual(t, f.assets(t, bob), uint64(2))

	total, err := f.v.TotalAssets(context.Background())
	require.NoError(t, err)
	assert.LessOrEqual(t, f.assets(t, alice)+f.assets(t, bob), total.Uint64(), "claims never exceed holdings")
}

func TestDeposit_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.v.DepositFor(ctx, alice, u(0))
	assert.ErrorIs(t, err, protocol.ErrInvalidAmount)

	_, err = f.v.DepositFor(ctx, common.Address{}, u(1))
	assert.ErrorIs(t, err, protocol.ErrInvalidAddress)

	f.deposit(t, alice, 1)
	f.m.AccrueYield(10_000) // 1 -> 2

	f.fund(t, bob, 1)
	_, err = f.v.DepositFor(ctx, bob, u(1))
	assert.ErrorIs(t, err, protocol.ErrInvalidAmount, "deposit worth zero shares")
	assert.Equal(t, uint64(1), f.m.AssetToken().BalanceOf(bob).Uint64(), "no funds moved")
	assert.Zero(t, f.shares(t, bob))
}

func TestDeposit_VenueRejectionLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	f.fund(t, alice, 100)
	f.m.SetPaused(true)

	_, err := f.v.DepositFor(context.Background(), alice, u(100))
	assert.ErrorIs(t, err, protocol.ErrVenueSupplyFailed)
	assert.Equal(t, uint64(100), f.m.AssetToken().BalanceOf(alice).Uint64())
	assert.Zero(t, f.shares(t, alice))
	assert.Len(t, f.v.Events(protocol.EventDeposited.ID), 0)
}

func TestRedeem_EmptyLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.v.RedeemFor(ctx, alice, u(1), bob)
	assert.ErrorIs(t, err, protocol.ErrDivisionByZero)

	_, err = f.v.RedeemAssetsFor(ctx, alice, u(1), bob)
	assert.ErrorIs(t, err, protocol.ErrDivisionByZero)

	got, err := f.v.ConvertToAssets(ctx, u(10))
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = f.v.ConvertToShares(ctx, u(10))
	require.NoError(t, err)
	assert.Equal(t, uint64(10), got.Uint64())
}

func TestRedeem_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, alice, 1_000)

	_, err := f.v.RedeemFor(ctx, alice, u(0), bob)
	assert.ErrorIs(t, err, protocol.ErrInvalidAmount)

	_, err = f.v.RedeemFor(ctx, alice, u(1_001), bob)
	assert.ErrorIs(t, err, protocol.ErrInsufficientBalance)

	_, err = f.v.RedeemFor(ctx, bob, u(1), bob)
	assert.ErrorIs(t, err, protocol.ErrInsufficientBalance)

	_, err = f.v.RedeemFor(ctx, alice, u(1), common.Address{})
	assert.ErrorIs(t, err, protocol.ErrInvalidAddress)

	assert.Equal(t, uint64(1_000), f.shares(t, alice))
	f.assertConserved(t)
}

func TestRedeem_WithdrawFailureRestoresShares(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, alice, 1_000)
	require.NoError(t, f.m.Drain(u(900)))

	_, err := f.v.RedeemFor(ctx, alice, u(500), bob)
	assert.ErrorIs(t, err, protocol.ErrVenueWithdrawFailed)
	assert.Equal(t, uint64(1_000), f.shares(t, alice))
	assert.True(t, f.m.AssetToken().BalanceOf(bob).IsZero())
	f.assertConserved(t)

	require.NoError(t, f.m.Repay(u(900)))
	res, err := f.v.RedeemFor(ctx, alice, u(500), bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), res.Amount.Uint64())
}

// hookRegistry hands out pools wrapped by wrap.
type hookRegistry struct {
	venue.Registry
	wrap func(venue.Pool) venue.Pool
}

func (r *hookRegistry) ListProviders(ctx context.Context) ([]venue.Provider, error) {
	providers, err := r.Registry.ListProviders(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]venue.Provider, len(providers))
	for i, p := range providers {
		out[i] = &hookProvider{Provider: p, wrap: r.wrap}
	}
	return out, nil
}

type hookProvider struct {
	venue.Provider
	wrap func(venue.Pool) venue.Pool
}

func (p *hookProvider) GetActivePool(ctx context.Context) (venue.Pool, error) {
	pool, err := p.Provider.GetActivePool(ctx)
	if err != nil || pool == nil {
		return pool, err
	}
	return p.wrap(pool), nil
}

// hookPool calls back into the vault the way token transfer hooks would,
// at any point of the pool's supply or withdraw.
type hookPool struct {
	venue.Pool
	beforeSupply   func(ctx context.Context)
	afterSupply    func(ctx context.Context)
	shortDelivery  func(amount *uint256.Int) *uint256.Int
	beforeWithdraw func(ctx context.Context)
	afterWithdraw  func(ctx context.Context)
}

func (p *hookPool) Supply(ctx context.Context, asset common.Address, amount *uint256.Int, onBehalfOf common.Address) error {
	if p.beforeSupply != nil {
		p.beforeSupply(ctx)
	}
	if err := p.Pool.Supply(ctx, asset, amount, onBehalfOf); err != nil {
		return err
	}
	if p.afterSupply != nil {
		p.afterSupply(ctx)
	}
	return nil
}

func (p *hookPool) Withdraw(ctx context.Context, asset common.Address, amount *uint256.Int, to common.Address) (*uint256.Int, error) {
	if p.beforeWithdraw != nil {
		p.beforeWithdraw(ctx)
	}
	if p.shortDelivery != nil {
		amount = p.shortDelivery(amount)
	}
	got, err := p.Pool.Withdraw(ctx, asset, amount, to)
	if err == nil && p.afterWithdraw != nil {
		p.afterWithdraw(ctx)
	}
	return got, err
}

func hooked(pool *hookPool) func(venue.Registry) venue.Registry {
	return func(r venue.Registry) venue.Registry {
		return &hookRegistry{Registry: r, wrap: func(inner venue.Pool) venue.Pool {
			cp := *pool
			cp.Pool = inner
			return &cp
		}}
	}
}

func TestRedeem_PartialDeliveryRestoresUndeliveredShares(t *testing.T) {
	hook := &hookPool{}
	f := newFixtureWithRegistry(t, hooked(hook))
	f.deposit(t, alice, 1_000)

	hook.shortDelivery = func(amount *uint256.Int) *uint256.Int {
		return new(uint256.Int).Div(amount, u(2))
	}
	_, err := f.v.RedeemFor(context.Background(), alice, u(1_000), bob)
	assert.ErrorIs(t, err, protocol.ErrVenueWithdrawFailed)

	assert.Equal(t, uint64(500), f.m.AssetToken().BalanceOf(bob).Uint64())
	assert.Equal(t, uint64(500), f.shares(t, alice))
	assert.Equal(t, uint64(500), f.assets(t, alice))
	f.assertConserved(t)
}

func TestReentrancy_DepositDuringSupply(t *testing.T) {
	hook := &hookPool{}
	f := newFixtureWithRegistry(t, hooked(hook))
	ctx := context.Background()

	f.deposit(t, alice, 1_000)
	f.m.AccrueYield(1_000) // 1000 -> 1100
	f.fund(t, bob, 1_100)
	f.fund(t, carol, 550)

	reentered := false
	var innerErr error
	hook.beforeSupply = func(ctx context.Context) {
		if reentered {
			return
		}
		reentered = true
		_, innerErr = f.v.DepositFor(ctx, carol, u(550))
	}

	res, err := f.v.DepositFor(ctx, bob, u(1_100))
	require.NoError(t, err)
	require.NoError(t, innerErr)

	assert.Equal(t, uint64(1_000), res.Shares.Uint64())
	assert.Equal(t, uint64(500), f.shares(t, carol))
	assert.Equal(t, uint64(1_100), f.assets(t, alice))
	assert.Equal(t, uint64(1_100), f.assets(t, bob))
	assert.Equal(t, uint64(550), f.assets(t, carol))
	f.assertConserved(t)
}

func TestReentrancy_RedeemDuringWithdraw(t *testing.T) {
	hook := &hookPool{}
	f := newFixtureWithRegistry(t, hooked(hook))
	ctx := context.Background()
	f.deposit(t, alice, 1_000)
	f.deposit(t, bob, 1_000)

	var replayErr, bobErr error
	var bobRes *Result
	reentered := false
	hook.afterWithdraw = func(ctx context.Context) {
		if reentered {
			return
		}
		reentered = true
		_, replayErr = f.v.RedeemFor(ctx, alice, u(1_000), carol)
		bobRes, bobErr = f.v.RedeemFor(ctx, bob, u(1_000), bob)
	}

	res, err := f.v.RedeemFor(ctx, alice, u(1_000), alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), res.Amount.Uint64())

	assert.ErrorIs(t, replayErr, protocol.ErrInsufficientBalance, "burned shares cannot be redeemed twice")
	require.NoError(t, bobErr)
	assert.Equal(t, uint64(1_000), bobRes.Amount.Uint64(), "reentrant redeem sees a consistent rate")

	assert.Equal(t, uint64(1_000), f.m.AssetToken().BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(1_000), f.m.AssetToken().BalanceOf(bob).Uint64())
	assert.True(t, f.m.AssetToken().BalanceOf(carol).IsZero())
	total, err := f.v.TotalShares()
	require.NoError(t, err)
	assert.True(t, total.IsZero())
	f.assertConserved(t)
}

func TestReentrancy_RedeemBeforeWithdrawTakesEffect(t *testing.T) {
	hook := &hookPool{}
	f := newFixtureWithRegistry(t, hooked(hook))
	ctx := context.Background()
	f.deposit(t, alice, 1_000)
	f.deposit(t, bob, 1_000)

	var bobRes *Result
	var bobErr, previewErr error
	var preview *uint256.Int
	reentered := false
	hook.beforeWithdraw = func(ctx context.Context) {
		if reentered {
			return
		}
		reentered = true
		// alice's shares are burned, the venue still holds her funds
		preview, previewErr = f.v.ConvertToAssets(ctx, u(1_000))
		bobRes, bobErr = f.v.RedeemFor(ctx, bob, u(1_000), bob)
	}

	res, err := f.v.RedeemFor(ctx, alice, u(1_000), alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), res.Amount.Uint64())

	require.NoError(t, previewErr)
	assert.Equal(t, uint64(1_000), preview.Uint64(), "nested reads see the state before the outer redeem")
	require.NoError(t, bobErr)
	assert.Equal(t, uint64(1_000), bobRes.Amount.Uint64(), "nested redeem is priced before the outer burn")

	assert.Equal(t, uint64(1_000), f.m.AssetToken().BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(1_000), f.m.AssetToken().BalanceOf(bob).Uint64())
	total, err := f.v.TotalShares()
	require.NoError(t, err)
	assert.True(t, total.IsZero())
	assets, err := f.v.TotalAssets(ctx)
	require.NoError(t, err)
	assert.True(t, assets.IsZero())
	f.assertConserved(t)
}

func TestReentrancy_RedeemAfterSupplyCredit(t *testing.T) {
	hook := &hookPool{}
	f := newFixtureWithRegistry(t, hooked(hook))
	ctx := context.Background()
	f.deposit(t, alice, 1_000)
	f.fund(t, bob, 1_000)

	var aliceRes *Result
	var aliceErr error
	reentered := false
	hook.afterSupply = func(ctx context.Context) {
		if reentered {
			return
		}
		reentered = true
		// bob's funds are credited to the vault, his shares are not minted yet
		aliceRes, aliceErr = f.v.RedeemFor(ctx, alice, u(1_000), alice)
	}

	res, err := f.v.DepositFor(ctx, bob, u(1_000))
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), res.Shares.Uint64())

	require.NoError(t, aliceErr)
	assert.Equal(t, uint64(1_000), aliceRes.Amount.Uint64(), "nested redeem cannot claim the pending deposit")
	assert.Equal(t, uint64(1_000), f.m.AssetToken().BalanceOf(alice).Uint64())

	assert.Equal(t, uint64(0), f.shares(t, alice))
	assert.Equal(t, uint64(1_000), f.shares(t, bob))
	assert.Equal(t, uint64(1_000), f.assets(t, bob))
	assets, err := f.v.TotalAssets(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), assets.Uint64())
	f.assertConserved(t)
}

func TestCheckBacking(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger")
	store, err := ledger.NewStore(path)
	require.NoError(t, err)

	f := newFixtureWithStore(t, store)
	require.NoError(t, f.v.CheckBacking(ctx), "empty ledger")
	f.deposit(t, alice, 1_000)
	require.NoError(t, f.v.CheckBacking(ctx))
	require.NoError(t, store.Close())

	// The persisted ledger reopened against a fresh market has nothing behind it.
	store, err = ledger.NewStore(path)
	require.NoError(t, err)
	defer store.Close()
	restarted := newFixtureWithStore(t, store)
	assert.Equal(t, uint64(1_000), restarted.shares(t, alice))
	assert.ErrorIs(t, restarted.v.CheckBacking(ctx), ErrBinding)
}

func TestRedeemAssets_RoundsSharesUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, alice, 1_000)
	f.m.AccrueYield(1_000) // 1000 -> 1100

	res, err := f.v.RedeemAssetsFor(ctx, alice, u(550), bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), res.Shares.Uint64())
	assert.Equal(t, uint64(550), res.Amount.Uint64())

	res, err = f.v.RedeemAssetsFor(ctx, alice, u(100), bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(91), res.Shares.Uint64(), "ceil(100*500/550)")
	assert.Equal(t, uint64(650), f.m.AssetToken().BalanceOf(bob).Uint64())

	_, err = f.v.RedeemAssetsFor(ctx, alice, u(1_000), bob)
	assert.ErrorIs(t, err, protocol.ErrInsufficientBalance)
	f.assertConserved(t)
}

func TestVenueMigrationBetweenOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.deposit(t, alice, 1_000)
	old := f.m.ActivePool()
	fresh := f.m.MigratePool()
	require.NotEqual(t, old, fresh)

	f.deposit(t, bob, 1_000)
	res, err := f.v.RedeemFor(ctx, alice, u(1_000), alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), res.Amount.Uint64())
	assert.True(t, f.m.AssetToken().AllowanceOf(vaultAddr, fresh).Eq(venue.MaxAllowance))

	f.m.ClearProviders()
	_, err = f.v.RedeemFor(ctx, bob, u(1_000), bob)
	assert.ErrorIs(t, err, protocol.ErrNoProviderRegistered)
	assert.Equal(t, uint64(1_000), f.shares(t, bob), "shares restored when no pool resolves")
}

func TestClaimRewards_OwnerOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.deposit(t, alice, 1_000)
	f.m.AccrueRewards(vaultAddr, u(42))

	_, err := f.v.ClaimRewards(ctx, alice, alice)
	assert.ErrorIs(t, err, protocol.ErrNotOwner)
	pending, ok, err := f.v.AccruedRewards(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(42), pending.Uint64(), "no state change")

	_, err = f.v.ClaimRewards(ctx, owner, common.Address{})
	assert.ErrorIs(t, err, protocol.ErrInvalidAddress)

	res, err := f.v.ClaimRewards(ctx, owner, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), res.Amount.Uint64())
	assert.Equal(t, uint64(42), f.m.RewardToken().BalanceOf(bob).Uint64())

	assert.Equal(t, uint64(1_000), f.assets(t, alice), "rewards do not change share value")
	require.Len(t, f.v.Events(protocol.EventRewardsClaimed.ID), 1)
}

func TestSetOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.v.SetOwner(ctx, alice, alice)
	assert.ErrorIs(t, err, protocol.ErrNotOwner)
	assert.Equal(t, owner, f.v.Owner())

	_, err = f.v.SetOwner(ctx, owner, common.Address{})
	assert.ErrorIs(t, err, protocol.ErrInvalidAddress)

	receipt, err := f.v.SetOwner(ctx, owner, alice)
	require.NoError(t, err)
	assert.Equal(t, alice, f.v.Owner())
	require.Len(t, receipt.Logs, 1)
	fields, err := protocol.DecodeLog(protocol.EventOwnershipTransferred, receipt.Logs[0])
	require.NoError(t, err)
	assert.Equal(t, owner, fields["previousOwner"])
	assert.Equal(t, alice, fields["newOwner"])

	_, err = f.v.ClaimRewards(ctx, owner, owner)
	assert.ErrorIs(t, err, protocol.ErrNotOwner, "previous owner lost the capability")
	_, err = f.v.ClaimRewards(ctx, alice, alice)
	assert.NoError(t, err)
}

func TestReceiptsAndEvents(t *testing.T) {
	f := newFixture(t)
	f.fund(t, alice, 10)
	res, err := f.v.DepositFor(context.Background(), alice, u(10))
	require.NoError(t, err)

	got := f.v.Receipt(res.Receipt.ID)
	require.NotNil(t, got)
	assert.Equal(t, OpDeposit, got.Op)
	assert.Equal(t, "10", got.Amount)
	assert.Equal(t, "10", got.Shares)

	got.Logs[0].Data[0] ^= 0xff
	fresh := f.v.Receipt(res.Receipt.ID)
	assert.NotEqual(t, got.Logs[0].Data, fresh.Logs[0].Data, "receipts are copied on read")

	fields, err := protocol.DecodeLog(protocol.EventDeposited, fresh.Logs[0])
	require.NoError(t, err)
	assert.Equal(t, alice, fields["depositor"])
	assert.Equal(t, big.NewInt(10), fields["amount"])

	assert.Len(t, f.v.Events(common.Hash{}), 2, "initialized + deposited")
}

func TestConcurrentDepositsAndRedeems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	holders := make([]common.Address, 8)
	for i := range holders {
		holders[i] = common.BigToAddress(big.NewInt(int64(0x1000 + i)))
		f.fund(t, holders[i], 10_000)
	}

	var wg sync.WaitGroup
	for _, h := range holders {
		wg.Add(1)
		go func(h common.Address) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				res, err := f.v.DepositFor(ctx, h, u(500))
				if !assert.NoError(t, err) {
					return
				}
				_, err = f.v.RedeemFor(ctx, h, new(uint256.Int).Div(res.Shares, u(2)), h)
				assert.NoError(t, err)
			}
		}(h)
	}
	wg.Wait()

	f.assertConserved(t)
	total, err := f.v.TotalShares()
	require.NoError(t, err)
	assets, err := f.v.TotalAssets(ctx)
	require.NoError(t, err)
	assert.Equal(t, assets.Dec(), total.Dec(), "no yield keeps the rate at 1:1")
	assert.Equal(t, uint64(8*10*250), total.Uint64())
}
