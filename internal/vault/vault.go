// Package vault is the public surface of the yield vault: deposits are
// forwarded to the lending venue and credited as shares of the vault's
// yield-inclusive balance, redemptions burn shares for their current value.
package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/yield-vault/aavevault/internal/ledger"
	"github.com/yield-vault/aavevault/internal/logger"
	"github.com/yield-vault/aavevault/internal/metrics"
	"github.com/yield-vault/aavevault/internal/protocol"
	"github.com/yield-vault/aavevault/internal/rewards"
	"github.com/yield-vault/aavevault/internal/venue"
)

// ErrBinding is returned by New when the venue contracts do not fit together,
// and by CheckBacking when the ledger has no venue balance behind it.
var ErrBinding = errors.New("invalid vault binding")

// Params binds a vault to its venue. Provider may be left zero to use the
// first provider the registry lists. A nil Store means in-memory.
type Params struct {
	Vault               common.Address
	Asset               venue.Asset
	ReceiptToken        venue.ReceiptToken
	Registry            venue.Registry
	Provider            common.Address
	IncentiveController rewards.IncentiveController
	Name                string
	Symbol              string
	Decimals            uint8
	Owner               common.Address
	Store               *ledger.Store
}

// Result is the outcome of a deposit, redeem or claim.
type Result struct {
	Receipt *Receipt
	Amount  *uint256.Int
	Shares  *uint256.Int
}

type Vault struct {
	address  common.Address
	name     string
	symbol   string
	decimals uint8
	registry venue.Registry

	ledger   *ledger.Ledger
	adapter  *venue.Adapter
	claimer  *rewards.Claimer
	receipts *ReceiptStore

	// opMu serializes top-level operations; see enter.
	opMu sync.Mutex

	ownerMu sync.RWMutex
	owner   common.Address

	log zerolog.Logger
}

// snapshot is the (supply, underlying) pair one operation converts with.
type snapshot struct {
	totalShares *uint256.Int
	underlying  *uint256.Int
}

func New(p Params) (*Vault, error) {
	if err := validate(p); err != nil {
		return nil, err
	}
	if p.Decimals == 0 {
		p.Decimals = p.Asset.Decimals()
	}
	if p.Store == nil {
		p.Store = ledger.NewMemoryStore()
	}

	locator := venue.NewLocator(p.Registry)
	if p.Provider != (common.Address{}) {
		locator = venue.NewLocatorFor(p.Registry, p.Provider)
	}

	v := &Vault{
		address:  p.Vault,
		name:     p.Name,
		symbol:   p.Symbol,
		decimals: p.Decimals,
		registry: p.Registry,
		ledger:   ledger.New(p.Store),
		adapter:  venue.NewAdapter(p.Vault, p.Asset, p.ReceiptToken, locator),
		receipts: NewReceiptStore(),
		owner:    p.Owner,
		log:      logger.GetForComponent("vault"),
	}
	v.claimer = rewards.NewClaimer(p.IncentiveController, p.Vault, v.Owner, p.ReceiptToken.Address())

	initLog, err := protocol.NewLog(protocol.EventInitialized, v.address,
		p.ReceiptToken.Address(), p.IncentiveController.Address(), p.Registry.Address(),
		p.Decimals, p.Name, p.Symbol, p.Owner)
	if err != nil {
		return nil, err
	}
	v.record(OpInitialize, p.Owner, nil, nil, initLog)

	v.log.Info().
		Str("vault", v.address.Hex()).
		Str("asset", p.Asset.Address().Hex()).
		Str("receipt_token", p.ReceiptToken.Address().Hex()).
		Str("incentives_controller", p.IncentiveController.Address().Hex()).
		Str("registry", p.Registry.Address().Hex()).
		Str("name", p.Name).
		Str("symbol", p.Symbol).
		Uint8("decimals", p.Decimals).
		Str("owner", p.Owner.Hex()).
		Msg("vault initialized")
	return v, nil
}

func validate(p Params) error {
	switch {
	case p.Vault == (common.Address{}):
		return fmt.Errorf("%w: vault account", protocol.ErrInvalidAddress)
	case p.Owner == (common.Address{}):
		return fmt.Errorf("%w: owner", protocol.ErrInvalidAddress)
	case p.Asset == nil, p.ReceiptToken == nil, p.Registry == nil, p.IncentiveController == nil:
		return fmt.Errorf("%w: asset, receipt token, registry and incentive controller are required", ErrBinding)
	}
	if p.ReceiptToken.UnderlyingAsset() != p.Asset.Address() {
		return fmt.Errorf("%w: receipt token %s wraps %s, not %s", ErrBinding,
			p.ReceiptToken.Address().Hex(), p.ReceiptToken.UnderlyingAsset().Hex(), p.Asset.Address().Hex())
	}
	if p.Decimals != 0 && p.Decimals != p.Asset.Decimals() {
		return fmt.Errorf("%w: decimals %d, asset has %d", ErrBinding, p.Decimals, p.Asset.Decimals())
	}
	return nil
}

type opKey struct{ v *Vault }

// opState is shared by an operation and every call re-entering the vault
// from inside it.
type opState struct {
	snap *snapshot
}

// enter serializes operations that price shares. A call made from inside a
// venue callback carries the outer operation's context and runs without
// waiting; it prices against the outer operation's snapshot, so it sees the
// vault as it was before the outer operation moved funds or shares.
func (v *Vault) enter(ctx context.Context) (context.Context, func()) {
	if _, ok := ctx.Value(opKey{v}).(*opState); ok {
		return ctx, func() {}
	}
	v.opMu.Lock()
	return context.WithValue(ctx, opKey{v}, &opState{}), v.opMu.Unlock
}

// snapshot reads the supply and the venue balance once per operation. Calls
// nested in an operation reuse its snapshot.
func (v *Vault) snapshot(ctx context.Context) (snapshot, error) {
	st, _ := ctx.Value(opKey{v}).(*opState)
	if st != nil && st.snap != nil {
		return snapshot{
			totalShares: st.snap.totalShares.Clone(),
			underlying:  st.snap.underlying.Clone(),
		}, nil
	}

	total, err := v.ledger.TotalShares()
	if err != nil {
		return snapshot{}, err
	}
	underlying, err := v.adapter.CurrentBalance(ctx)
	if err != nil {
		return snapshot{}, err
	}
	if st != nil {
		st.snap = &snapshot{totalShares: total.Clone(), underlying: underlying.Clone()}
	}
	return snapshot{totalShares: total, underlying: underlying}, nil
}

// CheckBacking fails when shares are outstanding but the venue reports no
// balance for the vault, as when a persisted ledger is opened against a
// different venue.
func (v *Vault) CheckBacking(ctx context.Context) error {
	total, err := v.ledger.TotalShares()
	if err != nil {
		return err
	}
	if total.IsZero() {
		return nil
	}
	underlying, err := v.adapter.CurrentBalance(ctx)
	if err != nil {
		return err
	}
	if underlying.IsZero() {
		return fmt.Errorf("%w: %s shares outstanding against zero venue balance", ErrBinding, total.Dec())
	}
	return nil
}

// DepositFor pulls amount of the asset from depositor, supplies it to the
// venue and mints the corresponding shares to depositor. Shares are priced
// from a snapshot taken before any funds move.
func (v *Vault) DepositFor(ctx context.Context, depositor common.Address, amount *uint256.Int) (res *Result, err error) {
	start := time.Now()
	defer func() { v.observe(OpDeposit, start, err) }()
	ctx, exit := v.enter(ctx)
	defer exit()

	if amount == nil || amount.IsZero() {
		return nil, fmt.Errorf("%w: deposit of zero", protocol.ErrInvalidAmount)
	}
	if depositor == (common.Address{}) {
		return nil, fmt.Errorf("%w: depositor", protocol.ErrInvalidAddress)
	}

	snap, err := v.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	shares, err := ledger.TokensToShares(amount, snap.underlying, snap.totalShares)
	if err != nil {
		return nil, err
	}
	if shares.IsZero() {
		return nil, fmt.Errorf("%w: %s is worth zero shares", protocol.ErrInvalidAmount, amount.Dec())
	}

	if err := v.adapter.Supply(ctx, depositor, amount); err != nil {
		return nil, err
	}
	if err := v.ledger.Mint(depositor, shares); err != nil {
		v.log.Error().Err(err).Str("depositor", depositor.Hex()).Str("amount", amount.Dec()).
			Msg("mint failed after supply, returning funds")
		if _, wErr := v.adapter.Withdraw(ctx, amount, depositor); wErr != nil {
			v.log.Error().Err(wErr).Str("depositor", depositor.Hex()).Msg("failed to return supplied funds")
		}
		return nil, err
	}

	ev, err := protocol.NewLog(protocol.EventDeposited, v.address, depositor, amount.ToBig(), shares.ToBig())
	if err != nil {
		return nil, err
	}
	receipt := v.record(OpDeposit, depositor, amount, shares, ev)

	v.log.Info().Str("depositor", depositor.Hex()).Str("amount", amount.Dec()).Str("shares", shares.Dec()).
		Str("receipt", receipt.ID.String()).Msg("deposit")
	return &Result{Receipt: receipt, Amount: amount.Clone(), Shares: shares}, nil
}

// RedeemFor burns shares held by holder and delivers their current asset
// value to recipient.
func (v *Vault) RedeemFor(ctx context.Context, holder common.Address, shares *uint256.Int, recipient common.Address) (res *Result, err error) {
	start := time.Now()
	defer func() { v.observe(OpRedeem, start, err) }()
	ctx, exit := v.enter(ctx)
	defer exit()

	if shares == nil || shares.IsZero() {
		return nil, fmt.Errorf("%w: redeem of zero shares", protocol.ErrInvalidAmount)
	}
	snap, err := v.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	tokens, err := ledger.SharesToTokens(shares, snap.underlying, snap.totalShares)
	if err != nil {
		return nil, err
	}
	return v.redeem(ctx, holder, shares, tokens, recipient, snap)
}

// RedeemAssetsFor redeems exactly amount of the asset, burning the shares
// that back it rounded up.
func (v *Vault) RedeemAssetsFor(ctx context.Context, holder common.Address, amount *uint256.Int, recipient common.Address) (res *Result, err error) {
	start := time.Now()
	defer func() { v.observe(OpRedeem, start, err) }()
	ctx, exit := v.enter(ctx)
	defer exit()

	if amount == nil || amount.IsZero() {
		return nil, fmt.Errorf("%w: redeem of zero", protocol.ErrInvalidAmount)
	}
	snap, err := v.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	shares, err := ledger.TokensToSharesUp(amount, snap.underlying, snap.totalShares)
	if err != nil {
		return nil, err
	}
	return v.redeem(ctx, holder, shares, amount, recipient, snap)
}

// redeem burns before it withdraws. A failed withdraw re-mints the shares
// that were not paid out.
func (v *Vault) redeem(ctx context.Context, holder common.Address, shares, tokens *uint256.Int, recipient common.Address, snap snapshot) (*Result, error) {
	if recipient == (common.Address{}) {
		return nil, fmt.Errorf("%w: recipient", protocol.ErrInvalidAddress)
	}
	balance, err := v.ledger.BalanceOf(holder)
	if err != nil {
		return nil, err
	}
	if balance.Lt(shares) {
		return nil, fmt.Errorf("%w: %s holds %s shares, redeeming %s",
			protocol.ErrInsufficientBalance, holder.Hex(), balance.Dec(), shares.Dec())
	}
	if tokens.IsZero() {
		return nil, fmt.Errorf("%w: %s shares are worth zero", protocol.ErrInvalidAmount, shares.Dec())
	}
	if tokens.Gt(snap.underlying) {
		return nil, fmt.Errorf("%w: redeeming %s, venue holds %s",
			protocol.ErrInsufficientVenueBalance, tokens.Dec(), snap.underlying.Dec())
	}

	if err := v.ledger.Burn(holder, shares); err != nil {
		return nil, err
	}

	withdrawn, err := v.adapter.Withdraw(ctx, tokens, recipient)
	if err != nil {
		v.compensate(holder, shares, tokens, withdrawn)
		return nil, err
	}

	ev, err := protocol.NewLog(protocol.EventRedeemed, v.address, holder, recipient, shares.ToBig(), tokens.ToBig())
	if err != nil {
		return nil, err
	}
	receipt := v.record(OpRedeem, holder, tokens, shares, ev)

	v.log.Info().Str("holder", holder.Hex()).Str("recipient", recipient.Hex()).Str("shares", shares.Dec()).
		Str("amount", tokens.Dec()).Str("receipt", receipt.ID.String()).Msg("redeem")
	return &Result{Receipt: receipt, Amount: tokens.Clone(), Shares: shares.Clone()}, nil
}

// compensate restores the shares of a redeem whose withdraw failed. When
// the venue delivered part of the amount, only the shares backing the
// undelivered part are restored.
func (v *Vault) compensate(holder common.Address, shares, tokens, withdrawn *uint256.Int) {
	restore := shares.Clone()
	if withdrawn != nil && !withdrawn.IsZero() {
		paid, err := ledger.TokensToSharesUp(withdrawn, tokens, shares)
		if err != nil || !paid.Lt(shares) {
			restore.Clear()
		} else {
			restore.Sub(shares, paid)
		}
	}
	if restore.IsZero() {
		return
	}

	if err := v.ledger.Mint(holder, restore); err != nil {
		metrics.RecordCompensation(false)
		v.log.Error().Err(err).Str("holder", holder.Hex()).Str("shares", restore.Dec()).
			Msg("failed to restore shares after withdraw failure")
		return
	}
	metrics.RecordCompensation(true)
	v.log.Warn().Str("holder", holder.Hex()).Str("shares", restore.Dec()).Msg("restored shares after withdraw failure")
}

// ClaimRewards sends every reward accrued on the vault's receipt balance to
// recipient. Only the owner may claim; the share ledger is untouched.
func (v *Vault) ClaimRewards(ctx context.Context, caller, recipient common.Address) (res *Result, err error) {
	start := time.Now()
	defer func() { v.observe(OpClaimRewards, start, err) }()
	ctx, exit := v.enter(ctx)
	defer exit()

	claimed, err := v.claimer.Claim(ctx, caller, recipient)
	if err != nil {
		return nil, err
	}
	ev, err := protocol.NewLog(protocol.EventRewardsClaimed, v.address, recipient, claimed.ToBig())
	if err != nil {
		return nil, err
	}
	receipt := v.record(OpClaimRewards, caller, claimed, nil, ev)
	return &Result{Receipt: receipt, Amount: claimed}, nil
}

// AccruedRewards reports unclaimed rewards; ok is false when the controller
// cannot tell.
func (v *Vault) AccruedRewards(ctx context.Context) (amount *uint256.Int, ok bool, err error) {
	return v.claimer.Accrued(ctx)
}

// SetOwner transfers the owner capability.
func (v *Vault) SetOwner(ctx context.Context, caller, newOwner common.Address) (receipt *Receipt, err error) {
	start := time.Now()
	defer func() { v.observe(OpSetOwner, start, err) }()

	v.ownerMu.Lock()
	previous := v.owner
	if caller != previous {
		v.ownerMu.Unlock()
		return nil, fmt.Errorf("%w: %s cannot transfer ownership", protocol.ErrNotOwner, caller.Hex())
	}
	if newOwner == (common.Address{}) {
		v.ownerMu.Unlock()
		return nil, fmt.Errorf("%w: new owner", protocol.ErrInvalidAddress)
	}
	v.owner = newOwner
	v.ownerMu.Unlock()

	ev, err := protocol.NewLog(protocol.EventOwnershipTransferred, v.address, previous, newOwner)
	if err != nil {
		return nil, err
	}
	receipt = v.record(OpSetOwner, caller, nil, nil, ev)
	v.log.Info().Str("previous", previous.Hex()).Str("owner", newOwner.Hex()).Msg("ownership transferred")
	return receipt, nil
}

func (v *Vault) Owner() common.Address {
	v.ownerMu.RLock()
	defer v.ownerMu.RUnlock()
	return v.owner
}

func (v *Vault) Address() common.Address { return v.address }
func (v *Vault) Name() string            { return v.name }
func (v *Vault) Symbol() string          { return v.symbol }
func (v *Vault) Decimals() uint8         { return v.decimals }

// Asset returns the underlying asset's address.
func (v *Vault) Asset() common.Address { return v.adapter.Asset().Address() }

func (v *Vault) ReceiptToken() common.Address { return v.adapter.ReceiptToken().Address() }

func (v *Vault) Registry() common.Address { return v.registry.Address() }

func (v *Vault) IncentiveController() common.Address { return v.claimer.Controller().Address() }

// TotalAssets is the vault's yield-inclusive balance in the venue.
func (v *Vault) TotalAssets(ctx context.Context) (*uint256.Int, error) {
	return v.adapter.CurrentBalance(ctx)
}

func (v *Vault) TotalShares() (*uint256.Int, error) {
	return v.ledger.TotalShares()
}

func (v *Vault) BalanceOf(holder common.Address) (*uint256.Int, error) {
	return v.ledger.BalanceOf(holder)
}

// BalanceOfAssets is the current asset value of holder's shares.
func (v *Vault) BalanceOfAssets(ctx context.Context, holder common.Address) (*uint256.Int, error) {
	shares, err := v.ledger.BalanceOf(holder)
	if err != nil {
		return nil, err
	}
	return v.ConvertToAssets(ctx, shares)
}

// ConvertToShares prices amount at the current exchange rate.
func (v *Vault) ConvertToShares(ctx context.Context, amount *uint256.Int) (*uint256.Int, error) {
	ctx, exit := v.enter(ctx)
	defer exit()
	snap, err := v.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return ledger.TokensToShares(amount, snap.underlying, snap.totalShares)
}

// ConvertToAssets prices shares at the current exchange rate. With no shares
// outstanding every amount of shares is worth zero.
func (v *Vault) ConvertToAssets(ctx context.Context, shares *uint256.Int) (*uint256.Int, error) {
	ctx, exit := v.enter(ctx)
	defer exit()
	snap, err := v.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if snap.totalShares.IsZero() {
		return new(uint256.Int), nil
	}
	return ledger.SharesToTokens(shares, snap.underlying, snap.totalShares)
}

func (v *Vault) Holders() ([]ledger.Holding, error) {
	return v.ledger.Holders()
}

func (v *Vault) Receipt(id uuid.UUID) *Receipt {
	return v.receipts.GetReceipt(id)
}

// Events returns every emitted log, filtered by topic when topic is non-zero.
func (v *Vault) Events(topic common.Hash) []*types.Log {
	return v.receipts.Logs(topic)
}

func (v *Vault) record(op Op, caller common.Address, amount, shares *uint256.Int, logs ...*types.Log) *Receipt {
	r := &Receipt{
		ID:        uuid.New(),
		Op:        op,
		Caller:    caller,
		Timestamp: time.Now().UTC(),
		Logs:      logs,
	}
	if amount != nil {
		r.Amount = amount.Dec()
	}
	if shares != nil {
		r.Shares = shares.Dec()
	}
	v.receipts.AddReceipt(r)
	return r.DeepCopy()
}

func (v *Vault) observe(op Op, start time.Time, err error) {
	code := "ok"
	if err != nil {
		code = "error"
		if ve, ok := protocol.AsVaultError(err); ok {
			code = ve.Code
		}
		v.log.Warn().Err(err).Str("op", string(op)).Msg("operation failed")
	}
	metrics.RecordOperation(string(op), code, time.Since(start))
}
