package rewards

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/yield-vault/aavevault/internal/logger"
	"github.com/yield-vault/aavevault/internal/protocol"
)

// ClaimAll asks the controller for every accrued reward.
var ClaimAll = new(uint256.Int).SetAllOne()

// IncentiveController distributes rewards for holding receipt balances.
// Claims are made from the vault's account.
type IncentiveController interface {
	Address() common.Address
	ClaimRewards(ctx context.Context, assets []common.Address, amount *uint256.Int, to common.Address) (*uint256.Int, error)
}

// AccruedReader is implemented by controllers that expose unclaimed rewards.
type AccruedReader interface {
	UserRewards(ctx context.Context, assets []common.Address, user common.Address) (*uint256.Int, error)
}

// OwnerFunc reports the current owner at call time.
type OwnerFunc func() common.Address

// Claimer claims incentive rewards accrued on the vault's receipt balance.
// Rewards never touch the share ledger.
type Claimer struct {
	controller IncentiveController
	assets     []common.Address
	vault      common.Address
	owner      OwnerFunc
	log        zerolog.Logger
}

// NewClaimer claims for the given receipt assets held by vault.
func NewClaimer(controller IncentiveController, vault common.Address, owner OwnerFunc, assets ...common.Address) *Claimer {
	return &Claimer{
		controller: controller,
		assets:     assets,
		vault:      vault,
		owner:      owner,
		log:        logger.GetForComponent("rewards"),
	}
}

// Controller returns the bound incentive controller.
func (c *Claimer) Controller() IncentiveController { return c.controller }

// Claim sends all accrued rewards to recipient. Only the owner may claim.
func (c *Claimer) Claim(ctx context.Context, caller, recipient common.Address) (*uint256.Int, error) {
	if caller != c.owner() {
		return nil, fmt.Errorf("%w: %s cannot claim rewards", protocol.ErrNotOwner, caller.Hex())
	}
	if recipient == (common.Address{}) {
		return nil, fmt.Errorf("%w: reward recipient", protocol.ErrInvalidAddress)
	}
	if len(c.assets) == 0 {
		return nil, fmt.Errorf("%w: no eligible assets", protocol.ErrClaimFailed)
	}

	claimed, err := c.controller.ClaimRewards(ctx, c.assets, ClaimAll, recipient)
	if err != nil {
		return nil, fmt.Errorf("%w: controller %s: %v", protocol.ErrClaimFailed, c.controller.Address().Hex(), err)
	}
	if claimed == nil {
		claimed = new(uint256.Int)
	}

	c.log.Info().Str("recipient", recipient.Hex()).Str("claimed", claimed.Dec()).Msg("claimed rewards")
	return claimed, nil
}

// Accrued returns unclaimed rewards when the controller can report them.
func (c *Claimer) Accrued(ctx context.Context) (*uint256.Int, bool, error) {
	reader, ok := c.controller.(AccruedReader)
	if !ok {
		return nil, false, nil
	}
	amount, err := reader.UserRewards(ctx, c.assets, c.vault)
	if err != nil {
		return nil, true, fmt.Errorf("%w: accrued rewards: %v", protocol.ErrClaimFailed, err)
	}
	return amount, true, nil
}
