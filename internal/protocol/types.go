package protocol

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// DepositRequest supplies Amount of the underlying asset on behalf of From
type DepositRequest struct {
	From   string `json:"from"`
	Amount string `json:"amount"`
}

// DepositResponse reports the shares minted for a deposit
type DepositResponse struct {
	ReceiptID string `json:"receipt_id"`
	Amount    string `json:"amount"`
	Shares    string `json:"shares"`
}

// RedeemRequest burns Shares held by From and delivers the assets to Recipient
type RedeemRequest struct {
	From      string `json:"from"`
	Shares    string `json:"shares"`
	Recipient string `json:"recipient"`
}

// RedeemAssetsRequest redeems an exact asset Amount, burning whatever shares back it
type RedeemAssetsRequest struct {
	From      string `json:"from"`
	Amount    string `json:"amount"`
	Recipient string `json:"recipient"`
}

// RedeemResponse reports the shares burned and the assets delivered
type RedeemResponse struct {
	ReceiptID string `json:"receipt_id"`
	Shares    string `json:"shares"`
	Amount    string `json:"amount"`
}

type ClaimRewardsRequest struct {
	From      string `json:"from"`
	Recipient string `json:"recipient"`
}

type ClaimRewardsResponse struct {
	ReceiptID string `json:"receipt_id"`
	Claimed   string `json:"claimed"`
}

type SetOwnerRequest struct {
	From     string `json:"from"`
	NewOwner string `json:"new_owner"`
}

type SetOwnerResponse struct {
	ReceiptID     string `json:"receipt_id"`
	PreviousOwner string `json:"previous_owner"`
	Owner         string `json:"owner"`
}

// BalanceResponse is a holder's share balance and its current asset value
type BalanceResponse struct {
	Address string `json:"address"`
	Shares  string `json:"shares"`
	Assets  string `json:"assets"`
}

type AmountResponse struct {
	Amount string `json:"amount"`
}

// HolderBalance is one row of the ledger dump
type HolderBalance struct {
	Address string `json:"address"`
	Shares  string `json:"shares"`
}

// InfoResponse carries every parameter bound at vault construction
type InfoResponse struct {
	Name                string `json:"name"`
	Symbol              string `json:"symbol"`
	Decimals            uint8  `json:"decimals"`
	Vault               string `json:"vault"`
	Asset               string `json:"asset"`
	ReceiptToken        string `json:"receipt_token"`
	IncentiveController string `json:"incentive_controller"`
	Registry            string `json:"registry"`
	Owner               string `json:"owner"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error        string       `json:"error"`
	Code         string       `json:"code,omitempty"`
	Precondition Precondition `json:"precondition,omitempty"`
}

// ParseAmount parses a base-10 unsigned amount.
func ParseAmount(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty amount", ErrInvalidAmount)
	}
	amount, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAmount, s, err)
	}
	return amount, nil
}

// ParseAddress parses a hex account address; the zero address is rejected.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: zero address", ErrInvalidAddress)
	}
	return addr, nil
}

// FaucetRequest credits Amount of the asset to Address and approves the
// vault to pull it. Only served in devnet mode.
type FaucetRequest struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type AccrueYieldRequest struct {
	Bps uint64 `json:"bps"`
}

type AccrueRewardsRequest struct {
	Amount string `json:"amount"`
}
