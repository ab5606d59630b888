package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/yield-vault/aavevault/internal/protocol"
)

const DefaultTimeout = 10 * time.Second

// NewHTTPClient creates an HTTP client with the given request timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Transport: http.DefaultTransport,
		Timeout:   timeout,
	}
}

// APIError is a non-2xx response from a vault server. Unwrap yields the
// protocol sentinel named by Code, so errors.Is works across the wire.
type APIError struct {
	Status       int
	Code         string
	Precondition protocol.Precondition
	Message      string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("vault api: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("vault api: %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	if ve, ok := protocol.ErrorByCode(e.Code); ok {
		return ve
	}
	return nil
}

// Client talks to a vault server's HTTP API
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(DefaultTimeout)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var er protocol.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&er); err == nil {
			apiErr.Code = er.Code
			apiErr.Precondition = er.Precondition
			apiErr.Message = er.Error
		} else {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (c *Client) amount(ctx context.Context, path string) (*uint256.Int, error) {
	var resp protocol.AmountResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return protocol.ParseAmount(resp.Amount)
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) Info(ctx context.Context) (*protocol.InfoResponse, error) {
	var info protocol.InfoResponse
	if err := c.do(ctx, http.MethodGet, "/info", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) TotalAssets(ctx context.Context) (*uint256.Int, error) {
	return c.amount(ctx, "/total-assets")
}

func (c *Client) TotalShares(ctx context.Context) (*uint256.Int, error) {
	return c.amount(ctx, "/total-shares")
}

func (c *Client) ConvertToShares(ctx context.Context, assets *uint256.Int) (*uint256.Int, error) {
	return c.amount(ctx, "/convert/to-shares/"+assets.Dec())
}

func (c *Client) ConvertToAssets(ctx context.Context, shares *uint256.Int) (*uint256.Int, error) {
	return c.amount(ctx, "/convert/to-assets/"+shares.Dec())
}

func (c *Client) Balance(ctx context.Context, holder common.Address) (*protocol.BalanceResponse, error) {
	var resp protocol.BalanceResponse
	if err := c.do(ctx, http.MethodGet, "/balance/"+url.PathEscape(holder.Hex()), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Holders(ctx context.Context) ([]protocol.HolderBalance, error) {
	var resp []protocol.HolderBalance
	if err := c.do(ctx, http.MethodGet, "/holders", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) Deposit(ctx context.Context, from common.Address, amount *uint256.Int) (*protocol.DepositResponse, error) {
	var resp protocol.DepositResponse
	req := protocol.DepositRequest{From: from.Hex(), Amount: amount.Dec()}
	if err := c.do(ctx, http.MethodPost, "/deposit", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Redeem(ctx context.Context, from common.Address, shares *uint256.Int, recipient common.Address) (*protocol.RedeemResponse, error) {
	var resp protocol.RedeemResponse
	req := protocol.RedeemRequest{From: from.Hex(), Shares: shares.Dec(), Recipient: recipient.Hex()}
	if err := c.do(ctx, http.MethodPost, "/redeem", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) RedeemAssets(ctx context.Context, from common.Address, amount *uint256.Int, recipient common.Address) (*protocol.RedeemResponse, error) {
	var resp protocol.RedeemResponse
	req := protocol.RedeemAssetsRequest{From: from.Hex(), Amount: amount.Dec(), Recipient: recipient.Hex()}
	if err := c.do(ctx, http.MethodPost, "/redeem-assets", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ClaimRewards(ctx context.Context, from, recipient common.Address) (*protocol.ClaimRewardsResponse, error) {
	var resp protocol.ClaimRewardsResponse
	req := protocol.ClaimRewardsRequest{From: from.Hex(), Recipient: recipient.Hex()}
	if err := c.do(ctx, http.MethodPost, "/admin/claim-rewards", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) SetOwner(ctx context.Context, from, newOwner common.Address) (*protocol.SetOwnerResponse, error) {
	var resp protocol.SetOwnerResponse
	req := protocol.SetOwnerRequest{From: from.Hex(), NewOwner: newOwner.Hex()}
	if err := c.do(ctx, http.MethodPost, "/admin/owner", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Fund credits test funds through the devnet faucet.
func (c *Client) Fund(ctx context.Context, account common.Address, amount *uint256.Int) error {
	req := protocol.FaucetRequest{Address: account.Hex(), Amount: amount.Dec()}
	return c.do(ctx, http.MethodPost, "/faucet", req, nil)
}

// AccrueYield grows the devnet venue's balances by bps basis points.
func (c *Client) AccrueYield(ctx context.Context, bps uint64) error {
	return c.do(ctx, http.MethodPost, "/devnet/accrue-yield", protocol.AccrueYieldRequest{Bps: bps}, nil)
}
