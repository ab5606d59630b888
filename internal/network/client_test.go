package network_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yield-vault/aavevault/internal/network"
	"github.com/yield-vault/aavevault/internal/protocol"
	"github.com/yield-vault/aavevault/internal/server"
	"github.com/yield-vault/aavevault/internal/vault"
	"github.com/yield-vault/aavevault/internal/venue/simvenue"
)

var (
	vaultAddr = common.HexToAddress("0x0000000000000000000000000000000000005a17")
	owner     = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob       = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func newTestClient(t *testing.T) (*network.Client, *simvenue.Market) {
	t.Helper()
	m := simvenue.NewMarket(simvenue.Config{})
	v, err := vault.New(vault.Params{
		Vault:               vaultAddr,
		Asset:               m.Asset(vaultAddr),
		ReceiptToken:        m.ReceiptToken(),
		Registry:            m.Registry(vaultAddr),
		IncentiveController: m.Controller(vaultAddr),
		Name:                "Yield Vault USDC",
		Symbol:              "yvUSDC",
		Owner:               owner,
	})
	require.NoError(t, err)

	ts := httptest.NewServer(server.NewServer(v, m.Faucet(vaultAddr)).Handler())
	t.Cleanup(ts.Close)
	return network.NewClient(ts.URL+"/", network.NewHTTPClient(5*time.Second)), m
}

func TestNewHTTPClient_DefaultTimeout(t *testing.T) {
	assert.Equal(t, network.DefaultTimeout, network.NewHTTPClient(0).Timeout)
	assert.Equal(t, time.Second, network.NewHTTPClient(time.Second).Timeout)
}

func TestClient_DepositYieldRedeem(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Health(ctx))

	info, err := c.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, "yvUSDC", info.Symbol)
	assert.Equal(t, owner.Hex(), info.Owner)

	require.NoError(t, c.Fund(ctx, alice, uint256.NewInt(1_000_000)))
	dep, err := c.Deposit(ctx, alice, uint256.NewInt(1_000_000))
	require.NoError(t, err)
	assert.Equal(t, "1000000", dep.Shares)

	require.NoError(t, c.AccrueYield(ctx, 500))

	total, err := c.TotalAssets(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_050_000), total.Uint64())

	shares, err := c.TotalShares(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), shares.Uint64())

	preview, err := c.ConvertToAssets(ctx, uint256.NewInt(500_000))
	require.NoError(t, err)
	assert.Equal(t, uint64(525_000), preview.Uint64())

	bal, err := c.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "1000000", bal.Shares)
	assert.Equal(t, "1050000", bal.Assets)

	red, err := c.Redeem(ctx, alice, uint256.NewInt(500_000), bob)
	require.NoError(t, err)
	assert.Equal(t, "525000", red.Amount)

	red, err = c.RedeemAssets(ctx, alice, uint256.NewInt(105_000), bob)
	require.NoError(t, err)
	assert.Equal(t, "100000", red.Shares)

	holders, err := c.Holders(ctx)
	require.NoError(t, err)
	require.Len(t, holders, 1)
	assert.Equal(t, "400000", holders[0].Shares)
}

func TestClient_ErrorsUnwrapToSentinels(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	_, err := c.Redeem(ctx, alice, uint256.NewInt(1), bob)
	require.Error(t, err)
	assert.True(t, errors.Is(err, protocol.ErrDivisionByZero))
	var apiErr *network.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, protocol.PreconditionBalance, apiErr.Precondition)

	_, err = c.Deposit(ctx, alice, uint256.NewInt(0))
	assert.True(t, errors.Is(err, protocol.ErrInvalidAmount))

	_, err = c.ClaimRewards(ctx, alice, alice)
	assert.True(t, errors.Is(err, protocol.ErrNotOwner))

	_, err = c.SetOwner(ctx, bob, alice)
	assert.True(t, errors.Is(err, protocol.ErrNotOwner))
}

func TestClient_OwnerActions(t *testing.T) {
	c, m := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Fund(ctx, alice, uint256.NewInt(1_000)))
	_, err := c.Deposit(ctx, alice, uint256.NewInt(1_000))
	require.NoError(t, err)
	m.AccrueRewards(vaultAddr, uint256.NewInt(42))

	claim, err := c.ClaimRewards(ctx, owner, bob)
	require.NoError(t, err)
	assert.Equal(t, "42", claim.Claimed)

	resp, err := c.SetOwner(ctx, owner, alice)
	require.NoError(t, err)
	assert.Equal(t, owner.Hex(), resp.PreviousOwner)
	assert.Equal(t, alice.Hex(), resp.Owner)
}

func TestClient_UnknownRoute(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	c := network.NewClient(ts.URL, nil)
	err := c.Health(context.Background())
	var apiErr *network.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Nil(t, apiErr.Unwrap())
}
