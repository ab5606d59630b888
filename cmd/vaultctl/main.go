package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"
	"github.com/yield-vault/aavevault/internal/network"
	"github.com/yield-vault/aavevault/internal/protocol"
)

var (
	endpoint string
	timeout  time.Duration
	from     string
	to       string
)

var rootCmd = &cobra.Command{
	Use:   "vaultctl",
	Short: "Command-line client for a vault daemon",
	Long: `vaultctl talks to a running vaultd over its HTTP API.

Amounts are base-10 integers in the asset's smallest unit.`,
	SilenceUsage: true,
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the vault's bound parameters and totals",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel, c := setup()
		defer cancel()
		info, err := c.Info(ctx)
		if err != nil {
			return err
		}
		assets, err := c.TotalAssets(ctx)
		if err != nil {
			return err
		}
		shares, err := c.TotalShares(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd, map[string]interface{}{
			"info":         info,
			"total_assets": assets.Dec(),
			"total_shares": shares.Dec(),
		})
	},
}

var balanceCmd = &cobra.Command{
	Use:   "balance <address>",
	Short: "Show a holder's shares and their asset value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		holder, err := protocol.ParseAddress(args[0])
		if err != nil {
			return err
		}
		ctx, cancel, c := setup()
		defer cancel()
		bal, err := c.Balance(ctx, holder)
		if err != nil {
			return err
		}
		return printJSON(cmd, bal)
	},
}

var depositCmd = &cobra.Command{
	Use:   "deposit <amount>",
	Short: "Deposit assets from --from",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sender, amount, err := senderAndAmount(args[0])
		if err != nil {
			return err
		}
		ctx, cancel, c := setup()
		defer cancel()
		resp, err := c.Deposit(ctx, sender, amount)
		if err != nil {
			return err
		}
		return printJSON(cmd, resp)
	},
}

var redeemCmd = &cobra.Command{
	Use:   "redeem <shares>",
	Short: "Redeem shares held by --from, paying --to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sender, shares, err := senderAndAmount(args[0])
		if err != nil {
			return err
		}
		recipient, err := recipientOr(sender)
		if err != nil {
			return err
		}
		ctx, cancel, c := setup()
		defer cancel()
		resp, err := c.Redeem(ctx, sender, shares, recipient)
		if err != nil {
			return err
		}
		return printJSON(cmd, resp)
	},
}

var redeemAssetsCmd = &cobra.Command{
	Use:   "redeem-assets <amount>",
	Short: "Redeem an exact asset amount for --from, paying --to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sender, amount, err := senderAndAmount(args[0])
		if err != nil {
			return err
		}
		recipient, err := recipientOr(sender)
		if err != nil {
			return err
		}
		ctx, cancel, c := setup()
		defer cancel()
		resp, err := c.RedeemAssets(ctx, sender, amount, recipient)
		if err != nil {
			return err
		}
		return printJSON(cmd, resp)
	},
}

var claimCmd = &cobra.Command{
	Use:   "claim-rewards",
	Short: "Claim incentive rewards as owner --from, paying --to",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sender, err := protocol.ParseAddress(from)
		if err != nil {
			return err
		}
		recipient, err := recipientOr(sender)
		if err != nil {
			return err
		}
		ctx, cancel, c := setup()
		defer cancel()
		resp, err := c.ClaimRewards(ctx, sender, recipient)
		if err != nil {
			return err
		}
		return printJSON(cmd, resp)
	},
}

var setOwnerCmd = &cobra.Command{
	Use:   "set-owner <address>",
	Short: "Transfer ownership from --from to address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sender, err := protocol.ParseAddress(from)
		if err != nil {
			return err
		}
		newOwner, err := protocol.ParseAddress(args[0])
		if err != nil {
			return err
		}
		ctx, cancel, c := setup()
		defer cancel()
		resp, err := c.SetOwner(ctx, sender, newOwner)
		if err != nil {
			return err
		}
		return printJSON(cmd, resp)
	},
}

var devnetCmd = &cobra.Command{
	Use:   "devnet",
	Short: "Drive the simulated market of a devnet daemon",
}

var faucetCmd = &cobra.Command{
	Use:   "faucet <address> <amount>",
	Short: "Mint test assets to address and approve the vault",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		account, err := protocol.ParseAddress(args[0])
		if err != nil {
			return err
		}
		amount, err := protocol.ParseAmount(args[1])
		if err != nil {
			return err
		}
		ctx, cancel, c := setup()
		defer cancel()
		if err := c.Fund(ctx, account, amount); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "funded %s with %s\n", account.Hex(), amount.Dec())
		return nil
	},
}

var accrueCmd = &cobra.Command{
	Use:   "accrue-yield <bps>",
	Short: "Grow venue balances by bps basis points",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bps, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid bps %q: %w", args[0], err)
		}
		ctx, cancel, c := setup()
		defer cancel()
		return c.AccrueYield(ctx, bps)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&endpoint, "endpoint", "e", envOr("VAULT_ENDPOINT", "http://localhost:8545"), "Vault daemon URL (or set VAULT_ENDPOINT)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", network.DefaultTimeout, "Request timeout")

	for _, cmd := range []*cobra.Command{depositCmd, redeemCmd, redeemAssetsCmd, claimCmd, setOwnerCmd} {
		cmd.Flags().StringVar(&from, "from", "", "Calling account (required)")
		cmd.MarkFlagRequired("from")
	}
	for _, cmd := range []*cobra.Command{redeemCmd, redeemAssetsCmd, claimCmd} {
		cmd.Flags().StringVar(&to, "to", "", "Recipient (default: --from)")
	}

	devnetCmd.AddCommand(faucetCmd)
	devnetCmd.AddCommand(accrueCmd)

	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(balanceCmd)
	rootCmd.AddCommand(depositCmd)
	rootCmd.AddCommand(redeemCmd)
	rootCmd.AddCommand(redeemAssetsCmd)
	rootCmd.AddCommand(claimCmd)
	rootCmd.AddCommand(setOwnerCmd)
	rootCmd.AddCommand(devnetCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setup() (context.Context, context.CancelFunc, *network.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return ctx, cancel, network.NewClient(endpoint, network.NewHTTPClient(timeout))
}

func senderAndAmount(arg string) (common.Address, *uint256.Int, error) {
	sender, err := protocol.ParseAddress(from)
	if err != nil {
		return common.Address{}, nil, err
	}
	amount, err := protocol.ParseAmount(arg)
	if err != nil {
		return common.Address{}, nil, err
	}
	return sender, amount, nil
}

func recipientOr(fallback common.Address) (common.Address, error) {
	if to == "" {
		return fallback, nil
	}
	return protocol.ParseAddress(to)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
