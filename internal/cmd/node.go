package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spigotlabs/spigot/internal/core/ledger"
	"github.com/spigotlabs/spigot/internal/output"
)

var nodeTxCount int

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Query the wallet node the faucet pays from",
}

var nodeBalanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show the faucet wallet balance",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, coin, err := nodeFromConfig()
		if err != nil {
			return err
		}
		balance, err := client.GetBalance(cmd.Context())
		if err != nil {
			return fmt.Errorf("getbalance: %s", ledger.Message(err))
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", balance.String(), coin)
		return err
	},
}

var nodeValidateCmd = &cobra.Command{
	Use:   "validate <address>",
	Short: "Check an address with the node and show what it has received",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, coin, err := nodeFromConfig()
		if err != nil {
			return err
		}
		address := strings.TrimSpace(args[0])

		info, err := client.ValidateAddress(cmd.Context(), address)
		if err != nil {
			return fmt.Errorf("validateaddress: %s", ledger.Message(err))
		}
		out := cmd.OutOrStdout()
		if !info.IsValid {
			_, err = fmt.Fprintf(out, "%s: invalid\n", address)
			return err
		}

		received, err := client.GetReceivedByAddress(cmd.Context(), address)
		if err != nil {
			// Only wallet-owned addresses are tracked by the node.
			_, err = fmt.Fprintf(out, "%s: valid\n", address)
			return err
		}
		_, err = fmt.Fprintf(out, "%s: valid (received %s %s)\n", address, received.String(), coin)
		return err
	},
}

var nodeTransactionsCmd = &cobra.Command{
	Use:   "transactions",
	Short: "List recent wallet transactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := nodeFromConfig()
		if err != nil {
			return err
		}
		txs, err := client.ListTransactions(cmd.Context(), nodeTxCount)
		if err != nil {
			return fmt.Errorf("listtransactions: %s", ledger.Message(err))
		}
		return writeReport(cmd, func(format output.Format) (string, error) {
			return output.Transactions(format, txs)
		})
	},
}

func nodeFromConfig() (*ledger.Client, string, error) {
	cfg, err := loadConfig(false)
	if err != nil {
		return nil, "", err
	}
	if strings.TrimSpace(cfg.Node.User) == "" || strings.TrimSpace(cfg.Node.Password) == "" {
		return nil, "", fmt.Errorf("node.user and node.password are required")
	}
	return newNodeClient(cfg), cfg.Faucet.CoinSymbol, nil
}

func init() {
	nodeTransactionsCmd.Flags().IntVar(&nodeTxCount, "count", 10, "Number of transactions to list")
	addOutputFlags(nodeTransactionsCmd)

	nodeCmd.AddCommand(nodeBalanceCmd)
	nodeCmd.AddCommand(nodeValidateCmd)
	nodeCmd.AddCommand(nodeTransactionsCmd)
	rootCmd.AddCommand(nodeCmd)
}
