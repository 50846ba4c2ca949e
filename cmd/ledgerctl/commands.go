package main

import (
	"fmt"

	"model-market-go/internal/common"
	"model-market-go/internal/models"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type balanceStats struct {
	totalUsers        int
	usersWithBalances int
	totalCredits      decimal.Decimal
}

func printBalance(user common.UserInfo, balance models.Balance) {
	fmt.Printf("\n┌─ Wallet: %s\n", user.WalletAddress)
	fmt.Printf("│  ID: %s\n", user.Id)
	common.PrintBoxSeparator(78)
	fmt.Printf("%s %-15s: %20s (v%d, last_tx: %s, updated: %s)\n",
		common.BoxPrefix(true),
		"credits",
		balance.Amount.String(),
		balance.Version,
		common.ShortId(balance.LastTransactionId),
		balance.UpdatedAt.Format("2006-01-02 15:04:05"))
}

func balancesCmd() *cobra.Command {
	var wallet string

	cmd := &cobra.Command{
		Use:   "balances",
		Short: "Print the credit balance of every user, or of one wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			users, err := common.InitializeUsers(ctx, dbService, wallet, logger)
			if err != nil {
				return err
			}

			all, err := dbService.GetAllBalances(ctx)
			if err != nil {
				return err
			}
			byUser := make(map[string]models.Balance, len(all))
			for _, b := range all {
				byUser[b.UserId] = b
			}

			common.PrintHeader("USER BALANCE REPORT", common.DefaultWidth)

			stats := balanceStats{totalCredits: decimal.Zero}
			for _, user := range users {
				stats.totalUsers++
				balance, ok := byUser[user.Id]
				if !ok {
					continue
				}
				stats.usersWithBalances++
				stats.totalCredits = stats.totalCredits.Add(balance.Amount)
				printBalance(user, balance)
			}

			summary := fmt.Sprintf("SUMMARY: %d of %d users hold %s credits",
				stats.usersWithBalances, stats.totalUsers, stats.totalCredits.String())
			common.PrintFooter(summary, common.DefaultWidth)

			logger.Info("Balance query completed",
				zap.Int("users_queried", stats.totalUsers),
				zap.Int("users_with_balances", stats.usersWithBalances),
				zap.String("total_credits", stats.totalCredits.String()))
			return nil
		},
	}
	cmd.Flags().StringVar(&wallet, "wallet", "", "Limit the report to one wallet address")
	return cmd
}

func creditCmd() *cobra.Command {
	var wallet, amount string

	cmd := &cobra.Command{
		Use:   "credit",
		Short: "Grant credits to a wallet, creating the user if needed",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			credits, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", amount, err)
			}

			user, err := dbService.GetOrCreateUser(ctx, wallet)
			if err != nil {
				return err
			}

			tx, err := dbService.CreateTransaction(ctx, user.Id, credits, models.TransactionCredit)
			if err != nil {
				return err
			}
			if !tx.Completed() {
				return fmt.Errorf("credit transaction %s finished as %s", tx.Id, tx.Status)
			}

			balance, err := dbService.GetBalance(ctx, user.Id)
			if err != nil {
				return err
			}
			fmt.Printf("✓ Credited %s to %s (tx %s), balance now %s\n",
				credits.String(), user.WalletAddress, common.ShortId(tx.Id), balance.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&wallet, "wallet", "", "Wallet address (required)")
	cmd.Flags().StringVar(&amount, "amount", "", "Credits to grant (required)")
	_ = cmd.MarkFlagRequired("wallet")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func transactionsCmd() *cobra.Command {
	var wallet string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "transactions",
		Short: "Print the transaction history of a wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			user, err := dbService.GetUserByWallet(ctx, wallet)
			if err != nil {
				return err
			}

			transactions, err := dbService.GetTransactions(ctx, user.Id, limit, offset)
			if err != nil {
				return err
			}

			common.PrintHeader("TRANSACTIONS "+common.ShortAddress(user.WalletAddress), common.WideWidth)
			for i, tx := range transactions {
				finished := "-"
				if tx.FinishedAt != nil {
					finished = tx.FinishedAt.Format("2006-01-02 15:04:05")
				}
				fmt.Printf("%s %-10s %-6s %20s  created %s  finished %s\n",
					common.BoxPrefix(i == len(transactions)-1),
					tx.Status,
					tx.Type,
					tx.Amount.String(),
					tx.CreatedAt.Format("2006-01-02 15:04:05"),
					finished)
			}
			common.PrintFooter(fmt.Sprintf("%d transactions", len(transactions)), common.WideWidth)
			return nil
		},
	}
	cmd.Flags().StringVar(&wallet, "wallet", "", "Wallet address (required)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows")
	cmd.Flags().IntVar(&offset, "offset", 0, "Rows to skip")
	_ = cmd.MarkFlagRequired("wallet")
	return cmd
}

func reconcileCmd() *cobra.Command {
	var wallet string

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Check that balances equal their seed plus completed transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			users, err := common.InitializeUsers(ctx, dbService, wallet, logger)
			if err != nil {
				return err
			}

			failed := 0
			for _, user := range users {
				if err := dbService.ReconcileBalance(ctx, user.Id); err != nil {
					failed++
					fmt.Printf("✗ %s: %v\n", user.WalletAddress, err)
					continue
				}
				fmt.Printf("✓ %s\n", user.WalletAddress)
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d balances failed reconciliation", failed, len(users))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&wallet, "wallet", "", "Limit to one wallet address")
	return cmd
}

func popupsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "popups",
		Short: "List balance popups that are still waiting for a deposit",
		RunE: func(cmd *cobra.Command, args []string) error {
			popups, err := dbService.GetUnfinishedPopups(cmd.Context())
			if err != nil {
				return err
			}

			common.PrintHeader("UNFINISHED BALANCE POPUPS", common.WideWidth)
			for i, popup := range popups {
				fmt.Printf("%s %s  user %s  %-5s @ %s USD  %-7s pay until %s\n",
					common.BoxPrefix(i == len(popups)-1),
					common.ShortId(popup.Id),
					common.ShortId(popup.UserId),
					popup.CurrencyToPay,
					popup.PriceUsd.String(),
					popup.Status,
					popup.PayUntil.Format("2006-01-02 15:04:05"))
			}
			common.PrintFooter(fmt.Sprintf("%d unfinished popups", len(popups)), common.WideWidth)
			return nil
		},
	}
}
