// payctl runs operator tasks against the payment core: expiry sweeps, wallet
// top-ups, audit inspection and watching a payment request settle.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"pedix/config"
	"pedix/internal/app"
	"pedix/internal/audit"
	"pedix/internal/auth"
	"pedix/internal/domain"
	"pedix/internal/logger"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "payctl",
		Short:         "Operator tooling for payment requests and wallets",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(walletCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(tokenCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withApp loads config, builds the core without a queue and closes it afterwards.
func withApp(fn func(a *app.App) error) error {
	cfg := config.Load()
	if err := logger.Init(cfg.Server.Env); err != nil {
		return err
	}
	defer logger.Sync()

	a, err := app.New(cfg, app.Options{NoQueue: true})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Close(closeCtx)
	}()
	return fn(a)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire every pending payment request past its deadline",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				n, err := a.Sweeper.SweepOnce(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "expired %d payment request(s)\n", n)
				return nil
			})
		},
	}
}

func walletCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Inspect and top up wallets",
	}
	cmd.AddCommand(walletBalanceCmd())
	cmd.AddCommand(walletCreditCmd())
	return cmd
}

func walletBalanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance [user_id]",
		Short: "Show a wallet and its recent transactions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withApp(func(a *app.App) error {
				ledger := a.Wallets.Ledger()
				w, err := ledger.Wallet(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				txs, err := ledger.Transactions(cmd.Context(), args[0], limit)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]interface{}{"wallet": w, "transactions": txs})
			})
		},
	}
	cmd.Flags().IntP("limit", "n", 20, "Number of transactions to show")
	return cmd
}

func walletCreditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credit [user_id] [amount]",
		Short: "Credit a wallet",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[1], err)
			}
			reason, _ := cmd.Flags().GetString("reason")
			return withApp(func(a *app.App) error {
				w, err := a.Wallets.TopUp(cmd.Context(), args[0], amount, reason)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s balance %s %s\n", w.UserID, w.Balance.StringFixed(2), w.Currency)
				return nil
			})
		},
	}
	cmd.Flags().StringP("reason", "r", "manual top-up", "Reason stored on the transaction")
	return cmd
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List audit entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var f audit.Filter
			f.Event, _ = cmd.Flags().GetString("event")
			f.OrderID, _ = cmd.Flags().GetString("order")
			f.GatewayPaymentID, _ = cmd.Flags().GetString("gateway-payment")
			f.Limit, _ = cmd.Flags().GetInt("limit")
			return withApp(func(a *app.App) error {
				entries, err := a.Audit.List(cmd.Context(), f)
				if err != nil {
					return err
				}
				return printJSON(cmd, entries)
			})
		},
	}
	cmd.Flags().StringP("event", "e", "", "Only entries with this event")
	cmd.Flags().StringP("order", "o", "", "Only entries for this order id")
	cmd.Flags().String("gateway-payment", "", "Only entries for this gateway payment id")
	cmd.Flags().IntP("limit", "n", 100, "Maximum entries to return")
	return cmd
}

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch [order_id]",
		Short: "Poll a payment request until it reaches a final status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			interval, _ := cmd.Flags().GetDuration("interval")
			return withApp(func(a *app.App) error {
				if interval <= 0 {
					interval = a.Config.Payment.PollInterval
				}
				req, err := a.Payments.AwaitTerminal(cmd.Context(), args[0], interval)
				if req != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", req.OrderID, req.Status)
				}
				if err != nil && req != nil && !domain.PaymentStatus(req.Status).Terminal() {
					return fmt.Errorf("stopped waiting for %s: %w", args[0], err)
				}
				return err
			})
		},
	}
	cmd.Flags().Duration("interval", 0, "Poll interval (defaults to PAYMENT_POLL_INTERVAL)")
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token [user_id]",
		Short: "Mint an access token for local testing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, _ := cmd.Flags().GetString("role")
			if !domain.ValidRole(role) {
				return fmt.Errorf("unknown role %q", role)
			}
			cfg := config.Load()
			tok, err := auth.GenerateAccessToken(&cfg.JWT, args[0], role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().String("role", domain.RoleCustomer, "CUSTOMER, COURIER, MERCHANT or ADMIN")
	return cmd
}
