package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/mbd888/guardian/internal/notify"
	"github.com/mbd888/guardian/internal/risk"
)

func transactionCmd() *cobra.Command {
	var (
		in     risk.TransactionInput
		amount string
		entity string
	)

	cmd := &cobra.Command{
		Use:     "transaction",
		Aliases: []string{"txn"},
		Short:   "Score a single UPI payment for fraud",
		Example: `  guardian transaction --amount 45000 --merchant "Unknown Merchant" --location Abroad`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			amt, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(amount), ",", ""))
			if err != nil {
				return fmt.Errorf("--amount must be a number, got %q", amount)
			}
			in.Amount = &amt

			engine, err := newEngine(slog.Default())
			if err != nil {
				return err
			}
			defer engine.Wait()

			tx, err := risk.NewTransaction(in, engine.Now())
			if err != nil {
				if errors.Is(err, risk.ErrInvalidAmount) {
					return fmt.Errorf("--amount must not be negative")
				}
				return err
			}

			a := engine.ScoreTransaction(cmd.Context(), entity, tx)
			fmt.Fprintln(cmd.OutOrStdout(), notify.Format(a))
			return nil
		},
	}

	cmd.Flags().StringVar(&amount, "amount", "", "amount in rupees")
	cmd.Flags().StringVar(&in.ID, "id", "", "transaction identifier")
	cmd.Flags().StringVar(&in.Merchant, "merchant", "", "merchant or payee name")
	cmd.Flags().StringVar(&in.Location, "location", "", "where the payment was made")
	cmd.Flags().StringVar(&in.Notes, "notes", "", "payment notes or remarks")
	cmd.Flags().StringVar(&in.Timestamp, "timestamp", "", "ISO 8601 payment time (default now)")
	cmd.Flags().StringVar(&entity, "entity", "", "account the payment belongs to")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}
