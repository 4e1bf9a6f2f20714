package main

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/mbd888/guardian/internal/notify"
	"github.com/mbd888/guardian/internal/risk"
)

var demoMessages = []string{
	"Your account XXXX1234 has been debited with ₹50,000. Click here: http://fakebank.link OTP:123456",
	"Congratulations! You won a reward of ₹10,000. Redeem now: http://fake-rewards.link Enter your account and OTP.",
	"Your HDFC Bank statement is ready. Log in at https://www.hdfcbank.com to view it.",
}

func demoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Score a sample transaction and sample messages",
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()

			engine, err := newEngine(slog.Default())
			if err != nil {
				return err
			}
			defer engine.Wait()

			amount := decimal.NewFromInt(45000)
			tx, err := risk.NewTransaction(risk.TransactionInput{
				ID:       "TXN001",
				Amount:   &amount,
				Location: "Mumbai",
				Merchant: "Unknown Merchant",
				Notes:    "Please verify your account",
			}, engine.Now())
			if err != nil {
				return err
			}

			fmt.Fprintln(out, "Transaction Analysis Result:")
			fmt.Fprintln(out, notify.Format(engine.ScoreTransaction(cmd.Context(), risk.DefaultEntityID, tx)))

			for i, text := range demoMessages {
				id := fmt.Sprintf("MSG%03d", i+1)
				fmt.Fprintf(out, "\nMessage Analysis Result (%s):\n", id)
				fmt.Fprintln(out, notify.Format(engine.ScoreMessage(cmd.Context(), risk.DefaultEntityID, id, text)))
			}
			return nil
		},
	}
}
