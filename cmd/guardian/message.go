package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mbd888/guardian/internal/notify"
)

func messageCmd() *cobra.Command {
	var (
		file   string
		id     string
		entity string
		deep   bool
	)

	cmd := &cobra.Command{
		Use:   "message [text]",
		Short: "Score an SMS, chat or email for scam markers",
		Long: `Score a message for scam markers: urgency and reward keywords, links outside
the trusted bank registry, large rupee amounts and bank names paired with a
mismatched link. Pass the text as arguments or read it with --file.`,
		Example: `  guardian message "Congratulations! Redeem your reward: http://fake-rewards.link"
  guardian message --file sms.txt --deep`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			text := strings.Join(args, " ")
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					// An unreadable file scores as an empty message.
					fmt.Fprintf(cmd.ErrOrStderr(), "Error reading file: %v\n", err)
				}
				text = string(data)
			}

			engine, err := newEngine(slog.Default())
			if err != nil {
				return err
			}
			defer engine.Wait()

			a := engine.ScoreMessage(cmd.Context(), entity, id, text)
			fmt.Fprintln(out, notify.Format(a))

			if deep {
				orch, err := newOrchestrator(engine, slog.Default())
				if err != nil {
					return err
				}
				resp, err := orch.Process(cmd.Context(), text, nil)
				if err != nil {
					return fmt.Errorf("deep analysis: %w", err)
				}
				writeAggregate(out, resp)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "read the message from a file")
	cmd.Flags().StringVar(&id, "id", "", "message identifier shown in the alert")
	cmd.Flags().StringVar(&entity, "entity", "", "account the message belongs to")
	cmd.Flags().BoolVar(&deep, "deep", false, "also run every analyzer and print the combined verdict")
	return cmd
}

