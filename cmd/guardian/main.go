// Command guardian scores UPI transactions and messages offline, without
// running the API server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mbd888/guardian/internal/logging"
)

var (
	logLevel     string
	logFormat    string
	registryPath string

	rootCmd = &cobra.Command{
		Use:   "guardian",
		Short: "Offline UPI fraud and scam checks",
		Long: `guardian scores UPI payments and SMS/chat messages with the same rules the
API server uses. Everything runs locally; --deep additionally consults the
generative analyzers when GEMINI_API_KEY is set.`,
		SilenceUsage: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			slog.SetDefault(logging.New(logLevel, logFormat))
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&registryPath, "registry", "", "bank registry file (.json, .yaml); defaults to the built-in list")

	rootCmd.AddCommand(messageCmd())
	rootCmd.AddCommand(transactionCmd())
	rootCmd.AddCommand(demoCmd())
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("received interrupt signal, shutting down")
		cancel()
	}()

	err := rootCmd.ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
