package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "chatsync",
	Short: "Operate on one-to-one chat rooms from the terminal",
	Long: `chatsync runs the same sync engines the server hands to its WebSocket
clients, against the store and cache configured in the environment.
Every command acts as the user given with --as.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. It is called once by main.main().
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().String("as", "", "user id to act as (required)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log at debug level")
	rootCmd.MarkPersistentFlagRequired("as")
}
