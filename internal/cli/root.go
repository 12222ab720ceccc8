// Package cli implements the huddlectl command tree.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "huddlectl",
	Short: "Command line participant and inspector for a Huddle relay",
	Long: `huddlectl joins Huddle meetings from a terminal and inspects the rooms a
relay currently hosts. Media is read as RTP from local UDP ports, so any
encoder that can emit opus or VP8 over RTP can feed it.`,
}

func init() {
	rootCmd.AddCommand(newRoomsCmd(), newRoomCmd(), newJoinCmd())
}

// Execute runs the command tree; called once by main.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		cancel()
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
