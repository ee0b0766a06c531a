package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vedran77/chatsync/internal/domain"
)

func init() {
	tailCmd.Flags().BoolP("follow", "f", false, "keep printing the room as it changes")
	rootCmd.AddCommand(tailCmd)
}

var tailCmd = &cobra.Command{
	Use:   "tail [peer-id]",
	Short: "Print the messages of the room with a peer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		follow, _ := cmd.Flags().GetBool("follow")

		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx := cmd.Context()
		changed := make(chan []domain.Message, 16)
		engine, err := s.openRoom(ctx, args[0], changed)
		if err != nil {
			return err
		}
		defer engine.Close()

		out := cmd.OutOrStdout()
		if !follow {
			settle(ctx, changed)
			printMessages(out, engine.View())
			return nil
		}

		for {
			select {
			case view := <-changed:
				fmt.Fprintln(out, "---")
				printMessages(out, view)
			case <-ctx.Done():
				return nil
			}
		}
	},
}
