package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vedran77/chatsync/internal/chatsync"
	"github.com/vedran77/chatsync/internal/domain"
)

func init() {
	deleteCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
	rootCmd.AddCommand(readCmd, editCmd, deleteCmd)
}

var readCmd = &cobra.Command{
	Use:   "read [peer-id]",
	Short: "Mark every message from a peer as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRoom(cmd, args[0], func(ctx context.Context, r *chatsync.MessageEngine) error {
			n, err := r.MarkAsRead(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "marked %d message(s) as read\n", n)
			return nil
		})
	},
}

var editCmd = &cobra.Command{
	Use:   "edit [peer-id] [message-id] [text]",
	Short: "Replace the text of one of your messages",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRoom(cmd, args[0], func(ctx context.Context, r *chatsync.MessageEngine) error {
			return r.Edit(ctx, args[1], args[2])
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete [peer-id] [message-id]",
	Short: "Delete one of your messages",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		confirm := promptConfirmer{in: cmd.InOrStdin(), out: cmd.ErrOrStderr(), yes: yes}

		return withRoom(cmd, args[0], func(ctx context.Context, r *chatsync.MessageEngine) error {
			return r.Delete(ctx, args[1], confirm)
		})
	},
}

// withRoom opens the room with peerID, waits for the first snapshot so the
// engine knows the messages it operates on, and runs fn.
func withRoom(cmd *cobra.Command, peerID string, fn func(context.Context, *chatsync.MessageEngine) error) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	changed := make(chan []domain.Message, 16)
	engine, err := s.openRoom(ctx, peerID, changed)
	if err != nil {
		return err
	}
	defer engine.Close()

	settle(ctx, changed)
	return fn(ctx, engine)
}

// promptConfirmer asks on the terminal before a destructive action.
type promptConfirmer struct {
	in  io.Reader
	out io.Writer
	yes bool
}

func (p promptConfirmer) Confirm(ctx context.Context, prompt string) bool {
	if p.yes {
		return true
	}
	fmt.Fprintf(p.out, "%s [y/N] ", prompt)
	line, err := bufio.NewReader(p.in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
