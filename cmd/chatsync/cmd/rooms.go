package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vedran77/chatsync/internal/chatsync"
	"github.com/vedran77/chatsync/internal/domain"
)

func init() {
	roomsCmd.Flags().BoolP("follow", "f", false, "keep printing the list as it changes")
	rootCmd.AddCommand(roomsCmd)
}

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List conversations, most recently active first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		follow, _ := cmd.Flags().GetBool("follow")

		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx := cmd.Context()
		changed := make(chan []domain.RoomSummary, 16)
		badge := make(chan int, 16)

		unread := chatsync.NewUnreadTracker(s.stores.Messages, s.log, func(n int) {
			select {
			case badge <- n:
			default:
			}
		})
		defer unread.Close()

		engine := chatsync.NewRoomListEngine(chatsync.RoomListEngineConfig{
			Rooms:  s.stores.Rooms,
			Users:  s.stores.Users,
			Cache:  s.cache,
			Log:    s.log,
			Unread: unread,
			OnChange: func(rooms []domain.RoomSummary) {
				select {
				case changed <- rooms:
				default:
				}
			},
		})
		defer engine.Close()

		if _, err := engine.Initialize(ctx, s.viewerID); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if !follow {
			settle(ctx, changed)
			printRooms(out, engine.Summaries(), unread.HasUnread)
			fmt.Fprintf(out, "\n%d unread\n", unread.Badge())
			return nil
		}

		for {
			select {
			case rooms := <-changed:
				fmt.Fprintln(out, "---")
				printRooms(out, rooms, unread.HasUnread)
			case n := <-badge:
				fmt.Fprintf(out, "%d unread\n", n)
			case <-ctx.Done():
				return nil
			}
		}
	},
}
