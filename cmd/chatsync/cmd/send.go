package cmd

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vedran77/chatsync/internal/chatsync"
	"github.com/vedran77/chatsync/internal/domain"
)

func init() {
	sendCmd.Flags().String("image", "", "send an image file instead of text")
	sendCmd.Flags().String("audio", "", "send a voice note file instead of text")
	sendCmd.Flags().String("duration", "", "voice note duration, e.g. 0:42")
	sendCmd.Flags().String("location", "", "send a location as lat,lng")
	sendCmd.Flags().String("reply-to", "", "id of the message being replied to")
	rootCmd.AddCommand(sendCmd)
}

var sendCmd = &cobra.Command{
	Use:   "send [peer-id] [text]",
	Short: "Send a message to a peer",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		image, _ := cmd.Flags().GetString("image")
		audio, _ := cmd.Flags().GetString("audio")
		duration, _ := cmd.Flags().GetString("duration")
		location, _ := cmd.Flags().GetString("location")
		replyToID, _ := cmd.Flags().GetString("reply-to")

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

		var replyTo *domain.Message
		if replyToID != "" {
			settle(ctx, changed)
			for _, m := range engine.Messages() {
				if m.ID == replyToID {
					reply := m
					replyTo = &reply
					break
				}
			}
			if replyTo == nil {
				return fmt.Errorf("message %s is not in this room", replyToID)
			}
		}

		var msg domain.Message
		switch {
		case image != "":
			msg, err = sendFile(cmd, image, func(f *os.File, ct string) (domain.Message, error) {
				return engine.SendImage(ctx, f, ct, replyTo)
			})
		case audio != "":
			msg, err = sendFile(cmd, audio, func(f *os.File, ct string) (domain.Message, error) {
				return engine.SendAudio(ctx, f, ct, duration, replyTo)
			})
		case location != "":
			loc, perr := parseLocation(location)
			if perr != nil {
				return perr
			}
			msg, err = engine.Send(ctx, domain.Draft{Type: domain.MessageLocation, Location: loc, ReplyTo: replyTo})
		default:
			if len(args) < 2 {
				return fmt.Errorf("text is required unless --image, --audio or --location is set")
			}
			msg, err = engine.Send(ctx, domain.Draft{Type: domain.MessageText, Text: args[1], ReplyTo: replyTo})
		}
		if err != nil {
			if chatsync.IsValidation(err) {
				return fmt.Errorf("invalid message: %w", err)
			}
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), msg.ID)
		return nil
	},
}

func sendFile(cmd *cobra.Command, path string, send func(*os.File, string) (domain.Message, error)) (domain.Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.Message{}, err
	}
	defer f.Close()

	ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if ct == "" {
		return domain.Message{}, fmt.Errorf("cannot tell the content type of %s", path)
	}
	return send(f, ct)
}

func parseLocation(s string) (*domain.Location, error) {
	lat, lng, ok := strings.Cut(s, ",")
	if !ok {
		return nil, fmt.Errorf("location must be lat,lng")
	}
	latitude, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil {
		return nil, fmt.Errorf("latitude: %w", err)
	}
	longitude, err := strconv.ParseFloat(strings.TrimSpace(lng), 64)
	if err != nil {
		return nil, fmt.Errorf("longitude: %w", err)
	}
	return &domain.Location{Latitude: latitude, Longitude: longitude}, nil
}
