package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/vedran77/chatsync/internal/domain"
)

const timeLayout = "2006-01-02 15:04"

func printMessages(w io.Writer, msgs []domain.Message) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	// Oldest at the bottom like a chat transcript.
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		flags := ""
		switch m.State.Status {
		case domain.StatusPending:
			flags = "sending"
		case domain.StatusFailed:
			flags = "failed: " + m.State.Reason
		default:
			if m.Read {
				flags = "read"
			}
		}
		if m.EditedAt != nil {
			flags += " (edited)"
		}
		id := m.ID
		if id == "" {
			id = m.ClientID
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", m.CreatedAt.Local().Format(timeLayout), id, m.AuthorName, messageText(m), flags)
	}
	tw.Flush()
}

func messageText(m domain.Message) string {
	text := m.Preview()
	if m.Type == domain.MessageText && m.Body == nil {
		text = ""
	}
	if m.ReplyTo != nil {
		text = fmt.Sprintf("↪ %s: %s", m.ReplyTo.AuthorName, text)
	}
	return text
}

func printRooms(w io.Writer, rooms []domain.RoomSummary, unread func(roomID string) bool) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, r := range rooms {
		when := "-"
		if r.LastMessageTimestamp != nil {
			when = r.LastMessageTimestamp.Local().Format(timeLayout)
		}
		mark := " "
		if unread != nil && unread(r.ID) {
			mark = "●"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", mark, r.PeerUsername, r.PeerID, when, r.LastMessage)
	}
	tw.Flush()
}
