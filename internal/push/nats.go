package push

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/vedran77/chatsync/internal/domain"
	"github.com/vedran77/chatsync/internal/metrics"
)

const DefaultSubject = "chatsync.push"

// NATSRelay publishes notifications on a subject for an out-of-process relay
// worker to deliver.
type NATSRelay struct {
	conn    *nats.Conn
	subject string
}

func DialNATS(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500*time.Millisecond),
		nats.Timeout(3*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return nc, nil
}

func NewNATSRelay(conn *nats.Conn, subject string) *NATSRelay {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSRelay{conn: conn, subject: subject}
}

func (r *NATSRelay) Notify(ctx context.Context, n domain.Notification) error {
	if n.Token == "" {
		return nil
	}

	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding push: %w", err)
	}

	msg := nats.NewMsg(r.subject)
	msg.Data = data
	msg.Header.Set("Chatsync-Room", n.Data.RoomID)
	if err := r.conn.PublishMsg(msg); err != nil {
		metrics.PushFailures.WithLabelValues("nats").Inc()
		return fmt.Errorf("publishing push: %w", err)
	}
	return nil
}
