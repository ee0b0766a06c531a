package app

import (
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/vedran77/chatsync/internal/config"
	"github.com/vedran77/chatsync/internal/push"
	"github.com/vedran77/chatsync/internal/service"
)

// OpenRelay builds the device push relay selected by cfg.PushDriver. It
// returns a nil notifier for "none". The returned func closes any
// connection the relay holds.
func OpenRelay(cfg *config.Config) (service.Notifier, func(), error) {
	switch cfg.PushDriver {
	case "expo":
		return push.NewExpoRelay(cfg.PushRelayURL), func() {}, nil
	case "nats":
		conn, err := push.DialNATS(cfg.NATSURL, "chatsync")
		if err != nil {
			return nil, nil, err
		}
		return push.NewNATSRelay(conn, cfg.PushSubject), func() { drain(conn) }, nil
	case "none", "":
		return nil, func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown push driver %q", cfg.PushDriver)
}

func drain(conn *nats.Conn) {
	if err := conn.Drain(); err != nil {
		conn.Close()
	}
}
