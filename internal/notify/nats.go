package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/docdaemon/internal/config"
	"git.home.luguber.info/inful/docdaemon/internal/errors"
)

// New connects to the configured NATS server and returns a notifier. When no
// URL is configured, or neither success nor failure notifications are
// enabled, a NoopNotifier is returned instead.
func New(cfg config.NotificationConfig) (Notifier, error) {
	if cfg.NATSURL == "" || (!cfg.OnSuccess && !cfg.OnFail) {
		slog.Debug("notifications disabled")
		return NoopNotifier{}, nil
	}

	conn, err := nats.Connect(cfg.NATSURL,
		nats.Name("docdaemon"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryNotify, errors.SeverityFatal,
			fmt.Sprintf("cannot connect to NATS server %s", cfg.NATSURL))
	}

	slog.Info("notification client connected",
		slog.String("nats_url", cfg.NATSURL),
		slog.Bool("on_success", cfg.OnSuccess),
		slog.Bool("on_fail", cfg.OnFail),
		slog.Bool("channel_messages", cfg.ChannelMessages))

	return &NATSNotifier{conn: natsPublisher{conn}, cfg: cfg, host: hostname()}, nil
}

// natsPublisher adapts *nats.Conn to the publisher interface.
type natsPublisher struct {
	conn *nats.Conn
}

func (p natsPublisher) Publish(subject string, data []byte) error {
	return p.conn.Publish(subject, data)
}

func (p natsPublisher) Close() {
	p.conn.Drain() //nolint:errcheck
}

func (n *NATSNotifier) publish(subject string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, errors.CategoryNotify, errors.SeverityWarning,
			"cannot marshal notification")
	}
	if err := n.conn.Publish(subject, data); err != nil {
		return errors.Wrap(err, errors.CategoryNotify, errors.SeverityWarning,
			fmt.Sprintf("cannot publish notification to %s", subject))
	}
	return nil
}
