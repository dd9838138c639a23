// Package notify delivers build outcome notifications over NATS. Targets are
// per-project recipients; depending on configuration a message goes to each
// recipient's direct subject or to the shared broadcast subject.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"git.home.luguber.info/inful/docdaemon/internal/config"
	"git.home.luguber.info/inful/docdaemon/internal/logfields"
)

const (
	// SubjectBroadcast receives channel-style messages seen by everyone.
	SubjectBroadcast = "notify.broadcast"
	// SubjectDirectPrefix is prepended to a target name for direct messages.
	SubjectDirectPrefix = "notify.direct."
)

// Notifier announces build outcomes. Implementations must tolerate concurrent
// calls from multiple build workers.
type Notifier interface {
	BuildSucceeded(ctx context.Context, targets []string, dcFile, format, archive string) error
	BuildFailed(ctx context.Context, targets []string, dcFile, format, logPath string) error
	Close()
}

// Message is the JSON payload published per notification.
type Message struct {
	Target    string    `json:"target,omitempty"`
	Text      string    `json:"text"`
	Host      string    `json:"host"`
	Timestamp time.Time `json:"timestamp"`
}

// publisher abstracts the NATS connection for testing.
type publisher interface {
	Publish(subject string, data []byte) error
	Close()
}

// NATSNotifier publishes notifications to a NATS server. Sends are serialized
// so messages for one build never interleave with another build's.
type NATSNotifier struct {
	mu   sync.Mutex
	conn publisher
	cfg  config.NotificationConfig
	host string
}

// successText formats the message announcing a finished build.
func successText(host, dcFile, format, archive string) string {
	return fmt.Sprintf("A new build has been finished on %s! DC-File: %s, Format: %s, Output-Archive: %s",
		host, dcFile, format, archive)
}

// failureText formats the message announcing a failed build.
func failureText(host, dcFile, format, logPath string) string {
	return fmt.Sprintf("A build has failed on %s! DC-File: %s, Format: %s, Error-Log: %s",
		host, dcFile, format, logPath)
}

// BuildSucceeded announces a finished build to the given targets. A no-op
// when success notifications are disabled.
func (n *NATSNotifier) BuildSucceeded(ctx context.Context, targets []string, dcFile, format, archive string) error {
	if !n.cfg.OnSuccess {
		return nil
	}
	return n.send(ctx, targets, successText(n.host, dcFile, format, archive))
}

// BuildFailed announces a failed build to the given targets. A no-op when
// failure notifications are disabled.
func (n *NATSNotifier) BuildFailed(ctx context.Context, targets []string, dcFile, format, logPath string) error {
	if !n.cfg.OnFail {
		return nil
	}
	return n.send(ctx, targets, failureText(n.host, dcFile, format, logPath))
}

// send delivers the message to every direct target, and additionally to the
// broadcast subject when channel messages are enabled.
func (n *NATSNotifier) send(ctx context.Context, targets []string, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, target := range targets {
		msg := Message{Target: target, Text: text, Host: n.host, Timestamp: time.Now()}
		if err := n.publish(SubjectDirectPrefix+target, msg); err != nil {
			return err
		}
	}
	if n.cfg.ChannelMessages {
		return n.publish(SubjectBroadcast, Message{Text: text, Host: n.host, Timestamp: time.Now()})
	}
	return nil
}

// Close drains the underlying connection.
func (n *NATSNotifier) Close() {
	if n.conn != nil {
		n.conn.Close()
	}
}

// NoopNotifier discards all notifications. Used when no NATS URL is
// configured.
type NoopNotifier struct{}

func (NoopNotifier) BuildSucceeded(context.Context, []string, string, string, string) error {
	return nil
}
func (NoopNotifier) BuildFailed(context.Context, []string, string, string, string) error {
	return nil
}
func (NoopNotifier) Close() {}

// hostname returns the local host name, falling back to a fixed placeholder.
func hostname() string {
	host, err := os.Hostname()
	if err != nil {
		slog.Warn("cannot determine hostname for notifications", logfields.Error(err))
		return "unknown-host"
	}
	return host
}
