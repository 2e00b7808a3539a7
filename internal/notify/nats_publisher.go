package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Mirror forwards deduplicated notifications to out-of-process listeners.
type Mirror interface {
	Publish(n Notification) error
	Close() error
}

// NoopMirror is used when no mirror is configured.
type NoopMirror struct{}

func (NoopMirror) Publish(Notification) error { return nil }
func (NoopMirror) Close() error               { return nil }

// NATSMirror publishes each deduplicated notification to a JetStream subject,
// so desktop tray helpers or test harnesses can observe the agent without
// touching its HTTP API.
type NATSMirror struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	subject string
}

// NewNATSMirror connects to NATS and prepares a JetStream context.
func NewNATSMirror(url, subject string) (*NATSMirror, error) {
	if subject == "" {
		return nil, fmt.Errorf("notification subject is required")
	}

	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	slog.Info("NATS notification mirror initialized",
		"url", url,
		"subject", subject)

	return &NATSMirror{conn: conn, js: js, subject: subject}, nil
}

// Publish mirrors one notification. Failures are the caller's to log; the
// in-process bus has already delivered by the time a mirror publish runs.
func (m *NATSMirror) Publish(n Notification) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	if _, err := m.js.Publish(ctx, m.subject, data); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	slog.Debug("Mirrored notification",
		"id", n.ID,
		"kind", string(n.Kind),
		"state", n.State)

	return nil
}

// Close closes the NATS connection.
func (m *NATSMirror) Close() error {
	if m.conn != nil {
		m.conn.Close()
	}
	return nil
}
