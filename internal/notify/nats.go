package notify

import (
	"context"
	"encoding/json"

	"git.home.luguber.info/inful/relforge/internal/config"
	ferrors "git.home.luguber.info/inful/relforge/internal/foundation/errors"
	"github.com/nats-io/nats.go"
)

// NATSChannel publishes a structured release-published event so downstream
// systems (site generators, mirrors, dashboards) can react to new releases.
type NATSChannel struct {
	conn    *nats.Conn
	subject string
}

// releaseEvent is the published payload. Additive-only, like the manifest.
type releaseEvent struct {
	Tag     string `json:"tag"`
	Version string `json:"version"`
	Subject string `json:"subject"`
	URL     string `json:"url,omitempty"`
}

// NewNATSChannel connects to the broker. Connection failure surfaces at
// construction so the fanout itself stays one-attempt-per-run.
func NewNATSChannel(cfg config.NATSConfig) (*NATSChannel, error) {
	conn, err := nats.Connect(cfg.URL, nats.Name("relforge"))
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryNotify, "connect to NATS").
			WithContext("url", cfg.URL).Build()
	}
	return &NATSChannel{conn: conn, subject: cfg.Subject}, nil
}

func (n *NATSChannel) Name() string { return "nats" }

// Send publishes the release event and flushes so delivery is confirmed
// before the pipeline reports the attempt's outcome.
func (n *NATSChannel) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(releaseEvent{
		Tag:     msg.Tag,
		Version: msg.Version,
		Subject: msg.Subject,
		URL:     msg.URL,
	})
	if err != nil {
		return err
	}
	if err := n.conn.Publish(n.subject, payload); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryNotify, "publish release event").Build()
	}
	if err := n.conn.FlushWithContext(ctx); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryNotify, "flush release event").Build()
	}
	return nil
}

// Close releases the broker connection.
func (n *NATSChannel) Close() {
	n.conn.Close()
}
