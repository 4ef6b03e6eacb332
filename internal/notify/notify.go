// Package notify announces motion events on NATS.
//
// Subjects are "<prefix>.<stream>.started" and "<prefix>.<stream>.ended"
// with a JSON Message payload.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jmylchreest/vidgate/internal/config"
	"github.com/jmylchreest/vidgate/internal/eventwriter"
	"github.com/jmylchreest/vidgate/internal/version"
)

// Event kinds, also the last subject token.
const (
	KindStarted = "started"
	KindEnded   = "ended"
)

// Message is the notification payload.
type Message struct {
	Kind      string     `json:"kind"`
	EventID   string     `json:"event_id"`
	Stream    string     `json:"stream"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Frames    int        `json:"frames,omitempty"`
	Bytes     int64      `json:"bytes,omitempty"`
	ClipPath  string     `json:"clip_path,omitempty"`
	ObjectKey string     `json:"object_key,omitempty"`
}

// Publisher is the part of *nats.Conn the notifier needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Notifier publishes event notifications.
type Notifier struct {
	pub    Publisher
	prefix string
	conn   *nats.Conn
}

var _ eventwriter.Hook = (*Notifier)(nil)

// New creates a notifier on an existing publisher.
func New(pub Publisher, prefix string) *Notifier {
	return &Notifier{pub: pub, prefix: prefix}
}

// Connect dials the configured NATS server.
func Connect(cfg config.NATSConfig, logger *slog.Logger) (*Notifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name(version.UserAgent()),
		nats.Timeout(cfg.ConnectTimeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", c.ConnectedUrlRedacted()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	n := New(nc, cfg.SubjectPrefix)
	n.conn = nc
	return n, nil
}

// Subject returns the subject for a stream and kind.
func (n *Notifier) Subject(stream, kind string) string {
	if n.prefix == "" {
		return stream + "." + kind
	}
	return n.prefix + "." + stream + "." + kind
}

func (n *Notifier) Name() string { return "notify" }

func (n *Notifier) EventStarted(_ context.Context, ev *eventwriter.Event) error {
	return n.publish(Message{
		Kind:      KindStarted,
		EventID:   ev.ID,
		Stream:    ev.Stream,
		StartedAt: ev.StartedAt.UTC(),
	})
}

func (n *Notifier) EventEnded(_ context.Context, ev *eventwriter.Event) error {
	ended := ev.EndedAt.UTC()
	return n.publish(Message{
		Kind:      KindEnded,
		EventID:   ev.ID,
		Stream:    ev.Stream,
		StartedAt: ev.StartedAt.UTC(),
		EndedAt:   &ended,
		Frames:    ev.Frames,
		Bytes:     ev.Bytes,
		ClipPath:  ev.Path,
		ObjectKey: ev.ObjectKey,
	})
}

func (n *Notifier) publish(msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	subject := n.Subject(msg.Stream, msg.Kind)
	if err := n.pub.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close flushes and closes the connection opened by Connect.
func (n *Notifier) Close(ctx context.Context) error {
	if n.conn == nil {
		return nil
	}
	defer n.conn.Close()
	if !n.conn.IsConnected() {
		return nil
	}
	return n.conn.FlushWithContext(ctx)
}
