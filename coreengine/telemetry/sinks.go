package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/nats-io/nats.go"

	"github.com/jeeves-cluster-organization/ventureflow/commbus"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/config"
	"github.com/jeeves-cluster-organization/ventureflow/coreengine/kernel"
)

// =============================================================================
// Bus Sink
// =============================================================================

// BusSink republishes events on the in-process bus.
type BusSink struct {
	Bus commbus.Publisher
}

// Publish implements Sink.
func (s BusSink) Publish(ctx context.Context, msg commbus.Message) error {
	if err := s.Bus.Publish(ctx, msg); err != nil {
		return &commbus.CommBusError{MessageType: commbus.GetMessageType(msg), Cause: err}
	}
	return nil
}

// =============================================================================
// NATS Sink
// =============================================================================

// DefaultSubjectPrefix is the first token of every published subject.
const DefaultSubjectPrefix = "ventureflow"

// globalSubject replaces the venture token for events not tied to a venture.
const globalSubject = "_global"

// Envelope is the JSON body published to NATS.
type Envelope struct {
	Type        string          `json:"type"`
	VentureID   string          `json:"ventureId,omitempty"`
	PublishedAt time.Time       `json:"publishedAt"`
	Data        commbus.Message `json:"data"`
}

// Publisher is the part of *nats.Conn the sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes events to <prefix>.<venture>.<event_type>.
type NATSSink struct {
	conn   Publisher
	prefix string
	now    func() time.Time
}

// NewNATSSink creates a sink. An empty prefix uses DefaultSubjectPrefix.
func NewNATSSink(conn Publisher, prefix string) *NATSSink {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{conn: conn, prefix: prefix, now: time.Now}
}

// Publish implements Sink.
func (s *NATSSink) Publish(_ context.Context, msg commbus.Message) error {
	msgType := commbus.GetMessageType(msg)
	env := Envelope{Type: msgType, PublishedAt: s.now().UTC(), Data: msg}
	if ve, ok := msg.(commbus.VentureEvent); ok {
		env.VentureID = ve.Venture()
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msgType, err)
	}
	subject := s.Subject(env.VentureID, msgType)
	if err := s.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Subject returns the subject an event of msgType for ventureID goes to.
func (s *NATSSink) Subject(ventureID, msgType string) string {
	venture := subjectToken(ventureID)
	if venture == "" {
		venture = globalSubject
	}
	return s.prefix + "." + venture + "." + snakeCase(msgType)
}

// subjectToken makes s safe as a single NATS subject token.
func subjectToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n':
			return '_'
		}
		return r
	}, s)
}

func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ConnectNATS dials the configured server.
func ConnectNATS(cfg config.NATSConfig, logger kernel.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if logger != nil && err != nil {
				logger.Warn("nats_disconnected", "error", err.Error())
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			if logger != nil {
				logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
			}
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	return nc, nil
}
