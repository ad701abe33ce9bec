// Package events publishes schema and value changes to NATS so other services
// can react to issue property edits.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const defaultSubjectPrefix = "issueprops"

type Type string

const (
	IssueTypeChanged Type = "issue_type.changed"
	IssueTypeDeleted Type = "issue_type.deleted"
	PropertyChanged  Type = "property.changed"
	PropertyDeleted  Type = "property.deleted"
	OptionChanged    Type = "option.changed"
	OptionDeleted    Type = "option.deleted"
	ValuesReplaced   Type = "values.replaced"
)

// Event is the JSON envelope published for every change.
type Event struct {
	Type        Type      `json:"type"`
	WorkspaceID string    `json:"workspace_id"`
	ProjectID   string    `json:"project_id"`
	ResourceID  string    `json:"resource_id"`
	Entity      string    `json:"entity,omitempty"`
	PropertyIDs []string  `json:"property_ids,omitempty"`
	Actor       string    `json:"actor,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Publisher delivers events. Implementations must not block on slow consumers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close()
}

// Noop discards every event.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close()                               {}

// conn is the part of *nats.Conn the publisher uses.
type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
	Close()
}

// NATSPublisher publishes events on "<prefix>.<workspace>.<type>".
type NATSPublisher struct {
	conn   conn
	prefix string
	logger *slog.Logger
}

// Connect dials NATS. An empty URL yields a Noop publisher.
func Connect(url, prefix string, logger *slog.Logger) (Publisher, error) {
	if url == "" {
		return Noop{}, nil
	}
	nc, err := nats.Connect(url,
		nats.Name("issueprops-api"),
		nats.Timeout(5*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return newNATSPublisher(nc, prefix, logger), nil
}

func newNATSPublisher(c conn, prefix string, logger *slog.Logger) *NATSPublisher {
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPublisher{conn: c, prefix: prefix, logger: logger}
}

func (p *NATSPublisher) Subject(event Event) string {
	return p.prefix + "." + event.WorkspaceID + "." + string(event.Type)
}

func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := p.Subject(event)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.Debug("event published", "subject", subject, "resource_id", event.ResourceID)
	return nil
}

func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("nats drain failed", "error", err)
	}
	p.conn.Close()
}
