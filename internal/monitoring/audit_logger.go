// Package monitoring records query audit events.
package monitoring

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/spherical-ai/commerce-rag/internal/cache"
	"github.com/spherical-ai/commerce-rag/internal/observability"
)

// DefaultAuditChannel is the pub/sub channel query events are published on.
const DefaultAuditChannel = "query.audit"

// maxAuditProducts bounds the product ids carried by one event.
const maxAuditProducts = 10

// QueryEvent describes one served query.
type QueryEvent struct {
	ID            uuid.UUID `json:"id"`
	Query         string    `json:"query"`
	UserID        string    `json:"user_id,omitempty"`
	Outcome       string    `json:"outcome"`
	Intent        string    `json:"intent,omitempty"`
	Categories    []string  `json:"categories,omitempty"`
	TopProductIDs []string  `json:"top_product_ids"`
	ResultCount   int       `json:"result_count"`
	LatencyMs     int64     `json:"latency_ms"`
	Error         string    `json:"error,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// AuditLogger writes query events to the structured log and, when a
// publisher is configured, to a pub/sub channel.
type AuditLogger struct {
	logger    *observability.Logger
	publisher cache.Publisher
	channel   string
}

// NewAuditLogger creates an audit logger. publisher may be nil.
func NewAuditLogger(logger *observability.Logger, publisher cache.Publisher, channel string) *AuditLogger {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if channel == "" {
		channel = DefaultAuditChannel
	}
	return &AuditLogger{
		logger:    logger.WithOperation("query_audit"),
		publisher: publisher,
		channel:   channel,
	}
}

// LogQuery records a query event. A publish failure is logged and returned;
// the log line is always written.
func (a *AuditLogger) LogQuery(ctx context.Context, event QueryEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if len(event.TopProductIDs) > maxAuditProducts {
		event.TopProductIDs = event.TopProductIDs[:maxAuditProducts]
	}
	if event.TopProductIDs == nil {
		event.TopProductIDs = []string{}
	}

	a.logger.Info().
		Str("event_id", event.ID.String()).
		Str("query", event.Query).
		Str("user_id", event.UserID).
		Str("outcome", event.Outcome).
		Strs("categories", event.Categories).
		Strs("top_product_ids", event.TopProductIDs).
		Int("result_count", event.ResultCount).
		Int64("latency_ms", event.LatencyMs).
		Msg("Query audit")

	if a.publisher == nil {
		return nil
	}
	if err := a.publisher.Publish(ctx, a.channel, event); err != nil {
		a.logger.Warn().Err(err).Str("channel", a.channel).Msg("Failed to publish audit event")
		return err
	}
	return nil
}
