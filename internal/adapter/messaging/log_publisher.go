package messaging

import (
	"context"

	"trade-settlement-engine/internal/core/domain"
	"trade-settlement-engine/pkg/logger"

	"github.com/rs/zerolog"
)

// LogPublisher records events in the application log. Used when no broker
// is configured (events.driver = none) and for local runs.
type LogPublisher struct {
	log zerolog.Logger
}

// NewLogPublisher creates a publisher that only logs.
func NewLogPublisher(log zerolog.Logger) *LogPublisher {
	return &LogPublisher{log: logger.Component(log, "events")}
}

// Publish implements ports.EventPublisher.
func (p *LogPublisher) Publish(_ context.Context, event *domain.TradeEvent) error {
	p.log.Info().
		Str("event_id", event.ID).
		Str("event_type", string(event.Type)).
		Str("trade_id", event.TradeID.String()).
		Str("from", string(event.FromStatus)).
		Str("to", string(event.ToStatus)).
		Msg("trade event")
	return nil
}
