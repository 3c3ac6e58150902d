package events

import (
	"context"

	"github.com/pharmstock/pharmstock-backend/pkg/logger"
	"github.com/pharmstock/pharmstock-backend/pkg/messaging"
)

// EventPublisher is the publish surface the stock services need.
// *messaging.Publisher satisfies it; tests use testutil.MockPublisher.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, data interface{}) error
}

// StockEventPublisher publishes stock-related events. Publishing runs
// after commit and is fire-and-forget: a broker failure is logged, the
// committed document stands.
type StockEventPublisher struct {
	publisher EventPublisher
	logger    *logger.Logger
}

// NewStockEventPublisher creates a new stock event publisher
func NewStockEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*StockEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeStockEvents, "pharmacy-service", log)
	if err != nil {
		return nil, err
	}

	return &StockEventPublisher{
		publisher: publisher,
		logger:    log,
	}, nil
}

// NewStockEventPublisherWith wraps an existing publisher, used by tests
func NewStockEventPublisherWith(pub EventPublisher, log *logger.Logger) *StockEventPublisher {
	return &StockEventPublisher{publisher: pub, logger: log}
}

// PublishStockAdjusted publishes a stock adjusted event
func (p *StockEventPublisher) PublishStockAdjusted(ctx context.Context, data messaging.StockAdjustedEvent) {
	if p == nil {
		return
	}
	if err := p.publisher.Publish(ctx, messaging.EventStockAdjusted, data); err != nil {
		p.logger.Error().Err(err).Str("medicine_id", data.MedicineID).Msg("failed to publish stock adjusted event")
	}
}

// PublishStockLow publishes a stock low event
func (p *StockEventPublisher) PublishStockLow(ctx context.Context, data messaging.StockLowEvent) {
	if p == nil {
		return
	}
	if err := p.publisher.Publish(ctx, messaging.EventStockLow, data); err != nil {
		p.logger.Error().Err(err).Str("medicine_id", data.MedicineID).Msg("failed to publish stock low event")
	}
}

// PublishDispenseCreated publishes a dispense created event
func (p *StockEventPublisher) PublishDispenseCreated(ctx context.Context, data messaging.DispenseCreatedEvent) {
	if p == nil {
		return
	}
	if err := p.publisher.Publish(ctx, messaging.EventDispenseCreated, data); err != nil {
		p.logger.Error().Err(err).Str("dispense_id", data.DispenseID).Msg("failed to publish dispense created event")
	}
}

// PublishDispenseCancelled publishes a dispense cancelled event
func (p *StockEventPublisher) PublishDispenseCancelled(ctx context.Context, data messaging.DispenseCancelledEvent) {
	if p == nil {
		return
	}
	if err := p.publisher.Publish(ctx, messaging.EventDispenseCancelled, data); err != nil {
		p.logger.Error().Err(err).Str("dispense_id", data.DispenseID).Msg("failed to publish dispense cancelled event")
	}
}

// PublishReceiptCreated publishes a receipt created event
func (p *StockEventPublisher) PublishReceiptCreated(ctx context.Context, data messaging.ReceiptCreatedEvent) {
	if p == nil {
		return
	}
	if err := p.publisher.Publish(ctx, messaging.EventReceiptCreated, data); err != nil {
		p.logger.Error().Err(err).Str("voucher_id", data.VoucherID).Msg("failed to publish receipt created event")
	}
}

// PublishReceiptCancelled publishes a receipt cancelled event
func (p *StockEventPublisher) PublishReceiptCancelled(ctx context.Context, data messaging.ReceiptCancelledEvent) {
	if p == nil {
		return
	}
	if err := p.publisher.Publish(ctx, messaging.EventReceiptCancelled, data); err != nil {
		p.logger.Error().Err(err).Str("voucher_id", data.VoucherID).Msg("failed to publish receipt cancelled event")
	}
}
