package events

import (
	"context"

	"github.com/pharmstock/pharmstock-backend/pkg/logger"
	"github.com/pharmstock/pharmstock-backend/pkg/messaging"
)

// EventPublisher is the publish surface the requisition service needs
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, data interface{}) error
}

// RequisitionEventPublisher publishes requisition lifecycle events.
// Publishing runs after commit and is fire-and-forget.
type RequisitionEventPublisher struct {
	publisher EventPublisher
	logger    *logger.Logger
}

// NewRequisitionEventPublisher creates a new requisition event publisher
func NewRequisitionEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*RequisitionEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeRequisitionEvents, "pharmacy-service", log)
	if err != nil {
		return nil, err
	}

	return &RequisitionEventPublisher{
		publisher: publisher,
		logger:    log,
	}, nil
}

// NewRequisitionEventPublisherWith wraps an existing publisher, used by tests
func NewRequisitionEventPublisherWith(pub EventPublisher, log *logger.Logger) *RequisitionEventPublisher {
	return &RequisitionEventPublisher{publisher: pub, logger: log}
}

// PublishSubmitted publishes a requisition submitted event
func (p *RequisitionEventPublisher) PublishSubmitted(ctx context.Context, data messaging.RequisitionSubmittedEvent) {
	if p == nil {
		return
	}
	if err := p.publisher.Publish(ctx, messaging.EventRequisitionSubmitted, data); err != nil {
		p.logger.Error().Err(err).Str("requisition_id", data.RequisitionID).Msg("failed to publish requisition submitted event")
	}
}

// PublishReviewed publishes a requisition reviewed event
func (p *RequisitionEventPublisher) PublishReviewed(ctx context.Context, data messaging.RequisitionReviewedEvent) {
	if p == nil {
		return
	}
	if err := p.publisher.Publish(ctx, messaging.EventRequisitionReviewed, data); err != nil {
		p.logger.Error().Err(err).Str("requisition_id", data.RequisitionID).Msg("failed to publish requisition reviewed event")
	}
}

// PublishReceived publishes a requisition received event
func (p *RequisitionEventPublisher) PublishReceived(ctx context.Context, data messaging.RequisitionReceivedEvent) {
	if p == nil {
		return
	}
	if err := p.publisher.Publish(ctx, messaging.EventRequisitionReceived, data); err != nil {
		p.logger.Error().Err(err).Str("requisition_id", data.RequisitionID).Msg("failed to publish requisition received event")
	}
}
