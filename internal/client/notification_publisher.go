package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// NotificationPublisher publishes approval lifecycle events to NATS for
// consumption by the notification delivery service.
//
// Subject convention: notifications.spend.<event_type>
// Event types: request_submitted, approval_required, request_approved,
//              request_rejected, request_completed, sla_breach
//
// All publish operations are non-fatal — errors are logged but never
// propagated, so delivery failures never interrupt approval operations.
type NotificationPublisher struct {
	nats *NATSClient
	log  zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType  string                 `json:"event_type"`
	ActorID    string                 `json:"actor_id"`
	Recipients []string               `json:"recipients"`
	ResourceID string                 `json:"resource_id,omitempty"`
	Severity   string                 `json:"severity,omitempty"`
	Category   string                 `json:"category,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// NewNotificationPublisher creates a publisher backed by the given NATS client.
func NewNotificationPublisher(nats *NATSClient, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{nats: nats, log: log}
}

// PublishRequestEvent publishes a spend approval event.
// Subject: notifications.spend.<eventType>
func (p *NotificationPublisher) PublishRequestEvent(ctx context.Context, eventType, requestID, actorID string, recipients []string, payload map[string]interface{}) {
	if p.nats == nil {
		return
	}
	if len(recipients) == 0 {
		return
	}

	severity := "info"
	if eventType == "sla_breach" {
		severity = "warning"
	}

	event := &NotificationEvent{
		EventType:  eventType,
		ActorID:    actorID,
		Recipients: recipients,
		ResourceID: requestID,
		Severity:   severity,
		Category:   "spend_approval",
		Payload:    payload,
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("notifications.spend.%s", eventType)
	if err := p.nats.Publish(ctx, subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("request_id", requestID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("request_id", requestID).
		Int("recipients", len(recipients)).
		Msg("notification: event published")
}
