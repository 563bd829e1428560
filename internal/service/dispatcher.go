package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/finflow-io/be-spend-approvals/internal/logger"
	"github.com/finflow-io/be-spend-approvals/internal/repository"
)

// NotificationStore persists notification rows. Satisfied by
// repository.NotificationRepository.
type NotificationStore interface {
	Create(ctx context.Context, n *repository.Notification) error
}

// EventPublisher hands notification events to the delivery transport.
// Satisfied by client.NotificationPublisher; implementations never return
// errors to the caller.
type EventPublisher interface {
	PublishRequestEvent(ctx context.Context, eventType, requestID, actorID string, recipients []string, payload map[string]interface{})
}

// Dispatcher turns lifecycle transitions and SLA breaches into notification
// intents: persisted rows for in-app inboxes plus published events for the
// delivery service. Dispatch failures are logged and never propagate into
// the operation that triggered them.
type Dispatcher struct {
	store     NotificationStore
	publisher EventPublisher
	directory DirectoryInterface
	log       *logger.Logger

	// Breach alerts for the same (request, level) repeat on every scan while
	// the level stays pending; renotifyAfter throttles how often they reach
	// recipients. Entries past the window are pruned on the next breach, so
	// the map tracks only levels still inside it.
	renotifyAfter time.Duration
	mu            sync.Mutex
	lastBreach    map[string]time.Time
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(
	store NotificationStore,
	publisher EventPublisher,
	directory DirectoryInterface,
	renotifyAfter time.Duration,
	log *logger.Logger,
) *Dispatcher {
	return &Dispatcher{
		store:         store,
		publisher:     publisher,
		directory:     directory,
		renotifyAfter: renotifyAfter,
		log:           log,
		lastBreach:    make(map[string]time.Time),
	}
}

// LevelOpened notifies the approver(s) of a newly pending level: the
// assigned approver when one exists, otherwise every holder of the role.
func (d *Dispatcher) LevelOpened(ctx context.Context, req *repository.Request, ap *repository.Approval, assignee string) {
	recipients := d.levelRecipients(ctx, ap.Role, assignee)

	title := "Approval required"
	message := fmt.Sprintf("Request %s (%s) is awaiting your %s approval at level %d.",
		req.RequestNumber, formatAmount(req.Amount), ap.Role, ap.Level)

	d.deliver(ctx, "approval_required", req.ID, req.RequesterID, recipients, title, message, map[string]interface{}{
		"request_number": req.RequestNumber,
		"level":          ap.Level,
		"role":           ap.Role,
	})
}

// RequestResolved notifies the requester that their request was approved,
// rejected or completed.
func (d *Dispatcher) RequestResolved(ctx context.Context, req *repository.Request, status, actorID string) {
	var title, message string
	switch status {
	case repository.RequestStatusApproved:
		title = "Request approved"
		message = fmt.Sprintf("Request %s (%s) has passed all approval levels.", req.RequestNumber, formatAmount(req.Amount))
	case repository.RequestStatusRejected:
		title = "Request rejected"
		message = fmt.Sprintf("Request %s (%s) was rejected at level %d.", req.RequestNumber, formatAmount(req.Amount), req.CurrentLevel)
	case repository.RequestStatusCompleted:
		title = "Request completed"
		message = fmt.Sprintf("Request %s (%s) has been disbursed and closed.", req.RequestNumber, formatAmount(req.Amount))
	default:
		return
	}

	d.deliver(ctx, "request_"+status, req.ID, actorID, []string{req.RequesterID}, title, message, map[string]interface{}{
		"request_number": req.RequestNumber,
		"status":         status,
	})
}

// SLABreach notifies the pending level's approver (or all role holders) and
// escalates to holders of the role one level above. Repeated breaches of the
// same (request, level) are suppressed within the re-notify window.
func (d *Dispatcher) SLABreach(ctx context.Context, ev BreachEvent) {
	key := fmt.Sprintf("%s:%d", ev.RequestID, ev.Level)

	d.mu.Lock()
	now := time.Now()
	for k, ts := range d.lastBreach {
		if now.Sub(ts) >= d.renotifyAfter {
			delete(d.lastBreach, k)
		}
	}
	if _, seen := d.lastBreach[key]; seen {
		d.mu.Unlock()
		return
	}
	d.lastBreach[key] = now
	d.mu.Unlock()

	assignee := ""
	if ev.ApproverID != nil {
		assignee = *ev.ApproverID
	}
	recipients := d.levelRecipients(ctx, ev.Role, assignee)
	if above := roleAbove(ev.Role); above != "" {
		if escalation, err := d.directory.UsersWithRole(ctx, above); err != nil {
			d.log.Warn().Err(err).Str("role", above).Msg("Could not resolve escalation recipients")
		} else {
			recipients = append(recipients, escalation...)
		}
	}

	title := "Approval SLA breached"
	message := fmt.Sprintf("Request %s has been pending %s approval at level %d for %d business minutes past its SLA.",
		ev.RequestNumber, ev.Role, ev.Level, ev.MinutesOverdue)

	d.deliver(ctx, "sla_breach", ev.RequestID, "", dedupe(recipients), title, message, map[string]interface{}{
		"request_number":  ev.RequestNumber,
		"level":           ev.Level,
		"role":            ev.Role,
		"minutes_overdue": ev.MinutesOverdue,
	})
}

// ── internals ────────────────────────────────────────────────────────────────

// deliver persists one notification row per recipient and publishes a single
// event covering all of them.
func (d *Dispatcher) deliver(ctx context.Context, eventType, requestID, actorID string, recipients []string, title, message string, payload map[string]interface{}) {
	if len(recipients) == 0 {
		d.log.Debug().Str("event_type", eventType).Str("request_id", requestID).Msg("No recipients for notification")
		return
	}

	for _, userID := range recipients {
		n := &repository.Notification{UserID: userID, Title: title, Message: message}
		if err := d.store.Create(ctx, n); err != nil {
			d.log.Warn().Err(err).
				Str("user_id", userID).
				Str("event_type", eventType).
				Msg("Failed to persist notification (non-fatal)")
		}
	}

	d.publisher.PublishRequestEvent(ctx, eventType, requestID, actorID, recipients, payload)
}

// levelRecipients returns the assigned approver, or every role holder when
// the level is unassigned.
func (d *Dispatcher) levelRecipients(ctx context.Context, role, assignee string) []string {
	if assignee != "" {
		return []string{assignee}
	}
	users, err := d.directory.UsersWithRole(ctx, role)
	if err != nil {
		d.log.Warn().Err(err).Str("role", role).Msg("Could not resolve notification recipients")
		return nil
	}
	return users
}

// roleAbove returns the next role up the fixed escalation ladder, or "" for
// the top.
func roleAbove(role string) string {
	switch role {
	case repository.RoleSupervisor:
		return repository.RoleManager
	case repository.RoleManager:
		return repository.RoleFinance
	case repository.RoleFinance:
		return repository.RoleAdmin
	}
	return ""
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// formatAmount renders a minor-unit amount with two decimals.
func formatAmount(amount int64) string {
	return fmt.Sprintf("%d.%02d", amount/100, amount%100)
}
