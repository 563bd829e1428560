package service

import (
	"context"
	"time"

	"github.com/finflow-io/be-spend-approvals/internal/logger"
	"github.com/finflow-io/be-spend-approvals/internal/repository"
)

// BreachEvent reports one pending approval that has exceeded its SLA. The
// monitor never mutates request or approval state: a breach is an idempotent
// signal, re-emitted on every scan while the level stays pending, and
// deduplication is the dispatcher's job.
type BreachEvent struct {
	RequestID      string
	RequestNumber  string
	Level          int
	Role           string
	ApproverID     *string
	MinutesOverdue int
	PendingSince   time.Time
}

// SLAMonitor periodically scans pending approvals and raises breach events
// when elapsed business minutes exceed the SLA configured for the level's
// role.
type SLAMonitor struct {
	approvalRepo *repository.ApprovalRepository
	settingsRepo *repository.SettingsRepository
	dispatcher   *Dispatcher
	interval     time.Duration
	log          *logger.Logger
}

// NewSLAMonitor creates an SLAMonitor scanning at the given interval.
func NewSLAMonitor(
	approvalRepo *repository.ApprovalRepository,
	settingsRepo *repository.SettingsRepository,
	dispatcher *Dispatcher,
	interval time.Duration,
	log *logger.Logger,
) *SLAMonitor {
	return &SLAMonitor{
		approvalRepo: approvalRepo,
		settingsRepo: settingsRepo,
		dispatcher:   dispatcher,
		interval:     interval,
		log:          log,
	}
}

// Scan computes breach events for every pending approval sitting at its
// request's current level, as of now. Read-only; safe to run concurrently
// with decisions.
func (m *SLAMonitor) Scan(ctx context.Context, now time.Time) ([]BreachEvent, error) {
	settings, err := m.settingsRepo.Latest(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := m.approvalRepo.ListPendingAtCurrentLevel(ctx)
	if err != nil {
		return nil, err
	}

	var events []BreachEvent
	for _, p := range pending {
		slaMinutes := settings.SLAForRole(p.Role)
		if slaMinutes <= 0 {
			continue
		}
		elapsed := businessMinutesBetween(p.CreatedAt, now, settings)
		if elapsed <= slaMinutes {
			continue
		}
		events = append(events, BreachEvent{
			RequestID:      p.RequestID,
			RequestNumber:  p.RequestNumber,
			Level:          p.Level,
			Role:           p.Role,
			ApproverID:     p.ApproverID,
			MinutesOverdue: elapsed - slaMinutes,
			PendingSince:   p.CreatedAt,
		})
	}
	return events, nil
}

// Run scans on a ticker until the context is canceled. A failed scan is
// logged and retried on the next tick; breaches for one request never block
// dispatch for the others.
func (m *SLAMonitor) Run(ctx context.Context) {
	m.log.Info().Dur("interval", m.interval).Msg("SLA monitor started")
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("SLA monitor stopped")
			return
		case <-ticker.C:
			events, err := m.Scan(ctx, time.Now())
			if err != nil {
				m.log.Error().Err(err).Msg("SLA scan failed")
				continue
			}
			for _, ev := range events {
				m.dispatcher.SLABreach(ctx, ev)
			}
			if len(events) > 0 {
				m.log.Info().Int("breaches", len(events)).Msg("SLA scan completed")
			}
		}
	}
}

// businessMinutesBetween counts the minutes between from and to that fall
// inside the configured workday window on configured workdays. Time outside
// the window, and entire non-workdays, contribute zero.
func businessMinutesBetween(from, to time.Time, st *repository.Settings) int {
	if !to.After(from) {
		return 0
	}

	total := 0
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, from.Location())
	for !day.After(to) {
		if st.IsWorkday(day) {
			windowStart := day.Add(time.Duration(st.WorkdayStartMin) * time.Minute)
			windowEnd := day.Add(time.Duration(st.WorkdayEndMin) * time.Minute)

			start := windowStart
			if from.After(start) {
				start = from
			}
			end := windowEnd
			if to.Before(end) {
				end = to
			}
			if end.After(start) {
				total += int(end.Sub(start) / time.Minute)
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return total
}
