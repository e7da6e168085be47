package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pyama86/firefighter/domain/entity"
	"github.com/pyama86/firefighter/domain/event"
)

// TriggerPostmortemReminderScan は緩和からthreshold以上経過してもポストモーテムがないインシデントに
// postmortem_reminder_dueを発行する。インシデント自体は変更しない
func (e *Engine) TriggerPostmortemReminderScan(ctx context.Context, now time.Time) ([]entity.Incident, error) {
	defer observe("reminder_scan", time.Now())
	incidents, err := e.repo.MitigatedIncidents(ctx, now.Add(-e.reminderThreshold))
	if err != nil {
		return nil, fmt.Errorf("failed to list mitigated incidents: %w", err)
	}

	var due []entity.Incident
	for i := range incidents {
		incident := incidents[i]
		if !e.reminderDue(ctx, &incident, now) {
			continue
		}
		priority, err := e.repo.PriorityByValue(ctx, incident.Priority)
		if err != nil || !priority.NeedsPostMortem {
			continue
		}
		exists, err := e.repo.HasPostMortem(ctx, incident.ID)
		if err != nil {
			slog.Error("failed to check postmortem", slog.Int("incident", incident.ID), slog.Any("err", err))
			continue
		}
		if exists {
			continue
		}
		due = append(due, incident)
		e.bus.Publish(ctx, event.PostMortemReminderDue{Incident: &incident, Priority: priority})
	}
	return due, nil
}

func (e *Engine) reminderDue(_ context.Context, incident *entity.Incident, now time.Time) bool {
	if incident.Ignore || incident.MitigatedAt == nil {
		return false
	}
	if incident.Status != entity.StatusMitigated && incident.Status != entity.StatusPostMortem {
		return false
	}
	return !incident.MitigatedAt.After(now.Add(-e.reminderThreshold))
}
