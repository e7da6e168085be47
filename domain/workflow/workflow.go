package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pyama86/firefighter/domain/entity"
	"github.com/pyama86/firefighter/domain/event"
	"github.com/pyama86/firefighter/domain/repository"
	"github.com/pyama86/firefighter/metrics"
)

// CommanderRole は宣言者が最初に割り当てられるロール
const CommanderRole = "commander"

// Engine はインシデントの状態遷移を検証して永続化し、イベントを発行する
// 外部サービスへのI/Oは行わない
type Engine struct {
	repo              repository.Repository
	bus               *event.Bus
	reminderThreshold time.Duration
	now               func() time.Time
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func NewEngine(repo repository.Repository, bus *event.Bus, reminderThreshold time.Duration, opts ...Option) *Engine {
	e := &Engine{
		repo:              repo,
		bus:               bus,
		reminderThreshold: reminderThreshold,
		now:               time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

type DeclareRequest struct {
	Title       string
	Description string
	// 0のときはデフォルトの優先度
	Priority int
	// 空のときはデフォルトの環境
	Environment string
	CategoryID  int
	Private     bool
	Actor       *entity.User
}

func requireActor(op string, actor *entity.User) error {
	if actor == nil || actor.ID == "" {
		return &AuthorizationError{Operation: op}
	}
	return nil
}

func (e *Engine) newUpdate(incidentID int, actor *entity.User) entity.IncidentUpdate {
	return entity.IncidentUpdate{
		IncidentID: incidentID,
		ID:         uuid.NewString(),
		CreatedBy:  *actor,
		CreatedAt:  e.now(),
	}
}

func observe(op string, start time.Time) {
	metrics.TransitionDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (e *Engine) Declare(ctx context.Context, req DeclareRequest) (*entity.Incident, error) {
	defer observe("declare", time.Now())
	if err := requireActor("declare", req.Actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Title) == "" {
		return nil, invalid("title", "title is required")
	}

	priority := e.repo.DefaultPriority(ctx)
	if req.Priority != 0 {
		p, err := e.repo.PriorityByValue(ctx, req.Priority)
		if err != nil {
			return nil, invalid("priority", "unknown priority %d", req.Priority)
		}
		priority = p
	}
	if priority == nil {
		return nil, invalid("priority", "no default priority")
	}
	if !priority.EnabledCreate {
		return nil, invalid("priority", "%s cannot be used to declare an incident", priority.Name)
	}

	env, err := e.environment(ctx, req.Environment)
	if err != nil {
		return nil, err
	}

	category, err := e.repo.CategoryByID(ctx, req.CategoryID)
	if err != nil {
		return nil, invalid("category", "unknown category %d", req.CategoryID)
	}
	if category.Disabled {
		return nil, invalid("category", "%s is disabled", category.Name)
	}

	id, err := e.repo.NextIncidentID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate incident id: %w", err)
	}

	now := e.now()
	incident := &entity.Incident{
		ID:          id,
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Status:      entity.StatusOpen,
		Priority:    priority.Value,
		Environment: env.Value,
		CategoryID:  req.CategoryID,
		CreatedBy:   *req.Actor,
		CreatedAt:   now,
		UpdatedAt:   now,
		Private:     req.Private,
	}

	status := entity.StatusOpen
	pv := priority.Value
	update := e.newUpdate(id, req.Actor)
	update.Status = &status
	update.Priority = &pv
	update.Message = req.Description

	var roles []entity.IncidentRole
	for _, rt := range e.repo.RoleTypes(ctx) {
		if !rt.Required || rt.Disabled {
			continue
		}
		role := entity.IncidentRole{
			IncidentID: id,
			RoleType:   rt.Slug,
		}
		if rt.Slug == CommanderRole {
			role.User = req.Actor
			role.AssignedAt = now
		}
		roles = append(roles, role)
	}
	if err := e.repo.SaveIncidentWithRoles(ctx, incident, roles, update); err != nil {
		return nil, fmt.Errorf("failed to save incident: %w", err)
	}

	e.bus.Publish(ctx, event.CreateIncidentConversation{Incident: incident})
	e.bus.Publish(ctx, event.IncidentCreated{Incident: incident, Update: &update})
	return incident, nil
}

func (e *Engine) environment(ctx context.Context, value string) (*entity.Environment, error) {
	if value != "" {
		env, err := e.repo.EnvironmentByValue(ctx, value)
		if err != nil {
			return nil, invalid("environment", "unknown environment %s", value)
		}
		return env, nil
	}
	env := e.repo.DefaultEnvironment(ctx)
	if env == nil {
		return nil, invalid("environment", "no environment is configured")
	}
	return env, nil
}

// postMortemRequired は優先度、本番環境、非公開でないことの3条件を満たすかを返す
func (e *Engine) postMortemRequired(ctx context.Context, incident *entity.Incident) (bool, *entity.Priority, error) {
	priority, err := e.repo.PriorityByValue(ctx, incident.Priority)
	if err != nil {
		return false, nil, fmt.Errorf("failed to find priority %d: %w", incident.Priority, err)
	}
	if !priority.NeedsPostMortem || incident.Private {
		return false, priority, nil
	}
	env, err := e.repo.EnvironmentByValue(ctx, incident.Environment)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, priority, nil
		}
		return false, priority, err
	}
	return env.Production, priority, nil
}

// ApplyStatusTransition はステータスを変更し、タイムラインを1件追加する
// 渡したincidentは変更せず、更新後のコピーを返す
func (e *Engine) ApplyStatusTransition(ctx context.Context, incident *entity.Incident, target entity.Status, actor *entity.User, message string, reason entity.ClosureReason) (*entity.Incident, *entity.IncidentUpdate, error) {
	defer observe("status", time.Now())
	if err := requireActor("status transition", actor); err != nil {
		return nil, nil, err
	}
	if incident == nil {
		return nil, nil, invalid("incident", "incident is required")
	}
	if !target.Valid() {
		return nil, nil, invalid("status", "unknown status %s", target)
	}
	if target == entity.StatusOpen {
		return nil, nil, invalid("status", "an incident cannot go back to open")
	}
	if incident.IsClosed() {
		return nil, nil, invalid("status", "incident #%d is already closed", incident.ID)
	}
	// 同じステータスの再設定は許すが、前のステータスには戻せない
	if target.Before(incident.Status) {
		return nil, nil, invalid("status", "incident #%d cannot go back from %s to %s", incident.ID, incident.Status, target)
	}

	if target == entity.StatusClosed {
		if incident.Status.Before(entity.StatusMitigated) {
			if reason == "" {
				return nil, nil, invalid("closure_reason", "a closure reason is required to close before mitigation")
			}
			if !reason.Valid() || reason == entity.ClosureReasonResolved {
				return nil, nil, invalid("closure_reason", "%q cannot be used to close before mitigation", reason)
			}
		} else {
			if reason == "" {
				reason = entity.ClosureReasonResolved
			}
			if !reason.Valid() {
				return nil, nil, invalid("closure_reason", "unknown closure reason %q", reason)
			}
		}
	} else if reason != "" {
		return nil, nil, invalid("closure_reason", "a closure reason is only accepted when closing")
	}

	required, priority, err := e.postMortemRequired(ctx, incident)
	if err != nil {
		slog.Warn("failed to evaluate postmortem requirement", slog.Int("incident", incident.ID), slog.Any("err", err))
		required = false
	}
	if target == entity.StatusClosed && incident.Status == entity.StatusMitigated && required {
		return nil, nil, invalid("status", "incident #%d needs a postmortem before closing", incident.ID)
	}

	now := e.now()
	updated := *incident
	updated.Status = target
	updated.UpdatedAt = now
	fields := []string{"status"}

	setMitigated := false
	if (target == entity.StatusMitigated || target == entity.StatusPostMortem) && updated.MitigatedAt == nil {
		t := now
		updated.MitigatedAt = &t
		setMitigated = true
		fields = append(fields, "mitigated_at")
	}
	if target == entity.StatusClosed {
		t := now
		updated.ClosedAt = &t
		updated.ClosureReason = reason
		fields = append(fields, "closure_reason")
	}

	update := e.newUpdate(incident.ID, actor)
	update.Status = &target
	update.Message = message
	update.ClosureReason = updated.ClosureReason

	if err := e.repo.SaveIncident(ctx, &updated, update); err != nil {
		return nil, nil, fmt.Errorf("failed to save status transition: %w", err)
	}

	e.bus.Publish(ctx, event.IncidentUpdated{
		Sender:        event.SenderUpdateStatus,
		Incident:      &updated,
		Update:        &update,
		UpdatedFields: fields,
		OldStatus:     incident.Status,
	})
	if target == entity.StatusClosed {
		e.bus.Publish(ctx, event.IncidentClosed{Incident: &updated, Update: &update})
	}
	if setMitigated && required {
		exists, err := e.repo.HasPostMortem(ctx, incident.ID)
		if err != nil {
			slog.Error("failed to check postmortem", slog.Int("incident", incident.ID), slog.Any("err", err))
		} else if !exists {
			e.bus.Publish(ctx, event.PostMortemCreated{Incident: &updated, Priority: priority})
		}
	}
	return &updated, &update, nil
}

func (e *Engine) ApplyPriorityChange(ctx context.Context, incident *entity.Incident, value int, actor *entity.User, message string) (*entity.Incident, *entity.IncidentUpdate, error) {
	defer observe("priority", time.Now())
	if err := requireActor("priority change", actor); err != nil {
		return nil, nil, err
	}
	if incident == nil {
		return nil, nil, invalid("incident", "incident is required")
	}
	if incident.IsClosed() {
		return nil, nil, invalid("priority", "incident #%d is already closed", incident.ID)
	}
	priority, err := e.repo.PriorityByValue(ctx, value)
	if err != nil {
		return nil, nil, invalid("priority", "unknown priority %d", value)
	}
	if !priority.EnabledUpdate {
		return nil, nil, invalid("priority", "%s cannot be selected on update", priority.Name)
	}
	if incident.Priority == value {
		return incident, nil, nil
	}
	old, err := e.repo.PriorityByValue(ctx, incident.Priority)
	if err != nil {
		slog.Warn("previous priority is not configured", slog.Int("priority", incident.Priority))
		old = nil
	}

	updated := *incident
	updated.Priority = value
	updated.UpdatedAt = e.now()

	update := e.newUpdate(incident.ID, actor)
	update.Priority = &value
	update.Message = message

	if err := e.repo.SaveIncident(ctx, &updated, update); err != nil {
		return nil, nil, fmt.Errorf("failed to save priority change: %w", err)
	}

	e.bus.Publish(ctx, event.IncidentUpdated{
		Sender:        event.SenderUpdatePriority,
		Incident:      &updated,
		Update:        &update,
		UpdatedFields: []string{"priority"},
		OldPriority:   old,
		OldStatus:     incident.Status,
	})
	return &updated, &update, nil
}

// ApplyRoleUpdate はassignments(ロールslug→ユーザー、nilは解除)のうち変化があるものだけを反映する
// 何も変わらない場合はタイムラインもイベントも作らない
func (e *Engine) ApplyRoleUpdate(ctx context.Context, incident *entity.Incident, actor *entity.User, assignments map[string]*entity.User) (*entity.Incident, *entity.IncidentUpdate, error) {
	defer observe("roles", time.Now())
	if err := requireActor("role update", actor); err != nil {
		return nil, nil, err
	}
	if incident == nil {
		return nil, nil, invalid("incident", "incident is required")
	}

	types := e.repo.RoleTypes(ctx)
	known := map[string]bool{}
	for _, rt := range types {
		known[rt.Slug] = true
	}
	for slug := range assignments {
		if !known[slug] {
			return nil, nil, invalid(entity.RoleFieldName(slug), "unknown role %s", slug)
		}
	}

	current, err := e.repo.IncidentRoles(ctx, incident.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get incident roles: %w", err)
	}
	holders := map[string]*entity.User{}
	for _, r := range current {
		holders[r.RoleType] = r.User
	}

	now := e.now()
	var (
		changed  []entity.IncidentRole
		fields   []string
		lines    []string
		assigned = map[string]*entity.User{}
	)
	// 表示順に処理してタイムラインとupdated_fieldsの順序を安定させる
	for _, rt := range types {
		user, ok := assignments[rt.Slug]
		if !ok || rt.Disabled {
			continue
		}
		if user != nil && user.ID == "" {
			user = nil
		}
		if sameUser(holders[rt.Slug], user) {
			continue
		}
		role := entity.IncidentRole{
			IncidentID: incident.ID,
			RoleType:   rt.Slug,
			User:       user,
			AssignedAt: now,
		}
		changed = append(changed, role)
		fields = append(fields, rt.FieldName())
		lines = append(lines, fmt.Sprintf("%s: %s → %s", rt.Name, holders[rt.Slug].Mention(), user.Mention()))
		if user != nil {
			assigned[rt.Slug] = user
		}
	}
	if len(changed) == 0 {
		return incident, nil, nil
	}

	updated := *incident
	updated.UpdatedAt = now
	update := e.newUpdate(incident.ID, actor)
	update.Message = strings.Join(lines, "\n")

	if err := e.repo.SaveIncidentWithRoles(ctx, &updated, changed, update); err != nil {
		return nil, nil, fmt.Errorf("failed to save role update: %w", err)
	}

	e.bus.Publish(ctx, event.IncidentUpdated{
		Sender:        event.SenderUpdateRoles,
		Incident:      &updated,
		Update:        &update,
		UpdatedFields: fields,
		OldStatus:     incident.Status,
		AssignedRoles: assigned,
	})
	return &updated, &update, nil
}

func sameUser(a, b *entity.User) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID == b.ID
}

// UpdateKeyEvents は変化したキーイベントごとにタイムラインを追加する
func (e *Engine) UpdateKeyEvents(ctx context.Context, incident *entity.Incident, actor *entity.User, events map[string]time.Time) (*entity.Incident, []entity.IncidentUpdate, error) {
	defer observe("key_events", time.Now())
	if err := requireActor("key event update", actor); err != nil {
		return nil, nil, err
	}
	if incident == nil {
		return nil, nil, invalid("incident", "incident is required")
	}
	valid := map[string]bool{}
	for _, t := range entity.KeyEventTypes() {
		valid[t] = true
	}
	for t := range events {
		if !valid[t] {
			return nil, nil, invalid("event_type", "unknown key event %s", t)
		}
	}

	timeline, err := e.repo.IncidentUpdates(ctx, incident.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get timeline: %w", err)
	}
	latest := entity.LatestKeyEvents(timeline)

	var created []entity.IncidentUpdate
	for _, t := range entity.KeyEventTypes() {
		ts, ok := events[t]
		if !ok {
			continue
		}
		if prev, ok := latest[t]; ok && prev.Equal(ts) {
			continue
		}
		at := ts
		u := e.newUpdate(incident.ID, actor)
		u.EventType = t
		u.EventTS = &at
		created = append(created, u)
	}
	if len(created) == 0 {
		return incident, nil, nil
	}

	updated := *incident
	updated.UpdatedAt = e.now()
	if err := e.repo.SaveIncident(ctx, &updated, created...); err != nil {
		return nil, nil, fmt.Errorf("failed to save key events: %w", err)
	}

	all := append(append([]entity.IncidentUpdate(nil), timeline...), created...)
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	e.bus.Publish(ctx, event.IncidentKeyEventsUpdated{Incident: &updated, Updates: all})
	return &updated, created, nil
}

// Downgrade はignoreフラグを立てる。ステータスは変えない
func (e *Engine) Downgrade(ctx context.Context, incident *entity.Incident, actor *entity.User) (*entity.Incident, error) {
	defer observe("downgrade", time.Now())
	if err := requireActor("downgrade", actor); err != nil {
		return nil, err
	}
	if incident == nil {
		return nil, invalid("incident", "incident is required")
	}
	if incident.Ignore {
		return incident, nil
	}

	updated := *incident
	updated.Ignore = true
	updated.UpdatedAt = e.now()
	update := e.newUpdate(incident.ID, actor)
	update.Message = "インシデントではないものとして扱います"

	if err := e.repo.SaveIncident(ctx, &updated, update); err != nil {
		return nil, fmt.Errorf("failed to save downgrade: %w", err)
	}
	e.bus.Publish(ctx, event.IncidentUpdated{
		Sender:        event.SenderDowngrade,
		Incident:      &updated,
		Update:        &update,
		UpdatedFields: []string{"ignore"},
		OldStatus:     incident.Status,
	})
	return &updated, nil
}
