package jira

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pyama86/firefighter/domain/entity"
	"github.com/pyama86/firefighter/domain/event"
	"github.com/pyama86/firefighter/domain/repository"
	"github.com/pyama86/firefighter/presentation/blocks"
	"github.com/pyama86/firefighter/task"
)

// Store はJiraコネクタが使う永続化層
type Store interface {
	repository.JiraTicketRepository
	IncidentUpdates(context.Context, int) ([]entity.IncidentUpdate, error)
}

type Config struct {
	ProjectKey           string
	IssueType            string
	PostMortemProjectKey string
	PostMortemIssueType  string
	TimelineField        string
	CloseStatus          string
	Graph                map[string]map[string]string
}

type Connector struct {
	jira   repository.JiraRepositoryer
	store  Store
	bus    *event.Bus
	runner *task.Runner
	config Config
	now    func() time.Time
}

func NewConnector(jiraRepository repository.JiraRepositoryer, store Store, bus *event.Bus, runner *task.Runner, cfg Config) *Connector {
	if cfg.PostMortemProjectKey == "" {
		cfg.PostMortemProjectKey = cfg.ProjectKey
	}
	return &Connector{
		jira:   jiraRepository,
		store:  store,
		bus:    bus,
		runner: runner,
		config: cfg,
		now:    time.Now,
	}
}

func (c *Connector) Register() {
	event.Subscribe(c.bus, "jira.create_issue", task.Wrap(c.runner, "jira.create_issue", c.CreateIssue))
	event.Subscribe(c.bus, "jira.close_issue", task.Wrap(c.runner, "jira.close_issue", c.CloseIssue),
		event.SenderIs(event.SenderUpdateStatus), event.Filter[event.IncidentUpdated](closingStatus))
	event.Subscribe(c.bus, "jira.update_timeline", task.Wrap(c.runner, "jira.update_timeline", c.UpdateTimeline))
	event.Subscribe(c.bus, "jira.create_postmortem", task.Wrap(c.runner, "jira.create_postmortem", c.CreatePostMortem))
}

func closingStatus(ev event.IncidentUpdated) bool {
	switch ev.Incident.Status {
	case entity.StatusMitigated, entity.StatusPostMortem, entity.StatusClosed:
		return true
	}
	return false
}

func issueSummary(incident *entity.Incident) string {
	return fmt.Sprintf("[#%d] %s", incident.ID, incident.Title)
}

func (c *Connector) CreateIssue(ctx context.Context, ev event.IncidentChannelDone) error {
	ticket, err := c.store.FindJiraTicket(ctx, ev.Incident.ID)
	if err != nil {
		return fmt.Errorf("failed to find jira ticket: %w", err)
	}
	if ticket != nil {
		return nil
	}

	description := ev.Incident.Description
	if ev.Channel != nil {
		description = fmt.Sprintf("%s\n\nSlack: #%s", description, ev.Channel.Name)
	}
	issue, err := c.jira.CreateIssue(ctx, c.config.ProjectKey, c.config.IssueType, issueSummary(ev.Incident), description)
	if err != nil {
		return err
	}

	err = c.store.SaveJiraTicket(ctx, &entity.JiraTicket{
		IncidentID: ev.Incident.ID,
		ID:         issue.ID,
		Key:        issue.Key,
		URL:        issue.URL,
		CreatedAt:  c.now(),
	})
	if errors.Is(err, repository.ErrConflict) {
		slog.Warn("jira ticket already saved", slog.Int("incident", ev.Incident.ID), slog.String("issue", issue.Key))
		return nil
	}
	return err
}

// CloseIssue は設定された遷移グラフをたどってチケットをクローズ状態まで進める
func (c *Connector) CloseIssue(ctx context.Context, ev event.IncidentUpdated) error {
	ticket, err := c.store.FindJiraTicket(ctx, ev.Incident.ID)
	if err != nil {
		return fmt.Errorf("failed to find jira ticket: %w", err)
	}
	if ticket == nil {
		slog.Warn("jira ticket not found", slog.Int("incident", ev.Incident.ID))
		return nil
	}

	issue, err := c.jira.GetIssue(ctx, ticket.Key)
	if err != nil {
		return err
	}
	if issue.Status == c.config.CloseStatus {
		return nil
	}

	path := TransitionsToApply(c.config.Graph, issue.Status, c.config.CloseStatus)
	if len(path) == 0 {
		slog.Warn("no jira transition path",
			slog.String("issue", ticket.Key),
			slog.String("from", issue.Status),
			slog.String("to", c.config.CloseStatus),
		)
		return nil
	}

	for _, name := range path {
		available, err := c.jira.Transitions(ctx, ticket.Key)
		if err != nil {
			return err
		}
		id := ""
		for _, t := range available {
			if strings.EqualFold(t.Name, name) {
				id = t.ID
				break
			}
		}
		if id == "" {
			return task.Permanent(fmt.Errorf("transition %q is not available on %s", name, ticket.Key))
		}
		if err := c.jira.DoTransition(ctx, ticket.Key, id); err != nil {
			return err
		}
	}
	return nil
}

// RenderTimeline はタイムラインをJiraのフィールドに書き込むテキストにする
func RenderTimeline(updates []entity.IncidentUpdate) string {
	var b strings.Builder
	for _, u := range updates {
		when := u.CreatedAt
		label := ""
		switch {
		case u.EventType != "" && u.EventTS != nil:
			when = *u.EventTS
			label = u.EventType
		case u.Status != nil:
			label = u.Status.String()
		case u.Priority != nil:
			label = fmt.Sprintf("P%d", *u.Priority)
		}
		fmt.Fprintf(&b, "%s [%s] %s", blocks.FormatTime(when), label, u.CreatedBy.Name)
		if u.Message != "" {
			fmt.Fprintf(&b, ": %s", strings.ReplaceAll(u.Message, "\n", " "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (c *Connector) UpdateTimeline(ctx context.Context, ev event.IncidentKeyEventsUpdated) error {
	if c.config.TimelineField == "" {
		return nil
	}
	ticket, err := c.store.FindJiraTicket(ctx, ev.Incident.ID)
	if err != nil {
		return fmt.Errorf("failed to find jira ticket: %w", err)
	}
	if ticket == nil {
		return nil
	}

	updates := ev.Updates
	if updates == nil {
		if updates, err = c.store.IncidentUpdates(ctx, ev.Incident.ID); err != nil {
			return fmt.Errorf("failed to get incident updates: %w", err)
		}
	}
	return c.jira.UpdateField(ctx, ticket.Key, c.config.TimelineField, RenderTimeline(updates))
}

func (c *Connector) CreatePostMortem(ctx context.Context, ev event.PostMortemCreated) error {
	existing, err := c.store.FindJiraPostMortem(ctx, ev.Incident.ID)
	if err != nil {
		return fmt.Errorf("failed to find jira postmortem: %w", err)
	}
	if existing != nil {
		return nil
	}

	description := ev.Incident.Description
	if ticket, err := c.store.FindJiraTicket(ctx, ev.Incident.ID); err == nil && ticket != nil {
		description = fmt.Sprintf("%s\n\nIncident: %s", description, ticket.URL)
	}
	issue, err := c.jira.CreateIssue(ctx, c.config.PostMortemProjectKey, c.config.PostMortemIssueType,
		"Post-mortem "+issueSummary(ev.Incident), description)
	if err != nil {
		return err
	}

	err = c.store.SaveJiraPostMortem(ctx, &entity.JiraPostMortem{
		IncidentID: ev.Incident.ID,
		ID:         issue.ID,
		Key:        issue.Key,
		URL:        issue.URL,
		CreatedAt:  c.now(),
	})
	if errors.Is(err, repository.ErrConflict) {
		return nil
	}
	return err
}
