package handler

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/pyama86/firefighter/connector/confluence"
	"github.com/pyama86/firefighter/connector/jira"
	"github.com/pyama86/firefighter/connector/pagerduty"
	slackconnector "github.com/pyama86/firefighter/connector/slack"
	"github.com/pyama86/firefighter/domain/event"
	"github.com/pyama86/firefighter/domain/repository"
	"github.com/pyama86/firefighter/domain/workflow"
	"github.com/pyama86/firefighter/task"
)

// App は起動に必要な依存をまとめたもの
type App struct {
	Config     *repository.Config
	Store      repository.Store
	Repository repository.Repository
	Slack      repository.SlackRepositoryer
	Bus        *event.Bus
	Engine     *workflow.Engine
	Runner     *task.Runner

	SlackConnector *slackconnector.Connector
	// 機能が無効な場合はnil
	Jira       *jira.Connector
	Confluence *confluence.Connector
	PagerDuty  *pagerduty.Connector

	workSpaceURL string
}

// NewApp はコネクタを組み立ててバスに登録する
// ポストモーテムのページをSlackより先に作るため、Confluenceを先に登録する
func NewApp(cfg *repository.Config, store repository.Store, slackRepository repository.SlackRepositoryer, workSpaceURL string) (*App, error) {
	bus := event.NewBus()
	repo := repository.NewRepository(store, cfg)
	runner := task.NewRunner(cfg.Task.Retries, cfg.Task.RetryDelay, cfg.Task.Timeout)

	app := &App{
		Config:       cfg,
		Store:        store,
		Repository:   repo,
		Slack:        slackRepository,
		Bus:          bus,
		Engine:       workflow.NewEngine(repo, bus, cfg.PostMortemReminderThreshold()),
		Runner:       runner,
		workSpaceURL: workSpaceURL,
	}

	if cfg.Features.Confluence {
		if err := app.setupConfluence(); err != nil {
			return nil, err
		}
	}
	if cfg.Features.Jira {
		if err := app.setupJira(); err != nil {
			return nil, err
		}
	}
	if cfg.Features.PagerDuty {
		app.setupPagerDuty()
	}

	policy, err := slackconnector.NewRoleReminderPolicy(cfg.RoleReminder.Mode, cfg.RoleReminder.CooldownDays)
	if err != nil {
		return nil, err
	}
	app.SlackConnector = slackconnector.NewConnector(slackRepository, store, cfg, bus, runner, slackconnector.Config{
		ChannelPrefix:        cfg.ChannelPrefix,
		AnnouncementChannels: cfg.AnnouncementChannels(context.Background()),
		RoleReminder:         policy,
	})
	app.SlackConnector.Register()
	return app, nil
}

func (a *App) setupConfluence() error {
	user, password := os.Getenv("CONFLUENCE_USERNAME"), os.Getenv("CONFLUENCE_PASSWORD")
	if user == "" || password == "" {
		return fmt.Errorf("CONFLUENCE_USERNAME and CONFLUENCE_PASSWORD are required when confluence is enabled")
	}
	cfg := a.Config.Confluence
	confluenceRepository, err := repository.NewConfluenceRepository(cfg.Domain, user, password, cfg.Space, cfg.AncestorID)
	if err != nil {
		return err
	}

	var ai repository.AIRepositorier
	if a.Config.Features.AI {
		r, err := repository.NewAIRepository()
		if err != nil {
			return err
		}
		if r != nil {
			ai = r
		} else {
			slog.Warn("ai is enabled but no api key is set")
		}
	}

	a.Confluence = confluence.NewConnector(confluenceRepository, ai, a.Store, a.Config, a.Bus, a.Runner, confluence.Config{
		RunbookFolderIDs:    cfg.RunbookFolderIDs,
		PostMortemFolderIDs: cfg.PostMortemFolderIDs,
		MaxStaleDeletes:     cfg.MaxStaleDeletes,
		ChannelURL:          a.channelURL,
	})
	a.Confluence.Register()
	return nil
}

func (a *App) setupJira() error {
	jiraRepository, err := repository.NewJiraRepository(a.Config.Jira.URL, os.Getenv("JIRA_USERNAME"), os.Getenv("JIRA_API_TOKEN"))
	if err != nil {
		return err
	}
	cfg := a.Config.Jira
	a.Jira = jira.NewConnector(jiraRepository, a.Store, a.Bus, a.Runner, jira.Config{
		ProjectKey:           cfg.ProjectKey,
		IssueType:            cfg.IssueType,
		PostMortemProjectKey: cfg.PostMortemProjectKey,
		PostMortemIssueType:  cfg.PostMortemIssueType,
		TimelineField:        cfg.TimelineField,
		CloseStatus:          cfg.CloseStatus,
		Graph:                a.Config.JiraGraph(),
	})
	a.Jira.Register()
	return nil
}

func (a *App) setupPagerDuty() {
	cfg := a.Config.PagerDuty
	a.PagerDuty = pagerduty.NewConnector(repository.NewPagerDutyRepository(os.Getenv("PAGERDUTY_API_TOKEN")), a.Slack, a.Store, a.Bus, pagerduty.Config{
		ServiceID:       cfg.ServiceID,
		From:            cfg.From,
		MaxStaleDeletes: cfg.MaxStaleDeletes,
	})
	a.PagerDuty.Register()
}

func (a *App) channelURL(ctx context.Context, incidentID int) string {
	channel, err := a.Store.FindIncidentChannel(ctx, incidentID)
	if err != nil || channel == nil || a.workSpaceURL == "" {
		return ""
	}
	return fmt.Sprintf("%sarchives/%s", a.workSpaceURL, channel.ChannelID)
}

// Scheduler は定期実行するタスクを登録したスケジューラを返す
func (a *App) Scheduler(ctx context.Context) (*task.Scheduler, error) {
	s := task.NewScheduler(ctx, a.Runner)
	if err := s.Add("postmortem_reminder", a.Config.Schedule.PostMortemReminder, a.RemindPostMortems); err != nil {
		return nil, err
	}
	if a.Confluence != nil {
		if err := s.Add("confluence_sync", a.Config.Schedule.ConfluenceSync, func(ctx context.Context) error {
			_, err := a.Confluence.Sync(ctx)
			return err
		}); err != nil {
			return nil, err
		}
	}
	if a.PagerDuty != nil {
		if err := s.Add("pagerduty_sync", a.Config.Schedule.PagerDutySync, func(ctx context.Context) error {
			_, err := a.PagerDuty.Sync(ctx)
			return err
		}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (a *App) RemindPostMortems(ctx context.Context) error {
	incidents, err := a.Engine.TriggerPostmortemReminderScan(ctx, timeNow())
	if err != nil {
		return err
	}
	slog.Info("postmortem reminders sent", slog.Int("count", len(incidents)))
	return nil
}
