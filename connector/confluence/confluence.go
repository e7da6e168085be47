package confluence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pyama86/firefighter/domain/entity"
	"github.com/pyama86/firefighter/domain/event"
	"github.com/pyama86/firefighter/domain/reconcile"
	"github.com/pyama86/firefighter/domain/repository"
	"github.com/pyama86/firefighter/presentation/postmortem"
	"github.com/pyama86/firefighter/task"
)

// Store はConfluenceコネクタが使う永続化層
type Store interface {
	repository.PostMortemRepository
	repository.ConfluencePageRepository
	repository.RoleRepository
	IncidentUpdates(context.Context, int) ([]entity.IncidentUpdate, error)
}

type Config struct {
	RunbookFolderIDs    []string
	PostMortemFolderIDs []string
	MaxStaleDeletes     int
	// ChannelURL はインシデントIDからSlackチャンネルのURLを返す。nilなら載せない
	ChannelURL func(ctx context.Context, incidentID int) string
}

type Connector struct {
	confluence repository.ConfluenceRepositoryer
	ai         repository.AIRepositorier
	store      Store
	setting    repository.SettingRepository
	bus        *event.Bus
	runner     *task.Runner
	config     Config
	now        func() time.Time
}

// NewConnector のaiはnilでよい。その場合は下書きなしでページを作る
func NewConnector(confluenceRepository repository.ConfluenceRepositoryer, ai repository.AIRepositorier, store Store, setting repository.SettingRepository, bus *event.Bus, runner *task.Runner, cfg Config) *Connector {
	return &Connector{
		confluence: confluenceRepository,
		ai:         ai,
		store:      store,
		setting:    setting,
		bus:        bus,
		runner:     runner,
		config:     cfg,
		now:        time.Now,
	}
}

func (c *Connector) Register() {
	event.Subscribe(c.bus, "confluence.create_postmortem", task.Wrap(c.runner, "confluence.create_postmortem", c.CreatePostMortem))
}

func (c *Connector) CreatePostMortem(ctx context.Context, ev event.PostMortemCreated) error {
	// Jira側のポストモーテムの有無は見ず、ページの有無だけで判断する
	existing, err := c.store.FindPostMortem(ctx, ev.Incident.ID)
	if err != nil {
		return fmt.Errorf("failed to find postmortem: %w", err)
	}
	if existing != nil {
		return nil
	}

	input, err := c.input(ctx, ev)
	if err != nil {
		return err
	}
	title := postmortem.Title(ev.Incident, c.now())
	pm, err := c.confluence.ExportPostMortem(ctx, title, postmortem.ToStorage(postmortem.Render(*input)))
	if err != nil {
		return err
	}
	pm.IncidentID = ev.Incident.ID
	if pm.Title == "" {
		pm.Title = title
	}

	err = c.store.SavePostMortem(ctx, pm)
	if errors.Is(err, repository.ErrConflict) {
		slog.Warn("postmortem already saved", slog.Int("incident", ev.Incident.ID), slog.String("page", pm.PageID))
		return nil
	}
	return err
}

func (c *Connector) input(ctx context.Context, ev event.PostMortemCreated) (*postmortem.Input, error) {
	roles, err := c.store.IncidentRoles(ctx, ev.Incident.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get incident roles: %w", err)
	}
	timeline, err := c.store.IncidentUpdates(ctx, ev.Incident.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get incident updates: %w", err)
	}

	in := &postmortem.Input{
		Incident: ev.Incident,
		Priority: ev.Priority,
		Roles:    roles,
		Timeline: timeline,
		Summary:  ev.Incident.Description,
	}
	if env, err := c.setting.EnvironmentByValue(ctx, ev.Incident.Environment); err == nil {
		in.Environment = env
	}
	if c.config.ChannelURL != nil {
		in.ChannelURL = c.config.ChannelURL(ctx, ev.Incident.ID)
	}

	if c.ai != nil {
		lines := make([]string, 0, len(timeline))
		for _, u := range timeline {
			lines = append(lines, postmortem.TimelineLine(u))
		}
		draft, err := c.ai.DraftPostMortem(ctx, ev.Incident.Description, strings.Join(lines, "\n"))
		if err != nil {
			slog.Warn("failed to draft postmortem", slog.Int("incident", ev.Incident.ID), slog.Any("err", err))
		} else if draft != nil {
			if draft.Summary != "" {
				in.Summary = draft.Summary
			}
			in.Impact = draft.Impact
			in.RootCause = draft.RootCause
			in.ActionItems = draft.ActionItems
		}
	}
	return in, nil
}

// Sync はランブックとポストモーテムのページ一覧を取り込み、消えたページを削除する
func (c *Connector) Sync(ctx context.Context) (reconcile.Result, error) {
	var remote []entity.ConfluencePage
	for _, src := range []struct {
		kind    entity.ConfluencePageKind
		folders []string
	}{
		{entity.ConfluencePageRunbook, c.config.RunbookFolderIDs},
		{entity.ConfluencePagePostMortem, c.config.PostMortemFolderIDs},
	} {
		if len(src.folders) == 0 {
			continue
		}
		pages, err := c.confluence.ListPages(ctx, src.folders)
		if err != nil {
			return reconcile.Result{}, fmt.Errorf("failed to list %s pages: %w", src.kind, err)
		}
		for _, p := range pages {
			p.Kind = src.kind
			if parsed, ok := postmortem.ParseTitle(p.Title); ok {
				date := parsed.Date
				p.Date = &date
				p.IncidentID = parsed.IncidentID
				p.Priority = parsed.Priority
			} else if src.kind == entity.ConfluencePagePostMortem {
				slog.Debug("skip postmortem page with unexpected title", slog.String("title", p.Title))
				continue
			}
			remote = append(remote, p)
		}
	}

	now := c.now()
	remoteIDs := make([]string, 0, len(remote))
	for i := range remote {
		remote[i].SyncedAt = now
		if err := c.store.SaveConfluencePage(ctx, &remote[i]); err != nil {
			return reconcile.Result{}, fmt.Errorf("failed to save confluence page %s: %w", remote[i].PageID, err)
		}
		remoteIDs = append(remoteIDs, remote[i].PageID)
	}

	local, err := c.store.ConfluencePages(ctx)
	if err != nil {
		return reconcile.Result{}, fmt.Errorf("failed to get confluence pages: %w", err)
	}
	localIDs := make([]string, 0, len(local))
	for _, p := range local {
		localIDs = append(localIDs, p.PageID)
	}

	result := reconcile.Plan("confluence", localIDs, remoteIDs, c.config.MaxStaleDeletes)
	if result.DeleteAllowed && len(result.Stale) > 0 {
		if err := c.store.DeleteConfluencePages(ctx, result.Stale...); err != nil {
			return result, fmt.Errorf("failed to delete stale pages: %w", err)
		}
	}
	slog.Info("confluence synced", slog.Int("pages", len(remote)), slog.Int("stale", len(result.Stale)), slog.Bool("deleted", result.DeleteAllowed))
	return result, nil
}
