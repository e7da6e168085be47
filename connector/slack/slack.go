package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/pyama86/firefighter/domain/entity"
	"github.com/pyama86/firefighter/domain/event"
	"github.com/pyama86/firefighter/domain/repository"
	"github.com/pyama86/firefighter/presentation/blocks"
	"github.com/pyama86/firefighter/task"
	"github.com/slack-go/slack"
)

// replace戦略で使うメッセージ種別
const (
	MessageDeclaration        = "declaration"
	MessagePostMortemReminder = "postmortem_reminder"
	MessageIncidentClosed     = "incident_closed"
	MessagePostMortem         = "postmortem_created"
	MessageRolesUpdated       = "roles_updated"
	MessageRoleReminder       = "role_reminder"
)

const maxChannelName = 80

// Store はSlackコネクタが使う永続化層
type Store interface {
	repository.ChannelRepository
	repository.RoleRepository
	repository.PostMortemRepository
}

type Connector struct {
	slack                repository.SlackRepositoryer
	store                Store
	setting              repository.SettingRepository
	bus                  *event.Bus
	runner               *task.Runner
	prefix               string
	announcementChannels []string
	policy               RoleReminderPolicy
	now                  func() time.Time
}

type Config struct {
	ChannelPrefix        string
	AnnouncementChannels []string
	RoleReminder         RoleReminderPolicy
}

func NewConnector(slackRepository repository.SlackRepositoryer, store Store, setting repository.SettingRepository, bus *event.Bus, runner *task.Runner, cfg Config) *Connector {
	return &Connector{
		slack:                slackRepository,
		store:                store,
		setting:              setting,
		bus:                  bus,
		runner:               runner,
		prefix:               cfg.ChannelPrefix,
		announcementChannels: cfg.AnnouncementChannels,
		policy:               cfg.RoleReminder,
		now:                  time.Now,
	}
}

// Register はバスにハンドラを登録する
func (c *Connector) Register() {
	event.Subscribe(c.bus, "slack.create_conversation", task.Wrap(c.runner, "slack.create_conversation", c.CreateConversation))
	event.Subscribe(c.bus, "slack.announce_created", task.Wrap(c.runner, "slack.announce_created", c.AnnounceCreated))
	event.Subscribe(c.bus, "slack.status_updated", task.Wrap(c.runner, "slack.status_updated", c.IncidentUpdated),
		event.SenderIs(event.SenderUpdateStatus, event.SenderUpdatePriority))
	event.Subscribe(c.bus, "slack.roles_updated", task.Wrap(c.runner, "slack.roles_updated", c.RolesUpdated),
		event.SenderIs(event.SenderUpdateRoles))
	event.Subscribe(c.bus, "slack.downgraded", task.Wrap(c.runner, "slack.downgraded", c.Downgraded),
		event.SenderIs(event.SenderDowngrade))
	event.Subscribe(c.bus, "slack.incident_closed", task.Wrap(c.runner, "slack.incident_closed", c.IncidentClosed))
	event.Subscribe(c.bus, "slack.postmortem_created", task.Wrap(c.runner, "slack.postmortem_created", c.PostMortemCreated))
	event.Subscribe(c.bus, "slack.postmortem_reminder", task.Wrap(c.runner, "slack.postmortem_reminder", c.PostMortemReminder))
	c.bus.OnGetInvites("slack", c.Invites)
}

var nonSlug = regexp.MustCompile(`[^a-z0-9_]+`)

// ChannelName は<prefix><id>-<タイトルのslug>を返す
// タイトルに英数字が含まれなければ<prefix><id>になる
func ChannelName(prefix string, incident *entity.Incident) string {
	name := fmt.Sprintf("%s%d", prefix, incident.ID)
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(incident.Title), "-"), "-")
	if slug != "" {
		name += "-" + slug
	}
	if len(name) > maxChannelName {
		name = strings.TrimRight(name[:maxChannelName], "-")
	}
	return name
}

func (c *Connector) details(ctx context.Context, incident *entity.Incident) (*entity.Priority, *entity.Environment, *entity.IncidentCategory) {
	priority, err := c.setting.PriorityByValue(ctx, incident.Priority)
	if err != nil {
		slog.Warn("priority not found", slog.Int("priority", incident.Priority))
		priority = nil
	}
	env, err := c.setting.EnvironmentByValue(ctx, incident.Environment)
	if err != nil {
		env = nil
	}
	category, err := c.setting.CategoryByID(ctx, incident.CategoryID)
	if err != nil {
		category = nil
	}
	return priority, env, category
}

func topic(incident *entity.Incident, priority *entity.Priority) string {
	label := fmt.Sprintf("P%d", incident.Priority)
	if priority != nil {
		label = priority.Label()
	}
	return fmt.Sprintf("【%s】%s %s", blocks.StatusLabel(incident.Status), label, incident.Title)
}

// CreateConversation はインシデントチャンネルを作成し、関係者を招待する
// 作成済みの場合は既存のチャンネルを使う
func (c *Connector) CreateConversation(ctx context.Context, ev event.CreateIncidentConversation) error {
	incident := ev.Incident
	channel, err := c.store.FindIncidentChannel(ctx, incident.ID)
	if err != nil {
		return fmt.Errorf("failed to find incident channel: %w", err)
	}

	if channel == nil {
		name := ChannelName(c.prefix, incident)
		created, err := c.slack.CreateConversation(slack.CreateConversationParams{
			ChannelName: name,
			IsPrivate:   incident.Private,
		})
		if err != nil {
			return fmt.Errorf("failed to create channel %s: %w", name, err)
		}
		channel = &entity.IncidentChannel{
			IncidentID: incident.ID,
			ChannelID:  created.ID,
			Name:       name,
			CreatedAt:  c.now(),
		}
		if err := c.store.SaveIncidentChannel(ctx, channel); err != nil {
			if !errors.Is(err, repository.ErrConflict) {
				return fmt.Errorf("failed to save incident channel: %w", err)
			}
			// 並行して作成された
			if channel, err = c.store.FindIncidentChannel(ctx, incident.ID); err != nil || channel == nil {
				return fmt.Errorf("failed to reload incident channel: %w", err)
			}
		}
		c.slack.FlushChannelCache()
	}

	priority, env, category := c.details(ctx, incident)
	if err := c.slack.SetTopicOfConversation(channel.ChannelID, topic(incident, priority)); err != nil {
		slog.Warn("failed to set topic", slog.String("channel", channel.ChannelID), slog.Any("err", err))
	}

	invites := c.bus.CollectInvites(ctx, event.GetInvites{Incident: incident})
	if len(invites) > 0 {
		ids := make([]string, 0, len(invites))
		for _, u := range invites {
			ids = append(ids, u.ID)
		}
		if err := c.slack.InviteUsersToConversation(channel.ChannelID, ids...); err != nil {
			return fmt.Errorf("failed to invite users: %w", err)
		}
	}

	existing, err := c.store.FindSlackMessage(ctx, incident.ID, MessageDeclaration)
	if err != nil {
		return fmt.Errorf("failed to find declaration message: %w", err)
	}
	if existing == nil {
		_, ts, err := c.slack.PostMessage(channel.ChannelID, slack.MsgOptionBlocks(blocks.IncidentDeclared(incident, priority, env, category)...))
		if err != nil {
			return fmt.Errorf("failed to post declaration: %w", err)
		}
		if err := c.store.SaveSlackMessage(ctx, &entity.SlackMessage{
			IncidentID:  incident.ID,
			MessageType: MessageDeclaration,
			ChannelID:   channel.ChannelID,
			TS:          ts,
			UpdatedAt:   c.now(),
		}); err != nil {
			return fmt.Errorf("failed to save declaration message: %w", err)
		}
	}

	c.bus.Publish(ctx, event.IncidentChannelDone{Incident: incident, Channel: channel})
	return nil
}

func (c *Connector) announce(ctx context.Context, incident *entity.Incident, category *entity.IncidentCategory, opts ...slack.MsgOption) {
	if incident.Private {
		return
	}
	targets := append([]string(nil), c.announcementChannels...)
	if category != nil {
		targets = append(targets, category.AnnouncementChannels...)
	}
	seen := map[string]bool{}
	for _, name := range targets {
		if seen[name] {
			continue
		}
		seen[name] = true
		ch, err := c.slack.GetChannelByName(name)
		if err != nil || ch == nil {
			slog.Warn("announcement channel not found", slog.String("channel", name), slog.Any("err", err))
			continue
		}
		if _, _, err := c.slack.PostMessage(ch.ID, opts...); err != nil {
			slog.Error("failed to announce", slog.String("channel", name), slog.Any("err", err))
		}
	}
}

func (c *Connector) incidentChannel(ctx context.Context, incidentID int) (*entity.IncidentChannel, error) {
	channel, err := c.store.FindIncidentChannel(ctx, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to find incident channel: %w", err)
	}
	if channel == nil {
		slog.Warn("incident channel not found", slog.Int("incident", incidentID))
	}
	return channel, nil
}

func (c *Connector) AnnounceCreated(ctx context.Context, ev event.IncidentCreated) error {
	channel, err := c.incidentChannel(ctx, ev.Incident.ID)
	if err != nil || channel == nil {
		return err
	}
	priority, env, category := c.details(ctx, ev.Incident)
	c.announce(ctx, ev.Incident, category, slack.MsgOptionBlocks(blocks.IncidentCreated(ev.Incident, priority, env, category, channel.ChannelID)...))
	return nil
}

func (c *Connector) IncidentUpdated(ctx context.Context, ev event.IncidentUpdated) error {
	channel, err := c.incidentChannel(ctx, ev.Incident.ID)
	if err != nil || channel == nil {
		return err
	}
	priority, env, category := c.details(ctx, ev.Incident)

	var body []slack.Block
	switch ev.Sender {
	case event.SenderUpdatePriority:
		body = blocks.PriorityUpdated(ev.Incident, ev.Update, ev.OldPriority, priority)
	default:
		body = blocks.StatusUpdated(ev.Incident, ev.Update, ev.OldStatus)
	}
	if _, _, err := c.slack.PostMessage(channel.ChannelID, slack.MsgOptionBlocks(body...)); err != nil {
		return fmt.Errorf("failed to post update: %w", err)
	}
	if err := c.slack.SetTopicOfConversation(channel.ChannelID, topic(ev.Incident, priority)); err != nil {
		slog.Warn("failed to set topic", slog.String("channel", channel.ChannelID), slog.Any("err", err))
	}
	c.announce(ctx, ev.Incident, category, slack.MsgOptionBlocks(blocks.StatusAnnouncement(ev.Incident, priority, env, category, channel.ChannelID)...))
	return nil
}

// RolesUpdated は新しく割り当てられたユーザーにポリシーに従ってDMを送る
// 送信済みのメッセージはSlackMessageに記録し、リトライ時に再送しない
func (c *Connector) RolesUpdated(ctx context.Context, ev event.IncidentUpdated) error {
	channel, err := c.incidentChannel(ctx, ev.Incident.ID)
	if err != nil || channel == nil {
		return err
	}
	updateID := ""
	if ev.Update != nil {
		updateID = ev.Update.ID
		if err := c.postOnce(ctx, ev.Incident.ID, MessageRolesUpdated+":"+updateID, channel.ChannelID,
			slack.MsgOptionBlocks(blocks.RolesUpdated(ev.Update)...)); err != nil {
			slog.Warn("failed to post role update", slog.Any("err", err))
		}
	}

	var (
		invite []string
		errs   []error
	)
	for _, rt := range c.setting.RoleTypes(ctx) {
		user, ok := ev.AssignedRoles[rt.Slug]
		if !ok || user == nil || !ev.HasField(rt.FieldName()) {
			continue
		}
		invite = append(invite, user.ID)
		remind, err := c.policy.ShouldRemind(ctx, c.store, ev.Incident.ID, rt.Slug, user, c.now())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !remind {
			slog.Info("role reminder skipped", slog.String("user", user.ID), slog.String("role", rt.Slug))
			continue
		}
		messageType := fmt.Sprintf("%s:%s:%s:%s", MessageRoleReminder, rt.Slug, user.ID, updateID)
		if err := c.postOnce(ctx, ev.Incident.ID, messageType, user.ID,
			slack.MsgOptionBlocks(blocks.RoleAssigned(ev.Incident, &rt, channel.ChannelID)...)); err != nil {
			errs = append(errs, fmt.Errorf("failed to send role reminder to %s: %w", user.ID, err))
		}
	}
	if len(invite) > 0 {
		if err := c.slack.InviteUsersToConversation(channel.ChannelID, invite...); err != nil {
			slog.Warn("failed to invite role holders", slog.Any("err", err))
		}
	}
	return errors.Join(errs...)
}

// postOnce はmessageTypeの記録がなければ投稿して記録する
func (c *Connector) postOnce(ctx context.Context, incidentID int, messageType, channelID string, opts ...slack.MsgOption) error {
	prev, err := c.store.FindSlackMessage(ctx, incidentID, messageType)
	if err != nil {
		return fmt.Errorf("failed to find %s message: %w", messageType, err)
	}
	if prev != nil {
		return nil
	}
	posted, ts, err := c.slack.PostMessage(channelID, opts...)
	if err != nil {
		return err
	}
	if posted == "" {
		posted = channelID
	}
	return c.store.SaveSlackMessage(ctx, &entity.SlackMessage{
		IncidentID:  incidentID,
		MessageType: messageType,
		ChannelID:   posted,
		TS:          ts,
		UpdatedAt:   c.now(),
	})
}

func (c *Connector) Downgraded(ctx context.Context, ev event.IncidentUpdated) error {
	channel, err := c.incidentChannel(ctx, ev.Incident.ID)
	if err != nil || channel == nil {
		return err
	}
	actor := ev.Incident.CreatedBy
	if ev.Update != nil {
		actor = ev.Update.CreatedBy
	}
	if _, _, err := c.slack.PostMessage(channel.ChannelID, slack.MsgOptionBlocks(blocks.Downgraded(ev.Incident, actor)...)); err != nil {
		return fmt.Errorf("failed to post downgrade: %w", err)
	}
	return nil
}

func (c *Connector) IncidentClosed(ctx context.Context, ev event.IncidentClosed) error {
	channel, err := c.incidentChannel(ctx, ev.Incident.ID)
	if err != nil || channel == nil {
		return err
	}
	return c.Replace(ctx, ev.Incident.ID, channel.ChannelID, MessageIncidentClosed,
		[]string{MessagePostMortemReminder},
		slack.MsgOptionBlocks(blocks.IncidentClosed(ev.Incident, ev.Update)...))
}

func (c *Connector) PostMortemCreated(ctx context.Context, ev event.PostMortemCreated) error {
	channel, err := c.incidentChannel(ctx, ev.Incident.ID)
	if err != nil || channel == nil {
		return err
	}
	pm, err := c.store.FindPostMortem(ctx, ev.Incident.ID)
	if err != nil {
		return fmt.Errorf("failed to find postmortem: %w", err)
	}
	return c.Replace(ctx, ev.Incident.ID, channel.ChannelID, MessagePostMortem, nil,
		slack.MsgOptionBlocks(blocks.PostMortemRequested(ev.Incident, pm)...))
}

func (c *Connector) PostMortemReminder(ctx context.Context, ev event.PostMortemReminderDue) error {
	channel, err := c.incidentChannel(ctx, ev.Incident.ID)
	if err != nil || channel == nil {
		return err
	}
	return c.Replace(ctx, ev.Incident.ID, channel.ChannelID, MessagePostMortemReminder, nil,
		slack.MsgOptionBlocks(blocks.PostMortemReminder(ev.Incident, ev.Priority, c.now())...))
}

// Replace はmessageTypeかreplacesのいずれかで投稿済みのメッセージがあれば書き換え、
// なければ新規に投稿する。どちらの場合もmessageTypeとして記録し直す
func (c *Connector) Replace(ctx context.Context, incidentID int, channelID, messageType string, replaces []string, opts ...slack.MsgOption) error {
	for _, t := range append([]string{messageType}, replaces...) {
		prev, err := c.store.FindSlackMessage(ctx, incidentID, t)
		if err != nil {
			return fmt.Errorf("failed to find %s message: %w", t, err)
		}
		if prev == nil {
			continue
		}
		if err := c.slack.UpdateMessage(prev.ChannelID, prev.TS, opts...); err != nil {
			return fmt.Errorf("failed to update %s message: %w", t, err)
		}
		if t != messageType {
			if err := c.store.DeleteSlackMessage(ctx, incidentID, t); err != nil {
				return fmt.Errorf("failed to delete %s message: %w", t, err)
			}
		}
		return c.store.SaveSlackMessage(ctx, &entity.SlackMessage{
			IncidentID:  incidentID,
			MessageType: messageType,
			ChannelID:   prev.ChannelID,
			TS:          prev.TS,
			UpdatedAt:   c.now(),
		})
	}

	posted, ts, err := c.slack.PostMessage(channelID, opts...)
	if err != nil {
		return fmt.Errorf("failed to post %s message: %w", messageType, err)
	}
	if posted == "" {
		posted = channelID
	}
	return c.store.SaveSlackMessage(ctx, &entity.SlackMessage{
		IncidentID:  incidentID,
		MessageType: messageType,
		ChannelID:   posted,
		TS:          ts,
		UpdatedAt:   c.now(),
	})
}

// Invites はカテゴリの担当者、ロール保持者、起票者を返す
func (c *Connector) Invites(ctx context.Context, ev event.GetInvites) ([]entity.User, error) {
	users := []entity.User{ev.Incident.CreatedBy}

	category, err := c.setting.CategoryByID(ctx, ev.Incident.CategoryID)
	if err == nil {
		for _, name := range category.Responders {
			ids, err := c.slack.GetMemberIDs(name)
			if err != nil {
				slog.Warn("responder not found", slog.String("name", name), slog.Any("err", err))
				continue
			}
			for _, id := range ids {
				users = append(users, entity.User{ID: id})
			}
		}
	}

	roles, err := c.store.IncidentRoles(ctx, ev.Incident.ID)
	if err != nil {
		return users, fmt.Errorf("failed to get incident roles: %w", err)
	}
	for _, r := range roles {
		if r.User != nil {
			users = append(users, *r.User)
		}
	}
	return users, nil
}
