package pagerduty

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
)

// phoneRanking はcontact methodのsummaryの優先順
var phoneRanking = []string{"work", "mobile", "sms", "phone", "home"}

type Config struct {
	ServiceID       string
	From            string
	MaxStaleDeletes int
}

type Connector struct {
	pagerduty repository.PagerDutyRepositoryer
	slack     repository.SlackRepositoryer
	store     repository.OncallRepository
	bus       *event.Bus
	config    Config
	now       func() time.Time
}

func NewConnector(pagerDutyRepository repository.PagerDutyRepositoryer, slackRepository repository.SlackRepositoryer, store repository.OncallRepository, bus *event.Bus, cfg Config) *Connector {
	return &Connector{
		pagerduty: pagerDutyRepository,
		slack:     slackRepository,
		store:     store,
		bus:       bus,
		config:    cfg,
		now:       time.Now,
	}
}

func (c *Connector) Register() {
	c.bus.OnGetInvites("pagerduty", c.Invites)
}

// OncallID はエスカレーションポリシー、レベル、ユーザーの組でオンコール行を識別する
func OncallID(r repository.PagerDutyOncallRecord) string {
	return fmt.Sprintf("%s:%d:%s", r.EscalationPolicyID, r.EscalationLevel, r.UserID)
}

// PreferredPhone は電話とSMSの連絡先からsummaryの優先順で番号を選ぶ
func PreferredPhone(methods []repository.PagerDutyContactMethod) string {
	best, bestRank := "", len(phoneRanking)
	for _, m := range methods {
		if !strings.HasPrefix(m.Type, "phone_contact_method") && !strings.HasPrefix(m.Type, "sms_contact_method") {
			continue
		}
		rank := len(phoneRanking)
		for i, label := range phoneRanking {
			if strings.EqualFold(strings.TrimSpace(m.Summary), label) {
				rank = i
				break
			}
		}
		if best != "" && rank >= bestRank {
			continue
		}
		best, bestRank = formatPhone(m), rank
	}
	return best
}

func formatPhone(m repository.PagerDutyContactMethod) string {
	if m.Country == 0 {
		return m.Address
	}
	return fmt.Sprintf("+%d %s", m.Country, m.Address)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Sync は現在のオンコールを取り込み、いなくなった行を同じ書き込みで削除する
func (c *Connector) Sync(ctx context.Context) (reconcile.Result, error) {
	records, err := c.pagerduty.ListOncalls(ctx)
	if err != nil {
		return reconcile.Result{}, err
	}

	now := c.now()
	phones := map[string]string{}
	seen := map[string]bool{}
	var upserts []entity.PagerDutyOncall
	var remote []string
	for _, r := range records {
		id := OncallID(r)
		if seen[id] {
			continue
		}
		seen[id] = true

		phone, ok := phones[r.UserID]
		if !ok {
			methods, err := c.pagerduty.ContactMethods(ctx, r.UserID)
			if err != nil {
				slog.Warn("failed to get contact methods", slog.String("user", r.UserID), slog.Any("err", err))
			}
			phone = PreferredPhone(methods)
			phones[r.UserID] = phone
		}

		upserts = append(upserts, entity.PagerDutyOncall{
			ID:                 id,
			UserID:             r.UserID,
			UserName:           r.UserName,
			Email:              r.Email,
			Phone:              phone,
			EscalationPolicyID: r.EscalationPolicyID,
			EscalationLevel:    r.EscalationLevel,
			Start:              parseTime(r.Start),
			End:                parseTime(r.End),
			SyncedAt:           now,
		})
		remote = append(remote, id)
	}

	local, err := c.store.Oncalls(ctx)
	if err != nil {
		return reconcile.Result{}, fmt.Errorf("failed to get oncalls: %w", err)
	}
	localIDs := make([]string, 0, len(local))
	for _, o := range local {
		localIDs = append(localIDs, o.ID)
	}

	result := reconcile.Plan("pagerduty", localIDs, remote, c.config.MaxStaleDeletes)
	var deletes []string
	if result.DeleteAllowed {
		deletes = result.Stale
	}
	if err := c.store.ReplaceOncalls(ctx, upserts, deletes); err != nil {
		return result, fmt.Errorf("failed to replace oncalls: %w", err)
	}
	slog.Info("pagerduty synced", slog.Int("oncalls", len(upserts)), slog.Int("stale", len(result.Stale)), slog.Bool("deleted", result.DeleteAllowed))
	return result, nil
}

// TriggerOncall はインシデントごとに一度だけPagerDutyのインシデントを作成する
// 作成済みならそれを返す
func (c *Connector) TriggerOncall(ctx context.Context, incident *entity.Incident, serviceID string, actor *entity.User) (*entity.PagerDutyIncident, error) {
	if actor == nil {
		return nil, fmt.Errorf("actor is required")
	}
	if serviceID == "" {
		serviceID = c.config.ServiceID
	}
	if serviceID == "" {
		return nil, fmt.Errorf("pagerduty service is not configured")
	}

	existing, err := c.store.FindPagerDutyIncident(ctx, incident.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to find pagerduty incident: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	from := c.config.From
	if from == "" {
		from = actor.Email
	}
	id, url, err := c.pagerduty.CreateIncident(ctx, from, serviceID,
		fmt.Sprintf("[#%d] %s", incident.ID, incident.Title),
		incident.Description,
		fmt.Sprintf("firefighter-%d", incident.ID),
	)
	if err != nil {
		return nil, err
	}

	pd := &entity.PagerDutyIncident{
		IncidentID:  incident.ID,
		PagerDutyID: id,
		ServiceID:   serviceID,
		URL:         url,
		CreatedBy:   *actor,
		CreatedAt:   c.now(),
	}
	if err := c.store.SavePagerDutyIncident(ctx, pd); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return c.store.FindPagerDutyIncident(ctx, incident.ID)
		}
		return nil, fmt.Errorf("failed to save pagerduty incident: %w", err)
	}
	return pd, nil
}

// Invites は現在オンコール中の一次対応者のうちSlackで見つかるユーザーを返す
func (c *Connector) Invites(ctx context.Context, _ event.GetInvites) ([]entity.User, error) {
	oncalls, err := c.store.Oncalls(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get oncalls: %w", err)
	}

	now := c.now()
	var users []entity.User
	for _, o := range oncalls {
		if o.EscalationLevel > 1 || o.Email == "" {
			continue
		}
		if !o.End.IsZero() && o.End.Before(now) {
			continue
		}
		u, err := c.slack.GetUserByEmail(o.Email)
		if err != nil {
			slog.Debug("oncall user not found in slack", slog.String("email", o.Email))
			continue
		}
		users = append(users, entity.User{ID: u.ID, Name: u.Name, Email: o.Email})
	}
	return users, nil
}
