package handler_test

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/slacktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyama86/firefighter/domain/entity"
	"github.com/pyama86/firefighter/domain/repository"
	"github.com/pyama86/firefighter/handler"
)

// ------------------------
// Mock repositories
// ------------------------
type postedMessage struct {
	channel string
	ts      string
}

type mockSlackRepo struct {
	mu       sync.Mutex
	posts    []postedMessage
	views    []slack.ModalViewRequest
	deleted  []string
	channels map[string]*slack.Channel
	seq      int
}

func newMockSlackRepo() *mockSlackRepo {
	return &mockSlackRepo{channels: map[string]*slack.Channel{}}
}

func (m *mockSlackRepo) GetUserByID(id string) (*slack.User, error) {
	u := &slack.User{ID: id, Name: "user-" + id}
	u.Profile.Email = id + "@example.com"
	return u, nil
}

func (m *mockSlackRepo) GetUserByEmail(email string) (*slack.User, error) {
	return nil, repository.ErrSlackNotFound
}

func (m *mockSlackRepo) GetMemberIDs(name string) ([]string, error) {
	return nil, repository.ErrSlackNotFound
}

func (m *mockSlackRepo) GetChannelByName(name string) (*slack.Channel, error) {
	if ch, ok := m.channels[name]; ok {
		return ch, nil
	}
	return nil, repository.ErrSlackNotFound
}

func (m *mockSlackRepo) PostMessage(channelID string, options ...slack.MsgOption) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	ts := fmt.Sprintf("1700000000.%06d", m.seq)
	m.posts = append(m.posts, postedMessage{channel: channelID, ts: ts})
	return channelID, ts, nil
}

func (m *mockSlackRepo) UpdateMessage(channelID, timestamp string, options ...slack.MsgOption) error {
	return nil
}

func (m *mockSlackRepo) DeleteMessage(channelID, timestamp string) {
	m.deleted = append(m.deleted, timestamp)
}

func (m *mockSlackRepo) OpenView(triggerID string, view slack.ModalViewRequest) error {
	m.views = append(m.views, view)
	return nil
}

func (m *mockSlackRepo) CreateConversation(params slack.CreateConversationParams) (*slack.Channel, error) {
	ch := &slack.Channel{}
	ch.ID = fmt.Sprintf("CINC%d", len(m.channels)+1)
	ch.Name = params.ChannelName
	m.channels[params.ChannelName] = ch
	return ch, nil
}

func (m *mockSlackRepo) SetTopicOfConversation(channelID, topic string) error {
	return nil
}

func (m *mockSlackRepo) InviteUsersToConversation(channelID string, users ...string) error {
	return nil
}

func (m *mockSlackRepo) GetUserPreferredName(user *slack.User) string {
	return user.Name
}

func (m *mockSlackRepo) FlushChannelCache() {}

func (m *mockSlackRepo) postsTo(channel string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, p := range m.posts {
		if p.channel == channel {
			n++
		}
	}
	return n
}

func testConfig() *repository.Config {
	return &repository.Config{
		ChannelPrefix: "inc-",
		PriorityList: []entity.Priority{
			{Value: 1, Name: "P1", NeedsPostMortem: true, EnabledCreate: true, EnabledUpdate: true},
			{Value: 3, Name: "P3", EnabledCreate: true, EnabledUpdate: true, Default: true},
		},
		EnvironmentList: []entity.Environment{
			{Value: "PRD", Name: "Production", Production: true, Default: true},
		},
		CategoryList: []entity.IncidentCategory{
			{ID: 1, Name: "API"},
		},
		RoleTypeList: []entity.IncidentRoleType{
			{Slug: "commander", Name: "Commander", Required: true, Order: 1},
			{Slug: "communication", Name: "Communication", Order: 2},
		},
		RoleReminder:           repository.RoleReminderConfig{Mode: "always"},
		PostMortemReminderDays: 5,
	}
}

func newApp(t *testing.T) (*handler.App, *mockSlackRepo, *repository.MemoryRepository) {
	t.Helper()
	slackRepo := newMockSlackRepo()
	store := repository.NewMemoryRepository()
	app, err := handler.NewApp(testConfig(), store, slackRepo, "https://example.slack.com/")
	require.NoError(t, err)
	return app, slackRepo, store
}

func TestNewStore(t *testing.T) {
	store, err := handler.NewStore("memory")
	require.NoError(t, err)
	assert.IsType(t, &repository.MemoryRepository{}, store)

	_, err = handler.NewStore("sqlite")
	assert.Error(t, err)
}

func TestNewAppRejectsUnknownReminderMode(t *testing.T) {
	cfg := testConfig()
	cfg.RoleReminder.Mode = "sometimes"
	_, err := handler.NewApp(cfg, repository.NewMemoryRepository(), newMockSlackRepo(), "")
	assert.Error(t, err)
}

func TestScheduler(t *testing.T) {
	app, _, _ := newApp(t)
	app.Config.Schedule.PostMortemReminder = "0 10 * * 1-5"
	s, err := app.Scheduler(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, s.Entries(), "sync tasks are not scheduled when disabled")

	app.Config.Schedule.PostMortemReminder = "every day"
	_, err = app.Scheduler(context.Background())
	assert.Error(t, err)
}

// -----------------------------------
// event.go : EventHandler
// -----------------------------------
func TestEventHandler_Handle(t *testing.T) {
	var (
		mu      sync.Mutex
		postMsg []map[string]string
	)
	srv := slacktest.NewTestServer(func(c slacktest.Customize) {
		c.Handle("/auth.test", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"ok":true,"user_id":"UBOT"}`))
		}))
		c.Handle("/chat.postMessage", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = r.ParseForm()
			mu.Lock()
			postMsg = append(postMsg, map[string]string{
				"channel":   r.FormValue("channel"),
				"blocks":    r.FormValue("blocks"),
				"thread_ts": r.FormValue("thread_ts"),
			})
			mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"ok":true}`))
		}))
	})
	go srv.Start()
	defer srv.Stop()

	api := slack.New("dummy", slack.OptionAPIURL(srv.GetAPIURL()))
	app, _, store := newApp(t)
	require.NoError(t, store.SaveIncidentChannel(context.Background(), &entity.IncidentChannel{IncidentID: 1, ChannelID: "CINC"}))
	evHandler := handler.NewEventHandler(context.Background(), api, app)

	tests := []struct {
		name       string
		event      interface{}
		wantAction string
		wantThread string
	}{
		{
			name:       "AppMention no inc => Opening",
			event:      &slackevents.AppMentionEvent{Channel: "CNEW"},
			wantAction: "declare_action",
		},
		{
			name:       "AppMention with inc => IncidentMenu",
			event:      &slackevents.AppMentionEvent{Channel: "CINC"},
			wantAction: "in_channel_options",
		},
		{
			name:       "AppMention in thread replies in thread",
			event:      &slackevents.AppMentionEvent{Channel: "CINC", ThreadTimeStamp: "123.456"},
			wantAction: "in_channel_options",
			wantThread: "123.456",
		},
		{
			name:  "other events are ignored",
			event: &slackevents.ChannelArchiveEvent{Channel: "CINC"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mu.Lock()
			postMsg = nil
			mu.Unlock()

			err := evHandler.Handle(&slackevents.EventsAPIInnerEvent{Data: tt.event})
			require.NoError(t, err)

			mu.Lock()
			defer mu.Unlock()
			if tt.wantAction == "" {
				assert.Empty(t, postMsg)
				return
			}
			require.Len(t, postMsg, 1)
			assert.Contains(t, postMsg[0]["blocks"], tt.wantAction)
			assert.Equal(t, tt.wantThread, postMsg[0]["thread_ts"])
		})
	}
}
