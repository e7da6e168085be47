package repository

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slacktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInviteUsersToConversation(t *testing.T) {
	var (
		mu    sync.Mutex
		calls []string
	)
	members := map[string]bool{"UIN": true}
	srv := slacktest.NewTestServer(func(c slacktest.Customize) {
		c.Handle("/conversations.invite", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = r.ParseForm()
			users := r.FormValue("users")
			mu.Lock()
			calls = append(calls, users)
			mu.Unlock()

			w.Header().Set("Content-Type", "application/json")
			if r.FormValue("channel") == "CGONE" {
				_, _ = w.Write([]byte(`{"ok":false,"error":"channel_not_found"}`))
				return
			}
			for _, u := range strings.Split(users, ",") {
				if members[u] {
					_, _ = w.Write([]byte(`{"ok":false,"error":"already_in_channel"}`))
					return
				}
			}
			_, _ = w.Write([]byte(`{"ok":true,"channel":{"id":"C001"}}`))
		}))
	})
	go srv.Start()
	defer srv.Stop()

	repo := NewSlackRepository(slack.New("dummy", slack.OptionAPIURL(srv.GetAPIURL())))
	repo.retryDelay = time.Millisecond

	reset := func() {
		mu.Lock()
		defer mu.Unlock()
		calls = nil
	}

	t.Run("new members", func(t *testing.T) {
		reset()
		require.NoError(t, repo.InviteUsersToConversation("C001", "U1", "U2"))
		assert.Equal(t, []string{"U1,U2"}, calls)
	})

	t.Run("already joined member is not an error", func(t *testing.T) {
		reset()
		require.NoError(t, repo.InviteUsersToConversation("C001", "UIN"))
		assert.Len(t, calls, 1, "not retried")
	})

	t.Run("mixed members are invited one by one", func(t *testing.T) {
		reset()
		require.NoError(t, repo.InviteUsersToConversation("C001", "U1", "UIN"))
		assert.Equal(t, []string{"U1,UIN", "U1", "UIN"}, calls)
	})

	t.Run("permanent error is not retried", func(t *testing.T) {
		reset()
		assert.Error(t, repo.InviteUsersToConversation("CGONE", "U1"))
		assert.Len(t, calls, 1)
	})
}

func TestRetryable(t *testing.T) {
	assert.True(t, retryable(&slack.RateLimitedError{RetryAfter: time.Second}))
	assert.True(t, retryable(slack.SlackErrorResponse{Err: "internal_error"}))
	assert.False(t, retryable(slack.SlackErrorResponse{Err: "name_taken"}))
	assert.True(t, retryable(assert.AnError))
	assert.False(t, retryable(errors.New("already_in_channel")))
}
