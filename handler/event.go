package handler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pyama86/firefighter/presentation/blocks"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
)

type EventHandler struct {
	ctx    context.Context
	client *slack.Client
	app    *App
}

func NewEventHandler(ctx context.Context, client *slack.Client, app *App) *EventHandler {
	return &EventHandler{
		ctx:    ctx,
		client: client,
		app:    app,
	}
}

func (h *EventHandler) Handle(event *slackevents.EventsAPIInnerEvent) error {
	switch ev := event.Data.(type) {
	case *slackevents.AppMentionEvent:
		slog.Info("AppMentionEvent", "user", ev.User, "channel", ev.Channel)
		return h.handleMentionEvent(ev)
	}
	return nil
}

// インシデントチャンネルでは操作メニュー、それ以外では宣言ボタンを表示する
func (h *EventHandler) handleMentionEvent(event *slackevents.AppMentionEvent) error {
	channel, err := h.app.Store.FindIncidentChannelByChannelID(h.ctx, event.Channel)
	if err != nil {
		return fmt.Errorf("failed to FindIncidentChannelByChannelID: %w", err)
	}

	menu := blocks.Opening()
	if channel != nil {
		menu = blocks.IncidentMenu(h.app.PagerDuty != nil)
	}

	msgOptions := []slack.MsgOption{
		slack.MsgOptionBlocks(menu...),
	}
	if event.ThreadTimeStamp != "" {
		msgOptions = append(msgOptions, slack.MsgOptionTS(event.ThreadTimeStamp))
	}

	_, _, err = h.client.PostMessage(event.Channel, msgOptions...)
	if err != nil {
		return fmt.Errorf("failed to PostMessage: %w", err)
	}
	return nil
}
