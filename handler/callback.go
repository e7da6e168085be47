package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/pyama86/firefighter/domain/entity"
	"github.com/pyama86/firefighter/domain/repository"
	"github.com/pyama86/firefighter/domain/workflow"
	"github.com/pyama86/firefighter/presentation/blocks"
	"github.com/slack-go/slack"
)

type CallbackHandler struct {
	ctx context.Context
	app *App
}

func NewCallbackHandler(ctx context.Context, app *App) *CallbackHandler {
	return &CallbackHandler{
		ctx: ctx,
		app: app,
	}
}

// Validate はモーダルの入力を検査し、エラーがあればAckで返すレスポンスを返す
func (h *CallbackHandler) Validate(callback *slack.InteractionCallback) *slack.ViewSubmissionResponse {
	if callback.Type != slack.InteractionTypeViewSubmission {
		return nil
	}
	state := callback.View.State
	switch callback.View.CallbackID {
	case DeclareModal:
		_, errs := parseDeclare(state)
		return errs.response()
	case StatusModal:
		_, errs := parseStatus(state)
		return errs.response()
	case PriorityModal:
		_, _, errs := parsePriority(state)
		return errs.response()
	case KeyEventsModal:
		_, errs := parseKeyEvents(state, timeNow().Location())
		return errs.response()
	}
	return nil
}

func (h *CallbackHandler) Handle(callback *slack.InteractionCallback) error {
	switch callback.Type {
	case slack.InteractionTypeBlockActions:
		if len(callback.ActionCallback.BlockActions) < 1 {
			return fmt.Errorf("block_actions is empty")
		}
		action := callback.ActionCallback.BlockActions[0]

		switch action.ActionID {
		case "declare_action":
			if err := h.openDeclareModal(callback.TriggerID, callback.Channel.ID); err != nil {
				return fmt.Errorf("openDeclareModal failed: %w", err)
			}
		case "in_channel_options":
			h.app.Slack.DeleteMessage(callback.Channel.ID, callback.Message.Timestamp)
			return h.handleOption(callback, action.SelectedOption.Value)
		case "downgrade_execute":
			h.app.Slack.DeleteMessage(callback.Channel.ID, callback.Message.Timestamp)
			if err := h.downgrade(callback); err != nil {
				return h.reportError(callback.User.ID, "downgrade", err)
			}
		case "oncall_execute":
			h.app.Slack.DeleteMessage(callback.Channel.ID, callback.Message.Timestamp)
			if err := h.triggerOncall(callback); err != nil {
				return h.reportError(callback.User.ID, "trigger_oncall", err)
			}
		case "downgrade_cancel", "oncall_cancel":
			h.app.Slack.DeleteMessage(callback.Channel.ID, callback.Message.Timestamp)
		}
	case slack.InteractionTypeViewSubmission:
		var err error
		switch callback.View.CallbackID {
		case DeclareModal:
			err = h.submitDeclare(callback)
		case StatusModal:
			err = h.submitStatus(callback)
		case PriorityModal:
			err = h.submitPriority(callback)
		case RolesModal:
			err = h.submitRoles(callback)
		case KeyEventsModal:
			err = h.submitKeyEvents(callback)
		default:
			return nil
		}
		if err != nil {
			return h.reportError(callback.User.ID, callback.View.CallbackID, err)
		}
	}
	return nil
}

// reportError は利用者が直せるエラーをDMで伝える
func (h *CallbackHandler) reportError(userID, operation string, err error) error {
	var (
		validation *workflow.ValidationError
		auth       *workflow.AuthorizationError
	)
	message := ""
	switch {
	case errors.As(err, &validation):
		message = fmt.Sprintf("❌ 入力内容に誤りがあります: %s", validation.Reason)
	case errors.As(err, &auth):
		message = "❌ 操作したユーザーを特定できませんでした"
	case errors.Is(err, repository.ErrConflict):
		message = "⚠️ 他の人が同時に更新しました。もう一度やり直してください"
	}
	if message != "" {
		if _, _, postErr := h.app.Slack.PostMessage(userID, slack.MsgOptionText(message, false)); postErr != nil {
			slog.Error("Failed to post error message", slog.Any("err", postErr))
		}
	}
	return fmt.Errorf("%s failed: %w", operation, err)
}

func (h *CallbackHandler) actor(user slack.User) *entity.User {
	u := &entity.User{ID: user.ID, Name: user.Name}
	slackUser, err := h.app.Slack.GetUserByID(user.ID)
	if err != nil {
		slog.Warn("failed to get user", slog.String("user", user.ID), slog.Any("err", err))
		return u
	}
	u.Name = h.app.Slack.GetUserPreferredName(slackUser)
	u.Email = slackUser.Profile.Email
	return u
}

func (h *CallbackHandler) incidentByChannel(channelID string) (*entity.Incident, error) {
	channel, err := h.app.Store.FindIncidentChannelByChannelID(h.ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to FindIncidentChannelByChannelID: %w", err)
	}
	if channel == nil {
		return nil, fmt.Errorf("channel %s is not an incident channel", channelID)
	}
	return h.incident(channel.IncidentID)
}

func (h *CallbackHandler) incident(id int) (*entity.Incident, error) {
	incident, err := h.app.Store.FindIncident(h.ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to FindIncident: %w", err)
	}
	if incident == nil {
		return nil, fmt.Errorf("incident %d: %w", id, repository.ErrNotFound)
	}
	return incident, nil
}

func (h *CallbackHandler) incidentFromView(callback *slack.InteractionCallback) (*entity.Incident, error) {
	id, err := strconv.Atoi(callback.View.PrivateMetadata)
	if err != nil {
		return nil, fmt.Errorf("invalid private metadata %q: %w", callback.View.PrivateMetadata, err)
	}
	return h.incident(id)
}

func (h *CallbackHandler) openModal(triggerID, callbackID, title, metadata string, body slack.Blocks) error {
	view := slack.ModalViewRequest{
		Type:            slack.ViewType("modal"),
		Title:           slack.NewTextBlockObject("plain_text", title, false, false),
		CallbackID:      callbackID,
		Submit:          slack.NewTextBlockObject("plain_text", "✅ 送信", false, false),
		Close:           slack.NewTextBlockObject("plain_text", "❌ キャンセル", false, false),
		Blocks:          body,
		PrivateMetadata: metadata,
	}
	return h.app.Slack.OpenView(triggerID, view)
}

func (h *CallbackHandler) openDeclareModal(triggerID, channelID string) error {
	categories, err := h.app.Repository.Categories(h.ctx)
	if err != nil {
		return err
	}
	return h.openModal(triggerID, DeclareModal, "🚨 インシデント宣言", channelID,
		blocks.DeclareIncident(h.app.Repository.Priorities(h.ctx), h.app.Repository.Environments(h.ctx), categories))
}

func (h *CallbackHandler) handleOption(callback *slack.InteractionCallback, option string) error {
	slog.Info(option, slog.Any("channelID", callback.Channel.ID))
	incident, err := h.incidentByChannel(callback.Channel.ID)
	if err != nil {
		return err
	}
	metadata := strconv.Itoa(incident.ID)

	switch option {
	case blocks.OptionUpdateStatus:
		return h.openModal(callback.TriggerID, StatusModal, "🔄 ステータス更新", metadata, blocks.UpdateStatus(incident))
	case blocks.OptionUpdatePriority:
		return h.openModal(callback.TriggerID, PriorityModal, "⚙️ 優先度変更", metadata,
			blocks.UpdatePriority(incident, h.app.Repository.Priorities(h.ctx)))
	case blocks.OptionUpdateRoles:
		roles, err := h.app.Store.IncidentRoles(h.ctx, incident.ID)
		if err != nil {
			return fmt.Errorf("failed to IncidentRoles: %w", err)
		}
		return h.openModal(callback.TriggerID, RolesModal, "👥 ロール割り当て", metadata,
			blocks.UpdateRoles(h.app.Repository.RoleTypes(h.ctx), roles))
	case blocks.OptionKeyEvents:
		updates, err := h.app.Store.IncidentUpdates(h.ctx, incident.ID)
		if err != nil {
			return fmt.Errorf("failed to IncidentUpdates: %w", err)
		}
		current := entity.LatestKeyEvents(updates)
		for k, v := range current {
			current[k] = v.In(timeNow().Location())
		}
		return h.openModal(callback.TriggerID, KeyEventsModal, "🕒 キーイベント", metadata, blocks.UpdateKeyEvents(current))
	case blocks.OptionDowngrade:
		_, _, err := h.app.Slack.PostMessage(callback.Channel.ID, slack.MsgOptionBlocks(blocks.DowngradeConfirmation()...))
		return err
	case blocks.OptionTriggerOncall:
		if h.app.PagerDuty == nil {
			return fmt.Errorf("pagerduty is disabled")
		}
		_, _, err := h.app.Slack.PostMessage(callback.Channel.ID, slack.MsgOptionBlocks(blocks.OncallConfirmation()...))
		return err
	}
	return fmt.Errorf("unknown option: %s", option)
}

func (h *CallbackHandler) submitDeclare(callback *slack.InteractionCallback) error {
	req, errs := parseDeclare(callback.View.State)
	if len(errs) > 0 {
		return fmt.Errorf("invalid declare input: %v", errs)
	}
	req.Actor = h.actor(callback.User)

	incident, err := h.app.Engine.Declare(h.ctx, req)
	if err != nil {
		if origin := callback.View.PrivateMetadata; origin != "" {
			if _, _, postErr := h.app.Slack.PostMessage(origin, slack.MsgOptionText(fmt.Sprintf("❌ インシデントの宣言に失敗しました:%s", err), false)); postErr != nil {
				slog.Error("Failed to post declare error message", slog.Any("err", postErr))
			}
		}
		return err
	}
	slog.Info("incident declared", slog.Int("incident", incident.ID), slog.String("user", req.Actor.ID))

	// 宣言元のチャンネルに作成したチャンネルを案内する
	if origin := callback.View.PrivateMetadata; origin != "" {
		channel, err := h.app.Store.FindIncidentChannel(h.ctx, incident.ID)
		if err == nil && channel != nil && channel.ChannelID != origin {
			if _, _, err := h.app.Slack.PostMessage(origin, slack.MsgOptionText(
				fmt.Sprintf("🚨 インシデント #%d を宣言しました。<#%s> で対応してください", incident.ID, channel.ChannelID), false)); err != nil {
				slog.Error("Failed to post channel guide", slog.Any("err", err))
			}
		}
	}
	return nil
}

func (h *CallbackHandler) submitStatus(callback *slack.InteractionCallback) error {
	in, errs := parseStatus(callback.View.State)
	if len(errs) > 0 {
		return fmt.Errorf("invalid status input: %v", errs)
	}
	incident, err := h.incidentFromView(callback)
	if err != nil {
		return err
	}
	_, _, err = h.app.Engine.ApplyStatusTransition(h.ctx, incident, in.Target, h.actor(callback.User), in.Message, in.Reason)
	return err
}

func (h *CallbackHandler) submitPriority(callback *slack.InteractionCallback) error {
	value, message, errs := parsePriority(callback.View.State)
	if len(errs) > 0 {
		return fmt.Errorf("invalid priority input: %v", errs)
	}
	incident, err := h.incidentFromView(callback)
	if err != nil {
		return err
	}
	_, _, err = h.app.Engine.ApplyPriorityChange(h.ctx, incident, value, h.actor(callback.User), message)
	return err
}

func (h *CallbackHandler) submitRoles(callback *slack.InteractionCallback) error {
	incident, err := h.incidentFromView(callback)
	if err != nil {
		return err
	}

	assignments := map[string]*entity.User{}
	for slug, userID := range parseRoles(callback.View.State, h.app.Repository.RoleTypes(h.ctx)) {
		if userID == "" {
			assignments[slug] = nil
			continue
		}
		assignments[slug] = h.actor(slack.User{ID: userID})
	}
	_, _, err = h.app.Engine.ApplyRoleUpdate(h.ctx, incident, h.actor(callback.User), assignments)
	return err
}

func (h *CallbackHandler) submitKeyEvents(callback *slack.InteractionCallback) error {
	events, errs := parseKeyEvents(callback.View.State, timeNow().Location())
	if len(errs) > 0 {
		return fmt.Errorf("invalid key events input: %v", errs)
	}
	incident, err := h.incidentFromView(callback)
	if err != nil {
		return err
	}
	_, _, err = h.app.Engine.UpdateKeyEvents(h.ctx, incident, h.actor(callback.User), events)
	return err
}

func (h *CallbackHandler) downgrade(callback *slack.InteractionCallback) error {
	incident, err := h.incidentByChannel(callback.Channel.ID)
	if err != nil {
		return err
	}
	_, err = h.app.Engine.Downgrade(h.ctx, incident, h.actor(callback.User))
	return err
}

func (h *CallbackHandler) triggerOncall(callback *slack.InteractionCallback) error {
	if h.app.PagerDuty == nil {
		return fmt.Errorf("pagerduty is disabled")
	}
	incident, err := h.incidentByChannel(callback.Channel.ID)
	if err != nil {
		return err
	}

	pd, err := h.app.PagerDuty.TriggerOncall(h.ctx, incident, h.app.Config.PagerDuty.ServiceID, h.actor(callback.User))
	if err != nil {
		if _, _, postErr := h.app.Slack.PostMessage(callback.Channel.ID, slack.MsgOptionText(fmt.Sprintf("❌ オンコールの呼び出しに失敗しました:%s", err), false)); postErr != nil {
			slog.Error("Failed to post oncall error message", slog.Any("err", postErr))
		}
		return err
	}
	_, _, err = h.app.Slack.PostMessage(callback.Channel.ID, slack.MsgOptionText(fmt.Sprintf("📟 オンコールを呼び出しました: %s", pd.URL), false))
	return err
}
