package handler

import (
	"strconv"
	"strings"
	"time"

	"github.com/pyama86/firefighter/domain/entity"
	"github.com/pyama86/firefighter/domain/workflow"
	"github.com/pyama86/firefighter/presentation/blocks"
	"github.com/slack-go/slack"
)

// モーダルのcallback_id
const (
	DeclareModal   = "declare_modal"
	StatusModal    = "status_modal"
	PriorityModal  = "priority_modal"
	RolesModal     = "roles_modal"
	KeyEventsModal = "key_events_modal"
)

// viewErrors はブロックIDごとの入力エラー
type viewErrors map[string]string

func (e viewErrors) response() *slack.ViewSubmissionResponse {
	if len(e) == 0 {
		return nil
	}
	return slack.NewErrorsViewSubmissionResponse(e)
}

func stateValue(state *slack.ViewState, blockID, actionID string) slack.BlockAction {
	if state == nil {
		return slack.BlockAction{}
	}
	return state.Values[blockID][actionID]
}

func parseDeclare(state *slack.ViewState) (workflow.DeclareRequest, viewErrors) {
	errs := viewErrors{}
	req := workflow.DeclareRequest{
		Title:       strings.TrimSpace(stateValue(state, blocks.DeclareTitleBlock, blocks.DeclareTitleAction).Value),
		Description: strings.TrimSpace(stateValue(state, blocks.DeclareDescriptionBlock, blocks.DeclareDescriptionInput).Value),
		Environment: stateValue(state, blocks.DeclareEnvBlock, blocks.DeclareEnvAction).SelectedOption.Value,
	}
	if req.Title == "" {
		errs[blocks.DeclareTitleBlock] = "タイトルを入力してください"
	}

	if v := stateValue(state, blocks.DeclarePriorityBlock, blocks.DeclarePriorityAction).SelectedOption.Value; v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			errs[blocks.DeclarePriorityBlock] = "優先度が不正です"
		}
		req.Priority = p
	}

	v := stateValue(state, blocks.DeclareCategoryBlock, blocks.DeclareCategoryAction).SelectedOption.Value
	id, err := strconv.Atoi(v)
	if err != nil {
		errs[blocks.DeclareCategoryBlock] = "カテゴリを選択してください"
	}
	req.CategoryID = id

	for _, o := range stateValue(state, blocks.DeclarePrivateBlock, blocks.DeclarePrivateAction).SelectedOptions {
		if o.Value == "private" {
			req.Private = true
		}
	}
	return req, errs
}

type statusInput struct {
	Target  entity.Status
	Reason  entity.ClosureReason
	Message string
}

func parseStatus(state *slack.ViewState) (statusInput, viewErrors) {
	errs := viewErrors{}
	in := statusInput{
		Reason:  entity.ClosureReason(stateValue(state, blocks.ClosureReasonBlock, blocks.ClosureReasonInput).SelectedOption.Value),
		Message: strings.TrimSpace(stateValue(state, blocks.MessageBlock, blocks.MessageAction).Value),
	}
	target, err := entity.ParseStatus(stateValue(state, blocks.StatusBlock, blocks.StatusAction).SelectedOption.Value)
	if err != nil {
		errs[blocks.StatusBlock] = "ステータスを選択してください"
	}
	in.Target = target
	if in.Reason != "" && in.Target != entity.StatusClosed {
		errs[blocks.ClosureReasonBlock] = "クローズ理由はクローズするときだけ指定できます"
	}
	return in, errs
}

func parsePriority(state *slack.ViewState) (int, string, viewErrors) {
	errs := viewErrors{}
	v, err := strconv.Atoi(stateValue(state, blocks.PriorityBlock, blocks.PriorityAction).SelectedOption.Value)
	if err != nil {
		errs[blocks.PriorityBlock] = "優先度を選択してください"
	}
	return v, strings.TrimSpace(stateValue(state, blocks.MessageBlock, blocks.MessageAction).Value), errs
}

// parseRoles はロールslug→ユーザーIDを返す。空文字は割り当て解除
func parseRoles(state *slack.ViewState, roleTypes []entity.IncidentRoleType) map[string]string {
	ret := map[string]string{}
	for _, rt := range roleTypes {
		if rt.Disabled {
			continue
		}
		ret[rt.Slug] = stateValue(state, blocks.RoleBlockID(rt.Slug), blocks.RoleAction).SelectedUser
	}
	return ret
}

// parseKeyEvents は入力されたキーイベントだけを返す
func parseKeyEvents(state *slack.ViewState, loc *time.Location) (map[string]time.Time, viewErrors) {
	errs := viewErrors{}
	ret := map[string]time.Time{}
	for _, t := range entity.KeyEventTypes() {
		v := strings.TrimSpace(stateValue(state, blocks.KeyEventBlockID(t), blocks.KeyEventAction).Value)
		if v == "" {
			continue
		}
		ts, err := blocks.ParseTime(v, loc)
		if err != nil {
			errs[blocks.KeyEventBlockID(t)] = "日時の形式が正しくありません"
			continue
		}
		ret[t] = ts
	}
	return ret, errs
}
