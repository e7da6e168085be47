package blocks

import (
	"fmt"
	"time"

	"github.com/pyama86/firefighter/domain/entity"
	"github.com/slack-go/slack"
)

const (
	StatusBlock        = "status_block"
	StatusAction       = "status_select"
	ClosureReasonBlock = "closure_reason_block"
	ClosureReasonInput = "closure_reason_select"
	MessageBlock       = "message_block"
	MessageAction      = "message_text"
	PriorityBlock      = "priority_block"
	PriorityAction     = "priority_select"
)

// RoleBlockID はロールごとのブロックID
func RoleBlockID(slug string) string {
	return "role_" + slug + "_block"
}

const RoleAction = "role_user"

func KeyEventBlockID(eventType string) string {
	return "key_event_" + eventType + "_block"
}

const KeyEventAction = "key_event_time"

func messageInput() slack.Block {
	return &slack.InputBlock{
		Type:    slack.MBTInput,
		BlockID: MessageBlock,
		Label:   plain("💬 メッセージ"),
		Element: &slack.PlainTextInputBlockElement{
			Type:      slack.METPlainTextInput,
			ActionID:  MessageAction,
			Multiline: true,
		},
		Optional: true,
	}
}

func UpdateStatus(incident *entity.Incident) slack.Blocks {
	var (
		options []*slack.OptionBlockObject
		initial *slack.OptionBlockObject
	)
	for _, s := range entity.Statuses() {
		if s == entity.StatusOpen {
			continue
		}
		o := slack.NewOptionBlockObject(s.String(), plain(StatusLabel(s)), nil)
		if s == incident.Status {
			initial = o
		}
		options = append(options, o)
	}

	reasons := []*slack.OptionBlockObject{
		slack.NewOptionBlockObject(string(entity.ClosureReasonResolved), plain(entity.ClosureReasonResolved.Label()), nil),
	}
	for _, r := range entity.EarlyClosureReasons() {
		reasons = append(reasons, slack.NewOptionBlockObject(string(r), plain(r.Label()), nil))
	}

	return slack.Blocks{
		BlockSet: []slack.Block{
			slack.NewSectionBlock(mrkdwn("現在のステータス: *%s*", StatusLabel(incident.Status)), nil, nil),
			&slack.InputBlock{
				Type:    slack.MBTInput,
				BlockID: StatusBlock,
				Label:   plain("🔄 新しいステータス"),
				Element: &slack.SelectBlockElement{
					Type:          slack.OptTypeStatic,
					ActionID:      StatusAction,
					Options:       options,
					InitialOption: initial,
				},
			},
			&slack.InputBlock{
				Type:    slack.MBTInput,
				BlockID: ClosureReasonBlock,
				Label:   plain("クローズ理由"),
				Hint:    plain("緩和前にクローズする場合は解決済み以外を選んでください"),
				Element: &slack.SelectBlockElement{
					Type:     slack.OptTypeStatic,
					ActionID: ClosureReasonInput,
					Options:  reasons,
				},
				Optional: true,
			},
			messageInput(),
		},
	}
}

func UpdatePriority(incident *entity.Incident, priorities []entity.Priority) slack.Blocks {
	options, _ := priorityOptions(priorities, false)
	var initial *slack.OptionBlockObject
	for _, o := range options {
		if o.Value == fmt.Sprintf("%d", incident.Priority) {
			initial = o
		}
	}
	return slack.Blocks{
		BlockSet: []slack.Block{
			&slack.InputBlock{
				Type:    slack.MBTInput,
				BlockID: PriorityBlock,
				Label:   plain("⚙️ 優先度"),
				Element: &slack.SelectBlockElement{
					Type:          slack.OptTypeStatic,
					ActionID:      PriorityAction,
					Options:       options,
					InitialOption: initial,
				},
			},
			messageInput(),
		},
	}
}

func UpdateRoles(roleTypes []entity.IncidentRoleType, roles []entity.IncidentRole) slack.Blocks {
	holders := map[string]string{}
	for _, r := range roles {
		if r.User != nil {
			holders[r.RoleType] = r.User.ID
		}
	}

	var blocks []slack.Block
	for _, rt := range roleTypes {
		if rt.Disabled {
			continue
		}
		el := slack.NewOptionsSelectBlockElement(slack.OptTypeUser, plain("ユーザーを選択"), RoleAction)
		el.InitialUser = holders[rt.Slug]
		label := rt.Name
		if rt.Emoji != "" {
			label = rt.Emoji + " " + rt.Name
		}
		blocks = append(blocks, &slack.InputBlock{
			Type:     slack.MBTInput,
			BlockID:  RoleBlockID(rt.Slug),
			Label:    plain(label),
			Element:  el,
			Optional: true,
		})
	}
	return slack.Blocks{BlockSet: blocks}
}

func UpdateKeyEvents(current map[string]time.Time) slack.Blocks {
	labels := map[string]string{
		entity.KeyEventStarted:   "発生",
		entity.KeyEventDetected:  "検知",
		entity.KeyEventMitigated: "緩和",
		entity.KeyEventRecovered: "復旧",
	}
	blocks := []slack.Block{
		slack.NewContextBlock("", mrkdwn("`%s` の形式で入力してください", timeFormat)),
	}
	for _, t := range entity.KeyEventTypes() {
		el := &slack.PlainTextInputBlockElement{
			Type:        slack.METPlainTextInput,
			ActionID:    KeyEventAction,
			Placeholder: plain("2006-01-02 15:04"),
		}
		if ts, ok := current[t]; ok {
			el.InitialValue = FormatTime(ts)
		}
		blocks = append(blocks, &slack.InputBlock{
			Type:     slack.MBTInput,
			BlockID:  KeyEventBlockID(t),
			Label:    plain(labels[t]),
			Element:  el,
			Optional: true,
		})
	}
	return slack.Blocks{BlockSet: blocks}
}
