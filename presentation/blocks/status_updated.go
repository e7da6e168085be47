package blocks

import (
	"github.com/pyama86/firefighter/domain/entity"
	"github.com/slack-go/slack"
)

func StatusUpdated(incident *entity.Incident, update *entity.IncidentUpdate, old entity.Status) []slack.Block {
	text := mrkdwn("%s さんがステータスを更新しました: %s → *%s*", update.CreatedBy.Mention(), StatusLabel(old), StatusLabel(incident.Status))
	blocks := []slack.Block{slack.NewSectionBlock(text, nil, nil)}
	if update.ClosureReason != "" {
		blocks = append(blocks, slack.NewSectionBlock(mrkdwn("*クローズ理由:* %s", update.ClosureReason.Label()), nil, nil))
	}
	if update.Message != "" {
		blocks = append(blocks, slack.NewSectionBlock(mrkdwn("> %s", update.Message), nil, nil))
	}
	return blocks
}

func PriorityUpdated(incident *entity.Incident, update *entity.IncidentUpdate, old, current *entity.Priority) []slack.Block {
	oldLabel := "-"
	if old != nil {
		oldLabel = old.Label()
	}
	text := AddNotification(
		"優先度が "+oldLabel+" → *"+priorityLabel(current, incident.Priority)+"* に変更されました",
		NotificationFor(current),
	)
	blocks := []slack.Block{slack.NewSectionBlock(mrkdwn("%s", text), nil, nil)}
	if update.Message != "" {
		blocks = append(blocks, slack.NewSectionBlock(mrkdwn("> %s", update.Message), nil, nil))
	}
	return blocks
}

// StatusAnnouncement はアナウンスチャンネル向けの更新通知
func StatusAnnouncement(incident *entity.Incident, priority *entity.Priority, env *entity.Environment, category *entity.IncidentCategory, channelID string) []slack.Block {
	fields := append(incidentFields(incident, priority, env, category),
		mrkdwn("*タイトル:* %s", incident.Title),
		mrkdwn("*対応チャンネル:* <#%s>", channelID),
	)
	return []slack.Block{
		slack.NewSectionBlock(mrkdwn("📣 インシデント #%s が更新されました", incident.Slug()), fields, nil),
	}
}

func Downgraded(incident *entity.Incident, actor entity.User) []slack.Block {
	return []slack.Block{
		slack.NewSectionBlock(mrkdwn("⬇️ %s さんがこのインシデントをインシデントではないものとして扱いました。リマインドは行われません。", actor.Mention()), nil, nil),
	}
}
