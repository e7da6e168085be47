package blocks

import (
	"github.com/pyama86/firefighter/domain/entity"
	"github.com/slack-go/slack"
)

// IncidentCreated はアナウンスチャンネルに流すメッセージ
func IncidentCreated(incident *entity.Incident, priority *entity.Priority, env *entity.Environment, category *entity.IncidentCategory, channelID string) []slack.Block {
	header := AddNotification("🚨 インシデントが発生しています", NotificationFor(priority))
	fields := append(incidentFields(incident, priority, env, category),
		mrkdwn("*タイトル:* %s", incident.Title),
		mrkdwn("*対応チャンネル:* <#%s>", channelID),
	)
	return []slack.Block{
		slack.NewSectionBlock(mrkdwn("%s", header), fields, nil),
	}
}

// IncidentDeclared はインシデントチャンネルの最初のメッセージ
func IncidentDeclared(incident *entity.Incident, priority *entity.Priority, env *entity.Environment, category *entity.IncidentCategory) []slack.Block {
	description := incident.Description
	if description == "" {
		description = "(未記入)"
	}
	return []slack.Block{
		slack.NewHeaderBlock(plain("🚒 #" + incident.Slug() + " " + incident.Title)),
		slack.NewSectionBlock(mrkdwn("%s さんがインシデントを宣言しました", incident.CreatedBy.Mention()), incidentFields(incident, priority, env, category), nil),
		slack.NewSectionBlock(mrkdwn("*事象内容:*\n%s", description), nil, nil),
		slack.NewContextBlock("", mrkdwn("ボットにメンションするとステータスやロールを更新できます")),
	}
}
