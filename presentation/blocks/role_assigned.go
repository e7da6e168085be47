package blocks

import (
	"github.com/pyama86/firefighter/domain/entity"
	"github.com/slack-go/slack"
)

// RoleAssigned は割り当てられたユーザーに送るDM
func RoleAssigned(incident *entity.Incident, roleType *entity.IncidentRoleType, channelID string) []slack.Block {
	blocks := []slack.Block{
		slack.NewSectionBlock(mrkdwn("%s インシデント <#%s> の *%s* に割り当てられました", roleType.Emoji, channelID, roleType.Name), nil, nil),
	}
	if roleType.Description != "" {
		blocks = append(blocks, slack.NewContextBlock("", mrkdwn("%s", roleType.Description)))
	}
	return blocks
}

func RolesUpdated(update *entity.IncidentUpdate) []slack.Block {
	return []slack.Block{
		slack.NewSectionBlock(mrkdwn("👥 %s さんがロールを更新しました", update.CreatedBy.Mention()), nil, nil),
		slack.NewSectionBlock(mrkdwn("%s", update.Message), nil, nil),
	}
}
