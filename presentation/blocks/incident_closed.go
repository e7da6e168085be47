package blocks

import (
	"github.com/pyama86/firefighter/domain/entity"
	"github.com/slack-go/slack"
)

func IncidentClosed(incident *entity.Incident, update *entity.IncidentUpdate) []slack.Block {
	reason := incident.ClosureReason
	if reason == "" {
		reason = entity.ClosureReasonResolved
	}
	blocks := []slack.Block{
		slack.NewSectionBlock(mrkdwn("✅ インシデント #%s はクローズされました (%s)", incident.Slug(), reason.Label()), nil, nil),
	}
	if update != nil && update.CreatedBy.ID != "" {
		blocks = append(blocks, slack.NewContextBlock("", mrkdwn("クローズした人: %s", update.CreatedBy.Mention())))
	}
	return blocks
}
