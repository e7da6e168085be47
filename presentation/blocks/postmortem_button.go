package blocks

import (
	"time"

	"github.com/pyama86/firefighter/domain/entity"
	"github.com/slack-go/slack"
)

// PostMortemRequested は緩和直後にポストモーテムの作成を促す
func PostMortemRequested(incident *entity.Incident, pm *entity.PostMortem) []slack.Block {
	blocks := []slack.Block{
		slack.NewHeaderBlock(plain("📝 ポストモーテムを作成しましょう！")),
	}
	if pm != nil && pm.URL != "" {
		blocks = append(blocks, slack.NewSectionBlock(mrkdwn("下書きを作成しました: <%s|%s>", pm.URL, pm.Title), nil, nil))
	} else {
		blocks = append(blocks, slack.NewSectionBlock(mrkdwn("🚀 インシデント #%s のポストモーテムを作成してください", incident.Slug()), nil, nil))
	}
	return blocks
}

// PostMortemReminder は同じメッセージを置き換えながら投稿される
func PostMortemReminder(incident *entity.Incident, priority *entity.Priority, now time.Time) []slack.Block {
	days := 0
	if incident.MitigatedAt != nil {
		days = int(now.Sub(*incident.MitigatedAt).Hours() / 24)
	}
	return []slack.Block{
		slack.NewSectionBlock(
			mrkdwn("⏰ 緩和から%d日経過しましたが、まだポストモーテムがありません (%s)", days, priorityLabel(priority, incident.Priority)),
			nil, nil,
		),
		slack.NewContextBlock("", mrkdwn("最終確認: %s", FormatTime(now))),
	}
}
