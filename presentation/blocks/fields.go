package blocks

import (
	"fmt"
	"time"

	"github.com/pyama86/firefighter/domain/entity"
	"github.com/slack-go/slack"
)

const timeFormat = "2006-01-02 15:04"

func mrkdwn(format string, args ...interface{}) *slack.TextBlockObject {
	return slack.NewTextBlockObject("mrkdwn", fmt.Sprintf(format, args...), false, false)
}

func plain(text string) *slack.TextBlockObject {
	return slack.NewTextBlockObject("plain_text", text, false, false)
}

func priorityLabel(p *entity.Priority, value int) string {
	if p == nil {
		return fmt.Sprintf("P%d", value)
	}
	return p.Label()
}

// incidentFields はアナウンスとチャンネル内で共通のフィールド
func incidentFields(incident *entity.Incident, priority *entity.Priority, env *entity.Environment, category *entity.IncidentCategory) []*slack.TextBlockObject {
	envName := incident.Environment
	if env != nil {
		envName = env.Name
	}
	categoryName := "-"
	if category != nil {
		categoryName = category.Name
	}
	return []*slack.TextBlockObject{
		mrkdwn("*優先度:* %s", priorityLabel(priority, incident.Priority)),
		mrkdwn("*ステータス:* %s", StatusLabel(incident.Status)),
		mrkdwn("*環境:* %s", envName),
		mrkdwn("*カテゴリ:* %s", categoryName),
	}
}

func FormatTime(t time.Time) string {
	return t.Format(timeFormat)
}

func ParseTime(v string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(timeFormat, v, loc)
}
