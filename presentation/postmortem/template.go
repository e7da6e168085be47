package postmortem

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/pyama86/firefighter/domain/entity"
	"github.com/russross/blackfriday/v2"
)

const dateFormat = "20060102"

// titlePattern はポストモーテムとランブックのページタイトル
// 例: 20260401-#12-P1-APIのレイテンシ悪化
var titlePattern = regexp.MustCompile(`^(\d{8})-#(\d+)-(P[1-5])-(.+)$`)

type Input struct {
	Incident    *entity.Incident
	Priority    *entity.Priority
	Environment *entity.Environment
	Roles       []entity.IncidentRole
	Timeline    []entity.IncidentUpdate
	ChannelURL  string
	Summary     string
	Impact      string
	RootCause   string
	ActionItems string
}

func Title(incident *entity.Incident, date time.Time) string {
	return fmt.Sprintf("%s-#%d-P%d-%s", date.Format(dateFormat), incident.ID, incident.Priority, incident.Title)
}

type ParsedTitle struct {
	Date       time.Time
	IncidentID int
	Priority   int
	Name       string
}

// ParseTitle は書式に合わないタイトルにはfalseを返す
func ParseTitle(title string) (*ParsedTitle, bool) {
	m := titlePattern.FindStringSubmatch(strings.TrimSpace(title))
	if m == nil {
		return nil, false
	}
	date, err := time.Parse(dateFormat, m[1])
	if err != nil {
		return nil, false
	}
	id, err := strconv.Atoi(m[2])
	if err != nil {
		return nil, false
	}
	priority, _ := strconv.Atoi(strings.TrimPrefix(m[3], "P"))
	return &ParsedTitle{Date: date, IncidentID: id, Priority: priority, Name: m[4]}, true
}

func orPlaceholder(s string) string {
	if strings.TrimSpace(s) == "" {
		return "_未記入_"
	}
	return s
}

func Render(in Input) string {
	var b strings.Builder
	inc := in.Incident

	fmt.Fprintf(&b, "# %s\n\n", inc.Title)
	fmt.Fprintf(&b, "| 項目 | 内容 |\n|---|---|\n")
	fmt.Fprintf(&b, "| インシデント | #%d |\n", inc.ID)
	if in.Priority != nil {
		fmt.Fprintf(&b, "| 優先度 | %s |\n", in.Priority.Label())
	} else {
		fmt.Fprintf(&b, "| 優先度 | P%d |\n", inc.Priority)
	}
	if in.Environment != nil {
		fmt.Fprintf(&b, "| 環境 | %s |\n", in.Environment.Name)
	}
	fmt.Fprintf(&b, "| 起票者 | %s |\n", inc.CreatedBy.Name)
	fmt.Fprintf(&b, "| 発生日時 | %s |\n", inc.CreatedAt.Format("2006-01-02 15:04"))
	if inc.MitigatedAt != nil {
		fmt.Fprintf(&b, "| 緩和日時 | %s |\n", inc.MitigatedAt.Format("2006-01-02 15:04"))
	}
	for _, r := range in.Roles {
		if r.User != nil {
			fmt.Fprintf(&b, "| %s | %s |\n", r.RoleType, r.User.Name)
		}
	}

	fmt.Fprintf(&b, "\n## 概要\n\n%s\n", orPlaceholder(in.Summary))
	fmt.Fprintf(&b, "\n## 影響\n\n%s\n", orPlaceholder(in.Impact))
	fmt.Fprintf(&b, "\n## 主な原因\n\n%s\n", orPlaceholder(in.RootCause))
	fmt.Fprintf(&b, "\n## アクションアイテム\n\n%s\n", orPlaceholder(in.ActionItems))

	b.WriteString("\n## タイムライン\n\n")
	if len(in.Timeline) == 0 {
		b.WriteString("_記録なし_\n")
	}
	for _, u := range in.Timeline {
		b.WriteString("- " + TimelineLine(u) + "\n")
	}

	if in.ChannelURL != "" {
		fmt.Fprintf(&b, "\n## 補足情報\n\n- [インシデント対応チャンネル](%s)\n", in.ChannelURL)
	}
	return b.String()
}

// TimelineLine はタイムライン1行分の表記
func TimelineLine(u entity.IncidentUpdate) string {
	when := u.CreatedAt
	var what string
	switch {
	case u.EventType != "" && u.EventTS != nil:
		when = *u.EventTS
		what = "[" + u.EventType + "]"
	case u.Status != nil:
		what = "ステータス: " + u.Status.String()
	case u.Priority != nil:
		what = fmt.Sprintf("優先度: P%d", *u.Priority)
	}
	line := when.Format("2006-01-02 15:04") + " " + what
	if u.Message != "" {
		line += " " + strings.ReplaceAll(u.Message, "\n", " ")
	}
	if u.CreatedBy.Name != "" {
		line += " (" + u.CreatedBy.Name + ")"
	}
	return strings.TrimSpace(line)
}

// ToStorage はMarkdownをConfluenceのstorage形式に載せられるHTMLにする
func ToStorage(markdown string) string {
	html := blackfriday.Run([]byte(markdown), blackfriday.WithExtensions(blackfriday.CommonExtensions))
	return string(bluemonday.UGCPolicy().SanitizeBytes(html))
}
