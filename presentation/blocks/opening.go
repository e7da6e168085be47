package blocks

import "github.com/slack-go/slack"

func Opening() []slack.Block {
	return []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", ":fire_engine: インシデント対応をサポートするボットです。", false, false),
			nil, nil,
		),

		slack.NewDividerBlock(),
		&slack.SectionBlock{
			Type:    slack.MBTSection,
			BlockID: "declare_section",
			Text: &slack.TextBlockObject{
				Type: slack.MarkdownType,
				Text: "*インシデントですか？*",
			},
			Accessory: &slack.Accessory{
				ButtonElement: &slack.ButtonBlockElement{
					Type:     slack.METButton,
					ActionID: "declare_action",
					Value:    "declare",
					Text: &slack.TextBlockObject{
						Type: "plain_text",
						Text: "インシデントを宣言する",
					},
					Style: slack.StyleDanger,
				},
			},
		},
	}
}
