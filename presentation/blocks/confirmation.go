package blocks

import "github.com/slack-go/slack"

func confirmation(title, body, blockID, executeID, cancelID string) []slack.Block {
	return []slack.Block{
		slack.NewHeaderBlock(plain(title)),
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", body, false, false),
			nil,
			nil,
		),
		slack.NewDividerBlock(),
		slack.NewActionBlock(
			blockID,
			slack.NewButtonBlockElement(executeID, "confirm", plain("✅ 実行する")).WithStyle(slack.StylePrimary),
			slack.NewButtonBlockElement(cancelID, "cancel", plain("❌ キャンセル")),
		),
	}
}

// ダウングレードの確認フォーム
func DowngradeConfirmation() []slack.Block {
	return confirmation(
		"⬇️ ダウングレードの確認",
		"このインシデントをインシデントではないものとして扱います。\nポストモーテムのリマインドが行われなくなります。\n\n実行してもよろしいですか？",
		"downgrade_confirm",
		"downgrade_execute",
		"downgrade_cancel",
	)
}

// オンコール呼び出しの確認フォーム
func OncallConfirmation() []slack.Block {
	return confirmation(
		"📟 オンコール呼び出しの確認",
		"⚠️ *重要な操作です* ⚠️\n\nPagerDutyでオンコール担当者を呼び出します。\n\n本当に呼び出しますか？",
		"oncall_confirm",
		"oncall_execute",
		"oncall_cancel",
	)
}
