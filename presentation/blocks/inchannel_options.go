package blocks

import "github.com/slack-go/slack"

// メニューで選べる操作
const (
	OptionUpdateStatus   = "update_status"
	OptionUpdatePriority = "update_priority"
	OptionUpdateRoles    = "update_roles"
	OptionKeyEvents      = "update_key_events"
	OptionDowngrade      = "downgrade"
	OptionTriggerOncall  = "trigger_oncall"
)

func InChannelOptions(oncall bool) []*slack.OptionBlockObject {
	options := []*slack.OptionBlockObject{
		slack.NewOptionBlockObject(OptionUpdateStatus, plain("🔄 ステータスを更新する"), nil),
		slack.NewOptionBlockObject(OptionUpdatePriority, plain("⚙️ 優先度を変更する"), nil),
		slack.NewOptionBlockObject(OptionUpdateRoles, plain("👥 ロールを割り当てる"), nil),
		slack.NewOptionBlockObject(OptionKeyEvents, plain("🕒 キーイベントを記録する"), nil),
		slack.NewOptionBlockObject(OptionDowngrade, plain("⬇️ インシデントではないとする"), nil),
	}
	if oncall {
		options = append(options, slack.NewOptionBlockObject(OptionTriggerOncall, plain("📟 オンコールを呼び出す"), nil))
	}
	return options
}
