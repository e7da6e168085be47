package blocks

import "github.com/pyama86/firefighter/domain/entity"

// AddNotification は通知タイプに応じてメッセージに通知を追加する
func AddNotification(message, notificationType string) string {
	switch notificationType {
	case "here":
		return "<!here> " + message
	case "channel":
		return "<!channel> " + message
	default:
		return message
	}
}

// NotificationFor は優先度が高いインシデントだけ@hereをつける
func NotificationFor(priority *entity.Priority) string {
	if priority != nil && priority.Value <= 2 {
		return "here"
	}
	return "none"
}
