package entity

import "time"

// IncidentUpdate はタイムラインの1行。作成後は変更しない
type IncidentUpdate struct {
	IncidentID    int           `json:"incident_id" dynamo:"incident_id,hash"`
	ID            string        `json:"id" dynamo:"id,range"`
	Status        *Status       `json:"status" dynamo:"status,omitempty"`
	Priority      *int          `json:"priority" dynamo:"priority,omitempty"`
	ClosureReason ClosureReason `json:"closure_reason" dynamo:"closure_reason,omitempty"`
	Message       string        `json:"message" dynamo:"message,omitempty"`
	EventType     string        `json:"event_type" dynamo:"event_type,omitempty"`
	EventTS       *time.Time    `json:"event_ts" dynamo:"event_ts,omitempty"`
	CreatedBy     User          `json:"created_by" dynamo:"created_by"`
	CreatedAt     time.Time     `json:"created_at" dynamo:"created_at"`
}

// キーイベントの種類
const (
	KeyEventDetected  = "detected"
	KeyEventStarted   = "started"
	KeyEventMitigated = "mitigated"
	KeyEventRecovered = "recovered"
)

func KeyEventTypes() []string {
	return []string{KeyEventStarted, KeyEventDetected, KeyEventMitigated, KeyEventRecovered}
}

// LatestKeyEvents はイベント種別ごとに最後に記録された時刻を返す
func LatestKeyEvents(updates []IncidentUpdate) map[string]time.Time {
	latest := map[string]time.Time{}
	recordedAt := map[string]time.Time{}
	for _, u := range updates {
		if u.EventType == "" || u.EventTS == nil {
			continue
		}
		if prev, ok := recordedAt[u.EventType]; ok && prev.After(u.CreatedAt) {
			continue
		}
		recordedAt[u.EventType] = u.CreatedAt
		latest[u.EventType] = *u.EventTS
	}
	return latest
}
