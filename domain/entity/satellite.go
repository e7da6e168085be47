package entity

import "time"

type IncidentChannel struct {
	IncidentID int       `json:"incident_id" dynamo:"incident_id,hash"`
	ChannelID  string    `json:"channel_id" dynamo:"channel_id" index:"channel_id-index,hash"`
	Name       string    `json:"name" dynamo:"name"`
	CreatedAt  time.Time `json:"created_at" dynamo:"created_at"`
}

// SlackMessage はreplace戦略のために投稿済みメッセージを種別ごとに記録する
type SlackMessage struct {
	IncidentID  int       `json:"incident_id" dynamo:"incident_id,hash"`
	MessageType string    `json:"message_type" dynamo:"message_type,range"`
	ChannelID   string    `json:"channel_id" dynamo:"channel_id"`
	TS          string    `json:"ts" dynamo:"ts"`
	UpdatedAt   time.Time `json:"updated_at" dynamo:"updated_at"`
}

type JiraTicket struct {
	IncidentID int       `json:"incident_id" dynamo:"incident_id,hash"`
	ID         string    `json:"id" dynamo:"id"`
	Key        string    `json:"key" dynamo:"key"`
	URL        string    `json:"url" dynamo:"url"`
	CreatedAt  time.Time `json:"created_at" dynamo:"created_at"`
}

type JiraPostMortem struct {
	IncidentID int       `json:"incident_id" dynamo:"incident_id,hash"`
	ID         string    `json:"id" dynamo:"id"`
	Key        string    `json:"key" dynamo:"key"`
	URL        string    `json:"url" dynamo:"url"`
	CreatedAt  time.Time `json:"created_at" dynamo:"created_at"`
}

type PostMortem struct {
	IncidentID int       `json:"incident_id" dynamo:"incident_id,hash"`
	PageID     string    `json:"page_id" dynamo:"page_id"`
	Title      string    `json:"title" dynamo:"title"`
	URL        string    `json:"url" dynamo:"url"`
	CreatedAt  time.Time `json:"created_at" dynamo:"created_at"`
}

type ConfluencePageKind string

const (
	ConfluencePageRunbook    ConfluencePageKind = "runbook"
	ConfluencePagePostMortem ConfluencePageKind = "postmortem"
)

type ConfluencePage struct {
	PageID     string             `json:"page_id" dynamo:"page_id,hash"`
	Kind       ConfluencePageKind `json:"kind" dynamo:"kind"`
	Title      string             `json:"title" dynamo:"title"`
	URL        string             `json:"url" dynamo:"url"`
	ParentID   string             `json:"parent_id" dynamo:"parent_id"`
	IncidentID int                `json:"incident_id" dynamo:"incident_id,omitempty"`
	Date       *time.Time         `json:"date" dynamo:"date,omitempty"`
	Priority   int                `json:"priority" dynamo:"priority,omitempty"`
	SyncedAt   time.Time          `json:"synced_at" dynamo:"synced_at"`
}

type PagerDutyIncident struct {
	IncidentID  int       `json:"incident_id" dynamo:"incident_id,hash"`
	PagerDutyID string    `json:"pagerduty_id" dynamo:"pagerduty_id"`
	ServiceID   string    `json:"service_id" dynamo:"service_id"`
	URL         string    `json:"url" dynamo:"url"`
	CreatedBy   User      `json:"created_by" dynamo:"created_by"`
	CreatedAt   time.Time `json:"created_at" dynamo:"created_at"`
}

// PagerDutyOncall は現在のオンコール状況
type PagerDutyOncall struct {
	ID                 string    `json:"id" dynamo:"id,hash"`
	UserID             string    `json:"user_id" dynamo:"user_id"`
	UserName           string    `json:"user_name" dynamo:"user_name"`
	Email              string    `json:"email" dynamo:"email"`
	Phone              string    `json:"phone" dynamo:"phone,omitempty"`
	EscalationPolicyID string    `json:"escalation_policy_id" dynamo:"escalation_policy_id"`
	EscalationLevel    int       `json:"escalation_level" dynamo:"escalation_level"`
	Start              time.Time `json:"start" dynamo:"start,omitempty"`
	End                time.Time `json:"end" dynamo:"end,omitempty"`
	SyncedAt           time.Time `json:"synced_at" dynamo:"synced_at"`
}
