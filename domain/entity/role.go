package entity

import "time"

type IncidentRoleType struct {
	Slug        string `mapstructure:"slug" validate:"required"`
	Name        string `mapstructure:"name" validate:"required"`
	Emoji       string `mapstructure:"emoji"`
	Description string `mapstructure:"description"`
	Required    bool   `mapstructure:"required"`
	Order       int    `mapstructure:"order"`
	Disabled    bool   `mapstructure:"disabled"`
}

// FieldName はイベントのupdated_fieldsで使う識別子
func (r *IncidentRoleType) FieldName() string {
	return RoleFieldName(r.Slug)
}

func RoleFieldName(slug string) string {
	return "role_" + slug
}

type IncidentRole struct {
	IncidentID int       `json:"incident_id" dynamo:"incident_id,hash"`
	RoleType   string    `json:"role_type" dynamo:"role_type,range"`
	User       *User     `json:"user" dynamo:"user,omitempty"`
	UserID     string    `json:"user_id" dynamo:"user_id,omitempty"`
	AssignedAt time.Time `json:"assigned_at" dynamo:"assigned_at"`
}
