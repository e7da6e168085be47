package event

import (
	"github.com/pyama86/firefighter/domain/entity"
)

type Type string

const (
	TypeIncidentCreated            Type = "incident_created"
	TypeIncidentUpdated            Type = "incident_updated"
	TypeIncidentClosed             Type = "incident_closed"
	TypeIncidentKeyEventsUpdated   Type = "incident_key_events_updated"
	TypePostMortemCreated          Type = "postmortem_created"
	TypePostMortemReminderDue      Type = "postmortem_reminder_due"
	TypeCreateIncidentConversation Type = "create_incident_conversation"
	TypeIncidentChannelDone        Type = "incident_channel_done"
	TypeGetInvites                 Type = "get_invites"
)

// Sender はincident_updatedの発生元
type Sender string

const (
	SenderUpdateStatus   Sender = "update_status"
	SenderUpdatePriority Sender = "update_priority"
	SenderUpdateRoles    Sender = "update_roles"
	SenderDowngrade      Sender = "downgrade"
)

// Event はバスに流せるイベント。型ごとにペイロードが決まっている
type Event interface {
	Type() Type
}

type IncidentCreated struct {
	Incident *entity.Incident
	Update   *entity.IncidentUpdate
}

func (IncidentCreated) Type() Type { return TypeIncidentCreated }

type IncidentUpdated struct {
	Sender        Sender
	Incident      *entity.Incident
	Update        *entity.IncidentUpdate
	UpdatedFields []string
	OldPriority   *entity.Priority
	OldStatus     entity.Status
	// update_rolesのときに新しく割り当てられたユーザー
	AssignedRoles map[string]*entity.User
}

func (IncidentUpdated) Type() Type { return TypeIncidentUpdated }

// HasField はupdated_fieldsに含まれるか
func (e IncidentUpdated) HasField(field string) bool {
	for _, f := range e.UpdatedFields {
		if f == field {
			return true
		}
	}
	return false
}

type IncidentClosed struct {
	Incident *entity.Incident
	Update   *entity.IncidentUpdate
}

func (IncidentClosed) Type() Type { return TypeIncidentClosed }

type IncidentKeyEventsUpdated struct {
	Incident *entity.Incident
	Updates  []entity.IncidentUpdate
}

func (IncidentKeyEventsUpdated) Type() Type { return TypeIncidentKeyEventsUpdated }

type PostMortemCreated struct {
	Incident *entity.Incident
	Priority *entity.Priority
}

func (PostMortemCreated) Type() Type { return TypePostMortemCreated }

type PostMortemReminderDue struct {
	Incident *entity.Incident
	Priority *entity.Priority
}

func (PostMortemReminderDue) Type() Type { return TypePostMortemReminderDue }

type CreateIncidentConversation struct {
	Incident *entity.Incident
}

func (CreateIncidentConversation) Type() Type { return TypeCreateIncidentConversation }

type IncidentChannelDone struct {
	Incident *entity.Incident
	Channel  *entity.IncidentChannel
}

func (IncidentChannelDone) Type() Type { return TypeIncidentChannelDone }

// GetInvites は購読者それぞれが招待するユーザーを返す収集型イベント
type GetInvites struct {
	Incident *entity.Incident
}

func (GetInvites) Type() Type { return TypeGetInvites }
