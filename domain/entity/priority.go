package entity

import "time"

type Priority struct {
	Value            int           `mapstructure:"value" validate:"required,gte=1,lte=5"`
	Name             string        `mapstructure:"name" validate:"required"`
	Emoji            string        `mapstructure:"emoji"`
	Description      string        `mapstructure:"description" validate:"required"`
	SLA              time.Duration `mapstructure:"sla"`
	ReminderInterval time.Duration `mapstructure:"reminder_interval"`
	NeedsPostMortem  bool          `mapstructure:"needs_postmortem"`
	EnabledCreate    bool          `mapstructure:"enabled_create"`
	EnabledUpdate    bool          `mapstructure:"enabled_update"`
	Default          bool          `mapstructure:"default"`
}

func (p *Priority) Label() string {
	if p.Emoji != "" {
		return p.Emoji + " " + p.Name
	}
	return p.Name
}
