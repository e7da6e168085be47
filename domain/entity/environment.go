package entity

type Environment struct {
	Value      string `mapstructure:"value" validate:"required"`
	Name       string `mapstructure:"name" validate:"required"`
	Production bool   `mapstructure:"production"`
	Default    bool   `mapstructure:"default"`
}

type IncidentCategory struct {
	ID                   int      `mapstructure:"id" validate:"required"`
	Name                 string   `mapstructure:"name" validate:"required"`
	Group                string   `mapstructure:"group"`
	Disabled             bool     `mapstructure:"disabled"`
	Responders           []string `mapstructure:"responders"`
	AnnouncementChannels []string `mapstructure:"announcement_channels"`
	DeployWarning        bool     `mapstructure:"deploy_warning"`
}
