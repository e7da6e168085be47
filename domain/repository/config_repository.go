package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pyama86/firefighter/domain/entity"
	"github.com/spf13/viper"
)

func NewConfigRepository(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.AutomaticEnv()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	err := v.ReadInConfig()
	if err != nil {
		return nil, fmt.Errorf("read config error: %w", err)
	}

	var c Config
	err = v.Unmarshal(&c)
	if err != nil {
		return nil, fmt.Errorf("unmarshal config error: %w", err)
	}
	valid := validator.New()
	if err = valid.Struct(c); err != nil {
		return nil, fmt.Errorf("validate config error: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config error: %w", err)
	}

	return &c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("channel_prefix", "incident-")
	v.SetDefault("postmortem_reminder_days", 5)
	v.SetDefault("role_reminder.mode", "cooldown")
	v.SetDefault("role_reminder.cooldown_days", 7)
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("task.retries", 2)
	v.SetDefault("task.retry_delay", "30s")
	v.SetDefault("task.timeout", "2m")
	v.SetDefault("schedule.postmortem_reminder", "0 10 * * 1-5")
	v.SetDefault("schedule.confluence_sync", "@every 6h")
	v.SetDefault("schedule.pagerduty_sync", "@every 10m")
	v.SetDefault("confluence.max_stale_deletes", 4)
	v.SetDefault("jira.issue_type", "Incident")
	v.SetDefault("jira.close_status", "Closed")
	v.SetDefault("jira.postmortem_issue_type", "Post-mortem")
	v.SetDefault("pagerduty.max_stale_deletes", 4)
}

type Config struct {
	ChannelPrefix           string                    `mapstructure:"channel_prefix"`
	AnnouncementChannelList []string                  `mapstructure:"announcement_channels"`
	PostMortemReminderDays  int                       `mapstructure:"postmortem_reminder_days" validate:"gte=1"`
	RoleReminder            RoleReminderConfig        `mapstructure:"role_reminder"`
	MetricsAddr             string                    `mapstructure:"metrics_addr"`
	Features                FeatureConfig             `mapstructure:"features"`
	PriorityList            []entity.Priority         `mapstructure:"priorities" validate:"required,dive"`
	EnvironmentList         []entity.Environment      `mapstructure:"environments" validate:"required,dive"`
	CategoryList            []entity.IncidentCategory `mapstructure:"categories" validate:"required,dive"`
	RoleTypeList            []entity.IncidentRoleType `mapstructure:"role_types" validate:"dive"`
	Task                    TaskConfig                `mapstructure:"task"`
	Schedule                ScheduleConfig            `mapstructure:"schedule"`
	Confluence              ConfluenceConfig          `mapstructure:"confluence"`
	Jira                    JiraConfig                `mapstructure:"jira"`
	PagerDuty               PagerDutyConfig           `mapstructure:"pagerduty"`
}

type FeatureConfig struct {
	Jira       bool `mapstructure:"jira"`
	Confluence bool `mapstructure:"confluence"`
	PagerDuty  bool `mapstructure:"pagerduty"`
	AI         bool `mapstructure:"ai"`
}

// RoleReminderConfig はロール割り当て時のDMの送り方
// modeはdisabled, always, cooldownのいずれか
type RoleReminderConfig struct {
	Mode         string `mapstructure:"mode" validate:"oneof=disabled always cooldown"`
	CooldownDays int    `mapstructure:"cooldown_days" validate:"gte=0"`
}

type TaskConfig struct {
	Retries    int           `mapstructure:"retries" validate:"gte=0"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type ScheduleConfig struct {
	PostMortemReminder string `mapstructure:"postmortem_reminder"`
	ConfluenceSync     string `mapstructure:"confluence_sync"`
	PagerDutySync      string `mapstructure:"pagerduty_sync"`
}

type ConfluenceConfig struct {
	AncestorID          string   `mapstructure:"ancestor_id"`
	Space               string   `mapstructure:"space"`
	Domain              string   `mapstructure:"domain"`
	RunbookFolderIDs    []string `mapstructure:"runbook_folder_ids"`
	PostMortemFolderIDs []string `mapstructure:"postmortem_folder_ids"`
	MaxStaleDeletes     int      `mapstructure:"max_stale_deletes"`
}

type JiraTransitionConfig struct {
	From string `mapstructure:"from" validate:"required"`
	To   string `mapstructure:"to" validate:"required"`
	Name string `mapstructure:"name" validate:"required"`
}

type JiraConfig struct {
	URL                  string                 `mapstructure:"url"`
	ProjectKey           string                 `mapstructure:"project_key"`
	IssueType            string                 `mapstructure:"issue_type"`
	PostMortemProjectKey string                 `mapstructure:"postmortem_project_key"`
	PostMortemIssueType  string                 `mapstructure:"postmortem_issue_type"`
	TimelineField        string                 `mapstructure:"timeline_field"`
	CloseStatus          string                 `mapstructure:"close_status"`
	Transitions          []JiraTransitionConfig `mapstructure:"transitions" validate:"dive"`
}

type PagerDutyConfig struct {
	ServiceID       string `mapstructure:"service_id"`
	From            string `mapstructure:"from"`
	MaxStaleDeletes int    `mapstructure:"max_stale_deletes"`
}

// Validate はタグだけでは表現できない整合性を確認する
func (c *Config) Validate() error {
	defaults := 0
	seenPriority := map[int]bool{}
	for _, p := range c.PriorityList {
		if seenPriority[p.Value] {
			return fmt.Errorf("duplicate priority value: %d", p.Value)
		}
		seenPriority[p.Value] = true
		if p.Default {
			defaults++
		}
	}
	if defaults != 1 {
		return fmt.Errorf("exactly one default priority is required, got %d", defaults)
	}

	envDefaults := 0
	for _, e := range c.EnvironmentList {
		if e.Default {
			envDefaults++
		}
	}
	if envDefaults > 1 {
		return fmt.Errorf("at most one default environment is allowed, got %d", envDefaults)
	}

	seenRole := map[string]bool{}
	for _, r := range c.RoleTypeList {
		if seenRole[r.Slug] {
			return fmt.Errorf("duplicate role type: %s", r.Slug)
		}
		seenRole[r.Slug] = true
	}

	if c.Features.Jira && (c.Jira.URL == "" || c.Jira.ProjectKey == "") {
		return fmt.Errorf("jira.url and jira.project_key are required when jira is enabled")
	}
	if c.Features.Jira {
		if status := c.jiraStuckStatus(); status != "" {
			return fmt.Errorf("jira.close_status %q is not reachable from %q", c.Jira.CloseStatus, status)
		}
	}
	if c.Features.Confluence && c.Confluence.Domain == "" {
		return fmt.Errorf("confluence.domain is required when confluence is enabled")
	}
	return nil
}

// jiraStuckStatus は遷移を辿ってもclose_statusに届かないステータスを返す
func (c *Config) jiraStuckStatus() string {
	if len(c.Jira.Transitions) == 0 {
		return ""
	}
	reverse := map[string][]string{}
	for _, t := range c.Jira.Transitions {
		reverse[t.To] = append(reverse[t.To], t.From)
	}
	reachable := map[string]bool{c.Jira.CloseStatus: true}
	queue := []string{c.Jira.CloseStatus}
	for len(queue) > 0 {
		status := queue[0]
		queue = queue[1:]
		for _, from := range reverse[status] {
			if !reachable[from] {
				reachable[from] = true
				queue = append(queue, from)
			}
		}
	}
	for _, t := range c.Jira.Transitions {
		for _, status := range []string{t.From, t.To} {
			if !reachable[status] {
				return status
			}
		}
	}
	return ""
}

func (c *Config) AnnouncementChannels(_ context.Context) []string {
	return c.AnnouncementChannelList
}

func (c *Config) Priorities(_ context.Context) []entity.Priority {
	priorities := append([]entity.Priority(nil), c.PriorityList...)
	sort.SliceStable(priorities, func(i, j int) bool {
		return priorities[i].Value < priorities[j].Value
	})
	return priorities
}

func (c *Config) PriorityByValue(_ context.Context, value int) (*entity.Priority, error) {
	for _, p := range c.PriorityList {
		if p.Value == value {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("priority %d: %w", value, ErrNotFound)
}

func (c *Config) DefaultPriority(_ context.Context) *entity.Priority {
	for _, p := range c.PriorityList {
		if p.Default {
			return &p
		}
	}
	return nil
}

func (c *Config) Environments(_ context.Context) []entity.Environment {
	return c.EnvironmentList
}

func (c *Config) EnvironmentByValue(_ context.Context, value string) (*entity.Environment, error) {
	for _, e := range c.EnvironmentList {
		if strings.EqualFold(e.Value, value) {
			return &e, nil
		}
	}
	return nil, fmt.Errorf("environment %s: %w", value, ErrNotFound)
}

func (c *Config) DefaultEnvironment(_ context.Context) *entity.Environment {
	for _, e := range c.EnvironmentList {
		if e.Default {
			return &e
		}
	}
	if len(c.EnvironmentList) > 0 {
		return &c.EnvironmentList[0]
	}
	return nil
}

func (c *Config) Categories(_ context.Context) ([]entity.IncidentCategory, error) {
	var categories []entity.IncidentCategory
	for _, category := range c.CategoryList {
		if category.Disabled {
			continue
		}
		categories = append(categories, category)
	}
	return categories, nil
}

func (c *Config) CategoryByID(_ context.Context, id int) (*entity.IncidentCategory, error) {
	for _, category := range c.CategoryList {
		if category.ID == id {
			return &category, nil
		}
	}
	return nil, fmt.Errorf("category %d: %w", id, ErrNotFound)
}

// RoleTypes は表示順に並べて返す
func (c *Config) RoleTypes(_ context.Context) []entity.IncidentRoleType {
	roles := append([]entity.IncidentRoleType(nil), c.RoleTypeList...)
	sort.SliceStable(roles, func(i, j int) bool {
		return roles[i].Order < roles[j].Order
	})
	return roles
}

func (c *Config) PostMortemReminderThreshold() time.Duration {
	return time.Duration(c.PostMortemReminderDays) * 24 * time.Hour
}

// JiraGraph はステータス→遷移名→遷移先のグラフを返す
func (c *Config) JiraGraph() map[string]map[string]string {
	graph := map[string]map[string]string{}
	for _, t := range c.Jira.Transitions {
		if graph[t.From] == nil {
			graph[t.From] = map[string]string{}
		}
		graph[t.From][t.Name] = t.To
	}
	return graph
}
