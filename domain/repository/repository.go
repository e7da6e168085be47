package repository

import (
	"context"
	"errors"
	"time"

	"github.com/pyama86/firefighter/domain/entity"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict は楽観ロックに失敗したとき、またはタイムラインを上書きしようとしたときに返る
	ErrConflict = errors.New("conflict")
)

type IncidentRepository interface {
	NextIncidentID(context.Context) (int, error)
	FindIncident(context.Context, int) (*entity.Incident, error)
	// SaveIncident はインシデントとタイムラインを1トランザクションで書き込む
	SaveIncident(context.Context, *entity.Incident, ...entity.IncidentUpdate) error
	// SaveIncidentWithRoles はロールもインシデントと同じトランザクションで書き込む
	SaveIncidentWithRoles(context.Context, *entity.Incident, []entity.IncidentRole, ...entity.IncidentUpdate) error
	IncidentUpdates(context.Context, int) ([]entity.IncidentUpdate, error)
	MitigatedIncidents(context.Context, time.Time) ([]entity.Incident, error)
}

type RoleRepository interface {
	IncidentRoles(context.Context, int) ([]entity.IncidentRole, error)
	RolesByUser(context.Context, string) ([]entity.IncidentRole, error)
}

type PostMortemRepository interface {
	HasPostMortem(context.Context, int) (bool, error)
	FindPostMortem(context.Context, int) (*entity.PostMortem, error)
	SavePostMortem(context.Context, *entity.PostMortem) error
}

type ChannelRepository interface {
	FindIncidentChannel(context.Context, int) (*entity.IncidentChannel, error)
	FindIncidentChannelByChannelID(context.Context, string) (*entity.IncidentChannel, error)
	SaveIncidentChannel(context.Context, *entity.IncidentChannel) error
	FindSlackMessage(context.Context, int, string) (*entity.SlackMessage, error)
	SaveSlackMessage(context.Context, *entity.SlackMessage) error
	DeleteSlackMessage(context.Context, int, string) error
}

type JiraTicketRepository interface {
	FindJiraTicket(context.Context, int) (*entity.JiraTicket, error)
	SaveJiraTicket(context.Context, *entity.JiraTicket) error
	FindJiraPostMortem(context.Context, int) (*entity.JiraPostMortem, error)
	SaveJiraPostMortem(context.Context, *entity.JiraPostMortem) error
}

type ConfluencePageRepository interface {
	ConfluencePages(context.Context) ([]entity.ConfluencePage, error)
	SaveConfluencePage(context.Context, *entity.ConfluencePage) error
	DeleteConfluencePages(context.Context, ...string) error
}

type OncallRepository interface {
	Oncalls(context.Context) ([]entity.PagerDutyOncall, error)
	// ReplaceOncalls は全件を書き込んでから削除する。書き込みは件数上限ごとに分割される
	ReplaceOncalls(context.Context, []entity.PagerDutyOncall, []string) error
	FindPagerDutyIncident(context.Context, int) (*entity.PagerDutyIncident, error)
	SavePagerDutyIncident(context.Context, *entity.PagerDutyIncident) error
}

type PriorityRepository interface {
	Priorities(context.Context) []entity.Priority
	PriorityByValue(context.Context, int) (*entity.Priority, error)
	DefaultPriority(context.Context) *entity.Priority
}

type EnvironmentRepository interface {
	Environments(context.Context) []entity.Environment
	EnvironmentByValue(context.Context, string) (*entity.Environment, error)
	DefaultEnvironment(context.Context) *entity.Environment
}

type CategoryRepository interface {
	Categories(context.Context) ([]entity.IncidentCategory, error)
	CategoryByID(context.Context, int) (*entity.IncidentCategory, error)
}

type RoleTypeRepository interface {
	RoleTypes(context.Context) []entity.IncidentRoleType
}

// StoreRepository は永続化層
type StoreRepository interface {
	IncidentRepository
	RoleRepository
	PostMortemRepository
}

// Store はコネクタの記録も含めた永続化層全体。DynamoDBとメモリの実装がある
type Store interface {
	StoreRepository
	ChannelRepository
	JiraTicketRepository
	ConfluencePageRepository
	OncallRepository
}

// SettingRepository は設定ファイル由来のマスタ
type SettingRepository interface {
	PriorityRepository
	EnvironmentRepository
	CategoryRepository
	RoleTypeRepository
}

type Repository interface {
	StoreRepository
	SettingRepository
}

type RepositoryFacade struct {
	StoreRepository
	SettingRepository
}

type PostMortemExporter interface {
	ExportPostMortem(context.Context, string, string) (*entity.PostMortem, error)
}

func NewRepository(store StoreRepository, setting SettingRepository) Repository {
	return RepositoryFacade{
		StoreRepository:   store,
		SettingRepository: setting,
	}
}
