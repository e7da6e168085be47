package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/guregu/dynamo/v2"
	"github.com/pyama86/firefighter/domain/entity"
)

var (
	incidentsTable        = "ff_incidents"
	incidentUpdatesTable  = "ff_incident_updates"
	incidentRolesTable    = "ff_incident_roles"
	countersTable         = "ff_counters"
	incidentChannelsTable = "ff_incident_channels"
	slackMessagesTable    = "ff_slack_messages"
	jiraTicketsTable      = "ff_jira_tickets"
	jiraPostMortemsTable  = "ff_jira_postmortems"
	postMortemsTable      = "ff_postmortems"
	confluencePagesTable  = "ff_confluence_pages"
	pagerDutyIncidents    = "ff_pagerduty_incidents"
	pagerDutyOncalls      = "ff_pagerduty_oncalls"
)

// 1トランザクションで書き込める件数の上限
const maxTxItems = 100

func init() {
	if os.Getenv("DYNAMO_TABLE_PREFIX") != "" {
		prefix := os.Getenv("DYNAMO_TABLE_PREFIX")
		for _, t := range []*string{
			&incidentsTable, &incidentUpdatesTable, &incidentRolesTable, &countersTable,
			&incidentChannelsTable, &slackMessagesTable, &jiraTicketsTable, &jiraPostMortemsTable,
			&postMortemsTable, &confluencePagesTable, &pagerDutyIncidents, &pagerDutyOncalls,
		} {
			*t = prefix + *t
		}
	}
}

type counter struct {
	Name  string `dynamo:"name,hash"`
	Value int    `dynamo:"value"`
}

func NewDynamoDBRepository() (*DynamoDBRepository, error) {
	var db *dynamo.DB
	if os.Getenv("DYNAMO_LOCAL") != "" {
		cfg, err := config.LoadDefaultConfig(context.TODO(),
			config.WithRegion("dummy"),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("dummy", "dummy", "dummy")),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %v", err)
		}
		db = dynamo.New(cfg, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(os.Getenv("DYNAMO_LOCAL"))
		},
		)

		err = setupDdbSchema(db)
		if err != nil {
			return nil, fmt.Errorf("failed to setup schema: %v", err)
		}
	} else {
		cfg, err := config.LoadDefaultConfig(context.TODO())
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %v", err)
		}
		db = dynamo.New(cfg)
	}

	return &DynamoDBRepository{db: db}, nil
}

func setupDdbSchema(db *dynamo.DB) error {
	schemas := map[string]interface{}{
		incidentsTable:        entity.Incident{},
		incidentUpdatesTable:  entity.IncidentUpdate{},
		incidentRolesTable:    entity.IncidentRole{},
		countersTable:         counter{},
		incidentChannelsTable: entity.IncidentChannel{},
		slackMessagesTable:    entity.SlackMessage{},
		jiraTicketsTable:      entity.JiraTicket{},
		jiraPostMortemsTable:  entity.JiraPostMortem{},
		postMortemsTable:      entity.PostMortem{},
		confluencePagesTable:  entity.ConfluencePage{},
		pagerDutyIncidents:    entity.PagerDutyIncident{},
		pagerDutyOncalls:      entity.PagerDutyOncall{},
	}
	for name, schema := range schemas {
		_, err := db.Table(name).Describe().Run(context.TODO())
		if err == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = db.CreateTable(name, schema).Provision(10, 10).Run(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to create table %s: %w", name, err)
		}
		slog.Info("table created", slog.String("table", name))
	}
	return nil
}

type DynamoDBRepository struct {
	db *dynamo.DB
}

func isConflict(err error) bool {
	if dynamo.IsCondCheckFailed(err) {
		return true
	}
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for _, r := range canceled.CancellationReasons {
			if r.Code != nil && *r.Code == "ConditionalCheckFailed" {
				return true
			}
		}
	}
	return false
}

func (r *DynamoDBRepository) NextIncidentID(ctx context.Context) (int, error) {
	var c counter
	err := r.db.Table(countersTable).Update("name", "incident").Add("value", 1).Value(ctx, &c)
	if err != nil {
		return 0, fmt.Errorf("failed to increment incident counter: %w", err)
	}
	return c.Value, nil
}

func (r *DynamoDBRepository) FindIncident(ctx context.Context, id int) (*entity.Incident, error) {
	incident := &entity.Incident{}
	err := r.db.Table(incidentsTable).Get("id", id).One(ctx, incident)
	if err != nil {
		if err == dynamo.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return incident, nil
}

func (r *DynamoDBRepository) SaveIncident(ctx context.Context, incident *entity.Incident, updates ...entity.IncidentUpdate) error {
	return r.SaveIncidentWithRoles(ctx, incident, nil, updates...)
}

func (r *DynamoDBRepository) SaveIncidentWithRoles(ctx context.Context, incident *entity.Incident, roles []entity.IncidentRole, updates ...entity.IncidentUpdate) error {
	if len(updates)+len(roles)+1 > maxTxItems {
		return fmt.Errorf("too many items in one write: %d updates, %d roles", len(updates), len(roles))
	}
	prev := incident.Version
	incident.Version = prev + 1

	put := r.db.Table(incidentsTable).Put(incident)
	if prev == 0 {
		put = put.If("attribute_not_exists('id')")
	} else {
		put = put.If("'version' = ?", prev)
	}
	tx := r.db.WriteTx().Put(put)
	for _, u := range updates {
		tx = tx.Put(r.db.Table(incidentUpdatesTable).Put(u).If("attribute_not_exists('id')"))
	}
	for _, role := range roles {
		role.UserID = ""
		if role.User != nil {
			role.UserID = role.User.ID
		}
		tx = tx.Put(r.db.Table(incidentRolesTable).Put(role))
	}
	if err := tx.Run(ctx); err != nil {
		incident.Version = prev
		if isConflict(err) {
			return fmt.Errorf("incident %d: %w", incident.ID, ErrConflict)
		}
		return err
	}
	return nil
}

func (r *DynamoDBRepository) IncidentUpdates(ctx context.Context, incidentID int) ([]entity.IncidentUpdate, error) {
	var updates []entity.IncidentUpdate
	err := r.db.Table(incidentUpdatesTable).Get("incident_id", incidentID).All(ctx, &updates)
	if err != nil {
		return nil, err
	}
	return updates, nil
}

// MitigatedIncidents はbefore以前に緩和されたMITIGATED/POST_MORTEMのインシデントを返す
func (r *DynamoDBRepository) MitigatedIncidents(ctx context.Context, before time.Time) ([]entity.Incident, error) {
	var incidents []entity.Incident
	err := r.db.Table(incidentsTable).Scan().
		Filter("'status' IN (?, ?)", entity.StatusMitigated, entity.StatusPostMortem).
		All(ctx, &incidents)
	if err != nil {
		return nil, err
	}
	var ret []entity.Incident
	for _, i := range incidents {
		if i.MitigatedAt != nil && !i.MitigatedAt.After(before) {
			ret = append(ret, i)
		}
	}
	return ret, nil
}

func (r *DynamoDBRepository) IncidentRoles(ctx context.Context, incidentID int) ([]entity.IncidentRole, error) {
	var roles []entity.IncidentRole
	err := r.db.Table(incidentRolesTable).Get("incident_id", incidentID).All(ctx, &roles)
	if err != nil {
		return nil, err
	}
	return roles, nil
}

func (r *DynamoDBRepository) RolesByUser(ctx context.Context, userID string) ([]entity.IncidentRole, error) {
	var roles []entity.IncidentRole
	err := r.db.Table(incidentRolesTable).Scan().Filter("'user_id' = ?", userID).All(ctx, &roles)
	if err != nil {
		return nil, err
	}
	return roles, nil
}

func (r *DynamoDBRepository) HasPostMortem(ctx context.Context, incidentID int) (bool, error) {
	pm, err := r.FindPostMortem(ctx, incidentID)
	if err != nil {
		return false, err
	}
	if pm != nil {
		return true, nil
	}
	jpm, err := r.FindJiraPostMortem(ctx, incidentID)
	if err != nil {
		return false, err
	}
	return jpm != nil, nil
}

func (r *DynamoDBRepository) FindPostMortem(ctx context.Context, incidentID int) (*entity.PostMortem, error) {
	pm := &entity.PostMortem{}
	if err := r.getOne(ctx, postMortemsTable, "incident_id", incidentID, pm); err != nil {
		return nil, err
	}
	if pm.IncidentID == 0 {
		return nil, nil
	}
	return pm, nil
}

func (r *DynamoDBRepository) SavePostMortem(ctx context.Context, pm *entity.PostMortem) error {
	return r.putOnce(ctx, postMortemsTable, "incident_id", pm)
}

func (r *DynamoDBRepository) FindIncidentChannel(ctx context.Context, incidentID int) (*entity.IncidentChannel, error) {
	c := &entity.IncidentChannel{}
	if err := r.getOne(ctx, incidentChannelsTable, "incident_id", incidentID, c); err != nil {
		return nil, err
	}
	if c.IncidentID == 0 {
		return nil, nil
	}
	return c, nil
}

func (r *DynamoDBRepository) FindIncidentChannelByChannelID(ctx context.Context, channelID string) (*entity.IncidentChannel, error) {
	c := &entity.IncidentChannel{}
	err := r.db.Table(incidentChannelsTable).Get("channel_id", channelID).Index("channel_id-index").One(ctx, c)
	if err != nil {
		if err == dynamo.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

func (r *DynamoDBRepository) SaveIncidentChannel(ctx context.Context, c *entity.IncidentChannel) error {
	return r.putOnce(ctx, incidentChannelsTable, "incident_id", c)
}

func (r *DynamoDBRepository) FindSlackMessage(ctx context.Context, incidentID int, messageType string) (*entity.SlackMessage, error) {
	m := &entity.SlackMessage{}
	err := r.db.Table(slackMessagesTable).Get("incident_id", incidentID).Range("message_type", dynamo.Equal, messageType).One(ctx, m)
	if err != nil {
		if err == dynamo.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

func (r *DynamoDBRepository) SaveSlackMessage(ctx context.Context, m *entity.SlackMessage) error {
	return r.db.Table(slackMessagesTable).Put(m).Run(ctx)
}

func (r *DynamoDBRepository) DeleteSlackMessage(ctx context.Context, incidentID int, messageType string) error {
	return r.db.Table(slackMessagesTable).Delete("incident_id", incidentID).Range("message_type", messageType).Run(ctx)
}

func (r *DynamoDBRepository) FindJiraTicket(ctx context.Context, incidentID int) (*entity.JiraTicket, error) {
	t := &entity.JiraTicket{}
	if err := r.getOne(ctx, jiraTicketsTable, "incident_id", incidentID, t); err != nil {
		return nil, err
	}
	if t.IncidentID == 0 {
		return nil, nil
	}
	return t, nil
}

func (r *DynamoDBRepository) SaveJiraTicket(ctx context.Context, t *entity.JiraTicket) error {
	return r.putOnce(ctx, jiraTicketsTable, "incident_id", t)
}

func (r *DynamoDBRepository) FindJiraPostMortem(ctx context.Context, incidentID int) (*entity.JiraPostMortem, error) {
	t := &entity.JiraPostMortem{}
	if err := r.getOne(ctx, jiraPostMortemsTable, "incident_id", incidentID, t); err != nil {
		return nil, err
	}
	if t.IncidentID == 0 {
		return nil, nil
	}
	return t, nil
}

func (r *DynamoDBRepository) SaveJiraPostMortem(ctx context.Context, t *entity.JiraPostMortem) error {
	return r.putOnce(ctx, jiraPostMortemsTable, "incident_id", t)
}

func (r *DynamoDBRepository) ConfluencePages(ctx context.Context) ([]entity.ConfluencePage, error) {
	var pages []entity.ConfluencePage
	if err := r.db.Table(confluencePagesTable).Scan().All(ctx, &pages); err != nil {
		return nil, err
	}
	return pages, nil
}

func (r *DynamoDBRepository) SaveConfluencePage(ctx context.Context, page *entity.ConfluencePage) error {
	return r.db.Table(confluencePagesTable).Put(page).Run(ctx)
}

func (r *DynamoDBRepository) DeleteConfluencePages(ctx context.Context, pageIDs ...string) error {
	for _, id := range pageIDs {
		if err := r.db.Table(confluencePagesTable).Delete("page_id", id).Run(ctx); err != nil {
			return fmt.Errorf("failed to delete confluence page %s: %w", id, err)
		}
	}
	return nil
}

func (r *DynamoDBRepository) Oncalls(ctx context.Context) ([]entity.PagerDutyOncall, error) {
	var oncalls []entity.PagerDutyOncall
	if err := r.db.Table(pagerDutyOncalls).Scan().All(ctx, &oncalls); err != nil {
		return nil, err
	}
	return oncalls, nil
}

func (r *DynamoDBRepository) ReplaceOncalls(ctx context.Context, upserts []entity.PagerDutyOncall, deletes []string) error {
	table := r.db.Table(pagerDutyOncalls)
	// 削除より先に全件を書き込み、途中で失敗しても当番が消えるだけにはしない
	for _, chunk := range chunked(upserts, maxTxItems) {
		tx := r.db.WriteTx()
		for _, o := range chunk {
			tx = tx.Put(table.Put(o))
		}
		if err := tx.Run(ctx); err != nil {
			return fmt.Errorf("failed to write %d oncalls: %w", len(chunk), err)
		}
	}
	for _, chunk := range chunked(deletes, maxTxItems) {
		tx := r.db.WriteTx()
		for _, id := range chunk {
			tx = tx.Delete(table.Delete("id", id))
		}
		if err := tx.Run(ctx); err != nil {
			return fmt.Errorf("failed to delete %d oncalls: %w", len(chunk), err)
		}
	}
	return nil
}

func chunked[T any](items []T, size int) [][]T {
	var ret [][]T
	for len(items) > size {
		ret = append(ret, items[:size])
		items = items[size:]
	}
	if len(items) > 0 {
		ret = append(ret, items)
	}
	return ret
}

func (r *DynamoDBRepository) FindPagerDutyIncident(ctx context.Context, incidentID int) (*entity.PagerDutyIncident, error) {
	p := &entity.PagerDutyIncident{}
	if err := r.getOne(ctx, pagerDutyIncidents, "incident_id", incidentID, p); err != nil {
		return nil, err
	}
	if p.IncidentID == 0 {
		return nil, nil
	}
	return p, nil
}

func (r *DynamoDBRepository) SavePagerDutyIncident(ctx context.Context, p *entity.PagerDutyIncident) error {
	return r.putOnce(ctx, pagerDutyIncidents, "incident_id", p)
}

// putOnce は同じキーの行がすでにあればErrConflictを返す
func (r *DynamoDBRepository) putOnce(ctx context.Context, table, key string, item interface{}) error {
	err := r.db.Table(table).Put(item).If("attribute_not_exists($)", key).Run(ctx)
	if err != nil && isConflict(err) {
		return fmt.Errorf("%s: %w", table, ErrConflict)
	}
	return err
}

// getOne は見つからなければoutをゼロ値のままにする
func (r *DynamoDBRepository) getOne(ctx context.Context, table, key string, value interface{}, out interface{}) error {
	err := r.db.Table(table).Get(key, value).One(ctx, out)
	if err != nil && err != dynamo.ErrNotFound {
		return err
	}
	return nil
}
