package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pyama86/firefighter/domain/entity"
)

// MemoryRepository はプロセス内に状態を持つStoreRepository
// ローカル起動とテストで使う。DynamoDBRepositoryと同じ条件で競合を返す
type MemoryRepository struct {
	mu              sync.Mutex
	counter         int
	incidents       map[int]entity.Incident
	updates         map[int][]entity.IncidentUpdate
	updateIDs       map[string]bool
	roles           map[int]map[string]entity.IncidentRole
	postMortems     map[int]entity.PostMortem
	channels        map[int]entity.IncidentChannel
	messages        map[int]map[string]entity.SlackMessage
	jiraTickets     map[int]entity.JiraTicket
	jiraPostMortems map[int]entity.JiraPostMortem
	pages           map[string]entity.ConfluencePage
	oncalls         map[string]entity.PagerDutyOncall
	pdIncidents     map[int]entity.PagerDutyIncident
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		incidents:       map[int]entity.Incident{},
		updates:         map[int][]entity.IncidentUpdate{},
		updateIDs:       map[string]bool{},
		roles:           map[int]map[string]entity.IncidentRole{},
		postMortems:     map[int]entity.PostMortem{},
		channels:        map[int]entity.IncidentChannel{},
		messages:        map[int]map[string]entity.SlackMessage{},
		jiraTickets:     map[int]entity.JiraTicket{},
		jiraPostMortems: map[int]entity.JiraPostMortem{},
		pages:           map[string]entity.ConfluencePage{},
		oncalls:         map[string]entity.PagerDutyOncall{},
		pdIncidents:     map[int]entity.PagerDutyIncident{},
	}
}

func (r *MemoryRepository) NextIncidentID(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counter++
	return r.counter, nil
}

func (r *MemoryRepository) FindIncident(_ context.Context, id int) (*entity.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.incidents[id]
	if !ok {
		return nil, nil
	}
	return &i, nil
}

func (r *MemoryRepository) SaveIncident(ctx context.Context, incident *entity.Incident, updates ...entity.IncidentUpdate) error {
	return r.SaveIncidentWithRoles(ctx, incident, nil, updates...)
}

func (r *MemoryRepository) SaveIncidentWithRoles(_ context.Context, incident *entity.Incident, roles []entity.IncidentRole, updates ...entity.IncidentUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.incidents[incident.ID]
	if (incident.Version == 0 && exists) || (incident.Version != 0 && (!exists || stored.Version != incident.Version)) {
		return fmt.Errorf("incident %d: %w", incident.ID, ErrConflict)
	}
	for _, u := range updates {
		if r.updateIDs[u.ID] {
			return fmt.Errorf("incident update %s: %w", u.ID, ErrConflict)
		}
	}

	incident.Version++
	r.incidents[incident.ID] = *incident
	for _, u := range updates {
		r.updateIDs[u.ID] = true
		r.updates[u.IncidentID] = append(r.updates[u.IncidentID], u)
	}
	for _, role := range roles {
		role.UserID = ""
		if role.User != nil {
			role.UserID = role.User.ID
		}
		if r.roles[role.IncidentID] == nil {
			r.roles[role.IncidentID] = map[string]entity.IncidentRole{}
		}
		r.roles[role.IncidentID][role.RoleType] = role
	}
	return nil
}

func (r *MemoryRepository) IncidentUpdates(_ context.Context, incidentID int) ([]entity.IncidentUpdate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]entity.IncidentUpdate(nil), r.updates[incidentID]...), nil
}

func (r *MemoryRepository) MitigatedIncidents(_ context.Context, before time.Time) ([]entity.Incident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ret []entity.Incident
	for _, i := range r.sortedIncidents() {
		if i.Status != entity.StatusMitigated && i.Status != entity.StatusPostMortem {
			continue
		}
		if i.MitigatedAt != nil && !i.MitigatedAt.After(before) {
			ret = append(ret, i)
		}
	}
	return ret, nil
}

func (r *MemoryRepository) sortedIncidents() []entity.Incident {
	ret := make([]entity.Incident, 0, len(r.incidents))
	for _, i := range r.incidents {
		ret = append(ret, i)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].ID < ret[j].ID })
	return ret
}

func (r *MemoryRepository) IncidentRoles(_ context.Context, incidentID int) ([]entity.IncidentRole, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ret []entity.IncidentRole
	for _, role := range r.roles[incidentID] {
		ret = append(ret, role)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].RoleType < ret[j].RoleType })
	return ret, nil
}

func (r *MemoryRepository) RolesByUser(_ context.Context, userID string) ([]entity.IncidentRole, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ret []entity.IncidentRole
	for _, roles := range r.roles {
		for _, role := range roles {
			if role.UserID == userID {
				ret = append(ret, role)
			}
		}
	}
	return ret, nil
}

// HasPostMortem はConfluenceかJiraのどちらかにポストモーテムがあればtrueを返す
func (r *MemoryRepository) HasPostMortem(_ context.Context, incidentID int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.postMortems[incidentID]; ok {
		return true, nil
	}
	_, ok := r.jiraPostMortems[incidentID]
	return ok, nil
}

func (r *MemoryRepository) FindPostMortem(_ context.Context, incidentID int) (*entity.PostMortem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pm, ok := r.postMortems[incidentID]
	if !ok {
		return nil, nil
	}
	return &pm, nil
}

func (r *MemoryRepository) SavePostMortem(_ context.Context, pm *entity.PostMortem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.postMortems[pm.IncidentID]; ok {
		return fmt.Errorf("postmortem %d: %w", pm.IncidentID, ErrConflict)
	}
	r.postMortems[pm.IncidentID] = *pm
	return nil
}

func (r *MemoryRepository) FindIncidentChannel(_ context.Context, incidentID int) (*entity.IncidentChannel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.channels[incidentID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *MemoryRepository) FindIncidentChannelByChannelID(_ context.Context, channelID string) (*entity.IncidentChannel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.channels {
		if c.ChannelID == channelID {
			return &c, nil
		}
	}
	return nil, nil
}

func (r *MemoryRepository) SaveIncidentChannel(_ context.Context, c *entity.IncidentChannel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.channels[c.IncidentID]; ok {
		return fmt.Errorf("incident channel %d: %w", c.IncidentID, ErrConflict)
	}
	r.channels[c.IncidentID] = *c
	return nil
}

func (r *MemoryRepository) FindSlackMessage(_ context.Context, incidentID int, messageType string) (*entity.SlackMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[incidentID][messageType]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (r *MemoryRepository) SaveSlackMessage(_ context.Context, m *entity.SlackMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.messages[m.IncidentID] == nil {
		r.messages[m.IncidentID] = map[string]entity.SlackMessage{}
	}
	r.messages[m.IncidentID][m.MessageType] = *m
	return nil
}

func (r *MemoryRepository) DeleteSlackMessage(_ context.Context, incidentID int, messageType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.messages[incidentID], messageType)
	return nil
}

func (r *MemoryRepository) FindJiraTicket(_ context.Context, incidentID int) (*entity.JiraTicket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.jiraTickets[incidentID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (r *MemoryRepository) SaveJiraTicket(_ context.Context, t *entity.JiraTicket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jiraTickets[t.IncidentID]; ok {
		return fmt.Errorf("jira ticket %d: %w", t.IncidentID, ErrConflict)
	}
	r.jiraTickets[t.IncidentID] = *t
	return nil
}

func (r *MemoryRepository) FindJiraPostMortem(_ context.Context, incidentID int) (*entity.JiraPostMortem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.jiraPostMortems[incidentID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (r *MemoryRepository) SaveJiraPostMortem(_ context.Context, t *entity.JiraPostMortem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jiraPostMortems[t.IncidentID]; ok {
		return fmt.Errorf("jira postmortem %d: %w", t.IncidentID, ErrConflict)
	}
	r.jiraPostMortems[t.IncidentID] = *t
	return nil
}

func (r *MemoryRepository) ConfluencePages(_ context.Context) ([]entity.ConfluencePage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ret []entity.ConfluencePage
	for _, p := range r.pages {
		ret = append(ret, p)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].PageID < ret[j].PageID })
	return ret, nil
}

func (r *MemoryRepository) SaveConfluencePage(_ context.Context, page *entity.ConfluencePage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pages[page.PageID] = *page
	return nil
}

func (r *MemoryRepository) DeleteConfluencePages(_ context.Context, pageIDs ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range pageIDs {
		delete(r.pages, id)
	}
	return nil
}

func (r *MemoryRepository) Oncalls(_ context.Context) ([]entity.PagerDutyOncall, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ret []entity.PagerDutyOncall
	for _, o := range r.oncalls {
		ret = append(ret, o)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].ID < ret[j].ID })
	return ret, nil
}

func (r *MemoryRepository) ReplaceOncalls(_ context.Context, upserts []entity.PagerDutyOncall, deletes []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range upserts {
		r.oncalls[o.ID] = o
	}
	for _, id := range deletes {
		delete(r.oncalls, id)
	}
	return nil
}

func (r *MemoryRepository) FindPagerDutyIncident(_ context.Context, incidentID int) (*entity.PagerDutyIncident, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pdIncidents[incidentID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *MemoryRepository) SavePagerDutyIncident(_ context.Context, p *entity.PagerDutyIncident) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pdIncidents[p.IncidentID]; ok {
		return fmt.Errorf("pagerduty incident %d: %w", p.IncidentID, ErrConflict)
	}
	r.pdIncidents[p.IncidentID] = *p
	return nil
}
