package repository

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/PagerDuty/go-pagerduty"
)

const pagerDutyPageSize = 100

type PagerDutyOncallRecord struct {
	UserID             string
	UserName           string
	Email              string
	EscalationPolicyID string
	EscalationLevel    int
	Start              string
	End                string
}

type PagerDutyContactMethod struct {
	Type    string
	Summary string
	Address string
	Country int
}

type PagerDutyRepositoryer interface {
	ListOncalls(ctx context.Context) ([]PagerDutyOncallRecord, error)
	ContactMethods(ctx context.Context, userID string) ([]PagerDutyContactMethod, error)
	CreateIncident(ctx context.Context, from, serviceID, title, details, incidentKey string) (string, string, error)
}

type PagerDutyRepository struct {
	client *pagerduty.Client
}

func NewPagerDutyRepository(token string) *PagerDutyRepository {
	client := pagerduty.NewClient(token)
	client.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	return &PagerDutyRepository{client: client}
}

func (r *PagerDutyRepository) ListOncalls(ctx context.Context) ([]PagerDutyOncallRecord, error) {
	var records []PagerDutyOncallRecord
	var offset uint
	for {
		opts := pagerduty.ListOnCallOptions{
			Includes: []string{"users"},
			Earliest: true,
		}
		opts.Limit = pagerDutyPageSize
		opts.Offset = offset
		resp, err := r.client.ListOnCallsWithContext(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list oncalls: %w", err)
		}
		for _, o := range resp.OnCalls {
			records = append(records, PagerDutyOncallRecord{
				UserID:             o.User.ID,
				UserName:           o.User.Name,
				Email:              o.User.Email,
				EscalationPolicyID: o.EscalationPolicy.ID,
				EscalationLevel:    int(o.EscalationLevel),
				Start:              o.Start,
				End:                o.End,
			})
		}
		if !resp.More {
			break
		}
		offset += uint(len(resp.OnCalls))
	}
	return records, nil
}

func (r *PagerDutyRepository) ContactMethods(ctx context.Context, userID string) ([]PagerDutyContactMethod, error) {
	resp, err := r.client.ListUserContactMethodsWithContext(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contact methods of %s: %w", userID, err)
	}
	methods := make([]PagerDutyContactMethod, 0, len(resp.ContactMethods))
	for _, m := range resp.ContactMethods {
		methods = append(methods, PagerDutyContactMethod{
			Type:    m.Type,
			Summary: m.Summary,
			Address: m.Address,
			Country: m.CountryCode,
		})
	}
	return methods, nil
}

// CreateIncident はPagerDutyのインシデントを作成しIDとURLを返す
func (r *PagerDutyRepository) CreateIncident(ctx context.Context, from, serviceID, title, details, incidentKey string) (string, string, error) {
	incident, err := r.client.CreateIncidentWithContext(ctx, from, &pagerduty.CreateIncidentOptions{
		Type:  "incident",
		Title: title,
		Service: &pagerduty.APIReference{
			ID:   serviceID,
			Type: "service_reference",
		},
		Body: &pagerduty.APIDetails{
			Type:    "incident_body",
			Details: details,
		},
		IncidentKey: incidentKey,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to create pagerduty incident: %w", err)
	}
	return incident.ID, incident.HTMLURL, nil
}
