package repository

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	jira "github.com/andygrunwald/go-jira"
)

type JiraIssue struct {
	ID     string
	Key    string
	URL    string
	Status string
}

type JiraTransition struct {
	ID   string
	Name string
	To   string
}

type JiraRepositoryer interface {
	CreateIssue(ctx context.Context, projectKey, issueType, summary, description string) (*JiraIssue, error)
	GetIssue(ctx context.Context, key string) (*JiraIssue, error)
	Transitions(ctx context.Context, key string) ([]JiraTransition, error)
	DoTransition(ctx context.Context, key, transitionID string) error
	UpdateField(ctx context.Context, key, field string, value interface{}) error
}

type JiraRepository struct {
	baseURL string
	client  *jira.Client
}

func NewJiraRepository(baseURL, user, token string) (*JiraRepository, error) {
	tp := jira.BasicAuthTransport{
		Username: user,
		Password: token,
	}
	httpClient := tp.Client()
	httpClient.Timeout = 30 * time.Second

	client, err := jira.NewClient(httpClient, baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create jira client: %w", err)
	}
	return &JiraRepository{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
	}, nil
}

func (r *JiraRepository) browseURL(key string) string {
	return fmt.Sprintf("%s/browse/%s", r.baseURL, key)
}

func (r *JiraRepository) CreateIssue(ctx context.Context, projectKey, issueType, summary, description string) (*JiraIssue, error) {
	issue, resp, err := r.client.Issue.CreateWithContext(ctx, &jira.Issue{
		Fields: &jira.IssueFields{
			Project:     jira.Project{Key: projectKey},
			Type:        jira.IssueType{Name: issueType},
			Summary:     summary,
			Description: description,
		},
	})
	if err != nil {
		return nil, wrapJiraError("create issue", resp, err)
	}
	return &JiraIssue{
		ID:  issue.ID,
		Key: issue.Key,
		URL: r.browseURL(issue.Key),
	}, nil
}

func (r *JiraRepository) GetIssue(ctx context.Context, key string) (*JiraIssue, error) {
	issue, resp, err := r.client.Issue.GetWithContext(ctx, key, nil)
	if err != nil {
		return nil, wrapJiraError("get issue", resp, err)
	}
	ret := &JiraIssue{
		ID:  issue.ID,
		Key: issue.Key,
		URL: r.browseURL(issue.Key),
	}
	if issue.Fields != nil && issue.Fields.Status != nil {
		ret.Status = issue.Fields.Status.Name
	}
	return ret, nil
}

func (r *JiraRepository) Transitions(ctx context.Context, key string) ([]JiraTransition, error) {
	transitions, resp, err := r.client.Issue.GetTransitionsWithContext(ctx, key)
	if err != nil {
		return nil, wrapJiraError("get transitions", resp, err)
	}
	ret := make([]JiraTransition, 0, len(transitions))
	for _, t := range transitions {
		ret = append(ret, JiraTransition{ID: t.ID, Name: t.Name, To: t.To.Name})
	}
	return ret, nil
}

func (r *JiraRepository) DoTransition(ctx context.Context, key, transitionID string) error {
	resp, err := r.client.Issue.DoTransitionWithContext(ctx, key, transitionID)
	if err != nil {
		return wrapJiraError("do transition", resp, err)
	}
	return nil
}

// UpdateField はフィールドを丸ごと上書きする
func (r *JiraRepository) UpdateField(ctx context.Context, key, field string, value interface{}) error {
	resp, err := r.client.Issue.UpdateIssueWithContext(ctx, key, map[string]interface{}{
		"fields": map[string]interface{}{
			field: value,
		},
	})
	if err != nil {
		return wrapJiraError("update issue", resp, err)
	}
	return nil
}

func wrapJiraError(op string, resp *jira.Response, err error) error {
	if resp != nil && resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("failed to %s (status %d): %w", op, resp.StatusCode, err)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
