package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/pyama86/firefighter/domain/entity"
	goconfluence "github.com/virtomize/confluence-go-api"
)

const confluencePageSize = 100

type ConfluenceRepositoryer interface {
	PostMortemExporter
	ListPages(ctx context.Context, folderIDs []string) ([]entity.ConfluencePage, error)
}

type ConfluenceRepository struct {
	domain     string
	ansectorID string
	spaceKey   string
	client     *goconfluence.API
}

func NewConfluenceRepository(domain, user, password, spaceKey, ancestorID string) (*ConfluenceRepository, error) {
	api, err := goconfluence.NewAPI(
		fmt.Sprintf("https://%s.atlassian.net/wiki/rest/api", domain),
		user,
		password)
	if err != nil {
		return nil, fmt.Errorf("failed to create confluence api: %w", err)
	}

	return &ConfluenceRepository{
		domain:     domain,
		ansectorID: ancestorID,
		spaceKey:   spaceKey,
		client:     api,
	}, nil
}

func (c *ConfluenceRepository) pageURL(id string) string {
	return fmt.Sprintf("https://%s.atlassian.net/wiki/spaces/%s/pages/%s", c.domain, c.spaceKey, id)
}

func (c *ConfluenceRepository) ExportPostMortem(ctx context.Context, title, body string) (*entity.PostMortem, error) {
	data := &goconfluence.Content{
		Type:  "page",
		Title: title,
		Body: goconfluence.Body{
			Storage: goconfluence.Storage{
				Value:          body,
				Representation: "storage",
			},
		},
		Version: &goconfluence.Version{ // mandatory
			Number: 1,
		},
	}
	if c.ansectorID != "" {
		data.Ancestors = append(data.Ancestors, goconfluence.Ancestor{
			ID: c.ansectorID,
		})
	}

	if c.spaceKey != "" {
		data.Space = &goconfluence.Space{
			Key: c.spaceKey,
		}
	}

	content, err := c.client.CreateContent(data)
	if err != nil {
		return nil, fmt.Errorf("failed to create confluence page: %w", err)
	}

	return &entity.PostMortem{
		PageID:    content.ID,
		Title:     content.Title,
		URL:       c.pageURL(content.ID),
		CreatedAt: time.Now(),
	}, nil
}

// ListPages はfolderIDsのいずれかを祖先に持つページを返す
// ParentIDには一番近い祖先フォルダが入る
func (c *ConfluenceRepository) ListPages(ctx context.Context, folderIDs []string) ([]entity.ConfluencePage, error) {
	folders := map[string]bool{}
	for _, id := range folderIDs {
		folders[id] = true
	}

	var pages []entity.ConfluencePage
	start := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := c.client.GetContent(goconfluence.ContentQuery{
			SpaceKey: c.spaceKey,
			Type:     "page",
			Expand:   []string{"ancestors"},
			Start:    start,
			Limit:    confluencePageSize,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get confluence pages: %w", err)
		}
		for _, content := range res.Results {
			parent := ""
			for i := len(content.Ancestors) - 1; i >= 0; i-- {
				if folders[content.Ancestors[i].ID] {
					parent = content.Ancestors[i].ID
					break
				}
			}
			if parent == "" {
				continue
			}
			pages = append(pages, entity.ConfluencePage{
				PageID:   content.ID,
				Title:    content.Title,
				URL:      c.pageURL(content.ID),
				ParentID: parent,
			})
		}
		if res.Size < confluencePageSize {
			break
		}
		start += res.Size
	}
	return pages, nil
}
