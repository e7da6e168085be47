package repository

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Songmu/retry"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"
)

// PostMortemDraft はAIが下書きしたポストモーテムの各セクション
type PostMortemDraft struct {
	Summary     string
	Impact      string
	RootCause   string
	ActionItems string
}

type AIRepositorier interface {
	DraftPostMortem(ctx context.Context, description, timeline string) (*PostMortemDraft, error)
}

type AIRepository struct {
	client *openai.Client
	model  string
}

func NewAIRepository() (*AIRepository, error) {
	if os.Getenv("OPENAI_API_KEY") == "" && os.Getenv("AZURE_OPENAI_KEY") == "" {
		return nil, nil
	}

	var model = "gpt-4o"
	if os.Getenv("OPENAI_MODEL") != "" {
		model = os.Getenv("OPENAI_MODEL")
	}
	client, err := newOpenAIClient()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenAI client: %w", err)
	}
	return &AIRepository{
		client: client,
		model:  model,
	}, nil
}

func newOpenAIClient() (*openai.Client, error) {
	if os.Getenv("AZURE_OPENAI_ENDPOINT") != "" {
		return newAzureClient()
	}

	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is not set")
	}

	c := openai.NewClient(option.WithAPIKey(key))
	return &c, nil
}

func newAzureClient() (*openai.Client, error) {
	key := os.Getenv("AZURE_OPENAI_KEY")
	if key == "" {
		return nil, fmt.Errorf("AZURE_OPENAI_KEY is not set")
	}

	apiVersion := "2025-01-01-preview"
	if os.Getenv("AZURE_OPENAI_API_VERSION") != "" {
		apiVersion = os.Getenv("AZURE_OPENAI_API_VERSION")
	}

	c := openai.NewClient(
		azure.WithEndpoint(os.Getenv("AZURE_OPENAI_ENDPOINT"), apiVersion),
		azure.WithAPIKey(key),
	)
	return &c, nil
}

const draftPrompt = `## 依頼内容
インシデントのポストモーテムの下書きを作成してください。
あなたにはインシデントの概要とタイムラインが与えられます。

## フォーマットの指定：
以下の4つの見出しをこの順番で、見出し行はそのまま出力してください。
見出し以外の構造化は不要です。

[SUMMARY]
[IMPACT]
[ROOT_CAUSE]
[ACTION_ITEMS]

## 重要な指示：
- 与えられた情報に記載がないことは推測せず「確認中」と記載してください

## インシデントの概要
%s

## タイムライン
%s`

var draftSections = []string{"[SUMMARY]", "[IMPACT]", "[ROOT_CAUSE]", "[ACTION_ITEMS]"}

func (h *AIRepository) DraftPostMortem(ctx context.Context, description, timeline string) (*PostMortemDraft, error) {
	text, err := h.callOpenAIWithRetry(ctx, fmt.Sprintf(draftPrompt, description, timeline))
	if err != nil {
		return nil, fmt.Errorf("failed to draft postmortem: %w", err)
	}
	return parseDraft(text), nil
}

// parseDraft は見出しで区切られた応答をセクションに分割する
// 見出しが欠けている場合は全文を概要として扱う
func parseDraft(text string) *PostMortemDraft {
	sections := map[string]string{}
	current := ""
	var buf []string
	flush := func() {
		if current != "" {
			sections[current] = strings.TrimSpace(strings.Join(buf, "\n"))
		}
		buf = nil
	}
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		isHeader := false
		for _, s := range draftSections {
			if trimmed == s {
				flush()
				current = s
				isHeader = true
				break
			}
		}
		if !isHeader {
			buf = append(buf, line)
		}
	}
	flush()

	if len(sections) == 0 {
		return &PostMortemDraft{Summary: strings.TrimSpace(text)}
	}
	return &PostMortemDraft{
		Summary:     sections["[SUMMARY]"],
		Impact:      sections["[IMPACT]"],
		RootCause:   sections["[ROOT_CAUSE]"],
		ActionItems: sections["[ACTION_ITEMS]"],
	}
}

// 共通のリトライ機能付きOpenAI API呼び出し
func (h *AIRepository) callOpenAIWithRetry(ctx context.Context, prompt string) (string, error) {
	var result string
	err := retry.Retry(3, time.Second*3, func() error {
		resp, err := h.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.UserMessage(prompt),
			},
			Model: h.model,
		})
		if err != nil {
			return err
		}

		if len(resp.Choices) == 0 {
			return fmt.Errorf("no response from OpenAI")
		}

		result = resp.Choices[0].Message.Content
		return nil
	})

	return result, err
}
