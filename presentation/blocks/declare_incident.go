package blocks

import (
	"fmt"

	"github.com/pyama86/firefighter/domain/entity"
	"github.com/slack-go/slack"
)

const (
	DeclareTitleBlock       = "title_block"
	DeclareTitleAction      = "title_text"
	DeclareDescriptionBlock = "description_block"
	DeclareDescriptionInput = "description_text"
	DeclarePriorityBlock    = "priority_block"
	DeclarePriorityAction   = "priority_select"
	DeclareEnvBlock         = "environment_block"
	DeclareEnvAction        = "environment_select"
	DeclareCategoryBlock    = "category_block"
	DeclareCategoryAction   = "category_select"
	DeclarePrivateBlock     = "private_block"
	DeclarePrivateAction    = "private_check"
)

func priorityOptions(priorities []entity.Priority, forCreate bool) ([]*slack.OptionBlockObject, *slack.OptionBlockObject) {
	var (
		options []*slack.OptionBlockObject
		initial *slack.OptionBlockObject
	)
	for _, p := range priorities {
		if (forCreate && !p.EnabledCreate) || (!forCreate && !p.EnabledUpdate) {
			continue
		}
		o := slack.NewOptionBlockObject(fmt.Sprintf("%d", p.Value), plain(p.Label()), plain(p.Description))
		if p.Default {
			initial = o
		}
		options = append(options, o)
	}
	return options, initial
}

func DeclareIncident(priorities []entity.Priority, envs []entity.Environment, categories []entity.IncidentCategory) slack.Blocks {
	pOptions, pInitial := priorityOptions(priorities, true)

	envOptions := make([]*slack.OptionBlockObject, 0, len(envs))
	var envInitial *slack.OptionBlockObject
	for _, e := range envs {
		o := slack.NewOptionBlockObject(e.Value, plain(e.Name), nil)
		if e.Default {
			envInitial = o
		}
		envOptions = append(envOptions, o)
	}

	categoryOptions := make([]*slack.OptionBlockObject, 0, len(categories))
	for _, c := range categories {
		name := c.Name
		if c.Group != "" {
			name = c.Group + " / " + c.Name
		}
		categoryOptions = append(categoryOptions, slack.NewOptionBlockObject(fmt.Sprintf("%d", c.ID), plain(name), nil))
	}

	return slack.Blocks{
		BlockSet: []slack.Block{
			&slack.InputBlock{
				Type:    slack.MBTInput,
				BlockID: DeclareTitleBlock,
				Label:   plain("タイトル"),
				Element: &slack.PlainTextInputBlockElement{
					Type:        slack.METPlainTextInput,
					ActionID:    DeclareTitleAction,
					Placeholder: plain("例: ログインできない"),
				},
			},
			&slack.InputBlock{
				Type:    slack.MBTInput,
				BlockID: DeclareDescriptionBlock,
				Label:   plain("現在の状況について教えて下さい"),
				Element: &slack.PlainTextInputBlockElement{
					Type:      slack.METPlainTextInput,
					ActionID:  DeclareDescriptionInput,
					Multiline: true,
				},
				Optional: true,
			},

			slack.NewDividerBlock(),

			&slack.InputBlock{
				Type:    slack.MBTInput,
				BlockID: DeclarePriorityBlock,
				Label:   plain("⚠️ 優先度"),
				Element: &slack.SelectBlockElement{
					Type:          slack.OptTypeStatic,
					ActionID:      DeclarePriorityAction,
					Options:       pOptions,
					InitialOption: pInitial,
					Placeholder:   plain("選択してください"),
				},
			},
			&slack.InputBlock{
				Type:    slack.MBTInput,
				BlockID: DeclareEnvBlock,
				Label:   plain("🌐 環境"),
				Element: &slack.SelectBlockElement{
					Type:          slack.OptTypeStatic,
					ActionID:      DeclareEnvAction,
					Options:       envOptions,
					InitialOption: envInitial,
					Placeholder:   plain("選択してください"),
				},
			},
			&slack.InputBlock{
				Type:    slack.MBTInput,
				BlockID: DeclareCategoryBlock,
				Label:   plain("🛠️ カテゴリ"),
				Element: &slack.SelectBlockElement{
					Type:        slack.OptTypeStatic,
					ActionID:    DeclareCategoryAction,
					Options:     categoryOptions,
					Placeholder: plain("選択してください"),
				},
			},
			&slack.InputBlock{
				Type:    slack.MBTInput,
				BlockID: DeclarePrivateBlock,
				Label:   plain("公開範囲"),
				Element: slack.NewCheckboxGroupsBlockElement(DeclarePrivateAction,
					slack.NewOptionBlockObject("private", plain("🔒 非公開チャンネルで対応する"), nil),
				),
				Optional: true,
			},
		},
	}
}
