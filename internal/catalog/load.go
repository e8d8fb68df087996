package catalog

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/shopspring/decimal"
)

type fileCatalog struct {
	Models []fileModel `yaml:"models"`
}

type fileOption struct {
	Token string `yaml:"token"`
	Label string `yaml:"label"`
	Value any    `yaml:"value"`
}

type fileChoice struct {
	Key     string       `yaml:"key"`
	Prompt  string       `yaml:"prompt"`
	Options []fileOption `yaml:"options"`
}

type fileRule struct {
	Match map[string]string `yaml:"match"`
	Price string            `yaml:"price"`
}

type filePrices struct {
	Base  string     `yaml:"base"`
	Rules []fileRule `yaml:"rules"`
}

type fileModel struct {
	ID           string            `yaml:"id"`
	Title        string            `yaml:"title"`
	Family       string            `yaml:"family"`
	Provider     string            `yaml:"provider"`
	Endpoint     string            `yaml:"endpoint"`
	Media        string            `yaml:"media"`
	MediaPrompt  string            `yaml:"media_prompt"`
	Choices      []fileChoice      `yaml:"choices"`
	PromptText   string            `yaml:"prompt_text"`
	MinPromptLen int               `yaml:"min_prompt_len"`
	Output       string            `yaml:"output"`
	Prices       filePrices        `yaml:"prices"`
	FreeEligible bool              `yaml:"free_eligible"`
	Input        map[string]string `yaml:"input"`
	Static       map[string]any    `yaml:"static"`
}

// Load reads a YAML catalog file and validates it. Prices are decimal strings.
func Load(path string) (*Catalog, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("catalog file %s: %w", path, err)
	}

	var fc fileCatalog
	if err := cleanenv.ReadConfig(path, &fc); err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}

	models := make([]Model, 0, len(fc.Models))
	for _, fm := range fc.Models {
		m, err := fm.toModel()
		if err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	return New(models...)
}

func (fm fileModel) toModel() (Model, error) {
	m := Model{
		ID:           fm.ID,
		Title:        fm.Title,
		Family:       Family(fm.Family),
		Provider:     fm.Provider,
		Endpoint:     fm.Endpoint,
		Media:        MediaKind(fm.Media),
		MediaPrompt:  fm.MediaPrompt,
		PromptText:   fm.PromptText,
		MinPromptLen: fm.MinPromptLen,
		Output:       OutputKind(fm.Output),
		FreeEligible: fm.FreeEligible,
		Input:        fm.Input,
		Static:       fm.Static,
	}
	if m.Title == "" {
		m.Title = m.ID
	}

	for _, fc := range fm.Choices {
		c := Choice{Key: fc.Key, Prompt: fc.Prompt}
		for _, fo := range fc.Options {
			o := Option{Token: fo.Token, Label: fo.Label, Value: fo.Value}
			if o.Label == "" {
				o.Label = o.Token
			}
			if o.Value == nil {
				o.Value = o.Token
			}
			c.Options = append(c.Options, o)
		}
		m.Choices = append(m.Choices, c)
	}

	if fm.Prices.Base != "" {
		base, err := decimal.NewFromString(fm.Prices.Base)
		if err != nil {
			return Model{}, fmt.Errorf("model %s: base price: %w", fm.ID, err)
		}
		m.Prices.Base = decimal.NewNullDecimal(base)
	}
	for _, fr := range fm.Prices.Rules {
		price, err := decimal.NewFromString(fr.Price)
		if err != nil {
			return Model{}, fmt.Errorf("model %s: rule price: %w", fm.ID, err)
		}
		m.Prices.Rules = append(m.Prices.Rules, PriceRule{Match: fr.Match, Price: price})
	}
	return m, nil
}
