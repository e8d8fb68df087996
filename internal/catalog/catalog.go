// Package catalog describes the generation models the bot offers: the ordered
// parameter steps each one collects, its price table and how its canonical
// parameters map onto the provider input.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrPriceUndefined = errors.New("price undefined for parameter combination")

type Family string

const (
	FamilyImage Family = "image"
	FamilyVideo Family = "video"
	FamilyAudio Family = "audio"
	FamilyVoice Family = "voice"
	FamilyText  Family = "text"
)

type MediaKind string

const (
	MediaNone  MediaKind = ""
	MediaImage MediaKind = "image"
)

type OutputKind string

const (
	OutputImage OutputKind = "image"
	OutputVideo OutputKind = "video"
	OutputAudio OutputKind = "audio"
	OutputText  OutputKind = "text"
)

// Input mapping sources besides choice keys.
const (
	SourcePrompt    = "prompt"
	SourceMedia     = "media"
	SourceMediaList = "media[]"
)

// maxTokenLen keeps "opt:<session id>:<token>" inside Telegram's 64 byte callback limit.
const maxTokenLen = 20

type Option struct {
	Token string
	Label string
	Value any
}

type Choice struct {
	Key     string
	Prompt  string
	Options []Option
}

func (c Choice) Option(token string) (Option, bool) {
	for _, opt := range c.Options {
		if opt.Token == token {
			return opt, true
		}
	}
	return Option{}, false
}

type PriceRule struct {
	Match map[string]string
	Price decimal.Decimal
}

func (r PriceRule) matches(params map[string]string) bool {
	for k, v := range r.Match {
		if params[k] != v {
			return false
		}
	}
	return true
}

// PriceTable resolves a price from discrete choice tokens. The first matching
// rule wins; Base applies when no rule matches.
type PriceTable struct {
	Base  decimal.NullDecimal
	Rules []PriceRule
}

func Fixed(price string) PriceTable {
	return PriceTable{Base: decimal.NewNullDecimal(decimal.RequireFromString(price))}
}

func (t PriceTable) Lookup(params map[string]string) (decimal.Decimal, error) {
	for _, rule := range t.Rules {
		if rule.matches(params) {
			return rule.Price, nil
		}
	}
	if t.Base.Valid {
		return t.Base.Decimal, nil
	}
	return decimal.Zero, ErrPriceUndefined
}

type Model struct {
	ID           string
	Title        string
	Family       Family
	Provider     string
	Endpoint     string
	Media        MediaKind
	MediaPrompt  string
	Choices      []Choice
	PromptText   string
	MinPromptLen int
	Output       OutputKind
	Prices       PriceTable
	FreeEligible bool
	// Input maps provider field names to a canonical source: SourcePrompt,
	// SourceMedia, SourceMediaList or a choice key.
	Input  map[string]string
	Static map[string]any
}

// PriceFor is a pure lookup over the collected choice tokens.
func (m Model) PriceFor(choices map[string]string) (decimal.Decimal, error) {
	price, err := m.Prices.Lookup(choices)
	if err != nil {
		return decimal.Zero, fmt.Errorf("model %s %v: %w", m.ID, choices, err)
	}
	return price, nil
}

func (m Model) Choice(key string) (Choice, bool) {
	for _, c := range m.Choices {
		if c.Key == key {
			return c, true
		}
	}
	return Choice{}, false
}

func (m Model) validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return errors.New("model id is empty")
	}
	if strings.ContainsAny(m.ID, ": ") {
		return fmt.Errorf("model %s: id must not contain spaces or colons", m.ID)
	}
	if m.Provider == "" || m.Endpoint == "" {
		return fmt.Errorf("model %s: provider and endpoint are required", m.ID)
	}
	switch m.Output {
	case OutputImage, OutputVideo, OutputAudio, OutputText:
	default:
		return fmt.Errorf("model %s: unknown output kind %q", m.ID, m.Output)
	}
	if m.MinPromptLen < 0 {
		return fmt.Errorf("model %s: negative min prompt length", m.ID)
	}

	keys := map[string]bool{}
	for _, c := range m.Choices {
		if c.Key == "" || c.Key == SourcePrompt || c.Key == SourceMedia || c.Key == SourceMediaList {
			return fmt.Errorf("model %s: invalid choice key %q", m.ID, c.Key)
		}
		if keys[c.Key] {
			return fmt.Errorf("model %s: duplicate choice key %q", m.ID, c.Key)
		}
		keys[c.Key] = true
		if len(c.Options) == 0 {
			return fmt.Errorf("model %s: choice %s has no options", m.ID, c.Key)
		}
		tokens := map[string]bool{}
		for _, opt := range c.Options {
			if opt.Token == "" || len(opt.Token) > maxTokenLen {
				return fmt.Errorf("model %s: choice %s has invalid token %q", m.ID, c.Key, opt.Token)
			}
			if tokens[opt.Token] {
				return fmt.Errorf("model %s: choice %s has duplicate token %q", m.ID, c.Key, opt.Token)
			}
			tokens[opt.Token] = true
		}
	}

	for _, rule := range m.Prices.Rules {
		for k := range rule.Match {
			if !keys[k] {
				return fmt.Errorf("model %s: price rule references unknown choice %q", m.ID, k)
			}
		}
		if rule.Price.IsNegative() {
			return fmt.Errorf("model %s: negative price", m.ID)
		}
	}
	if m.Prices.Base.Valid && m.Prices.Base.Decimal.IsNegative() {
		return fmt.Errorf("model %s: negative base price", m.ID)
	}

	for field, src := range m.Input {
		switch src {
		case SourcePrompt:
		case SourceMedia, SourceMediaList:
			if m.Media == MediaNone {
				return fmt.Errorf("model %s: input %s uses media but the model takes none", m.ID, field)
			}
		default:
			if !keys[src] {
				return fmt.Errorf("model %s: input %s references unknown source %q", m.ID, field, src)
			}
		}
	}

	for _, combo := range m.combinations() {
		if _, err := m.PriceFor(combo); err != nil {
			return err
		}
	}
	return nil
}

// combinations enumerates every choice-token assignment the session can produce.
func (m Model) combinations() []map[string]string {
	combos := []map[string]string{{}}
	for _, c := range m.Choices {
		next := make([]map[string]string, 0, len(combos)*len(c.Options))
		for _, base := range combos {
			for _, opt := range c.Options {
				combo := make(map[string]string, len(base)+1)
				for k, v := range base {
					combo[k] = v
				}
				combo[c.Key] = opt.Token
				next = append(next, combo)
			}
		}
		combos = next
	}
	return combos
}

type Catalog struct {
	models []Model
	byID   map[string]int
}

// New builds a validated catalog. Every reachable parameter combination of
// every model must have a price.
func New(models ...Model) (*Catalog, error) {
	c := &Catalog{
		models: make([]Model, 0, len(models)),
		byID:   make(map[string]int, len(models)),
	}
	for _, m := range models {
		if err := m.validate(); err != nil {
			return nil, err
		}
		if _, dup := c.byID[m.ID]; dup {
			return nil, fmt.Errorf("duplicate model id %s", m.ID)
		}
		c.byID[m.ID] = len(c.models)
		c.models = append(c.models, m)
	}
	if len(c.models) == 0 {
		return nil, errors.New("catalog is empty")
	}
	return c, nil
}

func (c *Catalog) Get(id string) (Model, bool) {
	idx, ok := c.byID[id]
	if !ok {
		return Model{}, false
	}
	return c.models[idx], true
}

func (c *Catalog) Models() []Model {
	out := make([]Model, len(c.models))
	copy(out, c.models)
	return out
}

// Validate re-checks every model and, when providers is non-empty, that each
// model names one of them.
func (c *Catalog) Validate(providers ...string) error {
	known := map[string]bool{}
	for _, p := range providers {
		known[p] = true
	}
	for _, m := range c.models {
		if err := m.validate(); err != nil {
			return err
		}
		if len(known) > 0 && !known[m.Provider] {
			return fmt.Errorf("model %s: unknown provider %q", m.ID, m.Provider)
		}
	}
	return nil
}

// Providers lists the distinct provider ids the catalog references.
func (c *Catalog) Providers() []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range c.models {
		if !seen[m.Provider] {
			seen[m.Provider] = true
			out = append(out, m.Provider)
		}
	}
	sort.Strings(out)
	return out
}

// Restrict returns a catalog holding only the models served by one of
// providers, along with the ids of the models left out.
func (c *Catalog) Restrict(providers ...string) (*Catalog, []string, error) {
	allowed := map[string]bool{}
	for _, p := range providers {
		allowed[p] = true
	}
	var (
		kept    []Model
		dropped []string
	)
	for _, m := range c.models {
		if allowed[m.Provider] {
			kept = append(kept, m)
		} else {
			dropped = append(dropped, m.ID)
		}
	}
	restricted, err := New(kept...)
	if err != nil {
		return nil, dropped, fmt.Errorf("restrict catalog to %v: %w", providers, err)
	}
	return restricted, dropped, nil
}
