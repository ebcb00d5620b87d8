package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"nichefeed/internal/domain"
)

const (
	defaultItemCap             = 10
	defaultMaxBlocksPerMessage = 10
	defaultMaxBlockText        = 4096
	defaultMaxMessageText      = 6000

	fallbackEmoji = "📰"
)

// Limits are the hard constraints of the delivery channel. They are read
// once per pass and passed into the batcher as a value.
type Limits struct {
	MaxBlocksPerMessage int `yaml:"max_blocks_per_message"`
	MaxBlockText        int `yaml:"max_block_text"`
	MaxMessageText      int `yaml:"max_message_text"`
}

type Keywords struct {
	Enabled *bool    `yaml:"enabled"`
	Exclude []string `yaml:"exclude"`
	High    []string `yaml:"high"`
	Medium  []string `yaml:"medium"`
}

func (k Keywords) IsEnabled() bool {
	return k.Enabled == nil || *k.Enabled
}

func (k Keywords) Empty() bool {
	return len(k.Exclude) == 0 && len(k.High) == 0 && len(k.Medium) == 0
}

type FeedRef struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

type Category struct {
	Name             string    `yaml:"name"`
	Emoji            string    `yaml:"emoji"`
	Enabled          *bool     `yaml:"enabled"`
	ItemCap          int       `yaml:"item_cap"`
	MatchDescription bool      `yaml:"match_description"`
	Feeds            []FeedRef `yaml:"feeds"`
	Keywords         Keywords  `yaml:"keywords"`
}

func (c *Category) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Rules is the immutable per-pass configuration snapshot: category order,
// keyword tiers, and the channel limits.
type Rules struct {
	Limits     Limits     `yaml:"limits"`
	Categories []Category `yaml:"categories"`
}

func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var rules Rules
	if err = yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}

	rules.applyDefaults()

	if err = rules.validate(); err != nil {
		return nil, fmt.Errorf("validate rules file: %w", err)
	}

	return &rules, nil
}

func (r *Rules) applyDefaults() {
	if r.Limits.MaxBlocksPerMessage <= 0 {
		r.Limits.MaxBlocksPerMessage = defaultMaxBlocksPerMessage
	}
	if r.Limits.MaxBlockText <= 0 {
		r.Limits.MaxBlockText = defaultMaxBlockText
	}
	if r.Limits.MaxMessageText <= 0 {
		r.Limits.MaxMessageText = defaultMaxMessageText
	}

	for i := range r.Categories {
		c := &r.Categories[i]

		c.Name = strings.TrimSpace(c.Name)
		c.Emoji = strings.TrimSpace(c.Emoji)

		if c.Emoji == "" {
			c.Emoji = fallbackEmoji
		}
		if c.ItemCap <= 0 {
			c.ItemCap = defaultItemCap
		}

		for j := range c.Feeds {
			c.Feeds[j].URL = strings.TrimSpace(c.Feeds[j].URL)
			c.Feeds[j].Name = strings.TrimSpace(c.Feeds[j].Name)
		}
	}
}

func (r *Rules) validate() error {
	if len(r.Categories) == 0 {
		return errors.New("no categories configured")
	}

	seen := make(map[string]struct{}, len(r.Categories))
	var errs []error

	for i := range r.Categories {
		c := &r.Categories[i]

		if c.Name == "" {
			errs = append(errs, fmt.Errorf("category %d: name is empty", i))
			continue
		}

		key := strings.ToLower(c.Name)
		if _, ok := seen[key]; ok {
			errs = append(errs, fmt.Errorf("category %q: duplicate name", c.Name))
		}
		seen[key] = struct{}{}

		for j, f := range c.Feeds {
			if f.URL == "" {
				errs = append(errs, fmt.Errorf("category %q: feed %d: url is empty", c.Name, j))
			}
		}
	}

	return errors.Join(errs...)
}

// CategoryFor returns the configured category matching name, or nil when
// the name is unknown (feeds created through the API may carry categories
// the rules file does not mention yet).
func (r *Rules) CategoryFor(name string) *Category {
	for i := range r.Categories {
		if strings.EqualFold(r.Categories[i].Name, name) {
			return &r.Categories[i]
		}
	}
	return nil
}

func (r *Rules) EmojiFor(name string) string {
	if c := r.CategoryFor(name); c != nil {
		return c.Emoji
	}
	return fallbackEmoji
}

func (r *Rules) CapFor(name string) int {
	if c := r.CategoryFor(name); c != nil {
		return c.ItemCap
	}
	return defaultItemCap
}

// OrderOf positions a category for deterministic output: configured
// categories keep file order, unknown ones sort after them alphabetically.
func (r *Rules) OrderOf(name string) int {
	for i := range r.Categories {
		if strings.EqualFold(r.Categories[i].Name, name) {
			return i
		}
	}
	return len(r.Categories)
}

// Sources flattens the configured feeds into source rows for syncing.
// Feeds of disabled categories sync as disabled so operators can flip a
// whole category off without losing its list.
func (r *Rules) Sources() []domain.Source {
	var sources []domain.Source

	for i := range r.Categories {
		c := &r.Categories[i]

		for _, f := range c.Feeds {
			if f.URL == "" {
				continue
			}

			sources = append(sources, domain.Source{
				URL:      f.URL,
				Name:     f.Name,
				Category: c.Name,
				Enabled:  c.IsEnabled(),
			})
		}
	}

	return sources
}
