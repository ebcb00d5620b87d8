// Package classify assigns category priority and exclusion decisions to
// parsed feed items via case-insensitive keyword rules. Tier order is
// exclude, high, medium; the first matching tier wins and anything left
// defaults to low priority.
package classify

import (
	"strings"

	"nichefeed/internal/config"
	"nichefeed/internal/domain"
)

func Apply(items []domain.Item, rules *config.Rules) []domain.ClassifiedItem {
	classified := make([]domain.ClassifiedItem, 0, len(items))

	for _, item := range items {
		classified = append(classified, Classify(item, rules.CategoryFor(item.Category)))
	}

	return classified
}

// Classify matches keywords against the item title, plus the description
// when the category opts in. A nil, disabled, or empty ruleset classifies
// everything as low priority and not excluded.
func Classify(item domain.Item, category *config.Category) domain.ClassifiedItem {
	classified := domain.ClassifiedItem{
		Item:     item,
		Priority: domain.PriorityLow,
	}

	if category == nil || !category.Keywords.IsEnabled() || category.Keywords.Empty() {
		return classified
	}

	haystack := strings.ToLower(item.Title)
	if category.MatchDescription && item.Description != "" {
		haystack += "\n" + strings.ToLower(item.Description)
	}

	switch {
	case matchesAny(haystack, category.Keywords.Exclude):
		classified.Excluded = true
	case matchesAny(haystack, category.Keywords.High):
		classified.Priority = domain.PriorityHigh
	case matchesAny(haystack, category.Keywords.Medium):
		classified.Priority = domain.PriorityMedium
	}

	return classified
}

func matchesAny(haystack string, keywords []string) bool {
	for _, keyword := range keywords {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword == "" {
			continue
		}

		if strings.Contains(haystack, keyword) {
			return true
		}
	}

	return false
}
