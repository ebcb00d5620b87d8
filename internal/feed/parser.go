package feed

import (
	"context"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"

	"nichefeed/internal/domain"
)

var strictPolicy = bluemonday.StrictPolicy()

func (f *Fetcher) parseItems(
	ctx context.Context,
	source domain.Source,
	parsed *gofeed.Feed,
	now time.Time,
) []domain.Item {
	sourceName := strings.TrimSpace(source.Name)
	if sourceName == "" {
		sourceName = strings.TrimSpace(parsed.Title)
	}
	if sourceName == "" {
		sourceName = source.URL
	}

	items := make([]domain.Item, 0, len(parsed.Items))
	for _, entry := range parsed.Items {
		item, ok := f.parseItem(ctx, source, sourceName, now, entry)
		if !ok {
			continue
		}

		items = append(items, item)
	}

	return items
}

func (f *Fetcher) parseItem(
	ctx context.Context,
	source domain.Source,
	sourceName string,
	now time.Time,
	entry *gofeed.Item,
) (domain.Item, bool) {
	link := strings.TrimSpace(entry.Link)
	if link == "" {
		f.log.WarnContext(ctx, "Skipping feed item with empty link",
			"feedURL", source.URL,
			"itemTitle", strings.TrimSpace(entry.Title))

		return domain.Item{}, false
	}

	title := strings.TrimSpace(entry.Title)
	if title == "" {
		title = link
	}

	publishedAt := now
	if entry.PublishedParsed != nil {
		publishedAt = *entry.PublishedParsed
	} else if entry.UpdatedParsed != nil {
		publishedAt = *entry.UpdatedParsed
	}

	description := entry.Description
	if description == "" {
		description = entry.Content
	}

	return domain.Item{
		Title:       title,
		Link:        link,
		Description: stripHTML(description),
		PublishedAt: publishedAt,
		SourceName:  sourceName,
		Category:    source.Category,
	}, true
}

// stripHTML reduces feed descriptions to single-line plain text: tags
// removed, entities decoded, whitespace runs collapsed.
func stripHTML(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	text := strictPolicy.Sanitize(raw)
	text = html.UnescapeString(text)

	return strings.Join(strings.Fields(text), " ")
}
