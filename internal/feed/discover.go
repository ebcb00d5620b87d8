package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"mvdan.cc/xurls/v2"
)

type DiscoveredFeed struct {
	URL   string
	Title string
}

// FindFeeds extracts https URLs from free text and validates each one as a
// feed. URLs that serve HTML instead are probed for rel=alternate feed
// links, which are then validated the same way. Per-URL failures are
// collected, not fatal.
func (f *Fetcher) FindFeeds(ctx context.Context, text string) ([]DiscoveredFeed, error) {
	text = strings.TrimSpace(text)

	httpsURLRe, err := xurls.StrictMatchingScheme("https://")
	if err != nil {
		return nil, fmt.Errorf("create regexp: %w", err)
	}

	urls := httpsURLRe.FindAllString(text, -1)

	feeds := make([]DiscoveredFeed, 0, len(urls))
	seen := make(map[string]struct{}, len(urls))
	var errs []error

	for _, u := range urls {
		trimmed := strings.TrimSpace(u)
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}

		feed, validateErr := f.validateFeedURL(ctx, trimmed)
		if validateErr == nil {
			feeds = append(feeds, *feed)
			continue
		}

		discovered, discoverErr := f.autodiscover(ctx, trimmed, seen)
		if discoverErr != nil || len(discovered) == 0 {
			errs = append(errs, fmt.Errorf("validate feed: %w", errors.Join(validateErr, discoverErr)))
			continue
		}

		feeds = append(feeds, discovered...)
	}

	return feeds, errors.Join(errs...)
}

func (f *Fetcher) validateFeedURL(ctx context.Context, feedURL string) (*DiscoveredFeed, error) {
	feedURL = strings.TrimSpace(feedURL)
	if feedURL == "" {
		return nil, errors.New("feed URL is empty")
	}

	if _, err := url.Parse(feedURL); err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}

	parsed, err := f.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed (URL = %s): %w", feedURL, err)
	}

	title := strings.TrimSpace(parsed.Title)
	if title == "" {
		f.log.WarnContext(ctx, "Empty feed title",
			"feedURL", feedURL,
			"fallbackTitle", feedURL)

		title = feedURL
	}

	return &DiscoveredFeed{URL: feedURL, Title: title}, nil
}

// autodiscover fetches pageURL as HTML and validates every advertised
// rel=alternate feed link.
func (f *Fetcher) autodiscover(
	ctx context.Context,
	pageURL string,
	seen map[string]struct{},
) ([]DiscoveredFeed, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			f.log.WarnContext(ctx, "Failed to close response body",
				"error", closeErr,
				"pageURL", pageURL)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch page: unexpected status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	var feeds []DiscoveredFeed
	var errs []error

	for _, href := range feedLinkHrefs(doc, base) {
		if _, ok := seen[href]; ok {
			continue
		}
		seen[href] = struct{}{}

		feed, validateErr := f.validateFeedURL(ctx, href)
		if validateErr != nil {
			errs = append(errs, fmt.Errorf("validate discovered feed: %w", validateErr))
			continue
		}

		feeds = append(feeds, *feed)
	}

	return feeds, errors.Join(errs...)
}

// feedLinkHrefs returns the absolute targets of rel=alternate RSS/Atom
// links in document order, deduplicated.
func feedLinkHrefs(doc *goquery.Document, base *url.URL) []string {
	var hrefs []string
	seen := make(map[string]struct{})

	doc.Find(`link[rel="alternate"]`).Each(func(_ int, sel *goquery.Selection) {
		linkType, _ := sel.Attr("type")
		linkType = strings.ToLower(strings.TrimSpace(linkType))
		if linkType != "application/rss+xml" && linkType != "application/atom+xml" {
			return
		}

		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}

		ref, err := url.Parse(href)
		if err != nil {
			return
		}

		resolved := base.ResolveReference(ref).String()
		if _, ok = seen[resolved]; ok {
			return
		}
		seen[resolved] = struct{}{}

		hrefs = append(hrefs, resolved)
	})

	return hrefs
}
