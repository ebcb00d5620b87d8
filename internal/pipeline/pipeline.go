// Package pipeline runs one ingest pass: fetch enabled sources, drop
// already-notified links, classify, pack into payloads, deliver, and
// record delivered links so no future pass notifies them again.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"nichefeed/internal/classify"
	"nichefeed/internal/config"
	"nichefeed/internal/domain"
	"nichefeed/internal/metrics"
	"nichefeed/internal/notify"
	"nichefeed/internal/summarizer"
)

const summaryWorkerCount = 4

// Store is the slice of the row store the pipeline needs.
type Store interface {
	SyncFeeds(ctx context.Context, sources []domain.Source) error
	ListFeeds(ctx context.Context, category string, enabledOnly bool) ([]domain.Source, error)
	TouchFeedFetched(ctx context.Context, ids []int64, at time.Time) error
	SeenLinks(ctx context.Context, links []string) (map[string]struct{}, error)
	SaveArticles(ctx context.Context, articles []domain.Article) error
	AttachSummary(ctx context.Context, link string, summary string, status string) error
}

// Fetcher produces candidate items from the given sources, plus the IDs
// of the sources that answered.
type Fetcher interface {
	FetchAll(ctx context.Context, sources []domain.Source) ([]domain.Item, []int64, error)
}

// Sender delivers one payload and confirms success with a nil error.
type Sender interface {
	Send(ctx context.Context, payload notify.WebhookPayload) error
}

// Mirror is an optional secondary sink for delivered items.
type Mirror interface {
	SendDigest(groups []domain.CategoryGroup) error
}

// Extractor turns an article URL into summarizable plain text.
type Extractor interface {
	Extract(ctx context.Context, pageURL string) (string, error)
}

type Config struct {
	Store      Store
	Fetcher    Fetcher
	Sender     Sender
	Mirror     Mirror
	Summarizer summarizer.Summarizer
	Extractor  Extractor
	Rules      *config.Rules
	Log        *slog.Logger
}

type Pipeline struct {
	store      Store
	fetcher    Fetcher
	sender     Sender
	mirror     Mirror
	summarizer summarizer.Summarizer
	extractor  Extractor
	rules      *config.Rules
	seen       *seenLinkCache
	log        *slog.Logger
}

func New(cfg Config) *Pipeline {
	return &Pipeline{
		store:      cfg.Store,
		fetcher:    cfg.Fetcher,
		sender:     cfg.Sender,
		mirror:     cfg.Mirror,
		summarizer: cfg.Summarizer,
		extractor:  cfg.Extractor,
		rules:      cfg.Rules,
		seen:       newSeenLinkCache(seenCacheMaxEntries, seenCacheTTL),
		log:        cfg.Log,
	}
}

// Summary reports what one pass did. Per-source and per-payload failures
// are counted here, never raised: a pass always completes.
type Summary struct {
	SourcesFetched     int
	SourcesFailed      int
	ItemsFetched       int
	ItemsNew           int
	ItemsExcluded      int
	PayloadsSent       int
	PayloadsFailed     int
	ArticlesCommitted  int
	SummariesCompleted int
	SummariesFailed    int
}

// Run executes one pass. Links are recorded as seen only after the
// payload carrying them got a confirmed send, so items in a failed
// payload surface again on the next pass.
func (p *Pipeline) Run(ctx context.Context) Summary {
	started := time.Now()
	var sum Summary

	if err := p.store.SyncFeeds(ctx, p.rules.Sources()); err != nil {
		p.log.ErrorContext(ctx, "Failed to sync configured feeds", "error", err)
	}

	sources, err := p.store.ListFeeds(ctx, "", true)
	if err != nil {
		p.log.ErrorContext(ctx, "Failed to list feeds", "error", err)

		return sum
	}

	items, fetchedIDs, err := p.fetcher.FetchAll(ctx, sources)
	if err != nil {
		p.log.WarnContext(ctx, "Some feeds failed to fetch", "error", err)
	}

	sum.SourcesFetched = len(fetchedIDs)
	sum.SourcesFailed = len(sources) - len(fetchedIDs)
	sum.ItemsFetched = len(items)
	metrics.RecordFetches("ok", sum.SourcesFetched)
	metrics.RecordFetches("failed", sum.SourcesFailed)

	newItems := p.filterNew(ctx, items)
	sum.ItemsNew = len(newItems)

	survivors := make([]domain.ClassifiedItem, 0, len(newItems))
	for _, item := range classify.Apply(newItems, p.rules) {
		if item.Excluded {
			sum.ItemsExcluded++
			metrics.RecordExcluded(item.Category)

			continue
		}

		metrics.RecordItem(item.Category, string(item.Priority))
		survivors = append(survivors, item)
	}

	messages := notify.BuildMessages(notify.GroupByCategory(survivors, p.rules), p.rules.Limits)

	var delivered []domain.ClassifiedItem
	for _, message := range messages {
		if sendErr := p.sender.Send(ctx, message.Payload); sendErr != nil {
			sum.PayloadsFailed++
			metrics.RecordPayload("failed")
			p.log.ErrorContext(ctx, "Failed to send payload",
				"error", sendErr,
				"embeds", len(message.Payload.Embeds),
				"items", len(message.Items))

			continue
		}

		sum.PayloadsSent++
		metrics.RecordPayload("sent")

		committed := p.commit(ctx, message.Items)
		sum.ArticlesCommitted += committed
		if committed > 0 {
			delivered = append(delivered, message.Items...)
		}
	}

	if len(fetchedIDs) > 0 {
		if touchErr := p.store.TouchFeedFetched(ctx, fetchedIDs, time.Now().UTC()); touchErr != nil {
			p.log.ErrorContext(ctx, "Failed to record fetch times", "error", touchErr)
		}
	}

	if p.mirror != nil && len(delivered) > 0 {
		if mirrorErr := p.mirror.SendDigest(notify.GroupByCategory(delivered, p.rules)); mirrorErr != nil {
			p.log.WarnContext(ctx, "Failed to mirror digest", "error", mirrorErr)
		}
	}

	if p.summarizer != nil && len(delivered) > 0 {
		sum.SummariesCompleted, sum.SummariesFailed = p.summarizeItems(ctx, delivered)
	}

	metrics.RecordPass(time.Since(started).Seconds())
	p.log.InfoContext(ctx, "Pass finished",
		"sourcesFetched", sum.SourcesFetched,
		"sourcesFailed", sum.SourcesFailed,
		"itemsFetched", sum.ItemsFetched,
		"itemsNew", sum.ItemsNew,
		"itemsExcluded", sum.ItemsExcluded,
		"payloadsSent", sum.PayloadsSent,
		"payloadsFailed", sum.PayloadsFailed,
		"articlesCommitted", sum.ArticlesCommitted,
		"duration", time.Since(started))

	return sum
}

// filterNew returns the items whose links have never been notified, in
// input order. In-pass duplicates collapse to their first occurrence; the
// store is consulted once for the whole batch.
func (p *Pipeline) filterNew(ctx context.Context, items []domain.Item) []domain.Item {
	if len(items) == 0 {
		return nil
	}

	now := time.Now()
	inPass := make(map[string]struct{}, len(items))
	candidates := make([]domain.Item, 0, len(items))

	for _, item := range items {
		if _, ok := inPass[item.Link]; ok {
			continue
		}
		inPass[item.Link] = struct{}{}

		if p.seen.contains(item.Link, now) {
			continue
		}

		candidates = append(candidates, item)
	}

	if len(candidates) == 0 {
		return nil
	}

	links := make([]string, 0, len(candidates))
	for _, item := range candidates {
		links = append(links, item.Link)
	}

	known, err := p.store.SeenLinks(ctx, links)
	if err != nil {
		// Without the lookup every candidate is suspect; skipping the
		// batch re-surfaces it next pass instead of double-notifying.
		p.log.ErrorContext(ctx, "Failed to look up seen links",
			"error", err,
			"links", len(links))

		return nil
	}

	fresh := make([]domain.Item, 0, len(candidates))
	for _, item := range candidates {
		if _, ok := known[item.Link]; ok {
			continue
		}

		fresh = append(fresh, item)
	}

	return fresh
}

// commit durably records delivered items and returns how many were
// written. A failure here is the notified-but-not-recorded inconsistency;
// it is logged and tolerated, re-notification being preferable to a
// crashed pass.
func (p *Pipeline) commit(ctx context.Context, items []domain.ClassifiedItem) int {
	articles := make([]domain.Article, 0, len(items))
	for _, item := range items {
		publishedAt := item.PublishedAt

		article := domain.Article{
			Link:        item.Link,
			Title:       item.Title,
			Category:    item.Category,
			Priority:    item.Priority,
			PublishedAt: &publishedAt,
		}
		if p.summarizer != nil {
			article.SummaryStatus = domain.SummaryPending
		}

		articles = append(articles, article)
	}

	if err := p.store.SaveArticles(ctx, articles); err != nil {
		p.log.ErrorContext(ctx, "Failed to record delivered items as seen",
			"error", err,
			"items", len(articles))

		return 0
	}

	now := time.Now()
	for _, item := range items {
		p.seen.add(item.Link, now)
	}

	metrics.RecordCommitted(len(articles))

	return len(articles)
}

func (p *Pipeline) summarizeItems(
	ctx context.Context,
	items []domain.ClassifiedItem,
) (completed, failed int) {
	workerCount := summaryWorkerCount
	if workerCount > len(items) {
		workerCount = len(items)
	}

	results := make([]bool, len(items))
	tasks := make(chan int)
	var wg sync.WaitGroup

	for range workerCount {
		wg.Go(func() {
			for i := range tasks {
				results[i] = p.summarizeItem(ctx, items[i])
			}
		})
	}

	for i := range items {
		tasks <- i
	}

	close(tasks)
	wg.Wait()

	for _, ok := range results {
		if ok {
			completed++
		} else {
			failed++
		}
	}

	return completed, failed
}

func (p *Pipeline) summarizeItem(ctx context.Context, item domain.ClassifiedItem) bool {
	text := ""
	if p.extractor != nil {
		extracted, err := p.extractor.Extract(ctx, item.Link)
		if err != nil {
			p.log.WarnContext(ctx, "Failed to extract article content",
				"error", err,
				"link", item.Link)
		} else {
			text = extracted
		}
	}

	if text == "" {
		text = item.Description
	}
	if text == "" {
		text = item.Title
	}

	summary, err := p.summarizer.Summarize(ctx, summarizer.Input{
		Title:     item.Title,
		Text:      text,
		SourceURL: item.Link,
	})
	if err != nil {
		p.log.ErrorContext(ctx, "Failed to summarize article",
			"error", err,
			"link", item.Link)
		metrics.RecordSummary("failed")

		if statusErr := p.store.AttachSummary(ctx, item.Link, "", domain.SummaryFailed); statusErr != nil {
			p.log.ErrorContext(ctx, "Failed to record summary status",
				"error", statusErr,
				"link", item.Link)
		}

		return false
	}

	metrics.RecordSummary("completed")

	if err := p.store.AttachSummary(ctx, item.Link, summary, domain.SummaryCompleted); err != nil {
		p.log.ErrorContext(ctx, "Failed to attach summary",
			"error", err,
			"link", item.Link)

		return false
	}

	return true
}
