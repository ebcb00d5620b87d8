package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"nichefeed/internal/config"
	"nichefeed/internal/domain"
	"nichefeed/internal/notify"
	"nichefeed/internal/pipeline"
	"nichefeed/internal/summarizer"
)

type attachedSummary struct {
	text   string
	status string
}

type stubStore struct {
	mu        sync.Mutex
	sources   []domain.Source
	seen      map[string]struct{}
	saved     []domain.Article
	summaries map[string]attachedSummary
	touched   []int64
	syncErr   error
	listErr   error
	seenErr   error
	saveErr   error
}

func newStubStore(sources ...domain.Source) *stubStore {
	return &stubStore{
		sources:   sources,
		seen:      make(map[string]struct{}),
		summaries: make(map[string]attachedSummary),
	}
}

func (s *stubStore) SyncFeeds(context.Context, []domain.Source) error {
	return s.syncErr
}

func (s *stubStore) ListFeeds(context.Context, string, bool) ([]domain.Source, error) {
	return s.sources, s.listErr
}

func (s *stubStore) TouchFeedFetched(_ context.Context, ids []int64, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touched = append(s.touched, ids...)

	return nil
}

func (s *stubStore) SeenLinks(_ context.Context, links []string) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seenErr != nil {
		return nil, s.seenErr
	}

	known := make(map[string]struct{})
	for _, link := range links {
		if _, ok := s.seen[link]; ok {
			known[link] = struct{}{}
		}
	}

	return known, nil
}

func (s *stubStore) SaveArticles(_ context.Context, articles []domain.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.saveErr != nil {
		return s.saveErr
	}

	for _, article := range articles {
		if _, ok := s.seen[article.Link]; ok {
			continue
		}

		s.seen[article.Link] = struct{}{}
		s.saved = append(s.saved, article)
	}

	return nil
}

func (s *stubStore) AttachSummary(_ context.Context, link, summary, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.summaries[link] = attachedSummary{text: summary, status: status}

	return nil
}

type stubFetcher struct {
	items []domain.Item
	ids   []int64
	err   error
}

func (f *stubFetcher) FetchAll(context.Context, []domain.Source) ([]domain.Item, []int64, error) {
	return f.items, f.ids, f.err
}

type stubSender struct {
	mu        sync.Mutex
	payloads  []notify.WebhookPayload
	failFirst int
	calls     int
}

func (s *stubSender) Send(_ context.Context, payload notify.WebhookPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.calls <= s.failFirst {
		return errors.New("webhook unavailable")
	}

	s.payloads = append(s.payloads, payload)

	return nil
}

type stubMirror struct {
	groups [][]domain.CategoryGroup
}

func (m *stubMirror) SendDigest(groups []domain.CategoryGroup) error {
	m.groups = append(m.groups, groups)

	return nil
}

type stubExtractor struct {
	text string
	err  error
}

func (e *stubExtractor) Extract(context.Context, string) (string, error) {
	return e.text, e.err
}

type stubSummarizer struct {
	mu     sync.Mutex
	inputs []summarizer.Input
	out    string
	err    error
}

func (s *stubSummarizer) Summarize(_ context.Context, input summarizer.Input) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inputs = append(s.inputs, input)

	return s.out, s.err
}

func testRules() *config.Rules {
	return &config.Rules{
		Limits: config.Limits{
			MaxBlocksPerMessage: 10,
			MaxBlockText:        4096,
			MaxMessageText:      6000,
		},
		Categories: []config.Category{
			{
				Name:    "Dev",
				Emoji:   "💻",
				ItemCap: 10,
				Keywords: config.Keywords{
					Exclude: []string{"sponsored"},
					High:    []string{"critical"},
				},
			},
			{Name: "AI", Emoji: "🤖", ItemCap: 10},
		},
	}
}

func newTestPipeline(cfg pipeline.Config) *pipeline.Pipeline {
	if cfg.Rules == nil {
		cfg.Rules = testRules()
	}
	if cfg.Log == nil {
		cfg.Log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return pipeline.New(cfg)
}

func feedItem(title, link, category string, age time.Duration) domain.Item {
	return domain.Item{
		Title:       title,
		Link:        link,
		Category:    category,
		SourceName:  "Example",
		PublishedAt: time.Now().Add(-age),
	}
}

func payloadTitles(payloads []notify.WebhookPayload) string {
	var sb strings.Builder
	for _, payload := range payloads {
		for _, embed := range payload.Embeds {
			sb.WriteString(embed.Title)
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

func TestRunDeliversNewItems(t *testing.T) {
	store := newStubStore(domain.Source{ID: 1, URL: "https://example.com/feed", Category: "Dev", Enabled: true})
	fetcher := &stubFetcher{
		items: []domain.Item{
			feedItem("Go 1.30 released", "https://example.com/go", "Dev", time.Minute),
			feedItem("Compiler internals", "https://example.com/compiler", "Dev", 2*time.Minute),
			feedItem("New model drops", "https://example.com/model", "AI", 3*time.Minute),
		},
		ids: []int64{1},
	}
	sender := &stubSender{}

	p := newTestPipeline(pipeline.Config{Store: store, Fetcher: fetcher, Sender: sender})
	sum := p.Run(context.Background())

	if sum.SourcesFetched != 1 || sum.SourcesFailed != 0 {
		t.Fatalf("sources: got %d fetched %d failed, want 1/0", sum.SourcesFetched, sum.SourcesFailed)
	}
	if sum.ItemsFetched != 3 || sum.ItemsNew != 3 {
		t.Fatalf("items: got %d fetched %d new, want 3/3", sum.ItemsFetched, sum.ItemsNew)
	}
	if sum.PayloadsSent != 1 || sum.PayloadsFailed != 0 {
		t.Fatalf("payloads: got %d sent %d failed, want 1/0", sum.PayloadsSent, sum.PayloadsFailed)
	}
	if sum.ArticlesCommitted != 3 {
		t.Fatalf("committed: got %d want %d", sum.ArticlesCommitted, 3)
	}

	if len(sender.payloads) != 1 {
		t.Fatalf("payload count: got %d want %d", len(sender.payloads), 1)
	}

	payload := sender.payloads[0]
	if len(payload.Embeds) != 5 {
		t.Fatalf("embed count: got %d want %d", len(payload.Embeds), 5)
	}
	if !strings.Contains(payload.Content, "3 total") {
		t.Fatalf("content header: got %q", payload.Content)
	}
	if payload.Embeds[0].Title != "💻 Dev" {
		t.Fatalf("first embed: got %q want category header", payload.Embeds[0].Title)
	}

	if len(store.saved) != 3 {
		t.Fatalf("saved articles: got %d want %d", len(store.saved), 3)
	}
	for _, article := range store.saved {
		if article.SummaryStatus != "" {
			t.Fatalf("summary status without summarizer: got %q want empty", article.SummaryStatus)
		}
	}

	if len(store.touched) != 1 || store.touched[0] != 1 {
		t.Fatalf("touched feeds: got %v want [1]", store.touched)
	}
}

func TestRunSecondPassSendsNothing(t *testing.T) {
	store := newStubStore(domain.Source{ID: 1, Enabled: true})
	fetcher := &stubFetcher{
		items: []domain.Item{
			feedItem("Go 1.30 released", "https://example.com/go", "Dev", time.Minute),
			feedItem("New model drops", "https://example.com/model", "AI", 2*time.Minute),
		},
		ids: []int64{1},
	}
	sender := &stubSender{}

	p := newTestPipeline(pipeline.Config{Store: store, Fetcher: fetcher, Sender: sender})

	if sum := p.Run(context.Background()); sum.PayloadsSent != 1 {
		t.Fatalf("first pass payloads: got %d want %d", sum.PayloadsSent, 1)
	}

	sum := p.Run(context.Background())
	if sum.ItemsNew != 0 || sum.PayloadsSent != 0 {
		t.Fatalf("second pass: got %d new %d sent, want 0/0", sum.ItemsNew, sum.PayloadsSent)
	}

	// A fresh process has an empty in-memory cache, so this exercises the
	// store lookup path.
	restarted := newTestPipeline(pipeline.Config{Store: store, Fetcher: fetcher, Sender: sender})

	sum = restarted.Run(context.Background())
	if sum.ItemsNew != 0 || sum.PayloadsSent != 0 {
		t.Fatalf("restarted pass: got %d new %d sent, want 0/0", sum.ItemsNew, sum.PayloadsSent)
	}

	if len(sender.payloads) != 1 {
		t.Fatalf("total payloads: got %d want %d", len(sender.payloads), 1)
	}
}

func TestRunCollapsesDuplicateLinksWithinPass(t *testing.T) {
	store := newStubStore(domain.Source{ID: 1, Enabled: true})
	fetcher := &stubFetcher{
		items: []domain.Item{
			feedItem("Go 1.30 released", "https://example.com/go", "Dev", time.Minute),
			feedItem("Go 1.30 released (mirror)", "https://example.com/go", "Dev", 2*time.Minute),
		},
		ids: []int64{1},
	}
	sender := &stubSender{}

	p := newTestPipeline(pipeline.Config{Store: store, Fetcher: fetcher, Sender: sender})
	sum := p.Run(context.Background())

	if sum.ItemsNew != 1 {
		t.Fatalf("new items: got %d want %d", sum.ItemsNew, 1)
	}
	if got := payloadTitles(sender.payloads); strings.Contains(got, "mirror") {
		t.Fatalf("expected duplicate link to collapse to first occurrence, got:\n%s", got)
	}
}

func TestRunRecoversItemsFromFailedPayload(t *testing.T) {
	store := newStubStore(domain.Source{ID: 1, Enabled: true})
	fetcher := &stubFetcher{
		items: []domain.Item{feedItem("Go 1.30 released", "https://example.com/go", "Dev", time.Minute)},
		ids:   []int64{1},
	}
	sender := &stubSender{failFirst: 1}

	p := newTestPipeline(pipeline.Config{Store: store, Fetcher: fetcher, Sender: sender})

	sum := p.Run(context.Background())
	if sum.PayloadsFailed != 1 || sum.PayloadsSent != 0 {
		t.Fatalf("first pass: got %d sent %d failed, want 0/1", sum.PayloadsSent, sum.PayloadsFailed)
	}
	if sum.ArticlesCommitted != 0 || len(store.saved) != 0 {
		t.Fatalf("expected no commits after failed send, got %d", len(store.saved))
	}

	sum = p.Run(context.Background())
	if sum.ItemsNew != 1 || sum.PayloadsSent != 1 {
		t.Fatalf("second pass: got %d new %d sent, want 1/1", sum.ItemsNew, sum.PayloadsSent)
	}
	if len(store.saved) != 1 {
		t.Fatalf("saved articles: got %d want %d", len(store.saved), 1)
	}
}

func TestRunIsolatesPayloadFailures(t *testing.T) {
	rules := testRules()
	rules.Limits.MaxBlocksPerMessage = 2

	store := newStubStore(domain.Source{ID: 1, Enabled: true})
	fetcher := &stubFetcher{
		items: []domain.Item{
			feedItem("Newer post", "https://example.com/newer", "Dev", time.Minute),
			feedItem("Older post", "https://example.com/older", "Dev", 2*time.Minute),
		},
		ids: []int64{1},
	}
	sender := &stubSender{failFirst: 1}

	p := newTestPipeline(pipeline.Config{Store: store, Fetcher: fetcher, Sender: sender, Rules: rules})
	sum := p.Run(context.Background())

	if sum.PayloadsSent != 1 || sum.PayloadsFailed != 1 {
		t.Fatalf("payloads: got %d sent %d failed, want 1/1", sum.PayloadsSent, sum.PayloadsFailed)
	}
	if len(store.saved) != 1 || store.saved[0].Link != "https://example.com/older" {
		t.Fatalf("saved articles: got %+v, want only the delivered item", store.saved)
	}

	// The failed payload's item resurfaces on the next pass.
	sum = p.Run(context.Background())
	if sum.ItemsNew != 1 || sum.PayloadsSent != 1 {
		t.Fatalf("retry pass: got %d new %d sent, want 1/1", sum.ItemsNew, sum.PayloadsSent)
	}
	if got := payloadTitles(sender.payloads); !strings.Contains(got, "Newer post") {
		t.Fatalf("expected failed item to be retried, got:\n%s", got)
	}
}

func TestRunSkipsExcludedItems(t *testing.T) {
	store := newStubStore(domain.Source{ID: 1, Enabled: true})
	fetcher := &stubFetcher{
		items: []domain.Item{
			feedItem("Go 1.30 released", "https://example.com/go", "Dev", time.Minute),
			feedItem("Our sponsored benchmark roundup", "https://example.com/spam", "Dev", 2*time.Minute),
		},
		ids: []int64{1},
	}
	sender := &stubSender{}

	p := newTestPipeline(pipeline.Config{Store: store, Fetcher: fetcher, Sender: sender})
	sum := p.Run(context.Background())

	if sum.ItemsExcluded != 1 {
		t.Fatalf("excluded: got %d want %d", sum.ItemsExcluded, 1)
	}
	if got := payloadTitles(sender.payloads); strings.Contains(got, "sponsored") {
		t.Fatalf("excluded item reached the sender:\n%s", got)
	}
	if len(store.saved) != 1 {
		t.Fatalf("saved articles: got %d want %d", len(store.saved), 1)
	}
}

func TestRunSkipsBatchWhenSeenLookupFails(t *testing.T) {
	store := newStubStore(domain.Source{ID: 1, Enabled: true})
	store.seenErr = errors.New("database gone")
	fetcher := &stubFetcher{
		items: []domain.Item{feedItem("Go 1.30 released", "https://example.com/go", "Dev", time.Minute)},
		ids:   []int64{1},
	}
	sender := &stubSender{}

	p := newTestPipeline(pipeline.Config{Store: store, Fetcher: fetcher, Sender: sender})
	sum := p.Run(context.Background())

	if sum.ItemsNew != 0 || sum.PayloadsSent != 0 {
		t.Fatalf("got %d new %d sent, want nothing delivered when dedup is blind", sum.ItemsNew, sum.PayloadsSent)
	}
}

func TestRunContinuesWhenSyncFails(t *testing.T) {
	store := newStubStore(domain.Source{ID: 1, Enabled: true})
	store.syncErr = errors.New("sync failed")
	fetcher := &stubFetcher{
		items: []domain.Item{feedItem("Go 1.30 released", "https://example.com/go", "Dev", time.Minute)},
		ids:   []int64{1},
	}
	sender := &stubSender{}

	p := newTestPipeline(pipeline.Config{Store: store, Fetcher: fetcher, Sender: sender})

	if sum := p.Run(context.Background()); sum.PayloadsSent != 1 {
		t.Fatalf("payloads: got %d want %d", sum.PayloadsSent, 1)
	}
}

func TestRunToleratesPartialFetchFailures(t *testing.T) {
	store := newStubStore(
		domain.Source{ID: 1, Enabled: true},
		domain.Source{ID: 2, Enabled: true},
	)
	fetcher := &stubFetcher{
		items: []domain.Item{feedItem("Go 1.30 released", "https://example.com/go", "Dev", time.Minute)},
		ids:   []int64{1},
		err:   errors.New("feed 2 unreachable"),
	}
	sender := &stubSender{}

	p := newTestPipeline(pipeline.Config{Store: store, Fetcher: fetcher, Sender: sender})
	sum := p.Run(context.Background())

	if sum.SourcesFetched != 1 || sum.SourcesFailed != 1 {
		t.Fatalf("sources: got %d ok %d failed, want 1 ok 1 failed", sum.SourcesFetched, sum.SourcesFailed)
	}

	if sum.PayloadsSent != 1 {
		t.Fatalf("payloads sent: got %d want %d", sum.PayloadsSent, 1)
	}

	if len(store.touched) != 1 || store.touched[0] != 1 {
		t.Fatalf("touched feeds: got %v want [1]", store.touched)
	}
}

func TestRunStopsWhenListingFeedsFails(t *testing.T) {
	store := newStubStore()
	store.listErr = errors.New("database gone")
	sender := &stubSender{}

	p := newTestPipeline(pipeline.Config{Store: store, Fetcher: &stubFetcher{}, Sender: sender})
	sum := p.Run(context.Background())

	if sum != (pipeline.Summary{}) {
		t.Fatalf("summary: got %+v want zero value", sum)
	}
}

func TestRunMirrorsDeliveredItems(t *testing.T) {
	rules := testRules()
	rules.Limits.MaxBlocksPerMessage = 2

	store := newStubStore(domain.Source{ID: 1, Enabled: true})
	fetcher := &stubFetcher{
		items: []domain.Item{
			feedItem("Newer post", "https://example.com/newer", "Dev", time.Minute),
			feedItem("Older post", "https://example.com/older", "Dev", 2*time.Minute),
		},
		ids: []int64{1},
	}
	sender := &stubSender{failFirst: 1}
	mirror := &stubMirror{}

	p := newTestPipeline(pipeline.Config{
		Store:   store,
		Fetcher: fetcher,
		Sender:  sender,
		Mirror:  mirror,
		Rules:   rules,
	})
	p.Run(context.Background())

	if len(mirror.groups) != 1 {
		t.Fatalf("digest count: got %d want %d", len(mirror.groups), 1)
	}

	groups := mirror.groups[0]
	if len(groups) != 1 || len(groups[0].Items) != 1 {
		t.Fatalf("digest groups: got %+v, want one group with one item", groups)
	}
	if groups[0].Items[0].Link != "https://example.com/older" {
		t.Fatalf("digest item: got %q want the delivered one", groups[0].Items[0].Link)
	}
}

func TestRunSummarizesDeliveredItems(t *testing.T) {
	store := newStubStore(domain.Source{ID: 1, Enabled: true})
	fetcher := &stubFetcher{
		items: []domain.Item{feedItem("Go 1.30 released", "https://example.com/go", "Dev", time.Minute)},
		ids:   []int64{1},
	}
	sender := &stubSender{}
	summ := &stubSummarizer{out: "A short summary."}
	extractor := &stubExtractor{text: "Full article text."}

	p := newTestPipeline(pipeline.Config{
		Store:      store,
		Fetcher:    fetcher,
		Sender:     sender,
		Summarizer: summ,
		Extractor:  extractor,
	})
	sum := p.Run(context.Background())

	if sum.SummariesCompleted != 1 || sum.SummariesFailed != 0 {
		t.Fatalf("summaries: got %d completed %d failed, want 1/0", sum.SummariesCompleted, sum.SummariesFailed)
	}

	if len(store.saved) != 1 || store.saved[0].SummaryStatus != domain.SummaryPending {
		t.Fatalf("saved status: got %+v want pending", store.saved)
	}

	attached, ok := store.summaries["https://example.com/go"]
	if !ok {
		t.Fatal("expected a summary to be attached")
	}
	if attached.text != "A short summary." || attached.status != domain.SummaryCompleted {
		t.Fatalf("attached summary: got %+v", attached)
	}

	if len(summ.inputs) != 1 || summ.inputs[0].Text != "Full article text." {
		t.Fatalf("summarizer inputs: got %+v, want extracted text", summ.inputs)
	}
}

func TestRunRecordsSummaryFailures(t *testing.T) {
	store := newStubStore(domain.Source{ID: 1, Enabled: true})
	fetcher := &stubFetcher{
		items: []domain.Item{feedItem("Go 1.30 released", "https://example.com/go", "Dev", time.Minute)},
		ids:   []int64{1},
	}
	sender := &stubSender{}
	summ := &stubSummarizer{err: errors.New("model unavailable")}

	p := newTestPipeline(pipeline.Config{
		Store:      store,
		Fetcher:    fetcher,
		Sender:     sender,
		Summarizer: summ,
	})
	sum := p.Run(context.Background())

	if sum.SummariesCompleted != 0 || sum.SummariesFailed != 1 {
		t.Fatalf("summaries: got %d completed %d failed, want 0/1", sum.SummariesCompleted, sum.SummariesFailed)
	}

	attached := store.summaries["https://example.com/go"]
	if attached.status != domain.SummaryFailed {
		t.Fatalf("attached status: got %q want %q", attached.status, domain.SummaryFailed)
	}
}

func TestRunFallsBackToFeedDescriptionWhenExtractFails(t *testing.T) {
	store := newStubStore(domain.Source{ID: 1, Enabled: true})
	item := feedItem("Go 1.30 released", "https://example.com/go", "Dev", time.Minute)
	item.Description = "Feed description text."
	fetcher := &stubFetcher{items: []domain.Item{item}, ids: []int64{1}}
	sender := &stubSender{}
	summ := &stubSummarizer{out: "A short summary."}
	extractor := &stubExtractor{err: errors.New("page unreachable")}

	p := newTestPipeline(pipeline.Config{
		Store:      store,
		Fetcher:    fetcher,
		Sender:     sender,
		Summarizer: summ,
		Extractor:  extractor,
	})
	p.Run(context.Background())

	if len(summ.inputs) != 1 || summ.inputs[0].Text != "Feed description text." {
		t.Fatalf("summarizer inputs: got %+v, want feed description fallback", summ.inputs)
	}
}

func TestRunOrdersGroupsByConfiguredOrder(t *testing.T) {
	store := newStubStore(domain.Source{ID: 1, Enabled: true})
	fetcher := &stubFetcher{
		items: []domain.Item{
			feedItem("New model drops", "https://example.com/model", "AI", time.Minute),
			feedItem("Go 1.30 released", "https://example.com/go", "Dev", 2*time.Minute),
		},
		ids: []int64{1},
	}
	sender := &stubSender{}

	p := newTestPipeline(pipeline.Config{Store: store, Fetcher: fetcher, Sender: sender})
	p.Run(context.Background())

	if len(sender.payloads) != 1 {
		t.Fatalf("payload count: got %d want %d", len(sender.payloads), 1)
	}

	embeds := sender.payloads[0].Embeds
	if len(embeds) != 4 {
		t.Fatalf("embed count: got %d want %d", len(embeds), 4)
	}
	if embeds[0].Title != "💻 Dev" || embeds[2].Title != "🤖 AI" {
		t.Fatalf("group order: got %q then %q, want Dev before AI", embeds[0].Title, embeds[2].Title)
	}
}
