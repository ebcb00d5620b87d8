package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"nichefeed/internal/domain"
)

const (
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.0.0 Safari/537.36"

	clientTimeout             = 20 * time.Second
	fetchMaxConcurrencyGrowth = 10
)

type Fetcher struct {
	parser *gofeed.Parser
	client *http.Client
	log    *slog.Logger
}

func NewFetcher(log *slog.Logger) *Fetcher {
	client := &http.Client{Timeout: clientTimeout}

	parser := gofeed.NewParser()
	parser.Client = client
	parser.UserAgent = userAgent

	return &Fetcher{
		parser: parser,
		client: client,
		log:    log,
	}
}

type sourceOutcome struct {
	items []domain.Item
	err   error
}

// FetchAll fetches every source with bounded concurrency. A failing source
// contributes an error and zero items; it never stops the others. The
// returned ids are the sources that fetched cleanly, for last-fetched
// bookkeeping.
func (f *Fetcher) FetchAll(
	ctx context.Context,
	sources []domain.Source,
) ([]domain.Item, []int64, error) {
	if len(sources) == 0 {
		return nil, nil, nil
	}

	outcomes := make([]sourceOutcome, len(sources))

	var wg sync.WaitGroup
	concurrency := min(runtime.NumCPU()*fetchMaxConcurrencyGrowth, len(sources))
	semCh := make(chan struct{}, concurrency)

	for i, source := range sources {
		wg.Add(1)
		semCh <- struct{}{}

		go func(idx int, copiedSource domain.Source) {
			defer wg.Done()

			items, err := f.fetchSource(ctx, copiedSource)
			outcomes[idx] = sourceOutcome{items: items, err: err}

			<-semCh
		}(i, source)
	}

	wg.Wait()

	var items []domain.Item
	var fetchedIDs []int64
	var errs []error

	for i := range outcomes {
		if outcomes[i].err != nil {
			errs = append(errs, outcomes[i].err)
			continue
		}

		fetchedIDs = append(fetchedIDs, sources[i].ID)
		items = append(items, outcomes[i].items...)
	}

	return items, fetchedIDs, errors.Join(errs...)
}

func (f *Fetcher) fetchSource(ctx context.Context, source domain.Source) ([]domain.Item, error) {
	parsed, err := f.parser.ParseURLWithContext(source.URL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed (URL = %s): %w", source.URL, err)
	}

	return f.parseItems(ctx, source, parsed, time.Now()), nil
}
