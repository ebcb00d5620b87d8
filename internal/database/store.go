package database

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"nichefeed/internal/domain"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

type ListArticlesOptions struct {
	Category string
	Limit    int
	Offset   int
}

// Store is the row store behind the pipeline and the management API. Seen
// lookups and commits are batched; SaveArticles is insert-if-absent so a
// retried commit is a no-op and concurrent passes cannot double-record a
// link.
type Store interface {
	SyncFeeds(ctx context.Context, sources []domain.Source) error
	ListFeeds(ctx context.Context, category string, enabledOnly bool) ([]domain.Source, error)
	GetFeed(ctx context.Context, id int64) (*domain.Source, error)
	CreateFeed(ctx context.Context, source domain.Source) (int64, error)
	UpdateFeed(ctx context.Context, source domain.Source) error
	DeleteFeed(ctx context.Context, id int64) error
	TouchFeedFetched(ctx context.Context, ids []int64, at time.Time) error
	CountFeedsByCategory(ctx context.Context) (map[string]int64, error)

	SeenLinks(ctx context.Context, links []string) (map[string]struct{}, error)
	SaveArticles(ctx context.Context, articles []domain.Article) error
	ListArticles(ctx context.Context, opts ListArticlesOptions) ([]domain.Article, error)
	ArticlesByLinks(ctx context.Context, links []string) ([]domain.Article, error)
	AttachSummary(ctx context.Context, link string, summary string, status string) error

	Ping(ctx context.Context) error
	Close() error
}

// Open picks the store implementation from the DSN shape: postgres URLs go
// to the pgx pool, anything else is treated as a sqlite file path.
func Open(ctx context.Context, dsn string, log *slog.Logger) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("database DSN is empty")
	}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return newPostgresStore(ctx, dsn, log)
	}

	return newSQLiteStore(ctx, dsn, log)
}
