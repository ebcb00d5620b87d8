package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // Registers the pgx database/sql driver used for migrations.

	"nichefeed/internal/domain"
)

//go:embed migrations/postgres/*.sql
var postgresMigrationsFS embed.FS

const pgUniqueViolation = "23505"

type postgresStore struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func newPostgresStore(ctx context.Context, dsn string, log *slog.Logger) (*postgresStore, error) {
	if err := migratePostgres(ctx, dsn, log); err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &postgresStore{pool: pool, log: log}, nil
}

// Migrations run over a short-lived database/sql connection because the
// migrate driver wants one; the pool above serves all regular queries.
func migratePostgres(ctx context.Context, dsn string, log *slog.Logger) error {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer func() {
		if closeErr := sqlDB.Close(); closeErr != nil {
			log.WarnContext(ctx, "Failed to close migration connection",
				"error", closeErr)
		}
	}()

	dbInstance, err := migratepgx.WithInstance(sqlDB, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("create DB instance: %w", err)
	}

	srcInstance, err := iofs.New(postgresMigrationsFS, "migrations/postgres")
	if err != nil {
		return fmt.Errorf("create source instance: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", srcInstance, "pgx/v5", dbInstance)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	return runMigrations(ctx, m, "postgres", "pool", log)
}

func (s *postgresStore) SyncFeeds(ctx context.Context, sources []domain.Source) error {
	if len(sources) == 0 {
		return nil
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer s.rollback(ctx, tx, "SyncFeeds")

	query := `insert into feeds (url, name, category, enabled)
	values ($1, nullif($2, ''), $3, $4)
	on conflict (url) do update
	set name = coalesce(nullif(excluded.name, ''), feeds.name),
		category = excluded.category,
		enabled = excluded.enabled`

	batch := &pgx.Batch{}
	for _, src := range sources {
		batch.Queue(query, src.URL, src.Name, src.Category, src.Enabled)
	}

	br := tx.SendBatch(ctx, batch)
	for range sources {
		if _, err = br.Exec(); err != nil {
			if closeErr := br.Close(); closeErr != nil {
				s.log.ErrorContext(ctx, "Failed to close batch results",
					"error", closeErr,
					"operation", "SyncFeeds")
			}

			return fmt.Errorf("upsert feed: %w", err)
		}
	}
	if err = br.Close(); err != nil {
		return fmt.Errorf("close batch results: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

func (s *postgresStore) ListFeeds(ctx context.Context, category string, enabledOnly bool) ([]domain.Source, error) {
	query := `select id, url, coalesce(name, ''), category, enabled, last_fetched_at
	from feeds`

	var args []any
	switch {
	case category != "" && enabledOnly:
		query += " where category = $1 and enabled"
		args = append(args, category)
	case category != "":
		query += " where category = $1"
		args = append(args, category)
	case enabledOnly:
		query += " where enabled"
	}
	query += " order by id"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	var feeds []domain.Source
	for rows.Next() {
		var f domain.Source

		if err = rows.Scan(&f.ID, &f.URL, &f.Name, &f.Category, &f.Enabled, &f.LastFetchedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		feeds = append(feeds, f)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return feeds, nil
}

func (s *postgresStore) GetFeed(ctx context.Context, id int64) (*domain.Source, error) {
	query := `select id, url, coalesce(name, ''), category, enabled, last_fetched_at
	from feeds
	where id = $1`

	var f domain.Source

	err := s.pool.QueryRow(ctx, query, id).
		Scan(&f.ID, &f.URL, &f.Name, &f.Category, &f.Enabled, &f.LastFetchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("feed %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}

	return &f, nil
}

func (s *postgresStore) CreateFeed(ctx context.Context, source domain.Source) (int64, error) {
	query := `insert into feeds (url, name, category, enabled)
	values ($1, nullif($2, ''), $3, $4)
	returning id`

	var id int64

	err := s.pool.QueryRow(ctx, query,
		source.URL, source.Name, source.Category, source.Enabled).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("feed %q: %w", source.URL, ErrDuplicate)
		}

		return 0, fmt.Errorf("insert feed: %w", err)
	}

	return id, nil
}

func (s *postgresStore) UpdateFeed(ctx context.Context, source domain.Source) error {
	query := `update feeds
	set url = $1, name = nullif($2, ''), category = $3, enabled = $4
	where id = $5`

	tag, err := s.pool.Exec(ctx, query,
		source.URL, source.Name, source.Category, source.Enabled, source.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("feed %q: %w", source.URL, ErrDuplicate)
		}

		return fmt.Errorf("update feed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("feed %d: %w", source.ID, ErrNotFound)
	}

	return nil
}

func (s *postgresStore) DeleteFeed(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, "delete from feeds where id = $1", id)
	if err != nil {
		return fmt.Errorf("delete feed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("feed %d: %w", id, ErrNotFound)
	}

	return nil
}

func (s *postgresStore) TouchFeedFetched(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	_, err := s.pool.Exec(ctx,
		"update feeds set last_fetched_at = $1 where id = any($2)", at, ids)
	if err != nil {
		return fmt.Errorf("touch feeds: %w", err)
	}

	return nil
}

func (s *postgresStore) CountFeedsByCategory(ctx context.Context) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx, "select category, count(*) from feeds group by category")
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var category string
		var count int64

		if err = rows.Scan(&category, &count); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		counts[category] = count
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return counts, nil
}

func (s *postgresStore) SeenLinks(ctx context.Context, links []string) (map[string]struct{}, error) {
	seen := make(map[string]struct{}, len(links))
	if len(links) == 0 {
		return seen, nil
	}

	rows, err := s.pool.Query(ctx,
		"select link from articles where link = any($1)", links)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var link string
		if err = rows.Scan(&link); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		seen[link] = struct{}{}
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return seen, nil
}

func (s *postgresStore) SaveArticles(ctx context.Context, articles []domain.Article) error {
	if len(articles) == 0 {
		return nil
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer s.rollback(ctx, tx, "SaveArticles")

	query := `insert into articles
	(link, title, category, priority, published_at, summary_status)
	values ($1, $2, $3, $4, $5, nullif($6, ''))
	on conflict (link) do nothing`

	batch := &pgx.Batch{}
	for _, a := range articles {
		batch.Queue(query,
			a.Link, a.Title, a.Category, string(a.Priority), a.PublishedAt, a.SummaryStatus)
	}

	br := tx.SendBatch(ctx, batch)
	for range articles {
		if _, err = br.Exec(); err != nil {
			if closeErr := br.Close(); closeErr != nil {
				s.log.ErrorContext(ctx, "Failed to close batch results",
					"error", closeErr,
					"operation", "SaveArticles")
			}

			return fmt.Errorf("insert article: %w", err)
		}
	}
	if err = br.Close(); err != nil {
		return fmt.Errorf("close batch results: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

func (s *postgresStore) ListArticles(ctx context.Context, opts ListArticlesOptions) ([]domain.Article, error) {
	query := pgArticleColumns + " from articles"

	var args []any
	if opts.Category != "" {
		args = append(args, opts.Category)
		query += fmt.Sprintf(" where category = $%d", len(args))
	}

	query += " order by created_at desc, id desc"

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" limit $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" offset $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	return scanPGArticles(rows)
}

func (s *postgresStore) ArticlesByLinks(ctx context.Context, links []string) ([]domain.Article, error) {
	if len(links) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		pgArticleColumns+" from articles where link = any($1)", links)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	return scanPGArticles(rows)
}

func (s *postgresStore) AttachSummary(ctx context.Context, link string, summary string, status string) error {
	query := `update articles
	set summary = nullif($1, ''), summary_status = $2
	where link = $3`

	if _, err := s.pool.Exec(ctx, query, summary, status, link); err != nil {
		return fmt.Errorf("update article summary: %w", err)
	}

	return nil
}

func (s *postgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *postgresStore) rollback(ctx context.Context, tx pgx.Tx, operation string) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		s.log.ErrorContext(ctx, "Failed to rollback tx",
			"error", err,
			"operation", operation)
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

const pgArticleColumns = `select id, link, coalesce(title, ''), coalesce(category, ''),
	coalesce(priority, ''), published_at, coalesce(summary, ''),
	coalesce(summary_status, ''), created_at`

func scanPGArticles(rows pgx.Rows) ([]domain.Article, error) {
	var articles []domain.Article

	for rows.Next() {
		var a domain.Article
		var priority string

		err := rows.Scan(&a.ID, &a.Link, &a.Title, &a.Category,
			&priority, &a.PublishedAt, &a.Summary, &a.SummaryStatus, &a.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		a.Priority = domain.Priority(priority)
		articles = append(articles, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return articles, nil
}
