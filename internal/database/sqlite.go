package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite3 "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	sqlite3 "github.com/mattn/go-sqlite3"

	"nichefeed/internal/domain"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrationsFS embed.FS

// sqlite IN lists are kept well below the default variable limit.
const sqliteLinkChunkSize = 500

type sqliteStore struct {
	db  *sql.DB
	log *slog.Logger
}

func newSQLiteStore(ctx context.Context, path string, log *slog.Logger) (*sqliteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open DB file: %w", err)
	}

	dbInstance, err := migratesqlite3.WithInstance(db, &migratesqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("create DB instance: %w", err)
	}

	srcInstance, err := iofs.New(sqliteMigrationsFS, "migrations/sqlite")
	if err != nil {
		return nil, fmt.Errorf("create source instance: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", srcInstance, "sqlite3", dbInstance)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}

	if err = runMigrations(ctx, m, "sqlite", path, log); err != nil {
		return nil, err
	}

	return &sqliteStore{db: db, log: log}, nil
}

func runMigrations(ctx context.Context, m *migrate.Migrate, driver string, target string, log *slog.Logger) error {
	migrateErr := m.Up()

	version, dirty, versionErr := m.Version()
	fields := []any{
		"driver", driver,
		"target", target,
	}

	if versionErr == nil {
		fields = append(fields, "version", version, "dirty", dirty)
	} else if !errors.Is(versionErr, migrate.ErrNilVersion) {
		log.WarnContext(ctx, "Failed to fetch migration version",
			"error", versionErr,
			"driver", driver,
			"target", target)
	}

	if migrateErr != nil {
		if !errors.Is(migrateErr, migrate.ErrNoChange) {
			return fmt.Errorf("apply migrations: %w", migrateErr)
		}

		log.InfoContext(ctx, "No migrations to apply", fields...)
	} else {
		log.InfoContext(ctx, "DB is migrated", fields...)
	}

	return nil
}

func (s *sqliteStore) SyncFeeds(ctx context.Context, sources []domain.Source) error {
	if len(sources) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			s.log.ErrorContext(ctx, "Failed to rollback tx",
				"error", rollbackErr,
				"operation", "SyncFeeds")
		}
	}()

	query := `insert into feeds (url, name, category, enabled)
	values (?, nullif(?, ''), ?, ?)
	on conflict (url) do update
	set name = coalesce(nullif(excluded.name, ''), feeds.name),
		category = excluded.category,
		enabled = excluded.enabled`

	for _, src := range sources {
		if _, err = tx.ExecContext(ctx, query, src.URL, src.Name, src.Category, src.Enabled); err != nil {
			return fmt.Errorf("upsert feed %q: %w", src.URL, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

func (s *sqliteStore) ListFeeds(ctx context.Context, category string, enabledOnly bool) ([]domain.Source, error) {
	query := `select id, url, coalesce(name, ''), category, enabled, last_fetched_at
	from feeds`

	var conds []string
	var args []any

	if category != "" {
		conds = append(conds, "category = ?")
		args = append(args, category)
	}
	if enabledOnly {
		conds = append(conds, "enabled")
	}
	if len(conds) > 0 {
		query += " where " + strings.Join(conds, " and ")
	}
	query += " order by id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer s.closeRows(ctx, rows, "ListFeeds")

	var feeds []domain.Source
	for rows.Next() {
		var f domain.Source
		var lastFetched sql.NullTime

		if err = rows.Scan(&f.ID, &f.URL, &f.Name, &f.Category, &f.Enabled, &lastFetched); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		if lastFetched.Valid {
			t := lastFetched.Time
			f.LastFetchedAt = &t
		}

		feeds = append(feeds, f)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return feeds, nil
}

func (s *sqliteStore) GetFeed(ctx context.Context, id int64) (*domain.Source, error) {
	query := `select id, url, coalesce(name, ''), category, enabled, last_fetched_at
	from feeds
	where id = ?`

	var f domain.Source
	var lastFetched sql.NullTime

	err := s.db.QueryRowContext(ctx, query, id).
		Scan(&f.ID, &f.URL, &f.Name, &f.Category, &f.Enabled, &lastFetched)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("feed %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}

	if lastFetched.Valid {
		t := lastFetched.Time
		f.LastFetchedAt = &t
	}

	return &f, nil
}

func (s *sqliteStore) CreateFeed(ctx context.Context, source domain.Source) (int64, error) {
	query := `insert into feeds (url, name, category, enabled)
	values (?, nullif(?, ''), ?, ?)`

	res, err := s.db.ExecContext(ctx, query, source.URL, source.Name, source.Category, source.Enabled)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return 0, fmt.Errorf("feed %q: %w", source.URL, ErrDuplicate)
		}

		return 0, fmt.Errorf("insert feed: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("fetch insert id: %w", err)
	}

	return id, nil
}

func (s *sqliteStore) UpdateFeed(ctx context.Context, source domain.Source) error {
	query := `update feeds
	set url = ?, name = nullif(?, ''), category = ?, enabled = ?
	where id = ?`

	res, err := s.db.ExecContext(ctx, query,
		source.URL, source.Name, source.Category, source.Enabled, source.ID)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("feed %q: %w", source.URL, ErrDuplicate)
		}

		return fmt.Errorf("update feed: %w", err)
	}

	return requireAffected(res, source.ID)
}

func (s *sqliteStore) DeleteFeed(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "delete from feeds where id = ?", id)
	if err != nil {
		return fmt.Errorf("delete feed: %w", err)
	}

	return requireAffected(res, id)
}

func requireAffected(res sql.Result, id int64) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("fetch affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("feed %d: %w", id, ErrNotFound)
	}

	return nil
}

func (s *sqliteStore) TouchFeedFetched(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	var errs []error
	for part := range slices.Chunk(ids, sqliteLinkChunkSize) {
		args := make([]any, 0, len(part)+1)
		args = append(args, at)
		for _, id := range part {
			args = append(args, id)
		}

		query := "update feeds set last_fetched_at = ? where id in (" + placeholders(len(part)) + ")"
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			errs = append(errs, fmt.Errorf("touch feeds: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (s *sqliteStore) CountFeedsByCategory(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, "select category, count(*) from feeds group by category")
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer s.closeRows(ctx, rows, "CountFeedsByCategory")

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

func (s *sqliteStore) SeenLinks(ctx context.Context, links []string) (map[string]struct{}, error) {
	seen := make(map[string]struct{}, len(links))
	if len(links) == 0 {
		return seen, nil
	}

	for part := range slices.Chunk(links, sqliteLinkChunkSize) {
		args := make([]any, 0, len(part))
		for _, link := range part {
			args = append(args, link)
		}

		query := "select link from articles where link in (" + placeholders(len(part)) + ")"

		if err := s.collectLinks(ctx, query, args, seen); err != nil {
			return nil, err
		}
	}

	return seen, nil
}

func (s *sqliteStore) collectLinks(ctx context.Context, query string, args []any, seen map[string]struct{}) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("execute query: %w", err)
	}
	defer s.closeRows(ctx, rows, "SeenLinks")

	for rows.Next() {
		var link string
		if err = rows.Scan(&link); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}

		seen[link] = struct{}{}
	}

	if err = rows.Err(); err != nil {
		return fmt.Errorf("iterate rows: %w", err)
	}

	return nil
}

func (s *sqliteStore) SaveArticles(ctx context.Context, articles []domain.Article) error {
	if len(articles) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			s.log.ErrorContext(ctx, "Failed to rollback tx",
				"error", rollbackErr,
				"operation", "SaveArticles")
		}
	}()

	query := `insert or ignore into articles
	(link, title, category, priority, published_at, summary_status)
	values (?, ?, ?, ?, ?, nullif(?, ''))`

	for _, a := range articles {
		_, err = tx.ExecContext(ctx, query,
			a.Link, a.Title, a.Category, string(a.Priority), a.PublishedAt, a.SummaryStatus)
		if err != nil {
			return fmt.Errorf("insert article %q: %w", a.Link, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

func (s *sqliteStore) ListArticles(ctx context.Context, opts ListArticlesOptions) ([]domain.Article, error) {
	query := articleColumns + " from articles"

	var args []any
	if opts.Category != "" {
		query += " where category = ?"
		args = append(args, opts.Category)
	}

	query += " order by created_at desc, id desc"

	if opts.Limit > 0 {
		query += " limit ?"
		args = append(args, opts.Limit)
	}
	if opts.Offset > 0 {
		query += " offset ?"
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer s.closeRows(ctx, rows, "ListArticles")

	return scanArticles(rows)
}

func (s *sqliteStore) ArticlesByLinks(ctx context.Context, links []string) ([]domain.Article, error) {
	if len(links) == 0 {
		return nil, nil
	}

	var articles []domain.Article
	for part := range slices.Chunk(links, sqliteLinkChunkSize) {
		args := make([]any, 0, len(part))
		for _, link := range part {
			args = append(args, link)
		}

		query := articleColumns + " from articles where link in (" + placeholders(len(part)) + ")"

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("execute query: %w", err)
		}

		chunkArticles, err := scanArticles(rows)
		s.closeRows(ctx, rows, "ArticlesByLinks")
		if err != nil {
			return nil, err
		}

		articles = append(articles, chunkArticles...)
	}

	return articles, nil
}

func (s *sqliteStore) AttachSummary(ctx context.Context, link string, summary string, status string) error {
	query := `update articles
	set summary = nullif(?, ''), summary_status = ?
	where link = ?`

	if _, err := s.db.ExecContext(ctx, query, summary, status, link); err != nil {
		return fmt.Errorf("update article summary: %w", err)
	}

	return nil
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func (s *sqliteStore) closeRows(ctx context.Context, rows *sql.Rows, operation string) {
	if err := rows.Close(); err != nil {
		s.log.ErrorContext(ctx, "Failed to close rows",
			"error", err,
			"operation", operation)
	}
}

const articleColumns = `select id, link, coalesce(title, ''), coalesce(category, ''),
	coalesce(priority, ''), published_at, coalesce(summary, ''),
	coalesce(summary_status, ''), created_at`

func scanArticles(rows *sql.Rows) ([]domain.Article, error) {
	var articles []domain.Article

	for rows.Next() {
		var a domain.Article
		var priority string
		var published sql.NullTime

		err := rows.Scan(&a.ID, &a.Link, &a.Title, &a.Category,
			&priority, &published, &a.Summary, &a.SummaryStatus, &a.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		a.Priority = domain.Priority(priority)
		if published.Valid {
			t := published.Time
			a.PublishedAt = &t
		}

		articles = append(articles, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return articles, nil
}
