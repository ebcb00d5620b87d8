// Package api exposes the management HTTP surface: feed CRUD, discovery,
// article history, payload preview, health, and metrics.
package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nichefeed/internal/config"
	"nichefeed/internal/database"
	"nichefeed/internal/domain"
	"nichefeed/internal/feed"
)

// Store is the slice of the row store the handlers need.
type Store interface {
	ListFeeds(ctx context.Context, category string, enabledOnly bool) ([]domain.Source, error)
	GetFeed(ctx context.Context, id int64) (*domain.Source, error)
	CreateFeed(ctx context.Context, source domain.Source) (int64, error)
	UpdateFeed(ctx context.Context, source domain.Source) error
	DeleteFeed(ctx context.Context, id int64) error
	CountFeedsByCategory(ctx context.Context) (map[string]int64, error)
	ListArticles(ctx context.Context, opts database.ListArticlesOptions) ([]domain.Article, error)
	ArticlesByLinks(ctx context.Context, links []string) ([]domain.Article, error)
	Ping(ctx context.Context) error
}

// Discoverer finds validated feed URLs in free text.
type Discoverer interface {
	FindFeeds(ctx context.Context, text string) ([]feed.DiscoveredFeed, error)
}

type RouterConfig struct {
	Store     Store
	Rules     *config.Rules
	Discovery Discoverer
	Log       *slog.Logger
}

// NewRouter builds the echo instance with all management routes mounted.
func NewRouter(cfg RouterConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	h := &handler{
		store:     cfg.Store,
		rules:     cfg.Rules,
		discovery: cfg.Discovery,
		log:       cfg.Log,
		startedAt: time.Now(),
	}

	v1 := e.Group("/v1")
	v1.GET("/feeds", h.listFeeds)
	v1.POST("/feeds", h.createFeed)
	v1.PATCH("/feeds/:id", h.updateFeed)
	v1.DELETE("/feeds/:id", h.deleteFeed)
	v1.POST("/feeds/discover", h.discoverFeeds)
	v1.GET("/categories", h.listCategories)
	v1.GET("/articles", h.listArticles)
	v1.POST("/articles/preview", h.previewArticles)
	v1.GET("/health", h.health)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return e
}
