package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"nichefeed/internal/config"
	"nichefeed/internal/database"
	"nichefeed/internal/domain"
	"nichefeed/internal/notify"
)

const (
	defaultArticleLimit = 50
	maxArticleLimit     = 200
)

type handler struct {
	store     Store
	rules     *config.Rules
	discovery Discoverer
	log       *slog.Logger
	startedAt time.Time
}

type errorResponse struct {
	Error string `json:"error"`
}

type feedResponse struct {
	ID            int64      `json:"id"`
	URL           string     `json:"url"`
	Name          string     `json:"name,omitempty"`
	Category      string     `json:"category"`
	Enabled       bool       `json:"enabled"`
	LastFetchedAt *time.Time `json:"last_fetched_at,omitempty"`
}

func newFeedResponse(source domain.Source) feedResponse {
	return feedResponse{
		ID:            source.ID,
		URL:           source.URL,
		Name:          source.Name,
		Category:      source.Category,
		Enabled:       source.Enabled,
		LastFetchedAt: source.LastFetchedAt,
	}
}

func (h *handler) listFeeds(c echo.Context) error {
	ctx := c.Request().Context()

	sources, err := h.store.ListFeeds(ctx, c.QueryParam("category"), false)
	if err != nil {
		h.log.ErrorContext(ctx, "Failed to list feeds", "error", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to list feeds"})
	}

	feeds := make([]feedResponse, 0, len(sources))
	for _, source := range sources {
		feeds = append(feeds, newFeedResponse(source))
	}

	return c.JSON(http.StatusOK, feeds)
}

type createFeedRequest struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Enabled  *bool  `json:"enabled"`
}

func (h *handler) createFeed(c echo.Context) error {
	ctx := c.Request().Context()

	var req createFeedRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	req.URL = strings.TrimSpace(req.URL)
	req.Category = strings.TrimSpace(req.Category)
	if req.URL == "" || req.Category == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "url and category are required"})
	}

	source := domain.Source{
		URL:      req.URL,
		Name:     strings.TrimSpace(req.Name),
		Category: req.Category,
		Enabled:  req.Enabled == nil || *req.Enabled,
	}

	id, err := h.store.CreateFeed(ctx, source)
	if err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return c.JSON(http.StatusConflict, errorResponse{Error: "feed URL already exists"})
		}

		h.log.ErrorContext(ctx, "Failed to create feed", "error", err, "url", source.URL)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to create feed"})
	}

	source.ID = id

	return c.JSON(http.StatusCreated, newFeedResponse(source))
}

type updateFeedRequest struct {
	URL      *string `json:"url"`
	Name     *string `json:"name"`
	Category *string `json:"category"`
	Enabled  *bool   `json:"enabled"`
}

func (h *handler) updateFeed(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid feed id"})
	}

	var req updateFeedRequest
	if err = c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	source, err := h.store.GetFeed(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return c.JSON(http.StatusNotFound, errorResponse{Error: "feed not found"})
		}

		h.log.ErrorContext(ctx, "Failed to load feed", "error", err, "feedID", id)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to load feed"})
	}

	if req.URL != nil {
		trimmed := strings.TrimSpace(*req.URL)
		if trimmed == "" {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "url must not be empty"})
		}

		source.URL = trimmed
	}
	if req.Name != nil {
		source.Name = strings.TrimSpace(*req.Name)
	}
	if req.Category != nil {
		trimmed := strings.TrimSpace(*req.Category)
		if trimmed == "" {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "category must not be empty"})
		}

		source.Category = trimmed
	}
	if req.Enabled != nil {
		source.Enabled = *req.Enabled
	}

	if err = h.store.UpdateFeed(ctx, *source); err != nil {
		switch {
		case errors.Is(err, database.ErrNotFound):
			return c.JSON(http.StatusNotFound, errorResponse{Error: "feed not found"})
		case errors.Is(err, database.ErrDuplicate):
			return c.JSON(http.StatusConflict, errorResponse{Error: "feed URL already exists"})
		}

		h.log.ErrorContext(ctx, "Failed to update feed", "error", err, "feedID", id)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to update feed"})
	}

	return c.JSON(http.StatusOK, newFeedResponse(*source))
}

func (h *handler) deleteFeed(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid feed id"})
	}

	if err = h.store.DeleteFeed(ctx, id); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return c.JSON(http.StatusNotFound, errorResponse{Error: "feed not found"})
		}

		h.log.ErrorContext(ctx, "Failed to delete feed", "error", err, "feedID", id)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to delete feed"})
	}

	return c.NoContent(http.StatusNoContent)
}

type discoverRequest struct {
	Text string `json:"text"`
}

type discoveredFeedResponse struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

func (h *handler) discoverFeeds(c echo.Context) error {
	ctx := c.Request().Context()

	var req discoverRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	if strings.TrimSpace(req.Text) == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "text is required"})
	}

	found, err := h.discovery.FindFeeds(ctx, req.Text)
	if err != nil {
		// Per-URL failures are expected with free text; the found feeds
		// still go back to the caller.
		h.log.WarnContext(ctx, "Some feed candidates failed validation", "error", err)
	}

	feeds := make([]discoveredFeedResponse, 0, len(found))
	for _, f := range found {
		feeds = append(feeds, discoveredFeedResponse{URL: f.URL, Title: f.Title})
	}

	return c.JSON(http.StatusOK, map[string][]discoveredFeedResponse{"feeds": feeds})
}

type keywordCounts struct {
	High    int `json:"high"`
	Medium  int `json:"medium"`
	Exclude int `json:"exclude"`
}

type categoryResponse struct {
	Name      string        `json:"name"`
	Emoji     string        `json:"emoji"`
	Enabled   bool          `json:"enabled"`
	ItemCap   int           `json:"item_cap"`
	FeedCount int64         `json:"feed_count"`
	Keywords  keywordCounts `json:"keywords"`
}

func (h *handler) listCategories(c echo.Context) error {
	ctx := c.Request().Context()

	counts, err := h.store.CountFeedsByCategory(ctx)
	if err != nil {
		h.log.ErrorContext(ctx, "Failed to count feeds", "error", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to count feeds"})
	}

	categories := make([]categoryResponse, 0, len(h.rules.Categories))
	for i := range h.rules.Categories {
		category := &h.rules.Categories[i]

		categories = append(categories, categoryResponse{
			Name:      category.Name,
			Emoji:     category.Emoji,
			Enabled:   category.IsEnabled(),
			ItemCap:   category.ItemCap,
			FeedCount: counts[category.Name],
			Keywords: keywordCounts{
				High:    len(category.Keywords.High),
				Medium:  len(category.Keywords.Medium),
				Exclude: len(category.Keywords.Exclude),
			},
		})
	}

	return c.JSON(http.StatusOK, categories)
}

type articleResponse struct {
	ID            int64      `json:"id"`
	Link          string     `json:"link"`
	Title         string     `json:"title"`
	Category      string     `json:"category"`
	Priority      string     `json:"priority"`
	PublishedAt   *time.Time `json:"published_at,omitempty"`
	Summary       string     `json:"summary,omitempty"`
	SummaryStatus string     `json:"summary_status,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (h *handler) listArticles(c echo.Context) error {
	ctx := c.Request().Context()

	limit, err := queryInt(c, "limit", defaultArticleLimit)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid limit"})
	}
	if limit <= 0 {
		limit = defaultArticleLimit
	}
	if limit > maxArticleLimit {
		limit = maxArticleLimit
	}

	offset, err := queryInt(c, "offset", 0)
	if err != nil || offset < 0 {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid offset"})
	}

	articles, err := h.store.ListArticles(ctx, database.ListArticlesOptions{
		Category: c.QueryParam("category"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		h.log.ErrorContext(ctx, "Failed to list articles", "error", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to list articles"})
	}

	out := make([]articleResponse, 0, len(articles))
	for _, article := range articles {
		out = append(out, articleResponse{
			ID:            article.ID,
			Link:          article.Link,
			Title:         article.Title,
			Category:      article.Category,
			Priority:      string(article.Priority),
			PublishedAt:   article.PublishedAt,
			Summary:       article.Summary,
			SummaryStatus: article.SummaryStatus,
			CreatedAt:     article.CreatedAt,
		})
	}

	return c.JSON(http.StatusOK, out)
}

func queryInt(c echo.Context, name string, fallback int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback, nil
	}

	return strconv.Atoi(raw)
}

type previewRequest struct {
	Links []string `json:"links"`
}

type previewResponse struct {
	Payloads []notify.WebhookPayload `json:"payloads"`
}

// previewArticles re-packs stored articles with the production batcher so
// operators can inspect the exact payloads a digest would produce, without
// sending anything.
func (h *handler) previewArticles(c echo.Context) error {
	ctx := c.Request().Context()

	var req previewRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}

	if len(req.Links) == 0 {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "links are required"})
	}

	articles, err := h.store.ArticlesByLinks(ctx, req.Links)
	if err != nil {
		h.log.ErrorContext(ctx, "Failed to load articles", "error", err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to load articles"})
	}

	items := make([]domain.ClassifiedItem, 0, len(articles))
	for _, article := range articles {
		item := domain.ClassifiedItem{
			Item: domain.Item{
				Title:       article.Title,
				Link:        article.Link,
				Description: article.Summary,
				Category:    article.Category,
			},
			Priority: article.Priority,
		}
		if article.PublishedAt != nil {
			item.PublishedAt = *article.PublishedAt
		}

		items = append(items, item)
	}

	messages := notify.BuildMessages(notify.GroupByCategory(items, h.rules), h.rules.Limits)

	payloads := make([]notify.WebhookPayload, 0, len(messages))
	for _, message := range messages {
		payloads = append(payloads, message.Payload)
	}

	return c.JSON(http.StatusOK, previewResponse{Payloads: payloads})
}

type healthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
	Error  string `json:"error,omitempty"`
}

func (h *handler) health(c echo.Context) error {
	ctx := c.Request().Context()
	uptime := time.Since(h.startedAt).Round(time.Second).String()

	if err := h.store.Ping(ctx); err != nil {
		h.log.ErrorContext(ctx, "Store ping failed", "error", err)
		return c.JSON(http.StatusServiceUnavailable, healthResponse{
			Status: "degraded",
			Uptime: uptime,
			Error:  "store unreachable",
		})
	}

	return c.JSON(http.StatusOK, healthResponse{Status: "ok", Uptime: uptime})
}
