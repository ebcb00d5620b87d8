package summarizer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"codeberg.org/readeck/go-readability/v2"
	"github.com/microcosm-cc/bluemonday"
)

const (
	extractTimeout   = 30 * time.Second
	maxBodyBytes     = 2 << 20
	maxContentLength = 15000
	minReadableText  = 200

	extractUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.0.0 Safari/537.36"
)

// Extractor fetches an article page and reduces it to plain text capped
// at a model-friendly length.
type Extractor struct {
	client *http.Client
	log    *slog.Logger
}

func NewExtractor(log *slog.Logger) *Extractor {
	return &Extractor{
		client: &http.Client{Timeout: extractTimeout},
		log:    log,
	}
}

// Extract downloads pageURL and returns its readable text. Pages where
// readability finds no article body fall back to stripped markup.
func (e *Extractor) Extract(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", extractUserAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch page: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			e.log.ErrorContext(ctx, "Failed to close response body",
				"error", closeErr,
				"operation", "Extract",
				"pageURL", pageURL)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch page: unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read page: %w", err)
	}

	text := readableText(string(body))
	if text == "" {
		return "", fmt.Errorf("no readable text (URL = %s)", pageURL)
	}

	return capContent(text), nil
}

// readableText extracts the main article text, falling back to plain tag
// stripping when readability yields nothing usable.
func readableText(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	if article, err := readability.FromReader(strings.NewReader(raw), nil); err == nil {
		var textBuilder strings.Builder
		if renderErr := article.RenderText(&textBuilder); renderErr == nil {
			text := normalizeWhitespace(textBuilder.String())
			if len(text) >= minReadableText {
				return text
			}
		}
	}

	return normalizeWhitespace(bluemonday.StrictPolicy().Sanitize(raw))
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func capContent(text string) string {
	if len(text) <= maxContentLength {
		return text
	}

	cut := maxContentLength
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}

	return text[:cut]
}
