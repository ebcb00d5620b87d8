package notify

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"nichefeed/internal/domain"
	"nichefeed/internal/markdown"
	"nichefeed/internal/ratelimiter"
)

const (
	telegramMessageMaxLength = 4096

	telegramDigestHeader         = "📰 *New articles*\n\n"
	telegramDigestContinueHeader = "📰 *New articles \\(continued\\)*\n\n"
)

// Telegram mirrors the digest to one chat. It is a best-effort second
// sink: callers log its errors and move on, and it never influences
// which items count as delivered.
type Telegram struct {
	rateLimiter *ratelimiter.RateLimiter
	chatID      int64
	log         *slog.Logger
}

func NewTelegram(token string, chatID int64, log *slog.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(strings.TrimSpace(token))
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Telegram{
		rateLimiter: ratelimiter.New(api, log),
		chatID:      chatID,
		log:         log,
	}, nil
}

// SendDigest packs the groups into MarkdownV2 messages and sends them in
// order through the per-chat rate limiter.
func (t *Telegram) SendDigest(groups []domain.CategoryGroup) error {
	var errs []error

	for _, text := range formatDigestMessages(groups) {
		normalized := strings.ToValidUTF8(text, "?")
		if normalized != text {
			t.log.Warn("Message text had invalid UTF-8 and was normalized",
				"chatID", t.chatID,
				"originalLen", len(text),
				"normalizedLen", len(normalized))
		}

		message := tgbotapi.NewMessage(t.chatID, normalized)

		// See https://core.telegram.org/bots/api#markdownv2-style.
		message.ParseMode = tgbotapi.ModeMarkdownV2

		message.DisableWebPagePreview = true

		if _, err := t.rateLimiter.Send(message); err != nil {
			errs = append(errs, fmt.Errorf("send message: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (t *Telegram) Stop() {
	t.rateLimiter.Stop()
}

// formatDigestMessages packs category sections into messages under the
// Telegram length limit, re-emitting the category header whenever a
// section continues in a fresh message.
func formatDigestMessages(groups []domain.CategoryGroup) []string {
	var messages []string
	var currentMessage strings.Builder

	currentMessage.WriteString(telegramDigestHeader)
	headerLength := currentMessage.Len()

	for _, group := range groups {
		if len(group.Items) == 0 {
			continue
		}

		categoryHeader := fmt.Sprintf("%s *%s*\n\n", group.Emoji, markdown.EscapeV2(group.Name))
		firstBulletPoint := bulletPoint(group.Items[0])

		if currentMessage.Len()+
			len(categoryHeader)+
			len(firstBulletPoint) > telegramMessageMaxLength {
			messages = append(messages, currentMessage.String())
			currentMessage.Reset()
			currentMessage.WriteString(telegramDigestContinueHeader)
		}

		currentMessage.WriteString(categoryHeader)

		for _, item := range group.Items {
			point := bulletPoint(item)

			if currentMessage.Len()+len(point) > telegramMessageMaxLength {
				messages = append(messages, currentMessage.String())
				currentMessage.Reset()
				currentMessage.WriteString(telegramDigestContinueHeader)
				currentMessage.WriteString(categoryHeader)
			}

			currentMessage.WriteString(point)
		}
	}

	if currentMessage.Len() > headerLength {
		messages = append(messages, currentMessage.String())
	}

	return messages
}

func bulletPoint(item domain.ClassifiedItem) string {
	return fmt.Sprintf("%s [%s](%s)\n\n",
		priorityIcon(item.Priority), markdown.EscapeV2(item.Title), item.Link)
}
