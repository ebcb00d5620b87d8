package notify

import (
	"fmt"
	"unicode/utf8"

	"nichefeed/internal/domain"
)

// Discord color and icon conventions for the digest embeds.
const (
	priorityHighColor   = 0xFF4444
	priorityMediumColor = 0xFFD700
	priorityLowColor    = 0x4499FF
	categoryHeaderColor = 0x2F3136

	priorityHighIcon   = "🔥"
	priorityMediumIcon = "⭐"
	priorityLowIcon    = "📌"

	embedTitleMax    = 256
	truncationMarker = "..."
)

// WebhookPayload is the outbound JSON body of one webhook call.
type WebhookPayload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds"`
}

type Embed struct {
	Title       string       `json:"title"`
	URL         string       `json:"url,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
}

type EmbedFooter struct {
	Text string `json:"text"`
}

// Chars counts the text the channel bills against the per-message total:
// every embed title, description, and footer.
func (p WebhookPayload) Chars() int {
	total := 0
	for _, e := range p.Embeds {
		total += embedChars(e)
	}

	return total
}

func embedChars(e Embed) int {
	total := len(e.Title) + len(e.Description)
	if e.Footer != nil {
		total += len(e.Footer.Text)
	}

	return total
}

func categoryHeaderEmbed(name, emoji string, count int) Embed {
	return Embed{
		Title:       fmt.Sprintf("%s %s", emoji, name),
		Description: fmt.Sprintf("%d new articles", count),
		Color:       categoryHeaderColor,
	}
}

func itemEmbed(item domain.ClassifiedItem, categoryName, emoji string, maxBlockText int) Embed {
	icon := priorityIcon(item.Priority)

	footerText := fmt.Sprintf("%s %s", emoji, categoryName)
	if item.SourceName != "" {
		footerText += " · " + item.SourceName
	}

	return Embed{
		Title:       fmt.Sprintf("%s %s", icon, truncate(item.Title, embedTitleMax-len(icon)-1)),
		URL:         item.Link,
		Description: truncate(item.Description, maxBlockText),
		Color:       priorityColor(item.Priority),
		Footer:      &EmbedFooter{Text: footerText},
	}
}

func priorityColor(p domain.Priority) int {
	switch p {
	case domain.PriorityHigh:
		return priorityHighColor
	case domain.PriorityMedium:
		return priorityMediumColor
	default:
		return priorityLowColor
	}
}

func priorityIcon(p domain.Priority) string {
	switch p {
	case domain.PriorityHigh:
		return priorityHighIcon
	case domain.PriorityMedium:
		return priorityMediumIcon
	default:
		return priorityLowIcon
	}
}

// truncate cuts text to at most limit bytes, appending a marker when
// anything was removed. Cuts never split a UTF-8 sequence.
func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	if limit < len(truncationMarker) {
		return ""
	}

	cut := limit - len(truncationMarker)
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}

	return text[:cut] + truncationMarker
}
