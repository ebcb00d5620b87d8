package notify

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strings"

	"nichefeed/internal/config"
	"nichefeed/internal/domain"
)

// Message pairs one channel-compliant payload with the items it carries,
// so that the caller can mark exactly those items as seen once the payload
// is confirmed sent.
type Message struct {
	Payload WebhookPayload
	Items   []domain.ClassifiedItem
}

// BuildMessages packs category groups into the minimal sequence of
// payloads that respect the channel limits. Within each group the most
// recent ItemCap items survive; the rest are dropped before packing.
// Groups are consumed in the given order, one header block ahead of the
// group's item blocks. When a group spans payloads, its header block is
// re-emitted at the top of every follow-up payload. Groups with no
// surviving items produce nothing.
//
// Pure: inputs are never mutated and no I/O happens here.
func BuildMessages(groups []domain.CategoryGroup, limits config.Limits) []Message {
	capped := make([]domain.CategoryGroup, 0, len(groups))
	total := 0
	counts := make([]string, 0, len(groups))

	for _, group := range groups {
		group.Items = mostRecent(group.Items, group.ItemCap)
		if len(group.Items) == 0 {
			continue
		}

		capped = append(capped, group)
		total += len(group.Items)
		counts = append(counts, fmt.Sprintf("%s %d", group.Name, len(group.Items)))
	}

	if total == 0 {
		return nil
	}

	var messages []Message
	current := Message{}

	flush := func() {
		if len(current.Payload.Embeds) == 0 {
			return
		}

		messages = append(messages, current)
		current = Message{}
	}

	for _, group := range capped {
		header := categoryHeaderEmbed(group.Name, group.Emoji, len(group.Items))
		headerPending := true

		for _, item := range group.Items {
			embed := itemEmbed(item, group.Name, group.Emoji, limits.MaxBlockText)

			blocks, chars := 1, embedChars(embed)
			if headerPending {
				blocks++
				chars += embedChars(header)
			}

			if len(current.Payload.Embeds)+blocks > limits.MaxBlocksPerMessage ||
				current.Payload.Chars()+chars > limits.MaxMessageText {
				flush()
				headerPending = true

				// An item too large even for a payload of its own is
				// never dropped; its description shrinks to fit.
				budget := limits.MaxMessageText - embedChars(header) -
					embedChars(embed) + len(embed.Description)
				if len(embed.Description) > budget {
					embed.Description = truncate(embed.Description, max(budget, 0))
				}
			}

			if headerPending {
				current.Payload.Embeds = append(current.Payload.Embeds, header)
				headerPending = false
			}

			current.Payload.Embeds = append(current.Payload.Embeds, embed)
			current.Items = append(current.Items, item)
		}
	}
	flush()

	for i := range messages {
		if i == 0 {
			messages[i].Payload.Content = contentHeader(total, counts)
			continue
		}

		messages[i].Payload.Content = continuedContentHeader
	}

	return messages
}

const continuedContentHeader = "📰 **New articles have arrived!** (continued)"

func contentHeader(total int, counts []string) string {
	return fmt.Sprintf("📰 **New articles have arrived!** (%d total: %s)",
		total, strings.Join(counts, ", "))
}

// GroupByCategory arranges items into batcher-ready groups following the
// configured category order, unknown categories last in alphabetical
// order.
func GroupByCategory(items []domain.ClassifiedItem, rules *config.Rules) []domain.CategoryGroup {
	byName := make(map[string][]domain.ClassifiedItem)
	for _, item := range items {
		byName[item.Category] = append(byName[item.Category], item)
	}

	names := slices.SortedFunc(maps.Keys(byName), func(a, b string) int {
		if c := cmp.Compare(rules.OrderOf(a), rules.OrderOf(b)); c != 0 {
			return c
		}

		return cmp.Compare(a, b)
	})

	groups := make([]domain.CategoryGroup, 0, len(names))
	for _, name := range names {
		groups = append(groups, domain.CategoryGroup{
			Name:    name,
			Emoji:   rules.EmojiFor(name),
			ItemCap: rules.CapFor(name),
			Items:   byName[name],
		})
	}

	return groups
}

// mostRecent keeps the limit newest items by published time, preserving
// input order among equal timestamps. A limit of zero keeps everything.
func mostRecent(items []domain.ClassifiedItem, limit int) []domain.ClassifiedItem {
	sorted := slices.Clone(items)
	slices.SortStableFunc(sorted, func(a, b domain.ClassifiedItem) int {
		return b.PublishedAt.Compare(a.PublishedAt)
	})

	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}

	return sorted
}
