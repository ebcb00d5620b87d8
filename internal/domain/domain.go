package domain

import "time"

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

type Source struct {
	ID            int64
	URL           string
	Name          string
	Category      string
	Enabled       bool
	LastFetchedAt *time.Time
}

// Item is one feed entry as parsed, alive only for the duration of a pass.
type Item struct {
	Title       string
	Link        string
	Description string
	PublishedAt time.Time
	SourceName  string
	Category    string
}

type ClassifiedItem struct {
	Item
	Priority Priority
	Excluded bool
}

// Article is the durable record of a delivered item; Link is the dedup key.
type Article struct {
	ID            int64
	Link          string
	Title         string
	Category      string
	Priority      Priority
	PublishedAt   *time.Time
	Summary       string
	SummaryStatus string
	CreatedAt     time.Time
}

const (
	SummaryPending   = "pending"
	SummaryCompleted = "completed"
	SummaryFailed    = "failed"
)

// CategoryGroup holds one category's surviving items in the order the
// pipeline collected them. ItemCap bounds how many of the most recent
// items the batcher keeps; zero means no cap.
type CategoryGroup struct {
	Name    string
	Emoji   string
	ItemCap int
	Items   []ClassifiedItem
}
