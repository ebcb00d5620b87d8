package classify_test

import (
	"testing"

	"nichefeed/internal/classify"
	"nichefeed/internal/config"
	"nichefeed/internal/domain"
)

func devCategory() *config.Category {
	return &config.Category{
		Name: "Dev",
		Keywords: config.Keywords{
			Exclude: []string{"sponsored", "webinar"},
			High:    []string{"breaking", "critical"},
			Medium:  []string{"release", "update"},
		},
	}
}

func TestClassifyExcludeWinsOverHigherTiers(t *testing.T) {
	item := domain.Item{Title: "BREAKING: sponsored critical release"}

	got := classify.Classify(item, devCategory())

	if !got.Excluded {
		t.Fatalf("expected exclude keyword to win over priority tiers")
	}
}

func TestClassifyTierOrder(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  domain.Priority
	}{
		{name: "high beats medium", title: "Critical update shipped", want: domain.PriorityHigh},
		{name: "medium tier", title: "New release notes", want: domain.PriorityMedium},
		{name: "default low", title: "Weekly reading list", want: domain.PriorityLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify.Classify(domain.Item{Title: tt.title}, devCategory())

			if got.Excluded {
				t.Fatalf("unexpected exclusion for %q", tt.title)
			}

			if got.Priority != tt.want {
				t.Fatalf("priority: got %q want %q", got.Priority, tt.want)
			}
		})
	}
}

func TestClassifyIsCaseInsensitive(t *testing.T) {
	got := classify.Classify(domain.Item{Title: "bReAkInG news"}, devCategory())

	if got.Priority != domain.PriorityHigh {
		t.Fatalf("priority: got %q want %q", got.Priority, domain.PriorityHigh)
	}
}

func TestClassifyMatchesSubstringsInsideWords(t *testing.T) {
	got := classify.Classify(domain.Item{Title: "Groundbreaking results"}, devCategory())

	if got.Priority != domain.PriorityHigh {
		t.Fatalf("expected substring match, got %q", got.Priority)
	}
}

func TestClassifyNilCategoryDefaultsToLow(t *testing.T) {
	got := classify.Classify(domain.Item{Title: "breaking sponsored"}, nil)

	if got.Excluded {
		t.Fatalf("expected no exclusion without a ruleset")
	}

	if got.Priority != domain.PriorityLow {
		t.Fatalf("priority: got %q want %q", got.Priority, domain.PriorityLow)
	}
}

func TestClassifyDisabledKeywordsDefaultToLow(t *testing.T) {
	disabled := false
	category := devCategory()
	category.Keywords.Enabled = &disabled

	got := classify.Classify(domain.Item{Title: "breaking sponsored"}, category)

	if got.Excluded || got.Priority != domain.PriorityLow {
		t.Fatalf("expected disabled ruleset to default to low, got %+v", got)
	}
}

func TestClassifyDescriptionMatchingIsOptIn(t *testing.T) {
	item := domain.Item{
		Title:       "Quiet title",
		Description: "contains a breaking change",
	}

	category := devCategory()
	if got := classify.Classify(item, category); got.Priority != domain.PriorityLow {
		t.Fatalf("expected title-only matching by default, got %q", got.Priority)
	}

	category.MatchDescription = true
	if got := classify.Classify(item, category); got.Priority != domain.PriorityHigh {
		t.Fatalf("expected description match when opted in, got %q", got.Priority)
	}
}

func TestClassifyBlankKeywordsNeverMatch(t *testing.T) {
	category := &config.Category{
		Name: "Dev",
		Keywords: config.Keywords{
			High: []string{"  ", ""},
		},
	}

	got := classify.Classify(domain.Item{Title: "anything at all"}, category)

	if got.Priority != domain.PriorityLow {
		t.Fatalf("expected blank keywords to be ignored, got %q", got.Priority)
	}
}

func TestApplyUsesPerCategoryRules(t *testing.T) {
	rules := &config.Rules{
		Categories: []config.Category{
			*devCategory(),
			{Name: "Quiet"},
		},
	}

	items := []domain.Item{
		{Title: "breaking change", Category: "Dev"},
		{Title: "breaking change", Category: "Quiet"},
		{Title: "breaking change", Category: "Unknown"},
	}

	got := classify.Apply(items, rules)
	if len(got) != 3 {
		t.Fatalf("classified count: got %d want %d", len(got), 3)
	}

	if got[0].Priority != domain.PriorityHigh {
		t.Fatalf("dev priority: got %q want %q", got[0].Priority, domain.PriorityHigh)
	}

	if got[1].Priority != domain.PriorityLow {
		t.Fatalf("empty-ruleset priority: got %q want %q", got[1].Priority, domain.PriorityLow)
	}

	if got[2].Priority != domain.PriorityLow {
		t.Fatalf("unknown-category priority: got %q want %q", got[2].Priority, domain.PriorityLow)
	}
}
