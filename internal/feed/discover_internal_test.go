package feed

import (
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

func TestFeedLinkHrefsResolvesAndFilters(t *testing.T) {
	page := `<html><head>
		<link rel="alternate" type="application/rss+xml" href="/feed.xml">
		<link rel="alternate" type="application/atom+xml" href="https://other.example.com/atom.xml">
		<link rel="alternate" type="application/rss+xml" href="/feed.xml">
		<link rel="alternate" type="text/html" href="/mobile">
		<link rel="stylesheet" href="/style.css">
	</head><body></body></html>`

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		t.Fatalf("parse page: %v", err)
	}

	base, err := url.Parse("https://example.com/blog/post")
	if err != nil {
		t.Fatalf("parse base URL: %v", err)
	}

	got := feedLinkHrefs(doc, base)
	want := []string{
		"https://example.com/feed.xml",
		"https://other.example.com/atom.xml",
	}

	if len(got) != len(want) {
		t.Fatalf("href count: got %d want %d (%v)", len(got), len(want), got)
	}

	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("href %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestFeedLinkHrefsIgnoresEmptyHref(t *testing.T) {
	page := `<html><head>
		<link rel="alternate" type="application/rss+xml" href="">
		<link rel="alternate" type="application/rss+xml">
	</head></html>`

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		t.Fatalf("parse page: %v", err)
	}

	base, err := url.Parse("https://example.com/")
	if err != nil {
		t.Fatalf("parse base URL: %v", err)
	}

	if got := feedLinkHrefs(doc, base); len(got) != 0 {
		t.Fatalf("expected no hrefs, got %v", got)
	}
}
