package pipeline

import (
	"container/list"
	"sync"
	"time"
)

const (
	seenCacheMaxEntries = 4096
	seenCacheTTL        = 24 * time.Hour
)

// seenLinkCache remembers recently committed links so that back-to-back
// passes in daemon mode skip the store lookup for them. It is a bounded
// LRU with per-entry expiry; the store's unique key remains the source of
// truth, so a cold or evicted cache only costs a lookup, never a
// duplicate notification.
type seenLinkCache struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List
	maxEntries int
	ttl        time.Duration
}

type seenLinkEntry struct {
	link      string
	expiresAt time.Time
}

func newSeenLinkCache(maxEntries int, ttl time.Duration) *seenLinkCache {
	if maxEntries <= 0 || ttl <= 0 {
		return nil
	}

	return &seenLinkCache{
		entries:    make(map[string]*list.Element, maxEntries),
		order:      list.New(),
		maxEntries: maxEntries,
		ttl:        ttl,
	}
}

func (c *seenLinkCache) contains(link string, now time.Time) bool {
	if c == nil || link == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[link]
	if !ok {
		return false
	}

	entry, ok := elem.Value.(*seenLinkEntry)
	if !ok {
		return false
	}

	if now.After(entry.expiresAt) {
		c.removeElement(elem)

		return false
	}

	c.order.MoveToFront(elem)

	return true
}

func (c *seenLinkCache) add(link string, now time.Time) {
	if c == nil || link == "" {
		return
	}

	expiresAt := now.Add(c.ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[link]; ok {
		entry, castOk := elem.Value.(*seenLinkEntry)
		if !castOk {
			return
		}

		entry.expiresAt = expiresAt
		c.order.MoveToFront(elem)

		return
	}

	elem := c.order.PushFront(&seenLinkEntry{
		link:      link,
		expiresAt: expiresAt,
	})
	c.entries[link] = elem

	c.evictExpiredLocked(now)
	c.enforceSizeLimitLocked()
}

func (c *seenLinkCache) evictExpiredLocked(now time.Time) {
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()

		if entry, ok := elem.Value.(*seenLinkEntry); ok && now.After(entry.expiresAt) {
			c.removeElement(elem)
		}

		elem = prev
	}
}

func (c *seenLinkCache) enforceSizeLimitLocked() {
	for len(c.entries) > c.maxEntries {
		elem := c.order.Back()
		if elem == nil {
			return
		}
		c.removeElement(elem)
	}
}

func (c *seenLinkCache) removeElement(elem *list.Element) {
	entry, ok := elem.Value.(*seenLinkEntry)
	if !ok {
		return
	}

	delete(c.entries, entry.link)
	c.order.Remove(elem)
}
