// Package fetcher handles feed downloading, parsing, and entry normalization.
package fetcher

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mmcdole/gofeed"

	"feedbell/internal/model"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher downloads and parses feeds into normalized entries.
type Fetcher struct {
	client  HTTPClient
	timeout time.Duration
	now     func() time.Time
}

// New creates a Fetcher with the given HTTP client and per-feed timeout.
func New(client HTTPClient, timeout time.Duration) *Fetcher {
	return &Fetcher{
		client:  client,
		timeout: timeout,
		now:     time.Now,
	}
}

// Fetch downloads and parses the feed at feedURL, returning its entries in
// payload order. The hard timeout applies to this feed only; an error here
// never aborts the rest of the cycle.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) ([]model.Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "feedbell/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	parser := gofeed.NewParser()
	feed, err := parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	entries := make([]model.Entry, 0, len(feed.Items))
	for _, item := range feed.Items {
		entries = append(entries, f.normalize(feedURL, feed.Title, item))
	}
	return entries, nil
}

func (f *Fetcher) normalize(feedURL, feedTitle string, item *gofeed.Item) model.Entry {
	published := f.now().UTC()
	if item.PublishedParsed != nil {
		published = item.PublishedParsed.UTC()
	} else if item.UpdatedParsed != nil {
		published = item.UpdatedParsed.UTC()
	}

	return model.Entry{
		Fingerprint:  Fingerprint(item),
		FeedURL:      feedURL,
		FeedTitle:    feedTitle,
		Title:        item.Title,
		Summary:      item.Description,
		Author:       authorName(item, feedTitle),
		Link:         item.Link,
		ThumbnailURL: thumbnailURL(item),
		Published:    published,
	}
}

// Fingerprint returns the stable dedup key for a feed item.
// Items without an identifier get a SHA-256 hash of title, link and
// publish time, which stays stable across repeated fetches.
func Fingerprint(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	h := sha256.Sum256([]byte(item.Title + "|" + item.Link + "|" + item.Published))
	return fmt.Sprintf("sha256:%x", h[:16])
}

func authorName(item *gofeed.Item, fallback string) string {
	for _, a := range item.Authors {
		if a != nil && a.Name != "" {
			return a.Name
		}
	}
	if item.Author != nil && item.Author.Name != "" {
		return item.Author.Name
	}
	return fallback
}

// thumbnailURL picks the smallest media thumbnail, falling back to the
// site's favicon. Notification daemons scale images down anyway, so the
// smallest candidate wastes the least bandwidth.
func thumbnailURL(item *gofeed.Item) string {
	best := ""
	smallestW, smallestH := int(^uint(0)>>1), int(^uint(0)>>1)

	if media, ok := item.Extensions["media"]; ok {
		for _, thumb := range media["thumbnail"] {
			w, errW := strconv.Atoi(thumb.Attrs["width"])
			h, errH := strconv.Atoi(thumb.Attrs["height"])
			u := thumb.Attrs["url"]
			if errW != nil || errH != nil || w == 0 || h == 0 || u == "" {
				continue
			}
			if w < smallestW && h < smallestH {
				smallestW, smallestH = w, h
				best = u
			}
		}
	}
	if best != "" {
		return best
	}

	parsed, err := url.Parse(item.Link)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s://%s/favicon.ico", parsed.Scheme, parsed.Host)
}
