// Package model defines the domain types used across the application.
package model

import "time"

// Feed is a single line of the urls file: a feed address and the name of
// the notification profile applied to its entries.
type Feed struct {
	URL     string
	Profile string
}

// Entry is a normalized feed item as produced by the fetcher.
type Entry struct {
	Fingerprint  string
	FeedURL      string
	FeedTitle    string
	Title        string
	Summary      string
	Author       string
	Link         string
	ThumbnailURL string
	Published    time.Time
}

// SeenRecord tracks an entry that has already been processed, whether or
// not it was notified. At most one record exists per fingerprint.
type SeenRecord struct {
	Fingerprint string
	FeedURL     string
	FirstSeen   time.Time
	Notified    bool
}
