// Package feedlist loads the urls file that maps feed URLs to profiles.
//
// Format, one feed per line:
//
//	https://example.com/rss.xml            # default profile
//	https://example.com/atom.xml myprofile # explicit profile
//
// Anything after '#' is a comment; lines not starting with http are skipped.
package feedlist

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"feedbell/internal/config"
	"feedbell/internal/model"
)

// Parse reads the urls file content into an ordered feed list.
// An empty result is an error: a notifier with nothing to watch is a
// misconfiguration, not a valid state.
func Parse(r io.Reader) ([]model.Feed, error) {
	var feeds []model.Feed

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 || !strings.HasPrefix(fields[0], "http") {
			continue
		}

		feed := model.Feed{URL: fields[0], Profile: config.DefaultProfileName}
		if len(fields) > 1 {
			feed.Profile = fields[1]
		}
		feeds = append(feeds, feed)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read urls: %w", err)
	}
	if len(feeds) == 0 {
		return nil, fmt.Errorf("no feed urls found")
	}
	return feeds, nil
}

// ParseFile reads and parses the urls file at path.
func ParseFile(path string) ([]model.Feed, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("open urls file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Parse(f)
}
