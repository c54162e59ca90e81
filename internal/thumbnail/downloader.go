// Package thumbnail downloads notification thumbnails into a scratch
// directory. Everything here is best effort: a failed download means the
// notification is shown without an image, never that it is blocked.
package thumbnail

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

var mimeToExtension = map[string]string{
	"image/jpeg":               ".jpg",
	"image/png":                ".png",
	"image/vnd.microsoft.icon": ".ico",
	"image/x-icon":             ".ico",
	"image/bmp":                ".bmp",
	"image/webp":               ".webp",
	"image/svg+xml":            ".svg",
}

// Downloader fetches thumbnails into a dedicated temp directory.
type Downloader struct {
	client *http.Client
	dir    string
	log    *slog.Logger
}

// New creates a Downloader writing into dir, creating it if needed.
func New(dir string, timeout time.Duration, log *slog.Logger) (*Downloader, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create thumbnail dir: %w", err)
	}
	return &Downloader{
		client: &http.Client{Timeout: timeout},
		dir:    dir,
		log:    log,
	}, nil
}

// Dir returns the scratch directory thumbnails are written to.
func (d *Downloader) Dir() string {
	return d.dir
}

// Download fetches url into the scratch directory and returns the local
// file path. The extension is derived from the response content type;
// unrecognized types are rejected so the notification daemon is never
// handed a file it cannot render.
func (d *Downloader) Download(url string) (string, error) {
	resp, err := d.client.Get(url)
	if err != nil {
		return "", fmt.Errorf("get thumbnail: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	suffix := extensionFor(resp.Header.Get("Content-Type"))
	if suffix == "" {
		return "", fmt.Errorf("unsupported content type %q", resp.Header.Get("Content-Type"))
	}

	tmp, err := os.CreateTemp(d.dir, "thumbnail_*"+suffix)
	if err != nil {
		return "", fmt.Errorf("create thumbnail file: %w", err)
	}
	defer func() { _ = tmp.Close() }()

	if _, err := io.Copy(tmp, io.LimitReader(resp.Body, 2*1024*1024)); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write thumbnail: %w", err)
	}
	return tmp.Name(), nil
}

// Remove deletes a downloaded thumbnail, refusing paths outside the
// scratch directory.
func (d *Downloader) Remove(path string) {
	if path == "" || !strings.HasPrefix(path, d.dir+string(os.PathSeparator)) {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		d.log.Warn("remove thumbnail", "path", path, "error", err)
	}
}

// CleanDir removes every leftover thumbnail, typically at shutdown.
func (d *Downloader) CleanDir() {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		d.log.Warn("read thumbnail dir", "error", err)
		return
	}
	deleted := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(d.dir + string(os.PathSeparator) + e.Name()); err != nil {
			d.log.Warn("remove thumbnail", "name", e.Name(), "error", err)
			continue
		}
		deleted++
	}
	d.log.Info("cleaned up thumbnails", "deleted", deleted, "total", len(entries))
}

func extensionFor(contentType string) string {
	contentType = strings.ToLower(contentType)
	for mime, ext := range mimeToExtension {
		if strings.Contains(contentType, mime) {
			return ext
		}
	}
	return ""
}
