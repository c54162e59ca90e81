// Package notify turns filtered entries into desktop notifications and
// handles click-through launching.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"feedbell/internal/model"
	"feedbell/internal/profile"
	"feedbell/internal/thumbnail"
)

// Request is a rendered notification handed to the transport.
type Request struct {
	Summary   string
	Body      string
	IconPath  string
	Urgency   int
	TimeoutMS int
	Transient bool
	Resident  bool
}

// SignalKind distinguishes transport callbacks.
type SignalKind int

// Transport signal kinds.
const (
	SignalClicked SignalKind = iota
	SignalClosed
)

// Signal is a click or close event for a previously shown notification.
type Signal struct {
	ID   uint32
	Kind SignalKind
}

// Transport is the desktop notification service.
type Transport interface {
	Show(req Request) (uint32, error)
	Signals(ctx context.Context) (<-chan Signal, error)
}

// Candidate is an entry that survived dedup and filtering, paired with the
// profile that governs how it is shown.
type Candidate struct {
	Entry   model.Entry
	Profile profile.Resolved
}

// Launcher opens an entry link; swapped out in tests.
type Launcher interface {
	Launch(launcher string, args []string, link string) error
}

type activeNotification struct {
	link          string
	launcher      string
	launchArgs    []string
	thumbnailPath string
}

// Dispatcher shows notifications subject to a per-cycle flood cap and
// tracks active ones so clicks can be routed to the right launcher.
type Dispatcher struct {
	transport Transport
	launcher  Launcher
	thumbs    *thumbnail.Downloader
	floodCap  int
	log       *slog.Logger
	now       func() time.Time

	dispatched atomic.Int64

	mu     sync.Mutex
	active map[uint32]activeNotification
}

// New creates a Dispatcher. floodCap 0 means unlimited.
func New(transport Transport, launcher Launcher, thumbs *thumbnail.Downloader, floodCap int, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		transport: transport,
		launcher:  launcher,
		thumbs:    thumbs,
		floodCap:  floodCap,
		log:       log,
		now:       time.Now,
		active:    make(map[uint32]activeNotification),
	}
}

// BeginCycle resets the flood counter. Called once at the start of every
// fetch cycle.
func (d *Dispatcher) BeginCycle() {
	d.dispatched.Store(0)
}

// Dispatch shows notifications for the candidates until the flood cap is
// reached and returns how many were emitted. Entries past the cap are
// suppressed for good: the caller records them as seen so they are not
// retried next cycle. The counter is shared across callers, so the cap
// holds even when feeds are dispatched concurrently.
func (d *Dispatcher) Dispatch(ctx context.Context, candidates []Candidate) int {
	notified := 0
	for _, c := range candidates {
		if ctx.Err() != nil {
			return notified
		}

		n := d.dispatched.Add(1)
		if d.floodCap > 0 && n > int64(d.floodCap) {
			d.log.Info("flood cap reached, suppressing entry",
				"cap", d.floodCap, "link", c.Entry.Link)
			continue
		}

		d.show(c)
		notified++
	}
	return notified
}

func (d *Dispatcher) show(c Candidate) {
	iconPath := ""
	if c.Profile.DownloadThumbnails && c.Entry.ThumbnailURL != "" {
		path, err := d.thumbs.Download(c.Entry.ThumbnailURL)
		if err != nil {
			d.log.Warn("thumbnail download failed, showing without image",
				"url", c.Entry.ThumbnailURL, "error", err)
		} else {
			iconPath = path
		}
	}

	summary := c.Entry.Author
	if summary == "" {
		summary = c.Entry.FeedTitle
	}
	if c.Profile.EntryAge {
		summary = fmt.Sprintf("%s - %s", summary, ReadableAge(d.now().Sub(c.Entry.Published)))
	}

	id, err := d.transport.Show(Request{
		Summary:   summary,
		Body:      c.Entry.Title,
		IconPath:  iconPath,
		Urgency:   c.Profile.Urgency,
		TimeoutMS: c.Profile.TimeoutMS,
		Transient: c.Profile.Transience,
		Resident:  c.Profile.PersistOnClick,
	})
	if err != nil {
		// The entry is still recorded as notified upstream, otherwise a
		// flaky notification daemon causes a retry storm next cycle.
		d.log.Error("show notification", "link", c.Entry.Link, "error", err)
		d.thumbs.Remove(iconPath)
		return
	}

	d.mu.Lock()
	d.active[id] = activeNotification{
		link:          c.Entry.Link,
		launcher:      c.Profile.Launcher,
		launchArgs:    c.Profile.LaunchArgs,
		thumbnailPath: iconPath,
	}
	d.mu.Unlock()
}

// Run consumes transport signals until ctx is cancelled: clicks invoke the
// configured launcher with the entry link appended, closes release the
// notification's thumbnail.
func (d *Dispatcher) Run(ctx context.Context) error {
	signals, err := d.transport.Signals(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to notification signals: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				return nil
			}
			switch sig.Kind {
			case SignalClicked:
				d.onClicked(sig.ID)
			case SignalClosed:
				d.onClosed(sig.ID)
			}
		}
	}
}

func (d *Dispatcher) onClicked(id uint32) {
	d.mu.Lock()
	n, ok := d.active[id]
	d.mu.Unlock()
	if !ok {
		return
	}

	d.log.Info("launching entry link", "link", n.link, "launcher", n.launcher)
	if err := d.launcher.Launch(n.launcher, n.launchArgs, n.link); err != nil {
		// Notification state is unaffected, the click just did nothing.
		d.log.Error("launch entry link", "link", n.link, "launcher", n.launcher, "error", err)
	}
}

func (d *Dispatcher) onClosed(id uint32) {
	d.mu.Lock()
	n, ok := d.active[id]
	delete(d.active, id)
	d.mu.Unlock()
	if !ok {
		return
	}

	d.thumbs.Remove(n.thumbnailPath)
	d.log.Debug("notification closed and cleaned up", "id", id)
}

// ReadableAge renders an entry age as a short human phrase, e.g.
// "2 days, 3 hrs ago" or "12 mins ago".
func ReadableAge(age time.Duration) string {
	if age < 0 {
		age = 0
	}
	days := int(age.Hours()) / 24
	hours := int(age.Hours()) % 24
	minutes := int(age.Minutes()) % 60

	var parts []string
	switch {
	case days > 1:
		parts = append(parts, fmt.Sprintf("%d days", days))
	case days == 1:
		parts = append(parts, "1 day")
	}
	switch {
	case hours > 1:
		parts = append(parts, fmt.Sprintf("%d hrs", hours))
	case hours == 1:
		parts = append(parts, "1 hr")
	}

	if len(parts) == 0 {
		return fmt.Sprintf("%d mins ago", minutes)
	}
	return strings.Join(parts, ", ") + " ago"
}
