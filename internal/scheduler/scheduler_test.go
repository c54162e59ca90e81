package scheduler

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"feedbell/internal/config"
	"feedbell/internal/fetcher"
	"feedbell/internal/model"
	"feedbell/internal/notify"
	"feedbell/internal/profile"
	"feedbell/internal/storage"
)

type mockHTTP struct {
	responses map[string]string
	errs      map[string]error
}

func (m *mockHTTP) Do(req *http.Request) (*http.Response, error) {
	url := req.URL.String()
	if err, ok := m.errs[url]; ok {
		return nil, err
	}
	body, ok := m.responses[url]
	if !ok {
		return &http.Response{
			StatusCode: http.StatusNotFound,
			Body:       io.NopCloser(bytes.NewBufferString("not found")),
		}, nil
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
	}, nil
}

type mockDispatcher struct {
	mu     sync.Mutex
	cycles int
	calls  [][]notify.Candidate
	// limit emulates a flood cap; -1 notifies everything.
	limit int
}

func (m *mockDispatcher) BeginCycle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles++
}

func (m *mockDispatcher) Dispatch(_ context.Context, candidates []notify.Candidate) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]notify.Candidate, len(candidates))
	copy(cp, candidates)
	m.calls = append(m.calls, cp)
	if m.limit >= 0 && len(candidates) > m.limit {
		return m.limit
	}
	return len(candidates)
}

func (m *mockDispatcher) dispatched() [][]notify.Candidate {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([][]notify.Candidate, len(m.calls))
	copy(cp, m.calls)
	return cp
}

func (m *mockDispatcher) cycleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cycles
}

type staticFeeds []model.Feed

func (s staticFeeds) Feeds() []model.Feed { return s }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loadFixture(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile("../../testdata/sample.xml")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return string(data)
}

func newTestStore(t *testing.T) *storage.SQLite {
	t.Helper()
	s, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newResolver(profiles map[string]config.Profile) *profile.Resolver {
	if profiles == nil {
		profiles = map[string]config.Profile{config.DefaultProfileName: {}}
	}
	return profile.New(profiles, discardLogger())
}

func testConfig() Config {
	return Config{
		Interval: 30 * time.Minute,
		Window:   24 * time.Hour,
	}
}

func TestCycleEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	xml := loadFixture(t)

	feedURL := "https://devops.example.com/rss"
	f := fetcher.New(&mockHTTP{responses: map[string]string{feedURL: xml}}, 5*time.Second)
	dispatcher := &mockDispatcher{limit: -1}
	resolver := newResolver(map[string]config.Profile{
		config.DefaultProfileName: {},
		"releases":                {RequirePatterns: []string{"release"}},
	})

	s := New(store, f, staticFeeds{{URL: feedURL, Profile: "releases"}}, resolver, dispatcher, testConfig(), discardLogger())
	s.runCycle(ctx)

	calls := dispatcher.dispatched()
	if len(calls) != 1 {
		t.Fatalf("expected 1 dispatch call, got %d", len(calls))
	}

	var gotTitles []string
	for _, c := range calls[0] {
		gotTitles = append(gotTitles, c.Entry.Title)
	}
	wantTitles := []string{
		"Kubernetes 1.32 Release Announcement",
		"Helm Chart Release Best Practices",
	}
	if diff := cmp.Diff(wantTitles, gotTitles); diff != "" {
		t.Errorf("dispatched titles mismatch (-want +got):\n%s", diff)
	}

	// Every entry is recorded, filtered ones included.
	for _, fp := range []string{"item-1", "item-2", "item-3", "item-4"} {
		seen, err := store.IsSeen(ctx, fp)
		if err != nil {
			t.Fatalf("is seen %s: %v", fp, err)
		}
		if !seen {
			t.Errorf("expected %s to be recorded", fp)
		}
	}

	// Dispatched entries are marked notified, filtered ones are not.
	for fp, want := range map[string]bool{"item-1": true, "item-4": true, "item-2": false, "item-3": false} {
		rec, err := store.Get(ctx, fp)
		if err != nil {
			t.Fatalf("get %s: %v", fp, err)
		}
		if rec == nil {
			t.Fatalf("missing record for %s", fp)
		}
		if rec.Notified != want {
			t.Errorf("record %s notified = %v, want %v", fp, rec.Notified, want)
		}
	}
}

func TestCycleSkipsSeenEntries(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	xml := loadFixture(t)

	feedURL := "https://devops.example.com/rss"
	f := fetcher.New(&mockHTTP{responses: map[string]string{feedURL: xml}}, 5*time.Second)
	dispatcher := &mockDispatcher{limit: -1}

	s := New(store, f, staticFeeds{{URL: feedURL, Profile: "default"}}, newResolver(nil), dispatcher, testConfig(), discardLogger())

	s.runCycle(ctx)
	s.runCycle(ctx)

	calls := dispatcher.dispatched()
	if len(calls) != 2 {
		t.Fatalf("expected 2 dispatch calls, got %d", len(calls))
	}
	if len(calls[0]) != 5 {
		t.Errorf("first cycle dispatched %d, want 5", len(calls[0]))
	}
	if len(calls[1]) != 0 {
		t.Errorf("second cycle dispatched %d, want 0", len(calls[1]))
	}
}

func TestCyclePerFeedIsolation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	xml := loadFixture(t)

	goodURL := "https://devops.example.com/rss"
	badURL := "https://broken.example.com/rss"
	f := fetcher.New(&mockHTTP{
		responses: map[string]string{goodURL: xml},
		errs:      map[string]error{badURL: io.ErrUnexpectedEOF},
	}, 5*time.Second)
	dispatcher := &mockDispatcher{limit: -1}

	s := New(store, f, staticFeeds{
		{URL: badURL, Profile: "default"},
		{URL: goodURL, Profile: "default"},
	}, newResolver(nil), dispatcher, testConfig(), discardLogger())
	s.runCycle(ctx)

	calls := dispatcher.dispatched()
	if len(calls) != 1 || len(calls[0]) != 5 {
		t.Fatalf("expected the healthy feed's 5 entries to be dispatched, got %+v", calls)
	}
}

func TestCycleCrossFeedDedup(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	xml := loadFixture(t)

	// Two feeds serving identical payloads: each entry notified once.
	urlA := "https://a.example.com/rss"
	urlB := "https://b.example.com/rss"
	f := fetcher.New(&mockHTTP{responses: map[string]string{urlA: xml, urlB: xml}}, 5*time.Second)
	dispatcher := &mockDispatcher{limit: -1}

	s := New(store, f, staticFeeds{
		{URL: urlA, Profile: "default"},
		{URL: urlB, Profile: "default"},
	}, newResolver(nil), dispatcher, testConfig(), discardLogger())
	s.runCycle(ctx)

	total := 0
	for _, call := range dispatcher.dispatched() {
		total += len(call)
	}
	if total != 5 {
		t.Errorf("dispatched %d entries, want 5 (no cross-feed duplicates)", total)
	}
}

func TestCycleFloodCapRecordsSuppressed(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	xml := loadFixture(t)

	feedURL := "https://devops.example.com/rss"
	f := fetcher.New(&mockHTTP{responses: map[string]string{feedURL: xml}}, 5*time.Second)
	dispatcher := &mockDispatcher{limit: 2}

	s := New(store, f, staticFeeds{{URL: feedURL, Profile: "default"}}, newResolver(nil), dispatcher, testConfig(), discardLogger())
	s.runCycle(ctx)

	// All 5 recorded; only the 2 oldest (dispatch order) marked notified.
	notified := 0
	for _, fp := range []string{"item-1", "item-2", "item-3", "item-4"} {
		rec, err := store.Get(ctx, fp)
		if err != nil {
			t.Fatalf("get %s: %v", fp, err)
		}
		if rec == nil {
			t.Fatalf("missing record for %s", fp)
		}
		if rec.Notified {
			notified++
		}
	}
	if notified != 2 {
		t.Errorf("notified records = %d, want 2", notified)
	}

	// Suppressed entries are not retried next cycle.
	s.runCycle(ctx)
	calls := dispatcher.dispatched()
	if len(calls[1]) != 0 {
		t.Errorf("suppressed entries were retried: %d", len(calls[1]))
	}
}

func TestCycleAbortsOnShutdownBeforeDispatch(t *testing.T) {
	store := newTestStore(t)
	xml := loadFixture(t)

	feedURL := "https://devops.example.com/rss"
	f := fetcher.New(&mockHTTP{responses: map[string]string{feedURL: xml}}, 5*time.Second)
	dispatcher := &mockDispatcher{limit: -1}

	s := New(store, f, staticFeeds{{URL: feedURL, Profile: "default"}}, newResolver(nil), dispatcher, testConfig(), discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.runCycle(ctx)

	if calls := dispatcher.dispatched(); len(calls) != 0 {
		t.Errorf("expected no dispatch after shutdown, got %d calls", len(calls))
	}

	// Nothing recorded: the aborted cycle replays fully on next launch.
	seen, err := store.IsSeen(context.Background(), "item-1")
	if err != nil {
		t.Fatalf("is seen: %v", err)
	}
	if seen {
		t.Error("aborted cycle must not record entries")
	}
}

func TestFreshStoreDampsFirstCycle(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "feedbell.db")
	store, err := storage.NewSQLite(path)
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	xml := loadFixture(t)

	feedURL := "https://devops.example.com/rss"
	f := fetcher.New(&mockHTTP{responses: map[string]string{feedURL: xml}}, 5*time.Second)
	dispatcher := &mockDispatcher{limit: -1}

	s := New(store, f, staticFeeds{{URL: feedURL, Profile: "default"}}, newResolver(nil), dispatcher, testConfig(), discardLogger())
	s.runCycle(ctx)

	// Only the undated entry (publish time = fetch time) is fresh enough;
	// the historical ones are remembered quietly.
	calls := dispatcher.dispatched()
	if len(calls) != 1 {
		t.Fatalf("expected 1 dispatch call, got %d", len(calls))
	}
	var gotTitles []string
	for _, c := range calls[0] {
		gotTitles = append(gotTitles, c.Entry.Title)
	}
	wantTitles := []string{"Online Course: K8s Training for Beginners"}
	if diff := cmp.Diff(wantTitles, gotTitles); diff != "" {
		t.Errorf("damped dispatch mismatch (-want +got):\n%s", diff)
	}

	for _, fp := range []string{"item-1", "item-2", "item-3", "item-4"} {
		seen, err := store.IsSeen(ctx, fp)
		if err != nil {
			t.Fatalf("is seen %s: %v", fp, err)
		}
		if !seen {
			t.Errorf("expected %s to be recorded despite damping", fp)
		}
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	store := newTestStore(t)
	f := fetcher.New(&mockHTTP{}, time.Second)
	dispatcher := &mockDispatcher{limit: -1}

	cfg := testConfig()
	cfg.Interval = 10 * time.Millisecond
	cfg.SearchOnStartup = true

	s := New(store, f, staticFeeds{}, newResolver(nil), dispatcher, cfg, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}

	if dispatcher.cycleCount() == 0 {
		t.Error("expected at least one cycle with search_on_startup")
	}
}

func TestRunWaitsWhenStartupSearchDisabled(t *testing.T) {
	store := newTestStore(t)
	f := fetcher.New(&mockHTTP{}, time.Second)
	dispatcher := &mockDispatcher{limit: -1}

	cfg := testConfig()
	cfg.Interval = 10 * time.Minute
	cfg.SearchOnStartup = false

	s := New(store, f, staticFeeds{}, newResolver(nil), dispatcher, cfg, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}

	if got := dispatcher.cycleCount(); got != 0 {
		t.Errorf("expected no cycles before the first interval, got %d", got)
	}
}
