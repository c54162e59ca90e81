// Package scheduler drives the fetch cycles: purge, concurrent fetch,
// dedup, filter, flood-capped dispatch, and the single-transaction record
// of everything the cycle processed.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"feedbell/internal/fetcher"
	"feedbell/internal/filter"
	"feedbell/internal/model"
	"feedbell/internal/notify"
	"feedbell/internal/profile"
	"feedbell/internal/storage"
)

// Dispatcher is the notification sink for a cycle's surviving entries.
type Dispatcher interface {
	BeginCycle()
	Dispatch(ctx context.Context, candidates []notify.Candidate) int
}

// FeedSource supplies the current feed list at the start of each cycle.
type FeedSource interface {
	Feeds() []model.Feed
}

type phase string

const (
	phaseIdle         phase = "idle"
	phaseFetching     phase = "fetching"
	phaseDeduping     phase = "deduping"
	phaseFiltering    phase = "filtering"
	phaseDispatching  phase = "dispatching"
	phaseSleeping     phase = "sleeping"
	phaseShuttingDown phase = "shutting_down"
)

const defaultWorkers = 8

// Config holds the scheduler's cycle settings.
type Config struct {
	Interval        time.Duration
	Window          time.Duration
	SearchOnStartup bool
	Workers         int
}

// Scheduler owns the run loop and coordinates one cycle at a time.
type Scheduler struct {
	store    storage.Store
	fetcher  *fetcher.Fetcher
	feeds    FeedSource
	profiles *profile.Resolver
	dispatch Dispatcher
	log      *slog.Logger

	interval time.Duration
	window   time.Duration
	startup  bool
	workers  int

	// damp is set when the store was created this run: the first cycle
	// records everything in the window but only notifies entries published
	// within one interval, so a new install is not flooded with history.
	damp bool

	now func() time.Time

	mu    sync.Mutex
	phase phase
}

// New creates a Scheduler.
func New(store storage.Store, f *fetcher.Fetcher, feeds FeedSource, profiles *profile.Resolver, d Dispatcher, cfg Config, log *slog.Logger) *Scheduler {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Scheduler{
		store:    store,
		fetcher:  f,
		feeds:    feeds,
		profiles: profiles,
		dispatch: d,
		log:      log,
		interval: cfg.Interval,
		window:   cfg.Window,
		startup:  cfg.SearchOnStartup,
		workers:  workers,
		damp:     store.Fresh(),
		now:      time.Now,
		phase:    phaseIdle,
	}
}

// Run drives cycles until ctx is cancelled. The sleep is anchored at the
// start of the previous cycle, so a slow cycle does not push the cadence
// back; a cycle running longer than the interval triggers the next one
// immediately instead of stacking.
func (s *Scheduler) Run(ctx context.Context) {
	cycleStart := s.now()
	if s.startup {
		s.runCycle(ctx)
	}

	for {
		s.setPhase(phaseSleeping)
		timer := time.NewTimer(time.Until(cycleStart.Add(s.interval)))

		select {
		case <-ctx.Done():
			timer.Stop()
			s.setPhase(phaseShuttingDown)
			return
		case <-timer.C:
		}

		if ctx.Err() != nil {
			s.setPhase(phaseShuttingDown)
			return
		}
		cycleStart = s.now()
		s.runCycle(ctx)
	}
}

type feedEntries struct {
	feed    model.Feed
	entries []model.Entry
}

func (s *Scheduler) runCycle(ctx context.Context) {
	start := s.now()
	s.dispatch.BeginCycle()

	if purged, err := s.store.Purge(ctx, start, s.window); err != nil {
		s.log.Error("purge seen entries, dedup degraded", "error", err)
	} else if purged > 0 {
		s.log.Debug("purged expired seen entries", "count", purged)
	}

	feeds := s.feeds.Feeds()

	s.setPhase(phaseFetching)
	fetched := s.fetchAll(ctx, feeds)

	s.setPhase(phaseDeduping)
	fresh := s.dedup(ctx, fetched)

	s.setPhase(phaseFiltering)
	candidates, records := s.filterAndCollect(fresh, start)

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Entry.Published.Before(candidates[j].Entry.Published)
	})

	// A stop signal before dispatch aborts the cycle outright: nothing is
	// notified and nothing is recorded, so the next launch replays it.
	if ctx.Err() != nil {
		s.setPhase(phaseShuttingDown)
		s.log.Info("shutdown before dispatch, cycle discarded")
		return
	}

	s.setPhase(phaseDispatching)
	// Once dispatch starts the cycle runs to completion; shutdown waits.
	dispatchCtx := context.WithoutCancel(ctx)
	notified := s.dispatch.Dispatch(dispatchCtx, candidates)

	for _, c := range candidates[:notified] {
		if rec, ok := records[c.Entry.Fingerprint]; ok {
			rec.Notified = true
			records[c.Entry.Fingerprint] = rec
		}
	}

	recs := make([]model.SeenRecord, 0, len(records))
	for _, rec := range records {
		recs = append(recs, rec)
	}
	if err := s.store.RecordBatch(dispatchCtx, recs); err != nil {
		s.log.Error("record seen entries, duplicates possible next cycle", "error", err)
	}

	s.damp = false
	s.log.Info("search complete",
		"feeds", len(feeds),
		"new_entries", len(recs),
		"notified", notified,
		"elapsed", s.now().Sub(start).Round(time.Millisecond))
}

// fetchAll fetches every feed concurrently through a bounded worker pool.
// A failed fetch is logged and skipped; it never fails the cycle.
func (s *Scheduler) fetchAll(ctx context.Context, feeds []model.Feed) []feedEntries {
	var mu sync.Mutex
	var results []feedEntries

	g := new(errgroup.Group)
	g.SetLimit(s.workers)

	for _, feed := range feeds {
		feed := feed
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			entries, err := s.fetcher.Fetch(ctx, feed.URL)
			if err != nil {
				s.log.Error("fetch feed", "url", feed.URL, "error", err)
				return nil
			}
			mu.Lock()
			results = append(results, feedEntries{feed: feed, entries: entries})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].feed.URL < results[j].feed.URL })
	return results
}

// dedup drops entries already in the store plus duplicates yielded by two
// feeds in the same cycle.
func (s *Scheduler) dedup(ctx context.Context, fetched []feedEntries) []feedEntries {
	pending := make(map[string]bool)
	out := make([]feedEntries, 0, len(fetched))

	for _, fe := range fetched {
		kept := fe.entries[:0:0]
		for _, entry := range fe.entries {
			if pending[entry.Fingerprint] {
				continue
			}
			seen, err := s.store.IsSeen(ctx, entry.Fingerprint)
			if err != nil {
				// Degraded mode: treat as unseen and accept the risk of a
				// duplicate notification over a silently dropped one.
				s.log.Error("check seen, dedup degraded", "fingerprint", entry.Fingerprint, "error", err)
			}
			if seen {
				continue
			}
			pending[entry.Fingerprint] = true
			kept = append(kept, entry)
		}
		if len(kept) > 0 {
			out = append(out, feedEntries{feed: fe.feed, entries: kept})
		}
	}
	return out
}

// filterAndCollect resolves each feed's profile, applies the pattern rules
// and produces dispatch candidates plus a seen record for every new entry,
// filtered or not, keyed by fingerprint.
func (s *Scheduler) filterAndCollect(fresh []feedEntries, cycleStart time.Time) ([]notify.Candidate, map[string]model.SeenRecord) {
	var candidates []notify.Candidate
	records := make(map[string]model.SeenRecord)

	for _, fe := range fresh {
		resolved := s.profiles.Resolve(fe.feed.Profile)
		for _, entry := range fe.entries {
			records[entry.Fingerprint] = model.SeenRecord{
				Fingerprint: entry.Fingerprint,
				FeedURL:     entry.FeedURL,
				FirstSeen:   cycleStart.UTC(),
				Notified:    false,
			}
			if !filter.Passes(entry, resolved) {
				continue
			}
			if s.damp && cycleStart.Sub(entry.Published) > s.interval {
				// First run with a fresh store: remember history quietly.
				continue
			}
			candidates = append(candidates, notify.Candidate{Entry: entry, Profile: resolved})
		}
	}
	return candidates, records
}

func (s *Scheduler) setPhase(p phase) {
	s.mu.Lock()
	old := s.phase
	s.phase = p
	s.mu.Unlock()
	if old != p {
		s.log.Debug("phase change", "from", string(old), "to", string(p))
	}
}
