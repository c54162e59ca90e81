// Package profile resolves named notification profiles into concrete,
// fully-merged settings snapshots.
package profile

import (
	"log/slog"

	"feedbell/internal/config"
)

// Resolved is an immutable, fully-merged view of one profile. Every field
// carries a usable value; nothing is read back from the config afterwards.
type Resolved struct {
	Name               string
	Launcher           string
	LaunchArgs         []string
	Transience         bool
	PersistOnClick     bool
	Urgency            int
	TimeoutMS          int
	EntryAge           bool
	DownloadThumbnails bool
	RequirePatterns    []string
	ExcludePatterns    []string
}

// System defaults applied when neither the named profile nor the default
// profile sets a field.
const (
	defaultLauncher  = "xdg-open"
	defaultUrgency   = 1
	defaultTimeoutMS = -1
)

// Resolver merges profiles over the default profile and system defaults.
type Resolver struct {
	profiles map[string]config.Profile
	log      *slog.Logger
	warned   map[string]bool
}

// New creates a Resolver over the loaded profile table.
func New(profiles map[string]config.Profile, log *slog.Logger) *Resolver {
	return &Resolver{
		profiles: profiles,
		log:      log,
		warned:   make(map[string]bool),
	}
}

// Resolve returns the fully-merged settings for the named profile.
// Unknown names resolve to the default profile; the feed is still
// processed, the bad reference is only warned about once.
func (r *Resolver) Resolve(name string) Resolved {
	def := r.profiles[config.DefaultProfileName]

	p, ok := r.profiles[name]
	if !ok {
		if name != config.DefaultProfileName && !r.warned[name] {
			r.log.Warn("unknown profile, falling back to default", "profile", name)
			r.warned[name] = true
		}
		name = config.DefaultProfileName
		p = def
	}

	return Resolved{
		Name:               name,
		Launcher:           mergeString(p.Launcher, def.Launcher, defaultLauncher),
		LaunchArgs:         mergeList(p.LaunchArgs, def.LaunchArgs),
		Transience:         mergeBool(p.Transience, def.Transience, false),
		PersistOnClick:     mergeBool(p.PersistOnClick, def.PersistOnClick, false),
		Urgency:            mergeInt(p.Urgency, def.Urgency, defaultUrgency),
		TimeoutMS:          mergeInt(p.TimeoutMS, def.TimeoutMS, defaultTimeoutMS),
		EntryAge:           mergeBool(p.EntryAge, def.EntryAge, false),
		DownloadThumbnails: mergeBool(p.DownloadThumbnails, def.DownloadThumbnails, true),
		RequirePatterns:    mergeList(p.RequirePatterns, def.RequirePatterns),
		ExcludePatterns:    mergeList(p.ExcludePatterns, def.ExcludePatterns),
	}
}

func mergeString(v, def *string, sys string) string {
	if v != nil {
		return *v
	}
	if def != nil {
		return *def
	}
	return sys
}

func mergeBool(v, def *bool, sys bool) bool {
	if v != nil {
		return *v
	}
	if def != nil {
		return *def
	}
	return sys
}

func mergeInt(v, def *int, sys int) int {
	if v != nil {
		return *v
	}
	if def != nil {
		return *def
	}
	return sys
}

func mergeList(v, def []string) []string {
	src := v
	if src == nil {
		src = def
	}
	// Copy so a resolved snapshot never aliases mutable config state.
	out := make([]string, len(src))
	copy(out, src)
	return out
}
