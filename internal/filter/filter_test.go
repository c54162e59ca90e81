package filter

import (
	"testing"

	"feedbell/internal/model"
	"feedbell/internal/profile"
)

func TestPasses(t *testing.T) {
	tests := []struct {
		name    string
		entry   model.Entry
		require []string
		exclude []string
		want    bool
	}{
		{
			name:  "no patterns passes everything",
			entry: model.Entry{Title: "anything at all"},
			want:  true,
		},
		{
			name:    "require match passes",
			entry:   model.Entry{Title: "Kubernetes 1.32 Release Announcement"},
			require: []string{"release"},
			want:    true,
		},
		{
			name:    "require without match rejects",
			entry:   model.Entry{Title: "Docker Desktop Update"},
			require: []string{"release"},
			want:    false,
		},
		{
			name:    "require matches any of several patterns",
			entry:   model.Entry{Title: "Security advisory published"},
			require: []string{"release", "security"},
			want:    true,
		},
		{
			name:    "require is case insensitive",
			entry:   model.Entry{Title: "RELEASE notes"},
			require: []string{"Release"},
			want:    true,
		},
		{
			name:    "require matches author too",
			entry:   model.Entry{Title: "Weekly roundup", Author: "Release Team"},
			require: []string{"release"},
			want:    true,
		},
		{
			name:    "require matches summary too",
			entry:   model.Entry{Title: "Weekly roundup", Summary: "A new release of the CLI shipped."},
			require: []string{"release"},
			want:    true,
		},
		{
			name:    "exclude matches summary too",
			entry:   model.Entry{Title: "Community news", Summary: "Sponsored content from our partners."},
			exclude: []string{"sponsored"},
			want:    false,
		},
		{
			name:    "exclude match rejects",
			entry:   model.Entry{Title: "DevOps Job Vacancy at BigCorp"},
			exclude: []string{"vacancy"},
			want:    false,
		},
		{
			name:    "exclude without match passes",
			entry:   model.Entry{Title: "Helm Chart Release Best Practices"},
			exclude: []string{"vacancy"},
			want:    true,
		},
		{
			name:    "exclude wins over require match",
			entry:   model.Entry{Title: "Release announcement: sponsored webinar"},
			require: []string{"release"},
			exclude: []string{"sponsored"},
			want:    false,
		},
		{
			name:    "require match with non-matching exclude passes",
			entry:   model.Entry{Title: "Release announcement"},
			require: []string{"release"},
			exclude: []string{"sponsored"},
			want:    true,
		},
		{
			name:    "empty pattern strings are ignored",
			entry:   model.Entry{Title: "anything"},
			exclude: []string{""},
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := profile.Resolved{
				RequirePatterns: tt.require,
				ExcludePatterns: tt.exclude,
			}
			if got := Passes(tt.entry, p); got != tt.want {
				t.Errorf("Passes() = %v, want %v", got, tt.want)
			}
		})
	}
}
