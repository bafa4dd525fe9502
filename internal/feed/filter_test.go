package feed

import (
	"testing"

	"feedpush/pkg/logx"
)

func TestFilterNilAllowsAll(t *testing.T) {
	t.Parallel()
	f := NewFilter(FilterRules{}, logx.Nop())
	if f != nil {
		t.Fatal("empty rules should compile to nil")
	}
	if !f.Allow(Entry{Title: "anything"}) {
		t.Fatal("nil filter rejected an entry")
	}
}

func TestFilterKeywords(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		rules FilterRules
		entry Entry
		want  bool
	}{
		{
			name:  "blacklist hit on title",
			rules: FilterRules{Blacklist: []string{"sponsored"}},
			entry: Entry{Title: "Sponsored: new gadget"},
			want:  false,
		},
		{
			name:  "blacklist hit on description",
			rules: FilterRules{Blacklist: []string{"advert"}},
			entry: Entry{Title: "News", Description: "This is an ADVERT for things"},
			want:  false,
		},
		{
			name:  "whitelist miss",
			rules: FilterRules{Whitelist: []string{"golang"}},
			entry: Entry{Title: "Python news"},
			want:  false,
		},
		{
			name:  "whitelist hit case-insensitive",
			rules: FilterRules{Whitelist: []string{"golang"}},
			entry: Entry{Title: "GoLang 1.25 released"},
			want:  true,
		},
		{
			name:  "blacklist beats whitelist",
			rules: FilterRules{Whitelist: []string{"release"}, Blacklist: []string{"beta"}},
			entry: Entry{Title: "Beta release available"},
			want:  false,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := NewFilter(tc.rules, logx.Nop())
			if got := f.Allow(tc.entry); got != tc.want {
				t.Fatalf("Allow = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFilterRegex(t *testing.T) {
	t.Parallel()
	f := NewFilter(FilterRules{
		Whitelist: []string{`v\d+\.\d+`},
		UseRegex:  true,
	}, logx.Nop())
	if !f.Allow(Entry{Title: "Release v1.25 out now"}) {
		t.Error("regex whitelist should match version strings")
	}
	if f.Allow(Entry{Title: "Roadmap update"}) {
		t.Error("regex whitelist should reject non-matching titles")
	}
}

func TestFilterInvalidRegexSkipped(t *testing.T) {
	t.Parallel()
	f := NewFilter(FilterRules{
		Blacklist: []string{"[broken", "good"},
		UseRegex:  true,
	}, logx.Nop())
	// the invalid pattern is dropped, the valid one still applies
	if f.Allow(Entry{Title: "a good day"}) {
		t.Error("valid pattern next to an invalid one was lost")
	}
	if !f.Allow(Entry{Title: "unrelated"}) {
		t.Error("invalid pattern should not reject everything")
	}
}
