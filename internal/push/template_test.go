package push

import (
	"strings"
	"testing"
	"time"

	"feedpush/internal/feed"
)

func TestRenderDefaultTemplate(t *testing.T) {
	t.Parallel()
	e := feed.Entry{
		Title:       "Release 1.2",
		Link:        "https://example.org/release-1-2",
		Description: "Bug fixes and improvements.",
		Author:      "alice",
		Published:   time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC),
	}
	got := Render("", "Example Blog", e, time.UTC)

	for _, want := range []string{
		"【Example Blog】",
		"Release 1.2",
		"Bug fixes and improvements.",
		"2025-03-01 09:30",
		"alice",
		"https://example.org/release-1-2",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("rendered message missing %q:\n%s", want, got)
		}
	}
}

func TestRenderCustomTemplate(t *testing.T) {
	t.Parallel()
	e := feed.Entry{Title: "hello", Link: "https://example.org/a"}
	got := Render("{title} -> {link}", "sub", e, time.UTC)
	if got != "hello -> https://example.org/a" {
		t.Fatalf("got %q", got)
	}
}

func TestRenderEdgeCases(t *testing.T) {
	t.Parallel()
	e := feed.Entry{Title: "T", Link: "L"}
	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"unknown placeholder kept", "{title} {nope}", "T {nope}"},
		{"unclosed brace kept", "{title} {oops", "T {oops"},
		{"nested brace resolves inner", "{foo{title}", "{fooT"},
		{"empty braces kept", "{} {title}", "{} T"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Render(tc.template, "sub", e, time.UTC); got != tc.want {
				t.Fatalf("Render(%q) = %q, want %q", tc.template, got, tc.want)
			}
		})
	}
}

func TestRenderValuesNotRescanned(t *testing.T) {
	t.Parallel()
	e := feed.Entry{Title: "{link}", Link: "https://example.org/a"}
	got := Render("{title}", "sub", e, time.UTC)
	if got != "{link}" {
		t.Fatalf("placeholder-looking value was rescanned: %q", got)
	}
}

func TestRenderMissingFieldsEmpty(t *testing.T) {
	t.Parallel()
	got := Render("[{pubDate}][{author}]", "sub", feed.Entry{Title: "x"}, time.UTC)
	if got != "[][]" {
		t.Fatalf("got %q, want empty substitutions", got)
	}
}

func TestRenderTruncatesDescription(t *testing.T) {
	t.Parallel()
	e := feed.Entry{Description: strings.Repeat("长", 300)}
	got := Render("{description}", "sub", e, time.UTC)
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("long description not truncated: %q", got[:40])
	}
	if n := len([]rune(got)); n > maxDescriptionLen+3 {
		t.Fatalf("truncated description is %d runes", n)
	}
}
