package feed

import (
	"regexp"
	"strings"
)

var (
	tagRe    = regexp.MustCompile(`<[^>]*>`)
	imgSrcRe = regexp.MustCompile(`<img[^>]+src=["']([^"']+)["']`)
)

// StripHTML removes markup and decodes common entities, keeping plain text.
func StripHTML(s string) string {
	if s == "" {
		return ""
	}
	s = tagRe.ReplaceAllString(s, " ")
	s = strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&apos;", "'",
	).Replace(s)
	return strings.TrimSpace(squeezeSpace(s))
}

// Truncate cuts s to at most n runes, appending an ellipsis when cut.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func inlineImageURLs(markup string) []string {
	if markup == "" {
		return nil
	}
	var urls []string
	for _, m := range imgSrcRe.FindAllStringSubmatch(markup, -1) {
		urls = append(urls, m[1])
	}
	return urls
}

func squeezeSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := false
	for _, r := range s {
		isSpace := r == ' ' || r == '\t' || r == '\r'
		if r == '\n' {
			// keep single newlines, they matter for message layout
			b.WriteRune('\n')
			lastSpace = true
			continue
		}
		if isSpace {
			if !lastSpace {
				b.WriteRune(' ')
			}
			lastSpace = true
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return b.String()
}
