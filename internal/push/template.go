package push

import (
	"strings"
	"time"

	"feedpush/internal/feed"
)

// DefaultTemplate mirrors the classic push layout.
const DefaultTemplate = "【{name}】\n📰 {title}\n\n📝 {description}\n\n⏱️ {pubDate} | 👤 {author}\n🔗 {link}"

const maxDescriptionLen = 200

// Render substitutes the fixed placeholder table into the template.
//
// The pass is purely textual: values are inserted as-is and never rescanned,
// and nothing in the template is ever evaluated, so user-editable templates
// cannot become an injection vector. Unknown placeholders pass through
// literally (a typo degrades the message, it doesn't fail delivery); missing
// entry fields render as empty strings.
func Render(template, subName string, e feed.Entry, loc *time.Location) string {
	if strings.TrimSpace(template) == "" {
		template = DefaultTemplate
	}

	pubDate := ""
	if !e.Published.IsZero() {
		if loc == nil {
			loc = time.Local
		}
		pubDate = e.Published.In(loc).Format("2006-01-02 15:04")
	}
	values := map[string]string{
		"name":        subName,
		"title":       e.Title,
		"link":        e.Link,
		"description": feed.Truncate(e.Description, maxDescriptionLen),
		"pubDate":     pubDate,
		"author":      e.Author,
	}

	var b strings.Builder
	b.Grow(len(template) + 64)
	for {
		open := strings.IndexByte(template, '{')
		if open < 0 {
			b.WriteString(template)
			break
		}
		close := strings.IndexByte(template[open:], '}')
		if close < 0 {
			b.WriteString(template)
			break
		}
		close += open

		// "{foo{name}" should still substitute the inner {name}.
		if inner := strings.LastIndexByte(template[open+1:close], '{'); inner >= 0 {
			b.WriteString(template[:open+1+inner])
			template = template[open+1+inner:]
			continue
		}

		b.WriteString(template[:open])
		key := template[open+1 : close]
		if v, ok := values[key]; ok {
			b.WriteString(v)
		} else {
			// unknown placeholder: keep it verbatim
			b.WriteString(template[open : close+1])
		}
		template = template[close+1:]
	}
	return strings.TrimSpace(b.String())
}
