package feed

import (
	"fmt"
	"hash/fnv"
	"net/url"
	"strings"
	"time"
)

// Identity derives a deterministic fingerprint for an entry.
//
// Derivation order matters: the feed's own GUID is authoritative when
// present; otherwise the link (stripped of query and fragment, since
// trackers vary those between fetches) combined with the title; as a last
// resort the title plus the published time. Falling back to time-based
// identity any earlier would flag republished-but-identical items as new.
//
// The description never participates, so edits to it don't resurrect an
// already-delivered entry.
func Identity(e Entry) string {
	if guid := strings.TrimSpace(e.GUID); guid != "" {
		return guid
	}
	if link := normalizeLink(e.Link); link != "" {
		return hashIdentity("link", link, normalizeText(e.Title))
	}
	if title := normalizeText(e.Title); title != "" {
		var ts string
		if !e.Published.IsZero() {
			ts = e.Published.UTC().Format(time.RFC3339)
		}
		return hashIdentity("title", title, ts)
	}
	return ""
}

// normalizeLink strips query parameters and fragments so the same logical
// item fetched twice yields the same identity.
func normalizeLink(link string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return ""
	}
	u, err := url.Parse(link)
	if err != nil {
		return link
	}
	u.RawQuery = ""
	u.Fragment = ""
	return strings.TrimSuffix(u.String(), "/")
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func hashIdentity(kind string, parts ...string) string {
	h := fnv.New64a()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return fmt.Sprintf("%s:%016x", kind, h.Sum64())
}
