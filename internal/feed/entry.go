// Package feed fetches RSS/Atom feeds and derives stable identities for
// their entries.
package feed

import "time"

// Entry is one feed item as produced by a single poll. Entries are
// transient; only the identity derived from one is ever persisted.
type Entry struct {
	Title       string
	Link        string
	Description string
	Author      string
	// GUID is the feed-supplied unique id, empty when the feed omits it.
	GUID string
	// Published is the zero time when the feed supplies no usable date.
	Published time.Time
	// Images holds image URLs found in enclosures or entry markup.
	Images []string
}
