package feed

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	logx "feedpush/pkg/logx"
)

const (
	defaultFetchTimeout = 30 * time.Second
	userAgent           = "feedpush/1.0 (+https://github.com/inipew/feedpush)"
)

// Fetcher retrieves and parses RSS/Atom feeds. It is safe for concurrent
// use by multiple poll cycles.
type Fetcher struct {
	parser *gofeed.Parser
	client *http.Client
	log    logx.Logger
}

func NewFetcher(timeout time.Duration, log logx.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Fetcher{
		parser: gofeed.NewParser(),
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

// Fetch returns the feed's entries in the order the feed supplies them.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]Entry, error) {
	fd, err := f.fetchFeed(ctx, url)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(fd.Items))
	for _, it := range fd.Items {
		if it == nil {
			continue
		}
		entries = append(entries, convertItem(it))
	}
	return entries, nil
}

// Validate fetches the feed once and returns its title, for use when a
// subscription is created.
func (f *Fetcher) Validate(ctx context.Context, url string) (string, error) {
	fd, err := f.fetchFeed(ctx, url)
	if err != nil {
		return "", err
	}
	title := strings.TrimSpace(fd.Title)
	if title == "" {
		title = url
	}
	return title, nil
}

func (f *Fetcher) fetchFeed(ctx context.Context, url string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: HTTP %d", url, resp.StatusCode)
	}
	fd, err := f.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}
	return fd, nil
}

func convertItem(it *gofeed.Item) Entry {
	desc := it.Description
	if strings.TrimSpace(desc) == "" {
		desc = it.Content
	}

	var published time.Time
	if it.PublishedParsed != nil {
		published = *it.PublishedParsed
	} else if it.UpdatedParsed != nil {
		published = *it.UpdatedParsed
	}

	var author string
	if len(it.Authors) > 0 && it.Authors[0] != nil {
		author = it.Authors[0].Name
	}

	return Entry{
		Title:       normalizeText(StripHTML(it.Title)),
		Link:        strings.TrimSpace(it.Link),
		Description: StripHTML(desc),
		Author:      strings.TrimSpace(author),
		GUID:        strings.TrimSpace(it.GUID),
		Published:   published,
		Images:      extractImages(it),
	}
}

// extractImages collects image URLs from the item image, enclosures and
// inline markup, in that order, without duplicates.
func extractImages(it *gofeed.Item) []string {
	var images []string
	seen := map[string]bool{}
	add := func(u string) {
		u = strings.TrimSpace(u)
		if u == "" || !strings.HasPrefix(u, "http") || seen[u] {
			return
		}
		seen[u] = true
		images = append(images, u)
	}

	if it.Image != nil {
		add(it.Image.URL)
	}
	for _, enc := range it.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") {
			add(enc.URL)
		}
	}
	for _, u := range inlineImageURLs(it.Description) {
		add(u)
	}
	for _, u := range inlineImageURLs(it.Content) {
		add(u)
	}
	return images
}
