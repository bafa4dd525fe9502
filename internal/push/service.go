package push

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"feedpush/internal/config"
	"feedpush/internal/feed"
	"feedpush/internal/storage"
	"feedpush/internal/transport"
	"feedpush/pkg/logx"
)

// FeedFetcher retrieves and validates feeds. *feed.Fetcher satisfies it;
// tests substitute fakes.
type FeedFetcher interface {
	Fetch(ctx context.Context, url string) ([]feed.Entry, error)
	Validate(ctx context.Context, url string) (string, error)
}

// Service is the push engine façade: subscription CRUD, target management,
// manual triggers, and the lifecycle of one poller goroutine per enabled
// subscription.
type Service struct {
	log        logx.Logger
	store      storage.Store
	fetcher    FeedFetcher
	dispatcher *Dispatcher
	gate       *Gate

	settings atomic.Pointer[Settings]

	mu      sync.Mutex
	pollers map[string]*poller
	runCtx  context.Context
	cancel  context.CancelFunc
	started bool
}

func New(store storage.Store, fetcher FeedFetcher, sender transport.Sender, log logx.Logger) *Service {
	svc := &Service{
		log:        log,
		store:      store,
		fetcher:    fetcher,
		dispatcher: NewDispatcher(sender, log),
		gate:       NewGate(),
		pollers:    make(map[string]*poller),
	}
	def, _ := SettingsFromConfig(config.PushConfig{})
	svc.settings.Store(def)
	return svc
}

// Apply installs a new settings snapshot. Running pollers pick it up on
// their next cycle; the pending batch of a delayed poller re-evaluates
// against the new gate parameters when its timer fires.
func (s *Service) Apply(pc config.PushConfig) error {
	snap, err := SettingsFromConfig(pc)
	if err != nil {
		return err
	}
	s.settings.Store(snap)
	s.log.Info("push settings applied",
		logx.Duration("poll_interval", snap.PollInterval),
		logx.Int("rate_max", snap.RateMax),
		logx.Bool("enabled", snap.Enabled))
	return nil
}

// Start launches pollers for every enabled subscription. Idempotent.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	subs, err := s.store.ListSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("listing subscriptions: %w", err)
	}
	s.runCtx, s.cancel = context.WithCancel(context.Background())
	s.started = true
	for _, sub := range subs {
		if sub.Enabled {
			s.startPollerLocked(sub.ID)
		}
	}
	s.log.Info("push service started", logx.Int("subscriptions", len(subs)))
	return nil
}

// Stop halts all pollers and waits for in-flight cycles to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.cancel()
	pollers := make([]*poller, 0, len(s.pollers))
	for _, p := range s.pollers {
		pollers = append(pollers, p)
	}
	s.pollers = make(map[string]*poller)
	s.mu.Unlock()

	for _, p := range pollers {
		p.Stop()
	}
	s.log.Info("push service stopped")
}

func (s *Service) startPollerLocked(subID string) {
	if _, ok := s.pollers[subID]; ok {
		return
	}
	p := newPoller(s, subID, s.log)
	s.pollers[subID] = p
	go p.run(s.runCtx)
}

func (s *Service) stopPoller(subID string) {
	s.mu.Lock()
	p, ok := s.pollers[subID]
	if ok {
		delete(s.pollers, subID)
	}
	s.mu.Unlock()
	if ok {
		p.Stop()
	}
}

// AddSubscription validates the URL by fetching it, persists the
// subscription, and starts its poller. RSSHub routes (paths beginning with
// "/") are expanded against the configured default instance. When name is
// empty the feed's own title is used.
func (s *Service) AddSubscription(ctx context.Context, name, url string) (storage.Subscription, error) {
	snap := s.currentSettings()
	url = ExpandRSSHub(snap.RSSHubInstance, url)

	vctx, cancel := context.WithTimeout(ctx, snap.FetchTimeout)
	title, err := s.fetcher.Validate(vctx, url)
	cancel()
	if err != nil {
		return storage.Subscription{}, fmt.Errorf("feed validation failed: %w", err)
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = strings.TrimSpace(title)
	}
	if name == "" {
		return storage.Subscription{}, fmt.Errorf("subscription needs a name and the feed has no title")
	}
	if existing, err := s.findByName(ctx, name); err == nil {
		return existing, fmt.Errorf("subscription %q already exists", name)
	}

	sub := storage.Subscription{
		ID:        SubscriptionID(name),
		Name:      name,
		URL:       url,
		Enabled:   true,
		CreatedAt: time.Now(),
	}
	if err := s.store.UpsertSubscription(ctx, sub); err != nil {
		return storage.Subscription{}, err
	}
	s.mu.Lock()
	if s.started {
		s.startPollerLocked(sub.ID)
	}
	s.mu.Unlock()
	s.log.Info("subscription added", logx.String("name", name), logx.String("url", url))
	return sub, nil
}

// RemoveSubscription stops the poller, waits for any in-flight cycle, then
// purges the subscription with its targets, dedup history, and stats.
func (s *Service) RemoveSubscription(ctx context.Context, name string) error {
	sub, err := s.findByName(ctx, name)
	if err != nil {
		return err
	}
	s.stopPoller(sub.ID)
	s.gate.Forget(sub.ID)
	if err := s.store.DeleteSubscription(ctx, sub.ID); err != nil {
		return err
	}
	s.log.Info("subscription removed", logx.String("name", name))
	return nil
}

// UpdateSubscription persists edits to template, schedule, max items,
// filters, or the enabled flag. The poller set is reconciled to match.
func (s *Service) UpdateSubscription(ctx context.Context, sub storage.Subscription) error {
	if sub.Schedule != "" {
		if _, err := ParseSchedule(sub.Schedule); err != nil {
			return err
		}
	}
	if err := s.store.UpsertSubscription(ctx, sub); err != nil {
		return err
	}
	s.mu.Lock()
	if s.started {
		if sub.Enabled {
			s.startPollerLocked(sub.ID)
			s.mu.Unlock()
		} else {
			s.mu.Unlock()
			s.stopPoller(sub.ID)
		}
	} else {
		s.mu.Unlock()
	}
	return nil
}

func (s *Service) ListSubscriptions(ctx context.Context) ([]storage.Subscription, error) {
	subs, err := s.store.ListSubscriptions(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].Name < subs[j].Name })
	return subs, nil
}

func (s *Service) GetSubscription(ctx context.Context, name string) (storage.Subscription, error) {
	return s.findByName(ctx, name)
}

// AddTarget registers a push destination for the named subscription.
func (s *Service) AddTarget(ctx context.Context, name string, t transport.ChatTarget) error {
	sub, err := s.findByName(ctx, name)
	if err != nil {
		return err
	}
	return s.store.AddTarget(ctx, sub.ID, t)
}

func (s *Service) RemoveTarget(ctx context.Context, name string, t transport.ChatTarget) error {
	sub, err := s.findByName(ctx, name)
	if err != nil {
		return err
	}
	return s.store.RemoveTarget(ctx, sub.ID, t)
}

func (s *Service) ListTargets(ctx context.Context, name string) ([]transport.ChatTarget, error) {
	sub, err := s.findByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return sub.Targets, nil
}

// TriggerUpdate pokes the named subscription's poller for an immediate
// out-of-cycle poll. An empty name pokes every running poller.
func (s *Service) TriggerUpdate(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name == "" {
		for _, p := range s.pollers {
			p.Poke()
		}
		return nil
	}
	sub, err := s.findByName(ctx, name)
	if err != nil {
		return err
	}
	p, ok := s.pollers[sub.ID]
	if !ok {
		return fmt.Errorf("subscription %q is not running", name)
	}
	p.Poke()
	return nil
}

// TriggerImmediatePush fetches the feed and pushes its newest entry right
// now, bypassing both the dedup store and the gate. Nothing is recorded, so
// a later poll treats the entry normally.
func (s *Service) TriggerImmediatePush(ctx context.Context, name string) error {
	sub, err := s.findByName(ctx, name)
	if err != nil {
		return err
	}
	snap := s.currentSettings()
	fctx, cancel := context.WithTimeout(ctx, snap.FetchTimeout)
	entries, err := s.fetcher.Fetch(fctx, sub.URL)
	cancel()
	if err != nil {
		return fmt.Errorf("fetching %s: %w", sub.URL, err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("feed %q has no entries", name)
	}
	newest := entries[0]
	for _, e := range entries[1:] {
		if !e.Published.IsZero() && e.Published.After(newest.Published) {
			newest = e
		}
	}
	msg := renderMessage(snap, sub, newest)
	outcome := s.dispatcher.Send(ctx, snap, sub.Name, msg, sub.Targets)
	if !outcome.Delivered() && len(sub.Targets) > 0 {
		return fmt.Errorf("delivery failed for all %d targets", len(sub.Targets))
	}
	return nil
}

// Stats returns counters for one subscription, or all of them when name is
// empty.
func (s *Service) Stats(ctx context.Context, name string) ([]storage.Stats, error) {
	if name == "" {
		return s.store.ListStats(ctx)
	}
	sub, err := s.findByName(ctx, name)
	if err != nil {
		return nil, err
	}
	st, err := s.store.GetStats(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	return []storage.Stats{st}, nil
}

func (s *Service) currentSettings() *Settings {
	return s.settings.Load()
}

func (s *Service) subscription(ctx context.Context, id string) (storage.Subscription, bool) {
	sub, ok, err := s.store.GetSubscription(ctx, id)
	if err != nil {
		s.log.Debug("subscription lookup failed", logx.String("id", id), logx.Err(err))
		return storage.Subscription{}, false
	}
	return sub, ok
}

func (s *Service) findByName(ctx context.Context, name string) (storage.Subscription, error) {
	name = strings.TrimSpace(name)
	sub, ok, err := s.store.GetSubscription(ctx, SubscriptionID(name))
	if err != nil {
		return storage.Subscription{}, err
	}
	if !ok {
		return storage.Subscription{}, fmt.Errorf("subscription %q not found", name)
	}
	return sub, nil
}

// SubscriptionID derives a stable identifier from the subscription name.
// Renaming a subscription therefore resets its dedup history, which is the
// behavior users expect when re-adding under a new name.
func SubscriptionID(name string) string {
	h := fnv.New64a()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(name))))
	return fmt.Sprintf("sub-%016x", h.Sum64())
}

// ExpandRSSHub turns a bare RSSHub route ("/bilibili/user/1234") into a full
// URL against the configured instance. Full URLs pass through untouched.
func ExpandRSSHub(instance, url string) string {
	url = strings.TrimSpace(url)
	if strings.HasPrefix(url, "/") && instance != "" {
		return instance + url
	}
	return url
}
