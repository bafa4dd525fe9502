package push

import (
	"context"
	"sort"
	"sync"
	"time"

	"feedpush/internal/feed"
	"feedpush/internal/storage"
	"feedpush/pkg/logx"
)

// pendingEntry is an entry that passed dedup and filtering but has not yet
// been admitted by the gate. eligible records when it first became ready so
// the delay horizon is measured from that point, not from each retry.
type pendingEntry struct {
	entry    feed.Entry
	identity string
	eligible time.Time
}

// poller owns the polling loop for a single subscription. All cycle work
// (scheduled ticks, manual triggers, pending re-evaluation) is serialized
// through cycleMu so a subscription never fetches or dispatches concurrently
// with itself.
type poller struct {
	svc   *Service
	subID string
	log   logx.Logger

	trigger chan struct{}
	retry   chan struct{}
	stop    chan struct{}
	done    chan struct{}

	cycleMu sync.Mutex

	pendingMu  sync.Mutex
	pending    []pendingEntry
	retryTimer *time.Timer
}

func newPoller(svc *Service, subID string, log logx.Logger) *poller {
	return &poller{
		svc:     svc,
		subID:   subID,
		log:     log.With(logx.String("sub", subID)),
		trigger: make(chan struct{}, 1),
		retry:   make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (p *poller) run(ctx context.Context) {
	defer close(p.done)
	for {
		wait := p.nextWait(time.Now())
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-p.stop:
			timer.Stop()
			return
		case <-timer.C:
			p.runCycle(ctx, false)
		case <-p.trigger:
			timer.Stop()
			p.runCycle(ctx, true)
		case <-p.retry:
			timer.Stop()
			p.drainOnly(ctx)
		}
	}
}

// Poke requests an out-of-cycle poll. Non-blocking; a poke while one is
// already queued is a no-op.
func (p *poller) Poke() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

func (p *poller) Stop() {
	close(p.stop)
	p.pendingMu.Lock()
	if p.retryTimer != nil {
		p.retryTimer.Stop()
		p.retryTimer = nil
	}
	p.pendingMu.Unlock()
	<-p.done
}

func (p *poller) nextWait(now time.Time) time.Duration {
	s := p.svc.currentSettings()
	sub, ok := p.svc.subscription(context.Background(), p.subID)
	if ok && sub.Schedule != "" {
		if sched, err := ParseSchedule(sub.Schedule); err == nil {
			if d := sched.Next(now).Sub(now); d > 0 {
				return d
			}
			return time.Second
		}
		p.log.Warn("invalid schedule, using default poll interval",
			logx.String("schedule", sub.Schedule))
	}
	return s.PollInterval
}

// runCycle fetches the feed, resolves identities, filters against the dedup
// store and content rules, and hands the surviving batch to the drain loop.
// manual cycles run even for disabled subscriptions.
func (p *poller) runCycle(ctx context.Context, manual bool) {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	s := p.svc.currentSettings()
	sub, ok := p.svc.subscription(ctx, p.subID)
	if !ok {
		return
	}
	if !sub.Enabled && !manual {
		return
	}

	now := time.Now()
	fctx, cancel := context.WithTimeout(ctx, s.FetchTimeout)
	entries, err := p.svc.fetcher.Fetch(fctx, sub.URL)
	cancel()
	if err != nil {
		p.log.Warn("fetch failed", logx.String("url", sub.URL), logx.Err(err))
		p.bump(ctx, storage.StatsDelta{FetchFail: 1, LastError: err.Error(), LastCheck: now})
		return
	}
	p.bump(ctx, storage.StatsDelta{FetchOK: 1, LastCheck: now, ClearError: true})

	batch := p.tagIdentities(entries)

	hasHistory, err := p.svc.store.HasHistory(ctx, p.subID)
	if err != nil {
		p.log.Error("dedup history lookup failed", logx.Err(err))
		return
	}
	if !hasHistory {
		p.seed(ctx, batch, now)
		return
	}

	batch, err = p.filterSeen(ctx, batch)
	if err != nil {
		p.log.Error("dedup lookup failed", logx.Err(err))
		return
	}
	batch = p.applyFilters(ctx, sub, batch)
	batch = selectForDelivery(batch, p.maxItems(s, sub))

	if len(batch) > 0 {
		p.enqueue(batch, now)
	}
	p.drain(ctx, s)
	p.prune(ctx, s)
}

// drainOnly re-evaluates the pending batch after a gate delay has elapsed
// without issuing a fresh fetch.
func (p *poller) drainOnly(ctx context.Context) {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()
	p.drain(ctx, p.svc.currentSettings())
}

func (p *poller) tagIdentities(entries []feed.Entry) []pendingEntry {
	batch := make([]pendingEntry, 0, len(entries))
	for _, e := range entries {
		id := feed.Identity(e)
		if id == "" {
			p.log.Debug("entry has no resolvable identity, skipped",
				logx.String("title", e.Title))
			continue
		}
		batch = append(batch, pendingEntry{entry: e, identity: id})
	}
	return batch
}

// seed records every identity from the first successful fetch without
// dispatching anything, so a newly added subscription does not replay the
// feed's whole backlog.
func (p *poller) seed(ctx context.Context, batch []pendingEntry, now time.Time) {
	for _, pe := range batch {
		if err := p.svc.store.RecordDelivered(ctx, p.subID, pe.identity, now); err != nil {
			p.log.Error("seeding dedup store failed", logx.Err(err))
			return
		}
	}
	p.log.Info("seeded dedup history on first poll", logx.Int("entries", len(batch)))
}

func (p *poller) filterSeen(ctx context.Context, batch []pendingEntry) ([]pendingEntry, error) {
	if len(batch) == 0 {
		return batch, nil
	}
	ids := make([]string, len(batch))
	for i, pe := range batch {
		ids[i] = pe.identity
	}
	seen, err := p.svc.store.Seen(ctx, p.subID, ids)
	if err != nil {
		return nil, err
	}
	fresh := batch[:0]
	for _, pe := range batch {
		if !seen[pe.identity] {
			fresh = append(fresh, pe)
		}
	}
	return fresh, nil
}

func (p *poller) applyFilters(ctx context.Context, sub storage.Subscription, batch []pendingEntry) []pendingEntry {
	f := feed.NewFilter(sub.Filters, p.log)
	if f == nil {
		return batch
	}
	kept := batch[:0]
	dropped := 0
	for _, pe := range batch {
		if f.Allow(pe.entry) {
			kept = append(kept, pe)
		} else {
			dropped++
		}
	}
	if dropped > 0 {
		p.bump(ctx, storage.StatsDelta{FilteredOut: dropped})
	}
	return kept
}

func (p *poller) maxItems(s *Settings, sub storage.Subscription) int {
	max := sub.MaxItems
	if max <= 0 {
		max = s.DefaultMaxItems
	}
	if max < 1 {
		max = 1
	}
	if max > 10 {
		max = 10
	}
	return max
}

// selectForDelivery keeps the max newest entries and returns them oldest
// first so delivery order matches publication order. Entries without a
// parseable publication time keep their position in the feed.
func selectForDelivery(batch []pendingEntry, max int) []pendingEntry {
	sort.SliceStable(batch, func(i, j int) bool {
		ti, tj := batch[i].entry.Published, batch[j].entry.Published
		if ti.IsZero() || tj.IsZero() {
			return false
		}
		return ti.After(tj)
	})
	if len(batch) > max {
		batch = batch[:max]
	}
	for i, j := 0, len(batch)-1; i < j; i, j = i+1, j-1 {
		batch[i], batch[j] = batch[j], batch[i]
	}
	return batch
}

// enqueue appends the batch to the pending queue. Entries already pending
// are skipped: a gate-delayed entry has no dedup record yet, so without this
// check the next scheduled cycle would queue it a second time.
func (p *poller) enqueue(batch []pendingEntry, now time.Time) {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	queued := make(map[string]bool, len(p.pending))
	for _, pe := range p.pending {
		queued[pe.identity] = true
	}
	for _, pe := range batch {
		if queued[pe.identity] {
			continue
		}
		pe.eligible = now
		p.pending = append(p.pending, pe)
	}
}

// drain walks the pending queue through the gate and broadcasts the
// admitted prefix to all targets at once, so one target's retries never
// hold back another target's messages. A delayed entry pauses the rest of
// the batch until the gate's earliest admission time; a dropped entry is
// recorded as seen and counted, never sent.
func (p *poller) drain(ctx context.Context, s *Settings) {
	var admitted []pendingEntry
loop:
	for {
		p.pendingMu.Lock()
		if len(p.pending) == 0 {
			p.pendingMu.Unlock()
			break
		}
		pe := p.pending[0]
		p.pendingMu.Unlock()

		now := time.Now()
		dec := p.svc.gate.Admit(s, p.subID, now, pe.eligible)
		switch dec.Kind {
		case Delayed:
			p.scheduleRetry(dec.Until)
			break loop
		case Dropped:
			p.record(ctx, pe.identity, now)
			p.bump(ctx, storage.StatsDelta{DroppedHorizon: 1})
			p.log.Info("entry dropped, delay exceeded horizon",
				logx.String("title", pe.entry.Title))
			p.pop()
		case Admitted:
			// The rate budget is consumed at admission so the rest of
			// this batch is gated against it.
			p.svc.gate.Observe(s, p.subID, now)
			admitted = append(admitted, pe)
			p.pop()
		}
		select {
		case <-ctx.Done():
			break loop
		case <-p.stop:
			break loop
		default:
		}
	}
	if len(admitted) > 0 {
		p.dispatchBatch(ctx, s, admitted)
	}
}

// dispatchBatch renders and broadcasts admitted entries. Dedup is recorded
// for every entry after the dispatch attempt regardless of outcome; a
// failed push is never replayed on the next poll.
func (p *poller) dispatchBatch(ctx context.Context, s *Settings, batch []pendingEntry) {
	sub, ok := p.svc.subscription(ctx, p.subID)
	if !ok {
		return
	}
	msgs := make([]Message, len(batch))
	for i, pe := range batch {
		msgs[i] = renderMessage(s, sub, pe.entry)
	}
	outcomes := p.svc.dispatcher.Broadcast(ctx, s, sub.Name, msgs, sub.Targets)

	now := time.Now()
	delivered, failed := 0, 0
	for i, pe := range batch {
		p.record(ctx, pe.identity, now)
		if outcomes[i].Delivered() {
			delivered++
		} else {
			failed++
		}
	}
	if delivered > 0 {
		p.bump(ctx, storage.StatsDelta{Delivered: delivered, LastPush: now})
	}
	if failed > 0 && len(sub.Targets) > 0 {
		p.bump(ctx, storage.StatsDelta{DeliveryFailed: failed, LastError: "delivery failed for all targets"})
	}
}

func renderMessage(s *Settings, sub storage.Subscription, e feed.Entry) Message {
	text := Render(sub.Template, sub.Name, e, s.Location)
	if text == "" {
		text = Render("", sub.Name, e, s.Location)
	}
	msg := Message{Text: text}
	if len(e.Images) > 0 {
		msg.ImageURL = e.Images[0]
	}
	return msg
}

func (p *poller) scheduleRetry(until time.Time) {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	if p.retryTimer != nil {
		p.retryTimer.Stop()
	}
	d := time.Until(until)
	if d < 0 {
		d = 0
	}
	p.retryTimer = time.AfterFunc(d, func() {
		select {
		case p.retry <- struct{}{}:
		default:
		}
	})
	p.log.Debug("batch delayed by gate", logx.Time("until", until))
}

func (p *poller) pop() {
	p.pendingMu.Lock()
	if len(p.pending) > 0 {
		p.pending = p.pending[1:]
	}
	p.pendingMu.Unlock()
}

func (p *poller) hasPending() bool {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	return len(p.pending) > 0
}

func (p *poller) record(ctx context.Context, identity string, now time.Time) {
	if err := p.svc.store.RecordDelivered(ctx, p.subID, identity, now); err != nil {
		p.log.Error("recording dedup identity failed", logx.Err(err))
	}
}

func (p *poller) bump(ctx context.Context, delta storage.StatsDelta) {
	if err := p.svc.store.BumpStats(ctx, p.subID, delta); err != nil {
		p.log.Debug("stats update failed", logx.Err(err))
	}
}

func (p *poller) prune(ctx context.Context, s *Settings) {
	n, err := p.svc.store.PruneDedup(ctx, p.subID, s.Retention)
	if err != nil {
		p.log.Debug("dedup prune failed", logx.Err(err))
		return
	}
	if n > 0 {
		p.log.Debug("pruned dedup history", logx.Int("removed", n))
	}
}

