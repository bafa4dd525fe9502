package push

import (
	"sync"
	"time"

	"feedpush/internal/config"
)

// DecisionKind is the gate's verdict for one proposed push.
type DecisionKind int

const (
	// Admitted means the push may proceed now.
	Admitted DecisionKind = iota
	// Delayed means the push must wait until Decision.Until and be
	// re-evaluated then.
	Delayed
	// Dropped means the required delay exceeds the horizon; the item is
	// abandoned and must be counted in stats.
	Dropped
)

type Decision struct {
	Kind  DecisionKind
	Until time.Time
}

// Gate decides whether a push may proceed at a given time, combining the
// quiet-hour windows with a sliding-window rate limit.
//
// The sliding log keeps exact push timestamps so a Delay can name the
// moment the oldest counted push leaves the window. A token bucket can't do
// that, and can also exceed max_pushes over a sliding window by up to the
// burst size, which would break the rate ceiling the config promises.
type Gate struct {
	mu     sync.Mutex
	pushes map[string][]time.Time
}

const globalScopeKey = "\x00global"

func NewGate() *Gate {
	return &Gate{pushes: map[string][]time.Time{}}
}

// Admit evaluates a push proposed at "at" for an item first eligible at
// "firstEligible". The quiet-hour check runs first (it is the coarser
// gate); when both checks delay, the later time wins. A delay that would
// land past firstEligible+DelayHorizon drops the item instead.
func (g *Gate) Admit(s *Settings, subID string, at, firstEligible time.Time) Decision {
	until := at

	if quietEnd, inQuiet := quietWindowEnd(s, at); inQuiet {
		until = quietEnd
	}
	if rateEnd, limited := g.rateWindowEnd(s, subID, until); limited {
		if rateEnd.After(until) {
			until = rateEnd
		}
	}

	if !until.After(at) {
		return Decision{Kind: Admitted}
	}
	if s.DelayHorizon > 0 && until.After(firstEligible.Add(s.DelayHorizon)) {
		return Decision{Kind: Dropped, Until: until}
	}
	return Decision{Kind: Delayed, Until: until}
}

// Observe records an admitted push into the sliding log.
func (g *Gate) Observe(s *Settings, subID string, at time.Time) {
	if s.RateMax <= 0 {
		return
	}
	key := g.scopeKey(s, subID)
	g.mu.Lock()
	defer g.mu.Unlock()
	log := append(g.pushes[key], at)
	g.pushes[key] = trimLog(log, at.Add(-s.RatePer))
}

// Forget drops a subscription's rate state, used when the subscription is
// removed.
func (g *Gate) Forget(subID string) {
	g.mu.Lock()
	delete(g.pushes, subID)
	g.mu.Unlock()
}

func (g *Gate) scopeKey(s *Settings, subID string) string {
	if s.RateGlobal {
		return globalScopeKey
	}
	return subID
}

// rateWindowEnd reports when a push proposed at "at" would be admitted by
// the rate limiter, and whether it is currently limited.
func (g *Gate) rateWindowEnd(s *Settings, subID string, at time.Time) (time.Time, bool) {
	if s.RateMax <= 0 {
		return time.Time{}, false
	}
	key := g.scopeKey(s, subID)

	g.mu.Lock()
	defer g.mu.Unlock()
	// View only, never persisted: "at" may be a projected quiet-window end,
	// and trimming the stored log against a future cutoff would discard
	// pushes that still count right now. Observe does the durable trims.
	counted := trimLog(g.pushes[key], at.Add(-s.RatePer))
	if len(counted) < s.RateMax {
		return time.Time{}, false
	}
	// The push is admitted once the oldest counted push exits the window.
	oldest := counted[len(counted)-s.RateMax]
	return oldest.Add(s.RatePer), true
}

func trimLog(log []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(log) && !log[i].After(cutoff) {
		i++
	}
	return log[i:]
}

// quietWindowEnd reports whether "at" falls inside a quiet window and, if
// so, when that window ends. Windows are evaluated in the configured
// location; start > end wraps through midnight.
func quietWindowEnd(s *Settings, at time.Time) (time.Time, bool) {
	if len(s.QuietWindows) == 0 {
		return time.Time{}, false
	}
	local := at.In(s.Location)
	minute := local.Hour()*60 + local.Minute()

	end := time.Time{}
	for _, w := range s.QuietWindows {
		e, in := windowEnd(w, local, minute)
		if in && e.After(end) {
			end = e
		}
	}
	return end, !end.IsZero()
}

func windowEnd(w config.Window, local time.Time, minute int) (time.Time, bool) {
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	endAt := func(dayOffset int) time.Time {
		return midnight.AddDate(0, 0, dayOffset).Add(time.Duration(w.End) * time.Minute)
	}

	if w.Start < w.End {
		if minute >= w.Start && minute < w.End {
			return endAt(0), true
		}
		return time.Time{}, false
	}
	// wraparound through midnight
	if minute >= w.Start {
		return endAt(1), true
	}
	if minute < w.End {
		return endAt(0), true
	}
	return time.Time{}, false
}
