package push

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"feedpush/internal/transport"
	"feedpush/pkg/logx"
)

// fakeSender records sends and fails per-target according to script.
type fakeSender struct {
	mu    sync.Mutex
	sent  []sentMsg
	fail  map[int64][]error // popped per attempt; nil entry means success
	calls map[int64]int
}

type sentMsg struct {
	target transport.ChatTarget
	text   string
	image  string
	at     time.Time
}

func newFakeSender() *fakeSender {
	return &fakeSender{fail: map[int64][]error{}, calls: map[int64]int{}}
}

func (f *fakeSender) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[to.ChatID]++
	if errs := f.fail[to.ChatID]; len(errs) > 0 {
		err := errs[0]
		f.fail[to.ChatID] = errs[1:]
		if err != nil {
			return err
		}
	}
	msg := sentMsg{target: to, text: text, at: time.Now()}
	if opt != nil {
		msg.image = opt.ImageURL
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) texts(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.sent {
		if m.target.ChatID == chatID {
			out = append(out, m.text)
		}
	}
	return out
}

func (f *fakeSender) attempts(chatID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[chatID]
}

func (f *fakeSender) times(chatID int64) []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []time.Time
	for _, m := range f.sent {
		if m.target.ChatID == chatID {
			out = append(out, m.at)
		}
	}
	return out
}

// slowSender stalls every send to one chat, leaving the others untouched.
type slowSender struct {
	*fakeSender
	slowChat int64
	delay    time.Duration
}

func (s *slowSender) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) error {
	if to.ChatID == s.slowChat {
		time.Sleep(s.delay)
	}
	return s.fakeSender.SendText(ctx, to, text, opt)
}

func dispatchSettings() *Settings {
	return &Settings{
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
		Location:      time.UTC,
	}
}

func TestDispatcherFansOutToAllTargets(t *testing.T) {
	t.Parallel()
	sender := newFakeSender()
	d := NewDispatcher(sender, logx.Nop())

	targets := []transport.ChatTarget{{ChatID: 1}, {ChatID: 2}, {ChatID: 3}}
	out := d.Send(context.Background(), dispatchSettings(), "sub", Message{Text: "hi"}, targets)
	if out.OK != 3 || out.Failed != 0 || out.Permanent != 0 {
		t.Fatalf("outcome = %+v", out)
	}
	for _, tgt := range targets {
		if got := sender.texts(tgt.ChatID); len(got) != 1 || got[0] != "hi" {
			t.Errorf("target %d received %v", tgt.ChatID, got)
		}
	}
}

func TestDispatcherRetriesTransientFailures(t *testing.T) {
	t.Parallel()
	sender := newFakeSender()
	sender.fail[1] = []error{errors.New("tcp reset"), errors.New("tcp reset")}
	d := NewDispatcher(sender, logx.Nop())

	out := d.Send(context.Background(), dispatchSettings(), "sub", Message{Text: "hi"}, []transport.ChatTarget{{ChatID: 1}})
	if !out.Delivered() {
		t.Fatalf("outcome = %+v, want delivered after retries", out)
	}
	if got := sender.attempts(1); got != 3 {
		t.Fatalf("attempts = %d, want 3", got)
	}
}

func TestDispatcherGivesUpAfterRetryBudget(t *testing.T) {
	t.Parallel()
	sender := newFakeSender()
	sender.fail[1] = []error{errors.New("x"), errors.New("x"), errors.New("x"), errors.New("x")}
	d := NewDispatcher(sender, logx.Nop())

	out := d.Send(context.Background(), dispatchSettings(), "sub", Message{Text: "hi"}, []transport.ChatTarget{{ChatID: 1}})
	if out.Failed != 1 || out.Delivered() {
		t.Fatalf("outcome = %+v", out)
	}
	if got := sender.attempts(1); got != 3 { // 1 + RetryMax
		t.Fatalf("attempts = %d, want 3", got)
	}
}

func TestDispatcherPermanentFailureNotRetried(t *testing.T) {
	t.Parallel()
	sender := newFakeSender()
	sender.fail[1] = []error{transport.Permanent(errors.New("chat deleted"))}
	d := NewDispatcher(sender, logx.Nop())

	out := d.Send(context.Background(), dispatchSettings(), "sub", Message{Text: "hi"},
		[]transport.ChatTarget{{ChatID: 1}, {ChatID: 2}})
	if out.Permanent != 1 || out.OK != 1 {
		t.Fatalf("outcome = %+v", out)
	}
	if got := sender.attempts(1); got != 1 {
		t.Fatalf("permanent failure retried: %d attempts", got)
	}
}

func TestDispatcherOneTargetFailureDoesNotBlockOthers(t *testing.T) {
	t.Parallel()
	sender := newFakeSender()
	sender.fail[1] = []error{errors.New("x"), errors.New("x"), errors.New("x")}
	d := NewDispatcher(sender, logx.Nop())

	out := d.Send(context.Background(), dispatchSettings(), "sub", Message{Text: "hi"},
		[]transport.ChatTarget{{ChatID: 1}, {ChatID: 2}})
	if out.OK != 1 || out.Failed != 1 {
		t.Fatalf("outcome = %+v", out)
	}
	if got := sender.texts(2); len(got) != 1 {
		t.Fatalf("healthy target got %v", got)
	}
}

func TestBroadcastSlowTargetDoesNotStallOthers(t *testing.T) {
	t.Parallel()
	sender := &slowSender{fakeSender: newFakeSender(), slowChat: 1, delay: 150 * time.Millisecond}
	d := NewDispatcher(sender, logx.Nop())

	msgs := []Message{{Text: "m1"}, {Text: "m2"}, {Text: "m3"}}
	start := time.Now()
	out := d.Broadcast(context.Background(), dispatchSettings(), "sub", msgs,
		[]transport.ChatTarget{{ChatID: 1}, {ChatID: 2}})

	for i, o := range out {
		if o.OK != 2 {
			t.Fatalf("message %d outcome = %+v, want both targets ok", i, o)
		}
	}
	if got := sender.texts(2); len(got) != 3 ||
		got[0] != "m1" || got[1] != "m2" || got[2] != "m3" {
		t.Fatalf("fast target received %v, want m1..m3 in order", got)
	}
	// The fast target must finish the batch without waiting on the slow
	// target's sends; lockstep delivery would put its last message past
	// two slow-send delays.
	fast := sender.times(2)
	if elapsed := fast[len(fast)-1].Sub(start); elapsed >= sender.delay {
		t.Fatalf("fast target finished after %v, stalled behind the slow target", elapsed)
	}
}

func TestBroadcastOrderPerTarget(t *testing.T) {
	t.Parallel()
	sender := newFakeSender()
	sender.fail[1] = []error{errors.New("tcp reset")} // retry must not reorder
	d := NewDispatcher(sender, logx.Nop())

	msgs := []Message{{Text: "m1"}, {Text: "m2"}}
	d.Broadcast(context.Background(), dispatchSettings(), "sub", msgs,
		[]transport.ChatTarget{{ChatID: 1}, {ChatID: 2}})

	for _, chat := range []int64{1, 2} {
		if got := sender.texts(chat); len(got) != 2 || got[0] != "m1" || got[1] != "m2" {
			t.Fatalf("chat %d received %v, want m1 then m2", chat, got)
		}
	}
}

func TestDispatcherNoTargets(t *testing.T) {
	t.Parallel()
	d := NewDispatcher(newFakeSender(), logx.Nop())
	out := d.Send(context.Background(), dispatchSettings(), "sub", Message{Text: "hi"}, nil)
	if out.Delivered() || out.Failed != 0 {
		t.Fatalf("outcome = %+v", out)
	}
}
