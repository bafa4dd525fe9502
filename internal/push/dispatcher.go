package push

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"feedpush/internal/transport"
	logx "feedpush/pkg/logx"
)

// Message is one rendered entry ready for delivery.
type Message struct {
	Text     string
	ImageURL string
}

// SendOutcome summarizes one message's fanout to a subscription's targets.
type SendOutcome struct {
	OK        int // targets that accepted the message
	Failed    int // targets that failed after exhausting retries
	Permanent int // targets that rejected permanently (destination gone)
}

// Delivered reports whether at least one target accepted the message.
func (o SendOutcome) Delivered() bool { return o.OK > 0 }

// Dispatcher fans rendered messages out to all targets of a subscription.
// Targets are independent: each gets its own goroutine and walks the batch
// at its own pace, so a slow or dead target never delays the others.
// Transient failures are retried with
// bounded exponential backoff; permanent rejections are reported but the
// target stays registered (removal is an explicit operator action).
type Dispatcher struct {
	sender transport.Sender
	log    logx.Logger
}

func NewDispatcher(sender transport.Sender, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{sender: sender, log: log}
}

func (d *Dispatcher) Send(ctx context.Context, s *Settings, subName string, msg Message, targets []transport.ChatTarget) SendOutcome {
	return d.Broadcast(ctx, s, subName, []Message{msg}, targets)[0]
}

// Broadcast delivers an ordered batch to every target. Each target gets
// one goroutine that walks the full batch in order, pausing BatchInterval
// between messages, so a target stuck in retries only stalls its own
// progress through the batch. The returned slice holds one aggregated
// outcome per message.
func (d *Dispatcher) Broadcast(ctx context.Context, s *Settings, subName string, msgs []Message, targets []transport.ChatTarget) []SendOutcome {
	out := make([]SendOutcome, len(msgs))
	if len(msgs) == 0 || len(targets) == 0 {
		return out
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	wg.Add(len(targets))
	for _, t := range targets {
		t := t
		go func() {
			defer wg.Done()
			for i, msg := range msgs {
				if i > 0 && s.BatchInterval > 0 {
					tmr := time.NewTimer(s.BatchInterval)
					select {
					case <-ctx.Done():
						tmr.Stop()
						return
					case <-tmr.C:
					}
				}
				err := d.sendOne(ctx, s, subName, t, msg)
				mu.Lock()
				switch {
				case err == nil:
					out[i].OK++
				case transport.IsPermanent(err):
					out[i].Permanent++
				default:
					out[i].Failed++
				}
				mu.Unlock()
				if ctx.Err() != nil {
					return
				}
			}
		}()
	}
	wg.Wait()
	return out
}

func (d *Dispatcher) sendOne(ctx context.Context, s *Settings, subName string, t transport.ChatTarget, msg Message) error {
	opt := &transport.SendOptions{ImageURL: msg.ImageURL}

	var last error
	attempts := 1 + s.RetryMax
	for attempt := 1; attempt <= attempts; attempt++ {
		err := d.sender.SendText(ctx, t, msg.Text, opt)
		if err == nil {
			return nil
		}
		last = err
		if transport.IsPermanent(err) {
			d.log.Warn("push rejected permanently; target kept registered",
				logx.String("sub", subName), logx.String("target", t.String()), logx.Err(err))
			return err
		}
		if attempt == attempts {
			break
		}

		delay := backoffDelay(s, attempt)
		d.log.Debug("push retry scheduled",
			logx.String("sub", subName), logx.String("target", t.String()),
			logx.Int("attempt", attempt+1), logx.Duration("delay", delay), logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			return ctx.Err()
		case <-tmr.C:
		}
	}
	d.log.Warn("push failed after retries",
		logx.String("sub", subName), logx.String("target", t.String()),
		logx.Int("attempts", attempts), logx.Err(last))
	return last
}

// backoffDelay grows exponentially from RetryBase, capped at RetryMaxDelay,
// with ±20% jitter.
func backoffDelay(s *Settings, retry int) time.Duration {
	d := s.RetryBase
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= s.RetryMaxDelay {
			d = s.RetryMaxDelay
			break
		}
	}
	j := (rand.Float64()*2 - 1) * 0.2
	d = time.Duration(float64(d) * (1 + j))
	if d < 0 {
		d = 0
	}
	if d > s.RetryMaxDelay {
		d = s.RetryMaxDelay
	}
	return d
}
