// Package telegram implements transport.Sender on top of the Telegram Bot
// API. The adapter is send-only: feedpush pushes content, it does not route
// incoming updates.
package telegram

import (
	"context"
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
	"golang.org/x/time/rate"

	"feedpush/internal/transport"
	logx "feedpush/pkg/logx"
)

type Config struct {
	Token string
	// RatePerSec caps outgoing sends across all subscriptions; Telegram
	// rejects bots that exceed roughly 30 messages per second.
	RatePerSec  int
	SendTimeout time.Duration
}

type Adapter struct {
	bot     *tele.Bot
	limiter *rate.Limiter
	timeout time.Duration
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 25
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		timeout: timeout,
		log:     log,
	}, nil
}

func (a *Adapter) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	sctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	sendOpt := &tele.SendOptions{}
	if to.ThreadID != 0 {
		sendOpt.ThreadID = to.ThreadID
	}
	if opt != nil && opt.DisablePreview {
		sendOpt.DisableWebPagePreview = true
	}

	var what any = text
	if opt != nil && opt.ImageURL != "" {
		what = &tele.Photo{File: tele.FromURL(opt.ImageURL), Caption: text}
	}

	err := a.send(sctx, tele.ChatID(to.ChatID), what, sendOpt)
	if err != nil && opt != nil && opt.ImageURL != "" && !isPermanentTelegram(err) {
		// Image delivery is best-effort; fall back to plain text so a broken
		// image URL doesn't sink the whole message.
		a.log.Debug("photo send failed; falling back to text",
			logx.Int64("chat_id", to.ChatID), logx.Err(err))
		err = a.send(sctx, tele.ChatID(to.ChatID), text, sendOpt)
	}
	if err == nil {
		return nil
	}
	if isPermanentTelegram(err) {
		return transport.Permanent(err)
	}
	return err
}

// send runs the blocking telebot call under the context deadline.
func (a *Adapter) send(ctx context.Context, to tele.Recipient, what any, opt *tele.SendOptions) error {
	done := make(chan error, 1)
	go func() {
		_, err := a.bot.Send(to, what, opt)
		done <- err
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// isPermanentTelegram reports whether the destination is gone for good.
// Flood waits, timeouts and server errors stay transient.
func isPermanentTelegram(err error) bool {
	switch {
	case errors.Is(err, tele.ErrChatNotFound),
		errors.Is(err, tele.ErrBlockedByUser),
		errors.Is(err, tele.ErrUserIsDeactivated),
		errors.Is(err, tele.ErrKickedFromGroup),
		errors.Is(err, tele.ErrKickedFromSuperGroup),
		errors.Is(err, tele.ErrKickedFromChannel):
		return true
	}
	return false
}
