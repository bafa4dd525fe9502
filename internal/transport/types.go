// Package transport defines the chat-platform boundary the push engine
// dispatches through.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ChatTarget identifies a chat destination. ThreadID is the forum topic
// thread (0 if none).
type ChatTarget struct {
	ChatID   int64 `json:"chat_id"`
	ThreadID int   `json:"thread_id,omitempty"`
}

func (t ChatTarget) String() string {
	if t.ThreadID != 0 {
		return fmt.Sprintf("%d:%d", t.ChatID, t.ThreadID)
	}
	return strconv.FormatInt(t.ChatID, 10)
}

// ParseTarget parses "chatID" or "chatID:threadID".
func ParseTarget(s string) (ChatTarget, error) {
	s = strings.TrimSpace(s)
	chat, thread, found := strings.Cut(s, ":")
	id, err := strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return ChatTarget{}, fmt.Errorf("invalid target %q: %w", s, err)
	}
	t := ChatTarget{ChatID: id}
	if found {
		tid, err := strconv.Atoi(thread)
		if err != nil {
			return ChatTarget{}, fmt.Errorf("invalid target thread in %q: %w", s, err)
		}
		t.ThreadID = tid
	}
	return t, nil
}

type SendOptions struct {
	DisablePreview bool
	// ImageURL attaches one image when the platform supports it;
	// delivery of the image is best-effort.
	ImageURL string
}

// Sender delivers a rendered message to one chat destination.
//
// Errors are classified: wrap with Permanent() when the destination is gone
// (deleted chat, bot kicked) and retrying can never succeed. Everything
// else is treated as transient and retried with backoff by the dispatcher.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) error
}

// ErrPermanent marks a send failure that no retry can fix.
var ErrPermanent = errors.New("permanent send failure")

// Permanent wraps err so IsPermanent reports true for it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}
