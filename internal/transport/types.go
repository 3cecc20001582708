package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type UpdateKind string

const (
	UpdateMessage     UpdateKind = "message"
	UpdateChannelPost UpdateKind = "channel_post"
)

// Update is an inbound event from the messaging provider, already reduced
// to the fields the bot uses. Missing provider fields are left zero.
type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ChatType     string
	ChatTitle    string
	ChatUsername string
	FirstName    string
	LastName     string
	FromUsername string
	Text         string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender delivers one text message to one address.
// Address is provider-specific: for Telegram a numeric chat id or "@channel".
type Sender interface {
	SendText(ctx context.Context, address, text string, opt *SendOptions) error
}

// Receiver pushes inbound updates to out until Stop.
type Receiver interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}

// PermanentError marks a send failure that retrying cannot fix
// (unknown chat, bot blocked, malformed request).
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// RetryAfterError is a provider-imposed backoff.
type RetryAfterError struct {
	After time.Duration
	Err   error
}

func (e *RetryAfterError) Error() string {
	return fmt.Sprintf("retry after %s: %v", e.After, e.Err)
}
func (e *RetryAfterError) Unwrap() error { return e.Err }

// RetryAfter returns the provider-imposed backoff carried by err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var ra *RetryAfterError
	if errors.As(err, &ra) {
		return ra.After, true
	}
	return 0, false
}
