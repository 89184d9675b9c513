package transport

import (
	"context"
	"errors"
)

type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

type Update struct {
	Kind     UpdateKind
	Message  *Message
	Callback *Callback
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	ThreadID  int
	MessageID int
	Data      string
}

// ChatTarget addresses a group chat and, optionally, one forum thread inside it.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

// MessageRef identifies a delivered message. Media is set when the message
// carries a photo, so edits must target its caption instead of its text.
type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
	Media     bool
}

// Button is an inline keyboard button carrying callback data.
type Button struct {
	Text string
	Data string
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Buttons        []Button
}

// Card is a rich message: text, optionally rendered as the caption of a photo.
// PhotoRef is a platform-hosted file reference (see MediaUploader).
type Card struct {
	Text     string
	PhotoRef string
	Options  SendOptions
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// CardSender delivers and edits cards in place.
type CardSender interface {
	SendCard(ctx context.Context, to ChatTarget, card Card) (MessageRef, error)
	EditCard(ctx context.Context, ref MessageRef, card Card) error
}

// ErrMediaUnavailable is returned by MediaUploader when re-hosting is not
// configured. Callers fall back to cards without a photo.
var ErrMediaUnavailable = errors.New("media upload not configured")

// MediaUploader re-hosts a remote image on the messaging platform and returns
// a reference usable as Card.PhotoRef.
type MediaUploader interface {
	UploadMedia(ctx context.Context, sourceURL string) (string, error)
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface that adapters can implement
// to update platform-specific bot command menus.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
