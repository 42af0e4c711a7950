package pipeline

import (
	"context"
	"time"

	"github.com/shzored/mediabot/internal/media"
)

// Request is one accepted link waiting for, or undergoing, processing.
// StatusMessageID points at the transport-side status message that
// tracks this request for the requester.
type Request struct {
	ChatID          int64
	UserID          int64
	URL             string
	StatusMessageID int
	EnqueuedAt      time.Time
}

// Keyboard selects which interactive reply markup accompanies a status
// message. The pipeline speaks in these values; the transport renders
// them.
type Keyboard int

const (
	KeyboardNone Keyboard = iota
	KeyboardFormat
	KeyboardAudioFormat
	KeyboardSubscribe
)

// Delivery is one finished file ready to hand to the transport.
type Delivery struct {
	Kind media.Kind
	Path string
}

// Transport is the messaging boundary the pipeline publishes through.
// Implementations own all wire-level concerns; the pipeline never sees
// transport message types.
type Transport interface {
	SendStatus(ctx context.Context, chatID int64, text string, keyboard Keyboard) (int, error)
	EditStatus(ctx context.Context, chatID int64, messageID int, text string, keyboard Keyboard) error
	DeleteStatus(ctx context.Context, chatID int64, messageID int) error

	SendMedia(ctx context.Context, chatID int64, kind media.Kind, path string) error
	SendMediaBatch(ctx context.Context, chatID int64, items []Delivery) error

	// WasDelivered reports whether the file was recently confirmed
	// delivered to the chat, used to reconcile a send whose
	// acknowledgement timed out.
	WasDelivered(chatID int64, path string) bool
	IsTimeout(err error) bool

	IsChannelMember(ctx context.Context, userID int64) (bool, error)
	DownloadUpload(ctx context.Context, fileID string, dest string) error
}

// ActionKind enumerates the requester choices arriving from interactive
// keyboards.
type ActionKind int

const (
	ActionSelectVideo ActionKind = iota
	ActionSelectAudio
	ActionAudioAsFile
	ActionAudioAsVoice
	ActionConfirmSubscription
)

// UserAction is one keyboard press, parsed into a typed value at the
// transport boundary so the pipeline never interprets raw callback
// payloads.
type UserAction struct {
	Kind      ActionKind
	ChatID    int64
	UserID    int64
	MessageID int
}
