package transport

import "context"

// Update is a platform-neutral incoming event.
type Update struct {
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ChatTitle    string
	FromID       int64
	FromName     string
	FromUsername string
	Text         string
	IsGroup      bool

	// Left marks a departure event: the identified member left the chat.
	Left bool
}

// ChatTarget addresses an outgoing send.
type ChatTarget struct {
	ChatID int64
}

// Attachment is an opaque rendered artifact (e.g. a birthday card image).
type Attachment struct {
	Filename string
	Data     []byte
}

// Community is a group chat the bot participates in.
type Community struct {
	ID    string
	Title string
}

// Member is a community member as far as the platform exposes one.
type Member struct {
	ID   string
	Name string
}

// Client is the chat-platform surface the core depends on.
//
// Implementations must be safe for concurrent use: the command router and
// the daily reminder pass may send at the same time.
type Client interface {
	// Start begins delivering incoming updates to out until ctx is canceled.
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string) error
	SendPhoto(ctx context.Context, to ChatTarget, a Attachment, caption string) error

	// DefaultChannel reports a channel the bot can post to for a community
	// when no notification channel is configured. ok is false when no usable
	// channel exists.
	DefaultChannel(ctx context.Context, communityID string) (channelID string, ok bool)

	// AvatarJPEG fetches a member's avatar for card rendering.
	AvatarJPEG(ctx context.Context, memberID string) ([]byte, error)

	// Mention renders a platform-specific mention for a member.
	Mention(memberID, name string) string
}
