package transport

import "context"

// ChatTarget addresses an operator chat (optionally a forum topic).
type ChatTarget struct {
	ChatID   int64
	ThreadID int // telegram forum topic thread id (0 if none)
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// VideoUpload describes a staged video to be sent as a message.
type VideoUpload struct {
	Path    string
	Caption string
}

// TextSender delivers short operator-facing text messages.
// Implemented by the Telegram client; consumed by logx and the notifier.
type TextSender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// VideoSender delivers a staged video file as a message.
type VideoSender interface {
	SendVideo(ctx context.Context, to ChatTarget, v VideoUpload) (MessageRef, error)
}
