package relay

import (
	"context"
	"errors"
	"fmt"

	kit "reelrelay/internal/transport"
	"reelrelay/internal/transport/telegram"
)

// Telegram republishes to a Telegram chat or channel. The target is
// "<chat_id>[:<thread_id>]"; the bot token is bound when the sender is built.
type Telegram struct {
	sender kit.VideoSender
}

func NewTelegram(sender kit.VideoSender) (*Telegram, error) {
	if sender == nil {
		return nil, errors.New("relay: telegram sender is required")
	}
	return &Telegram{sender: sender}, nil
}

func (t *Telegram) Upload(ctx context.Context, u Upload) (string, error) {
	to, err := telegram.ParseChatTarget(u.TargetID)
	if err != nil {
		return "", err
	}
	ref, err := t.sender.SendVideo(ctx, to, kit.VideoUpload{Path: u.Path, Caption: u.Caption})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d:%d", ref.ChatID, ref.MessageID), nil
}
