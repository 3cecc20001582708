package transport

import (
	"context"

	"noticebot/pkg/logx"
)

// LogSender writes outbound messages to the log instead of delivering them.
// Used in dry-run mode.
type LogSender struct {
	Log logx.Logger
}

func (s LogSender) SendText(ctx context.Context, address, text string, _ *SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.Log.Info("dry-run send", logx.String("to", address), logx.Int("len", len(text)), logx.String("text", text))
	return nil
}
