// Package logger configures structured logging and provides a bot
// middleware that traces inbound updates.
package logger

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// NewLogger creates a slog.Logger writing to stderr at the given level,
// in JSON or text format.
func NewLogger(level string, json bool) *slog.Logger {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: slogLevel}
	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// Middleware returns a bot middleware that logs every inbound update with
// its type, chat, message id, and handling duration.
func Middleware(log *slog.Logger) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			start := time.Now()
			next(ctx, b, update)

			kind, msg := updatePayload(update)
			attrs := []any{
				"update_id", update.ID,
				"type", kind,
				"duration", time.Since(start).String(),
			}
			if msg != nil {
				attrs = append(attrs,
					"chat_id", msg.Chat.ID,
					"message_id", msg.ID)
			}
			log.DebugContext(ctx, "Update handled", attrs...)
		}
	}
}

func updatePayload(update *models.Update) (string, *models.Message) {
	switch {
	case update.Message != nil:
		return "message", update.Message
	case update.EditedMessage != nil:
		return "edited_message", update.EditedMessage
	case update.ChannelPost != nil:
		return "channel_post", update.ChannelPost
	case update.EditedChannelPost != nil:
		return "edited_channel_post", update.EditedChannelPost
	}
	return "other", nil
}
