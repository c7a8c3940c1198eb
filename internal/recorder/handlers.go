package recorder

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// HandleUpdate is the default update handler: it routes new and edited
// messages and channel posts to Record. Errors are logged and swallowed
// so one bad update never stops the ingestion loop.
func (r *Recorder) HandleUpdate(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update == nil {
		return
	}

	var (
		msg    *models.Message
		edited bool
	)
	switch {
	case update.Message != nil:
		msg = update.Message
	case update.EditedMessage != nil:
		msg = update.EditedMessage
		edited = true
	case update.ChannelPost != nil:
		msg = update.ChannelPost
	case update.EditedChannelPost != nil:
		msg = update.EditedChannelPost
		edited = true
	default:
		r.logger.DebugContext(ctx, "Ignoring update without message payload", "update_id", update.ID)
		return
	}

	if err := r.Record(ctx, b, msg, edited); err != nil {
		r.logger.ErrorContext(ctx, "Failed to record update",
			"chat_id", msg.Chat.ID,
			"message_id", msg.ID,
			"edited", edited,
			"error", err)
	}
}
