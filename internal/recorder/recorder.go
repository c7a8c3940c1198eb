// Package recorder turns inbound Telegram updates into database rows.
// Every observed message or service event produces one transaction:
// reference upserts for the chat and users involved, then an append-only
// activity row. A failure while recording one update never affects other
// updates.
package recorder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/chatlogger/internal/classify"
	"github.com/edgard/chatlogger/internal/database"
	"github.com/edgard/chatlogger/internal/media"
)

// Recorder persists classified updates through the store.
type Recorder struct {
	logger        *slog.Logger
	store         database.Store
	fetcher       media.Fetcher
	downloadMedia bool
	mediaDir      string
}

// NewRecorder creates a Recorder. fetcher may be nil when media download
// is disabled.
func NewRecorder(logger *slog.Logger, store database.Store, fetcher media.Fetcher, downloadMedia bool, mediaDir string) *Recorder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Recorder{
		logger:        logger.With("component", "recorder"),
		store:         store,
		fetcher:       fetcher,
		downloadMedia: downloadMedia,
		mediaDir:      mediaDir,
	}
}

// Record classifies msg and persists it. Service messages become event
// rows; everything else becomes a message row with edited marking edit
// re-deliveries. Media download happens before the transaction opens so
// network time never holds the single writer connection, and a failed
// download degrades to recording metadata only.
func (r *Recorder) Record(ctx context.Context, b *bot.Bot, msg *models.Message, edited bool) error {
	if msg == nil {
		return fmt.Errorf("cannot record nil message")
	}

	res := classify.Classify(msg)

	if res.Kind == classify.KindService {
		if edited {
			// Service messages are not editable; an edited service update
			// is malformed input and leaves no trace.
			r.logger.WarnContext(ctx, "Ignoring edited service message",
				"chat_id", msg.Chat.ID, "message_id", msg.ID)
			return nil
		}
		return r.recordServiceEvents(ctx, msg, res.Services)
	}

	return r.recordMessage(ctx, b, msg, &res, edited)
}

func (r *Recorder) recordMessage(ctx context.Context, b *bot.Bot, msg *models.Message, res *classify.Result, edited bool) error {
	if r.downloadMedia && !edited && res.FileID != nil && r.fetcher != nil {
		prefix := fmt.Sprintf("%d_%d", msg.Chat.ID, msg.ID)
		if path, err := r.fetcher.Fetch(ctx, b, *res.FileID, r.mediaDir, prefix); err != nil {
			r.logger.WarnContext(ctx, "Media download failed, recording metadata only",
				"chat_id", msg.Chat.ID,
				"message_id", msg.ID,
				"file_id", *res.FileID,
				"error", err)
		} else {
			r.logger.DebugContext(ctx, "Media stored",
				"chat_id", msg.Chat.ID, "message_id", msg.ID, "path", path)
		}
	}

	return r.store.Tx(ctx, func(tx *database.Tx) error {
		if err := upsertParticipants(ctx, tx, msg); err != nil {
			return err
		}

		row := &database.Message{
			MsgID:       int64(msg.ID),
			ChatID:      msg.Chat.ID,
			UserID:      database.NullInt64(senderID(msg)),
			Date:        messageDate(msg),
			Type:        res.Label,
			Text:        database.NullString(strValue(res.Text)),
			MediaFileID: database.NullString(strValue(res.FileID)),
			ReplyTo:     database.NullInt64(res.ReplyTo),
			ForwardFrom: database.NullInt64(res.ForwardFrom),
			ForwardName: database.NullString(strValue(res.ForwardName)),
			IsEdit:      edited,
		}
		return tx.InsertMessage(ctx, row, res.Meta)
	})
}

func (r *Recorder) recordServiceEvents(ctx context.Context, msg *models.Message, events []classify.ServiceEvent) error {
	return r.store.Tx(ctx, func(tx *database.Tx) error {
		if err := upsertParticipants(ctx, tx, msg); err != nil {
			return err
		}

		for _, ev := range events {
			if ev.Member != nil {
				if err := tx.UpsertUser(ctx, ev.Member.ID,
					ev.Member.Username, ev.Member.FirstName, ev.Member.LastName); err != nil {
					return err
				}
			}
			if ev.NewTitle != "" {
				// The title change takes effect immediately in the
				// reference row, not only in the event record.
				if err := tx.UpsertChat(ctx, msg.Chat.ID, ev.NewTitle, string(msg.Chat.Type)); err != nil {
					return err
				}
			}

			row := &database.Event{
				ChatID: msg.Chat.ID,
				UserID: database.NullInt64(ev.UserID),
				Type:   ev.Type,
				Date:   messageDate(msg),
			}
			if err := tx.InsertEvent(ctx, row, ev.Data); err != nil {
				return err
			}
		}
		return nil
	})
}

// upsertParticipants refreshes the chat reference row and, when the
// message has an identifiable sender, the sender's user row.
func upsertParticipants(ctx context.Context, tx *database.Tx, msg *models.Message) error {
	if err := tx.UpsertChat(ctx, msg.Chat.ID, msg.Chat.Title, string(msg.Chat.Type)); err != nil {
		return err
	}
	if msg.From != nil {
		if err := tx.UpsertUser(ctx, msg.From.ID,
			msg.From.Username, msg.From.FirstName, msg.From.LastName); err != nil {
			return err
		}
	}
	return nil
}

func messageDate(msg *models.Message) time.Time {
	return time.Unix(int64(msg.Date), 0).UTC()
}

func senderID(msg *models.Message) *int64 {
	if msg.From == nil {
		return nil
	}
	id := msg.From.ID
	return &id
}

func strValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
