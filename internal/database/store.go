package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store defines the interface for database operations. All writes for one
// inbound event go through Tx so they commit as a single durable unit.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// Tx runs fn inside a transaction. The transaction is committed when fn
	// returns nil and rolled back otherwise.
	Tx(ctx context.Context, fn func(tx *Tx) error) error

	// GetChat retrieves a chat reference row. Returns nil, nil if not found.
	GetChat(ctx context.Context, chatID int64) (*Chat, error)

	// GetUser retrieves a user reference row. Returns nil, nil if not found.
	GetUser(ctx context.Context, userID int64) (*User, error)

	// GetMessagesByID retrieves every row recorded for one platform message,
	// in insertion order. Edits of a message produce multiple rows.
	GetMessagesByID(ctx context.Context, chatID, msgID int64) ([]Message, error)

	// GetRecentMessagesInChat retrieves the most recent 'limit' messages for a chat.
	GetRecentMessagesInChat(ctx context.Context, chatID int64, limit int) ([]Message, error)

	// GetRecentEventsInChat retrieves the most recent 'limit' events for a chat.
	GetRecentEventsInChat(ctx context.Context, chatID int64, limit int) ([]Event, error)

	// RunMaintenance performs database maintenance tasks (VACUUM, WAL checkpoint).
	RunMaintenance(ctx context.Context) error
}

// Tx exposes the write operations available inside one event's transaction.
type Tx struct {
	tx     *sqlx.Tx
	logger *slog.Logger
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Tx runs fn inside a single transaction with the usual deferred-rollback
// pattern. A crash between classification and commit loses at most the
// in-flight event, never previously committed state.
func (s *sqlxStore) Tx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				if !errors.Is(rollbackErr, sql.ErrTxDone) {
					s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
				}
			}
		}
	}()

	if err := fn(&Tx{tx: tx, logger: s.logger}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit transaction", "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil
	return nil
}

// UpsertChat inserts or refreshes a chat reference row. Last write wins
// unconditionally; there is no versioning on reference entities.
func (t *Tx) UpsertChat(ctx context.Context, chatID int64, title, chatType string) error {
	query := `
        INSERT INTO chats (chat_id, title, type, updated_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT(chat_id) DO UPDATE SET
            title = excluded.title,
            type = excluded.type,
            updated_at = excluded.updated_at;
    `
	_, err := t.tx.ExecContext(ctx, query, chatID, NullString(title), NullString(chatType), time.Now().UTC())
	if err != nil {
		t.logger.ErrorContext(ctx, "Error upserting chat", "chat_id", chatID, "error", err)
		return fmt.Errorf("failed to upsert chat %d: %w", chatID, err)
	}
	return nil
}

// UpsertUser inserts or refreshes a user reference row keyed by userID.
func (t *Tx) UpsertUser(ctx context.Context, userID int64, username, firstName, lastName string) error {
	query := `
        INSERT INTO users (user_id, username, first_name, last_name, updated_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(user_id) DO UPDATE SET
            username = excluded.username,
            first_name = excluded.first_name,
            last_name = excluded.last_name,
            updated_at = excluded.updated_at;
    `
	_, err := t.tx.ExecContext(ctx, query, userID,
		NullString(username), NullString(firstName), NullString(lastName), time.Now().UTC())
	if err != nil {
		t.logger.ErrorContext(ctx, "Error upserting user", "user_id", userID, "error", err)
		return fmt.Errorf("failed to upsert user %d: %w", userID, err)
	}
	return nil
}

// InsertMessage appends one message row. The metadata map is serialized to
// JSON with null-valued keys dropped; absence of a key means the field is
// not applicable for the media kind.
func (t *Tx) InsertMessage(ctx context.Context, msg *Message, meta map[string]any) error {
	if msg == nil {
		return fmt.Errorf("cannot insert nil message")
	}
	if msg.ChatID == 0 {
		return fmt.Errorf("message must have a non-zero chat_id")
	}

	metaJSON, err := marshalMessageMeta(meta)
	if err != nil {
		return fmt.Errorf("failed to serialize media metadata: %w", err)
	}
	msg.MediaMeta = metaJSON
	msg.CreatedAt = time.Now().UTC()

	query := `
        INSERT INTO messages
            (msg_id, chat_id, user_id, date, type, text, media_file_id,
             media_meta, reply_to, fwd_from, fwd_name, is_edit, created_at)
        VALUES (:msg_id, :chat_id, :user_id, :date, :type, :text, :media_file_id,
                :media_meta, :reply_to, :fwd_from, :fwd_name, :is_edit, :created_at);
    `
	result, err := t.tx.NamedExecContext(ctx, query, msg)
	if err != nil {
		t.logger.ErrorContext(ctx, "Error inserting message",
			"chat_id", msg.ChatID, "msg_id", msg.MsgID, "error", err)
		return fmt.Errorf("failed to insert message (chat %d, msg %d): %w", msg.ChatID, msg.MsgID, err)
	}

	if id, err := result.LastInsertId(); err == nil {
		//nolint:gosec // integer overflow conversion is acceptable here
		msg.ID = uint(id)
	} else {
		t.logger.WarnContext(ctx, "Could not retrieve last insert ID after inserting message",
			"chat_id", msg.ChatID, "msg_id", msg.MsgID, "error", err)
	}

	t.logger.DebugContext(ctx, "Message inserted",
		"chat_id", msg.ChatID, "msg_id", msg.MsgID, "type", msg.Type, "is_edit", msg.IsEdit)
	return nil
}

// InsertEvent appends one event row. The data map is serialized verbatim,
// null values included.
func (t *Tx) InsertEvent(ctx context.Context, ev *Event, data map[string]any) error {
	if ev == nil {
		return fmt.Errorf("cannot insert nil event")
	}
	if ev.ChatID == 0 {
		return fmt.Errorf("event must have a non-zero chat_id")
	}

	dataJSON, err := marshalEventData(data)
	if err != nil {
		return fmt.Errorf("failed to serialize event data: %w", err)
	}
	ev.Data = dataJSON
	ev.CreatedAt = time.Now().UTC()

	query := `
        INSERT INTO events (chat_id, user_id, type, data, date, created_at)
        VALUES (:chat_id, :user_id, :type, :data, :date, :created_at);
    `
	result, err := t.tx.NamedExecContext(ctx, query, ev)
	if err != nil {
		t.logger.ErrorContext(ctx, "Error inserting event",
			"chat_id", ev.ChatID, "type", ev.Type, "error", err)
		return fmt.Errorf("failed to insert event (chat %d, type %s): %w", ev.ChatID, ev.Type, err)
	}

	if id, err := result.LastInsertId(); err == nil {
		//nolint:gosec // integer overflow conversion is acceptable here
		ev.ID = uint(id)
	}

	t.logger.DebugContext(ctx, "Event inserted", "chat_id", ev.ChatID, "type", ev.Type)
	return nil
}

// marshalMessageMeta serializes message media metadata, dropping keys whose
// value is null.
func marshalMessageMeta(meta map[string]any) (sql.NullString, error) {
	if len(meta) == 0 {
		return sql.NullString{}, nil
	}

	clean := make(map[string]any, len(meta))
	for k, v := range meta {
		if v != nil {
			clean[k] = v
		}
	}
	if len(clean) == 0 {
		return sql.NullString{}, nil
	}

	b, err := json.Marshal(clean)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// marshalEventData serializes event data without touching null values.
func marshalEventData(data map[string]any) (sql.NullString, error) {
	if len(data) == 0 {
		return sql.NullString{}, nil
	}

	b, err := json.Marshal(data)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// GetChat retrieves a chat reference row. Returns nil, nil if not found.
func (s *sqlxStore) GetChat(ctx context.Context, chatID int64) (*Chat, error) {
	var chat Chat
	query := `SELECT chat_id, title, type, updated_at FROM chats WHERE chat_id = ?`

	err := s.db.GetContext(ctx, &chat, query, chatID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting chat", "chat_id", chatID, "error", err)
		return nil, fmt.Errorf("failed to get chat %d: %w", chatID, err)
	}
	return &chat, nil
}

// GetUser retrieves a user reference row. Returns nil, nil if not found.
func (s *sqlxStore) GetUser(ctx context.Context, userID int64) (*User, error) {
	var user User
	query := `SELECT user_id, username, first_name, last_name, updated_at FROM users WHERE user_id = ?`

	err := s.db.GetContext(ctx, &user, query, userID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting user", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to get user %d: %w", userID, err)
	}
	return &user, nil
}

// GetMessagesByID retrieves every recorded row for one platform message.
func (s *sqlxStore) GetMessagesByID(ctx context.Context, chatID, msgID int64) ([]Message, error) {
	var messages []Message
	query := `
        SELECT id, msg_id, chat_id, user_id, date, type, text, media_file_id,
               media_meta, reply_to, fwd_from, fwd_name, is_edit, created_at
        FROM messages
        WHERE msg_id = ? AND chat_id = ?
        ORDER BY id ASC;
    `

	if err := s.db.SelectContext(ctx, &messages, query, msgID, chatID); err != nil {
		s.logger.ErrorContext(ctx, "Error getting messages by id",
			"chat_id", chatID, "msg_id", msgID, "error", err)
		return nil, fmt.Errorf("failed to get messages for msg %d in chat %d: %w", msgID, chatID, err)
	}
	return messages, nil
}

// GetRecentMessagesInChat retrieves the most recent 'limit' messages for a chat.
func (s *sqlxStore) GetRecentMessagesInChat(ctx context.Context, chatID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}

	var messages []Message
	query := `
        SELECT id, msg_id, chat_id, user_id, date, type, text, media_file_id,
               media_meta, reply_to, fwd_from, fwd_name, is_edit, created_at
        FROM messages
        WHERE chat_id = ?
        ORDER BY date DESC, id DESC
        LIMIT ?;
    `

	if err := s.db.SelectContext(ctx, &messages, query, chatID, limit); err != nil {
		s.logger.ErrorContext(ctx, "Error getting recent messages", "chat_id", chatID, "error", err)
		return nil, fmt.Errorf("failed to get recent messages for chat %d: %w", chatID, err)
	}
	return messages, nil
}

// GetRecentEventsInChat retrieves the most recent 'limit' events for a chat.
func (s *sqlxStore) GetRecentEventsInChat(ctx context.Context, chatID int64, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}

	var events []Event
	query := `
        SELECT id, chat_id, user_id, type, data, date, created_at
        FROM events
        WHERE chat_id = ?
        ORDER BY date DESC, id DESC
        LIMIT ?;
    `

	if err := s.db.SelectContext(ctx, &events, query, chatID, limit); err != nil {
		s.logger.ErrorContext(ctx, "Error getting recent events", "chat_id", chatID, "error", err)
		return nil, fmt.Errorf("failed to get recent events for chat %d: %w", chatID, err)
	}
	return events, nil
}

// RunMaintenance executes VACUUM and a WAL checkpoint on the database.
// VACUUM must run outside a transaction in SQLite.
func (s *sqlxStore) RunMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	if _, err := s.db.ExecContext(ctx, "VACUUM;"); err != nil {
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE);"); err != nil {
		s.logger.WarnContext(ctx, "WAL checkpoint failed", "error", err)
	}

	s.logger.InfoContext(ctx, "Database maintenance completed successfully")
	return nil
}
