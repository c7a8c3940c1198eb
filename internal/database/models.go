package database

import (
	"database/sql"
	"time"
)

// Chat is a reference row for a group, supergroup, channel, or private chat.
// It is created or refreshed on every observed event from that chat.
type Chat struct {
	ChatID    int64          `db:"chat_id"`
	Title     sql.NullString `db:"title"`
	Type      sql.NullString `db:"type"`
	UpdatedAt time.Time      `db:"updated_at"`
}

// User is a reference row for a message sender or chat member.
type User struct {
	UserID    int64          `db:"user_id"`
	Username  sql.NullString `db:"username"`
	FirstName sql.NullString `db:"first_name"`
	LastName  sql.NullString `db:"last_name"`
	UpdatedAt time.Time      `db:"updated_at"`
}

// Message is an append-only activity row for one observed chat message.
// MsgID is the platform message id, which is unique only within a chat;
// the surrogate ID exists because edits insert additional rows sharing
// the same (msg_id, chat_id) identity.
type Message struct {
	ID          uint           `db:"id"`
	MsgID       int64          `db:"msg_id"`
	ChatID      int64          `db:"chat_id"`
	UserID      sql.NullInt64  `db:"user_id"`
	Date        time.Time      `db:"date"`
	Type        string         `db:"type"`
	Text        sql.NullString `db:"text"`
	MediaFileID sql.NullString `db:"media_file_id"`
	MediaMeta   sql.NullString `db:"media_meta"`
	ReplyTo     sql.NullInt64  `db:"reply_to"`
	ForwardFrom sql.NullInt64  `db:"fwd_from"`
	ForwardName sql.NullString `db:"fwd_name"`
	IsEdit      bool           `db:"is_edit"`
	CreatedAt   time.Time      `db:"created_at"`
}

// Event is an append-only activity row for a non-content chat event
// such as a membership change, title change, or message pin.
type Event struct {
	ID        uint           `db:"id"`
	ChatID    int64          `db:"chat_id"`
	UserID    sql.NullInt64  `db:"user_id"`
	Type      string         `db:"type"`
	Data      sql.NullString `db:"data"`
	Date      time.Time      `db:"date"`
	CreatedAt time.Time      `db:"created_at"`
}

// NullString returns a NULL value for the empty string.
func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// NullInt64 returns a NULL value for a nil pointer.
func NullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
