package recorder_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/chatlogger/internal/database"
	"github.com/edgard/chatlogger/internal/recorder"
)

type fakeFetcher struct {
	calls []string
	err   error
}

func (f *fakeFetcher) Fetch(_ context.Context, _ *bot.Bot, fileID, destDir, prefix string) (string, error) {
	f.calls = append(f.calls, fileID)
	if f.err != nil {
		return "", f.err
	}
	return filepath.Join(destDir, prefix+"_"+fileID), nil
}

func newTestStore(t *testing.T) database.Store {
	t.Helper()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { database.CloseDB(db) })

	return database.NewStore(db, nil)
}

func textMessage(msgID int, chatID, userID int64, text string) *models.Message {
	return &models.Message{
		ID:   msgID,
		From: &models.User{ID: userID, Username: "tester", FirstName: "Test"},
		Chat: models.Chat{ID: chatID, Title: "Test Group", Type: "supergroup"},
		Date: 1700000000,
		Text: text,
	}
}

func TestRecordTextMessage(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	rec := recorder.NewRecorder(nil, store, nil, false, "")
	ctx := context.Background()

	msg := textMessage(1, -1001, 100, "hello")
	if err := rec.Record(ctx, nil, msg, false); err != nil {
		t.Fatalf("Record: %v", err)
	}

	rows, err := store.GetMessagesByID(ctx, -1001, 1)
	if err != nil {
		t.Fatalf("GetMessagesByID: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}

	row := rows[0]
	if row.Type != "text" {
		t.Errorf("Type = %q, want %q", row.Type, "text")
	}
	if !row.Text.Valid || row.Text.String != "hello" {
		t.Errorf("Text = %+v, want %q", row.Text, "hello")
	}
	if row.IsEdit {
		t.Error("IsEdit = true for an original message")
	}
	if !row.UserID.Valid || row.UserID.Int64 != 100 {
		t.Errorf("UserID = %+v, want 100", row.UserID)
	}

	chat, err := store.GetChat(ctx, -1001)
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if chat == nil || chat.Title.String != "Test Group" {
		t.Errorf("chat = %+v, want title %q", chat, "Test Group")
	}

	user, err := store.GetUser(ctx, 100)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if user == nil || user.Username.String != "tester" {
		t.Errorf("user = %+v, want username %q", user, "tester")
	}
}

func TestRecordEditAppendsRow(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	rec := recorder.NewRecorder(nil, store, nil, false, "")
	ctx := context.Background()

	if err := rec.Record(ctx, nil, textMessage(1, -1001, 100, "first"), false); err != nil {
		t.Fatalf("Record original: %v", err)
	}
	if err := rec.Record(ctx, nil, textMessage(1, -1001, 100, "first, edited"), true); err != nil {
		t.Fatalf("Record edit: %v", err)
	}

	rows, err := store.GetMessagesByID(ctx, -1001, 1)
	if err != nil {
		t.Fatalf("GetMessagesByID: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2 (original + edit)", len(rows))
	}
	if rows[0].IsEdit || !rows[1].IsEdit {
		t.Errorf("IsEdit flags = [%v, %v], want [false, true]", rows[0].IsEdit, rows[1].IsEdit)
	}
	if rows[1].Text.String != "first, edited" {
		t.Errorf("edit Text = %q, want %q", rows[1].Text.String, "first, edited")
	}
}

func TestRecordChannelPostWithoutSender(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	rec := recorder.NewRecorder(nil, store, nil, false, "")
	ctx := context.Background()

	msg := &models.Message{
		ID:   5,
		Chat: models.Chat{ID: -1002, Title: "Announcements", Type: "channel"},
		Date: 1700000100,
		Text: "release is out",
	}
	if err := rec.Record(ctx, nil, msg, false); err != nil {
		t.Fatalf("Record: %v", err)
	}

	rows, err := store.GetMessagesByID(ctx, -1002, 5)
	if err != nil {
		t.Fatalf("GetMessagesByID: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0].UserID.Valid {
		t.Errorf("UserID = %+v, want NULL for a sender-less channel post", rows[0].UserID)
	}
}

func TestRecordDocumentSurvivesDownloadFailure(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	fetcher := &fakeFetcher{err: errors.New("network down")}
	rec := recorder.NewRecorder(nil, store, fetcher, true, t.TempDir())
	ctx := context.Background()

	msg := &models.Message{
		ID:   9,
		From: &models.User{ID: 100, FirstName: "Test"},
		Chat: models.Chat{ID: -1001, Title: "Test Group", Type: "supergroup"},
		Date: 1700000200,
		Document: &models.Document{
			FileID:   "doc-file-id",
			FileSize: 100000,
			MimeType: "application/pdf",
			FileName: "report.pdf",
		},
	}
	if err := rec.Record(ctx, nil, msg, false); err != nil {
		t.Fatalf("Record: %v", err)
	}

	if len(fetcher.calls) != 1 || fetcher.calls[0] != "doc-file-id" {
		t.Errorf("fetcher calls = %v, want one call for doc-file-id", fetcher.calls)
	}

	rows, err := store.GetMessagesByID(ctx, -1001, 9)
	if err != nil {
		t.Fatalf("GetMessagesByID: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}

	row := rows[0]
	if row.Type != "document" {
		t.Errorf("Type = %q, want %q", row.Type, "document")
	}
	if !row.MediaFileID.Valid || row.MediaFileID.String != "doc-file-id" {
		t.Errorf("MediaFileID = %+v, want %q", row.MediaFileID, "doc-file-id")
	}
	if !row.MediaMeta.Valid {
		t.Fatal("MediaMeta is NULL, want JSON metadata")
	}
	for _, fragment := range []string{`"mime":"application/pdf"`, `"name":"report.pdf"`, `"size":100000`} {
		if !strings.Contains(row.MediaMeta.String, fragment) {
			t.Errorf("MediaMeta %q missing %q", row.MediaMeta.String, fragment)
		}
	}
}

func TestRecordEditSkipsDownload(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	fetcher := &fakeFetcher{}
	rec := recorder.NewRecorder(nil, store, fetcher, true, t.TempDir())
	ctx := context.Background()

	msg := &models.Message{
		ID:       10,
		From:     &models.User{ID: 100, FirstName: "Test"},
		Chat:     models.Chat{ID: -1001, Type: "supergroup"},
		Date:     1700000300,
		Caption:  "updated caption",
		Document: &models.Document{FileID: "doc-file-id"},
	}
	if err := rec.Record(ctx, nil, msg, true); err != nil {
		t.Fatalf("Record: %v", err)
	}

	if len(fetcher.calls) != 0 {
		t.Errorf("fetcher was called %d times for an edit, want 0", len(fetcher.calls))
	}
}

func TestRecordUnknownContent(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	rec := recorder.NewRecorder(nil, store, nil, false, "")
	ctx := context.Background()

	msg := &models.Message{
		ID:   11,
		From: &models.User{ID: 100, FirstName: "Test"},
		Chat: models.Chat{ID: -1001, Type: "supergroup"},
		Date: 1700000400,
	}
	if err := rec.Record(ctx, nil, msg, false); err != nil {
		t.Fatalf("Record: %v", err)
	}

	rows, err := store.GetMessagesByID(ctx, -1001, 11)
	if err != nil {
		t.Fatalf("GetMessagesByID: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	if rows[0].Type != "other" {
		t.Errorf("Type = %q, want %q", rows[0].Type, "other")
	}
	if rows[0].Text.String != "unknown" {
		t.Errorf("Text = %q, want %q", rows[0].Text.String, "unknown")
	}
}

func TestRecordMemberJoinFanOut(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	rec := recorder.NewRecorder(nil, store, nil, false, "")
	ctx := context.Background()

	msg := &models.Message{
		ID:   12,
		From: &models.User{ID: 100, Username: "inviter", FirstName: "Inviter"},
		Chat: models.Chat{ID: -1001, Title: "Test Group", Type: "supergroup"},
		Date: 1700000500,
		NewChatMembers: []models.User{
			{ID: 201, Username: "alice", FirstName: "Alice"},
			{ID: 202, FirstName: "Bob"},
		},
	}
	if err := rec.Record(ctx, nil, msg, false); err != nil {
		t.Fatalf("Record: %v", err)
	}

	events, err := store.GetRecentEventsInChat(ctx, -1001, 10)
	if err != nil {
		t.Fatalf("GetRecentEventsInChat: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	for _, ev := range events {
		if ev.Type != "member_joined" {
			t.Errorf("event Type = %q, want %q", ev.Type, "member_joined")
		}
	}

	// Both members are upserted as users alongside the inviter.
	for _, userID := range []int64{100, 201, 202} {
		user, err := store.GetUser(ctx, userID)
		if err != nil {
			t.Fatalf("GetUser(%d): %v", userID, err)
		}
		if user == nil {
			t.Errorf("user %d not upserted", userID)
		}
	}

	// No message row is written for a service message.
	rows, err := store.GetMessagesByID(ctx, -1001, 12)
	if err != nil {
		t.Fatalf("GetMessagesByID: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("got %d message rows for a service message, want 0", len(rows))
	}
}

func TestRecordTitleChangeUpdatesChat(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	rec := recorder.NewRecorder(nil, store, nil, false, "")
	ctx := context.Background()

	// Chat payloads on a rename still carry the old title; the event field
	// holds the new one and must win in the reference row.
	msg := &models.Message{
		ID:           13,
		From:         &models.User{ID: 100, FirstName: "Admin"},
		Chat:         models.Chat{ID: -1001, Title: "Old Name", Type: "supergroup"},
		Date:         1700000600,
		NewChatTitle: "New Name",
	}
	if err := rec.Record(ctx, nil, msg, false); err != nil {
		t.Fatalf("Record: %v", err)
	}

	chat, err := store.GetChat(ctx, -1001)
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if chat == nil || chat.Title.String != "New Name" {
		t.Errorf("chat = %+v, want title %q", chat, "New Name")
	}

	events, err := store.GetRecentEventsInChat(ctx, -1001, 10)
	if err != nil {
		t.Fatalf("GetRecentEventsInChat: %v", err)
	}
	if len(events) != 1 || events[0].Type != "title_changed" {
		t.Fatalf("events = %+v, want one title_changed", events)
	}
	if !strings.Contains(events[0].Data.String, `"new_title":"New Name"`) {
		t.Errorf("event Data = %q, missing new title", events[0].Data.String)
	}
}

func TestRecordEditedServiceMessageIgnored(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	rec := recorder.NewRecorder(nil, store, nil, false, "")
	ctx := context.Background()

	msg := &models.Message{
		ID:             14,
		Chat:           models.Chat{ID: -1001, Type: "supergroup"},
		Date:           1700000700,
		LeftChatMember: &models.User{ID: 300, FirstName: "Carol"},
	}
	if err := rec.Record(ctx, nil, msg, true); err != nil {
		t.Fatalf("Record: %v", err)
	}

	events, err := store.GetRecentEventsInChat(ctx, -1001, 10)
	if err != nil {
		t.Fatalf("GetRecentEventsInChat: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("got %d events for an edited service message, want 0", len(events))
	}
}

func TestHandleUpdateRoutesEditedMessage(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	rec := recorder.NewRecorder(nil, store, nil, false, "")
	ctx := context.Background()

	rec.HandleUpdate(ctx, nil, &models.Update{
		EditedMessage: textMessage(20, -1001, 100, "edited text"),
	})

	rows, err := store.GetMessagesByID(ctx, -1001, 20)
	if err != nil {
		t.Fatalf("GetMessagesByID: %v", err)
	}
	if len(rows) != 1 || !rows[0].IsEdit {
		t.Fatalf("rows = %+v, want one edit row", rows)
	}
}
