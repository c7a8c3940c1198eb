// Package tasks implements the scheduled background tasks of the chat
// recorder and their registration.
package tasks

import (
	"log/slog"

	"github.com/edgard/chatlogger/internal/database"
)

// TaskDeps contains the dependencies available to scheduled tasks.
type TaskDeps struct {
	Logger *slog.Logger
	Store  database.Store
}
