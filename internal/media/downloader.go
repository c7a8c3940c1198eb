// Package media downloads Telegram file attachments to local disk.
package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-telegram/bot"

	"github.com/edgard/chatlogger/internal/classify"
)

const downloadTimeout = 30 * time.Second

// Fetcher resolves a Telegram file id and stores the file under destDir.
// It returns the local path of the stored file.
type Fetcher interface {
	Fetch(ctx context.Context, b *bot.Bot, fileID, destDir, prefix string) (string, error)
}

// TelegramFetcher downloads files through the Bot API file endpoint.
type TelegramFetcher struct {
	token  string
	client *http.Client
	logger *slog.Logger
}

// NewTelegramFetcher creates a fetcher for the bot identified by token.
func NewTelegramFetcher(token string, logger *slog.Logger) *TelegramFetcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &TelegramFetcher{
		token:  token,
		client: &http.Client{Timeout: downloadTimeout},
		logger: logger,
	}
}

// Fetch resolves fileID via GetFile and streams the file to
// destDir/<prefix>_<sanitized name>. The stored name keeps the remote
// file's base name, sanitized so it cannot escape destDir.
func (f *TelegramFetcher) Fetch(ctx context.Context, b *bot.Bot, fileID, destDir, prefix string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	file, err := b.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		return "", fmt.Errorf("failed to resolve file %s: %w", fileID, err)
	}
	if file.FilePath == "" {
		return "", fmt.Errorf("file %s has no download path", fileID)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create media directory %s: %w", destDir, err)
	}

	name := prefix + "_" + classify.SanitizeFileName(file.FilePath)
	destPath := filepath.Join(destDir, name)

	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", f.token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download file %s: %w", fileID, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			f.logger.WarnContext(ctx, "Error closing download response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download of file %s returned status %d", fileID, resp.StatusCode)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", destPath, err)
	}

	written, err := io.Copy(out, resp.Body)
	if err != nil {
		_ = out.Close()
		_ = os.Remove(destPath)
		return "", fmt.Errorf("failed to write %s: %w", destPath, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", destPath, err)
	}

	f.logger.DebugContext(ctx, "Downloaded media file",
		"file_id", fileID,
		"path", destPath,
		"bytes", written)
	return destPath, nil
}
