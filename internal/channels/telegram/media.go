package telegram

import (
	"context"
	"fmt"
	"image/jpeg"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/mymmrac/telego"
)

const (
	// defaultMediaMaxBytes is the default max download size (20MB, Telegram
	// Bot API's own file-serving limit).
	defaultMediaMaxBytes int64 = 20 * 1024 * 1024

	// downloadMaxRetries is the total number of GetFile attempts.
	downloadMaxRetries = 3

	// thumbnailMaxDimension bounds the longest edge of a sanitized photo
	// before it is attached to a LaneMessage — keeps the payload small
	// without the adapter needing to know anything about image semantics.
	thumbnailMaxDimension = 1280
)

// MediaInfo describes one downloaded and sanitized media attachment.
type MediaInfo struct {
	Type        string
	FilePath    string
	FileID      string
	ContentType string
	FileSize    int64
}

// resolveMedia downloads the highest-resolution photo attached to msg, if
// any, and re-encodes it to bound its dimensions. Other media kinds
// (video, audio, documents) carry no payload here — the gateway only needs
// enough to produce a normalized LaneMessage, not to understand the media.
func (c *Channel) resolveMedia(ctx context.Context, msg *telego.Message) []MediaInfo {
	if len(msg.Photo) == 0 {
		return nil
	}

	maxBytes := c.config.MediaMaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMediaMaxBytes
	}

	photo := msg.Photo[len(msg.Photo)-1]
	filePath, err := c.downloadMedia(ctx, photo.FileID, maxBytes)
	if err != nil {
		slog.Warn("telegram.photo_download_failed", "file_id", photo.FileID, "error", err)
		return nil
	}

	sanitized, err := sanitizeImage(filePath)
	if err != nil {
		slog.Warn("telegram.photo_sanitize_failed", "error", err)
		sanitized = filePath
	}

	return []MediaInfo{{
		Type:        "image",
		FilePath:    sanitized,
		FileID:      photo.FileID,
		ContentType: "image/jpeg",
		FileSize:    int64(photo.FileSize),
	}}
}

// sanitizeImage re-encodes the image at path to a bounded-dimension JPEG,
// stripping any embedded metadata in the process. Returns the path to the
// sanitized copy, which the caller owns and should clean up.
func sanitizeImage(path string) (string, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}

	resized := imaging.Fit(img, thumbnailMaxDimension, thumbnailMaxDimension, imaging.Lanczos)

	out, err := os.CreateTemp("", "edgegateway_photo_*.jpg")
	if err != nil {
		return "", fmt.Errorf("create sanitized image temp file: %w", err)
	}
	defer out.Close()

	if err := jpeg.Encode(out, resized, &jpeg.Options{Quality: 85}); err != nil {
		os.Remove(out.Name())
		return "", fmt.Errorf("encode sanitized image: %w", err)
	}
	return out.Name(), nil
}

// downloadMedia downloads a file from Telegram by file_id, retrying the
// GetFile metadata lookup a few times before giving up.
func (c *Channel) downloadMedia(ctx context.Context, fileID string, maxBytes int64) (string, error) {
	var file *telego.File
	var err error

	for attempt := 1; attempt <= downloadMaxRetries; attempt++ {
		file, err = c.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
		if err == nil {
			break
		}
		if attempt < downloadMaxRetries {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}
	if err != nil {
		return "", fmt.Errorf("get file info after %d attempts: %w", downloadMaxRetries, err)
	}
	if file.FilePath == "" {
		return "", fmt.Errorf("empty file path for file_id %s", fileID)
	}
	if int64(file.FileSize) > maxBytes {
		return "", fmt.Errorf("file too large: %d bytes (max %d)", file.FileSize, maxBytes)
	}

	downloadURL := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", c.config.Token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	ext := filepath.Ext(file.FilePath)
	if ext == "" {
		ext = ".bin"
	}
	tmpFile, err := os.CreateTemp("", "edgegateway_media_*"+ext)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer tmpFile.Close()

	written, err := io.Copy(tmpFile, io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		os.Remove(tmpFile.Name())
		return "", fmt.Errorf("save file: %w", err)
	}
	if written > maxBytes {
		os.Remove(tmpFile.Name())
		return "", fmt.Errorf("file exceeds max size during download: %d bytes", written)
	}
	return tmpFile.Name(), nil
}
