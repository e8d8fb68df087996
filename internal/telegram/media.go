package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/digkill/MediaGenBot/internal/catalog"
	"github.com/digkill/MediaGenBot/internal/session"
)

// Telegram bots cannot download files above 20 MB.
const maxDownloadSize = 20 << 20

var errNotImage = errors.New("file is not an image")

type fileAPI interface {
	GetFileDirectURL(fileID string) (string, error)
}

type Uploader interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
}

// MediaResolver copies user uploads to object storage so providers get a
// stable public URL. Without storage the Telegram file link is passed through.
type MediaResolver struct {
	api        fileAPI
	storage    Uploader
	httpClient *http.Client
	log        *slog.Logger
}

func NewMediaResolver(api fileAPI, storage Uploader, log *slog.Logger) *MediaResolver {
	return &MediaResolver{
		api:        api,
		storage:    storage,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		log:        log,
	}
}

func (r *MediaResolver) Resolve(ctx context.Context, userID int64, m session.Media) (string, error) {
	if m.FileSize > maxDownloadSize {
		return "", fmt.Errorf("file %s is %d bytes, over the download limit", m.FileID, m.FileSize)
	}
	link, err := r.api.GetFileDirectURL(m.FileID)
	if err != nil {
		return "", fmt.Errorf("get file link: %w", err)
	}
	if r.storage == nil {
		return link, nil
	}

	data, contentType, err := r.download(ctx, link)
	if err != nil {
		return "", err
	}
	if m.Kind == catalog.MediaImage {
		if contentType, err = normalizeImageContentType(contentType, data); err != nil {
			return "", err
		}
	}
	url, err := r.storage.Upload(ctx, data, contentType)
	if err != nil {
		return "", err
	}
	r.log.Debug("media stored", "user", userID, "file_id", m.FileID, "url", url)
	return url, nil
}

func (r *MediaResolver) download(ctx context.Context, link string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("telegram file status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("read file body: %w", err)
	}
	if len(body) > maxDownloadSize {
		return nil, "", fmt.Errorf("file exceeds %d bytes", maxDownloadSize)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func normalizeImageContentType(headerCT string, data []byte) (string, error) {
	ct := strings.ToLower(strings.TrimSpace(headerCT))
	if idx := strings.Index(ct, ";"); idx > 0 {
		ct = ct[:idx]
	}
	if ct == "" || ct == "application/octet-stream" || !strings.HasPrefix(ct, "image/") {
		if len(data) > 0 {
			ct = http.DetectContentType(data)
			if idx := strings.Index(ct, ";"); idx > 0 {
				ct = ct[:idx]
			}
		}
	}

	switch ct {
	case "image/jpeg", "image/jpg":
		return "image/jpeg", nil
	case "image/png":
		return "image/png", nil
	case "image/webp":
		return "image/webp", nil
	default:
		return "", errNotImage
	}
}
