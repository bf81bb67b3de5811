package modelhub

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"VisorDet/logger"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const TimeOutSeconds = 120

var ErrModelUnavailable = errors.New("model not cached and no download url configured")

// Hub resolves a pretrained model identifier to a file under Dir, fetching it from BaseURL on a cache miss.
type Hub struct {
	Dir     string
	BaseURL string
	client  *resty.Client
}

func New(dir, baseURL string) *Hub {
	return &Hub{
		Dir:     dir,
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  resty.New().SetTimeout(TimeOutSeconds * time.Second),
	}
}

// Resolve returns the local path for id. A path-like id that exists on disk is returned unchanged.
func (h *Hub) Resolve(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("empty model identifier")
	}
	if fileExists(id) {
		return id, nil
	}
	local := filepath.Join(h.Dir, filepath.Base(id))
	if fileExists(local) {
		return local, nil
	}
	if h.BaseURL == "" {
		return "", fmt.Errorf("%s: %w", id, ErrModelUnavailable)
	}
	if err := h.download(ctx, filepath.Base(id), local); err != nil {
		return "", err
	}
	return local, nil
}

func (h *Hub) download(ctx context.Context, name, dst string) error {
	if err := os.MkdirAll(h.Dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	tmp := filepath.Join(h.Dir, fmt.Sprintf(".%s.%s.part", name, uuid.NewString()))
	url := h.BaseURL + "/" + name
	logger.Log().Info("downloading model", zap.String("url", url), zap.String("dst", dst))
	resp, err := h.client.R().
		SetContext(ctx).
		SetOutput(tmp).
		Get(url)
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("download %s: %w", url, err)
	}
	if resp.IsError() {
		_ = os.Remove(tmp)
		return fmt.Errorf("download %s: server returned %s", url, resp.Status())
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("install model: %w", err)
	}
	fields := []zap.Field{zap.String("path", dst)}
	if info, err := os.Stat(dst); err == nil {
		fields = append(fields, zap.Int64("bytes", info.Size()))
	}
	logger.Log().Info("model downloaded", fields...)
	return nil
}

func fileExists(p string) bool {
	if p == "" {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
