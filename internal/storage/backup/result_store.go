// Package backup decorates a result store with best-effort blob backups of
// the raw crawl payloads.
package backup

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hbkim/storecrawl/internal/blob"
	"github.com/hbkim/storecrawl/internal/task"
)

// Config controls backup placement.
type Config struct {
	Prefix      string
	ContentType string
}

// ResultStore writes each crawl result through to the wrapped store and then
// uploads the raw payload to blob storage. Backup failures are logged, never
// surfaced: the database row is the source of truth.
type ResultStore struct {
	next   task.ResultStore
	blobs  blob.Store
	cfg    Config
	logger *zap.Logger
}

// New wraps next with blob backups.
func New(next task.ResultStore, blobs blob.Store, cfg Config, logger *zap.Logger) *ResultStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "application/json"
	}
	return &ResultStore{
		next:   next,
		blobs:  blobs,
		cfg:    cfg,
		logger: logger,
	}
}

// SaveCrawlResult persists the result and uploads the payload backup.
func (s *ResultStore) SaveCrawlResult(ctx context.Context, taskID string, taskType task.Type, sellerID int64, raw []byte) (string, error) {
	id, err := s.next.SaveCrawlResult(ctx, taskID, taskType, sellerID, raw)
	if err != nil {
		return "", err
	}

	path := s.objectPath(taskType, sellerID, taskID)
	uri, err := s.blobs.PutObject(ctx, path, s.cfg.ContentType, bytes.NewReader(raw))
	if err != nil {
		s.logger.Warn("crawl payload backup failed",
			zap.String("task_id", taskID),
			zap.String("path", path),
			zap.Error(err),
		)
		return id, nil
	}
	if uri != "" {
		s.logger.Debug("crawl payload backed up",
			zap.String("task_id", taskID),
			zap.String("blob_uri", uri),
		)
	}
	return id, nil
}

func (s *ResultStore) objectPath(taskType task.Type, sellerID int64, taskID string) string {
	prefix := strings.Trim(s.cfg.Prefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%d/%s.json", taskType, sellerID, taskID)
	}
	return fmt.Sprintf("%s/%s/%d/%s.json", prefix, taskType, sellerID, taskID)
}
