package task

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// itemDocStrategy handles the leaf task types. It persists the fetched
// payload keyed by its content hash so downstream change detection can skip
// unchanged items. Leaves never fan out.
type itemDocStrategy struct {
	base
	taskType Type
	kind     DocumentKind
}

func (s *itemDocStrategy) Type() Type { return s.taskType }

func (s *itemDocStrategy) Execute(ctx context.Context, t Task) error {
	data, err := s.fetch(ctx, t)
	if err != nil {
		return err
	}
	if !json.Valid(data) {
		return fmt.Errorf("item %d %s payload is not valid JSON", t.Target.ItemNo, s.kind)
	}

	hash, err := s.d.Hasher.Hash(data)
	if err != nil {
		return fmt.Errorf("hash item payload: %w", err)
	}
	doc := ItemDocument{
		SellerID:    t.SellerID,
		ItemNo:      t.Target.ItemNo,
		Kind:        s.kind,
		ContentHash: hash,
		Payload:     data,
		FetchedAt:   s.d.Clock.Now(),
	}
	if err := s.d.Items.SaveItemDocument(ctx, doc); err != nil {
		return fmt.Errorf("save item %s document: %w", s.kind, err)
	}
	s.d.Logger.Debug("item document stored",
		zap.Int64("item_no", t.Target.ItemNo),
		zap.String("kind", string(s.kind)),
		zap.String("content_hash", hash),
	)
	return nil
}
