package task

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// metaPayload is the normalized shop meta response.
type metaPayload struct {
	TotalCount int `json:"total_count"`
}

// metaStrategy handles the root of the fan-out tree: it reads the seller's
// total item count and creates one SHOP_PAGE child per page.
type metaStrategy struct {
	base
}

func (s *metaStrategy) Type() Type { return TypeMeta }

func (s *metaStrategy) Execute(ctx context.Context, t Task) error {
	data, err := s.fetch(ctx, t)
	if err != nil {
		return err
	}

	var meta metaPayload
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("decode shop meta payload: %w", err)
	}
	if meta.TotalCount < 0 {
		return fmt.Errorf("shop meta reported negative total count %d", meta.TotalCount)
	}

	now := s.d.Clock.Now()
	if err := s.d.Sellers.UpdateProductCount(ctx, t.SellerID, meta.TotalCount, now); err != nil {
		return fmt.Errorf("update seller %d product count: %w", t.SellerID, err)
	}

	pageSize := t.Target.PageSize
	pageCount := (meta.TotalCount + pageSize - 1) / pageSize
	children := make([]Task, 0, pageCount)
	for page := 0; page < pageCount; page++ {
		child, err := s.newChild(t, TypeShopPage, s.d.Endpoints.ShopPage(t.SellerID, page))
		if err != nil {
			return err
		}
		children = append(children, child)
	}
	if len(children) == 0 {
		s.d.Logger.Info("seller has no items, no pages to crawl",
			zap.Int64("seller_id", t.SellerID),
		)
		return nil
	}

	if err := s.d.Store.CreateBatch(ctx, children); err != nil {
		return fmt.Errorf("create %d shop page tasks: %w", len(children), err)
	}
	s.d.Logger.Info("shop meta fan-out complete",
		zap.Int64("seller_id", t.SellerID),
		zap.Int("total_count", meta.TotalCount),
		zap.Int("page_count", pageCount),
	)
	return nil
}
