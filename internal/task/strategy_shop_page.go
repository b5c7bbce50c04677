package task

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// shopItem is one entry of the normalized item list response.
type shopItem struct {
	ItemNo     int64  `json:"item_no"`
	Name       string `json:"name"`
	Price      int64  `json:"price"`
	StockCount int    `json:"stock_count"`
}

// shopPagePayload is the normalized item list response for one page.
type shopPagePayload struct {
	Items []shopItem `json:"items"`
}

// shopPageStrategy handles one page of a seller's item list: it snapshots
// every item and fans out an ITEM_DETAIL and an ITEM_OPTION child per item.
// One item's failure is isolated: it is logged and skipped, and the page
// still completes with the children of its healthy siblings.
type shopPageStrategy struct {
	base
}

func (s *shopPageStrategy) Type() Type { return TypeShopPage }

func (s *shopPageStrategy) Execute(ctx context.Context, t Task) error {
	data, err := s.fetch(ctx, t)
	if err != nil {
		return err
	}

	var page shopPagePayload
	if err := json.Unmarshal(data, &page); err != nil {
		return fmt.Errorf("decode shop page payload: %w", err)
	}
	if len(page.Items) == 0 {
		// An empty page is a normal outcome, not an error.
		s.d.Logger.Info("shop page has no items",
			zap.Int64("seller_id", t.SellerID),
			zap.Int("page", t.Target.Page),
		)
		return nil
	}

	children := make([]Task, 0, 2*len(page.Items))
	for _, item := range page.Items {
		kids, err := s.processItem(ctx, t, item)
		if err != nil {
			s.d.Logger.Warn("item processing failed, skipping",
				zap.Int64("seller_id", t.SellerID),
				zap.Int64("item_no", item.ItemNo),
				zap.Int("page", t.Target.Page),
				zap.Error(err),
			)
			continue
		}
		children = append(children, kids...)
	}
	if len(children) == 0 {
		return nil
	}

	if err := s.d.Store.CreateBatch(ctx, children); err != nil {
		return fmt.Errorf("create %d item tasks: %w", len(children), err)
	}
	s.d.Logger.Debug("shop page fan-out complete",
		zap.Int64("seller_id", t.SellerID),
		zap.Int("page", t.Target.Page),
		zap.Int("children", len(children)),
	)
	return nil
}

func (s *shopPageStrategy) processItem(ctx context.Context, t Task, item shopItem) ([]Task, error) {
	if item.ItemNo <= 0 {
		return nil, fmt.Errorf("item has invalid item_no %d", item.ItemNo)
	}
	snap := ItemSnapshot{
		SellerID:   t.SellerID,
		ItemNo:     item.ItemNo,
		Name:       item.Name,
		Price:      item.Price,
		StockCount: item.StockCount,
		SeenAt:     s.d.Clock.Now(),
	}
	if err := s.d.Items.SaveItemSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("save item snapshot: %w", err)
	}

	detail, err := s.newChild(t, TypeItemDetail, s.d.Endpoints.ItemDetail(item.ItemNo))
	if err != nil {
		return nil, err
	}
	option, err := s.newChild(t, TypeItemOption, s.d.Endpoints.ItemOption(item.ItemNo))
	if err != nil {
		return nil, err
	}
	return []Task{detail, option}, nil
}
