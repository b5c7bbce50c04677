package task

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// TriggerService creates root META tasks, either manually via the API or on
// schedule for every registered seller.
type TriggerService struct {
	store     Store
	sellers   SellerStore
	ids       IDGenerator
	clock     Clock
	endpoints Endpoints
	logger    *zap.Logger
}

// NewTriggerService builds a TriggerService.
func NewTriggerService(
	store Store,
	sellers SellerStore,
	ids IDGenerator,
	clock Clock,
	endpoints Endpoints,
	logger *zap.Logger,
) *TriggerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TriggerService{
		store:     store,
		sellers:   sellers,
		ids:       ids,
		clock:     clock,
		endpoints: endpoints,
		logger:    logger,
	}
}

// TriggerSeller creates the root META task for one seller and returns it.
// The task and its outbox row are written atomically.
func (s *TriggerService) TriggerSeller(ctx context.Context, sellerID int64, trigger Trigger) (Task, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return Task{}, fmt.Errorf("generate task id: %w", err)
	}
	root, err := New(NewParams{
		ID:                id,
		ParentSchedulerID: id,
		SellerID:          sellerID,
		Type:              TypeMeta,
		Target:            s.endpoints.Meta(sellerID),
		Trigger:           trigger,
		Now:               s.clock.Now(),
	})
	if err != nil {
		return Task{}, fmt.Errorf("build meta task for seller %d: %w", sellerID, err)
	}
	if err := s.store.CreateBatch(ctx, []Task{root}); err != nil {
		return Task{}, fmt.Errorf("persist meta task for seller %d: %w", sellerID, err)
	}
	s.logger.Info("crawl triggered",
		zap.Int64("seller_id", sellerID),
		zap.String("task_id", root.ID),
		zap.String("trigger", string(trigger)),
	)
	return root, nil
}

// TriggerAll creates a root META task for every registered seller. One
// seller's failure does not stop the rest.
func (s *TriggerService) TriggerAll(ctx context.Context) (int, error) {
	sellerIDs, err := s.sellers.ListSellerIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sellers: %w", err)
	}
	created := 0
	for _, sellerID := range sellerIDs {
		if _, err := s.TriggerSeller(ctx, sellerID, TriggerAuto); err != nil {
			s.logger.Error("scheduled trigger failed for seller",
				zap.Int64("seller_id", sellerID),
				zap.Error(err),
			)
			continue
		}
		created++
	}
	return created, nil
}
