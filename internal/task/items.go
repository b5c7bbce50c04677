package task

import (
	"context"
	"time"
)

// DocumentKind distinguishes the two leaf payloads stored per item.
type DocumentKind string

// Document kinds.
const (
	DocumentDetail DocumentKind = "DETAIL"
	DocumentOption DocumentKind = "OPTION"
)

// ItemSnapshot is the list-level view of an item captured from a shop page.
type ItemSnapshot struct {
	SellerID   int64     `json:"seller_id"`
	ItemNo     int64     `json:"item_no"`
	Name       string    `json:"name"`
	Price      int64     `json:"price"`
	StockCount int       `json:"stock_count"`
	SeenAt     time.Time `json:"seen_at"`
}

// ItemDocument is a full detail or option payload for one item, keyed by a
// content hash so unchanged payloads are detectable.
type ItemDocument struct {
	SellerID    int64        `json:"seller_id"`
	ItemNo      int64        `json:"item_no"`
	Kind        DocumentKind `json:"kind"`
	ContentHash string       `json:"content_hash"`
	Payload     []byte       `json:"payload"`
	FetchedAt   time.Time    `json:"fetched_at"`
}

// ItemStore persists item snapshots and documents.
type ItemStore interface {
	SaveItemSnapshot(ctx context.Context, snap ItemSnapshot) error
	SaveItemDocument(ctx context.Context, doc ItemDocument) error
}

// Hasher computes content digests for change detection.
type Hasher interface {
	Hash(data []byte) (string, error)
}
