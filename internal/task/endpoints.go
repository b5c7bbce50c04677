package task

import (
	"fmt"
	"strings"
)

// Endpoints builds request targets against the marketplace API.
type Endpoints struct {
	// BaseURL is the marketplace root, e.g. "https://shop.example.com".
	BaseURL string
	// PageSize is the number of items requested per shop page.
	PageSize int
}

func (e Endpoints) root() string {
	return strings.TrimRight(e.BaseURL, "/")
}

// Meta returns the target for a seller's shop meta endpoint.
func (e Endpoints) Meta(sellerID int64) Target {
	return Target{
		URL:      fmt.Sprintf("%s/api/v2/sellers/%d/meta?size=%d", e.root(), sellerID, e.PageSize),
		PageSize: e.PageSize,
	}
}

// ShopPage returns the target for one page of a seller's item list.
func (e Endpoints) ShopPage(sellerID int64, page int) Target {
	return Target{
		URL:      fmt.Sprintf("%s/api/v2/sellers/%d/items?page=%d&size=%d", e.root(), sellerID, page, e.PageSize),
		Page:     page,
		PageSize: e.PageSize,
	}
}

// ItemDetail returns the target for an item's detail endpoint.
func (e Endpoints) ItemDetail(itemNo int64) Target {
	return Target{
		URL:    fmt.Sprintf("%s/api/v2/items/%d", e.root(), itemNo),
		ItemNo: itemNo,
	}
}

// ItemOption returns the target for an item's option endpoint.
func (e Endpoints) ItemOption(itemNo int64) Target {
	return Target{
		URL:    fmt.Sprintf("%s/api/v2/items/%d/options", e.root(), itemNo),
		ItemNo: itemNo,
	}
}
