// Package engagement reads the pre-aggregated engagement counters that feed
// product scoring. The engine never writes them.
package engagement

import (
	"context"
	"time"
)

// Status is the listing status reported by the catalog.
type Status string

// Listing statuses. Only active listings are ranked.
const (
	StatusActive  Status = "active"
	StatusPending Status = "pending"
	StatusSold    Status = "sold"
)

// Snapshot is the read-only engagement record of one product.
type Snapshot struct {
	ProductID     string     `json:"product_id"`
	Scope         string     `json:"scope"`
	Clicks        int64      `json:"clicks"`
	Views         int64      `json:"views"`
	Likes         int64      `json:"likes"`
	CreatedAt     time.Time  `json:"created_at"`
	LastClickedAt *time.Time `json:"last_clicked_at,omitempty"`
	LastViewedAt  *time.Time `json:"last_viewed_at,omitempty"`

	// SellerRatingAvg is nil when the seller has no ratings.
	SellerRatingAvg     *float64 `json:"seller_rating_avg,omitempty"`
	SellerRatingCount   int      `json:"seller_rating_count"`
	SellerPostsPerMonth float64  `json:"seller_posts_per_month"`
	SellerActiveDays    int      `json:"seller_active_days"`

	Status Status `json:"status"`
}

// Rankable reports whether the product may appear in ranking output.
// Pending and sold products are hidden; their placements stay dormant.
func (s Snapshot) Rankable() bool {
	return s.Status == StatusActive
}

// ScopeCount is a scope and the number of rankable products in it.
type ScopeCount struct {
	Scope    string `json:"scope"`
	Products int    `json:"products"`
}

// Source provides engagement snapshots.
type Source interface {
	// ListByScope returns every record of a scope, whatever its status.
	ListByScope(ctx context.Context, scope string) ([]Snapshot, error)
	// ListScopes returns each known scope with its rankable product count.
	ListScopes(ctx context.Context) ([]ScopeCount, error)
}
