package ranking

import (
	"math"
	"time"

	"github.com/onnwee/promorank/internal/engagement"
)

// Components holds every intermediate factor of a score.
type Components struct {
	AgeDays           float64 `json:"age_days"`
	Freshness         float64 `json:"freshness"`
	StaleDays         float64 `json:"stale_days"`
	RecentClickFactor float64 `json:"recent_click_factor"`
	EngagementWeight  float64 `json:"engagement_weight"`
	SellerQuality     float64 `json:"seller_quality"`
	Score             float64 `json:"score"`
}

// Score returns the ranking score of a snapshot at now.
// A nil weights argument uses DefaultWeights.
func Score(s engagement.Snapshot, now time.Time, weights *Weights) float64 {
	return Breakdown(s, now, weights).Score
}

// Breakdown computes the score of a snapshot along with its factors.
func Breakdown(s engagement.Snapshot, now time.Time, weights *Weights) Components {
	if weights == nil {
		weights = DefaultWeights()
	}
	var c Components

	c.AgeDays = daysBetween(s.CreatedAt, now)
	c.Freshness = FreshnessFactor(c.AgeDays, weights.Decay.FreshnessWindowDays)

	if s.LastClickedAt != nil {
		c.StaleDays = math.Max(0, daysBetween(*s.LastClickedAt, now)-weights.Decay.ClickGraceDays)
		c.RecentClickFactor = decay(c.StaleDays, weights.Decay.ClickDecayDays)
	}

	c.EngagementWeight = EngagementWeight(s.Clicks, s.Likes, s.Views, weights.Engagement)
	c.SellerQuality = SellerQuality(s.SellerRatingAvg, s.SellerRatingCount, weights.Seller)

	activity := weights.Blend.Base +
		weights.Blend.Freshness*c.Freshness +
		weights.Blend.RecentClick*c.RecentClickFactor
	seller := weights.Blend.SellerBase + weights.Blend.Seller*c.SellerQuality

	c.Score = finiteNonNegative(c.EngagementWeight * activity * seller)
	return c
}

// FreshnessFactor is 1 for a brand new listing and falls linearly to 0 at
// windowDays of age.
func FreshnessFactor(ageDays, windowDays float64) float64 {
	return decay(ageDays, windowDays)
}

// EngagementWeight log-damps the engagement counters. Negative counters count as 0.
func EngagementWeight(clicks, likes, views int64, w EngagementWeights) float64 {
	return math.Log1p(nonNegative(clicks))*w.Clicks +
		math.Log1p(nonNegative(likes))*w.Likes +
		math.Log1p(nonNegative(views))*w.Views
}

// SellerQuality maps a seller rating to [0, 1]. Sellers with no ratings get
// the neutral value; otherwise the normalized rating is pulled toward neutral
// in proportion to how few ratings back it.
func SellerQuality(ratingAvg *float64, ratingCount int, w SellerWeights) float64 {
	if ratingAvg == nil || math.IsNaN(*ratingAvg) || math.IsInf(*ratingAvg, 0) || ratingCount <= 0 {
		return w.Neutral
	}
	normalized := clamp01(*ratingAvg / w.RatingScale)
	confidence := math.Min(1, float64(ratingCount)/w.ConfidenceRatings)
	return clamp01(w.Neutral + (normalized-w.Neutral)*confidence)
}

// decay returns max(0, 1 - x/window).
func decay(x, window float64) float64 {
	if window <= 0 {
		return 0
	}
	return math.Max(0, 1-x/window)
}

func daysBetween(from, to time.Time) float64 {
	return math.Max(0, to.Sub(from).Hours()/24)
}

func nonNegative(n int64) float64 {
	if n < 0 {
		return 0
	}
	return float64(n)
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}

func finiteNonNegative(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) || x < 0 {
		return 0
	}
	return x
}
