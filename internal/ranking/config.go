package ranking

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

// EngagementWeights scales the log-damped engagement counters.
type EngagementWeights struct {
	Clicks float64 `json:"clicks"` // default: 1.0
	Likes  float64 `json:"likes"`  // default: 1.5
	Views  float64 `json:"views"`  // default: 0.5
}

// DecayWeights controls how fast freshness and recent clicks fade.
type DecayWeights struct {
	FreshnessWindowDays float64 `json:"freshness_window_days"` // default: 15
	ClickGraceDays      float64 `json:"click_grace_days"`      // default: 5
	ClickDecayDays      float64 `json:"click_decay_days"`      // default: 5
}

// BlendWeights combines the activity and seller multipliers.
type BlendWeights struct {
	Base        float64 `json:"base"`         // default: 0.4
	Freshness   float64 `json:"freshness"`    // default: 0.3
	RecentClick float64 `json:"recent_click"` // default: 0.3
	SellerBase  float64 `json:"seller_base"`  // default: 0.7
	Seller      float64 `json:"seller"`       // default: 0.3
}

// SellerWeights shapes the seller quality signal.
type SellerWeights struct {
	// Neutral is the quality of a seller with no ratings.
	Neutral float64 `json:"neutral"` // default: 0.5
	// ConfidenceRatings is the rating count at which a rating is fully trusted.
	ConfidenceRatings float64 `json:"confidence_ratings"` // default: 20
	RatingScale       float64 `json:"rating_scale"`       // default: 5
}

// Weights holds all scoring coefficients.
type Weights struct {
	Engagement EngagementWeights `json:"engagement"`
	Decay      DecayWeights      `json:"decay"`
	Blend      BlendWeights      `json:"blend"`
	Seller     SellerWeights     `json:"seller"`
}

// CalibrationConfig represents the JSON structure of the calibration file.
type CalibrationConfig struct {
	Version string  `json:"version"`
	Weights Weights `json:"weights"`
}

// DefaultWeights returns the default scoring coefficients.
//
// score = (log1p(clicks)*1.0 + log1p(likes)*1.5 + log1p(views)*0.5)
//
//	* (0.4 + 0.3*freshness + 0.3*recentClickFactor)
//	* (0.7 + 0.3*sellerQuality)
func DefaultWeights() *Weights {
	return &Weights{
		Engagement: EngagementWeights{
			Clicks: 1.0,
			Likes:  1.5,
			Views:  0.5,
		},
		Decay: DecayWeights{
			FreshnessWindowDays: 15,
			ClickGraceDays:      5,
			ClickDecayDays:      5,
		},
		Blend: BlendWeights{
			Base:        0.4,
			Freshness:   0.3,
			RecentClick: 0.3,
			SellerBase:  0.7,
			Seller:      0.3,
		},
		Seller: SellerWeights{
			Neutral:           0.5,
			ConfidenceRatings: 20,
			RatingScale:       5,
		},
	}
}

// LoadCalibration loads scoring weights from a JSON calibration file.
// An empty path returns the defaults. On any read or parse failure the
// defaults are returned together with the error so callers can degrade
// gracefully.
func LoadCalibration(filePath string) (*Weights, error) {
	if filePath == "" {
		return DefaultWeights(), nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		slog.Warn("failed to read calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultWeights(), fmt.Errorf("failed to read calibration file: %w", err)
	}

	var config CalibrationConfig
	if err := json.Unmarshal(data, &config); err != nil {
		slog.Warn("failed to parse calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultWeights(), fmt.Errorf("failed to parse calibration file: %w", err)
	}

	defaults := DefaultWeights()
	merged := MergeCalibration(defaults, &config.Weights)
	logCalibrationOverrides(defaults, merged)

	return merged, nil
}

// MergeCalibration returns base with every positive value of override applied.
// Zero and negative values are ignored: a negative coefficient would break
// score monotonicity and a zero decay window would divide by zero.
// Neutral seller quality is only taken when it lies in (0, 1].
func MergeCalibration(base *Weights, override *Weights) *Weights {
	if base == nil {
		return DefaultWeights()
	}

	result := *base
	if override == nil {
		return &result
	}

	apply := func(dst *float64, v float64) {
		if v > 0 {
			*dst = v
		}
	}

	apply(&result.Engagement.Clicks, override.Engagement.Clicks)
	apply(&result.Engagement.Likes, override.Engagement.Likes)
	apply(&result.Engagement.Views, override.Engagement.Views)

	apply(&result.Decay.FreshnessWindowDays, override.Decay.FreshnessWindowDays)
	apply(&result.Decay.ClickGraceDays, override.Decay.ClickGraceDays)
	apply(&result.Decay.ClickDecayDays, override.Decay.ClickDecayDays)

	apply(&result.Blend.Base, override.Blend.Base)
	apply(&result.Blend.Freshness, override.Blend.Freshness)
	apply(&result.Blend.RecentClick, override.Blend.RecentClick)
	apply(&result.Blend.SellerBase, override.Blend.SellerBase)
	apply(&result.Blend.Seller, override.Blend.Seller)

	if override.Seller.Neutral > 0 && override.Seller.Neutral <= 1 {
		result.Seller.Neutral = override.Seller.Neutral
	}
	apply(&result.Seller.ConfidenceRatings, override.Seller.ConfidenceRatings)
	apply(&result.Seller.RatingScale, override.Seller.RatingScale)

	return &result
}

// logCalibrationOverrides logs which weights were overridden from defaults.
func logCalibrationOverrides(defaults *Weights, loaded *Weights) {
	var overrides []string
	check := func(name string, def, got float64) {
		if def != got {
			overrides = append(overrides, fmt.Sprintf("%s: %.2f -> %.2f", name, def, got))
		}
	}

	check("engagement.clicks", defaults.Engagement.Clicks, loaded.Engagement.Clicks)
	check("engagement.likes", defaults.Engagement.Likes, loaded.Engagement.Likes)
	check("engagement.views", defaults.Engagement.Views, loaded.Engagement.Views)
	check("decay.freshness_window_days", defaults.Decay.FreshnessWindowDays, loaded.Decay.FreshnessWindowDays)
	check("decay.click_grace_days", defaults.Decay.ClickGraceDays, loaded.Decay.ClickGraceDays)
	check("decay.click_decay_days", defaults.Decay.ClickDecayDays, loaded.Decay.ClickDecayDays)
	check("blend.base", defaults.Blend.Base, loaded.Blend.Base)
	check("blend.freshness", defaults.Blend.Freshness, loaded.Blend.Freshness)
	check("blend.recent_click", defaults.Blend.RecentClick, loaded.Blend.RecentClick)
	check("blend.seller_base", defaults.Blend.SellerBase, loaded.Blend.SellerBase)
	check("blend.seller", defaults.Blend.Seller, loaded.Blend.Seller)
	check("seller.neutral", defaults.Seller.Neutral, loaded.Seller.Neutral)
	check("seller.confidence_ratings", defaults.Seller.ConfidenceRatings, loaded.Seller.ConfidenceRatings)
	check("seller.rating_scale", defaults.Seller.RatingScale, loaded.Seller.RatingScale)

	if len(overrides) > 0 {
		slog.Info("loaded ranking calibration with overrides",
			"overrides", overrides)
	} else {
		slog.Info("loaded ranking calibration (using all defaults)")
	}
}
