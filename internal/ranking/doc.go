// Package ranking orders the products of a scope: active manual placements
// first, then every other active product by a decaying engagement score.
//
// Basic Usage:
//
//	// Load calibration (typically at startup)
//	weights, err := ranking.LoadCalibration("configs/ranking.calibration.json")
//	if err != nil {
//		log.Warn("using default weights", "error", err)
//	}
//
//	agg := ranking.NewAggregator(source, placements, ranking.AggregatorConfig{Weights: weights})
//	r, err := agg.Rank(ctx, "US", time.Now())
//
// Scoring:
//
// Score is a pure function of an engagement snapshot and the current time.
// It is finite and non-negative for every input and non-decreasing in
// freshness, recent clicks, clicks, likes and seller quality. Breakdown
// returns every intermediate factor for diagnostics.
//
// Calibration:
//
// Coefficients can be tuned at deploy time with a JSON calibration file
// loaded at startup. Partial files are merged over the defaults; see
// configs/ranking.calibration.json for the default configuration.
package ranking
