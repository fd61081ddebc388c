package geotransform

import (
	"time"

	"github.com/cascadiabits/bridgealign/affine"
)

// WarmSource is the slice of the matrix store the prewarmer needs.
type WarmSource interface {
	TopN(n int) []affine.MatrixKey
	Load(key affine.MatrixKey) (affine.TransformationMatrix, bool)
}

// PrewarmResult summarizes one prewarm run. Loaded <= Attempted is the
// only contract; the caller logs the delta.
type PrewarmResult struct {
	Attempted int
	Loaded    int
	Duration  time.Duration
}

func (r PrewarmResult) DurationSeconds() float64 {
	return r.Duration.Seconds()
}

// Prewarm pulls up to topN of the most-used keys from the store and hands
// every matrix that loads cleanly to cacheSet. It runs once at startup,
// before live traffic; partial failure is not fatal and it is never
// retried automatically.
func Prewarm(enabled bool, src WarmSource, topN int, cacheSet func(affine.MatrixKey, affine.TransformationMatrix)) PrewarmResult {
	if !enabled || src == nil || topN <= 0 {
		return PrewarmResult{}
	}

	start := time.Now()
	keys := src.TopN(topN)
	result := PrewarmResult{Attempted: len(keys)}
	for _, key := range keys {
		m, ok := src.Load(key)
		if !ok {
			continue
		}
		cacheSet(key, m)
		result.Loaded++
	}
	result.Duration = time.Since(start)
	return result
}

// Prewarm preloads the engine's matrix cache from the store and logs the
// report.
func (e *Engine) Prewarm(enabled bool, src WarmSource, topN int) PrewarmResult {
	result := Prewarm(enabled, src, topN, e.cache.SetMatrix)
	e.log.Info("matrix cache prewarm finished",
		"attempted", result.Attempted,
		"loaded", result.Loaded,
		"duration_seconds", result.DurationSeconds(),
	)
	return result
}
