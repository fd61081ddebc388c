package geotransform

import (
	"context"

	"github.com/sourcegraph/conc/pool"

	"github.com/cascadiabits/bridgealign/affine"
)

// Batches below this size run sequentially; chunking and goroutines cost
// more than they save.
const smallBatchThreshold = 32

// chunk is a half-open [start, end) range over the input slice. Chunks are
// cut from contiguous runs of cache misses, so a chunk always addresses a
// contiguous slice of both the input and the result buffer.
type chunk struct {
	start int
	end   int
}

// TransformBatch corrects an ordered sequence of [lat, lon] points.
// The result is always index-aligned with the input: result[i] is the
// corrected points[i], regardless of chunking or completion order. Each
// chunk writes into its preallocated result slots directly, never by
// appending in completion order.
//
// The call is atomic from the caller's side: a full result or the first
// error, never partial output.
func (e *Engine) TransformBatch(ctx context.Context, points [][2]float64, source, target affine.CoordinateSystem, bridgeID string) ([][2]float64, error) {
	if len(points) == 0 {
		return [][2]float64{}, nil
	}
	if len(points) < smallBatchThreshold {
		return e.transformSequential(ctx, points, source, target, bridgeID)
	}

	key := affine.MatrixKey{Source: source, Target: target, BridgeID: bridgeID}
	// one synchronous resolution per batch, outside the parallel region
	m := e.ResolveMatrix(source, target, bridgeID)

	out := make([][2]float64, len(points))
	pending := make([]int, 0, len(points))
	if e.cache.PointCacheEnabled() {
		for i, p := range points {
			if v, ok := e.cache.GetPoint(e.cache.PointKeyFor(p[0], p[1])); ok {
				out[i] = v
			} else {
				pending = append(pending, i)
			}
		}
	} else {
		for i := range points {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		// fully warm, no goroutines spawned
		return out, nil
	}

	chunks := cutChunks(pending, e.chunkSize)
	if len(chunks) == 1 {
		if err := e.transformChunk(key, m, points, out, chunks[0]); err != nil {
			return nil, err
		}
		return out, nil
	}

	workers := pool.New().WithMaxGoroutines(e.concurrencyCap).WithContext(ctx).WithCancelOnError()
	for _, ch := range chunks {
		workers.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return e.transformChunk(key, m, points, out, ch)
		})
	}
	if err := workers.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// cutChunks splits the contiguous runs of pending indices into chunks of
// at most chunkSize.
func cutChunks(pending []int, chunkSize int) []chunk {
	var chunks []chunk
	runStart := 0
	for i := 1; i <= len(pending); i++ {
		if i < len(pending) && pending[i] == pending[i-1]+1 {
			continue
		}
		// run is pending[runStart:i]
		start := pending[runStart]
		end := pending[i-1] + 1
		for s := start; s < end; s += chunkSize {
			c := chunk{start: s, end: s + chunkSize}
			if c.end > end {
				c.end = end
			}
			chunks = append(chunks, c)
		}
		runStart = i
	}
	return chunks
}

func (e *Engine) transformChunk(key affine.MatrixKey, m affine.TransformationMatrix, points, out [][2]float64, ch chunk) error {
	if m.HasRotation() {
		// rotation makes the lat/lon lanes interdependent, scalar fallback
		for i := ch.start; i < ch.end; i++ {
			lat, lon := m.Apply(points[i][0], points[i][1])
			if !finite(lat) || !finite(lon) {
				return &TransformError{Key: key, Reason: "corrected coordinates are not finite"}
			}
			out[i] = [2]float64{lat, lon}
		}
	} else {
		applyVectorized(m, points[ch.start:ch.end], out[ch.start:ch.end])
		for i := ch.start; i < ch.end; i++ {
			if !finite(out[i][0]) || !finite(out[i][1]) {
				return &TransformError{Key: key, Reason: "corrected coordinates are not finite"}
			}
		}
	}
	if e.cache.PointCacheEnabled() {
		for i := ch.start; i < ch.end; i++ {
			e.cache.SetPoint(e.cache.PointKeyFor(points[i][0], points[i][1]), out[i])
		}
	}
	return nil
}

// applyVectorized is the zero-rotation fast path: translate then scale as
// bulk elementwise passes over separate lat and lon lanes. It must agree
// with TransformationMatrix.Apply to within float64 rounding.
func applyVectorized(m affine.TransformationMatrix, src, dst [][2]float64) {
	lats := make([]float64, len(src))
	lons := make([]float64, len(src))
	for i := range src {
		lats[i] = src[i][0]
		lons[i] = src[i][1]
	}
	for i := range lats {
		lats[i] = (lats[i] + m.LatOffset) * m.LatScale
	}
	for i := range lons {
		lons[i] = (lons[i] + m.LonOffset) * m.LonScale
	}
	for i := range dst {
		dst[i] = [2]float64{lats[i], lons[i]}
	}
}

func (e *Engine) transformSequential(ctx context.Context, points [][2]float64, source, target affine.CoordinateSystem, bridgeID string) ([][2]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := affine.MatrixKey{Source: source, Target: target, BridgeID: bridgeID}
	m := e.ResolveMatrix(source, target, bridgeID)

	out := make([][2]float64, len(points))
	for i, p := range points {
		pk := e.cache.PointKeyFor(p[0], p[1])
		if v, ok := e.cache.GetPoint(pk); ok {
			out[i] = v
			continue
		}
		lat, lon := m.Apply(p[0], p[1])
		if !finite(lat) || !finite(lon) {
			return nil, &TransformError{Key: key, Reason: "corrected coordinates are not finite"}
		}
		out[i] = [2]float64{lat, lon}
		e.cache.SetPoint(pk, out[i])
	}
	return out, nil
}
