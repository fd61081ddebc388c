package geotransform_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/cascadiabits/bridgealign/affine"
	"github.com/cascadiabits/bridgealign/geotransform"
	"github.com/cascadiabits/bridgealign/transformcache"
)

func testCalculator(t *testing.T, forward affine.TransformationMatrix) *affine.Calculator {
	t.Helper()
	calc, err := affine.NewCalculator(map[[2]affine.CoordinateSystem]affine.TransformationMatrix{
		{affine.SystemSDOTFeed, affine.SystemReference}: forward,
		{affine.SystemReference, affine.SystemSDOTFeed}: affine.Identity(),
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	return calc
}

func testCache(t *testing.T, pointCache bool) *transformcache.Cache {
	t.Helper()
	cfg := transformcache.DefaultConfig()
	cfg.EnablePointCache = pointCache
	cfg.PointCapacity = 1 << 16
	cache, err := transformcache.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return cache
}

func newTestEngine(t *testing.T, forward affine.TransformationMatrix, pointCache bool, opts ...geotransform.Option) *geotransform.Engine {
	t.Helper()
	engine, err := geotransform.NewEngine(testCalculator(t, forward), testCache(t, pointCache), opts...)
	if err != nil {
		t.Fatal(err)
	}
	return engine
}

func gridPoints(n int) [][2]float64 {
	points := make([][2]float64, n)
	for i := range points {
		points[i] = [2]float64{47.5 + float64(i)*1e-4, -122.4 + float64(i)*1e-4}
	}
	return points
}

func TestTransformPointIdentity(t *testing.T) {
	engine := newTestEngine(t, affine.Identity(), true)

	res, err := engine.TransformPoint(context.Background(), 47.6, -122.3, affine.SystemReference, affine.SystemReference, "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Lat != 47.6 || res.Lon != -122.3 {
		t.Fatalf("expected input unchanged, got (%v, %v)", res.Lat, res.Lon)
	}
}

func TestTransformPointConfidence(t *testing.T) {
	calc, err := affine.SeattleCalculator()
	if err != nil {
		t.Fatal(err)
	}
	engine, err := geotransform.NewEngine(calc, testCache(t, true))
	if err != nil {
		t.Fatal(err)
	}

	res, err := engine.TransformPoint(context.Background(), 47.542213, -122.334465,
		affine.SystemSDOTFeed, affine.SystemReference, affine.BridgeSouthPark)
	if err != nil {
		t.Fatal(err)
	}
	if res.Confidence != 1.0 {
		t.Fatalf("expected override confidence 1.0, got %v", res.Confidence)
	}

	res, err = engine.TransformPoint(context.Background(), 47.571923, -122.350655,
		affine.SystemSDOTFeed, affine.SystemReference, affine.BridgeSpokaneSt)
	if err != nil {
		t.Fatal(err)
	}
	if res.Confidence != 0.85 {
		t.Fatalf("expected default confidence 0.85, got %v", res.Confidence)
	}
}

func TestTransformPointNonFinite(t *testing.T) {
	engine := newTestEngine(t, affine.Identity(), true)

	for _, bad := range [][2]float64{
		{math.NaN(), -122.3},
		{47.6, math.Inf(1)},
	} {
		_, err := engine.TransformPoint(context.Background(), bad[0], bad[1], affine.SystemSDOTFeed, affine.SystemReference, "")
		var terr *geotransform.TransformError
		if !errors.As(err, &terr) {
			t.Fatalf("expected TransformError for %v, got %v", bad, err)
		}
	}
}

func TestBatchEmptyInput(t *testing.T) {
	engine := newTestEngine(t, affine.Identity(), true)

	out, err := engine.TransformBatch(context.Background(), nil, affine.SystemSDOTFeed, affine.SystemReference, "")
	if err != nil {
		t.Fatal(err)
	}
	if out == nil || len(out) != 0 {
		t.Fatalf("expected empty non-nil result, got %v", out)
	}
}

func TestBatchOrderPreservation(t *testing.T) {
	const latOffset = 0.001
	forward := affine.TransformationMatrix{LatOffset: latOffset, LatScale: 1, LonScale: 1}
	engine := newTestEngine(t, forward, false,
		geotransform.WithChunkSize(256),
		geotransform.WithConcurrencyCap(2),
	)

	points := gridPoints(4096)
	out, err := engine.TransformBatch(context.Background(), points, affine.SystemSDOTFeed, affine.SystemReference, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != len(points) {
		t.Fatalf("expected %d results, got %d", len(points), len(out))
	}
	for i, p := range points {
		want := p[0] + latOffset
		if math.Abs(out[i][0]-want) > 1e-12 || out[i][1] != p[1] {
			t.Fatalf("index %d misaligned: input %v, output %v", i, p, out[i])
		}
	}
}

func TestBatchMatchesScalarApply(t *testing.T) {
	forward := affine.TransformationMatrix{
		LatOffset: 0.0003170,
		LonOffset: -0.0004125,
		LatScale:  1.0000012,
		LonScale:  0.9999987,
	}
	engine := newTestEngine(t, forward, false)

	points := gridPoints(2048)
	out, err := engine.TransformBatch(context.Background(), points, affine.SystemSDOTFeed, affine.SystemReference, "")
	if err != nil {
		t.Fatal(err)
	}
	for i, p := range points {
		lat, lon := forward.Apply(p[0], p[1])
		if math.Abs(out[i][0]-lat) > 1e-12 || math.Abs(out[i][1]-lon) > 1e-12 {
			t.Fatalf("index %d: batch (%v, %v) vs scalar (%v, %v)", i, out[i][0], out[i][1], lat, lon)
		}
	}
}

func TestBatchRotation(t *testing.T) {
	forward := affine.TransformationMatrix{LatScale: 1, LonScale: 1, RotationDegrees: 30}
	engine := newTestEngine(t, forward, false)

	points := gridPoints(64)
	out, err := engine.TransformBatch(context.Background(), points, affine.SystemSDOTFeed, affine.SystemReference, "")
	if err != nil {
		t.Fatal(err)
	}

	rad := 30 * math.Pi / 180
	sin, cos := math.Sin(rad), math.Cos(rad)
	for i, p := range points {
		wantLat := p[0]*cos - p[1]*sin
		wantLon := p[0]*sin + p[1]*cos
		if math.Abs(out[i][0]-wantLat) > 1e-9 || math.Abs(out[i][1]-wantLon) > 1e-9 {
			t.Fatalf("index %d: got (%v, %v), want (%v, %v)", i, out[i][0], out[i][1], wantLat, wantLon)
		}
	}
}

func TestBatchWarmCacheShortCircuit(t *testing.T) {
	engine := newTestEngine(t, affine.Identity(), true)

	points := gridPoints(256)
	first, err := engine.TransformBatch(context.Background(), points, affine.SystemSDOTFeed, affine.SystemReference, "")
	if err != nil {
		t.Fatal(err)
	}

	before := engine.Cache().Stats()
	second, err := engine.TransformBatch(context.Background(), points, affine.SystemSDOTFeed, affine.SystemReference, "")
	if err != nil {
		t.Fatal(err)
	}
	after := engine.Cache().Stats()

	if after.PointHits-before.PointHits != int64(len(points)) {
		t.Fatalf("expected %d point hits, got %d", len(points), after.PointHits-before.PointHits)
	}
	for i := range points {
		if first[i] != second[i] {
			t.Fatalf("index %d: warm result %v differs from cold %v", i, second[i], first[i])
		}
	}
}

func TestBatchPartiallyWarm(t *testing.T) {
	const latOffset = 0.002
	forward := affine.TransformationMatrix{LatOffset: latOffset, LatScale: 1, LonScale: 1}
	engine := newTestEngine(t, forward, true,
		geotransform.WithChunkSize(16),
		geotransform.WithConcurrencyCap(3),
	)

	points := gridPoints(512)
	// warm a scattered subset so the pending indices have holes
	for i := 0; i < len(points); i += 7 {
		_, err := engine.TransformPoint(context.Background(), points[i][0], points[i][1],
			affine.SystemSDOTFeed, affine.SystemReference, "")
		if err != nil {
			t.Fatal(err)
		}
	}

	out, err := engine.TransformBatch(context.Background(), points, affine.SystemSDOTFeed, affine.SystemReference, "")
	if err != nil {
		t.Fatal(err)
	}
	for i, p := range points {
		want := p[0] + latOffset
		if math.Abs(out[i][0]-want) > 1e-12 {
			t.Fatalf("index %d misaligned: got %v, want lat %v", i, out[i], want)
		}
	}
}

func TestBatchCancelledContext(t *testing.T) {
	engine := newTestEngine(t, affine.Identity(), false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := engine.TransformBatch(ctx, gridPoints(4096), affine.SystemSDOTFeed, affine.SystemReference, "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type fakeStore struct {
	matrices map[affine.MatrixKey]affine.TransformationMatrix
	saves    map[affine.MatrixKey]int
	top      []affine.MatrixKey
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		matrices: map[affine.MatrixKey]affine.TransformationMatrix{},
		saves:    map[affine.MatrixKey]int{},
	}
}

func (f *fakeStore) Load(key affine.MatrixKey) (affine.TransformationMatrix, bool) {
	m, ok := f.matrices[key]
	return m, ok
}

func (f *fakeStore) Save(key affine.MatrixKey, m affine.TransformationMatrix) error {
	f.matrices[key] = m
	f.saves[key]++
	return nil
}

func (f *fakeStore) TopN(n int) []affine.MatrixKey {
	if n > len(f.top) {
		n = len(f.top)
	}
	return f.top[:n]
}

func TestResolveMatrixWritesThroughOnce(t *testing.T) {
	store := newFakeStore()
	engine := newTestEngine(t, affine.Identity(), false, geotransform.WithStore(store))

	key := affine.MatrixKey{Source: affine.SystemSDOTFeed, Target: affine.SystemReference, BridgeID: "ballard"}
	for i := 0; i < 5; i++ {
		_, err := engine.TransformBatch(context.Background(), gridPoints(64),
			affine.SystemSDOTFeed, affine.SystemReference, "ballard")
		if err != nil {
			t.Fatal(err)
		}
	}
	if store.saves[key] != 1 {
		t.Fatalf("expected one store write per distinct key, got %d", store.saves[key])
	}
}

func TestPrewarm(t *testing.T) {
	store := newFakeStore()
	keys := make([]affine.MatrixKey, 4)
	for i := range keys {
		keys[i] = affine.MatrixKey{
			Source:   affine.SystemSDOTFeed,
			Target:   affine.SystemReference,
			BridgeID: fmt.Sprintf("b%d", i),
		}
		store.top = append(store.top, keys[i])
		if i < 3 {
			store.matrices[keys[i]] = affine.Identity()
		}
	}

	engine := newTestEngine(t, affine.Identity(), false, geotransform.WithStore(store))

	res := engine.Prewarm(false, store, 10)
	if res.Attempted != 0 || res.Loaded != 0 {
		t.Fatalf("disabled prewarm must be a no-op, got %+v", res)
	}
	if engine.Cache().MatrixLen() != 0 {
		t.Fatalf("expected empty cache after disabled prewarm")
	}

	res = engine.Prewarm(true, store, 10)
	if res.Attempted != 4 {
		t.Fatalf("expected 4 attempted, got %d", res.Attempted)
	}
	if res.Loaded != 3 {
		t.Fatalf("expected 3 loaded, got %d", res.Loaded)
	}
	if engine.Cache().MatrixLen() != 3 {
		t.Fatalf("expected 3 cached matrices, got %d", engine.Cache().MatrixLen())
	}

	// warming again is idempotent
	res = engine.Prewarm(true, store, 10)
	if engine.Cache().MatrixLen() != 3 {
		t.Fatalf("expected idempotent prewarm, got %d cached", engine.Cache().MatrixLen())
	}
}

func TestNewEngineValidation(t *testing.T) {
	cache := testCache(t, true)
	calc := testCalculator(t, affine.Identity())

	if _, err := geotransform.NewEngine(nil, cache); err == nil {
		t.Fatalf("expected error for nil calculator")
	}
	if _, err := geotransform.NewEngine(calc, nil); err == nil {
		t.Fatalf("expected error for nil cache")
	}
	if _, err := geotransform.NewEngine(calc, cache, geotransform.WithChunkSize(0)); err == nil {
		t.Fatalf("expected error for zero chunk size")
	}
	if _, err := geotransform.NewEngine(calc, cache, geotransform.WithConcurrencyCap(-1)); err == nil {
		t.Fatalf("expected error for negative concurrency cap")
	}
}
