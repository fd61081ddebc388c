// Package geotransform is the coordinate-correction engine: it resolves
// affine correction matrices through the two-tier cache, applies them to
// single points and to large ordered batches, and feeds usage metadata to
// the durable matrix store.
package geotransform

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/cascadiabits/bridgealign/affine"
	"github.com/cascadiabits/bridgealign/transformcache"
)

// MatrixStore is the durable persistence the engine writes through. A nil
// store disables persistence entirely.
type MatrixStore interface {
	Load(key affine.MatrixKey) (affine.TransformationMatrix, bool)
	Save(key affine.MatrixKey, m affine.TransformationMatrix) error
}

const (
	defaultChunkSize      = 1024
	defaultConcurrencyCap = 4

	confidenceOverride = 1.0
	confidenceDefault  = 0.85
)

type options struct {
	store          MatrixStore
	logger         *slog.Logger
	chunkSize      int
	concurrencyCap int
}

type Option interface {
	apply(*options)
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) { f(o) }

// WithStore enables durable matrix persistence.
func WithStore(store MatrixStore) Option {
	return optionFunc(func(o *options) { o.store = store })
}

func WithLogger(log *slog.Logger) Option {
	return optionFunc(func(o *options) { o.logger = log })
}

// Default: 1024
func WithChunkSize(n int) Option {
	return optionFunc(func(o *options) { o.chunkSize = n })
}

// Default: 4
func WithConcurrencyCap(n int) Option {
	return optionFunc(func(o *options) { o.concurrencyCap = n })
}

// Engine owns no hidden globals; everything it needs is injected here and
// its lifecycle belongs to whoever constructed it.
type Engine struct {
	calc  *affine.Calculator
	cache *transformcache.Cache
	store MatrixStore
	log   *slog.Logger

	chunkSize      int
	concurrencyCap int
}

func NewEngine(calc *affine.Calculator, cache *transformcache.Cache, opts ...Option) (*Engine, error) {
	if calc == nil {
		return nil, fmt.Errorf("engine requires a calculator")
	}
	if cache == nil {
		return nil, fmt.Errorf("engine requires a cache")
	}
	o := options{
		logger:         slog.Default(),
		chunkSize:      defaultChunkSize,
		concurrencyCap: defaultConcurrencyCap,
	}
	for _, opt := range opts {
		opt.apply(&o)
	}
	if o.chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", o.chunkSize)
	}
	if o.concurrencyCap <= 0 {
		return nil, fmt.Errorf("concurrency cap must be positive, got %d", o.concurrencyCap)
	}
	return &Engine{
		calc:           calc,
		cache:          cache,
		store:          o.store,
		log:            o.logger,
		chunkSize:      o.chunkSize,
		concurrencyCap: o.concurrencyCap,
	}, nil
}

// Cache exposes the engine's cache for stats reporting.
func (e *Engine) Cache() *transformcache.Cache {
	return e.cache
}

// TransformError is a structured transformation failure: the engine never
// substitutes a fallback itself, callers decide.
type TransformError struct {
	Key    affine.MatrixKey
	Reason string
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %s: %s", e.Key, e.Reason)
}

// ResolveMatrix returns the correction matrix for the triple, consulting
// the cache first. On a miss the matrix is computed, cached, and written
// through to the store; store faults are logged and otherwise ignored.
// The store sees one write per distinct key resolution, never one per point.
func (e *Engine) ResolveMatrix(source, target affine.CoordinateSystem, bridgeID string) affine.TransformationMatrix {
	key := affine.MatrixKey{Source: source, Target: target, BridgeID: bridgeID}
	if m, ok := e.cache.GetMatrix(key); ok {
		return m
	}
	m := e.calc.Calculate(source, target, bridgeID)
	e.cache.SetMatrix(key, m)
	if e.store != nil {
		if err := e.store.Save(key, m); err != nil {
			e.log.Warn("matrix store save failed", "key", key.String(), "error", err)
		}
	}
	return m
}

// Result is one corrected point. Confidence reflects how specific the
// applied correction was: a bridge override scores higher than the
// citywide pair default.
type Result struct {
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Confidence float64 `json:"confidence"`
}

// TransformPoint corrects a single coordinate pair.
func (e *Engine) TransformPoint(ctx context.Context, lat, lon float64, source, target affine.CoordinateSystem, bridgeID string) (Result, error) {
	key := affine.MatrixKey{Source: source, Target: target, BridgeID: bridgeID}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if !finite(lat) || !finite(lon) {
		return Result{}, &TransformError{Key: key, Reason: "input coordinates are not finite"}
	}

	confidence := confidenceDefault
	if e.calc.HasOverride(source, target, bridgeID) {
		confidence = confidenceOverride
	}

	pk := e.cache.PointKeyFor(lat, lon)
	if v, ok := e.cache.GetPoint(pk); ok {
		return Result{Lat: v[0], Lon: v[1], Confidence: confidence}, nil
	}

	m := e.ResolveMatrix(source, target, bridgeID)
	outLat, outLon := m.Apply(lat, lon)
	if !finite(outLat) || !finite(outLon) {
		return Result{}, &TransformError{Key: key, Reason: "corrected coordinates are not finite"}
	}
	e.cache.SetPoint(pk, [2]float64{outLat, outLon})
	return Result{Lat: outLat, Lon: outLon, Confidence: confidence}, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
