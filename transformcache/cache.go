// Package transformcache holds the two-tier in-memory cache for the
// coordinate corrector: a bounded LRU of correction matrices and a bounded,
// TTL-governed LRU of per-point transform results. Both tiers share one set
// of hit/miss/eviction counters.
package transformcache

import (
	"fmt"
	"math"
	"time"

	"github.com/cascadiabits/bridgealign/affine"
)

// Config is constructed once at startup and threaded through; the cache
// never reads the environment.
type Config struct {
	MatrixCapacity    int
	PointCapacity     int
	PointTTL          time.Duration
	EnablePointCache  bool
	QuantizePrecision int
}

func DefaultConfig() Config {
	return Config{
		MatrixCapacity:    128,
		PointCapacity:     8192,
		PointTTL:          5 * time.Minute,
		EnablePointCache:  true,
		QuantizePrecision: 5,
	}
}

func (cfg Config) validate() error {
	if cfg.MatrixCapacity <= 0 {
		return fmt.Errorf("matrix capacity must be positive, got %d", cfg.MatrixCapacity)
	}
	if cfg.EnablePointCache && cfg.PointCapacity <= 0 {
		return fmt.Errorf("point capacity must be positive, got %d", cfg.PointCapacity)
	}
	if cfg.EnablePointCache && cfg.PointTTL <= 0 {
		return fmt.Errorf("point ttl must be positive, got %s", cfg.PointTTL)
	}
	if cfg.QuantizePrecision < 0 || cfg.QuantizePrecision > 12 {
		return fmt.Errorf("quantize precision out of range: %d", cfg.QuantizePrecision)
	}
	return nil
}

// PointKey indexes the point tier. It is the input coordinates rounded to
// the configured number of decimal digits, so near-duplicate points share
// one entry. The quantization is deliberately lossy.
type PointKey struct {
	Lat int64
	Lon int64
}

type Cache struct {
	cfg      Config
	quantum  float64
	counters *counters

	matrices *tier[affine.MatrixKey, affine.TransformationMatrix]
	points   *tier[PointKey, [2]float64]
}

func New(cfg Config) (*Cache, error) {
	return newWithClock(cfg, time.Now)
}

// newWithClock lets tests drive TTL expiry without sleeping.
func newWithClock(cfg Config, now func() time.Time) (*Cache, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("transformcache config: %w", err)
	}
	c := &Cache{
		cfg:      cfg,
		quantum:  math.Pow(10, float64(cfg.QuantizePrecision)),
		counters: newCounters(),
	}
	c.matrices = newTier[affine.MatrixKey, affine.TransformationMatrix](
		cfg.MatrixCapacity, 0, now,
		c.counters.matrixHits, c.counters.matrixMisses, c.counters.matrixEvictions,
	)
	if cfg.EnablePointCache {
		c.points = newTier[PointKey, [2]float64](
			cfg.PointCapacity, cfg.PointTTL, now,
			c.counters.pointHits, c.counters.pointMisses, c.counters.pointEvictions,
		)
	}
	return c, nil
}

// PointKeyFor quantizes raw coordinates into a point-cache key. It is a
// pure function of the quantization config: identical inputs always land
// on the same entry regardless of cache state.
func (c *Cache) PointKeyFor(lat, lon float64) PointKey {
	return PointKey{
		Lat: int64(math.Round(lat * c.quantum)),
		Lon: int64(math.Round(lon * c.quantum)),
	}
}

func (c *Cache) GetMatrix(key affine.MatrixKey) (affine.TransformationMatrix, bool) {
	return c.matrices.get(key)
}

func (c *Cache) SetMatrix(key affine.MatrixKey, m affine.TransformationMatrix) {
	c.matrices.set(key, m)
}

// GetPoint returns a cached transform result. With the point tier disabled
// every lookup reports a miss without touching the counters.
func (c *Cache) GetPoint(key PointKey) ([2]float64, bool) {
	if c.points == nil {
		return [2]float64{}, false
	}
	return c.points.get(key)
}

func (c *Cache) SetPoint(key PointKey, value [2]float64) {
	if c.points == nil {
		return
	}
	c.points.set(key, value)
}

// PointCacheEnabled reports whether the point tier is active.
func (c *Cache) PointCacheEnabled() bool {
	return c.points != nil
}

func (c *Cache) MatrixLen() int {
	return c.matrices.len()
}

func (c *Cache) PointLen() int {
	if c.points == nil {
		return 0
	}
	return c.points.len()
}

// Stats returns a snapshot of the shared counters.
func (c *Cache) Stats() Stats {
	return c.counters.snapshot()
}
