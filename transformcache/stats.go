package transformcache

import "github.com/puzpuzpuz/xsync/v3"

// Stats is a snapshot of the cache counters. All counters are monotonic.
type Stats struct {
	MatrixHits      int64 `json:"matrix_hits"`
	MatrixMisses    int64 `json:"matrix_misses"`
	PointHits       int64 `json:"point_hits"`
	PointMisses     int64 `json:"point_misses"`
	MatrixEvictions int64 `json:"matrix_evictions"`
	PointEvictions  int64 `json:"point_evictions"`
}

// counters are striped so hot readers on the batch path never contend on a
// single cache line.
type counters struct {
	matrixHits      *xsync.Counter
	matrixMisses    *xsync.Counter
	pointHits       *xsync.Counter
	pointMisses     *xsync.Counter
	matrixEvictions *xsync.Counter
	pointEvictions  *xsync.Counter
}

func newCounters() *counters {
	return &counters{
		matrixHits:      xsync.NewCounter(),
		matrixMisses:    xsync.NewCounter(),
		pointHits:       xsync.NewCounter(),
		pointMisses:     xsync.NewCounter(),
		matrixEvictions: xsync.NewCounter(),
		pointEvictions:  xsync.NewCounter(),
	}
}

func (c *counters) snapshot() Stats {
	return Stats{
		MatrixHits:      c.matrixHits.Value(),
		MatrixMisses:    c.matrixMisses.Value(),
		PointHits:       c.pointHits.Value(),
		PointMisses:     c.pointMisses.Value(),
		MatrixEvictions: c.matrixEvictions.Value(),
		PointEvictions:  c.pointEvictions.Value(),
	}
}
