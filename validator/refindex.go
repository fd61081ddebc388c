package validator

import (
	"math"
	"sync"

	"github.com/paulmach/orb"
	"github.com/tidwall/qtree"
)

// Reference is one canonical drawbridge position in the reference frame.
type Reference struct {
	BridgeID string
	Lat      float64
	Lon      float64
}

// RefIndex answers "which canonical bridge is this point near" for records
// that arrive without a bridge id. The set is small and fixed, but lookups
// sit on the validation hot path, so points are indexed spatially instead
// of scanned.
type RefIndex struct {
	mu   sync.RWMutex
	refs []Reference
	qt   qtree.QTree
}

func NewRefIndex() *RefIndex {
	return &RefIndex{}
}

func (ri *RefIndex) Insert(ref Reference) {
	ri.mu.Lock()
	defer ri.mu.Unlock()

	p := orb.Point{ref.Lon, ref.Lat}
	ri.qt.Insert(p, p, uint64(len(ri.refs)))
	ri.refs = append(ri.refs, ref)
}

// Nearest returns the closest reference within radiusDeg degrees of the
// query point, by squared planar distance. Fine at city scale; the radius
// is a capture box, not a geodesic.
func (ri *RefIndex) Nearest(lat, lon, radiusDeg float64) (Reference, bool) {
	ri.mu.RLock()
	defer ri.mu.RUnlock()

	min := orb.Point{lon - radiusDeg, lat - radiusDeg}
	max := orb.Point{lon + radiusDeg, lat + radiusDeg}

	best := Reference{}
	bestDist := math.Inf(1)
	ri.qt.Search(min, max, func(_, _ [2]float64, data interface{}) bool {
		ref := ri.refs[data.(uint64)]
		d0 := ref.Lat - lat
		d1 := ref.Lon - lon
		if dist := d0*d0 + d1*d1; dist < bestDist {
			best = ref
			bestDist = dist
		}
		return true
	})

	if math.IsInf(bestDist, 1) {
		return Reference{}, false
	}
	return best, true
}

func (ri *RefIndex) Len() int {
	ri.mu.RLock()
	defer ri.mu.RUnlock()
	return len(ri.refs)
}
