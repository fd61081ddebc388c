package affine

import (
	"fmt"
	"math"
	"strings"
)

// CoordinateSystem identifies one of the fixed coordinate systems the
// corrector knows about. The set is closed; new systems require new
// pair defaults in the calculator tables.
type CoordinateSystem uint8

const (
	// SystemSDOTFeed is the upstream open-data drawbridge feed.
	SystemSDOTFeed CoordinateSystem = iota
	// SystemReference is the canonical reference frame the validator trusts.
	SystemReference
)

var systemNames = map[CoordinateSystem]string{
	SystemSDOTFeed:  "sdot_feed",
	SystemReference: "reference",
}

func (s CoordinateSystem) String() string {
	if name, ok := systemNames[s]; ok {
		return name
	}
	return fmt.Sprintf("coordinate_system(%d)", uint8(s))
}

func ParseCoordinateSystem(s string) (CoordinateSystem, error) {
	for sys, name := range systemNames {
		if name == s {
			return sys, nil
		}
	}
	return 0, fmt.Errorf("unknown coordinate system: %q", s)
}

// Systems returns all supported coordinate systems.
func Systems() []CoordinateSystem {
	return []CoordinateSystem{SystemSDOTFeed, SystemReference}
}

// TransformationMatrix is an affine correction: translate by the offsets,
// scale, then rotate when RotationDegrees is non-zero. Values are never
// mutated once constructed.
type TransformationMatrix struct {
	LatOffset       float64
	LonOffset       float64
	LatScale        float64
	LonScale        float64
	RotationDegrees float64
}

func Identity() TransformationMatrix {
	return TransformationMatrix{LatScale: 1, LonScale: 1}
}

func (m TransformationMatrix) IsIdentity() bool {
	return m == Identity()
}

func (m TransformationMatrix) HasRotation() bool {
	return m.RotationDegrees != 0
}

// Apply runs the translate-scale-rotate pipeline on a single point.
func (m TransformationMatrix) Apply(lat, lon float64) (float64, float64) {
	lat = (lat + m.LatOffset) * m.LatScale
	lon = (lon + m.LonOffset) * m.LonScale
	if m.RotationDegrees != 0 {
		sin, cos := math.Sincos(m.RotationDegrees * math.Pi / 180)
		lat, lon = lat*cos-lon*sin, lat*sin+lon*cos
	}
	return lat, lon
}

// MatrixKey identifies which correction matrix to use. An empty BridgeID
// denotes the system-pair default.
type MatrixKey struct {
	Source   CoordinateSystem
	Target   CoordinateSystem
	BridgeID string
}

// String returns the stable store encoding: source|target|bridge.
func (k MatrixKey) String() string {
	return k.Source.String() + "|" + k.Target.String() + "|" + k.BridgeID
}

func ParseMatrixKey(s string) (MatrixKey, error) {
	parts := strings.SplitN(s, "|", 3)
	if len(parts) != 3 {
		return MatrixKey{}, fmt.Errorf("malformed matrix key: %q", s)
	}
	source, err := ParseCoordinateSystem(parts[0])
	if err != nil {
		return MatrixKey{}, err
	}
	target, err := ParseCoordinateSystem(parts[1])
	if err != nil {
		return MatrixKey{}, err
	}
	return MatrixKey{Source: source, Target: target, BridgeID: parts[2]}, nil
}
