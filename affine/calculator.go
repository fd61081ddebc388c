package affine

import "fmt"

type pair struct {
	source CoordinateSystem
	target CoordinateSystem
}

// Calculator resolves correction matrices. It is pure after construction:
// Calculate never touches I/O and never fails for a normal lookup.
//
// Resolution order: bridge-specific override, then system-pair default,
// then identity for source == target. Every cross-system pair must have a
// default registered at construction time; a missing pair is a
// configuration error surfaced by NewCalculator, not a runtime failure.
type Calculator struct {
	defaults  map[pair]TransformationMatrix
	overrides map[MatrixKey]TransformationMatrix
}

func NewCalculator(
	defaults map[[2]CoordinateSystem]TransformationMatrix,
	overrides map[MatrixKey]TransformationMatrix,
) (*Calculator, error) {
	c := &Calculator{
		defaults:  make(map[pair]TransformationMatrix, len(defaults)),
		overrides: make(map[MatrixKey]TransformationMatrix, len(overrides)),
	}
	for p, m := range defaults {
		c.defaults[pair{source: p[0], target: p[1]}] = m
	}
	for k, m := range overrides {
		if k.BridgeID == "" {
			return nil, fmt.Errorf("override for %s|%s has no bridge id", k.Source, k.Target)
		}
		c.overrides[k] = m
	}
	for _, source := range Systems() {
		for _, target := range Systems() {
			if source == target {
				continue
			}
			if _, ok := c.defaults[pair{source: source, target: target}]; !ok {
				return nil, fmt.Errorf("missing default matrix for pair %s -> %s", source, target)
			}
		}
	}
	return c, nil
}

// Calculate resolves the matrix for (source, target, bridgeID). Absence of
// a bridge override is not a failure; the pair default applies.
func (c *Calculator) Calculate(source, target CoordinateSystem, bridgeID string) TransformationMatrix {
	if bridgeID != "" {
		if m, ok := c.overrides[MatrixKey{Source: source, Target: target, BridgeID: bridgeID}]; ok {
			return m
		}
	}
	if m, ok := c.defaults[pair{source: source, target: target}]; ok {
		return m
	}
	// construction guarantees all cross-system pairs exist
	return Identity()
}

// HasOverride reports whether a bridge-specific override is registered.
func (c *Calculator) HasOverride(source, target CoordinateSystem, bridgeID string) bool {
	if bridgeID == "" {
		return false
	}
	_, ok := c.overrides[MatrixKey{Source: source, Target: target, BridgeID: bridgeID}]
	return ok
}
