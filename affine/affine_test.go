package affine_test

import (
	"math"
	"testing"

	"github.com/cascadiabits/bridgealign/affine"
)

func TestMatrixKeyRoundTrip(t *testing.T) {
	keys := []affine.MatrixKey{
		{Source: affine.SystemSDOTFeed, Target: affine.SystemReference, BridgeID: affine.BridgeBallard},
		{Source: affine.SystemReference, Target: affine.SystemSDOTFeed, BridgeID: ""},
		{Source: affine.SystemSDOTFeed, Target: affine.SystemReference, BridgeID: "bridge|with|pipes"},
	}
	for _, key := range keys {
		parsed, err := affine.ParseMatrixKey(key.String())
		if err != nil {
			t.Fatalf("parse %q: %v", key.String(), err)
		}
		if parsed != key {
			t.Fatalf("expected %v, got %v", key, parsed)
		}
	}
}

func TestParseMatrixKeyMalformed(t *testing.T) {
	for _, s := range []string{"", "sdot_feed", "sdot_feed|reference", "bogus|reference|x"} {
		if _, err := affine.ParseMatrixKey(s); err == nil {
			t.Fatalf("expected error for %q, got nil", s)
		}
	}
}

func TestIdentityApply(t *testing.T) {
	m := affine.Identity()
	if !m.IsIdentity() {
		t.Fatalf("expected identity")
	}
	lat, lon := m.Apply(47.6, -122.3)
	if lat != 47.6 || lon != -122.3 {
		t.Fatalf("expected (47.6, -122.3), got (%v, %v)", lat, lon)
	}
}

func TestApplyTranslateScale(t *testing.T) {
	m := affine.TransformationMatrix{
		LatOffset: 0.5,
		LonOffset: -0.25,
		LatScale:  2,
		LonScale:  4,
	}
	lat, lon := m.Apply(1, 1)
	if lat != 3 || lon != 3 {
		t.Fatalf("expected (3, 3), got (%v, %v)", lat, lon)
	}
}

func TestApplyRotation(t *testing.T) {
	// 90 degrees maps (1, 0) to (0, 1)
	m := affine.TransformationMatrix{LatScale: 1, LonScale: 1, RotationDegrees: 90}
	lat, lon := m.Apply(1, 0)
	if math.Abs(lat) > 1e-12 || math.Abs(lon-1) > 1e-12 {
		t.Fatalf("expected (0, 1), got (%v, %v)", lat, lon)
	}
}

func TestCalculatorResolution(t *testing.T) {
	calc, err := affine.SeattleCalculator()
	if err != nil {
		t.Fatalf("expected calculator, got error: %v", err)
	}

	def := calc.Calculate(affine.SystemSDOTFeed, affine.SystemReference, "")
	if def.IsIdentity() {
		t.Fatalf("expected pair default, got identity")
	}

	// spokane_st has no override, must fall back to the pair default
	fallback := calc.Calculate(affine.SystemSDOTFeed, affine.SystemReference, affine.BridgeSpokaneSt)
	if fallback != def {
		t.Fatalf("expected pair default for spokane_st, got %v", fallback)
	}
	if calc.HasOverride(affine.SystemSDOTFeed, affine.SystemReference, affine.BridgeSpokaneSt) {
		t.Fatalf("expected no override for spokane_st")
	}

	over := calc.Calculate(affine.SystemSDOTFeed, affine.SystemReference, affine.BridgeBallard)
	if over == def {
		t.Fatalf("expected ballard override to differ from the default")
	}
	if !calc.HasOverride(affine.SystemSDOTFeed, affine.SystemReference, affine.BridgeBallard) {
		t.Fatalf("expected ballard override")
	}

	same := calc.Calculate(affine.SystemReference, affine.SystemReference, "")
	if !same.IsIdentity() {
		t.Fatalf("expected identity for same-system transform, got %v", same)
	}
}

func TestNewCalculatorRejectsBadTables(t *testing.T) {
	_, err := affine.NewCalculator(nil, nil)
	if err == nil {
		t.Fatalf("expected error for missing pair defaults")
	}

	defaults := affine.SeattleDefaults()
	_, err = affine.NewCalculator(defaults, map[affine.MatrixKey]affine.TransformationMatrix{
		{Source: affine.SystemSDOTFeed, Target: affine.SystemReference}: affine.Identity(),
	})
	if err == nil {
		t.Fatalf("expected error for override without bridge id")
	}
}

func TestSeattleDefaultsInverse(t *testing.T) {
	calc, err := affine.SeattleCalculator()
	if err != nil {
		t.Fatal(err)
	}
	forward := calc.Calculate(affine.SystemSDOTFeed, affine.SystemReference, "")
	reverse := calc.Calculate(affine.SystemReference, affine.SystemSDOTFeed, "")

	lat, lon := forward.Apply(47.542213, -122.334465)
	lat, lon = reverse.Apply(lat, lon)
	if math.Abs(lat-47.542213) > 1e-9 || math.Abs(lon+122.334465) > 1e-9 {
		t.Fatalf("round trip drifted: got (%v, %v)", lat, lon)
	}
}
