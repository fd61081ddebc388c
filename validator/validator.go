// Package validator reconciles incoming drawbridge coordinates against
// expected reference positions: it corrects the incoming point through the
// transform engine, measures the great-circle distance to the expectation,
// and applies the tiered acceptance policy.
package validator

import (
	"context"
	"log/slog"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/cascadiabits/bridgealign/affine"
	"github.com/cascadiabits/bridgealign/geotransform"
)

// Thresholds are the tiered acceptance bounds. Tight and Fallback are
// great-circle meters over corrected coordinates; RawDegrees is the
// last-resort per-axis coordinate-difference bound applied to the raw,
// untransformed input when the transform itself failed.
type Thresholds struct {
	TightMeters    float64
	FallbackMeters float64
	RawDegrees     float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		TightMeters:    500,
		FallbackMeters: 8000,
		RawDegrees:     0.05,
	}
}

// Record is one incoming coordinate report to validate. BridgeID may be
// empty; the reference index then infers the nearest canonical bridge.
type Record struct {
	InputLat    float64 `json:"input_lat"`
	InputLon    float64 `json:"input_lon"`
	ExpectedLat float64 `json:"expected_lat"`
	ExpectedLon float64 `json:"expected_lon"`
	BridgeID    string  `json:"bridge_id,omitempty"`
}

// MismatchFailure carries both coordinate pairs so the consumer can see
// what was compared, not just that it failed.
type MismatchFailure struct {
	Reason      string  `json:"reason"`
	ExpectedLat float64 `json:"expected_lat"`
	ExpectedLon float64 `json:"expected_lon"`
	ActualLat   float64 `json:"actual_lat"`
	ActualLon   float64 `json:"actual_lon"`
}

type Outcome struct {
	Accepted       bool             `json:"accepted"`
	UsedFallback   bool             `json:"used_fallback,omitempty"`
	UsedRawCheck   bool             `json:"used_raw_check,omitempty"`
	TransformOK    bool             `json:"transform_ok"`
	BridgeID       string           `json:"bridge_id,omitempty"`
	DistanceMeters float64          `json:"distance_meters,omitempty"`
	Failure        *MismatchFailure `json:"failure,omitempty"`
}

// refCaptureDeg bounds the bridge-id inference search. ~2km at this latitude.
const refCaptureDeg = 0.02

type Validator struct {
	engine     *geotransform.Engine
	thresholds Thresholds
	refs       *RefIndex
	log        *slog.Logger
}

func New(engine *geotransform.Engine, thresholds Thresholds, refs *RefIndex, log *slog.Logger) *Validator {
	if log == nil {
		log = slog.Default()
	}
	return &Validator{
		engine:     engine,
		thresholds: thresholds,
		refs:       refs,
		log:        log,
	}
}

// Validate corrects the record's input point into the reference system and
// applies the acceptance policy:
//
//  1. distance <= tight: accept;
//  2. distance <= fallback, transform succeeded: accept flagged;
//  3. transform failed: raw coordinate-difference check as a last resort;
//  4. otherwise reject with a mismatch failure carrying both pairs.
//
// A successful low-confidence transform is deliberately tolerated further
// than an outright failure; the two branches are not unified.
func (v *Validator) Validate(ctx context.Context, rec Record) Outcome {
	bridgeID := rec.BridgeID
	if bridgeID == "" && v.refs != nil {
		if ref, ok := v.refs.Nearest(rec.ExpectedLat, rec.ExpectedLon, refCaptureDeg); ok {
			bridgeID = ref.BridgeID
		}
	}

	res, err := v.engine.TransformPoint(ctx, rec.InputLat, rec.InputLon, affine.SystemSDOTFeed, affine.SystemReference, bridgeID)
	if err != nil {
		v.log.WarnContext(ctx, "transform failed, falling back to raw coordinate check",
			"bridge_id", bridgeID, "error", err)
		return v.rawCheck(rec, bridgeID)
	}

	dist := geo.DistanceHaversine(
		orb.Point{res.Lon, res.Lat},
		orb.Point{rec.ExpectedLon, rec.ExpectedLat},
	)
	outcome := Outcome{
		TransformOK:    true,
		BridgeID:       bridgeID,
		DistanceMeters: dist,
	}
	switch {
	case dist <= v.thresholds.TightMeters:
		outcome.Accepted = true
	case dist <= v.thresholds.FallbackMeters:
		outcome.Accepted = true
		outcome.UsedFallback = true
	default:
		v.log.WarnContext(ctx, "transform succeeded but distance exceeded thresholds",
			"bridge_id", bridgeID, "distance_meters", dist)
		outcome.Failure = &MismatchFailure{
			Reason:      "geospatial mismatch",
			ExpectedLat: rec.ExpectedLat,
			ExpectedLon: rec.ExpectedLon,
			ActualLat:   res.Lat,
			ActualLon:   res.Lon,
		}
	}
	return outcome
}

func (v *Validator) rawCheck(rec Record, bridgeID string) Outcome {
	outcome := Outcome{BridgeID: bridgeID, UsedRawCheck: true}
	if math.Abs(rec.InputLat-rec.ExpectedLat) <= v.thresholds.RawDegrees &&
		math.Abs(rec.InputLon-rec.ExpectedLon) <= v.thresholds.RawDegrees {
		outcome.Accepted = true
		return outcome
	}
	outcome.Failure = &MismatchFailure{
		Reason:      "geospatial mismatch after transform failure",
		ExpectedLat: rec.ExpectedLat,
		ExpectedLon: rec.ExpectedLon,
		ActualLat:   rec.InputLat,
		ActualLon:   rec.InputLon,
	}
	return outcome
}
