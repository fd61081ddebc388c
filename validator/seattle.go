package validator

import "github.com/cascadiabits/bridgealign/affine"

// Surveyed reference positions for the Seattle drawbridges, in the
// reference frame the corrector targets.
func SeattleReferences() []Reference {
	return []Reference{
		{BridgeID: affine.BridgeBallard, Lat: 47.659853, Lon: -122.376165},
		{BridgeID: affine.BridgeFremont, Lat: 47.647842, Lon: -122.349866},
		{BridgeID: affine.BridgeUniversity, Lat: 47.653131, Lon: -122.320857},
		{BridgeID: affine.BridgeMontlake, Lat: 47.647284, Lon: -122.304609},
		{BridgeID: affine.BridgeSpokaneSt, Lat: 47.570808, Lon: -122.351335},
		{BridgeID: affine.BridgeSouthPark, Lat: 47.542213, Lon: -122.334465},
		{BridgeID: affine.BridgeFirstAveS, Lat: 47.554207, Lon: -122.333736},
	}
}

// SeattleRefIndex builds the reference index over the canonical set.
func SeattleRefIndex() *RefIndex {
	ri := NewRefIndex()
	for _, ref := range SeattleReferences() {
		ri.Insert(ref)
	}
	return ri
}
