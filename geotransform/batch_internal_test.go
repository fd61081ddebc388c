package geotransform

import (
	"math"
	"testing"

	"github.com/cascadiabits/bridgealign/affine"
)

func TestCutChunks(t *testing.T) {
	cases := []struct {
		name      string
		pending   []int
		chunkSize int
		want      []chunk
	}{
		{
			name:      "single run under chunk size",
			pending:   []int{0, 1, 2, 3},
			chunkSize: 10,
			want:      []chunk{{0, 4}},
		},
		{
			name:      "single run split",
			pending:   []int{0, 1, 2, 3, 4},
			chunkSize: 2,
			want:      []chunk{{0, 2}, {2, 4}, {4, 5}},
		},
		{
			name:      "runs with holes",
			pending:   []int{0, 1, 5, 6, 7, 12},
			chunkSize: 10,
			want:      []chunk{{0, 2}, {5, 8}, {12, 13}},
		},
		{
			name:      "empty",
			pending:   nil,
			chunkSize: 10,
			want:      nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := cutChunks(tc.pending, tc.chunkSize)
			if len(got) != len(tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("chunk %d: expected %v, got %v", i, tc.want[i], got[i])
				}
			}
		})
	}
}

func TestApplyVectorizedMatchesScalar(t *testing.T) {
	m := affine.TransformationMatrix{
		LatOffset: 0.0003170,
		LonOffset: -0.0004125,
		LatScale:  1.0000012,
		LonScale:  0.9999987,
	}

	src := make([][2]float64, 1000)
	for i := range src {
		src[i] = [2]float64{47.5 + float64(i)*1e-3, -122.4 + float64(i)*1e-3}
	}
	dst := make([][2]float64, len(src))
	applyVectorized(m, src, dst)

	for i, p := range src {
		lat, lon := m.Apply(p[0], p[1])
		if math.Abs(dst[i][0]-lat) > 1e-12 || math.Abs(dst[i][1]-lon) > 1e-12 {
			t.Fatalf("index %d: vectorized (%v, %v) vs scalar (%v, %v)", i, dst[i][0], dst[i][1], lat, lon)
		}
	}
}
