package drive

import (
	"math"
	"testing"
)

func TestMix(t *testing.T) {
	tests := []struct {
		m, v Vector
		want float64
	}{
		{Vector{1, 0}, Vector{1, 1}, 1},
		{Vector{0, 1}, Vector{1, 1}, 1},
		{Vector{0, 1}, Vector{1, -1}, -1},
		{Vector{-1, -1}, Vector{1, 1}, -2},
		{Vector{1, 1}, Vector{-1, 1}, 0},
		{Vector{0.5, 2}, Vector{4, -0.25}, 1.5},
	}

	for _, tt := range tests {
		if got := Mix(tt.m, tt.v); got != tt.want {
			t.Errorf("Mix(%v, %v) = %v, want %v", tt.m, tt.v, got, tt.want)
		}
	}
}

func TestMix_Bilinear(t *testing.T) {
	mixes := []Vector{{1, 0}, {0, 1}, {-1, -1}, {1, 1}, {0.3, -2.5}}
	vectors := []Vector{{1, 1}, {-1, 1}, {0.25, -0.75}, {3, 0}, {0, 0}}
	scalars := []float64{-2, 0, 0.5, 3.75}

	for _, m := range mixes {
		for _, v1 := range vectors {
			for _, v2 := range vectors {
				sum := Mix(m, v1.Add(v2))
				parts := Mix(m, v1) + Mix(m, v2)
				if math.Abs(sum-parts) > 1e-12 {
					t.Errorf("Mix(%v, %v+%v) = %v, want %v", m, v1, v2, sum, parts)
				}
			}
			for _, k := range scalars {
				scaled := Mix(m, v1.Scale(k))
				want := k * Mix(m, v1)
				if math.Abs(scaled-want) > 1e-12 {
					t.Errorf("Mix(%v, %v*%v) = %v, want %v", m, k, v1, scaled, want)
				}
			}
		}
	}
}
