package geometry

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestIntersects(t *testing.T) {
	tests := []struct {
		name string
		a, b Rect
		want bool
	}{
		{"overlap", Rect{0, 0, 10, 10}, Rect{5, 5, 15, 15}, true},
		{"disjoint", Rect{0, 0, 10, 10}, Rect{20, 20, 30, 30}, false},
		{"touching x edge", Rect{0, 0, 10, 10}, Rect{10, 0, 20, 10}, true},
		{"touching y edge", Rect{0, 0, 10, 10}, Rect{0, 10, 10, 20}, true},
		{"touching corner", Rect{0, 0, 10, 10}, Rect{10, 10, 20, 20}, true},
		{"contained", Rect{0, 0, 100, 100}, Rect{40, 40, 60, 60}, true},
		{"side by side on x only", Rect{0, 0, 10, 10}, Rect{2, 11, 8, 20}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Intersects(tt.a, tt.b))
			assert.Equal(t, tt.want, Intersects(tt.b, tt.a), "intersection must be symmetric")
		})
	}
}

func TestIntersects_SymmetricRandom(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	randRect := func() Rect {
		x, y := rng.Float64()*100, rng.Float64()*100
		return Rect{x, y, x + rng.Float64()*40, y + rng.Float64()*40}
	}
	for i := 0; i < 500; i++ {
		a, b := randRect(), randRect()
		if Intersects(a, b) != Intersects(b, a) {
			t.Fatalf("asymmetric for %+v / %+v", a, b)
		}
	}
}

func TestExpand(t *testing.T) {
	got := Expand(Rect{10, 10, 20, 20}, 5)
	if diff := cmp.Diff(Rect{5, 5, 25, 25}, got); diff != "" {
		t.Errorf("Expand mismatch (-want +got):\n%s", diff)
	}

	// No clipping at the frame edge.
	assert.Equal(t, Rect{-5, -5, 7, 7}, Expand(Rect{0, 0, 2, 2}, 5))
}

func TestRepulsionTarget(t *testing.T) {
	cat := Rect{100, 100, 200, 200} // center (150,150)

	got := RepulsionTarget(cat, Point{100, 150}, 100)
	assert.Less(t, got.X, 100.0)
	assert.InDelta(t, 150, got.Y, 1e-9)
	assert.InDelta(t, 0, got.X, 1e-9)
}

func TestRepulsionTarget_AtCenterUsesDiagonal(t *testing.T) {
	cat := Rect{100, 100, 200, 200}

	got := RepulsionTarget(cat, Point{150, 150}, 10)
	assert.False(t, math.IsNaN(got.X) || math.IsNaN(got.Y))
	assert.InDelta(t, 10, Distance(got, Point{150, 150}), 1e-9)
	assert.Greater(t, got.X, 150.0)
	assert.Greater(t, got.Y, 150.0)
}

func TestSampleAnnulus_WithinRing(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 7))
	center := Point{300, 300}

	for i := 0; i < 1000; i++ {
		p := SampleAnnulus(rng, center, 50, 100, Rect{0, 0, 640, 480})
		d := Distance(p, center)
		assert.GreaterOrEqual(t, d, 50-1e-9)
		assert.LessOrEqual(t, d, 100+1e-9)
	}
}

// Uniform-by-area means P(r < r_mid) = (r_mid² - r_min²)/(r_max² - r_min²),
// which for the ring [50,100] and r_mid=75 is ~0.417 rather than 0.5.
func TestSampleAnnulus_UniformByArea(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 9))
	center := Point{0, 0}

	const n = 20000
	inner := 0
	for i := 0; i < n; i++ {
		if Distance(SampleAnnulus(rng, center, 50, 100, Rect{}), center) < 75 {
			inner++
		}
	}
	frac := float64(inner) / n
	want := (75.0*75 - 50*50) / (100.0*100 - 50*50)
	assert.InDelta(t, want, frac, 0.02)
	assert.Less(t, frac, 0.47, "radius must not be uniform by count")
}

func TestSampleAnnulus_ClampsIntoBounds(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 5))
	bounds := Rect{0, 0, 640, 480}
	for i := 0; i < 200; i++ {
		p := SampleAnnulus(rng, Point{5, 5}, 50, 100, bounds)
		assert.True(t, bounds.Contains(p), "point %+v outside frame", p)
	}
}

func TestRectHelpers(t *testing.T) {
	r := RectAround(Point{10, 20}, 5)
	assert.Equal(t, Rect{5, 15, 15, 25}, r)
	assert.Equal(t, Point{10, 20}, r.Center())
	assert.True(t, r.Contains(Point{15, 25}))
	assert.False(t, r.Contains(Point{15.01, 25}))
	assert.True(t, Rect{}.Empty())
}
