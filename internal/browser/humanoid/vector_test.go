// FILE: ./internal/browser/humanoid/vector_test.go
package humanoid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVec2Basics(t *testing.T) {
	a := Vec2{3, 4}
	b := Vec2{6, 8}

	assert.Equal(t, Vec2{9, 12}, a.Add(b))
	assert.Equal(t, Vec2{3, 4}, b.Sub(a))
	assert.Equal(t, Vec2{6, 8}, a.Scale(2))
	assert.InDelta(t, 5.0, a.Len(), 1e-9)
	assert.InDelta(t, 5.0, a.Dist(b), 1e-9)
}

func TestVec2Unit(t *testing.T) {
	u := Vec2{10, 0}.Unit()
	assert.InDelta(t, 1.0, u.X, 1e-9)
	assert.InDelta(t, 0.0, u.Y, 1e-9)

	// degenerate vectors normalize to zero, not NaN
	z := Vec2{}.Unit()
	assert.Equal(t, Vec2{}, z)
}

func TestVec2Perp(t *testing.T) {
	p := Vec2{1, 0}.perp()
	assert.Equal(t, Vec2{0, 1}, p)
}

func TestLerpEndpoints(t *testing.T) {
	a := Vec2{0, 0}
	b := Vec2{10, 20}
	assert.Equal(t, a, lerp(a, b, 0))
	assert.Equal(t, b, lerp(a, b, 1))
	assert.Equal(t, Vec2{5, 10}, lerp(a, b, 0.5))
}
