// Package view maps between screen pixels and world coordinates under the
// client's pan and zoom.
package view

import (
	"math"

	"github.com/gogpu/gg"

	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/shape"
)

const (
	MinScale = 0.1
	MaxScale = 5.0

	zoomInFactor  = 1.1
	zoomOutFactor = 0.9
)

// Viewport is screen = world*Scale + Offset.
type Viewport struct {
	Scale  float64     `json:"scale"`
	Offset shape.Point `json:"offset"`
}

// New returns the identity viewport.
func New() Viewport {
	return Viewport{Scale: 1}
}

// Matrix is the world-to-screen transform.
func (v Viewport) Matrix() gg.Matrix {
	return gg.Translate(v.Offset.X, v.Offset.Y).Multiply(gg.Scale(v.Scale, v.Scale))
}

func (v Viewport) WorldToScreen(p shape.Point) shape.Point {
	q := v.Matrix().TransformPoint(gg.Pt(p.X, p.Y))
	return shape.Point{X: q.X, Y: q.Y}
}

func (v Viewport) ScreenToWorld(p shape.Point) shape.Point {
	q := v.Matrix().Invert().TransformPoint(gg.Pt(p.X, p.Y))
	return shape.Point{X: q.X, Y: q.Y}
}

// Pan shifts the view by a screen-space delta.
func (v *Viewport) Pan(dx, dy float64) {
	v.Offset.X += dx
	v.Offset.Y += dy
}

// ZoomAt applies one wheel step at screen point p so the world point under
// the cursor stays put. Negative deltaY zooms in. It returns the new scale.
func (v *Viewport) ZoomAt(p shape.Point, deltaY float64) float64 {
	if deltaY == 0 {
		return v.Scale
	}
	factor := zoomInFactor
	if deltaY > 0 {
		factor = zoomOutFactor
	}
	v.SetScaleAt(p, v.Scale*factor)
	return v.Scale
}

// SetScaleAt sets the scale, clamped to [MinScale, MaxScale], anchored at
// screen point p.
func (v *Viewport) SetScaleAt(p shape.Point, scale float64) {
	world := v.ScreenToWorld(p)
	v.Scale = Clamp(scale)
	v.Offset = shape.Point{
		X: p.X - world.X*v.Scale,
		Y: p.Y - world.Y*v.Scale,
	}
}

// Clamp limits s to the supported zoom range.
func Clamp(s float64) float64 {
	if math.IsNaN(s) {
		return 1
	}
	return math.Min(math.Max(s, MinScale), MaxScale)
}
