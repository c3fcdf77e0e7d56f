// Package shape is the drawable model shared by the canvas, the room history
// and the exporters. Everything here is plain data plus pure functions except
// Store, which is the mutable per-client collection.
package shape

import "math"

// Type identifies the geometry a Shape carries.
type Type string

const (
	TypePen       Type = "pen"
	TypeLine      Type = "line"
	TypeRectangle Type = "rectangle"
	TypeCircle    Type = "circle"
	TypeImage     Type = "image"
	TypeText      Type = "text"
)

// Valid reports whether t is one of the known shape types.
func (t Type) Valid() bool {
	switch t {
	case TypePen, TypeLine, TypeRectangle, TypeCircle, TypeImage, TypeText:
		return true
	}
	return false
}

// Brush styles. They are rendering hints only.
const (
	BrushSolid     = "solid"
	BrushDashed    = "dashed"
	BrushPaint     = "paint"
	BrushCrayon    = "crayon"
	BrushOilPastel = "oil-pastel"
)

const (
	// hit tolerance added to the stroke width
	hitPadding = 6
	// fixed hit tolerance for images
	imageHitTolerance = 8
)

// Point is a position in world coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func Pt(x, y float64) Point {
	return Point{X: x, Y: y}
}

func (p Point) Add(q Point) Point {
	return Point{X: p.X + q.X, Y: p.Y + q.Y}
}

func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y}
}

// DistSq is the squared distance between p and q.
func (p Point) DistSq(q Point) float64 {
	dx, dy := p.X-q.X, p.Y-q.Y
	return dx*dx + dy*dy
}

func (p Point) Dist(q Point) float64 {
	return math.Sqrt(p.DistSq(q))
}

// Rect is an axis-aligned box. Min is the top-left corner.
type Rect struct {
	Min Point `json:"min"`
	Max Point `json:"max"`
}

// RectFromPoints returns the normalized box spanned by a and b.
func RectFromPoints(a, b Point) Rect {
	return Rect{
		Min: Point{X: math.Min(a.X, b.X), Y: math.Min(a.Y, b.Y)},
		Max: Point{X: math.Max(a.X, b.X), Y: math.Max(a.Y, b.Y)},
	}
}

func (r Rect) Width() float64  { return r.Max.X - r.Min.X }
func (r Rect) Height() float64 { return r.Max.Y - r.Min.Y }

func (r Rect) Center() Point {
	return Point{X: (r.Min.X + r.Max.X) / 2, Y: (r.Min.Y + r.Max.Y) / 2}
}

// Expand grows the box by d on every side.
func (r Rect) Expand(d float64) Rect {
	return Rect{
		Min: Point{X: r.Min.X - d, Y: r.Min.Y - d},
		Max: Point{X: r.Max.X + d, Y: r.Max.Y + d},
	}
}

func (r Rect) Contains(p Point) bool {
	return p.X >= r.Min.X && p.X <= r.Max.X && p.Y >= r.Min.Y && p.Y <= r.Max.Y
}

// Union returns the smallest box covering r and o.
func (r Rect) Union(o Rect) Rect {
	return Rect{
		Min: Point{X: math.Min(r.Min.X, o.Min.X), Y: math.Min(r.Min.Y, o.Min.Y)},
		Max: Point{X: math.Max(r.Max.X, o.Max.X), Y: math.Max(r.Max.Y, o.Max.Y)},
	}
}

// Shape is one drawable entity. Once broadcast its ID never changes; edits
// replace the whole record.
type Shape struct {
	ID          string  `json:"id"`
	Type        Type    `json:"type"`
	Color       string  `json:"color"`
	StrokeWidth float64 `json:"strokeWidth"`
	Brush       string  `json:"brushStyle,omitempty"`

	// Start/End for line, rectangle, image and text. Start is the center
	// of a circle.
	Start  Point   `json:"start"`
	End    Point   `json:"end"`
	Path   []Point `json:"path,omitempty"`
	Radius float64 `json:"radius,omitempty"`

	Text string `json:"text,omitempty"`
	Src  string `json:"src,omitempty"`

	// Eraser strokes are pen shapes drawn with a destructive composite.
	Eraser bool `json:"eraser,omitempty"`

	// Unix milliseconds at creation.
	Timestamp int64 `json:"timestamp"`
}

// Bounds returns the geometric bounding box, ignoring stroke width.
func (s Shape) Bounds() Rect {
	switch s.Type {
	case TypePen:
		if len(s.Path) == 0 {
			return Rect{Min: s.Start, Max: s.Start}
		}
		r := Rect{Min: s.Path[0], Max: s.Path[0]}
		for _, p := range s.Path[1:] {
			r.Min.X = math.Min(r.Min.X, p.X)
			r.Min.Y = math.Min(r.Min.Y, p.Y)
			r.Max.X = math.Max(r.Max.X, p.X)
			r.Max.Y = math.Max(r.Max.Y, p.Y)
		}
		return r
	case TypeCircle:
		return Rect{
			Min: Point{X: s.Start.X - s.Radius, Y: s.Start.Y - s.Radius},
			Max: Point{X: s.Start.X + s.Radius, Y: s.Start.Y + s.Radius},
		}
	default:
		return RectFromPoints(s.Start, s.End)
	}
}

// HitTolerance is how far outside its bounds a shape still counts as hit.
func (s Shape) HitTolerance() float64 {
	if s.Type == TypeImage {
		return imageHitTolerance
	}
	return s.StrokeWidth + hitPadding
}

// Hit is an axis-aligned test against the expanded bounds. Corners of
// non-rectangular shapes produce false positives.
func (s Shape) Hit(p Point) bool {
	return s.Bounds().Expand(s.HitTolerance()).Contains(p)
}

// Translate returns a copy of s moved by d.
func (s Shape) Translate(d Point) Shape {
	out := s.Clone()
	out.Start = s.Start.Add(d)
	out.End = s.End.Add(d)
	for i, p := range s.Path {
		out.Path[i] = p.Add(d)
	}
	return out
}

// Clone returns a deep copy.
func (s Shape) Clone() Shape {
	out := s
	if s.Path != nil {
		out.Path = make([]Point, len(s.Path))
		copy(out.Path, s.Path)
	}
	return out
}
