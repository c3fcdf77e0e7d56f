package shape

import "math"

// MinSize is the smallest bounding box dimension a resize may produce.
const MinSize = 4

// Handle is one of the eight resize grips around a selection.
type Handle string

const (
	HandleN  Handle = "n"
	HandleS  Handle = "s"
	HandleE  Handle = "e"
	HandleW  Handle = "w"
	HandleNE Handle = "ne"
	HandleNW Handle = "nw"
	HandleSE Handle = "se"
	HandleSW Handle = "sw"
)

// Handles lists every grip, corners first so they win over edges when a
// tiny box makes them overlap.
var Handles = []Handle{HandleNW, HandleNE, HandleSE, HandleSW, HandleN, HandleE, HandleS, HandleW}

func (h Handle) north() bool { return h == HandleN || h == HandleNE || h == HandleNW }
func (h Handle) south() bool { return h == HandleS || h == HandleSE || h == HandleSW }
func (h Handle) east() bool  { return h == HandleE || h == HandleNE || h == HandleSE }
func (h Handle) west() bool  { return h == HandleW || h == HandleNW || h == HandleSW }

// Position returns where the grip sits on r.
func (h Handle) Position(r Rect) Point {
	c := r.Center()
	p := c
	switch {
	case h.north():
		p.Y = r.Min.Y
	case h.south():
		p.Y = r.Max.Y
	}
	switch {
	case h.west():
		p.X = r.Min.X
	case h.east():
		p.X = r.Max.X
	}
	return p
}

// HandleAt returns the grip of r within tol of p.
func HandleAt(r Rect, p Point, tol float64) (Handle, bool) {
	tolSq := tol * tol
	for _, h := range Handles {
		if h.Position(r).DistSq(p) <= tolSq {
			return h, true
		}
	}
	return "", false
}

// ResizeBounds moves the edges of r touched by h to p, keeping every
// dimension at least MinSize.
func ResizeBounds(r Rect, h Handle, p Point) Rect {
	out := r
	if h.north() {
		out.Min.Y = math.Min(p.Y, r.Max.Y-MinSize)
	}
	if h.south() {
		out.Max.Y = math.Max(p.Y, r.Min.Y+MinSize)
	}
	if h.west() {
		out.Min.X = math.Min(p.X, r.Max.X-MinSize)
	}
	if h.east() {
		out.Max.X = math.Max(p.X, r.Min.X+MinSize)
	}
	return out
}

// Resize returns a copy of s fitted to the box produced by dragging h to p.
// Pen strokes are rescaled point by point from the old box to the new one.
func Resize(s Shape, h Handle, p Point) Shape {
	old := s.Bounds()
	nb := ResizeBounds(old, h, p)
	out := s.Clone()

	switch s.Type {
	case TypePen:
		out.Path = mapPath(s.Path, old, nb)
		if len(out.Path) > 0 {
			out.Start = out.Path[0]
			out.End = out.Path[len(out.Path)-1]
		} else {
			out.Start = mapPoint(s.Start, old, nb)
			out.End = mapPoint(s.End, old, nb)
		}
	case TypeCircle:
		c := old.Center()
		nc := nb.Center()
		var d float64
		switch {
		case (h.north() || h.south()) && !(h.east() || h.west()):
			d = nb.Height()
			c.Y = nc.Y
		case (h.east() || h.west()) && !(h.north() || h.south()):
			d = nb.Width()
			c.X = nc.X
		default:
			d = math.Min(nb.Width(), nb.Height())
			c = nc
		}
		out.Start = c
		out.Radius = d / 2
	default:
		out.Start, out.End = mapSpan(s.Start, s.End, old, nb)
	}
	return out
}

// mapPoint applies the affine map taking box a onto box b. A zero-length
// axis has no scale, so points are pinned to the new min edge.
func mapPoint(p Point, a, b Rect) Point {
	return Point{
		X: mapAxis(p.X, a.Min.X, a.Width(), b.Min.X, b.Width()),
		Y: mapAxis(p.Y, a.Min.Y, a.Height(), b.Min.Y, b.Height()),
	}
}

func mapAxis(v, oldMin, oldLen, newMin, newLen float64) float64 {
	if oldLen == 0 {
		return newMin
	}
	return newMin + (v-oldMin)*newLen/oldLen
}

// mapPath rescales a stroke from box a onto box b. An axis with no extent
// has no scale, so its points are spread evenly across the new box by index.
// A single point becomes a diagonal across b.
func mapPath(path []Point, a, b Rect) []Point {
	if len(path) == 0 {
		return path
	}
	if len(path) == 1 {
		return []Point{b.Min, b.Max}
	}
	out := make([]Point, len(path))
	last := float64(len(path) - 1)
	for i, p := range path {
		q := mapPoint(p, a, b)
		if a.Width() == 0 {
			q.X = b.Min.X + b.Width()*float64(i)/last
		}
		if a.Height() == 0 {
			q.Y = b.Min.Y + b.Height()*float64(i)/last
		}
		out[i] = q
	}
	return out
}

// mapSpan maps the two defining corners of a box shape, keeping their
// orientation so a line drawn right-to-left stays right-to-left.
func mapSpan(start, end Point, a, b Rect) (Point, Point) {
	ns, ne := mapPoint(start, a, b), mapPoint(end, a, b)
	if a.Width() == 0 {
		ns.X, ne.X = b.Min.X, b.Max.X
	}
	if a.Height() == 0 {
		ns.Y, ne.Y = b.Min.Y, b.Max.Y
	}
	return ns, ne
}
