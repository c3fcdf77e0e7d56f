package shape

import (
	"time"

	"github.com/segmentio/ksuid"
)

// Path is the wire form of a shape, as relayed in draw events and replayed
// in room-state snapshots. Pen strokes carry every point, box shapes carry
// [start, end] and circles carry [center] plus a radius.
type Path struct {
	ID        string  `json:"id"`
	Type      Type    `json:"type,omitempty"`
	Points    []Point `json:"points"`
	Color     string  `json:"color"`
	Width     float64 `json:"width"`
	Brush     string  `json:"brush,omitempty"`
	Radius    float64 `json:"radius,omitempty"`
	Text      string  `json:"text,omitempty"`
	Src       string  `json:"src,omitempty"`
	Eraser    bool    `json:"eraser,omitempty"`
	Timestamp int64   `json:"timestamp"`
}

// NewID returns a time-ordered id with 128 random bits, so two clients
// creating shapes in the same millisecond will not collide in practice.
func NewID() string {
	return ksuid.New().String()
}

// NowMillis is the timestamp stamped on new shapes.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// ToPath converts s to its wire form.
func (s Shape) ToPath() Path {
	p := Path{
		ID:        s.ID,
		Type:      s.Type,
		Color:     s.Color,
		Width:     s.StrokeWidth,
		Brush:     s.Brush,
		Text:      s.Text,
		Src:       s.Src,
		Eraser:    s.Eraser,
		Timestamp: s.Timestamp,
	}
	switch s.Type {
	case TypePen:
		p.Points = make([]Point, len(s.Path))
		copy(p.Points, s.Path)
	case TypeCircle:
		p.Points = []Point{s.Start}
		p.Radius = s.Radius
	default:
		p.Points = []Point{s.Start, s.End}
	}
	return p
}

// FromPath rebuilds a shape from its wire form. A path without a type is a
// plain pen stroke.
func FromPath(p Path) Shape {
	s := Shape{
		ID:          p.ID,
		Type:        p.Type,
		Color:       p.Color,
		StrokeWidth: p.Width,
		Brush:       p.Brush,
		Text:        p.Text,
		Src:         p.Src,
		Eraser:      p.Eraser,
		Timestamp:   p.Timestamp,
	}
	if s.Type == "" {
		s.Type = TypePen
	}
	switch s.Type {
	case TypePen:
		s.Path = make([]Point, len(p.Points))
		copy(s.Path, p.Points)
		if len(p.Points) > 0 {
			s.Start = p.Points[0]
			s.End = p.Points[len(p.Points)-1]
		}
	case TypeCircle:
		if len(p.Points) > 0 {
			s.Start = p.Points[0]
		}
		s.Radius = p.Radius
	default:
		if len(p.Points) > 0 {
			s.Start = p.Points[0]
			s.End = p.Points[0]
		}
		if len(p.Points) > 1 {
			s.End = p.Points[1]
		}
	}
	return s
}
