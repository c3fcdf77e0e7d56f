package export

import (
	"image"
	"io"
	"sync"

	"github.com/gogpu/gg"

	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/canvas"
	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/shape"
)

const (
	selectionColor = "#1e88e5"
	handleSize     = 8
)

// Surface is an offscreen canvas.Renderer. Each Render repaints the whole
// frame in screen space.
type Surface struct {
	mu         sync.Mutex
	dc         *gg.Context
	background string
	frames     int
}

func NewSurface(width, height int, background string) *Surface {
	if background == "" {
		background = DefaultBackground
	}
	return &Surface{dc: gg.NewContext(width, height), background: background}
}

func (s *Surface) Render(f canvas.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dc := s.dc
	dc.ClearWithColor(gg.Hex(s.background))
	dc.SetTransform(f.View.Matrix())

	var selected *shape.Shape
	for i, sh := range f.Shapes {
		if err := paint(dc, sh, s.background); err != nil {
			logger().Warn("render shape", "id", sh.ID, "err", err)
		}
		if sh.ID == f.Selected {
			selected = &f.Shapes[i]
		}
	}
	for _, sh := range f.Drafts {
		if err := paint(dc, sh, s.background); err != nil {
			logger().Warn("render draft", "id", sh.ID, "err", err)
		}
	}

	// Chrome is drawn at a constant screen size.
	dc.Identity()
	if selected != nil {
		s.drawSelection(f, selected.Bounds())
	}
	if f.Marquee != nil {
		s.drawOutline(f, *f.Marquee, 4)
	}
	s.frames++
}

func (s *Surface) drawSelection(f canvas.Frame, b shape.Rect) {
	s.drawOutline(f, b, 6)
	for _, h := range shape.Handles {
		p := f.View.WorldToScreen(h.Position(b))
		s.dc.SetDash()
		s.dc.SetHexColor("#ffffff")
		s.dc.DrawRectangle(p.X-handleSize/2, p.Y-handleSize/2, handleSize, handleSize)
		_ = s.dc.Fill()
		s.dc.SetHexColor(selectionColor)
		s.dc.SetLineWidth(1)
		s.dc.DrawRectangle(p.X-handleSize/2, p.Y-handleSize/2, handleSize, handleSize)
		_ = s.dc.Stroke()
	}
}

func (s *Surface) drawOutline(f canvas.Frame, b shape.Rect, dash float64) {
	lo := f.View.WorldToScreen(b.Min)
	hi := f.View.WorldToScreen(b.Max)
	s.dc.SetHexColor(selectionColor)
	s.dc.SetLineWidth(1)
	s.dc.SetDash(dash, dash)
	s.dc.DrawRectangle(lo.X, lo.Y, hi.X-lo.X, hi.Y-lo.Y)
	_ = s.dc.Stroke()
	s.dc.SetDash()
}

// Frames is the number of frames rendered so far.
func (s *Surface) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Image returns a copy of the last rendered frame.
func (s *Surface) Image() image.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dc.Image()
}

func (s *Surface) EncodePNG(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dc.EncodePNG(w)
}

func (s *Surface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dc.Close()
}
