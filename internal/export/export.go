// Package export renders a room's shapes to an image.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/gogpu/gg"

	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/shape"
)

type Format string

const (
	FormatPNG Format = "png"
	FormatSVG Format = "svg"
	FormatPDF Format = "pdf"
)

// ParseFormat accepts a format name in any case. Empty means PNG.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatPNG, nil
	case FormatPNG, FormatSVG, FormatPDF:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// ContentType is the MIME type for f.
func (f Format) ContentType() string {
	switch f {
	case FormatSVG:
		return "image/svg+xml"
	case FormatPDF:
		return "application/pdf"
	}
	return "image/png"
}

var ErrUnsupportedFormat = errors.New("unsupported export format")

// Exporter turns shapes in paint order into an encoded document.
type Exporter interface {
	Export(ctx context.Context, shapes []shape.Shape, format Format) ([]byte, error)
}

const (
	DefaultMaxWidth   = 4096
	DefaultMaxHeight  = 4096
	DefaultPadding    = 20
	DefaultBackground = "#ffffff"
)

type Options struct {
	MaxWidth   int
	MaxHeight  int
	Padding    float64
	Background string
}

func DefaultOptions() Options {
	return Options{
		MaxWidth:   DefaultMaxWidth,
		MaxHeight:  DefaultMaxHeight,
		Padding:    DefaultPadding,
		Background: DefaultBackground,
	}
}

// Rasterizer draws shapes with gg. The output is cropped to the content
// and scaled down when it would exceed the configured maximum size.
type Rasterizer struct {
	opts Options
}

func NewRasterizer(opts Options) *Rasterizer {
	d := DefaultOptions()
	if opts.MaxWidth <= 0 {
		opts.MaxWidth = d.MaxWidth
	}
	if opts.MaxHeight <= 0 {
		opts.MaxHeight = d.MaxHeight
	}
	if opts.Padding < 0 {
		opts.Padding = 0
	}
	if opts.Background == "" {
		opts.Background = d.Background
	}
	return &Rasterizer{opts: opts}
}

func (r *Rasterizer) Export(ctx context.Context, shapes []shape.Shape, format Format) ([]byte, error) {
	if format != FormatPNG {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	bounds, _ := contentBounds(shapes)
	pad := r.opts.Padding
	w := bounds.Width() + 2*pad
	h := bounds.Height() + 2*pad
	scale := math.Min(1, math.Min(float64(r.opts.MaxWidth)/math.Max(w, 1), float64(r.opts.MaxHeight)/math.Max(h, 1)))
	pw := max(1, int(math.Ceil(w*scale)))
	ph := max(1, int(math.Ceil(h*scale)))

	dc := gg.NewContext(pw, ph)
	defer dc.Close()
	dc.ClearWithColor(gg.Hex(r.opts.Background))
	dc.Scale(scale, scale)
	dc.Translate(pad-bounds.Min.X, pad-bounds.Min.Y)

	for _, s := range shapes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := paint(dc, s, r.opts.Background); err != nil {
			return nil, fmt.Errorf("draw %s: %w", s.ID, err)
		}
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	logger().Debug("exported", "shapes", len(shapes), "width", pw, "height", ph)
	return buf.Bytes(), nil
}

// contentBounds is the union of all shape bounds grown by half the stroke.
func contentBounds(shapes []shape.Shape) (shape.Rect, bool) {
	var out shape.Rect
	found := false
	for _, s := range shapes {
		if s.Type == shape.TypeText {
			continue
		}
		b := s.Bounds().Expand(strokeWidth(s) / 2)
		if !found {
			out, found = b, true
			continue
		}
		out = out.Union(b)
	}
	return out, found
}

func strokeWidth(s shape.Shape) float64 {
	if s.StrokeWidth <= 0 {
		return 1
	}
	return s.StrokeWidth
}

// paint draws one shape in world coordinates under the current transform.
func paint(dc *gg.Context, s shape.Shape, background string) error {
	w := strokeWidth(s)
	dc.SetLineWidth(w)
	dc.SetLineCap(gg.LineCapRound)
	dc.SetLineJoin(gg.LineJoinRound)

	col := s.Color
	if col == "" {
		col = "#000000"
	}
	if s.Eraser {
		col = background
	}
	dc.SetHexColor(col)

	if s.Brush == shape.BrushDashed {
		dc.SetDash(w*2, w*1.5)
	} else {
		dc.SetDash()
	}

	switch s.Type {
	case shape.TypePen:
		switch len(s.Path) {
		case 0:
			return nil
		case 1:
			dc.DrawCircle(s.Path[0].X, s.Path[0].Y, w/2)
			return dc.Fill()
		}
		dc.MoveTo(s.Path[0].X, s.Path[0].Y)
		for _, p := range s.Path[1:] {
			dc.LineTo(p.X, p.Y)
		}
		return dc.Stroke()
	case shape.TypeLine:
		dc.MoveTo(s.Start.X, s.Start.Y)
		dc.LineTo(s.End.X, s.End.Y)
		return dc.Stroke()
	case shape.TypeRectangle:
		b := s.Bounds()
		dc.DrawRectangle(b.Min.X, b.Min.Y, b.Width(), b.Height())
		return dc.Stroke()
	case shape.TypeCircle:
		dc.DrawCircle(s.Start.X, s.Start.Y, s.Radius)
		return dc.Stroke()
	case shape.TypeImage:
		// Image sources are client-local blobs; draw the frame only.
		b := s.Bounds()
		dc.SetHexColor("#9e9e9e")
		dc.SetLineWidth(1)
		dc.SetDash(4, 4)
		dc.DrawRectangle(b.Min.X, b.Min.Y, b.Width(), b.Height())
		return dc.Stroke()
	case shape.TypeText:
		logger().Debug("text not rasterized", "id", s.ID)
	}
	return nil
}
