package canvas

import "github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/shape"

type Tool string

const (
	ToolSelect         Tool = "select"
	ToolAreaSelect     Tool = "area-select"
	ToolPen            Tool = "pen"
	ToolEraser         Tool = "eraser"
	ToolLine           Tool = "line"
	ToolRectangle      Tool = "rectangle"
	ToolCircle         Tool = "circle"
	ToolBrushDashed    Tool = "brush-dashed"
	ToolBrushPaint     Tool = "brush-paint"
	ToolBrushCrayon    Tool = "brush-crayon"
	ToolBrushOilPastel Tool = "brush-oil-pastel"
)

// penLike tools record a point path.
func (t Tool) penLike() bool {
	switch t {
	case ToolPen, ToolEraser, ToolBrushDashed, ToolBrushPaint, ToolBrushCrayon, ToolBrushOilPastel:
		return true
	}
	return false
}

func (t Tool) creates() bool {
	return t.penLike() || t == ToolLine || t == ToolRectangle || t == ToolCircle
}

func (t Tool) shapeType() shape.Type {
	switch t {
	case ToolLine:
		return shape.TypeLine
	case ToolRectangle:
		return shape.TypeRectangle
	case ToolCircle:
		return shape.TypeCircle
	default:
		return shape.TypePen
	}
}

func (t Tool) brush() string {
	switch t {
	case ToolBrushDashed:
		return shape.BrushDashed
	case ToolBrushPaint:
		return shape.BrushPaint
	case ToolBrushCrayon:
		return shape.BrushCrayon
	case ToolBrushOilPastel:
		return shape.BrushOilPastel
	case ToolEraser:
		return ""
	default:
		return shape.BrushSolid
	}
}

// Mode is the gesture currently in progress.
type Mode int

const (
	ModeIdle Mode = iota
	ModeCreating
	ModeMoving
	ModeResizing
	ModePanning
	ModeAreaSelecting
	ModeErasing
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeCreating:
		return "creating"
	case ModeMoving:
		return "moving"
	case ModeResizing:
		return "resizing"
	case ModePanning:
		return "panning"
	case ModeAreaSelecting:
		return "area-selecting"
	case ModeErasing:
		return "erasing"
	}
	return "unknown"
}

type Key string

const (
	KeySpace     Key = "space"
	KeyDelete    Key = "delete"
	KeyBackspace Key = "backspace"
	KeyEscape    Key = "escape"
)
