package protocol

import "github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/shape"

type JoinRoom struct {
	RoomID      string `json:"roomId"`
	DisplayName string `json:"displayName,omitempty"`
}

type JoinRoomSuccess struct {
	RoomID    string `json:"roomId"`
	UserCount int    `json:"userCount"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// User identifies a room member in presence events.
type User struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

type UserLeft struct {
	UserID string `json:"userId"`
}

// CursorMove is sent with RoomID and relayed with UserID.
type CursorMove struct {
	RoomID string  `json:"roomId,omitempty"`
	UserID string  `json:"userId,omitempty"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

// DrawKind tags the single canonical draw variant.
type DrawKind string

const (
	// Incremental stroke sample for live preview. Not recorded.
	KindPoint DrawKind = "point"
	// Full upsert of one shape.
	KindPath DrawKind = "path"
	// Removal of one shape by id.
	KindDelete DrawKind = "delete"
)

type StrokePhase string

const (
	PhaseStart StrokePhase = "start"
	PhaseMove  StrokePhase = "move"
)

// StrokePoint is one incremental sample of an in-progress pen stroke.
type StrokePoint struct {
	ID     string      `json:"id"`
	Phase  StrokePhase `json:"phase"`
	X      float64     `json:"x"`
	Y      float64     `json:"y"`
	Color  string      `json:"color,omitempty"`
	Width  float64     `json:"width,omitempty"`
	Tool   string      `json:"tool,omitempty"`
	Brush  string      `json:"brush,omitempty"`
	Eraser bool        `json:"eraser,omitempty"`
}

// Draw is the payload of every draw event.
type Draw struct {
	RoomID string       `json:"roomId,omitempty"`
	Kind   DrawKind     `json:"kind"`
	Path   *shape.Path  `json:"path,omitempty"`
	Point  *StrokePoint `json:"point,omitempty"`
	ID     string       `json:"id,omitempty"`
}

// ShapeID is the id of the shape the event touches.
func (d Draw) ShapeID() string {
	switch d.Kind {
	case KindPath:
		if d.Path != nil {
			return d.Path.ID
		}
	case KindPoint:
		if d.Point != nil {
			return d.Point.ID
		}
	case KindDelete:
		return d.ID
	}
	return ""
}

// Check reports whether the draw carries the fields its kind requires.
// Geometry itself is never inspected.
func (d Draw) Check() error {
	switch d.Kind {
	case KindPath:
		if d.Path == nil || d.Path.ID == "" {
			return errMissing("path")
		}
	case KindPoint:
		if d.Point == nil || d.Point.ID == "" {
			return errMissing("point")
		}
	case KindDelete:
		if d.ID == "" {
			return errMissing("id")
		}
	default:
		return errMissing("kind")
	}
	return nil
}

func errMissing(field string) error {
	return &FieldError{Field: field}
}

// FieldError names a required draw field that is absent.
type FieldError struct {
	Field string
}

func (e *FieldError) Error() string {
	return "draw: missing " + e.Field
}

func (e *FieldError) Unwrap() error {
	return ErrMalformedEvent
}

// PathDraw builds a path upsert for s.
func PathDraw(roomID string, s shape.Shape) Draw {
	p := s.ToPath()
	return Draw{RoomID: roomID, Kind: KindPath, Path: &p}
}

// DeleteDraw builds a removal of shape id.
func DeleteDraw(roomID, id string) Draw {
	return Draw{RoomID: roomID, Kind: KindDelete, ID: id}
}
