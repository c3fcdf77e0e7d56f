// Package canvas is the client-side drawing state machine. It turns pointer
// and keyboard input into shape mutations and outbound draw events, and
// applies remote events through the same store so both render identically.
package canvas

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/protocol"
	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/shape"
	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/view"
)

const (
	// Pen samples closer than this (squared, world units) are dropped.
	minPointDistSq = 1
	// A drag on a selected shape becomes a move past this (squared).
	moveThresholdSq = 4 * 4
	// Handle grab radius in screen pixels.
	handleTolerance = 6

	DefaultColor = "#000000"
	DefaultWidth = 3

	// A remote stroke with no samples for this long is discarded.
	DefaultDraftTimeout = 5 * time.Second
)

// Sender is the outbound side of a session. Implementations drop draws and
// clears when not joined to a room.
type Sender interface {
	SendDraw(d protocol.Draw) error
	SendClear() error
	SendCursor(p shape.Point) error
}

// Subscriber delivers inbound events.
type Subscriber interface {
	On(event protocol.Event, fn func(data json.RawMessage)) func()
}

// Renderer draws one frame. It is only called from Flush.
type Renderer interface {
	Render(f Frame)
}

// Frame is everything a renderer needs: committed shapes in paint order,
// in-progress strokes, the selection and the view.
type Frame struct {
	Shapes   []shape.Shape
	Drafts   []shape.Shape
	Selected string
	View     view.Viewport
	Marquee  *shape.Rect
}

type Option func(*Machine)

func WithSender(s Sender) Option {
	return func(m *Machine) { m.sender = s }
}

func WithRenderer(r Renderer) Option {
	return func(m *Machine) { m.renderer = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.log = l.With("component", "canvas") }
}

func WithStore(s *shape.Store) Option {
	return func(m *Machine) { m.store = s }
}

func WithDraftTimeout(d time.Duration) Option {
	return func(m *Machine) { m.draftTimeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// Machine holds the local canvas state. It is safe for concurrent use; input
// typically arrives on the UI goroutine and remote events on the session's.
type Machine struct {
	mu sync.Mutex

	store    *shape.Store
	view     view.Viewport
	tool     Tool
	color    string
	width    float64
	mode     Mode
	selected string
	space    bool

	// gesture state
	draft       *shape.Shape
	origin      shape.Shape
	handle      shape.Handle
	downWorld   shape.Point
	lastScreen  shape.Point
	pendingMove bool
	marquee     shape.Rect

	// in-progress strokes from other members, by shape id
	remote       map[string]*shape.Shape
	remoteSeen   map[string]time.Time
	draftTimeout time.Duration
	now          func() time.Time

	sender   Sender
	renderer Renderer
	dirty    atomic.Bool
	log      *slog.Logger
}

func New(opts ...Option) *Machine {
	m := &Machine{
		view:   view.New(),
		tool:   ToolPen,
		color:  DefaultColor,
		width:  DefaultWidth,
		remote:       make(map[string]*shape.Shape),
		remoteSeen:   make(map[string]time.Time),
		draftTimeout: DefaultDraftTimeout,
		now:          time.Now,
		log:          slog.Default().With("component", "canvas"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.store == nil {
		m.store = shape.NewStore()
	}
	m.store.OnChange(m.markDirty)
	m.markDirty()
	return m
}

func (m *Machine) markDirty() {
	m.dirty.Store(true)
}

func (m *Machine) SetTool(t Tool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode != ModeIdle {
		return
	}
	m.tool = t
	if t != ToolSelect {
		m.selected = ""
	}
	m.markDirty()
}

func (m *Machine) SetColor(c string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.color = c
}

func (m *Machine) SetWidth(w float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w > 0 {
		m.width = w
	}
}

// Select sets the selection directly. An unknown id clears it.
func (m *Machine) Select(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store.Get(id); !ok {
		id = ""
	}
	m.selected = id
	m.markDirty()
}

// PointerDown starts a gesture at screen point p.
func (m *Machine) PointerDown(p shape.Point) {
	m.mu.Lock()
	out := m.pointerDown(p)
	m.mu.Unlock()
	m.send(out)
}

func (m *Machine) pointerDown(p shape.Point) []protocol.Draw {
	if m.mode != ModeIdle {
		return nil
	}
	world := m.view.ScreenToWorld(p)
	m.downWorld = world
	m.lastScreen = p
	m.markDirty()

	if m.space {
		m.mode = ModePanning
		return nil
	}

	switch {
	case m.tool == ToolSelect:
		m.selectAt(world)
		return nil
	case m.tool == ToolAreaSelect:
		m.mode = ModeAreaSelecting
		m.marquee = shape.Rect{Min: world, Max: world}
		return nil
	case m.tool.creates():
		return m.startShape(world)
	}
	return nil
}

// selectAt decides between resize, pending move and plain selection.
func (m *Machine) selectAt(world shape.Point) {
	if sel, ok := m.store.Get(m.selected); ok {
		tol := handleTolerance / m.view.Scale
		if h, ok := shape.HandleAt(sel.Bounds(), world, tol); ok {
			m.mode = ModeResizing
			m.handle = h
			m.origin = sel
			return
		}
		if sel.Hit(world) {
			m.mode = ModeMoving
			m.pendingMove = true
			m.origin = sel
			return
		}
	}
	if hit, ok := m.store.TopmostAt(world); ok {
		m.selected = hit.ID
	} else {
		m.selected = ""
	}
}

func (m *Machine) startShape(world shape.Point) []protocol.Draw {
	s := &shape.Shape{
		ID:          shape.NewID(),
		Type:        m.tool.shapeType(),
		Color:       m.color,
		StrokeWidth: m.width,
		Brush:       m.tool.brush(),
		Start:       world,
		End:         world,
		Eraser:      m.tool == ToolEraser,
		Timestamp:   shape.NowMillis(),
	}
	m.draft = s
	m.mode = ModeCreating
	if s.Eraser {
		m.mode = ModeErasing
	}
	if !m.tool.penLike() {
		return nil
	}
	s.Path = []shape.Point{world}
	return []protocol.Draw{m.pointDraw(s, protocol.PhaseStart, world)}
}

func (m *Machine) pointDraw(s *shape.Shape, phase protocol.StrokePhase, at shape.Point) protocol.Draw {
	return protocol.Draw{
		Kind: protocol.KindPoint,
		Point: &protocol.StrokePoint{
			ID:     s.ID,
			Phase:  phase,
			X:      at.X,
			Y:      at.Y,
			Color:  s.Color,
			Width:  s.StrokeWidth,
			Tool:   string(m.tool),
			Brush:  s.Brush,
			Eraser: s.Eraser,
		},
	}
}

// PointerMove advances the active gesture and reports the cursor.
func (m *Machine) PointerMove(p shape.Point) {
	m.mu.Lock()
	out := m.pointerMove(p)
	world := m.view.ScreenToWorld(p)
	m.mu.Unlock()

	m.send(out)
	if m.sender != nil {
		if err := m.sender.SendCursor(world); err != nil {
			m.log.Debug("cursor not sent", "err", err)
		}
	}
}

func (m *Machine) pointerMove(p shape.Point) []protocol.Draw {
	world := m.view.ScreenToWorld(p)

	switch m.mode {
	case ModePanning:
		d := p.Sub(m.lastScreen)
		m.view.Pan(d.X, d.Y)
		m.lastScreen = p
		m.markDirty()

	case ModeCreating, ModeErasing:
		s := m.draft
		if s == nil {
			return nil
		}
		switch s.Type {
		case shape.TypePen:
			last := s.Path[len(s.Path)-1]
			if last.DistSq(world) < minPointDistSq {
				return nil
			}
			s.Path = append(s.Path, world)
			s.End = world
			m.markDirty()
			return []protocol.Draw{m.pointDraw(s, protocol.PhaseMove, world)}
		case shape.TypeCircle:
			s.Radius = s.Start.Dist(world)
		default:
			s.End = world
		}
		m.markDirty()

	case ModeMoving:
		d := world.Sub(m.downWorld)
		if m.pendingMove {
			if d.DistSq(shape.Point{}) < moveThresholdSq {
				return nil
			}
			m.pendingMove = false
		}
		m.store.Upsert(m.origin.Translate(d))

	case ModeResizing:
		m.store.Upsert(shape.Resize(m.origin, m.handle, world))

	case ModeAreaSelecting:
		m.marquee.Max = world
		m.markDirty()
	}
	return nil
}

// PointerUp finishes the gesture, committing and broadcasting its result.
func (m *Machine) PointerUp(p shape.Point) {
	m.mu.Lock()
	out := m.pointerUp(p)
	m.mu.Unlock()
	m.send(out)
}

func (m *Machine) pointerUp(p shape.Point) []protocol.Draw {
	var out []protocol.Draw
	switch m.mode {
	case ModeCreating, ModeErasing:
		m.pointerMove(p)
		if s := m.draft; s != nil && committable(s) {
			m.store.Upsert(*s)
			out = append(out, protocol.PathDraw("", *s))
		}
		m.draft = nil

	case ModeMoving, ModeResizing:
		if m.mode == ModeMoving && m.pendingMove {
			break
		}
		if s, ok := m.store.Get(m.origin.ID); ok {
			out = append(out, protocol.PathDraw("", s))
		}

	case ModeAreaSelecting:
		m.selectInside(shape.RectFromPoints(m.marquee.Min, m.marquee.Max))
	}

	m.mode = ModeIdle
	m.pendingMove = false
	m.markDirty()
	return out
}

// committable rejects clicks that produced no visible box shape.
func committable(s *shape.Shape) bool {
	switch s.Type {
	case shape.TypePen:
		return len(s.Path) > 0
	case shape.TypeCircle:
		return s.Radius > 0
	default:
		return s.Start != s.End
	}
}

// selectInside selects the topmost shape fully inside r.
func (m *Machine) selectInside(r shape.Rect) {
	m.selected = ""
	shapes := m.store.List()
	for i := len(shapes) - 1; i >= 0; i-- {
		b := shapes[i].Bounds()
		if r.Contains(b.Min) && r.Contains(b.Max) {
			m.selected = shapes[i].ID
			return
		}
	}
}

func (m *Machine) KeyDown(k Key) {
	m.mu.Lock()
	out := m.keyDown(k)
	m.mu.Unlock()
	m.send(out)
}

func (m *Machine) keyDown(k Key) []protocol.Draw {
	switch k {
	case KeySpace:
		m.space = true
	case KeyDelete, KeyBackspace:
		if m.mode != ModeIdle || m.selected == "" {
			return nil
		}
		id := m.selected
		m.selected = ""
		if m.store.Remove(id) {
			return []protocol.Draw{protocol.DeleteDraw("", id)}
		}
	case KeyEscape:
		m.cancelGesture()
	}
	return nil
}

func (m *Machine) KeyUp(k Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k == KeySpace {
		m.space = false
	}
}

// cancelGesture abandons the gesture without broadcasting anything.
func (m *Machine) cancelGesture() {
	switch m.mode {
	case ModeMoving, ModeResizing:
		if _, ok := m.store.Get(m.origin.ID); ok {
			m.store.Upsert(m.origin)
		}
	}
	m.draft = nil
	m.mode = ModeIdle
	m.pendingMove = false
	m.selected = ""
	m.markDirty()
}

// Wheel zooms around screen point p. Negative deltaY zooms in.
func (m *Machine) Wheel(p shape.Point, deltaY float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.view.ZoomAt(p, deltaY)
	m.markDirty()
}

// Clear wipes the canvas locally and asks the room to do the same.
func (m *Machine) Clear() {
	m.ApplyClear()
	if m.sender != nil {
		if err := m.sender.SendClear(); err != nil {
			m.log.Debug("clear not sent", "err", err)
		}
	}
}

// ApplyRemote applies a draw event from another member. It never sends.
func (m *Machine) ApplyRemote(d protocol.Draw) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch d.Kind {
	case protocol.KindPoint:
		if d.Point != nil {
			m.applyPoint(*d.Point)
		}
	case protocol.KindPath:
		if d.Path == nil {
			return
		}
		m.dropDraft(d.Path.ID)
		m.store.Upsert(shape.FromPath(*d.Path))
	case protocol.KindDelete:
		m.dropDraft(d.ID)
		m.store.Remove(d.ID)
		if m.selected == d.ID {
			m.selected = ""
			if m.mode == ModeMoving || m.mode == ModeResizing {
				m.mode = ModeIdle
				m.pendingMove = false
			}
		}
	}
	m.markDirty()
}

func (m *Machine) applyPoint(pt protocol.StrokePoint) {
	now := m.now()
	m.pruneDrafts(now)
	m.remoteSeen[pt.ID] = now

	at := shape.Pt(pt.X, pt.Y)
	s, ok := m.remote[pt.ID]
	if !ok || pt.Phase == protocol.PhaseStart {
		s = &shape.Shape{
			ID:          pt.ID,
			Type:        shape.TypePen,
			Color:       pt.Color,
			StrokeWidth: pt.Width,
			Brush:       pt.Brush,
			Eraser:      pt.Eraser,
			Start:       at,
		}
		m.remote[pt.ID] = s
	}
	s.Path = append(s.Path, at)
	s.End = at
}

func (m *Machine) dropDraft(id string) {
	delete(m.remote, id)
	delete(m.remoteSeen, id)
}

func (m *Machine) dropDrafts() bool {
	if len(m.remote) == 0 {
		return false
	}
	m.remote = make(map[string]*shape.Shape)
	m.remoteSeen = make(map[string]time.Time)
	return true
}

func (m *Machine) pruneDrafts(now time.Time) int {
	if m.draftTimeout <= 0 {
		return 0
	}
	n := 0
	for id, seen := range m.remoteSeen {
		if now.Sub(seen) > m.draftTimeout {
			m.dropDraft(id)
			n++
		}
	}
	return n
}

// PruneDrafts discards remote strokes whose author went quiet, such as a
// peer that disconnected mid-stroke. It reports how many were dropped.
func (m *Machine) PruneDrafts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.pruneDrafts(m.now())
	if n > 0 {
		m.markDirty()
	}
	return n
}

// DropDrafts discards every remote stroke. Call it when the connection is
// lost; the strokes' final paths arrive with the next room-state.
func (m *Machine) DropDrafts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dropDrafts() {
		m.markDirty()
	}
}

// ApplyRoomState merges a history snapshot. Entries are keyed by id, so
// replaying one the store already has does not duplicate it. Remote drafts
// are dropped since a snapshot never carries them.
func (m *Machine) ApplyRoomState(paths []shape.Path) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropDrafts()
	for _, p := range paths {
		m.store.Upsert(shape.FromPath(p))
	}
	m.markDirty()
}

// ApplyClear drops every shape, draft and the selection.
func (m *Machine) ApplyClear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store.Clear()
	m.dropDrafts()
	m.draft = nil
	m.selected = ""
	if m.mode != ModePanning {
		m.mode = ModeIdle
	}
	m.pendingMove = false
	m.markDirty()
}

// Bind applies the subscriber's draw, room-state and canvas-cleared events.
// The returned func unsubscribes all three.
func (m *Machine) Bind(sub Subscriber) func() {
	offs := []func(){
		sub.On(protocol.EventDraw, func(data json.RawMessage) {
			var d protocol.Draw
			if err := json.Unmarshal(data, &d); err != nil {
				m.log.Warn("bad draw", "err", err)
				return
			}
			m.ApplyRemote(d)
		}),
		sub.On(protocol.EventRoomState, func(data json.RawMessage) {
			var paths []shape.Path
			if err := json.Unmarshal(data, &paths); err != nil {
				m.log.Warn("bad room-state", "err", err)
				return
			}
			m.ApplyRoomState(paths)
		}),
		sub.On(protocol.EventCanvasCleared, func(json.RawMessage) {
			m.ApplyClear()
		}),
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

// Flush renders a frame if anything changed since the last flush.
func (m *Machine) Flush() bool {
	m.PruneDrafts()
	if m.renderer == nil || !m.dirty.Swap(false) {
		return false
	}
	m.renderer.Render(m.Frame())
	return true
}

// Frame snapshots the current state.
func (m *Machine) Frame() Frame {
	m.mu.Lock()
	defer m.mu.Unlock()

	f := Frame{
		Shapes:   m.store.List(),
		Selected: m.selected,
		View:     m.view,
	}
	ids := make([]string, 0, len(m.remote))
	for id := range m.remote {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		f.Drafts = append(f.Drafts, m.remote[id].Clone())
	}
	if m.draft != nil {
		f.Drafts = append(f.Drafts, m.draft.Clone())
	}
	if m.mode == ModeAreaSelecting {
		r := shape.RectFromPoints(m.marquee.Min, m.marquee.Max)
		f.Marquee = &r
	}
	return f
}

func (m *Machine) send(out []protocol.Draw) {
	if m.sender == nil {
		return
	}
	for _, d := range out {
		if err := m.sender.SendDraw(d); err != nil {
			m.log.Debug("draw not sent", "kind", d.Kind, "err", err)
		}
	}
}

func (m *Machine) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

func (m *Machine) Selected() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selected
}

func (m *Machine) View() view.Viewport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view
}

func (m *Machine) Tool() Tool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tool
}

// Store is the committed shape collection.
func (m *Machine) Store() *shape.Store {
	return m.store
}

func (m *Machine) Dirty() bool {
	return m.dirty.Load()
}
