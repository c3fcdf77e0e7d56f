// Package api is the HTTP surface: health, stats, room inspection, export,
// auth and the websocket upgrade.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/auth"
	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/db"
	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/export"
	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/ratelimit"
	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/shape"
	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/ws"
)

// Ledger is the read side of the activity database.
type Ledger interface {
	GetRoom(id string) (*db.Room, error)
	ListRooms(limit, offset int) ([]db.Room, error)
	ListActivity(roomID string, limit int) ([]db.Activity, error)
	DeleteRoom(id string) error
	GetStats() (db.Stats, error)
}

type Options struct {
	Hub      *ws.Hub
	Ledger   Ledger // optional
	Auth     auth.Service
	Exporter export.Exporter
	Logger   *slog.Logger

	AllowedOrigins []string
	// Per-IP limit on auth routes.
	RequestsPerSecond float64
	Burst             int
}

type API struct {
	hub      *ws.Hub
	ledger   Ledger
	auth     auth.Service
	exporter export.Exporter
	log      *slog.Logger
	origins  []string
	limiters *ratelimit.ClientLimiters
}

func New(opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 10
	}
	if opts.Burst <= 0 {
		opts.Burst = 20
	}
	if opts.Auth == nil {
		opts.Auth = auth.NewMemoryService()
	}
	if opts.Exporter == nil {
		opts.Exporter = export.NewRasterizer(export.DefaultOptions())
	}
	return &API{
		hub:      opts.Hub,
		ledger:   opts.Ledger,
		auth:     opts.Auth,
		exporter: opts.Exporter,
		log:      opts.Logger.With("component", "api"),
		origins:  opts.AllowedOrigins,
		limiters: ratelimit.NewClientLimiters(opts.RequestsPerSecond, opts.Burst),
	}
}

// Close stops the rate limiter janitor.
func (a *API) Close() {
	a.limiters.Stop()
}

// Router builds the gin engine with every route mounted.
func (a *API) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), a.requestLogger(), a.cors())

	r.GET("/health", a.HealthHandler)
	r.GET("/ws", a.WebsocketHandler)

	api := r.Group("/api")
	api.GET("/stats", a.StatsHandler)
	api.GET("/rooms", a.ListRoomsHandler)
	api.GET("/rooms/:id", a.GetRoomHandler)
	api.GET("/rooms/:id/export", a.ExportRoomHandler)
	api.DELETE("/rooms/:id", a.requireAuth(), a.DeleteRoomHandler)

	authGroup := api.Group("/auth", a.rateLimit())
	authGroup.POST("/register", a.RegisterHandler)
	authGroup.POST("/login", a.LoginHandler)
	authGroup.POST("/logout", a.requireAuth(), a.LogoutHandler)
	authGroup.GET("/me", a.requireAuth(), a.MeHandler)

	return r
}

func errorResponse(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

func (a *API) HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(c *gin.Context) {
	stats := gin.H{
		"hub":       a.hub.Stats(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if a.ledger != nil {
		if s, err := a.ledger.GetStats(); err == nil {
			stats["ledger"] = s
		} else {
			a.log.Warn("ledger stats", "err", err)
		}
	}
	c.JSON(http.StatusOK, stats)
}

func (a *API) WebsocketHandler(c *gin.Context) {
	ws.ServeWs(a.hub, c.Writer, c.Request)
}

// Room handlers

func pageParams(c *gin.Context) (limit, offset int) {
	limit, _ = strconv.Atoi(c.Query("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset, _ = strconv.Atoi(c.Query("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// ListRoomsHandler lists live rooms, plus recently active ledger rooms
// when storage is enabled.
func (a *API) ListRoomsHandler(c *gin.Context) {
	resp := gin.H{"rooms": a.hub.Registry().Rooms()}

	if a.ledger != nil {
		limit, offset := pageParams(c)
		recent, err := a.ledger.ListRooms(limit, offset)
		if err != nil {
			a.log.Error("list ledger rooms", "err", err)
			errorResponse(c, http.StatusInternalServerError, "Failed to list rooms")
			return
		}
		if recent == nil {
			recent = []db.Room{}
		}
		resp["recent"] = recent
		resp["limit"] = limit
		resp["offset"] = offset
	}
	c.JSON(http.StatusOK, resp)
}

func (a *API) GetRoomHandler(c *gin.Context) {
	id := c.Param("id")
	reg := a.hub.Registry()

	resp := gin.H{"id": id}
	found := false
	if live, ok := reg.Room(id); ok {
		found = true
		resp["live"] = live
		resp["members"] = reg.Members(id)
	}

	if a.ledger != nil {
		rec, err := a.ledger.GetRoom(id)
		if err != nil {
			a.log.Error("get ledger room", "room", id, "err", err)
			errorResponse(c, http.StatusInternalServerError, "Failed to get room")
			return
		}
		if rec != nil {
			found = true
			resp["ledger"] = rec
			if acts, err := a.ledger.ListActivity(id, 20); err == nil {
				resp["activity"] = acts
			}
		}
	}

	if !found {
		errorResponse(c, http.StatusNotFound, "Room not found")
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a *API) DeleteRoomHandler(c *gin.Context) {
	if a.ledger == nil {
		errorResponse(c, http.StatusNotFound, "Storage disabled")
		return
	}
	if err := a.ledger.DeleteRoom(c.Param("id")); err != nil {
		errorResponse(c, http.StatusInternalServerError, "Failed to delete room")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Room deleted"})
}

// ExportRoomHandler renders a live room's history. Entries are replayed
// through a store so repeated upserts of one id draw once.
func (a *API) ExportRoomHandler(c *gin.Context) {
	id := c.Param("id")
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	if _, ok := a.hub.Registry().Room(id); !ok {
		errorResponse(c, http.StatusNotFound, "Room not found")
		return
	}

	store := shape.NewStore()
	for _, p := range a.hub.Registry().History(id, 0) {
		store.Upsert(shape.FromPath(p))
	}

	data, err := a.exporter.Export(c.Request.Context(), store.List(), format)
	switch {
	case errors.Is(err, export.ErrUnsupportedFormat):
		errorResponse(c, http.StatusNotImplemented, err.Error())
		return
	case err != nil:
		a.log.Error("export room", "room", id, "err", err)
		errorResponse(c, http.StatusInternalServerError, "Export failed")
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+id+"."+string(format)+`"`)
	c.Data(http.StatusOK, format.ContentType(), data)
}

// Auth handlers

type credentials struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (a *API) RegisterHandler(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	id, err := a.auth.Register(c.Request.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrUserExists):
		errorResponse(c, http.StatusConflict, "Username taken")
		return
	case errors.Is(err, auth.ErrInvalidInput):
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		a.log.Error("register", "err", err)
		errorResponse(c, http.StatusInternalServerError, "Registration failed")
		return
	}
	c.JSON(http.StatusCreated, id)
}

func (a *API) LoginHandler(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	tok, err := a.auth.IssueToken(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			a.log.Error("login", "err", err)
		}
		errorResponse(c, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	c.JSON(http.StatusOK, tok)
}

func (a *API) LogoutHandler(c *gin.Context) {
	tok, _ := auth.BearerToken(c.GetHeader("Authorization"))
	if err := a.auth.RevokeToken(c.Request.Context(), tok); err != nil {
		errorResponse(c, http.StatusInternalServerError, "Logout failed")
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) MeHandler(c *gin.Context) {
	id, _ := c.Get(identityKey)
	c.JSON(http.StatusOK, id)
}
