package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/auth"
	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/db"
	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/room"
	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/shape"
	"github.com/OPCODE-Open-Spring-Fest/collab-canvas/internal/ws"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testAPI struct {
	api    *API
	router *gin.Engine
	reg    *room.Registry
	ledger *db.Database
}

func setupTestAPI(t *testing.T, withLedger bool, opts ...func(*Options)) *testAPI {
	t.Helper()

	reg := room.NewRegistry(0, 0)
	hub := ws.NewHub(reg)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	o := Options{
		Hub:  hub,
		Auth: auth.NewMemoryService(auth.WithCost(bcrypt.MinCost)),
	}
	var database *db.Database
	if withLedger {
		var err error
		database, err = db.New(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		t.Cleanup(func() { database.Close() })
		o.Ledger = database
	}
	for _, fn := range opts {
		fn(&o)
	}

	a := New(o)
	t.Cleanup(a.Close)
	return &testAPI{api: a, router: a.Router(), reg: reg, ledger: database}
}

func (ta *testAPI) do(method, path string, body any, header ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	ta.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthHandler(t *testing.T) {
	ta := setupTestAPI(t, false)
	w := ta.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeBody(t, w)["status"])
}

func TestStatsHandler(t *testing.T) {
	ta := setupTestAPI(t, true)
	require.NoError(t, ta.ledger.AppendActivity("r", db.KindJoin, 1, time.Now()))

	w := ta.do(http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Contains(t, body, "hub")
	ledger, ok := body["ledger"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1.0, ledger["room_count"])
}

func TestListRooms(t *testing.T) {
	ta := setupTestAPI(t, true)
	_, err := ta.reg.Join("c1", "live-room", "ann")
	require.NoError(t, err)
	require.NoError(t, ta.ledger.AppendActivity("old-room", db.KindJoin, 2, time.Now()))

	w := ta.do(http.MethodGet, "/api/rooms?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)

	live := body["rooms"].([]any)
	require.Len(t, live, 1)
	assert.Equal(t, "live-room", live[0].(map[string]any)["id"])

	recent := body["recent"].([]any)
	require.Len(t, recent, 1)
	assert.Equal(t, "old-room", recent[0].(map[string]any)["id"])
	assert.Equal(t, 5.0, body["limit"])
}

func TestListRoomsWithoutLedger(t *testing.T) {
	ta := setupTestAPI(t, false)
	w := ta.do(http.MethodGet, "/api/rooms", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Empty(t, body["rooms"])
	assert.NotContains(t, body, "recent")
}

func TestGetRoom(t *testing.T) {
	ta := setupTestAPI(t, true)
	_, err := ta.reg.Join("c1", "r1", "ann")
	require.NoError(t, err)

	w := ta.do(http.MethodGet, "/api/rooms/r1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, 1.0, body["live"].(map[string]any)["members"])
	assert.NotContains(t, body, "ledger")

	w = ta.do(http.MethodGet, "/api/rooms/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExportRoom(t *testing.T) {
	ta := setupTestAPI(t, false)
	_, err := ta.reg.Join("c1", "r1", "ann")
	require.NoError(t, err)

	line := shape.Shape{ID: "s1", Type: shape.TypeLine, Color: "#ff0000", StrokeWidth: 3,
		Start: shape.Pt(0, 0), End: shape.Pt(100, 50)}
	ta.reg.RecordEvent("r1", line.ToPath())
	line.End = shape.Pt(200, 50)
	ta.reg.RecordEvent("r1", line.ToPath())

	w := ta.do(http.MethodGet, "/api/rooms/r1/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))

	img, err := png.Decode(w.Body)
	require.NoError(t, err)
	// Latest upsert wins: 200 wide plus stroke and padding.
	assert.Greater(t, img.Bounds().Dx(), 200)
}

func TestExportErrors(t *testing.T) {
	ta := setupTestAPI(t, false)
	_, err := ta.reg.Join("c1", "r1", "ann")
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, ta.do(http.MethodGet, "/api/rooms/nope/export", nil).Code)
	assert.Equal(t, http.StatusBadRequest, ta.do(http.MethodGet, "/api/rooms/r1/export?format=gif", nil).Code)
	assert.Equal(t, http.StatusNotImplemented, ta.do(http.MethodGet, "/api/rooms/r1/export?format=svg", nil).Code)
}

func TestAuthFlow(t *testing.T) {
	ta := setupTestAPI(t, false)
	creds := map[string]string{"username": "ann", "password": "pw"}

	w := ta.do(http.MethodPost, "/api/auth/register", creds)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, http.StatusConflict, ta.do(http.MethodPost, "/api/auth/register", creds).Code)

	bad := map[string]string{"username": "ann", "password": "nope"}
	assert.Equal(t, http.StatusUnauthorized, ta.do(http.MethodPost, "/api/auth/login", bad).Code)

	w = ta.do(http.MethodPost, "/api/auth/login", creds)
	require.Equal(t, http.StatusOK, w.Code)
	tok := decodeBody(t, w)["token"].(string)
	bearer := "Bearer " + tok

	w = ta.do(http.MethodGet, "/api/auth/me", nil, "Authorization", bearer)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ann", decodeBody(t, w)["username"])

	assert.Equal(t, http.StatusNoContent, ta.do(http.MethodPost, "/api/auth/logout", nil, "Authorization", bearer).Code)
	assert.Equal(t, http.StatusUnauthorized, ta.do(http.MethodGet, "/api/auth/me", nil, "Authorization", bearer).Code)
	assert.Equal(t, http.StatusUnauthorized, ta.do(http.MethodGet, "/api/auth/me", nil).Code)
}

func TestRegisterValidation(t *testing.T) {
	ta := setupTestAPI(t, false)
	w := ta.do(http.MethodPost, "/api/auth/register", map[string]string{"username": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteRoomRequiresAuth(t *testing.T) {
	ta := setupTestAPI(t, true)
	require.NoError(t, ta.ledger.AppendActivity("r", db.KindJoin, 1, time.Now()))

	assert.Equal(t, http.StatusUnauthorized, ta.do(http.MethodDelete, "/api/rooms/r", nil).Code)

	ctx := context.Background()
	_, err := ta.api.auth.Register(ctx, "admin", "pw")
	require.NoError(t, err)
	tok, err := ta.api.auth.IssueToken(ctx, "admin", "pw")
	require.NoError(t, err)

	w := ta.do(http.MethodDelete, "/api/rooms/r", nil, "Authorization", "Bearer "+tok.Value)
	require.Equal(t, http.StatusOK, w.Code)
	rec, err := ta.ledger.GetRoom("r")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestAuthRateLimited(t *testing.T) {
	ta := setupTestAPI(t, false, func(o *Options) {
		o.RequestsPerSecond = 0.001
		o.Burst = 2
	})
	creds := map[string]string{"username": "x", "password": "y"}
	assert.Equal(t, http.StatusUnauthorized, ta.do(http.MethodPost, "/api/auth/login", creds).Code)
	assert.Equal(t, http.StatusUnauthorized, ta.do(http.MethodPost, "/api/auth/login", creds).Code)
	assert.Equal(t, http.StatusTooManyRequests, ta.do(http.MethodPost, "/api/auth/login", creds).Code)

	// Non-auth routes are not limited.
	assert.Equal(t, http.StatusOK, ta.do(http.MethodGet, "/health", nil).Code)
}

func TestCORS(t *testing.T) {
	ta := setupTestAPI(t, false, func(o *Options) {
		o.AllowedOrigins = []string{"https://draw.example"}
	})

	w := ta.do(http.MethodOptions, "/api/rooms", nil, "Origin", "https://draw.example")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://draw.example", w.Header().Get("Access-Control-Allow-Origin"))

	w = ta.do(http.MethodGet, "/health", nil, "Origin", "https://evil.example")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
