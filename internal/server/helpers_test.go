package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"huddle/internal/config"
	"huddle/internal/database"
	"huddle/internal/middleware"
	"huddle/internal/models"
	"huddle/internal/notifications"
	"huddle/internal/service"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "test-secret-that-is-long-enough-for-hs256"

type harness struct {
	srv   *Server
	users []models.User
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	return db
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Env:             "test",
		Port:            "0",
		JWTSecret:       testSecret,
		DBDriver:        "sqlite",
		FeatureFlags:    "call_history=on",
		PresenceBackend: "local",
		UploadDir:       t.TempDir(),
		UploadBaseURL:   "/uploads",
		AllowedOrigins:  "http://localhost:5173",
	}
}

// newHarness builds a server over an in-memory database with four users.
// rdb may be nil.
func newHarness(t *testing.T, rdb *redis.Client) *harness {
	t.Helper()
	db := setupTestDB(t)

	h := &harness{}
	for i, name := range []string{"Ann Lee", "Bob Stone", "Cy Park", "Di Moss"} {
		u := models.User{Username: fmt.Sprintf("user%d", i+1), DisplayName: name}
		require.NoError(t, db.Create(&u).Error)
		h.users = append(h.users, u)
	}

	srv, err := NewServerWithDeps(testConfig(t), db, rdb)
	require.NoError(t, err)
	h.srv = srv
	return h
}

func (h *harness) id(i int) uint {
	return h.users[i].ID
}

// connect attaches a session for user i and, when login is set, logs it in
// and discards the frames that produced.
func (h *harness) connect(t *testing.T, i int, connID string, login bool) *notifications.Client {
	t.Helper()
	c := notifications.NewClient(h.srv.dispatcher, nil, connID, h.id(i))
	require.NoError(t, h.srv.rooms.Attach(c))
	if login {
		h.emit(t, c, inLogin, map[string]uint{"userId": h.id(i)})
		require.True(t, c.LoggedIn())
		frames(c)
	}
	return c
}

func (h *harness) emit(t *testing.T, c *notifications.Client, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"event": event, "data": data})
	require.NoError(t, err)
	h.srv.dispatcher.Dispatch(c, raw)
}

func (h *harness) direct(t *testing.T, a, b int) *models.Conversation {
	t.Helper()
	conv, err := h.srv.convService.CreateDirect(context.Background(), h.id(a), h.id(b))
	require.NoError(t, err)
	return conv
}

// groupInput describes a group created by user 0 with the given members.
func groupInput(h *harness, name string, members ...int) service.CreateGroupInput {
	in := service.CreateGroupInput{CreatorID: h.id(0), Name: name}
	for _, i := range members {
		in.MemberIDs = append(in.MemberIDs, h.id(i))
	}
	return in
}

func (h *harness) token(t *testing.T, i int) string {
	t.Helper()
	tok, err := middleware.SignUserToken(testSecret, h.id(i), time.Hour)
	require.NoError(t, err)
	return tok
}

func (h *harness) get(t *testing.T, path, token string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := h.srv.App().Test(req, -1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// frames drains every queued frame of c.
func frames(c *notifications.Client) []notifications.Envelope {
	var out []notifications.Envelope
	for {
		select {
		case msg := <-c.Send:
			var env notifications.Envelope
			if err := json.Unmarshal(msg, &env); err == nil {
				out = append(out, env)
			}
		default:
			return out
		}
	}
}

func named(envs []notifications.Envelope, event string) []notifications.Envelope {
	var out []notifications.Envelope
	for _, e := range envs {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// lastError returns the payload of the newest error frame of c.
func lastError(t *testing.T, c *notifications.Client) errorPayload {
	t.Helper()
	errs := named(frames(c), notifications.EventError)
	require.NotEmpty(t, errs, "no error frame")
	var p errorPayload
	require.NoError(t, json.Unmarshal(errs[len(errs)-1].Data, &p))
	return p
}

func decodeData[T any](t *testing.T, env notifications.Envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}
