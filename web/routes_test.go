package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/polyglot-chat/polyglot/config"
	"github.com/polyglot-chat/polyglot/persistence"
	"github.com/polyglot-chat/polyglot/ratelimit"
	"github.com/polyglot-chat/polyglot/types"
	"github.com/polyglot-chat/polyglot/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTranslator struct{}

func (stubTranslator) TranslateText(_ context.Context, text, target, _ string) string {
	return target + ":" + text
}

func newTestServer(t *testing.T) (*Server, persistence.Persister) {
	t.Helper()
	persister, err := persistence.NewBuntPersister(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = persister.Close() })

	cfg := &config.Config{
		HistoryConfig: config.HistoryConfig{HistoryLimit: 50},
		AIConfig:      config.AIConfig{DefaultLanguage: "en"},
		AuthConfig:    config.AuthConfig{JWTSecret: "test-secret"},
	}
	hub := ws.NewHub(cfg, persister, nil, ratelimit.New(10, time.Minute))
	return NewServer(cfg, persister, stubTranslator{}, hub), persister
}

func doRequest(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	payload := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])
}

func TestLoginCreatesUser(t *testing.T) {
	s, persister := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/api/auth/login", map[string]string{
		"username":           "alice",
		"preferred_language": "es",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "alice", body["username"])
	assert.Equal(t, "es", body["preferred_language"])
	assert.Equal(t, body["user_id"], body["userId"])

	// the token is a valid session token for the created user
	claims, err := s.Tokens.Validate(body["token"].(string))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, body["user_id"], claims.UserId)

	user, err := persister.GetUserByName("alice")
	require.NoError(t, err)
	assert.Equal(t, "es", user.Language)
}

func TestLoginUpdatesLanguage(t *testing.T) {
	s, persister := newTestServer(t)
	first := doRequest(t, s, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "bob", "preferred_language": "en",
	})
	require.Equal(t, http.StatusOK, first.Code)

	second := doRequest(t, s, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "bob", "preferred_language": "fr",
	})
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, decodeBody(t, first)["user_id"], decodeBody(t, second)["user_id"])

	user, err := persister.GetUserByName("bob")
	require.NoError(t, err)
	assert.Equal(t, "fr", user.Language)
}

func TestLoginRejectsInvalidUsername(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/api/auth/login", map[string]string{
		"username": "bad!name",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "Invalid username")
}

func TestListRoomsBootstrapsDefault(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/api/rooms", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rooms := decodeBody(t, rec)["rooms"].([]interface{})
	require.Len(t, rooms, 1)
	assert.Equal(t, types.DefaultRoomName, rooms[0].(map[string]interface{})["room_name"])
}

func TestCreateRoom(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/api/rooms", map[string]string{"room_name": "dev"})
	require.Equal(t, http.StatusCreated, rec.Code)
	room := decodeBody(t, rec)["room"].(map[string]interface{})
	assert.Equal(t, "dev", room["room_name"])
	assert.NotEmpty(t, room["room_id"])

	// duplicates are rejected, case-insensitively
	rec = doRequest(t, s, http.MethodPost, "/api/rooms", map[string]string{"room_name": "Dev"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeBody(t, rec)["error"], "already exists")

	rec = doRequest(t, s, http.MethodPost, "/api/rooms", map[string]string{"room_name": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMessagesHistory(t *testing.T) {
	s, persister := newTestServer(t)
	room, err := persister.GetOrCreateRoom("dev")
	require.NoError(t, err)
	for _, text := range []string{"one", "two", "three"} {
		require.NoError(t, persister.SaveMessage(&types.Message{
			UserId:       "u1",
			Username:     "alice",
			RoomId:       room.Id,
			OriginalText: text,
		}))
		time.Sleep(time.Millisecond)
	}

	// the room reference may be a name, the limit keeps the most recent
	rec := doRequest(t, s, http.MethodGet, "/api/messages/dev?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(2), body["count"])
	messages := body["messages"].([]interface{})
	require.Len(t, messages, 2)
	assert.Equal(t, "two", messages[0].(map[string]interface{})["original_text"])
	assert.Equal(t, "three", messages[1].(map[string]interface{})["original_text"])

	rec = doRequest(t, s, http.MethodGet, "/api/messages/nowhere", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// the default room is created on demand
	rec = doRequest(t, s, http.MethodGet, "/api/messages/general", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decodeBody(t, rec)["count"])
}

func TestTranslateEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodPost, "/api/translate", map[string]string{
		"text":            "hola",
		"target_language": "en",
		"source_language": "es",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "en:hola", body["translated_text"])
	assert.Equal(t, "hola", body["original_text"])

	rec = doRequest(t, s, http.MethodPost, "/api/translate", map[string]string{"text": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRateLimitReset(t *testing.T) {
	s, _ := newTestServer(t)

	// no admin token configured: the endpoint is disabled
	rec := doRequest(t, s, http.MethodPost, "/api/admin/ratelimit/u1", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	s.Cfg.AuthConfig.AdminToken = "sesame"
	req := httptest.NewRequest(http.MethodPost, "/api/admin/ratelimit/u1", nil)
	req.Header.Set("X-Admin-Token", "wrong")
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/admin/ratelimit/u1", nil)
	req.Header.Set("X-Admin-Token", "sesame")
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
