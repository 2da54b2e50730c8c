package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/polyglot-chat/polyglot/config"
	"github.com/polyglot-chat/polyglot/globals"
	"github.com/polyglot-chat/polyglot/persistence"
	"github.com/polyglot-chat/polyglot/types"
	"github.com/polyglot-chat/polyglot/ws"
)

const maxHistoryLimit = 100

// Translator is the part of the AI pipeline the HTTP API needs.
type Translator interface {
	TranslateText(ctx context.Context, text, target, source string) string
}

// Server exposes the REST API and the websocket endpoint.
type Server struct {
	Cfg        *config.Config
	Persister  persistence.Persister
	Translator Translator
	Hub        *ws.Hub
	Tokens     *TokenManager

	upgrader websocket.Upgrader
}

func NewServer(cfg *config.Config, persister persistence.Persister, translator Translator, hub *ws.Hub) *Server {
	return &Server{
		Cfg:        cfg,
		Persister:  persister,
		Translator: translator,
		Hub:        hub,
		Tokens:     NewTokenManager(cfg.AuthConfig.JWTSecret),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Router builds the full route table.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	router.HandleFunc("/ws", s.websocketHandler).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/login", s.loginHandler).Methods(http.MethodPost)
	api.HandleFunc("/rooms", s.listRoomsHandler).Methods(http.MethodGet)
	api.HandleFunc("/rooms", s.createRoomHandler).Methods(http.MethodPost)
	api.HandleFunc("/messages/{room}", s.messagesHandler).Methods(http.MethodGet)
	api.HandleFunc("/translate", s.translateHandler).Methods(http.MethodPost)
	api.HandleFunc("/admin/ratelimit/{user}", s.resetRateLimitHandler).Methods(http.MethodPost)
	return router
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "polyglot",
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Language string `json:"preferred_language"`
}

// loginHandler gets or creates the user by name and hands out a session token.
func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	req := loginRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	username := strings.TrimSpace(req.Username)
	if !ValidUsername(username) {
		writeError(w, http.StatusBadRequest, "Invalid username. Username must be 1-50 characters and contain only alphanumeric characters, spaces, underscores, or hyphens.")
		return
	}
	language := req.Language
	if language == "" {
		language = s.Cfg.AIConfig.DefaultLanguage
	}

	user, err := s.Persister.GetUserByName(username)
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		user = &types.User{
			Id:        uuid.NewString(),
			Username:  username,
			Language:  language,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.Persister.StoreUser(*user); err != nil {
			globals.AppLogger.Error("could not store user", "user", username, "error", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		globals.AppLogger.Info("user created", "user", username, "language", language)
	case err != nil:
		globals.AppLogger.Error("could not look up user", "user", username, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	default:
		if req.Language != "" && req.Language != user.Language {
			user.Language = req.Language
			if err := s.Persister.UpdateUserLanguage(user.Id, req.Language); err != nil {
				globals.AppLogger.Warn("could not update user language", "user", username, "error", err)
			}
		}
	}

	token, err := s.Tokens.Issue(user.Id, user.Username, user.Language)
	if err != nil {
		globals.AppLogger.Error("could not sign session token", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	globals.AppLogger.Info("user logged in", "user", username)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"userId":             user.Id,
		"user_id":            user.Id,
		"username":           user.Username,
		"token":              token,
		"preferred_language": user.Language,
	})
}

func (s *Server) listRoomsHandler(w http.ResponseWriter, _ *http.Request) {
	rooms, err := s.Persister.GetRooms()
	if err != nil {
		globals.AppLogger.Error("could not list rooms", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if len(rooms) == 0 {
		room, err := s.Persister.GetOrCreateRoom(types.DefaultRoomName)
		if err != nil {
			globals.AppLogger.Error("could not create default room", "error", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		rooms = []*types.Room{room}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rooms": rooms})
}

type createRoomRequest struct {
	RoomName string `json:"room_name"`
}

func (s *Server) createRoomHandler(w http.ResponseWriter, r *http.Request) {
	req := createRoomRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	name := strings.TrimSpace(req.RoomName)
	if !ValidRoomName(name) {
		writeError(w, http.StatusBadRequest, "Invalid room name. Room name must be 1-50 characters.")
		return
	}
	if _, err := s.Persister.GetRoomByName(name); err == nil {
		writeError(w, http.StatusBadRequest, "Room with this name already exists")
		return
	} else if !errors.Is(err, persistence.ErrNotFound) {
		globals.AppLogger.Error("could not look up room", "room", name, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	room := types.Room{
		Id:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.Persister.StoreRoom(room); err != nil {
		globals.AppLogger.Error("could not store room", "room", name, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	globals.AppLogger.Info("room created", "room", name, "room_id", room.Id)
	writeJSON(w, http.StatusCreated, map[string]interface{}{"room": room})
}

// messagesHandler returns the most recent messages of a room in
// chronological order. The path segment may be a room id or a room name.
func (s *Server) messagesHandler(w http.ResponseWriter, r *http.Request) {
	ref := mux.Vars(r)["room"]
	limit := s.Cfg.HistoryConfig.HistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	room, err := s.resolveRoom(ref)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Room not found")
		} else {
			globals.AppLogger.Error("could not resolve room", "room", ref, "error", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}
	messages, err := s.Persister.GetMessages(room.Id, limit)
	if err != nil {
		globals.AppLogger.Error("could not load messages", "room", room.Id, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages": messages,
		"count":    len(messages),
	})
}

type translateRequest struct {
	Text           string `json:"text"`
	TargetLanguage string `json:"target_language"`
	SourceLanguage string `json:"source_language"`
}

// translateHandler translates a single text on demand, outside of any room.
func (s *Server) translateHandler(w http.ResponseWriter, r *http.Request) {
	req := translateRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "Text is required")
		return
	}
	if req.TargetLanguage == "" {
		req.TargetLanguage = s.Cfg.AIConfig.DefaultLanguage
	}
	if req.SourceLanguage == "" {
		req.SourceLanguage = "auto"
	}
	translated := s.Translator.TranslateText(r.Context(), req.Text, req.TargetLanguage, req.SourceLanguage)
	writeJSON(w, http.StatusOK, map[string]string{
		"original_text":   req.Text,
		"translated_text": translated,
		"source_language": req.SourceLanguage,
		"target_language": req.TargetLanguage,
	})
}

// resetRateLimitHandler clears the rate limit history of one user. Guarded by
// the shared admin token; disabled entirely when no token is configured.
func (s *Server) resetRateLimitHandler(w http.ResponseWriter, r *http.Request) {
	adminToken := s.Cfg.AuthConfig.AdminToken
	if adminToken == "" || r.Header.Get("X-Admin-Token") != adminToken {
		writeError(w, http.StatusForbidden, "Forbidden")
		return
	}
	userId := mux.Vars(r)["user"]
	s.Hub.Limiter.Reset(userId)
	globals.AppLogger.Info("rate limit reset", "user", userId)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// websocketHandler upgrades the connection and runs the client loops. The
// handler returns when the read loop ends, which also tears down membership.
func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		globals.AppLogger.Error("websocket upgrade error", "error", err)
		return
	}
	c := ws.NewClient(s.Hub, conn)
	s.Hub.HandleConnect(c)
	go c.WriteLoop()
	c.ReadLoop()
}

func (s *Server) resolveRoom(ref string) (*types.Room, error) {
	room := types.Room{Id: ref}
	err := s.Persister.GetRoom(&room)
	if err == nil {
		return &room, nil
	}
	if !errors.Is(err, persistence.ErrNotFound) {
		return nil, err
	}
	byName, err := s.Persister.GetRoomByName(ref)
	if err == nil {
		return byName, nil
	}
	if !errors.Is(err, persistence.ErrNotFound) {
		return nil, err
	}
	if strings.EqualFold(ref, types.DefaultRoomName) {
		return s.Persister.GetOrCreateRoom(types.DefaultRoomName)
	}
	return nil, persistence.ErrNotFound
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		globals.AppLogger.Error("could not write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
