package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/polyglot-chat/polyglot/config"
	"github.com/polyglot-chat/polyglot/globals"
	"github.com/polyglot-chat/polyglot/persistence"
	"github.com/polyglot-chat/polyglot/ratelimit"
	"github.com/polyglot-chat/polyglot/types"
)

// Enricher augments a message with language detection, moderation and
// translations. All methods fail soft; they never return an error.
// The ai.Pipeline satisfies this.
type Enricher interface {
	DetectLanguage(ctx context.Context, text string) string
	ModerateContent(ctx context.Context, text string) types.ModerationResult
	TranslateForUsers(ctx context.Context, text, source string, targets []string) map[string]string
}

// Hub coordinates the session lifecycle: join, leave, disconnect, typing and
// the full message pipeline. The AI provider is never invoked while a
// registry lock is held.
type Hub struct {
	Registry  *Registry
	Cfg       *config.Config
	Persister persistence.Persister
	Enricher  Enricher
	Limiter   *ratelimit.Limiter
}

func NewHub(cfg *config.Config, persister persistence.Persister, enricher Enricher, limiter *ratelimit.Limiter) *Hub {
	return &Hub{
		Registry:  NewRegistry(),
		Cfg:       cfg,
		Persister: persister,
		Enricher:  enricher,
		Limiter:   limiter,
	}
}

// HandleConnect registers the client and acknowledges the connection.
func (h *Hub) HandleConnect(c *Client) {
	h.Registry.Register(c)
	globals.AppLogger.Info("client connected", "connection", c.Id)
	h.sendEvent(c, types.EventConnected, types.ConnectedPayload{
		Status:       "connected",
		ConnectionId: c.Id,
	})
}

// HandleJoin resolves the room reference, binds the client's identity and
// announces the new member to the rest of the room. Rejoining a room only
// refreshes the identity and the preferred language.
func (h *Hub) HandleJoin(c *Client, payload types.JoinRoomPayload) {
	if payload.UserId == "" || payload.Username == "" {
		h.sendError(c, "user_id and username are required")
		return
	}
	ref := payload.RoomRef
	if ref == "" {
		ref = types.DefaultRoomName
	}
	room, err := h.resolveRoom(ref)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			h.sendError(c, fmt.Sprintf("Room %q not found", ref))
		} else {
			globals.AppLogger.Error("could not resolve room", "room", ref, "error", err)
			h.sendError(c, "Failed to join room")
		}
		return
	}

	alreadyMember := h.Registry.Join(c, room.Id, payload.UserId, payload.Username, normalizeLanguage(payload.Language))
	globals.AppLogger.Info("user joined room", "user", payload.Username, "room", room.Name, "room_id", room.Id)

	h.sendEvent(c, types.EventJoinedRoom, types.JoinedRoomPayload{
		RoomId:   room.Id,
		RoomName: room.Name,
		Username: payload.Username,
	})
	if !alreadyMember {
		h.broadcast(room.Id, types.EventUserJoined, types.UserJoinedPayload{
			Username: payload.Username,
			RoomId:   room.Id,
			RoomName: room.Name,
		}, c)
	}
}

// HandleLeave removes the membership and notifies the remaining members.
// Leaving a room the client is not in acknowledges without notifying anyone.
func (h *Hub) HandleLeave(c *Client, payload types.LeaveRoomPayload) {
	_, username, ok := h.Registry.Identity(c)
	if !ok {
		return
	}
	wasMember := h.Registry.Leave(c, payload.RoomId)
	globals.AppLogger.Info("user left room", "user", username, "room_id", payload.RoomId)

	h.sendEvent(c, types.EventLeftRoom, types.LeftRoomPayload{RoomId: payload.RoomId})
	if wasMember {
		h.broadcast(payload.RoomId, types.EventUserLeft, types.UserLeftPayload{
			Username: username,
			RoomId:   payload.RoomId,
		}, c)
	}
}

// HandleDisconnect removes the client from every room it belonged to and
// emits one user_left per room. Safe for clients that never joined anything.
func (h *Hub) HandleDisconnect(c *Client) {
	_, username, _ := h.Registry.Identity(c)
	left := h.Registry.Disconnect(c)
	for _, roomId := range left {
		h.broadcast(roomId, types.EventUserLeft, types.UserLeftPayload{
			Username: username,
			RoomId:   roomId,
		}, c)
	}
	if username != "" {
		globals.AppLogger.Info("user disconnected", "user", username, "connection", c.Id)
	} else {
		globals.AppLogger.Info("client disconnected", "connection", c.Id)
	}
}

// HandleSendMessage runs the full message pipeline: validation, rate limit,
// AI enrichment, persistence, broadcast. Validation failures are reported
// with specific reasons; anything failing after validation becomes a generic
// error to the sender and never corrupts membership state.
func (h *Hub) HandleSendMessage(c *Client, payload types.SendMessagePayload) {
	userId, username, ok := h.Registry.Identity(c)
	if !ok || userId == "" {
		h.sendError(c, "Not authenticated. Please join a room first.")
		return
	}
	text := strings.TrimSpace(payload.Text)
	if text == "" {
		// rejected before the limiter so it does not consume a slot
		h.sendError(c, "Message text cannot be empty")
		return
	}
	if allowed, detail := h.Limiter.IsAllowed(userId); !allowed {
		h.sendError(c, detail)
		return
	}
	if !h.Registry.IsMember(c, payload.RoomId) {
		h.sendError(c, "You are not in this room")
		return
	}

	if err := h.processMessage(payload.RoomId, userId, username, text); err != nil {
		globals.AppLogger.Error("send message failed", "error", err, "user", userId, "room", payload.RoomId)
		h.sendError(c, "Failed to send message")
	}
}

// processMessage enriches, persists and broadcasts one validated message.
func (h *Hub) processMessage(roomId, userId, username, text string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("message pipeline: %v", r)
		}
	}()
	ctx := context.Background()

	// detection and moderation are independent
	var source string
	var moderation types.ModerationResult
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		source = h.Enricher.DetectLanguage(ctx, text)
	}()
	go func() {
		defer wg.Done()
		moderation = h.Enricher.ModerateContent(ctx, text)
	}()
	wg.Wait()

	targets := h.Registry.TargetLanguages(roomId)
	if len(targets) == 0 {
		// room emptied by a concurrent disconnect
		targets = []string{"en"}
	}
	translations := h.Enricher.TranslateForUsers(ctx, text, source, targets)

	msg := &types.Message{
		UserId:            userId,
		Username:          username,
		RoomId:            roomId,
		OriginalText:      text,
		SourceLanguage:    source,
		IsFlagged:         moderation.IsFlagged,
		ToxicityScore:     moderation.ToxicityScore,
		FlaggedCategories: moderation.FlaggedCategories,
		Translations:      translations,
	}
	if saveErr := h.Persister.SaveMessage(msg); saveErr != nil {
		// best-effort durability: broadcast anyway, but never silently
		globals.AppLogger.Warn("message broadcast without durable record", "error", saveErr, "user", userId, "room", roomId)
	}
	if msg.Id == "" {
		msg.Id = uuid.NewString()
		msg.Timestamp = time.Now().UTC()
	}

	// the sender receives the enriched message as well
	h.broadcast(roomId, types.EventReceiveMessage, msg, nil)
	globals.AppLogger.Info("message sent", "user", username, "room", roomId, "flagged", msg.IsFlagged)
	return nil
}

// HandleTyping relays the typing flag to the other members of the room.
// Best-effort: never persisted, never rate limited, never fails loudly.
func (h *Hub) HandleTyping(c *Client, payload types.UserTypingPayload) {
	_, username, ok := h.Registry.Identity(c)
	if !ok {
		return
	}
	if !h.Registry.IsMember(c, payload.RoomId) {
		return
	}
	h.broadcast(payload.RoomId, types.EventUserTyping, types.UserTypingBroadcast{
		Username: username,
		RoomId:   payload.RoomId,
		IsTyping: payload.IsTyping,
	}, c)
}

// ResolveRoom resolves a user-supplied room reference by id, then by name.
// The well-known default room is created on demand; any other unknown
// reference is persistence.ErrNotFound.
func (h *Hub) resolveRoom(ref string) (*types.Room, error) {
	room := types.Room{Id: ref}
	err := h.Persister.GetRoom(&room)
	if err == nil {
		return &room, nil
	}
	if !errors.Is(err, persistence.ErrNotFound) {
		return nil, err
	}
	byName, err := h.Persister.GetRoomByName(ref)
	if err == nil {
		return byName, nil
	}
	if !errors.Is(err, persistence.ErrNotFound) {
		return nil, err
	}
	if strings.EqualFold(ref, types.DefaultRoomName) {
		return h.Persister.GetOrCreateRoom(types.DefaultRoomName)
	}
	return nil, persistence.ErrNotFound
}

func (h *Hub) sendEvent(c *Client, event string, payload interface{}) {
	data, err := marshalEvent(event, payload)
	if err != nil {
		globals.AppLogger.Error("could not marshal event", "event", event, "error", err)
		return
	}
	h.Registry.SendTo(c, data)
}

func (h *Hub) sendError(c *Client, message string) {
	h.sendEvent(c, types.EventError, types.ErrorPayload{Message: message})
}

func (h *Hub) broadcast(roomId, event string, payload interface{}, except *Client) {
	data, err := marshalEvent(event, payload)
	if err != nil {
		globals.AppLogger.Error("could not marshal event", "event", event, "error", err)
		return
	}
	h.Registry.Broadcast(roomId, data, except)
}

func marshalEvent(event string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(types.WebsocketMessage{Event: event, Data: data})
}

// normalizeLanguage clamps a user-supplied language to an alpha-2 code.
func normalizeLanguage(language string) string {
	if len(language) > 2 {
		language = language[0:2]
	}
	if len(language) < 2 {
		language = "en"
	}
	return strings.ToLower(language)
}
