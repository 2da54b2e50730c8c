package persistence

import (
	"errors"

	"github.com/polyglot-chat/polyglot/config"
	"github.com/polyglot-chat/polyglot/globals"
	"github.com/polyglot-chat/polyglot/types"
)

// ErrNotFound is returned by all lookups when the requested record does not
// exist, regardless of the backend.
var ErrNotFound = errors.New("record not found")

func translationCacheKey(text, source, target string) string {
	return source + ":" + target + ":" + text
}

type Persister interface {
	StoreUser(user types.User) error
	GetUser(user *types.User) error
	GetUserByName(username string) (*types.User, error)
	GetUsers() ([]*types.User, error)
	UpdateUserLanguage(userId, language string) error

	StoreRoom(room types.Room) error
	GetRoom(room *types.Room) error
	GetRoomByName(name string) (*types.Room, error)
	GetRooms() ([]*types.Room, error)
	GetOrCreateRoom(name string) (*types.Room, error)

	// SaveMessage assigns the message id and timestamp and stores the record.
	SaveMessage(msg *types.Message) error
	// GetMessages returns up to limit messages of a room in chronological
	// order, bounded by the most recent ones.
	GetMessages(roomId string, limit int) ([]types.Message, error)

	GetCachedTranslation(text, source, target string) (string, bool, error)
	CacheTranslation(text, source, target, translated string) error

	Close() error
}

// NewPersister creates the persister selected in the configuration. Without
// any persistence configuration the server runs on a non-durable in-memory
// store, consistent with message delivery being best-effort durable.
func NewPersister(cfg *config.Config) (Persister, error) {
	switch cfg.PersistenceConfig.Type {
	case "sqlite", "postgres":
		return NewGormPersister(cfg)
	case "buntdb":
		return NewBuntPersister(cfg.PersistenceConfig.DSN)
	case "":
		globals.AppLogger.Warn("no persistence configured, running in memory-only mode")
		return NewBuntPersister(":memory:")
	}
	return nil, errors.New("invalid persistence configuration")
}
