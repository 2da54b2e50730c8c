package persistence

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/polyglot-chat/polyglot/config"
	"github.com/polyglot-chat/polyglot/types"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormPersist struct {
	db *gorm.DB
}

func NewGormPersister(cfg *config.Config) (Persister, error) {
	db, err := setupGormDB(cfg)
	if err != nil {
		return nil, err
	}
	p := GormPersist{db: db}
	return &p, nil
}

func setupGormDB(cfg *config.Config) (*gorm.DB, error) {
	if cfg.PersistenceConfig.DSN == "" {
		return nil, fmt.Errorf("no DSN configured")
	}
	var dial gorm.Dialector
	switch cfg.PersistenceConfig.Type {
	case "postgres":
		dial = postgres.Open(cfg.PersistenceConfig.DSN)

	case "sqlite":
		dial = sqlite.Open(cfg.PersistenceConfig.DSN)

	default:
		return nil, fmt.Errorf("invalid gorm configuration")
	}
	db, err := gorm.Open(dial, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	err = db.Migrator().AutoMigrate(&types.User{}, &types.Room{}, &types.Message{}, &types.TranslationCacheEntry{})
	if err != nil {
		return nil, err
	}
	return db, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (p *GormPersist) StoreUser(user types.User) error {
	return p.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&user).Error
}

func (p *GormPersist) GetUser(user *types.User) error {
	return notFound(p.db.First(user).Error)
}

func (p *GormPersist) GetUserByName(username string) (*types.User, error) {
	user := types.User{}
	err := p.db.Where("username = ?", username).First(&user).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (p *GormPersist) GetUsers() ([]*types.User, error) {
	users := make([]*types.User, 0)
	err := p.db.Find(&users).Error
	return users, err
}

func (p *GormPersist) UpdateUserLanguage(userId, language string) error {
	return p.db.Model(&types.User{Id: userId}).Update("language", language).Error
}

func (p *GormPersist) StoreRoom(room types.Room) error {
	return p.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&room).Error
}

func (p *GormPersist) GetRoom(room *types.Room) error {
	return notFound(p.db.First(room).Error)
}

func (p *GormPersist) GetRoomByName(name string) (*types.Room, error) {
	room := types.Room{}
	err := p.db.Where("LOWER(name) = LOWER(?)", name).First(&room).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &room, nil
}

func (p *GormPersist) GetRooms() ([]*types.Room, error) {
	rooms := make([]*types.Room, 0)
	err := p.db.Find(&rooms).Error
	return rooms, err
}

func (p *GormPersist) GetOrCreateRoom(name string) (*types.Room, error) {
	room, err := p.GetRoomByName(name)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	room = &types.Room{
		Id:        uuid.NewString(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if err := p.StoreRoom(*room); err != nil {
		return nil, err
	}
	return room, nil
}

func (p *GormPersist) SaveMessage(msg *types.Message) error {
	msg.Id = uuid.NewString()
	msg.Timestamp = time.Now().UTC()
	return p.db.Create(msg).Error
}

func (p *GormPersist) GetMessages(roomId string, limit int) ([]types.Message, error) {
	messages := make([]types.Message, 0)
	err := p.db.Where("room_id = ?", roomId).Order("timestamp DESC").Limit(limit).Find(&messages).Error
	if err != nil {
		return nil, err
	}
	// most-recent-bounded, returned in chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (p *GormPersist) GetCachedTranslation(text, source, target string) (string, bool, error) {
	entry := types.TranslationCacheEntry{}
	err := p.db.Where("cache_key = ?", translationCacheKey(text, source, target)).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return entry.TranslatedText, true, nil
}

func (p *GormPersist) CacheTranslation(text, source, target, translated string) error {
	entry := types.TranslationCacheEntry{
		CacheKey:       translationCacheKey(text, source, target),
		OriginalText:   text,
		SourceLanguage: source,
		TargetLanguage: target,
		TranslatedText: translated,
		CreatedAt:      time.Now().UTC(),
	}
	// write-once, duplicate writes for the same key are harmless
	return p.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&entry).Error
}

func (p *GormPersist) Close() error {
	return nil
}
