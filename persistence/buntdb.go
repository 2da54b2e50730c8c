package persistence

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/polyglot-chat/polyglot/types"
	"github.com/tidwall/buntdb"
)

// key layout:
//   user:<id>                       user record (json)
//   username:<lower username>       user id
//   room:<id>                       room record (json)
//   roomname:<lower name>           room id
//   message:<room>:<ts>:<id>        message record (json), ts fixed-width
//   translation:<src>:<tgt>:<text>  translated text

const messageTimeLayout = "2006-01-02T15:04:05.000000000Z"

type BuntDBPersist struct {
	db *buntdb.DB
}

// NewBuntPersister opens the file-backed embedded store, or a purely
// in-memory one for the special path ":memory:".
func NewBuntPersister(path string) (Persister, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	return &BuntDBPersist{db: db}, nil
}

func buntNotFound(err error) error {
	if errors.Is(err, buntdb.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func (p *BuntDBPersist) StoreUser(user types.User) error {
	u, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		if _, _, err := tx.Set("user:"+user.Id, string(u), nil); err != nil {
			return err
		}
		_, _, err := tx.Set("username:"+strings.ToLower(user.Username), user.Id, nil)
		return err
	})
}

func (p *BuntDBPersist) GetUser(user *types.User) error {
	if user.Id == "" {
		return ErrNotFound
	}
	return p.db.View(func(tx *buntdb.Tx) error {
		u, err := tx.Get("user:" + user.Id)
		if err != nil {
			return buntNotFound(err)
		}
		return json.Unmarshal([]byte(u), user)
	})
}

func (p *BuntDBPersist) GetUserByName(username string) (*types.User, error) {
	user := types.User{}
	err := p.db.View(func(tx *buntdb.Tx) error {
		id, err := tx.Get("username:" + strings.ToLower(username))
		if err != nil {
			return buntNotFound(err)
		}
		u, err := tx.Get("user:" + id)
		if err != nil {
			return buntNotFound(err)
		}
		return json.Unmarshal([]byte(u), &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (p *BuntDBPersist) GetUsers() ([]*types.User, error) {
	users := make([]*types.User, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		var innerErr error
		err := tx.AscendKeys("user:*", func(key, value string) bool {
			user := types.User{}
			if innerErr = json.Unmarshal([]byte(value), &user); innerErr != nil {
				return false
			}
			users = append(users, &user)
			return true
		})
		if innerErr != nil {
			return innerErr
		}
		return err
	})
	return users, err
}

func (p *BuntDBPersist) UpdateUserLanguage(userId, language string) error {
	user := types.User{Id: userId}
	if err := p.GetUser(&user); err != nil {
		return err
	}
	user.Language = language
	return p.StoreUser(user)
}

func (p *BuntDBPersist) StoreRoom(room types.Room) error {
	r, err := json.Marshal(room)
	if err != nil {
		return err
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		if _, _, err := tx.Set("room:"+room.Id, string(r), nil); err != nil {
			return err
		}
		_, _, err := tx.Set("roomname:"+strings.ToLower(room.Name), room.Id, nil)
		return err
	})
}

func (p *BuntDBPersist) GetRoom(room *types.Room) error {
	if room.Id == "" {
		return ErrNotFound
	}
	return p.db.View(func(tx *buntdb.Tx) error {
		r, err := tx.Get("room:" + room.Id)
		if err != nil {
			return buntNotFound(err)
		}
		return json.Unmarshal([]byte(r), room)
	})
}

func (p *BuntDBPersist) GetRoomByName(name string) (*types.Room, error) {
	room := types.Room{}
	err := p.db.View(func(tx *buntdb.Tx) error {
		id, err := tx.Get("roomname:" + strings.ToLower(name))
		if err != nil {
			return buntNotFound(err)
		}
		r, err := tx.Get("room:" + id)
		if err != nil {
			return buntNotFound(err)
		}
		return json.Unmarshal([]byte(r), &room)
	})
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (p *BuntDBPersist) GetRooms() ([]*types.Room, error) {
	rooms := make([]*types.Room, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		var innerErr error
		err := tx.AscendKeys("room:*", func(key, value string) bool {
			room := types.Room{}
			if innerErr = json.Unmarshal([]byte(value), &room); innerErr != nil {
				return false
			}
			rooms = append(rooms, &room)
			return true
		})
		if innerErr != nil {
			return innerErr
		}
		return err
	})
	return rooms, err
}

func (p *BuntDBPersist) GetOrCreateRoom(name string) (*types.Room, error) {
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

func (p *BuntDBPersist) SaveMessage(msg *types.Message) error {
	msg.Id = uuid.NewString()
	msg.Timestamp = time.Now().UTC()
	m, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	key := "message:" + msg.RoomId + ":" + msg.Timestamp.Format(messageTimeLayout) + ":" + msg.Id
	return p.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, string(m), nil)
		return err
	})
}

func (p *BuntDBPersist) GetMessages(roomId string, limit int) ([]types.Message, error) {
	messages := make([]types.Message, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		var innerErr error
		// the fixed-width timestamp in the key makes lexical order
		// chronological, so descending iteration yields newest first
		err := tx.DescendKeys("message:"+roomId+":*", func(key, value string) bool {
			if len(messages) >= limit {
				return false
			}
			msg := types.Message{}
			if innerErr = json.Unmarshal([]byte(value), &msg); innerErr != nil {
				return false
			}
			messages = append(messages, msg)
			return true
		})
		if innerErr != nil {
			return innerErr
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (p *BuntDBPersist) GetCachedTranslation(text, source, target string) (string, bool, error) {
	var translated string
	err := p.db.View(func(tx *buntdb.Tx) error {
		t, err := tx.Get("translation:" + translationCacheKey(text, source, target))
		if err != nil {
			return buntNotFound(err)
		}
		translated = t
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return translated, true, nil
}

func (p *BuntDBPersist) CacheTranslation(text, source, target, translated string) error {
	return p.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set("translation:"+translationCacheKey(text, source, target), translated, nil)
		return err
	})
}

func (p *BuntDBPersist) Close() error {
	return p.db.Close()
}
