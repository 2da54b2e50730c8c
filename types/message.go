package types

import "time"

// Message is one fully processed chat message. It is append-only: once
// stored it is never mutated or deleted.
type Message struct {
	Id                string          `json:"message_id" gorm:"primaryKey"`
	UserId            string          `json:"user_id"`
	Username          string          `json:"username"`
	RoomId            string          `json:"room_id" gorm:"index"`
	OriginalText      string          `json:"original_text"`
	SourceLanguage    string          `json:"source_language"`
	Timestamp         time.Time       `json:"timestamp" gorm:"index"`
	IsFlagged         bool            `json:"is_flagged"`
	ToxicityScore     float64         `json:"toxicity_score"`
	FlaggedCategories JSONStringSlice `json:"flagged_categories"`
	Translations      JSONStringMap   `json:"translations"` // language code -> translated text
}

// TranslationCacheEntry caches one (text, source, target) translation.
// Entries are write-once per key, duplicate writes are harmless.
type TranslationCacheEntry struct {
	CacheKey       string    `json:"-" gorm:"primaryKey"`
	OriginalText   string    `json:"original_text"`
	SourceLanguage string    `json:"source_language"`
	TargetLanguage string    `json:"target_language"`
	TranslatedText string    `json:"translated_text"`
	CreatedAt      time.Time `json:"-"`
}
