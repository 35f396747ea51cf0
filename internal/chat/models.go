package chat

import (
	"encoding/json"
	"time"

	"github.com/suPer8Hu/podflix/internal/ai"
	"github.com/suPer8Hu/podflix/internal/transcript"
)

type Session struct {
	ID           uint64     `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID    string     `gorm:"type:varchar(26);uniqueIndex;not null" json:"session_id"`
	UserID       uint64     `gorm:"index;not null" json:"-"`
	AppType      string     `gorm:"type:varchar(16);not null" json:"app_type"`
	Provider     string     `gorm:"type:varchar(32);not null" json:"provider"`
	Model        string     `gorm:"type:varchar(64);not null" json:"model"`
	Name         string     `gorm:"type:varchar(255);not null;default:''" json:"name"`
	Settings     string     `gorm:"type:text" json:"-"`
	TranscriptID *uint64    `json:"transcript_id,omitempty"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (Session) TableName() string { return "chat_sessions" }

// GenerationSettings decodes the stored settings, falling back to defaults.
func (s *Session) GenerationSettings() ai.GenerationSettings {
	def := ai.DefaultSettings(s.Model)
	if s.Settings == "" {
		return def
	}
	var stored ai.GenerationSettings
	if err := json.Unmarshal([]byte(s.Settings), &stored); err != nil {
		return def
	}
	return def.Merge(stored)
}

type Message struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID string    `gorm:"type:varchar(26);not null;index:idx_chat_msg_user_session_id,priority:2" json:"session_id"`
	UserID    uint64    `gorm:"not null;index:idx_chat_msg_user_session_id,priority:1" json:"-"`
	Role      string    `gorm:"type:varchar(16);not null" json:"role"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	RunID     *string   `gorm:"type:varchar(64)" json:"run_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (Message) TableName() string { return "chat_messages" }

// Transcript is the stored form of a transcript.Transcript. Segments are
// kept as JSON text.
type Transcript struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID string    `gorm:"type:varchar(26);not null;index" json:"session_id"`
	UserID    uint64    `gorm:"not null" json:"-"`
	Source    string    `gorm:"type:varchar(16);not null" json:"source"`
	SourceRef string    `gorm:"type:varchar(1024);not null" json:"source_ref"`
	Language  string    `gorm:"type:varchar(16);not null;default:''" json:"language,omitempty"`
	ObjectKey string    `gorm:"type:varchar(1024);not null;default:''" json:"object_key,omitempty"`
	MediaURL  string    `gorm:"type:varchar(2048);not null;default:''" json:"media_url,omitempty"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	Segments  string    `gorm:"type:text;not null" json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

func (Transcript) TableName() string { return "transcripts" }

func (t *Transcript) Decode() (transcript.Transcript, error) {
	out := transcript.Transcript{Text: t.Text, Segments: []transcript.Segment{}}
	if t.Segments == "" {
		return out, nil
	}
	err := json.Unmarshal([]byte(t.Segments), &out.Segments)
	return out, err
}

func encodeSegments(segs []transcript.Segment) (string, error) {
	if segs == nil {
		segs = []transcript.Segment{}
	}
	b, err := json.Marshal(segs)
	return string(b), err
}
