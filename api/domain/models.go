package domain

import "time"

// Source identifies who produced a conversation entry.
type Source string

const (
	SourceUser   Source = "user"
	SourceAgent  Source = "agent"
	SourceSystem Source = "system"
)

// ContentType classifies a conversation entry's payload.
type ContentType string

const (
	ContentText  ContentType = "text"
	ContentSing  ContentType = "sing"
	ContentImage ContentType = "image"
	ContentCmd   ContentType = "cmd"
)

// NormalizeContentType maps legacy values onto the canonical set.
func NormalizeContentType(s string) ContentType {
	if s == "picture" {
		return ContentImage
	}
	return ContentType(s)
}

type User struct {
	UUID               string     `json:"uuid"`
	Username           string     `json:"username"`
	PasswordHash       string     `json:"-"`
	CreatedAt          time.Time  `json:"created_at"`
	LastLogin          *time.Time `json:"last_login,omitempty"`
	Nickname           string     `json:"nickname"`
	Description        string     `json:"description"`
	ContextSummary     string     `json:"context_summary"`
	ContextMemoryCount int        `json:"context_memory_count"`
	AllMemoryCount     int        `json:"all_memory_count"`
	AuthToken          string     `json:"-"`
}

type ConversationEntry struct {
	UUID      string      `json:"uuid"`
	UserID    string      `json:"user_id"`
	Timestamp time.Time   `json:"timestamp"`
	Source    Source      `json:"source"`
	Type      ContentType `json:"type"`
	Content   string      `json:"content"`
	// AuxData carries type-specific extras: image entries store
	// {client_path, server_path}, sing entries {song_name, segment},
	// agent text entries {expression, tone}.
	AuxData map[string]any `json:"aux_data,omitempty"`
}

type KnowledgeBufferItem struct {
	UUID      string    `json:"uuid"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// MemoryRecord is a vector-indexed memory fragment.
type MemoryRecord struct {
	UUID      string    `json:"uuid"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// MemoryHit is a similarity-search result.
type MemoryHit struct {
	UUID      string    `json:"uuid"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Score     float64   `json:"score"`
}

// MemoryCommandKind names the memory-update command variants.
type MemoryCommandKind string

const (
	CommandAdd        MemoryCommandKind = "add"
	CommandUpdate     MemoryCommandKind = "update"
	CommandRenameUser MemoryCommandKind = "rename_user"
)

type MemoryUpdateCommand struct {
	UUID      string            `json:"uuid"`
	UserID    string            `json:"user_id,omitempty"`
	Kind      MemoryCommandKind `json:"type"`
	Content   string            `json:"content"`
	TargetID  string            `json:"target_id,omitempty"`
	CreatedAt time.Time         `json:"created_at,omitempty"`
}

type InviteCode struct {
	Code      string     `json:"code"`
	IsUsed    bool       `json:"is_used"`
	CreatedAt time.Time  `json:"created_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	UserID    *string    `json:"user_id,omitempty"`
}
