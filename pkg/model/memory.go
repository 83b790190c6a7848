package model

import (
	"time"

	"github.com/google/uuid"
)

type MemoryID string

// NewMemoryID generates a new unique MemoryID
func NewMemoryID() MemoryID {
	return MemoryID(uuid.New().String())
}

// Memory is a piece of user-marked content kept as long-term knowledge
type Memory struct {
	ID        MemoryID   `json:"id"`
	MessageID MessageID  `json:"message_id"`
	Content   string     `json:"content"`
	Context   string     `json:"context"`
	Tag       string     `json:"tag,omitempty"`
	Important bool       `json:"important"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

func (m *Memory) Deleted() bool {
	return m.DeletedAt != nil
}

// ScoredMemory is a memory returned by similarity search
type ScoredMemory struct {
	Memory *Memory `json:"memory"`
	Score  float64 `json:"score"`
}

// EmbeddingVector is the embedding of a Memory. A memory owns at most one vector.
type EmbeddingVector struct {
	OwnerID     MemoryID  `json:"owner_id"`
	Vector      []float32 `json:"vector,omitempty"`
	ContentHash string    `json:"content_hash"`
	CreatedAt   time.Time `json:"created_at"`
	Deleted     bool      `json:"deleted,omitempty"`
}

// Export is a full dump of the persistent store
type Export struct {
	Summary    *ConversationSummary `json:"summary"`
	Messages   []*Message           `json:"messages"`
	Memories   []*Memory            `json:"memories"`
	Vectors    []*EmbeddingVector   `json:"vectors"`
	ExportedAt time.Time            `json:"exported_at"`
}
