package core

import "time"

// Role identifies the author of a ChatMessage.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// EmbeddingVector is the fixed-length output of an embedding model.
// The dimension is fixed per model configuration and never mutated after creation.
type EmbeddingVector []float32

// RetrievedChunk is a single vector store hit, ordered nearest-first by the store.
type RetrievedChunk struct {
	Text string
	// Score is the cosine similarity to the query, in [-1, 1]. Every store reports it on
	// this scale so one relevance cutoff applies to all of them.
	Score  float64
	Source string
}

// PromptPayload is the ordered message list sent to the generation model.
type PromptPayload struct {
	Messages []ChatMessage
}

// ChatRequest is one incoming chat message plus the identifiers supplied by the client.
type ChatRequest struct {
	Message        string
	ConversationID string
	UserID         string
}

// Conversation groups persisted messages under a client supplied identifier.
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId,omitempty"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

// StoredMessage is a ChatMessage as persisted in the conversation history.
type StoredMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}
