package hub

import "time"

// Push message types delivered over live connections. Consumers must ignore
// unknown types so new kinds can ship without breaking old clients.
const (
	TypeDraft    = "draft"     // agent-produced first draft
	TypeUserSave = "user-save" // peer-originated save
)

// Message is the tagged union carried on the wire.
type Message struct {
	Type      string     `json:"type"`
	Content   string     `json:"content,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// Draft builds the push sent when the generation agent delivers a document.
func Draft(content string) Message {
	return Message{Type: TypeDraft, Content: content}
}

// UserSave builds the push sent to peers after a successful user save.
func UserSave(content string, updatedAt time.Time) Message {
	return Message{Type: TypeUserSave, Content: content, UpdatedAt: &updatedAt}
}
