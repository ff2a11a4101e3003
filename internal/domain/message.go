package domain

// Sender identifies who authored a chat message.
type Sender string

const (
	// SenderUser marks messages typed by the local user.
	SenderUser Sender = "user"
	// SenderBot marks replies from the backend, including failure fallbacks.
	SenderBot Sender = "bot"
)

// FallbackReply is appended in place of a reply when the backend call fails.
const FallbackReply = "❌ Something went wrong. Please try again."

// Message is a single entry in a conversation log.
// Ordinal is the append position and is never renumbered.
type Message struct {
	Text    string `json:"text"`
	Sender  Sender `json:"sender"`
	Ordinal int    `json:"ordinal"`
}

// IsUser returns true if the message was authored locally.
func (m Message) IsUser() bool {
	return m.Sender == SenderUser
}
