package remote

import "time"

// Project is a remote project as listed for an organization.
type Project struct {
	ID        string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// File is a knowledge file attached to a project. Listing returns file
// content inline.
type File struct {
	ID        string
	Name      string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ModTime returns the best known modification time of the file, or the
// zero time when the server reported none.
func (f File) ModTime() time.Time {
	if !f.UpdatedAt.IsZero() {
		return f.UpdatedAt
	}

	return f.CreatedAt
}

// ConversationSummary is one entry of the conversation listing.
// ProjectID is empty for standalone conversations.
type ConversationSummary struct {
	ID        string
	Name      string
	ProjectID string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one turn of a conversation.
type Message struct {
	ID        string
	Sender    string
	Text      string
	CreatedAt time.Time
}

// Conversation is a conversation with its full message history.
type Conversation struct {
	ConversationSummary
	Messages []Message
}
