package gate

import "context"

// Message is an inbound message as the transport presents it.
type Message struct {
	ID       string
	AuthorID string
	// AuthorIsBot is set for appservice puppets and other known bots.
	AuthorIsBot bool
	GroupID     string
	Content     string
	// Direct is true in one-to-one rooms, where every message counts as a
	// mention.
	Direct bool
	// MentionsCompanion is true when the message mentions the companion
	// explicitly (m.mentions, a pill, or the display name).
	MentionsCompanion bool
	// IsCommand is set when the transport recognises a structured command
	// invocation independently of the text.
	IsCommand bool
	// ReplyToID is the event the message replies to, if any.
	ReplyToID string
}

// IsReply reports whether the message replies to another message.
func (m Message) IsReply() bool { return m.ReplyToID != "" }

// Reference is the message a reply points at.
type Reference struct {
	ID          string
	AuthorID    string
	AuthorIsBot bool
	// HasAttachments is true for media or file content.
	HasAttachments bool
	// HasComponents is true for rich content such as formatted tables or
	// interactive widgets.
	HasComponents bool
	// CommandMarker is true when the event carries the companion's
	// command-response marker.
	CommandMarker bool
	// Footer is the last line of the body, used to detect command footers.
	Footer string
	// Fields are "key: value" style lines found in the body.
	Fields []string
}

// Fetcher looks up the message a reply refers to.
type Fetcher interface {
	FetchReference(ctx context.Context, groupID, messageID string) (*Reference, error)
}
