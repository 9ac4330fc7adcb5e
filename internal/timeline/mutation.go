package timeline

import "github.com/hay-kot/chatsync/internal/core/chat"

// Kind tags the source of a timeline mutation.
type Kind int

const (
	// PageLoaded merges a page of history fetched over REST.
	PageLoaded Kind = iota
	// Pushed applies a message delivered by the push channel.
	Pushed
	// Submitted applies the server's response to a locally sent message.
	Submitted
	// Edited replaces the content of an existing message.
	Edited
	// Deleted removes a message.
	Deleted
)

func (k Kind) String() string {
	switch k {
	case PageLoaded:
		return "page_loaded"
	case Pushed:
		return "pushed"
	case Submitted:
		return "submitted"
	case Edited:
		return "edited"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Mutation is a single change to the store. Which fields are read depends on Kind:
// PageLoaded reads Messages, Page, Limit and Total; Pushed, Submitted and Edited
// read Message; Deleted reads MessageID. ConversationID may be empty for Edited and
// Deleted, in which case the message is located by id.
type Mutation struct {
	Kind           Kind
	ConversationID string

	Messages []chat.Message
	Page     int
	Limit    int
	Total    int

	Message   chat.Message
	MessageID string
}

// Result reports what a mutation did.
type Result struct {
	// Applied is true when any state changed.
	Applied bool
	// Active is true when the active conversation's window changed.
	Active bool
	// NewConversation is true when a message referenced a conversation the store did
	// not know about and a placeholder summary was created for it.
	NewConversation bool
}
