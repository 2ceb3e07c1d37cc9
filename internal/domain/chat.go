package domain

// Chat roles shared between the answer pipeline and the generation transport.
const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ChatMessage is one turn of a generation conversation.
type ChatMessage struct {
	Role    string
	Content string
}
