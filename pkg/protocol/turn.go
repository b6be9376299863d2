package protocol

// Turn is one entry of a conversation. The concrete variants are
// SystemTurn, UserTurn, AssistantTurn and ToolResultTurn.
type Turn interface {
	Role() string
	Message() ChatMessage
}

// SystemTurn carries the system instruction.
type SystemTurn struct {
	Content string
}

func (SystemTurn) Role() string { return RoleSystem }

func (t SystemTurn) Message() ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: t.Content}
}

// UserTurn carries the caller's task.
type UserTurn struct {
	Content string
}

func (UserTurn) Role() string { return RoleUser }

func (t UserTurn) Message() ChatMessage {
	return ChatMessage{Role: RoleUser, Content: t.Content}
}

// AssistantTurn is a model reply. Content may be empty when the reply only
// requests tool calls.
type AssistantTurn struct {
	Content   string
	ToolCalls []ToolCall
}

func (AssistantTurn) Role() string { return RoleAssistant }

func (t AssistantTurn) Message() ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: t.Content, ToolCalls: t.ToolCalls}
}

// ToolResultTurn answers exactly one ToolCall of the preceding assistant turn.
type ToolResultTurn struct {
	CallID  string
	Name    string
	Content string
}

func (ToolResultTurn) Role() string { return RoleTool }

func (t ToolResultTurn) Message() ChatMessage {
	return ChatMessage{Role: RoleTool, Content: t.Content, ToolCallID: t.CallID, Name: t.Name}
}

// Conversation is the ordered turn history of one run.
type Conversation []Turn

// Messages renders the conversation in wire order.
func (c Conversation) Messages() []ChatMessage {
	out := make([]ChatMessage, len(c))
	for i, t := range c {
		out[i] = t.Message()
	}
	return out
}

// Last returns the most recent turn, or nil for an empty conversation.
func (c Conversation) Last() Turn {
	if len(c) == 0 {
		return nil
	}
	return c[len(c)-1]
}
