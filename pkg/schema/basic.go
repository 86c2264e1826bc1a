package schema

// BasicChatInput is the default agent input: a single chat message from the user.
type BasicChatInput struct {
	ChatMessage string `json:"chat_message" jsonschema:"The chat message sent by the user to the assistant."`
}

func (BasicChatInput) SchemaDescription() string {
	return "This schema represents the input from the user to the AI agent."
}

// BasicChatOutput is the default agent output.
type BasicChatOutput struct {
	ChatMessage string `json:"chat_message" jsonschema:"The chat message exchanged between the user and the chat agent. This contains the markdown-enabled response generated by the chat agent."`
}

func (BasicChatOutput) SchemaDescription() string {
	return "This schema represents the response generated by the chat agent."
}

var (
	_ = MustDefine[BasicChatInput]()
	_ = MustDefine[BasicChatOutput]()
)
