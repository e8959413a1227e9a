package llm

import "context"

type Message struct {
	Role    string
	Content string
}

type Response struct {
	Content string
	Model   string
}

// Client produces the assistant's next turn for a conversation history.
type Client interface {
	Generate(ctx context.Context, messages []Message) (Response, error)
}
