package llm

import "context"

// Message is one entry of the conversation window sent to the generator.
type Message struct {
	Role    string
	Content string
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// EventKind tags generation events. Every stream is an ordered sequence:
// start, zero or more tokens, then exactly one complete or error.
type EventKind int

const (
	EventStart EventKind = iota
	EventToken
	EventComplete
	EventError
)

// Event is one unit of generator output. Text carries the incremental token
// for EventToken and the final full text for EventComplete; Err is set only
// for EventError.
type Event struct {
	Kind EventKind
	Text string
	Err  error
}

// Generator produces a streamed reply for a conversation window. A non-nil
// error return means the generation actor was unreachable and no events will
// be delivered; errors after the stream begins arrive as EventError. The
// channel is closed after the terminal event.
type Generator interface {
	Generate(ctx context.Context, messages []Message) (<-chan Event, error)
}

// Summarizer condenses text into a short factual summary. It is a distinct
// request type used by the memory-write policy.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}
