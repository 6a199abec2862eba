package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync/atomic"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const systemPrompt = "You are Samantha, a warm and concise voice companion. " +
	"Reply in short spoken sentences without markup or lists."

const summaryPrompt = "Summarize the following user statement into one short " +
	"factual sentence suitable for long-term memory. Return only the sentence."

// OpenAIStreamer implements Generator and Summarizer against the OpenAI chat
// API. Interrupt sets a cooperative flag checked after each received chunk;
// it suppresses further emission but does not abort the in-flight call.
type OpenAIStreamer struct {
	client      *openai.Client
	model       string
	interrupted atomic.Bool
}

// NewOpenAIStreamer builds a streamer for the given chat model.
func NewOpenAIStreamer(apiKey, model string) *OpenAIStreamer {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIStreamer{client: openai.NewClient(apiKey), model: model}
}

// Interrupt suppresses emission from the current stream.
func (s *OpenAIStreamer) Interrupt() { s.interrupted.Store(true) }

// Generate opens a streaming chat completion. The system prompt is always
// prepended; callers supply the sliding window plus any context message.
func (s *OpenAIStreamer) Generate(ctx context.Context, messages []Message) (<-chan Event, error) {
	req := openai.ChatCompletionRequest{
		Model:    s.model,
		Stream:   true,
		Messages: make([]openai.ChatCompletionMessage, 0, len(messages)+1),
	}
	req.Messages = append(req.Messages, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleSystem, Content: systemPrompt,
	})
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
		})
	}

	stream, err := s.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("open completion stream: %w", err)
	}
	s.interrupted.Store(false)

	events := make(chan Event, 64)
	go func() {
		defer close(events)
		defer stream.Close()

		events <- Event{Kind: EventStart}
		var full strings.Builder
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				events <- Event{Kind: EventComplete, Text: full.String()}
				return
			}
			if err != nil {
				events <- Event{Kind: EventError, Err: err}
				return
			}
			if s.interrupted.Load() {
				log.Println("llm: stream interrupted, suppressing remaining tokens")
				events <- Event{Kind: EventComplete, Text: full.String()}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			token := resp.Choices[0].Delta.Content
			if token == "" {
				continue
			}
			full.WriteString(token)
			events <- Event{Kind: EventToken, Text: token}
		}
	}()
	return events, nil
}

// Summarize issues a one-shot completion with the summarization prompt.
func (s *OpenAIStreamer) Summarize(ctx context.Context, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: summaryPrompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("summarize: empty choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
