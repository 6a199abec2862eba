package transcribe

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// Client is a single-shot transcription call. attempt starts at 0 and lets
// implementations adjust decoding parameters across retries.
type Client interface {
	Transcribe(ctx context.Context, audio []byte, formatHint string, attempt int) (string, error)
}

// Gateway wraps a transcription client with retry and output-filtering
// policy. Empty text is a valid result; boilerplate outputs the model is
// known to hallucinate on silence are treated as failures so a retry can
// produce the real content.
type Gateway struct {
	client  Client
	filters []string
}

// NewGateway builds a gateway with the given boilerplate filter patterns
// (matched case-insensitively as substrings of the trimmed result).
func NewGateway(client Client, filters []string) *Gateway {
	return &Gateway{client: client, filters: filters}
}

// Transcribe performs a single attempt.
func (g *Gateway) Transcribe(ctx context.Context, audio []byte, formatHint string) (string, error) {
	text, err := g.client.Transcribe(ctx, audio, formatHint, 0)
	if err != nil {
		return "", err
	}
	if g.isBoilerplate(text) {
		return "", fmt.Errorf("transcription matched boilerplate filter: %q", text)
	}
	return text, nil
}

// TranscribeEnhanced retries up to retries additional times, treating
// filtered boilerplate as a failure. The last error is returned when all
// attempts fail.
func (g *Gateway) TranscribeEnhanced(ctx context.Context, audio []byte, formatHint string, retries int) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := g.client.Transcribe(ctx, audio, formatHint, attempt)
		if err != nil {
			lastErr = err
			log.Printf("transcribe: attempt %d failed: %v", attempt+1, err)
			continue
		}
		if g.isBoilerplate(text) {
			lastErr = fmt.Errorf("transcription matched boilerplate filter: %q", text)
			log.Printf("transcribe: attempt %d filtered: %q", attempt+1, text)
			continue
		}
		return text, nil
	}
	return "", lastErr
}

func (g *Gateway) isBoilerplate(text string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(text))
	if trimmed == "" {
		return false
	}
	for _, f := range g.filters {
		if strings.Contains(trimmed, strings.ToLower(f)) {
			return true
		}
	}
	return false
}
