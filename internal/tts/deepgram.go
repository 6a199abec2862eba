package tts

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"
)

// DeepgramSpeaker synthesizes speech over the Deepgram speak websocket.
// Binary frames are collected until the stream goes idle, then returned as
// one clip. Speed is not supported by the aura models and is ignored.
type DeepgramSpeaker struct {
	apiKey     string
	model      string
	sampleRate int
	encoding   string
}

func NewDeepgramSpeaker(apiKey, model string) *DeepgramSpeaker {
	if model == "" {
		model = "aura-2-thalia-en"
	}
	return &DeepgramSpeaker{apiKey: apiKey, model: model, sampleRate: 48000, encoding: "linear16"}
}

func (d *DeepgramSpeaker) Synthesize(ctx context.Context, text, voice string, _ float64) ([]byte, error) {
	if d.apiKey == "" {
		return nil, fmt.Errorf("deepgram: api key missing")
	}
	if text == "" {
		return nil, nil
	}
	model := d.model
	if voice != "" {
		model = voice
	}

	options := &clientinterfaces.WSSpeakOptions{
		Model:      model,
		Encoding:   d.encoding,
		SampleRate: d.sampleRate,
	}

	var mu sync.Mutex
	var buf bytes.Buffer
	var lastRecv time.Time

	cb := &speakCallback{onBinary: func(data []byte) error {
		if len(data) == 0 {
			return nil
		}
		mu.Lock()
		buf.Write(data)
		lastRecv = time.Now()
		mu.Unlock()
		return nil
	}}

	dg, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
	if err != nil {
		return nil, fmt.Errorf("deepgram: create ws client: %w", err)
	}
	defer dg.Stop()

	if ok := dg.Connect(); !ok {
		return nil, fmt.Errorf("deepgram: connect failed")
	}
	if err := dg.SpeakWithText(text); err != nil {
		return nil, fmt.Errorf("deepgram: speak text: %w", err)
	}
	if err := dg.Flush(); err != nil {
		log.Printf("deepgram: flush error: %v", err)
	}

	// Drain until the binary frames go idle or the hard deadline passes.
	idleWindow := 400 * time.Millisecond
	deadline := time.Now().Add(12 * time.Second)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			mu.Lock()
			gotAudio := buf.Len() > 0
			idle := gotAudio && time.Since(lastRecv) > idleWindow
			mu.Unlock()
			if idle {
				mu.Lock()
				out := make([]byte, buf.Len())
				copy(out, buf.Bytes())
				mu.Unlock()
				return out, nil
			}
			if time.Now().After(deadline) {
				if !gotAudio {
					return nil, fmt.Errorf("deepgram: no audio before deadline")
				}
				mu.Lock()
				out := make([]byte, buf.Len())
				copy(out, buf.Bytes())
				mu.Unlock()
				return out, nil
			}
		}
	}
}

type speakCallback struct{ onBinary func([]byte) error }

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakCallback) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (s *speakCallback) Error(*msginterfaces.ErrorResponse) error       { return nil }
func (s *speakCallback) UnhandledEvent([]byte) error                    { return nil }
func (s *speakCallback) Binary(byMsg []byte) error {
	if s.onBinary != nil {
		return s.onBinary(byMsg)
	}
	return nil
}
