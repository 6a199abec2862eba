package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// ElevenLabsClient synthesizes speech via the ElevenLabs HTTP streaming
// endpoint. Audio comes back as raw PCM at 48kHz, collected into a single
// clip for the playback queue.
type ElevenLabsClient struct {
	apiKey     string
	httpClient *http.Client
}

func NewElevenLabsClient(apiKey string) *ElevenLabsClient {
	return &ElevenLabsClient{
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}
}

func (e *ElevenLabsClient) Synthesize(ctx context.Context, text, voice string, speed float64) ([]byte, error) {
	if e.apiKey == "" {
		return nil, fmt.Errorf("elevenlabs: api key missing")
	}
	if voice == "" {
		return nil, fmt.Errorf("elevenlabs: voice id missing")
	}

	u := url.URL{
		Scheme: "https",
		Host:   "api.elevenlabs.io",
		Path:   "/v1/text-to-speech/" + voice + "/stream",
	}
	q := u.Query()
	q.Set("output_format", "pcm_48000")
	q.Set("optimize_streaming_latency", "2")
	u.RawQuery = q.Encode()

	settings := map[string]any{
		"stability":         0.4,
		"similarity_boost":  0.7,
		"style":             0.0,
		"use_speaker_boost": true,
	}
	if speed > 0 {
		settings["speed"] = speed
	}
	body := map[string]any{
		"model_id":       "eleven_flash_v2_5",
		"text":           text,
		"voice_settings": settings,
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("elevenlabs: status=%d body=%s", resp.StatusCode, string(b))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read stream: %w", err)
	}
	return audio, nil
}
