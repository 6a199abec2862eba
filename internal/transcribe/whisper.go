package transcribe

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// WhisperClient transcribes audio bytes through the OpenAI transcription API.
type WhisperClient struct {
	client *openai.Client
	model  string
}

// NewWhisperClient builds a client for the given model (e.g. "whisper-1").
func NewWhisperClient(apiKey, model string) *WhisperClient {
	if model == "" {
		model = "whisper-1"
	}
	return &WhisperClient{client: openai.NewClient(apiKey), model: model}
}

// Transcribe sends one transcription request. Raw PCM is wrapped in a WAV
// container; anything else is uploaded as-is with a filename matching the
// hint. Temperature rises slightly with each retry attempt to shake loose a
// different decoding.
func (w *WhisperClient) Transcribe(ctx context.Context, audio []byte, formatHint string, attempt int) (string, error) {
	if len(audio) == 0 {
		return "", nil
	}

	reader, filename := prepareUpload(audio, formatHint)
	temperature := float32(attempt) * 0.2
	if temperature > 1 {
		temperature = 1
	}

	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:       w.model,
		Reader:      reader,
		FilePath:    filename,
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("whisper transcription: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

func prepareUpload(audio []byte, formatHint string) (io.Reader, string) {
	switch strings.ToLower(formatHint) {
	case "opus":
		return bytes.NewReader(audio), "audio.ogg"
	case "", "pcm_s16le", "wav":
		var buf bytes.Buffer
		writeWAVHeader(&buf, len(audio))
		buf.Write(audio)
		return &buf, "audio.wav"
	default:
		return bytes.NewReader(audio), "audio." + formatHint
	}
}

// writeWAVHeader writes a minimal 44-byte WAV header for 16kHz 16-bit mono PCM.
func writeWAVHeader(w io.Writer, dataSize int) {
	_, _ = w.Write([]byte("RIFF"))
	_ = binary.Write(w, binary.LittleEndian, uint32(36+dataSize))
	_, _ = w.Write([]byte("WAVE"))
	_, _ = w.Write([]byte("fmt "))
	_ = binary.Write(w, binary.LittleEndian, uint32(16))
	_ = binary.Write(w, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(w, binary.LittleEndian, uint16(1)) // mono
	_ = binary.Write(w, binary.LittleEndian, uint32(16000))
	_ = binary.Write(w, binary.LittleEndian, uint32(32000)) // byte rate
	_ = binary.Write(w, binary.LittleEndian, uint16(2))     // block align
	_ = binary.Write(w, binary.LittleEndian, uint16(16))    // bits per sample
	_, _ = w.Write([]byte("data"))
	_ = binary.Write(w, binary.LittleEndian, uint32(dataSize))
}
