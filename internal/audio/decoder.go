package audio

import (
	"fmt"

	"github.com/hraban/opus"
)

// ChunkDecoder turns encoded AudioChunks into mono float32 samples at the
// pipeline sample rate. Decoding is lossy-tolerant: a chunk in an unknown
// format is interpreted as raw s16le rather than rejected, so an
// unrecognized negotiation falls back instead of halting capture.
type ChunkDecoder struct {
	sampleRate int
	opusDec    *opus.Decoder
	opusBuf    []int16
}

// NewChunkDecoder builds a decoder for mono audio at sampleRate.
func NewChunkDecoder(sampleRate int) (*ChunkDecoder, error) {
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}
	dec, err := opus.NewDecoder(sampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}
	return &ChunkDecoder{
		sampleRate: sampleRate,
		opusDec:    dec,
		// 120ms is the largest opus frame.
		opusBuf: make([]int16, sampleRate*120/1000),
	}, nil
}

// Decode converts one chunk to normalized samples in [-1, 1].
func (d *ChunkDecoder) Decode(chunk AudioChunk) ([]float32, error) {
	switch chunk.Format {
	case FormatOpus:
		if d.opusDec == nil {
			return nil, fmt.Errorf("opus decode: decoder closed")
		}
		n, err := d.opusDec.Decode(chunk.Data, d.opusBuf)
		if err != nil {
			return nil, fmt.Errorf("opus decode: %w", err)
		}
		return pcm16ToFloat(d.opusBuf[:n]), nil
	default:
		return decodeS16LE(chunk.Data), nil
	}
}

// Close releases the decoding context. Safe to call more than once.
func (d *ChunkDecoder) Close() {
	d.opusDec = nil
	d.opusBuf = nil
}

func decodeS16LE(data []byte) []float32 {
	n := len(data) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(uint16(data[2*i]) | uint16(data[2*i+1])<<8)
		out[i] = float32(v) / 32768.0
	}
	return out
}

func pcm16ToFloat(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, v := range pcm {
		out[i] = float32(v) / 32768.0
	}
	return out
}
