package audio

import (
	"math"
	"time"
)

// Segmenter decides when an utterance has ended by watching the loudness of
// a trailing window of decoded samples. The window length equals the
// configured silence duration, so a fully quiet window is equivalent to the
// silence timer expiring without an intervening loud frame.
//
// An utterance end fires at most once per silence episode, and never before
// speech has been transcribed at least once since the last reset. Leading
// room noise therefore cannot end an utterance that never started.
type Segmenter struct {
	threshold  float64
	windowSize int

	window      []float32
	transcribed bool
}

// NewSegmenter builds a segmenter for mono audio at sampleRate.
func NewSegmenter(threshold float64, sampleRate int, silenceDuration time.Duration) *Segmenter {
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}
	windowSize := int(float64(sampleRate) * silenceDuration.Seconds())
	if windowSize < 1 {
		windowSize = 1
	}
	return &Segmenter{threshold: threshold, windowSize: windowSize}
}

// MarkTranscribed records that speech was successfully transcribed in the
// current recording session, arming utterance-end detection.
func (s *Segmenter) MarkTranscribed() { s.transcribed = true }

// Feed appends decoded samples and reports whether the utterance just ended.
// When it returns true all silence-tracking state has been reset; the caller
// must observe new transcribed speech before another end can fire.
func (s *Segmenter) Feed(samples []float32) bool {
	s.window = append(s.window, samples...)
	if len(s.window) > s.windowSize {
		s.window = s.window[len(s.window)-s.windowSize:]
	}
	if len(s.window) < s.windowSize {
		return false
	}
	if !s.transcribed {
		return false
	}
	if s.rms() >= s.threshold {
		return false
	}
	s.Reset()
	return true
}

// WindowRMS exposes the current trailing-window loudness.
func (s *Segmenter) WindowRMS() float64 {
	if len(s.window) == 0 {
		return 0
	}
	return s.rms()
}

// Reset clears the trailing window and the transcribed-speech flag.
func (s *Segmenter) Reset() {
	s.window = s.window[:0]
	s.transcribed = false
}

func (s *Segmenter) rms() float64 {
	var sum float64
	for _, v := range s.window {
		f := float64(v)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(s.window)))
}
