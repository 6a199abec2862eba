package turn

import (
	"strings"

	"github.com/benslamahafedh/samanthaos1/internal/llm"
)

// StreamConsumer folds a generation event stream into a running transcript
// and a pending-sentence buffer, emitting complete sentences as soon as a
// boundary is observed so synthesis can start before the reply finishes.
type StreamConsumer struct {
	// MinSentenceChars gates mid-stream flushes; sentences at or below the
	// limit stay buffered and merge with the next one. The tail buffer is
	// always flushed on completion regardless of length.
	MinSentenceChars int

	// OnUpdate receives the full running transcript after every token.
	OnUpdate func(full string)
	// OnSentence receives each completed sentence in order.
	OnSentence func(sentence string)
}

// Run consumes events until the terminal one. It returns the final reply
// text on complete (the payload, falling back to the accumulated transcript)
// or the stream error. The accumulated transcript is returned in both cases
// so callers can keep partial content visible on error.
func (c *StreamConsumer) Run(events <-chan llm.Event) (final string, partial string, err error) {
	var full, sentence strings.Builder

	for ev := range events {
		switch ev.Kind {
		case llm.EventStart:
			full.Reset()
			sentence.Reset()
		case llm.EventToken:
			full.WriteString(ev.Text)
			sentence.WriteString(ev.Text)
			if c.OnUpdate != nil {
				c.OnUpdate(full.String())
			}
			c.flushComplete(&sentence)
		case llm.EventComplete:
			text := ev.Text
			if text == "" {
				text = full.String()
			}
			if tail := strings.TrimSpace(sentence.String()); tail != "" && c.OnSentence != nil {
				c.OnSentence(tail)
			}
			return text, full.String(), nil
		case llm.EventError:
			return "", full.String(), ev.Err
		}
	}
	// Stream closed without a terminal event; treat what we have as final.
	return full.String(), full.String(), nil
}

// flushComplete emits every complete sentence currently in the buffer,
// leaving the unfinished remainder in place. A sentence is complete when
// ending punctuation is followed by whitespace; prefixes at or below the
// length gate stay attached to the sentence that follows them.
func (c *StreamConsumer) flushComplete(buf *strings.Builder) {
	text := buf.String()
	for {
		end := -1
		for search := 0; ; {
			b := sentenceBoundary(text[search:])
			if b < 0 {
				break
			}
			search += b
			if len(strings.TrimSpace(text[:search])) > c.MinSentenceChars {
				end = search
				break
			}
		}
		if end < 0 {
			break
		}
		if c.OnSentence != nil {
			c.OnSentence(strings.TrimSpace(text[:end]))
		}
		text = strings.TrimLeft(text[end:], " \t\n\r")
	}
	buf.Reset()
	buf.WriteString(text)
}

// sentenceBoundary returns the index just past the first sentence-ending
// punctuation that is followed by whitespace, or -1.
func sentenceBoundary(text string) int {
	for i := 0; i < len(text)-1; i++ {
		switch text[i] {
		case '.', '!', '?':
			next := text[i+1]
			if next == ' ' || next == '\t' || next == '\n' || next == '\r' {
				return i + 1
			}
		}
	}
	return -1
}
