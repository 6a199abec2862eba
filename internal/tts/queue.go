package tts

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"
)

// Synthesizer turns one sentence into a playable audio clip.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string, speed float64) ([]byte, error)
}

// Request is one unit of speech work.
type Request struct {
	Text  string
	Voice string
	Speed float64
}

// QueueConfig bundles dispatch queue tunables.
type QueueConfig struct {
	// Voices maps friendly voice names to provider voice ids. An
	// unrecognized name falls back to DefaultVoice.
	Voices       map[string]string
	DefaultVoice string
	Speed        float64
	// Delay separates consecutive dispatches. Defaults to 50ms.
	Delay time.Duration
}

// DispatchQueue serializes synthesis requests: exactly one in flight, the
// rest queued FIFO. Identical text already queued or in flight is dropped.
// Success and failure both advance the queue.
type DispatchQueue struct {
	synth   Synthesizer
	cfg     QueueConfig
	onAudio func(text string, audio []byte)
	onError func(text string, err error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	pending  []Request
	inFlight string
	busy     bool
	closed   bool
}

// NewDispatchQueue wires the queue to a synthesizer. onAudio receives each
// synthesized clip in dispatch order; onError may be nil.
func NewDispatchQueue(synth Synthesizer, cfg QueueConfig, onAudio func(text string, audio []byte), onError func(text string, err error)) *DispatchQueue {
	if cfg.Delay <= 0 {
		cfg.Delay = 50 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &DispatchQueue{
		synth:   synth,
		cfg:     cfg,
		onAudio: onAudio,
		onError: onError,
		ctx:     ctx,
		cancel:  cancel,
	}
}

var markupStripper = strings.NewReplacer("*", "", "_", "", "`", "", "#", "")

// Sanitize strips emphasis markup that reads badly when spoken.
func Sanitize(text string) string {
	return strings.TrimSpace(markupStripper.Replace(text))
}

// Enqueue submits text for synthesis. It reports whether the request was
// accepted; empty text and exact duplicates of queued or in-flight text are
// dropped.
func (q *DispatchQueue) Enqueue(text, voice string) bool {
	clean := Sanitize(text)
	if clean == "" {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if q.inFlight == clean {
		return false
	}
	for _, r := range q.pending {
		if r.Text == clean {
			return false
		}
	}

	q.pending = append(q.pending, Request{
		Text:  clean,
		Voice: q.resolveVoice(voice),
		Speed: q.cfg.Speed,
	})
	if !q.busy {
		q.busy = true
		q.wg.Add(1)
		go q.run()
	}
	return true
}

// Len returns the number of requests waiting behind the in-flight one.
func (q *DispatchQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close stops accepting requests, abandons the in-flight call and waits for
// the worker to exit.
func (q *DispatchQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.pending = nil
	q.mu.Unlock()
	q.cancel()
	q.wg.Wait()
}

func (q *DispatchQueue) resolveVoice(name string) string {
	if id, ok := q.cfg.Voices[name]; ok {
		return id
	}
	if name != "" {
		log.Printf("tts: unknown voice %q, using default", name)
	}
	return q.cfg.DefaultVoice
}

func (q *DispatchQueue) run() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if q.closed || len(q.pending) == 0 {
			q.busy = false
			q.mu.Unlock()
			return
		}
		req := q.pending[0]
		q.pending = q.pending[1:]
		q.inFlight = req.Text
		q.mu.Unlock()

		audio, err := q.synth.Synthesize(q.ctx, req.Text, req.Voice, req.Speed)

		q.mu.Lock()
		q.inFlight = ""
		q.mu.Unlock()

		if err != nil {
			log.Printf("tts: synthesis failed for %q: %v", req.Text, err)
			if q.onError != nil {
				q.onError(req.Text, err)
			}
		} else if q.onAudio != nil {
			q.onAudio(req.Text, audio)
		}

		select {
		case <-q.ctx.Done():
			q.mu.Lock()
			q.busy = false
			q.mu.Unlock()
			return
		case <-time.After(q.cfg.Delay):
		}
	}
}
