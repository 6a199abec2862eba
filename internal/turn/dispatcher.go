package turn

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/benslamahafedh/samanthaos1/internal/llm"
)

// Memory is the long-term memory collaborator: given text, return a context
// string; given text, store it. Internals (embeddings, similarity) are the
// collaborator's business.
type Memory interface {
	RetrieveContext(ctx context.Context, query string) (string, error)
	Store(ctx context.Context, text, role string) error
}

var (
	ErrEmptySubmission     = errors.New("empty submission")
	ErrDuplicateSubmission = errors.New("duplicate of previous submission")
	ErrTurnActive          = errors.New("a turn is already active")
)

// Events are the dispatcher's outputs toward the rest of the pipeline.
type Events struct {
	// OnAssistantUpdate fires with the full reply-so-far after each token.
	OnAssistantUpdate func(full string)
	// OnSentence fires for each completed sentence, in order.
	OnSentence func(sentence string)
	// OnTurnComplete fires after the turn state is cleared.
	OnTurnComplete func(userText, reply string)
	// OnError fires when the generation stream fails mid-turn.
	OnError func(err error)
}

// Dispatcher owns conversation state and the single-active-turn discipline.
// Exactly one turn may be in flight; submissions while one is active, empty
// submissions, and immediate duplicates are rejected.
type Dispatcher struct {
	gen        llm.Generator
	summarizer llm.Summarizer
	memory     Memory
	policy     MemoryPolicy
	events     Events

	windowSize       int
	minSentenceChars int

	mu            sync.Mutex
	messages      []llm.Message
	active        bool
	lastSubmitted string
}

// DispatcherConfig bundles dispatcher tunables.
type DispatcherConfig struct {
	// WindowSize is the number of trailing messages sent to the generator.
	WindowSize int
	// MinSentenceChars gates mid-stream sentence dispatch.
	MinSentenceChars int
	Policy           MemoryPolicy
}

// NewDispatcher wires the generator, summarizer and memory collaborators.
// memory and summarizer may be nil; memory side calls are then skipped.
func NewDispatcher(gen llm.Generator, summarizer llm.Summarizer, memory Memory, cfg DispatcherConfig, events Events) *Dispatcher {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 10
	}
	if cfg.MinSentenceChars <= 0 {
		cfg.MinSentenceChars = 8
	}
	return &Dispatcher{
		gen:              gen,
		summarizer:       summarizer,
		memory:           memory,
		policy:           cfg.Policy,
		events:           events,
		windowSize:       cfg.WindowSize,
		minSentenceChars: cfg.MinSentenceChars,
	}
}

// Submit starts a new turn for the given user text. It returns immediately
// once the generation request is dispatched; reply consumption happens on a
// separate goroutine and is reported through Events.
func (d *Dispatcher) Submit(ctx context.Context, text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ErrEmptySubmission
	}

	d.mu.Lock()
	if d.active {
		d.mu.Unlock()
		return ErrTurnActive
	}
	if trimmed == d.lastSubmitted {
		d.mu.Unlock()
		return ErrDuplicateSubmission
	}
	d.active = true
	snapshot := len(d.messages)
	d.messages = append(d.messages,
		llm.Message{Role: llm.RoleUser, Content: trimmed},
		llm.Message{Role: llm.RoleAssistant, Content: ""},
	)
	window := d.windowLocked()
	d.mu.Unlock()

	if d.memory != nil {
		memCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		contextStr, err := d.memory.RetrieveContext(memCtx, trimmed)
		cancel()
		if err != nil {
			log.Printf("turn: memory retrieval failed: %v", err)
		} else if contextStr != "" {
			window = append([]llm.Message{{
				Role:    llm.RoleSystem,
				Content: "Things you remember about the user:\n" + contextStr,
			}}, window...)
		}
	}

	events, err := d.gen.Generate(ctx, window)
	if err != nil {
		// Abort the turn: restore the pre-submission message list.
		d.mu.Lock()
		d.messages = d.messages[:snapshot]
		d.active = false
		d.mu.Unlock()
		return fmt.Errorf("generation unavailable: %w", err)
	}

	d.mu.Lock()
	d.lastSubmitted = trimmed
	d.mu.Unlock()

	go d.consume(events, trimmed, true)
	return nil
}

// Greet runs a generated greeting turn. Nothing is written to memory and no
// user message enters the history.
func (d *Dispatcher) Greet(ctx context.Context) error {
	d.mu.Lock()
	if d.active {
		d.mu.Unlock()
		return ErrTurnActive
	}
	d.active = true
	snapshot := len(d.messages)
	d.messages = append(d.messages, llm.Message{Role: llm.RoleAssistant, Content: ""})
	d.mu.Unlock()

	prompt := []llm.Message{{
		Role:    llm.RoleUser,
		Content: "I just came back to talk to you. Greet me back warmly in one short sentence.",
	}}
	events, err := d.gen.Generate(ctx, prompt)
	if err != nil {
		d.mu.Lock()
		d.messages = d.messages[:snapshot]
		d.active = false
		d.mu.Unlock()
		return fmt.Errorf("generation unavailable: %w", err)
	}

	go d.consume(events, "", false)
	return nil
}

// Active reports whether a turn is in flight.
func (d *Dispatcher) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Messages returns a snapshot of the conversation history.
func (d *Dispatcher) Messages() []llm.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]llm.Message, len(d.messages))
	copy(out, d.messages)
	return out
}

// windowLocked assembles the sliding window: the most recent messages with
// content, capped at windowSize. The open assistant placeholder is excluded.
func (d *Dispatcher) windowLocked() []llm.Message {
	window := make([]llm.Message, 0, d.windowSize)
	for _, m := range d.messages {
		if m.Content == "" {
			continue
		}
		window = append(window, m)
	}
	if len(window) > d.windowSize {
		window = window[len(window)-d.windowSize:]
	}
	return window
}

func (d *Dispatcher) consume(events <-chan llm.Event, userText string, withMemory bool) {
	consumer := &StreamConsumer{
		MinSentenceChars: d.minSentenceChars,
		OnUpdate: func(full string) {
			d.setOpenAssistant(full)
			if d.events.OnAssistantUpdate != nil {
				d.events.OnAssistantUpdate(full)
			}
		},
		OnSentence: d.events.OnSentence,
	}

	final, partial, err := consumer.Run(events)
	if err != nil {
		// Partial content stays visible; only the turn state resets.
		d.setOpenAssistant(partial)
		d.clearActive()
		log.Printf("turn: generation stream failed: %v", err)
		if d.events.OnError != nil {
			d.events.OnError(err)
		}
		return
	}

	d.setOpenAssistant(final)
	d.clearActive()
	if withMemory {
		d.applyMemoryPolicy(userText, final)
	}
	if d.events.OnTurnComplete != nil {
		d.events.OnTurnComplete(userText, final)
	}
}

// setOpenAssistant replaces the trailing assistant message's content,
// appending one if the stream somehow outlived its placeholder.
func (d *Dispatcher) setOpenAssistant(content string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n := len(d.messages); n > 0 && d.messages[n-1].Role == llm.RoleAssistant {
		d.messages[n-1].Content = content
		return
	}
	d.messages = append(d.messages, llm.Message{Role: llm.RoleAssistant, Content: content})
}

func (d *Dispatcher) clearActive() {
	d.mu.Lock()
	d.active = false
	d.mu.Unlock()
}

func (d *Dispatcher) applyMemoryPolicy(userText, reply string) {
	if d.memory == nil {
		return
	}
	switch d.policy.Classify(userText, reply) {
	case StoreVerbatim:
		go d.store(userText)
	case StoreSummary:
		if d.summarizer == nil {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			summary, err := d.summarizer.Summarize(ctx, userText)
			if err != nil {
				log.Printf("turn: summarize for memory failed: %v", err)
				return
			}
			if summary != "" {
				d.store(summary)
			}
		}()
	}
}

func (d *Dispatcher) store(text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.memory.Store(ctx, text, llm.RoleUser); err != nil {
		log.Printf("turn: memory store failed: %v", err)
	}
}
