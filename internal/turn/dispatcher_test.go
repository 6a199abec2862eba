package turn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benslamahafedh/samanthaos1/internal/llm"
)

type fakeGenerator struct {
	mu      sync.Mutex
	err     error
	scripts [][]llm.Event
	windows [][]llm.Message
}

func (g *fakeGenerator) Generate(_ context.Context, messages []llm.Message) (<-chan llm.Event, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	snapshot := make([]llm.Message, len(messages))
	copy(snapshot, messages)
	g.windows = append(g.windows, snapshot)

	var script []llm.Event
	if len(g.scripts) > 0 {
		script = g.scripts[0]
		g.scripts = g.scripts[1:]
	}
	ch := make(chan llm.Event, len(script))
	for _, ev := range script {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.windows)
}

type fakeMemory struct {
	mu        sync.Mutex
	context   string
	stored    []string
	storeSeen chan string
}

func newFakeMemory(contextStr string) *fakeMemory {
	return &fakeMemory{context: contextStr, storeSeen: make(chan string, 8)}
}

func (m *fakeMemory) RetrieveContext(_ context.Context, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.context, nil
}

func (m *fakeMemory) Store(_ context.Context, text, _ string) error {
	m.mu.Lock()
	m.stored = append(m.stored, text)
	m.mu.Unlock()
	m.storeSeen <- text
	return nil
}

type fakeSummarizer struct{ summary string }

func (s fakeSummarizer) Summarize(_ context.Context, _ string) (string, error) {
	return s.summary, nil
}

func replyScript(text string) []llm.Event {
	return []llm.Event{
		{Kind: llm.EventStart},
		{Kind: llm.EventToken, Text: text},
		{Kind: llm.EventComplete, Text: text},
	}
}

func newTestDispatcher(gen llm.Generator, mem Memory, sum llm.Summarizer, events Events) *Dispatcher {
	return NewDispatcher(gen, sum, mem, DispatcherConfig{
		WindowSize:       10,
		MinSentenceChars: 8,
		Policy:           testPolicy(),
	}, events)
}

func waitComplete(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for turn completion")
	}
}

func TestDispatcher_DuplicateSubmissionDispatchesOnce(t *testing.T) {
	gen := &fakeGenerator{scripts: [][]llm.Event{replyScript("Sure thing, happy to help.")}}
	done := make(chan struct{}, 2)
	d := newTestDispatcher(gen, nil, nil, Events{
		OnTurnComplete: func(_, _ string) { done <- struct{}{} },
	})

	if err := d.Submit(context.Background(), " tell me a story "); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	waitComplete(t, done)

	if err := d.Submit(context.Background(), "tell me a story"); !errors.Is(err, ErrDuplicateSubmission) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
	if gen.callCount() != 1 {
		t.Fatalf("expected exactly one generation request, got %d", gen.callCount())
	}
}

func TestDispatcher_EmptySubmissionIgnored(t *testing.T) {
	gen := &fakeGenerator{}
	d := newTestDispatcher(gen, nil, nil, Events{})
	if err := d.Submit(context.Background(), "   "); !errors.Is(err, ErrEmptySubmission) {
		t.Fatalf("expected empty rejection, got %v", err)
	}
	if gen.callCount() != 0 {
		t.Fatalf("expected no generation request")
	}
}

func TestDispatcher_SecondTurnBlockedWhileActive(t *testing.T) {
	// An event channel that never closes keeps the turn open.
	holding := make(chan llm.Event)
	d := newTestDispatcher(generatorFunc(func(ctx context.Context, msgs []llm.Message) (<-chan llm.Event, error) {
		return holding, nil
	}), nil, nil, Events{})

	if err := d.Submit(context.Background(), "first thing"); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if err := d.Submit(context.Background(), "second thing"); !errors.Is(err, ErrTurnActive) {
		t.Fatalf("expected active-turn rejection, got %v", err)
	}
	close(holding)
}

type generatorFunc func(ctx context.Context, messages []llm.Message) (<-chan llm.Event, error)

func (f generatorFunc) Generate(ctx context.Context, messages []llm.Message) (<-chan llm.Event, error) {
	return f(ctx, messages)
}

func TestDispatcher_SlidingWindowKeepsLastTen(t *testing.T) {
	gen := &fakeGenerator{scripts: [][]llm.Event{replyScript("All right, noted and remembered.")}}
	done := make(chan struct{}, 1)
	d := newTestDispatcher(gen, nil, nil, Events{
		OnTurnComplete: func(_, _ string) { done <- struct{}{} },
	})

	for i := 0; i < 14; i++ {
		role := llm.RoleUser
		if i%2 == 1 {
			role = llm.RoleAssistant
		}
		d.messages = append(d.messages, llm.Message{Role: role, Content: fmt.Sprintf("message %d", i)})
	}

	if err := d.Submit(context.Background(), "the fifteenth message"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitComplete(t, done)

	window := gen.windows[0]
	if len(window) != 10 {
		t.Fatalf("expected window of 10 messages, got %d", len(window))
	}
	if window[9].Content != "the fifteenth message" {
		t.Fatalf("expected newest message last, got %q", window[9].Content)
	}
	if window[0].Content != "message 5" {
		t.Fatalf("expected oldest retained message to be %q, got %q", "message 5", window[0].Content)
	}
}

func TestDispatcher_MemoryContextPrependedUncounted(t *testing.T) {
	gen := &fakeGenerator{scripts: [][]llm.Event{replyScript("Of course, I remember that.")}}
	mem := newFakeMemory("The user restores boats.")
	done := make(chan struct{}, 1)
	d := newTestDispatcher(gen, mem, nil, Events{
		OnTurnComplete: func(_, _ string) { done <- struct{}{} },
	})

	if err := d.Submit(context.Background(), "what do I do on weekends?"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitComplete(t, done)

	window := gen.windows[0]
	if window[0].Role != llm.RoleSystem {
		t.Fatalf("expected system context message first, got role %q", window[0].Role)
	}
	// The system message must not displace conversation messages.
	if window[len(window)-1].Content != "what do I do on weekends?" {
		t.Fatalf("expected user message last")
	}
}

func TestDispatcher_UnreachableGeneratorRollsBack(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("connection refused")}
	d := newTestDispatcher(gen, nil, nil, Events{})

	err := d.Submit(context.Background(), "hello out there")
	if err == nil {
		t.Fatalf("expected submit error")
	}
	if msgs := d.Messages(); len(msgs) != 0 {
		t.Fatalf("expected history rollback, got %d messages", len(msgs))
	}
	if d.Active() {
		t.Fatalf("expected turn cleared after abort")
	}

	// The failed attempt must not count as the previous submission.
	gen.mu.Lock()
	gen.err = nil
	gen.scripts = [][]llm.Event{replyScript("Hello again, it is good to hear you.")}
	gen.mu.Unlock()
	if err := d.Submit(context.Background(), "hello out there"); err != nil {
		t.Fatalf("retry after abort should succeed, got %v", err)
	}
}

func TestDispatcher_StreamErrorLeavesPartialVisible(t *testing.T) {
	gen := &fakeGenerator{scripts: [][]llm.Event{{
		{Kind: llm.EventStart},
		{Kind: llm.EventToken, Text: "I was about to say"},
		{Kind: llm.EventError, Err: errors.New("stream cut")},
	}}}
	errs := make(chan error, 1)
	d := newTestDispatcher(gen, nil, nil, Events{
		OnError: func(err error) { errs <- err },
	})

	if err := d.Submit(context.Background(), "go on then"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case <-errs:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for stream error")
	}

	msgs := d.Messages()
	last := msgs[len(msgs)-1]
	if last.Role != llm.RoleAssistant || last.Content != "I was about to say" {
		t.Fatalf("expected partial assistant content preserved, got %+v", last)
	}
	if d.Active() {
		t.Fatalf("expected turn cleared on error")
	}
}

func TestDispatcher_VerbatimMemoryWrite(t *testing.T) {
	gen := &fakeGenerator{scripts: [][]llm.Event{replyScript("Blue is a great color.")}}
	mem := newFakeMemory("")
	d := newTestDispatcher(gen, mem, nil, Events{})

	if err := d.Submit(context.Background(), "My favorite color is blue"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case stored := <-mem.storeSeen:
		if stored != "My favorite color is blue" {
			t.Fatalf("expected verbatim store, got %q", stored)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for memory write")
	}
}

func TestDispatcher_LongInputStoresSummary(t *testing.T) {
	long := "I grew up in a small coastal town where my grandfather taught me to repair old fishing boats during the long summers"
	gen := &fakeGenerator{scripts: [][]llm.Event{replyScript("That sounds like a lovely childhood.")}}
	mem := newFakeMemory("")
	sum := fakeSummarizer{summary: "User grew up repairing boats with their grandfather."}
	d := newTestDispatcher(gen, mem, sum, Events{})

	if err := d.Submit(context.Background(), long); err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case stored := <-mem.storeSeen:
		if stored != sum.summary {
			t.Fatalf("expected summary stored, got %q", stored)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for summary write")
	}
}

func TestDispatcher_DenialReplySkipsMemory(t *testing.T) {
	gen := &fakeGenerator{scripts: [][]llm.Event{replyScript("Sorry, I have no memory of that yet.")}}
	mem := newFakeMemory("")
	done := make(chan struct{}, 1)
	d := newTestDispatcher(gen, mem, nil, Events{
		OnTurnComplete: func(_, _ string) { done <- struct{}{} },
	})

	if err := d.Submit(context.Background(), "My favorite color is blue"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitComplete(t, done)

	select {
	case stored := <-mem.storeSeen:
		t.Fatalf("expected no memory write, got %q", stored)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDispatcher_GreetLeavesNoUserMessage(t *testing.T) {
	gen := &fakeGenerator{scripts: [][]llm.Event{replyScript("Welcome back, I missed you.")}}
	done := make(chan struct{}, 1)
	d := newTestDispatcher(gen, nil, nil, Events{
		OnTurnComplete: func(_, _ string) { done <- struct{}{} },
	})

	if err := d.Greet(context.Background()); err != nil {
		t.Fatalf("greet: %v", err)
	}
	waitComplete(t, done)

	msgs := d.Messages()
	if len(msgs) != 1 || msgs[0].Role != llm.RoleAssistant {
		t.Fatalf("expected single assistant message, got %+v", msgs)
	}
	if msgs[0].Content != "Welcome back, I missed you." {
		t.Fatalf("unexpected greeting %q", msgs[0].Content)
	}
}
