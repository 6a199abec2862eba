package pipeline

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/benslamahafedh/samanthaos1/internal/audio"
	"github.com/benslamahafedh/samanthaos1/internal/turn"
)

// EventKind tags events pushed to observers.
type EventKind string

const (
	EventState        EventKind = "state"
	EventTranscript   EventKind = "transcript"
	EventUtterance    EventKind = "utterance"
	EventAssistant    EventKind = "assistant"
	EventSentence     EventKind = "sentence"
	EventTurnComplete EventKind = "turn_complete"
	EventError        EventKind = "error"
)

// Event is one observable pipeline occurrence.
type Event struct {
	Kind EventKind `json:"kind"`
	Text string    `json:"text,omitempty"`
}

// Recorder is one capture session. Sessions are single-use; the orchestrator
// builds a fresh one per Start.
type Recorder interface {
	Start(ctx context.Context) error
	Stop()
}

// Turns is the conversation side of the pipeline.
type Turns interface {
	Submit(ctx context.Context, text string) error
	Greet(ctx context.Context) error
	Active() bool
}

// Speech serializes synthesis requests.
type Speech interface {
	Enqueue(text, voice string) bool
	Close()
}

// Sound plays synthesized clips in order.
type Sound interface {
	Enqueue(text string, audio []byte)
	Depth() int
	NowPlaying() (string, bool)
	Close()
}

// Visits remembers whether the user has talked to us before.
type Visits interface {
	Seen() bool
	Mark() error
}

var ErrAlreadyRunning = errors.New("pipeline already running")

// FirstVisitGreeting is spoken verbatim the very first time the pipeline
// starts; later starts greet through the generator instead.
const FirstVisitGreeting = "Hi, I'm Samantha. It's so nice to finally meet you."

// Deps wires the orchestrator's collaborators. Recorder and Turns are built
// through factories so their callbacks can point back at the orchestrator.
type Deps struct {
	NewRecorder func(events audio.CaptureEvents) Recorder
	NewTurns    func(events turn.Events) Turns
	NewSpeech   func(onAudio func(text string, clip []byte), onError func(text string, err error)) Speech
	Sound       Sound
	Visits      Visits
	// Notify receives every pipeline event; may be nil.
	Notify func(Event)
}

// Config carries orchestrator tunables.
type Config struct {
	Voice string
}

// Status is a snapshot for the control server.
type Status struct {
	State      string `json:"state"`
	TurnActive bool   `json:"turn_active"`
	QueueDepth int    `json:"queue_depth"`
	NowPlaying string `json:"now_playing,omitempty"`
}

// Orchestrator routes utterances into turns, reply sentences into speech and
// synthesized clips into playback.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	turns  Turns
	speech Speech

	mu       sync.Mutex
	recorder Recorder
	stop     context.CancelFunc
	running  bool
	greeted  bool
}

func New(cfg Config, deps Deps) *Orchestrator {
	o := &Orchestrator{cfg: cfg, deps: deps}
	o.turns = deps.NewTurns(turn.Events{
		OnAssistantUpdate: func(full string) { o.notify(Event{Kind: EventAssistant, Text: full}) },
		OnSentence:        o.handleSentence,
		OnTurnComplete: func(_, reply string) {
			o.notify(Event{Kind: EventTurnComplete, Text: reply})
		},
		OnError: func(err error) { o.notify(Event{Kind: EventError, Text: err.Error()}) },
	})
	o.speech = deps.NewSpeech(o.handleClip, func(text string, err error) {
		o.notify(Event{Kind: EventError, Text: "synthesis failed: " + err.Error()})
	})
	return o
}

// Start opens a fresh capture session and, on the very first start, speaks a
// greeting: fixed text for a first-time user, generated otherwise. The
// session lives on its own context until Stop; callers' request contexts
// must not bound it.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	recorder := o.deps.NewRecorder(audio.CaptureEvents{
		OnTranscribed: o.handleTranscribed,
		OnUtteranceEnd: func(text string, _ []float32) {
			o.handleUtteranceEnd(text)
		},
		OnError: o.handleCaptureError,
	})
	if err := recorder.Start(ctx); err != nil {
		cancel()
		o.mu.Unlock()
		return err
	}
	o.recorder = recorder
	o.stop = cancel
	o.running = true
	firstStart := !o.greeted
	o.greeted = true
	o.mu.Unlock()

	o.notify(Event{Kind: EventState, Text: "listening"})
	if firstStart {
		o.greet()
	}
	return nil
}

// Stop ends the capture session. Queued speech and playback drain on their
// own. Idempotent.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	recorder := o.recorder
	o.recorder = nil
	cancel := o.stop
	o.stop = nil
	wasRunning := o.running
	o.running = false
	o.mu.Unlock()

	if recorder != nil {
		recorder.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if wasRunning {
		o.notify(Event{Kind: EventState, Text: "idle"})
	}
}

// Shutdown stops capture and tears down the speech and playback queues.
func (o *Orchestrator) Shutdown() {
	o.Stop()
	o.speech.Close()
	o.deps.Sound.Close()
}

func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	running := o.running
	o.mu.Unlock()

	state := "idle"
	if running {
		state = "listening"
	}
	playing, _ := o.deps.Sound.NowPlaying()
	return Status{
		State:      state,
		TurnActive: o.turns.Active(),
		QueueDepth: o.deps.Sound.Depth(),
		NowPlaying: playing,
	}
}

// greet and submissions run on background contexts: a reply stream is never
// cancelled in flight, it drains even if capture stops meanwhile.
func (o *Orchestrator) greet() {
	if o.deps.Visits != nil && !o.deps.Visits.Seen() {
		if err := o.deps.Visits.Mark(); err != nil {
			log.Printf("pipeline: mark visit: %v", err)
		}
		o.handleSentence(FirstVisitGreeting)
		return
	}
	if err := o.turns.Greet(context.Background()); err != nil {
		log.Printf("pipeline: greeting turn: %v", err)
	}
}

func (o *Orchestrator) handleTranscribed(text string) {
	o.notify(Event{Kind: EventTranscript, Text: text})
}

// handleUtteranceEnd runs on the capture loop; the submission moves to its
// own goroutine so memory retrieval and stream-open never stall capture.
func (o *Orchestrator) handleUtteranceEnd(text string) {
	o.notify(Event{Kind: EventUtterance, Text: text})
	go func() {
		if err := o.turns.Submit(context.Background(), text); err != nil {
			// Duplicate and active-turn rejections are routine, not failures.
			log.Printf("pipeline: submission dropped: %v", err)
		}
	}()
}

func (o *Orchestrator) handleCaptureError(err error) {
	log.Printf("pipeline: capture error: %v", err)
	o.notify(Event{Kind: EventError, Text: err.Error()})
	o.Stop()
}

func (o *Orchestrator) handleSentence(sentence string) {
	o.notify(Event{Kind: EventSentence, Text: sentence})
	o.speech.Enqueue(sentence, o.cfg.Voice)
}

func (o *Orchestrator) handleClip(text string, clip []byte) {
	o.deps.Sound.Enqueue(text, clip)
}

func (o *Orchestrator) notify(ev Event) {
	if o.deps.Notify != nil {
		o.deps.Notify(ev)
	}
}
