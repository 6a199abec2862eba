package audio

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

// Transcriber is the transcription gateway contract consumed by the capture
// controller. Text may legitimately be empty; errors are recoverable.
type Transcriber interface {
	TranscribeEnhanced(ctx context.Context, audio []byte, formatHint string, retries int) (string, error)
}

// CaptureState models the recorder lifecycle.
type CaptureState string

const (
	CaptureIdle       CaptureState = "idle"
	CaptureRecording  CaptureState = "recording"
	CaptureRefreshing CaptureState = "refreshing"
)

var ErrAlreadyRecording = errors.New("capture already running")

// CaptureConfig controls flush cadence, refresh cadence and buffer bounds.
type CaptureConfig struct {
	ProcessInterval time.Duration
	RefreshInterval time.Duration
	MaxChunks       int
	Retries         int
	// MaxUtterance caps the trailing decoded-sample buffer handed to
	// utterance-end consumers.
	MaxUtterance time.Duration
	// StopWait bounds how long a refresh waits for the device to confirm a
	// stopped state before giving up on the restart.
	StopWait time.Duration
}

func (c *CaptureConfig) applyDefaults() {
	if c.ProcessInterval <= 0 {
		c.ProcessInterval = time.Second
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 20 * time.Second
	}
	if c.MaxChunks <= 0 {
		c.MaxChunks = 50
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.MaxUtterance <= 0 {
		c.MaxUtterance = 30 * time.Second
	}
	if c.StopWait <= 0 {
		c.StopWait = 2 * time.Second
	}
}

// CaptureEvents are the controller's output callbacks. OnTranscribed fires on
// every successful non-empty transcription; OnUtteranceEnd only when the
// segmenter decides the user stopped speaking.
type CaptureEvents struct {
	OnTranscribed  func(text string)
	OnUtteranceEnd func(text string, samples []float32)
	OnError        func(err error)
}

// CaptureController owns the microphone device, periodically flushes buffered
// chunks to the transcription gateway, and periodically restarts the capture
// sub-session to bound buffer growth and recover from stalls.
//
// All buffer state is owned by the run loop; external callers interact only
// through Start, Stop, RequestRefresh and State. A controller runs one
// recording session; construct a new one to record again after Stop.
type CaptureController struct {
	device    Device
	gateway   Transcriber
	segmenter *Segmenter
	decoder   *ChunkDecoder
	events    CaptureEvents
	cfg       CaptureConfig

	mu      sync.Mutex
	state   CaptureState
	started bool

	// Owned by the run loop.
	chunks     []AudioChunk
	samples    []float32
	committed  string
	pending    string
	lastHash   uint64
	inFlight   bool
	refreshing bool

	refreshReq chan struct{}
	results    chan transcription
	stopOnce   sync.Once
	stopCh     chan struct{}
	doneCh     chan struct{}
}

type transcription struct {
	text string
	err  error
}

// NewCaptureController wires a device, gateway and segmenter together.
func NewCaptureController(device Device, gateway Transcriber, segmenter *Segmenter, decoder *ChunkDecoder, events CaptureEvents, cfg CaptureConfig) *CaptureController {
	cfg.applyDefaults()
	return &CaptureController{
		device:     device,
		gateway:    gateway,
		segmenter:  segmenter,
		decoder:    decoder,
		events:     events,
		cfg:        cfg,
		state:      CaptureIdle,
		refreshReq: make(chan struct{}, 1),
		results:    make(chan transcription, 1),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start opens the capture device and begins the flush/refresh loop.
func (c *CaptureController) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != CaptureIdle {
		c.mu.Unlock()
		return ErrAlreadyRecording
	}
	c.state = CaptureRecording
	c.started = true
	c.mu.Unlock()

	c.chunks = c.chunks[:0]
	c.samples = c.samples[:0]
	c.committed = ""
	c.pending = ""
	c.lastHash = 0
	c.segmenter.Reset()

	if err := c.device.Start(); err != nil {
		c.setState(CaptureIdle)
		return fmt.Errorf("start capture device: %w", err)
	}

	go c.run(ctx)
	return nil
}

// Stop cancels both timers, stops the device and closes the decoding
// context. Idempotent.
func (c *CaptureController) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.mu.Lock()
		started := c.started
		c.mu.Unlock()
		if started {
			<-c.doneCh
		}
		if err := c.device.Stop(); err != nil {
			log.Printf("capture: device stop: %v", err)
		}
		if c.decoder != nil {
			c.decoder.Close()
		}
		c.setState(CaptureIdle)
	})
}

// RequestRefresh asks the run loop to restart the capture sub-session.
// Requests made while a refresh is in progress are dropped.
func (c *CaptureController) RequestRefresh() {
	select {
	case c.refreshReq <- struct{}{}:
	default:
	}
}

// State reports the controller lifecycle state.
func (c *CaptureController) State() CaptureState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *CaptureController) setState(s CaptureState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *CaptureController) run(ctx context.Context) {
	defer close(c.doneCh)

	flush := time.NewTicker(c.cfg.ProcessInterval)
	refresh := time.NewTicker(c.cfg.RefreshInterval)
	defer flush.Stop()
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case chunk, ok := <-c.device.Chunks():
			if !ok {
				return
			}
			c.handleChunk(chunk, refresh)
		case <-flush.C:
			c.flushTick(ctx, refresh)
		case <-refresh.C:
			c.refresh(refresh)
		case <-c.refreshReq:
			c.refresh(refresh)
		case res := <-c.results:
			c.handleResult(res)
		}
	}
}

func (c *CaptureController) handleChunk(chunk AudioChunk, refresh *time.Ticker) {
	c.chunks = append(c.chunks, chunk)

	samples, err := c.decoder.Decode(chunk)
	if err != nil {
		log.Printf("capture: decode chunk %d: %v", chunk.Seq, err)
		return
	}
	c.samples = append(c.samples, samples...)
	if max := int(float64(SampleRate) * c.cfg.MaxUtterance.Seconds()); len(c.samples) > max {
		c.samples = c.samples[len(c.samples)-max:]
	}

	if c.segmenter.Feed(samples) {
		text := joinText(c.committed, c.pending)
		c.committed = ""
		c.pending = ""
		out := make([]float32, len(c.samples))
		copy(out, c.samples)
		c.samples = c.samples[:0]
		if c.events.OnUtteranceEnd != nil && text != "" {
			c.events.OnUtteranceEnd(text, out)
		}
		// The spoken buffer is consumed; restart the sub-session so the
		// next utterance starts from an empty chunk buffer.
		c.refresh(refresh)
	}
}

func (c *CaptureController) flushTick(ctx context.Context, refresh *time.Ticker) {
	// Chunk-limit pressure takes priority over flushing.
	if len(c.chunks) > (c.cfg.MaxChunks*4)/5 {
		c.refresh(refresh)
		return
	}
	if len(c.chunks) == 0 || c.inFlight {
		return
	}
	hash := chunkHash(c.chunks)
	if hash == c.lastHash {
		return
	}
	c.lastHash = hash

	var total int
	for _, ch := range c.chunks {
		total += len(ch.Data)
	}
	buf := make([]byte, 0, total)
	for _, ch := range c.chunks {
		buf = append(buf, ch.Data...)
	}
	hint := FormatPCM16
	if len(c.chunks) > 0 {
		hint = c.chunks[0].Format
	}

	c.inFlight = true
	go func() {
		text, err := c.gateway.TranscribeEnhanced(ctx, buf, hint, c.cfg.Retries)
		select {
		case c.results <- transcription{text: text, err: err}:
		case <-c.stopCh:
		}
	}()
}

func (c *CaptureController) handleResult(res transcription) {
	c.inFlight = false
	if res.err != nil {
		// Recover locally: drop the buffer and keep recording.
		log.Printf("capture: transcription failed, clearing buffer: %v", res.err)
		c.chunks = c.chunks[:0]
		c.lastHash = 0
		return
	}
	text := strings.TrimSpace(res.text)
	if text == "" {
		return
	}
	c.pending = text
	c.segmenter.MarkTranscribed()
	if c.events.OnTranscribed != nil {
		c.events.OnTranscribed(text)
	}
}

// refresh stops the active sub-session, clears buffered chunks and starts a
// fresh sub-session once the device confirms it stopped. Reentrancy-guarded:
// requests made while one is in progress are ignored.
func (c *CaptureController) refresh(ticker *time.Ticker) {
	if c.refreshing {
		return
	}
	c.refreshing = true
	defer func() { c.refreshing = false }()

	c.setState(CaptureRefreshing)
	if err := c.device.Stop(); err != nil {
		log.Printf("capture: refresh stop: %v", err)
	}

	deadline := time.Now().Add(c.cfg.StopWait)
	for c.device.State() != DeviceStopped {
		if time.Now().After(deadline) {
			c.setState(CaptureIdle)
			c.fail(fmt.Errorf("capture device did not reach stopped state within %s", c.cfg.StopWait))
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Text transcribed from the old buffer survives the restart.
	c.committed = joinText(c.committed, c.pending)
	c.pending = ""
	c.chunks = c.chunks[:0]
	c.lastHash = 0

	if err := c.device.Start(); err != nil {
		c.setState(CaptureIdle)
		c.fail(fmt.Errorf("restart capture device: %w", err))
		return
	}
	c.setState(CaptureRecording)
	ticker.Reset(c.cfg.RefreshInterval)
}

func (c *CaptureController) fail(err error) {
	log.Printf("capture: %v", err)
	if c.events.OnError != nil {
		c.events.OnError(err)
	}
}

// chunkHash summarizes the buffered chunk sizes so an unchanged buffer is
// not re-transcribed.
func chunkHash(chunks []AudioChunk) uint64 {
	h := uint64(1469598103934665603)
	for _, c := range chunks {
		h ^= uint64(len(c.Data))
		h *= 1099511628211
		h ^= uint64(c.Seq)
		h *= 1099511628211
	}
	return h
}

func joinText(a, b string) string {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " " + b
	}
}
