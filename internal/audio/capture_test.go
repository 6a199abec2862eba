package audio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeDevice struct {
	mu     sync.Mutex
	state  DeviceState
	starts int
	stops  int
	chunks chan AudioChunk
	seq    int
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{state: DeviceStopped, chunks: make(chan AudioChunk, 64)}
}

func (d *fakeDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.starts++
	d.state = DeviceRunning
	return nil
}

func (d *fakeDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops++
	d.state = DeviceStopped
	return nil
}

func (d *fakeDevice) Chunks() <-chan AudioChunk { return d.chunks }

func (d *fakeDevice) State() DeviceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *fakeDevice) startCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.starts
}

func (d *fakeDevice) push(data []byte) {
	d.mu.Lock()
	d.seq++
	seq := d.seq
	d.mu.Unlock()
	d.chunks <- AudioChunk{Data: data, Format: FormatPCM16, Seq: seq}
}

type fakeGateway struct {
	mu    sync.Mutex
	text  string
	err   error
	calls [][]byte
	seen  chan int // byte length of each call
}

func newFakeGateway(text string) *fakeGateway {
	return &fakeGateway{text: text, seen: make(chan int, 16)}
}

func (g *fakeGateway) TranscribeEnhanced(_ context.Context, audio []byte, _ string, _ int) (string, error) {
	g.mu.Lock()
	cp := make([]byte, len(audio))
	copy(cp, audio)
	g.calls = append(g.calls, cp)
	text, err := g.text, g.err
	g.mu.Unlock()
	g.seen <- len(audio)
	if err != nil {
		return "", err
	}
	return text, nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// loudPCM builds an s16le chunk with high amplitude.
func loudPCM(samples int) []byte {
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		out[2*i] = 0x00
		out[2*i+1] = 0x40 // 16384
	}
	return out
}

func silentPCM(samples int) []byte { return make([]byte, samples*2) }

func testController(t *testing.T, dev Device, gw Transcriber, ev CaptureEvents) *CaptureController {
	t.Helper()
	dec, err := NewChunkDecoder(SampleRate)
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	seg := NewSegmenter(0.012, SampleRate, 200*time.Millisecond)
	return NewCaptureController(dev, gw, seg, dec, ev, CaptureConfig{
		ProcessInterval: 15 * time.Millisecond,
		RefreshInterval: time.Hour, // never fires on its own in tests
		MaxChunks:       50,
		StopWait:        time.Second,
	})
}

func TestCapture_TranscribesBufferedChunks(t *testing.T) {
	dev := newFakeDevice()
	gw := newFakeGateway("hello there")
	transcribed := make(chan string, 4)
	ctrl := testController(t, dev, gw, CaptureEvents{
		OnTranscribed: func(text string) { transcribed <- text },
	})

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer ctrl.Stop()

	dev.push(loudPCM(1600))

	select {
	case text := <-transcribed:
		if text != "hello there" {
			t.Fatalf("unexpected transcription %q", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for transcription")
	}
}

func TestCapture_SkipsUnchangedBuffer(t *testing.T) {
	dev := newFakeDevice()
	gw := newFakeGateway("hi")
	ctrl := testController(t, dev, gw, CaptureEvents{})

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer ctrl.Stop()

	dev.push(loudPCM(1600))
	select {
	case <-gw.seen:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for first flush")
	}

	// Several flush intervals pass with no new chunks; the content hash is
	// unchanged so no further transcription may happen.
	time.Sleep(100 * time.Millisecond)
	if n := gw.callCount(); n != 1 {
		t.Fatalf("expected 1 transcription for unchanged buffer, got %d", n)
	}
}

func TestCapture_RefreshClearsBufferAndResumes(t *testing.T) {
	dev := newFakeDevice()
	gw := newFakeGateway("hi")
	ctrl := testController(t, dev, gw, CaptureEvents{})

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer ctrl.Stop()

	dev.push(loudPCM(1600))
	dev.push(loudPCM(1600))
	select {
	case n := <-gw.seen:
		if n != 2*3200 {
			t.Fatalf("expected flush of both chunks, got %d bytes", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for flush")
	}

	ctrl.RequestRefresh()
	deadline := time.Now().Add(2 * time.Second)
	for dev.startCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("capture did not resume after refresh")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := ctrl.State(); got != CaptureRecording {
		t.Fatalf("expected recording after refresh, got %s", got)
	}

	// Buffer was cleared; the next flush contains only the new chunk.
	dev.push(loudPCM(800))
	select {
	case n := <-gw.seen:
		if n != 1600 {
			t.Fatalf("expected flush of only the fresh chunk, got %d bytes", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for post-refresh flush")
	}
}

func TestCapture_TranscriptionFailureClearsBufferAndContinues(t *testing.T) {
	dev := newFakeDevice()
	gw := newFakeGateway("")
	gw.err = errors.New("stt down")
	failures := make(chan error, 4)
	ctrl := testController(t, dev, gw, CaptureEvents{
		OnError: func(err error) { failures <- err },
	})

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer ctrl.Stop()

	dev.push(loudPCM(1600))
	select {
	case <-gw.seen:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for attempt")
	}
	time.Sleep(50 * time.Millisecond)

	// Transcription errors are recovered locally, not surfaced.
	select {
	case err := <-failures:
		t.Fatalf("transcription error should not surface, got %v", err)
	default:
	}
	if got := ctrl.State(); got != CaptureRecording {
		t.Fatalf("expected recording to continue, got %s", got)
	}

	// New audio after the failure is attempted again.
	gw.mu.Lock()
	gw.err = nil
	gw.text = "back"
	gw.mu.Unlock()
	dev.push(loudPCM(800))
	select {
	case <-gw.seen:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected retry with fresh audio")
	}
}

func TestCapture_UtteranceEndEmitsTextSoFar(t *testing.T) {
	dev := newFakeDevice()
	gw := newFakeGateway("what a lovely day")
	ended := make(chan string, 1)
	ctrl := testController(t, dev, gw, CaptureEvents{
		OnUtteranceEnd: func(text string, samples []float32) { ended <- text },
	})

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer ctrl.Stop()

	dev.push(loudPCM(1600))
	select {
	case <-gw.seen:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for transcription")
	}
	// Give the result time to land before feeding silence.
	time.Sleep(50 * time.Millisecond)

	// 200ms silence window at 16kHz = 3200 samples.
	dev.push(silentPCM(1600))
	dev.push(silentPCM(1600))
	dev.push(silentPCM(1600))

	select {
	case text := <-ended:
		if text != "what a lovely day" {
			t.Fatalf("unexpected utterance text %q", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for utterance end")
	}
}

func TestCapture_SilenceAloneNeverEndsUtterance(t *testing.T) {
	dev := newFakeDevice()
	gw := newFakeGateway("")
	ended := make(chan string, 1)
	ctrl := testController(t, dev, gw, CaptureEvents{
		OnUtteranceEnd: func(text string, samples []float32) { ended <- text },
	})

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer ctrl.Stop()

	for i := 0; i < 6; i++ {
		dev.push(silentPCM(1600))
	}
	select {
	case text := <-ended:
		t.Fatalf("utterance end fired on leading silence: %q", text)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestCapture_StopIsIdempotent(t *testing.T) {
	dev := newFakeDevice()
	ctrl := testController(t, dev, newFakeGateway(""), CaptureEvents{})
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctrl.Stop()
	ctrl.Stop()
	if got := ctrl.State(); got != CaptureIdle {
		t.Fatalf("expected idle after stop, got %s", got)
	}
}

func TestCapture_StartWhileRunningFails(t *testing.T) {
	dev := newFakeDevice()
	ctrl := testController(t, dev, newFakeGateway(""), CaptureEvents{})
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer ctrl.Stop()
	if err := ctrl.Start(context.Background()); !errors.Is(err, ErrAlreadyRecording) {
		t.Fatalf("expected ErrAlreadyRecording, got %v", err)
	}
}

func TestChunkHash_ChangesWithContent(t *testing.T) {
	a := []AudioChunk{{Data: make([]byte, 10), Seq: 1}}
	b := []AudioChunk{{Data: make([]byte, 10), Seq: 1}, {Data: make([]byte, 4), Seq: 2}}
	if chunkHash(a) == chunkHash(b) {
		t.Fatalf("expected different hashes for different buffers")
	}
	if chunkHash(a) != chunkHash(a) {
		t.Fatalf("expected stable hash for same buffer")
	}
}
