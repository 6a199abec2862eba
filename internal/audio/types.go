package audio

// Chunk formats accepted by the decoder. Anything else is treated as raw
// s16le on a best-effort basis.
const (
	FormatPCM16 = "pcm_s16le"
	FormatOpus  = "opus"
)

// SampleRate is the fixed pipeline sample rate. Devices and decoders must
// produce mono audio at this rate.
const SampleRate = 16000

// AudioChunk is an opaque encoded fragment of captured audio. Chunks are
// owned by the capture controller until flushed, then handed over whole to
// the transcription gateway.
type AudioChunk struct {
	Data   []byte
	Format string
	Seq    int
}

// DeviceState reports whether a capture device is producing chunks.
type DeviceState string

const (
	DeviceRunning DeviceState = "running"
	DeviceStopped DeviceState = "stopped"
)

// Device is a microphone capture sub-session factory. Start opens a fresh
// sub-session; Stop ends it. Chunks returns the stream of encoded fragments
// for the current sub-session.
type Device interface {
	Start() error
	Stop() error
	Chunks() <-chan AudioChunk
	State() DeviceState
}
