package audio

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// FFmpegDevice captures microphone audio by running ffmpeg and reading raw
// s16le PCM from its stdout. Each Start spawns a fresh ffmpeg process (one
// capture sub-session); the chunk channel persists across sub-sessions so
// the controller's read loop survives refreshes.
type FFmpegDevice struct {
	command     string
	inputFormat string
	inputDevice string
	chunkMs     int

	mu      sync.Mutex
	state   DeviceState
	proc    *os.Process
	stdout  io.ReadCloser
	waitErr chan error
	seq     int

	chunks chan AudioChunk
}

// NewFFmpegDevice builds a device reading from the given input
// (e.g. format "pulse"/"avfoundation", device "default").
func NewFFmpegDevice(command, inputFormat, inputDevice string) *FFmpegDevice {
	if command == "" {
		command = "ffmpeg"
	}
	if inputFormat == "" {
		inputFormat = "pulse"
	}
	if inputDevice == "" {
		inputDevice = "default"
	}
	return &FFmpegDevice{
		command:     command,
		inputFormat: inputFormat,
		inputDevice: inputDevice,
		chunkMs:     100,
		state:       DeviceStopped,
		chunks:      make(chan AudioChunk, 64),
	}
}

// Chunks returns the persistent chunk stream.
func (d *FFmpegDevice) Chunks() <-chan AudioChunk { return d.chunks }

// State reports whether a capture process is running.
func (d *FFmpegDevice) State() DeviceState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Start spawns a capture process and begins pushing chunks.
func (d *FFmpegDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == DeviceRunning {
		return nil
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", d.inputFormat,
		"-i", d.inputDevice,
		"-ac", "1",
		"-ar", strconv.Itoa(SampleRate),
		"-f", "s16le",
		"-",
	}
	cmd := exec.Command(d.command, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	d.proc = cmd.Process
	d.stdout = stdout
	d.waitErr = waitErr
	d.state = DeviceRunning

	go d.readLoop(stdout)
	return nil
}

// Stop interrupts the capture process and waits briefly for it to exit.
func (d *FFmpegDevice) Stop() error {
	d.mu.Lock()
	if d.state != DeviceRunning {
		d.mu.Unlock()
		return nil
	}
	proc := d.proc
	waitErr := d.waitErr
	stdout := d.stdout
	d.proc = nil
	d.stdout = nil
	d.state = DeviceStopped
	d.mu.Unlock()

	if stdout != nil {
		_ = stdout.Close()
	}
	if proc != nil {
		_ = proc.Signal(os.Interrupt)
		select {
		case <-waitErr:
		case <-time.After(1200 * time.Millisecond):
			_ = proc.Kill()
			<-waitErr
		}
	}
	return nil
}

func (d *FFmpegDevice) readLoop(r io.Reader) {
	chunkBytes := SampleRate * 2 * d.chunkMs / 1000
	buf := make([]byte, chunkBytes)
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			d.mu.Lock()
			d.seq++
			seq := d.seq
			d.mu.Unlock()
			select {
			case d.chunks <- AudioChunk{Data: data, Format: FormatPCM16, Seq: seq}:
			default:
				// Consumer is behind; drop rather than stall capture.
				log.Println("ffmpeg capture: chunk buffer full, dropping")
			}
		}
		if err != nil {
			return
		}
	}
}
