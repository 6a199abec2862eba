package playback

import (
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
)

// FFplayPlayer renders raw PCM clips by piping them to an ffplay process,
// one process per clip. ffplay does not accept ffmpeg-style -ac; channel
// selection uses -ch_layout.
type FFplayPlayer struct {
	path       string
	sampleRate int
	channels   int

	mu     sync.Mutex
	cmd    *exec.Cmd
	closed bool
}

func NewFFplayPlayer(path string, sampleRate int) *FFplayPlayer {
	if path == "" {
		path = "ffplay"
	}
	if sampleRate <= 0 {
		sampleRate = 48000
	}
	return &FFplayPlayer{path: path, sampleRate: sampleRate, channels: 1}
}

func (p *FFplayPlayer) Play(clip Clip, done func(err error)) error {
	chLayout := "mono"
	if p.channels == 2 {
		chLayout = "stereo"
	}
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-nodisp",
		"-autoexit",
		"-f", "s16le",
		"-ch_layout", chLayout,
		"-ar", strconv.Itoa(p.sampleRate),
		"-i", "-",
	}
	cmd := exec.Command(p.path, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("ffplay stdin: %w", err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		stdin.Close()
		return fmt.Errorf("player closed")
	}
	if err := cmd.Start(); err != nil {
		p.mu.Unlock()
		stdin.Close()
		return fmt.Errorf("ffplay start: %w", err)
	}
	p.cmd = cmd
	p.mu.Unlock()

	go func() {
		_, werr := stdin.Write(clip.Audio)
		stdin.Close()
		err := cmd.Wait()
		if err == nil {
			err = werr
		}

		p.mu.Lock()
		if p.cmd == cmd {
			p.cmd = nil
		}
		p.mu.Unlock()

		done(err)
	}()
	return nil
}

// Close kills the in-flight ffplay process, if any.
func (p *FFplayPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
		p.cmd = nil
	}
	return nil
}
