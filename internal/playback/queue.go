package playback

import (
	"log"
	"sync"

	"github.com/google/uuid"
)

// Clip is one decoded audio clip awaiting playback. The ID is a transient
// handle released when the clip finishes or the queue tears down.
type Clip struct {
	ID    string
	Text  string
	Audio []byte
}

// Player renders one clip at a time. Play returns once playback is
// dispatched; done is called exactly once when the clip finishes or fails.
type Player interface {
	Play(clip Clip, done func(err error)) error
	Close() error
}

// DefaultCapacity bounds the number of queued (not yet played) clips.
const DefaultCapacity = 10

// Queue is a bounded FIFO of clips with a single now-playing slot. Advancing
// happens when the player reports completion, never by a direct call chain
// from Enqueue. On overflow the oldest unplayed clip is dropped.
type Queue struct {
	player   Player
	capacity int

	mu      sync.Mutex
	items   []Clip
	playing *Clip
	closed  bool
}

func NewQueue(player Player, capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{player: player, capacity: capacity}
}

// Enqueue appends a clip and starts playback if nothing is playing. When the
// queue is full the oldest queued clip is evicted first.
func (q *Queue) Enqueue(text string, audio []byte) {
	if len(audio) == 0 {
		return
	}
	clip := Clip{ID: uuid.NewString(), Text: text, Audio: audio}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if len(q.items) >= q.capacity {
		dropped := q.items[0]
		q.items = q.items[1:]
		log.Printf("playback: queue full, dropping oldest clip %s", dropped.ID)
	}
	q.items = append(q.items, clip)
	q.mu.Unlock()

	q.playNext()
}

// Depth returns the number of queued clips, excluding the one playing.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// NowPlaying reports the text of the clip currently playing, if any.
func (q *Queue) NowPlaying() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.playing == nil {
		return "", false
	}
	return q.playing.Text, true
}

// Close drops all queued clips and shuts the player down. The in-flight
// clip's completion callback becomes a no-op.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.playing = nil
	q.mu.Unlock()
	if err := q.player.Close(); err != nil {
		log.Printf("playback: player close: %v", err)
	}
}

// playNext is a no-op when a clip is already playing or nothing is queued.
func (q *Queue) playNext() {
	q.mu.Lock()
	if q.closed || q.playing != nil || len(q.items) == 0 {
		q.mu.Unlock()
		return
	}
	clip := q.items[0]
	q.items = q.items[1:]
	q.playing = &clip
	q.mu.Unlock()

	if err := q.player.Play(clip, func(playErr error) {
		q.completed(clip.ID, playErr)
	}); err != nil {
		q.completed(clip.ID, err)
	}
}

func (q *Queue) completed(id string, err error) {
	if err != nil {
		log.Printf("playback: clip %s failed: %v", id, err)
	}

	q.mu.Lock()
	if q.closed || q.playing == nil || q.playing.ID != id {
		q.mu.Unlock()
		return
	}
	q.playing = nil
	q.mu.Unlock()

	// Advance on a fresh goroutine so completion never grows the caller's
	// stack through a chain of playNext calls.
	go q.playNext()
}
