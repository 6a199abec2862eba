package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benslamahafedh/samanthaos1/internal/audio"
	"github.com/benslamahafedh/samanthaos1/internal/config"
	"github.com/benslamahafedh/samanthaos1/internal/httpserver"
	"github.com/benslamahafedh/samanthaos1/internal/llm"
	"github.com/benslamahafedh/samanthaos1/internal/memory"
	"github.com/benslamahafedh/samanthaos1/internal/pipeline"
	"github.com/benslamahafedh/samanthaos1/internal/playback"
	"github.com/benslamahafedh/samanthaos1/internal/transcribe"
	"github.com/benslamahafedh/samanthaos1/internal/tts"
	"github.com/benslamahafedh/samanthaos1/internal/turn"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	gateway := transcribe.NewGateway(
		transcribe.NewWhisperClient(cfg.OpenAIKey, cfg.TranscribeModel),
		cfg.TranscriptFilters,
	)
	streamer := llm.NewOpenAIStreamer(cfg.OpenAIKey, cfg.ChatModelID)

	var store turn.Memory
	if cfg.SupabaseURL != "" && cfg.SupabaseKey != "" {
		s, err := memory.NewSupabaseStore(cfg.SupabaseURL, cfg.SupabaseKey, cfg.MemoryTable)
		if err != nil {
			log.Fatalf("memory store: %v", err)
		}
		store = s
	} else {
		log.Printf("warning: SUPABASE_URL/SUPABASE_KEY unset, long-term memory disabled")
	}

	player := playback.NewFFplayPlayer(cfg.FFplayPath, 48000)
	sound := playback.NewQueue(player, playback.DefaultCapacity)

	var synth tts.Synthesizer
	if cfg.ElevenLabsKey != "" {
		synth = tts.NewElevenLabsClient(cfg.ElevenLabsKey)
	} else {
		synth = tts.NewDeepgramSpeaker(cfg.DeepgramKey, "")
	}

	hub := httpserver.NewHub()

	orch := pipeline.New(pipeline.Config{Voice: cfg.DefaultVoice}, pipeline.Deps{
		NewRecorder: func(events audio.CaptureEvents) pipeline.Recorder {
			return newRecorder(cfg, gateway, events)
		},
		NewTurns: func(events turn.Events) pipeline.Turns {
			return turn.NewDispatcher(streamer, streamer, store, turn.DispatcherConfig{
				Policy: turn.MemoryPolicy{
					DenialPhrases:      cfg.DenialPhrases,
					GreetingWords:      cfg.GreetingWords,
					MinStoreWords:      cfg.MinStoreWords,
					ShortInputWords:    cfg.ShortInputWords,
					MinMeaningfulChars: cfg.MinMeaningfulChars,
				},
			}, events)
		},
		NewSpeech: func(onAudio func(string, []byte), onError func(string, error)) pipeline.Speech {
			return tts.NewDispatchQueue(synth, tts.QueueConfig{
				Voices:       cfg.KnownVoices,
				DefaultVoice: cfg.KnownVoices[cfg.DefaultVoice],
				Speed:        cfg.VoiceSpeed,
			}, onAudio, onError)
		},
		Sound:  sound,
		Visits: memory.NewVisitFlag(cfg.VisitFlagPath),
		Notify: hub.Publish,
	})

	srv := httpserver.New(orch, hub)

	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.HTTPAddress)
		serverErrors <- srv.Start(cfg.HTTPAddress)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("shutdown signal received: %v", sig)
	}

	orch.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

// newRecorder assembles a single-use capture session.
func newRecorder(cfg config.Config, gateway *transcribe.Gateway, events audio.CaptureEvents) pipeline.Recorder {
	decoder, err := audio.NewChunkDecoder(audio.SampleRate)
	if err != nil {
		log.Fatalf("audio decoder: %v", err)
	}
	device := audio.NewFFmpegDevice(cfg.FFmpegPath, cfg.CaptureFormat, cfg.CaptureDevice)
	segmenter := audio.NewSegmenter(cfg.SilenceThreshold, audio.SampleRate, cfg.SilenceDuration)
	return audio.NewCaptureController(device, gateway, segmenter, decoder, events, audio.CaptureConfig{
		ProcessInterval: cfg.ProcessInterval,
		RefreshInterval: cfg.RefreshInterval,
		MaxChunks:       cfg.MaxChunks,
		Retries:         cfg.TranscribeRetry,
	})
}
