package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string

	OpenAIKey       string
	ChatModelID     string
	TranscribeModel string
	ElevenLabsKey   string
	DeepgramKey     string
	DefaultVoice    string
	VoiceSpeed      float64
	KnownVoices     map[string]string
	SupabaseURL     string
	SupabaseKey     string
	MemoryTable     string
	VisitFlagPath   string
	FFmpegPath      string
	FFplayPath      string
	CaptureFormat   string
	CaptureDevice   string

	// Silence detection and capture cadence.
	SilenceThreshold float64
	SilenceDuration  time.Duration
	ProcessInterval  time.Duration
	RefreshInterval  time.Duration
	MaxChunks        int
	TranscribeRetry  int

	// Memory-write policy data. Substring filters tuned by trial; kept as
	// data so deployments can adjust them without a rebuild.
	DenialPhrases      []string
	GreetingWords      []string
	TranscriptFilters  []string
	MinStoreWords      int
	ShortInputWords    int
	MinMeaningfulChars int
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file loaded; relying on environment")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	openAIKey := os.Getenv("OPENAI_API_KEY")
	if openAIKey == "" {
		log.Println("Warning: OPENAI_API_KEY not set - generation and transcription will not work")
	}

	chatModel := os.Getenv("CHAT_MODEL_ID")
	if chatModel == "" {
		chatModel = "gpt-4o-mini"
	}
	transcribeModel := os.Getenv("TRANSCRIBE_MODEL_ID")
	if transcribeModel == "" {
		transcribeModel = "whisper-1"
	}

	elevenKey := os.Getenv("ELEVENLABS_API_KEY")
	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	if elevenKey == "" && deepgramKey == "" {
		log.Println("Warning: no TTS key set (ELEVENLABS_API_KEY or DEEPGRAM_API_KEY) - synthesis will not work")
	}

	voice := os.Getenv("DEFAULT_VOICE")
	if voice == "" {
		voice = "samantha"
	}

	supabaseURL := os.Getenv("SUPABASE_URL")
	supabaseKey := os.Getenv("SUPABASE_SERVICE_ROLE_KEY")
	if supabaseURL == "" || supabaseKey == "" {
		log.Println("Warning: SUPABASE_URL / SUPABASE_SERVICE_ROLE_KEY not set - long-term memory disabled")
	}
	memoryTable := os.Getenv("MEMORY_TABLE")
	if memoryTable == "" {
		memoryTable = "memories"
	}

	visitPath := os.Getenv("VISIT_FLAG_PATH")
	if visitPath == "" {
		visitPath = ".samantha_visited"
	}

	cfg := Config{
		HTTPAddress:     addr,
		OpenAIKey:       openAIKey,
		ChatModelID:     chatModel,
		TranscribeModel: transcribeModel,
		ElevenLabsKey:   elevenKey,
		DeepgramKey:     deepgramKey,
		DefaultVoice:    voice,
		VoiceSpeed:      envFloat("VOICE_SPEED", 1.0),
		KnownVoices: map[string]string{
			"samantha": "EXAVITQu4vr4xnSDxMaL",
			"rachel":   "21m00Tcm4TlvDq8ikWAM",
			"adam":     "pNInz6obpgDQGcFmaJgB",
		},
		SupabaseURL:   supabaseURL,
		SupabaseKey:   supabaseKey,
		MemoryTable:   memoryTable,
		VisitFlagPath: visitPath,
		FFmpegPath:    envString("FFMPEG_PATH", "ffmpeg"),
		FFplayPath:    envString("FFPLAY_PATH", "ffplay"),
		CaptureFormat: envString("CAPTURE_FORMAT", "pulse"),
		CaptureDevice: envString("CAPTURE_DEVICE", "default"),

		SilenceThreshold: envFloat("SILENCE_THRESHOLD", 0.012),
		SilenceDuration:  envDuration("SILENCE_DURATION", 1500*time.Millisecond),
		ProcessInterval:  envDuration("PROCESS_INTERVAL", time.Second),
		RefreshInterval:  envDuration("RECORDER_REFRESH_INTERVAL", 20*time.Second),
		MaxChunks:        envInt("MAX_CHUNKS", 50),
		TranscribeRetry:  envInt("TRANSCRIBE_RETRIES", 2),

		DenialPhrases: envList("MEMORY_DENIAL_PHRASES", []string{
			"i don't have any memory",
			"i have no memory",
			"i don't remember",
			"no stored memories",
		}),
		GreetingWords: envList("MEMORY_GREETING_WORDS", []string{"hello", "hi", "hey"}),
		TranscriptFilters: envList("TRANSCRIPT_FILTERS", []string{
			"thank you for watching",
			"thanks for watching",
			"subtitles by",
			"www.youtube.com",
		}),
		MinStoreWords:      2,
		ShortInputWords:    15,
		MinMeaningfulChars: 10,
	}

	log.Printf("config: HTTP_ADDRESS=%s chat=%s transcribe=%s voice=%s", addr, chatModel, transcribeModel, voice)
	return cfg
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("config: invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("config: invalid %s=%q, using %g", key, v, fallback)
		return fallback
	}
	return f
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("config: invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return d
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
