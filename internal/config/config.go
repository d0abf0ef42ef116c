package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores runtime configuration for the intake kiosk.
type Config struct {
	Deepgram DeepgramConfig
	Audio    AudioConfig
	Speech   SpeechConfig
	Rules    RulesConfig
	Taxonomy TaxonomyConfig
	Session  SessionConfig
	Store    StoreConfig
	Server   ServerConfig
	Log      LogConfig
}

type DeepgramConfig struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool
}

type AudioConfig struct {
	RecorderCommand  string
	InputFormat      string
	InputDevice      string
	SampleRate       int
	Channels         int
	ChunkSize        int
	SilenceThreshold int
	// ReplayFile, when set, feeds a recorded s16le PCM file instead of the
	// microphone.
	ReplayFile string
}

type SpeechConfig struct {
	// Mode is command, text or silent.
	Mode    string
	Command string
	Args    []string
}

type RulesConfig struct {
	Path           string
	IterationLimit int
}

type TaxonomyConfig struct {
	Path string
}

type SessionConfig struct {
	VoiceInput           bool
	MaxReprompts         int
	ChoiceMaxDuration    time.Duration
	DetailMaxDuration    time.Duration
	DetailSilence        time.Duration
	TranscribeTimeout    time.Duration
	SubmitTimeout        time.Duration
	CompleteResetDelay   time.Duration
	PrintCountdown       time.Duration
	PrintCountdownAction string
}

type StoreConfig struct {
	// Backend is memory, http or postgres.
	Backend       string
	Endpoint      string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	BacklogKey    string
	RetryInterval time.Duration
}

type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// LoadEnvFile applies a dotenv file to the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %q: %w", path, err)
	}
	return nil
}

// Load resolves configuration from environment variables and sensible defaults.
func Load() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}

	rulesPath := strings.TrimSpace(os.Getenv("MINWON_RULES_FILE"))
	if rulesPath == "" {
		rulesPath = firstExisting(
			filepath.Join(home, ".config", "minwondesk", "substitutions.rules"),
			filepath.Join("/etc", "minwondesk", "substitutions.rules"),
		)
	}

	cfg := Config{
		Deepgram: DeepgramConfig{
			APIKey:      strings.TrimSpace(os.Getenv("DEEPGRAM_API_KEY")),
			APIBaseURL:  envOrDefault("DEEPGRAM_API_BASE", "https://api.deepgram.com/v1"),
			Model:       envOrDefault("DEEPGRAM_MODEL", "nova-2"),
			Language:    envOrDefault("DEEPGRAM_LANGUAGE", "ko"),
			SmartFormat: envOrDefaultBool("DEEPGRAM_SMART_FORMAT", true),
		},
		Audio: AudioConfig{
			RecorderCommand: envOrDefault("MINWON_FFMPEG_COMMAND", "ffmpeg"),
			InputFormat:     envOrDefault("MINWON_AUDIO_INPUT_FORMAT", "pulse"),
			InputDevice: firstNonEmpty(
				os.Getenv("MINWON_AUDIO_INPUT_DEVICE"),
				os.Getenv("PULSE_SOURCE"),
				"default",
			),
			SampleRate:       envOrDefaultInt("MINWON_SAMPLE_RATE", 16000),
			Channels:         envOrDefaultInt("MINWON_CHANNELS", 1),
			ChunkSize:        envOrDefaultInt("MINWON_AUDIO_CHUNK_SIZE", 4096),
			SilenceThreshold: envOrDefaultInt("MINWON_SILENCE_THRESHOLD", 500),
			ReplayFile:       strings.TrimSpace(os.Getenv("MINWON_AUDIO_REPLAY_FILE")),
		},
		Speech: SpeechConfig{
			Mode:    strings.ToLower(envOrDefault("MINWON_SPEECH_MODE", "command")),
			Command: envOrDefault("MINWON_SPEECH_COMMAND", "espeak-ng"),
			Args:    strings.Fields(envOrDefault("MINWON_SPEECH_ARGS", "-v ko --stdin")),
		},
		Rules: RulesConfig{
			Path:           rulesPath,
			IterationLimit: envOrDefaultInt("MINWON_RULE_ITERATION_LIMIT", 30),
		},
		Taxonomy: TaxonomyConfig{
			Path: strings.TrimSpace(os.Getenv("MINWON_TAXONOMY_FILE")),
		},
		Session: SessionConfig{
			VoiceInput:           envOrDefaultBool("MINWON_VOICE_INPUT", true),
			MaxReprompts:         envOrDefaultInt("MINWON_MAX_REPROMPTS", 3),
			ChoiceMaxDuration:    envOrDefaultMillis("MINWON_CHOICE_CAPTURE_MS", 8000),
			DetailMaxDuration:    envOrDefaultMillis("MINWON_DETAIL_CAPTURE_MS", 30000),
			DetailSilence:        envOrDefaultMillis("MINWON_DETAIL_SILENCE_MS", 2500),
			TranscribeTimeout:    envOrDefaultMillis("MINWON_TRANSCRIBE_TIMEOUT_MS", 15000),
			SubmitTimeout:        envOrDefaultMillis("MINWON_SUBMIT_TIMEOUT_MS", 10000),
			CompleteResetDelay:   envOrDefaultMillis("MINWON_COMPLETE_RESET_MS", 6000),
			PrintCountdown:       envOrDefaultMillis("MINWON_PRINT_COUNTDOWN_MS", 0),
			PrintCountdownAction: strings.ToLower(envOrDefault("MINWON_PRINT_COUNTDOWN_ACTION", "none")),
		},
		Store: StoreConfig{
			Backend:       strings.ToLower(envOrDefault("MINWON_STORE", "memory")),
			Endpoint:      strings.TrimSpace(os.Getenv("MINWON_STORE_URL")),
			DatabaseURL:   strings.TrimSpace(os.Getenv("DATABASE_URL")),
			RedisAddr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
			RedisPassword: os.Getenv("REDIS_PASSWORD"),
			BacklogKey:    envOrDefault("MINWON_BACKLOG_KEY", "minwondesk:complaints:pending"),
			RetryInterval: envOrDefaultMillis("MINWON_BACKLOG_RETRY_MS", 30000),
		},
		Server: ServerConfig{
			Addr:           envOrDefault("MINWON_HTTP_ADDR", ":8080"),
			AllowedOrigins: splitList(os.Getenv("MINWON_ALLOWED_ORIGINS")),
		},
		Log: LogConfig{
			Level:  envOrDefault("MINWON_LOG_LEVEL", "info"),
			Format: envOrDefault("MINWON_LOG_FORMAT", "json"),
		},
	}

	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.ChunkSize < 256 {
		cfg.Audio.ChunkSize = 4096
	}
	if cfg.Audio.SilenceThreshold < 0 {
		cfg.Audio.SilenceThreshold = 0
	}
	if cfg.Rules.IterationLimit <= 0 {
		cfg.Rules.IterationLimit = 30
	}
	if cfg.Session.MaxReprompts < 0 {
		cfg.Session.MaxReprompts = 0
	}
	if cfg.Store.RetryInterval <= 0 {
		cfg.Store.RetryInterval = 30 * time.Second
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Speech.Mode {
	case "command", "text", "silent":
	default:
		return fmt.Errorf("unknown speech mode %q (want command, text or silent)", c.Speech.Mode)
	}
	switch c.Session.PrintCountdownAction {
	case "none", "decline":
	default:
		return fmt.Errorf("unknown print countdown action %q (want none or decline)", c.Session.PrintCountdownAction)
	}
	switch c.Store.Backend {
	case "memory":
	case "http":
		if c.Store.Endpoint == "" {
			return errors.New("MINWON_STORE_URL is required for the http store")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown store backend %q (want memory, http or postgres)", c.Store.Backend)
	}
	return nil
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultMillis(key string, fallback int) time.Duration {
	ms := envOrDefaultInt(key, fallback)
	if ms < 0 {
		ms = fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
