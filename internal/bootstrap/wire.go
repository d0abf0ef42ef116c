package bootstrap

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"minwondesk/internal/audio"
	"minwondesk/internal/classify"
	"minwondesk/internal/config"
	"minwondesk/internal/logging"
	"minwondesk/internal/observability/metrics"
	"minwondesk/internal/ports"
	"minwondesk/internal/providers/deepgram"
	"minwondesk/internal/rules"
	"minwondesk/internal/speech"
	"minwondesk/internal/store"
	"minwondesk/internal/usecase"
)

// Options carries the pieces a command supplies itself.
type Options struct {
	Events ports.EventSink
	// Speaker overrides the configured speech mode.
	Speaker ports.Speaker
	// Registerer defaults to the prometheus default registry.
	Registerer prometheus.Registerer
	// Logger defaults to one built from cfg.Log.
	Logger *zap.Logger
}

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.DialogueController
	Config     config.Config
	Logger     *zap.Logger
	// Backlog is set when a Redis backup list is configured.
	Backlog *store.FallbackStore

	closers []func()
}

// Close releases database and cache connections.
func (s Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// Build wires all backend dependencies for the current runtime.
func Build(ctx context.Context, cfg config.Config, opts Options) (Services, error) {
	if opts.Events == nil {
		return Services{}, fmt.Errorf("bootstrap: event sink is required")
	}

	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return Services{}, err
		}
	}

	taxonomy, err := classify.LoadTaxonomy(cfg.Taxonomy.Path)
	if err != nil {
		return Services{}, err
	}
	classifier, err := classify.New(taxonomy)
	if err != nil {
		return Services{}, err
	}

	rulesEngine, err := rules.NewEngine(cfg.Rules.Path, cfg.Rules.IterationLimit)
	if err != nil {
		return Services{}, err
	}

	services := Services{Config: cfg, Logger: logger}
	complaintStore, err := buildStore(ctx, cfg.Store, logger, &services)
	if err != nil {
		services.Close()
		return Services{}, err
	}

	deps := usecase.Dependencies{
		Speaker:    opts.Speaker,
		Store:      complaintStore,
		Normalizer: rulesEngine,
		Events:     opts.Events,
		Classifier: classifier,
		Metrics:    metrics.NewDialogueMetrics(opts.Registerer),
		Logger:     logger,
	}
	if deps.Speaker == nil {
		deps.Speaker = buildSpeaker(cfg.Speech)
	}

	if cfg.Session.VoiceInput {
		if cfg.Deepgram.APIKey == "" {
			services.Close()
			return Services{}, fmt.Errorf("bootstrap: voice input enabled: %w", deepgram.ErrMissingAPIKey)
		}
		audioCfg := ports.AudioConfig{
			SampleRate:  cfg.Audio.SampleRate,
			Channels:    cfg.Audio.Channels,
			InputFormat: cfg.Audio.InputFormat,
			InputDevice: cfg.Audio.InputDevice,
		}
		var source ports.AudioCapture = audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand)
		if cfg.Audio.ReplayFile != "" {
			source = audio.NewReplayCapture(cfg.Audio.ReplayFile, true)
		}
		deps.Capture = usecase.NewCaptureSession(
			source,
			audioCfg,
			cfg.Audio.ChunkSize,
			logger.Named("capture"),
		)
		deps.Transcriber = deepgram.NewTranscriber(deepgram.Config{
			APIKey:      cfg.Deepgram.APIKey,
			APIBaseURL:  cfg.Deepgram.APIBaseURL,
			Model:       cfg.Deepgram.Model,
			Language:    cfg.Deepgram.Language,
			SmartFormat: cfg.Deepgram.SmartFormat,
			SampleRate:  cfg.Audio.SampleRate,
			Channels:    cfg.Audio.Channels,
		})
	}

	services.Controller = usecase.NewDialogueController(deps, controllerConfig(cfg))
	return services, nil
}

func controllerConfig(cfg config.Config) usecase.Config {
	threshold := cfg.Audio.SilenceThreshold
	return usecase.Config{
		VoiceInput:   cfg.Session.VoiceInput,
		MaxReprompts: cfg.Session.MaxReprompts,
		ChoiceCapture: usecase.CapturePolicy{
			MaxDuration: cfg.Session.ChoiceMaxDuration,
		},
		DetailCapture: usecase.CapturePolicy{
			MaxDuration:      cfg.Session.DetailMaxDuration,
			SilenceTimeout:   cfg.Session.DetailSilence,
			SilenceThreshold: threshold,
		},
		TranscribeTimeout:    cfg.Session.TranscribeTimeout,
		SubmitTimeout:        cfg.Session.SubmitTimeout,
		CompleteResetDelay:   cfg.Session.CompleteResetDelay,
		PrintCountdown:       cfg.Session.PrintCountdown,
		PrintCountdownAction: usecase.CountdownAction(cfg.Session.PrintCountdownAction),
	}
}

func buildSpeaker(cfg config.SpeechConfig) ports.Speaker {
	switch cfg.Mode {
	case "text":
		return speech.NewTextSpeaker(os.Stdout, "민원봇> ")
	case "silent":
		return speech.Silent{}
	default:
		return speech.NewCommandSpeaker(cfg.Command, cfg.Args...)
	}
}

func buildStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger, services *Services) (ports.ComplaintStore, error) {
	var primary ports.ComplaintStore
	switch cfg.Backend {
	case "http":
		primary = store.NewHTTPStore(cfg.Endpoint, nil)
	case "postgres":
		pool, err := store.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		services.closers = append(services.closers, pool.Close)
		primary = store.NewPostgresStore(pool)
	default:
		primary = store.NewMemoryStore()
	}

	if cfg.RedisAddr == "" {
		return primary, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	services.closers = append(services.closers, func() { _ = client.Close() })
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("bootstrap: ping redis %s: %w", cfg.RedisAddr, err)
	}
	backlog := store.NewFallbackStore(primary, client, cfg.BacklogKey, logger.Named("store"))
	services.Backlog = backlog
	return backlog, nil
}
