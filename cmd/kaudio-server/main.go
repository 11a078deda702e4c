// Command kaudio-server is the streaming transcription server of K.audio.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/kaudio/internal/app"
	"github.com/MrWong99/kaudio/internal/config"
	"github.com/MrWong99/kaudio/internal/observe"
	"github.com/MrWong99/kaudio/internal/resilience"
	"github.com/MrWong99/kaudio/pkg/provider/llm"
	"github.com/MrWong99/kaudio/pkg/provider/llm/anyllm"
	"github.com/MrWong99/kaudio/pkg/provider/llm/openai"
	"github.com/MrWong99/kaudio/pkg/provider/stt"
	"github.com/MrWong99/kaudio/pkg/provider/stt/whisper"
	"github.com/MrWong99/kaudio/pkg/provider/vad"
	"github.com/MrWong99/kaudio/pkg/provider/vad/energy"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kaudio-server: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("kaudio-server starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg.LLM.Timeout)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)
	for _, w := range cfg.Warnings() {
		slog.Warn(w)
	}

	application, err := app.New(ctx, cfg, providers, app.WithMetricsHandler(tel.Handler))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	if _, statErr := os.Stat(*configPath); statErr == nil {
		reloader, err := config.NewReloader(*configPath, func(d config.ConfigDiff, next *config.Config) {
			if d.LogLevelChanged {
				level.Set(slogLevel(d.NewLogLevel))
				slog.Info("log level changed", "level", d.NewLogLevel)
			}
			application.ApplyConfig(d, next)
		})
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			go reloader.Run(ctx)
			go reloadOnHangup(ctx, reloader)
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	// Sessions get the full drain window plus headroom for closers.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// loadConfig reads path, falling back to defaults when the file is absent.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "kaudio-server: config file %q not found, using defaults\n", path)
		cfg = config.Default()
		return cfg, config.Validate(cfg)
	}
	return cfg, err
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyLLMProviders share the same factory shape: optional APIKey + optional
// BaseURL.
var anyLLMProviders = []string{
	"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "ollama",
}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry, llmTimeout time.Duration) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		return openai.New(entry.Model,
			openai.WithAPIKey(entry.APIKey),
			openai.WithBaseURL(entry.BaseURL),
			openai.WithTimeout(llmTimeout),
		)
	})

	for _, providerName := range anyLLMProviders {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			return anyllm.New(providerName, entry.Model,
				anyllm.WithAPIKey(entry.APIKey),
				anyllm.WithBaseURL(entry.BaseURL),
				anyllm.WithTimeout(llmTimeout),
			)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────
	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry, sttCfg config.STTConfig) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		if modelPath == "" {
			return nil, errors.New("whisper-native: stt.model (model path) is not configured")
		}
		p, err := whisper.NewNative(modelPath,
			whisper.WithNativeLanguage(sttCfg.Language),
			whisper.WithThreads(sttCfg.Threads),
		)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	reg.RegisterSTT("whisper-server", func(entry config.ProviderEntry, sttCfg config.STTConfig) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if sttCfg.Language != "" {
			opts = append(opts, whisper.WithLanguage(sttCfg.Language))
		}
		p, err := whisper.New(entry.BaseURL, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// ── VAD ───────────────────────────────────────────────────────────────────
	reg.RegisterVAD("energy", func(config.StreamingConfig) (vad.Engine, error) {
		return energy.New(), nil
	})

	for _, name := range reg.LLMNames() {
		slog.Debug("registered provider", "kind", "llm", "name", name)
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	vadEngine, err := reg.CreateVAD("energy", cfg.Streaming)
	if err != nil {
		return nil, fmt.Errorf("create vad engine: %w", err)
	}
	ps.VAD = vadEngine

	if name := cfg.LLM.Name; name != "" {
		p, err := buildLLM(cfg.LLM, reg)
		if err != nil {
			return nil, err
		}
		ps.LLM = p
	}

	// The model is constructed lazily by the app so that a missing model
	// file leaves the server up with /health reporting the failure.
	sttCfg := cfg.STT
	ps.STT = func() (stt.Provider, error) { return buildSTT(sttCfg, reg) }

	return ps, nil
}

// failoverBreaker is shared by the LLM and STT failover chains.
var failoverBreaker = resilience.CircuitBreakerConfig{
	MaxFailures:  3,
	ResetTimeout: 30 * time.Second,
	HalfOpenMax:  1,
}

// buildLLM creates the primary LLM. Configured fallbacks turn it into a
// failover chain.
func buildLLM(lc config.LLMConfig, reg *config.Registry) (llm.Provider, error) {
	primary, err := reg.CreateLLM(lc.ProviderEntry)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", lc.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", lc.Name, "model", lc.Model)
	if len(lc.Fallback) == 0 {
		return primary, nil
	}

	chain := resilience.NewLLMChain(failoverBreaker)
	chain.Add(lc.Name, primary)
	for _, entry := range lc.Fallback {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			slog.Warn("skipping llm fallback", "name", entry.Name, "err", err)
			continue
		}
		chain.Add(entry.Name, p)
	}
	slog.Info("llm failover chain ready", "backends", chain.Backends())
	return chain, nil
}

// buildSTT creates the primary model and any fallbacks.
func buildSTT(sc config.STTConfig, reg *config.Registry) (stt.Provider, error) {
	primary, err := reg.CreateSTT(sc.ProviderEntry, sc)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", sc.Name, err)
	}
	if len(sc.Fallback) == 0 {
		return primary, nil
	}

	chain := resilience.NewSTTChain(failoverBreaker)
	chain.Add(sc.Name, primary)
	for _, entry := range sc.Fallback {
		p, err := reg.CreateSTT(entry, sc)
		if err != nil {
			slog.Warn("skipping stt fallback", "name", entry.Name, "err", err)
			continue
		}
		chain.Add(entry.Name, p)
	}
	slog.Info("stt failover chain ready", "backends", chain.Backends())
	return chain, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        K.audio server: startup        ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("STT", providerLabel(cfg.STT.Name, cfg.STT.Model))
	printRow("LLM", providerLabel(cfg.LLM.Name, cfg.LLM.Model))
	printRow("TTS relay", orDisabled(cfg.TTS.BaseURL))
	printRow("Storage", orDisabled(string(cfg.Storage.Driver)))
	printRow("Silence", fmt.Sprintf("%d ms", cfg.Streaming.SilenceMs))
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(name, model string) string {
	if name == "" {
		return "(not configured)"
	}
	if model != "" {
		return name + " / " + model
	}
	return name
}

func orDisabled(v string) string {
	if v == "" {
		return "(disabled)"
	}
	return v
}

func printRow(kind, value string) {
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:18]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// reloadOnHangup re-reads the config file each time the process gets SIGHUP.
func reloadOnHangup(ctx context.Context, r *config.Reloader) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if _, err := r.Reload(); err != nil {
				slog.Warn("config reload rejected, keeping running config", "err", err)
			}
		}
	}
}
