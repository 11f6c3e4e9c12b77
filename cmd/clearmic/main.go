// Command clearmic is the main entry point for the clearmic capture service.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/clearmic/clearmic/internal/app"
	"github.com/clearmic/clearmic/internal/config"
	"github.com/clearmic/clearmic/internal/observe"
	"github.com/clearmic/clearmic/internal/recorder"
	"github.com/clearmic/clearmic/pkg/audio"
	malgosrc "github.com/clearmic/clearmic/pkg/audio/malgo"
	"github.com/clearmic/clearmic/pkg/audio/opussink"
	"github.com/clearmic/clearmic/pkg/audio/wavsink"
)

// logLevel is mutable so a config reload can raise or lower verbosity
// without a restart.
var logLevel = new(slog.LevelVar)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "clearmic: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "clearmic: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("clearmic starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "clearmic",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Adapter registry ──────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinAdapters(reg)

	printStartupSummary(cfg)

	application, err := app.New(cfg, reg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(oldCfg, newCfg *config.Config) {
		diff := config.Diff(oldCfg, newCfg)
		if diff.LogLevelChanged {
			logLevel.Set(slogLevel(diff.NewLogLevel))
			slog.Info("log level changed", "level", diff.NewLogLevel)
		}
		if diff.AGCChanged || diff.FilterChanged || diff.RecorderChanged || diff.OutputChanged {
			slog.Info("config changed, takes effect at the next session")
		}
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	slog.Info("service ready — type start/stop/cancel, bare Enter is a trigger press, Ctrl+C to shut down")

	trigger := newStdinTrigger(application.Recorder())
	go trigger.readLoop(ctx)

	if err := application.Run(ctx, trigger); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Adapter wiring ────────────────────────────────────────────────────────────

// registerBuiltinAdapters wires the capture and encoder factories that ship
// with clearmic into reg.
func registerBuiltinAdapters(reg *config.Registry) {
	reg.RegisterSource("malgo", func(cfg config.CaptureConfig) (audio.CaptureSource, error) {
		// Ask the device for the target rate; if it is honoured the
		// resample stage degenerates to passthrough.
		return malgosrc.NewSource(malgosrc.Options{SampleRate: cfg.TargetRate})
	})

	reg.RegisterEncoder("wav", func(cfg config.OutputConfig) (audio.Encoder, error) {
		return wavsink.New(cfg.Directory), nil
	})
	reg.RegisterEncoder("opus", func(cfg config.OutputConfig) (audio.Encoder, error) {
		return opussink.New(cfg.Directory), nil
	})

	for _, name := range reg.SourceNames() {
		slog.Debug("registered capture source", "name", name)
	}
}

// ── Trigger frontend ──────────────────────────────────────────────────────────

// stdinTrigger adapts interactive stdin input to the coordinator: command
// words become lifecycle intents, and a bare Enter counts as one physical
// trigger press so the double-tap cancel path can be exercised from a
// terminal.
type stdinTrigger struct {
	intents chan audio.Intent
	rec     *recorder.Recorder
}

func newStdinTrigger(rec *recorder.Recorder) *stdinTrigger {
	return &stdinTrigger{
		intents: make(chan audio.Intent),
		rec:     rec,
	}
}

func (t *stdinTrigger) Intents() <-chan audio.Intent { return t.intents }

func (t *stdinTrigger) readLoop(ctx context.Context) {
	defer close(t.intents)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		var intent audio.Intent
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "":
			t.rec.Press()
			continue
		case "start", "s":
			intent = audio.IntentStart
		case "stop", "p":
			intent = audio.IntentStop
		case "cancel", "c":
			intent = audio.IntentCancel
		default:
			fmt.Println("commands: start, stop, cancel (bare Enter = trigger press)")
			continue
		}
		select {
		case t.intents <- intent:
		case <-ctx.Done():
			return
		}
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        clearmic — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printField("Source", cfg.Capture.Source)
	printField("Target rate", fmt.Sprintf("%d Hz", cfg.Capture.TargetRate))
	printField("Mode", cfg.Recorder.Mode)
	printField("Encoder", cfg.Output.Encoder)
	printField("Output dir", cfg.Output.Directory)
	if cfg.Server.ListenAddr != "" {
		printField("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printField(name, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", name, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

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
