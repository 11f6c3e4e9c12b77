// Package app wires the clearmic subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the trigger loop and the diagnostics server, and
// Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithSource, WithEncoder). When an option is not provided, New creates real
// implementations from the config registry.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/clearmic/clearmic/internal/config"
	"github.com/clearmic/clearmic/internal/health"
	"github.com/clearmic/clearmic/internal/observe"
	"github.com/clearmic/clearmic/internal/pipeline"
	"github.com/clearmic/clearmic/internal/recorder"
	"github.com/clearmic/clearmic/pkg/audio"
	"github.com/clearmic/clearmic/pkg/dsp/agc"
	"github.com/clearmic/clearmic/pkg/dsp/denoise"
	"github.com/clearmic/clearmic/pkg/dsp/filter"
	"github.com/clearmic/clearmic/pkg/dsp/mixer"
)

// App owns all subsystem lifetimes around the recording coordinator.
type App struct {
	cfg *config.Config

	metrics *observe.Metrics
	source  audio.CaptureSource
	encoder audio.Encoder
	pipe    *pipeline.Pipeline
	rec     *recorder.Recorder
	httpSrv *http.Server

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSource injects a capture source instead of creating one from config.
func WithSource(s audio.CaptureSource) Option {
	return func(a *App) { a.source = s }
}

// WithEncoder injects an encoder instead of creating one from config.
func WithEncoder(e audio.Encoder) Option {
	return func(a *App) { a.encoder = e }
}

// WithMetrics injects a metrics set instead of using the package default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. The registry maps
// the configured source and encoder names to their adapter constructors; use
// Option functions to inject test doubles for either.
func New(cfg *config.Config, registry *config.Registry, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if a.source == nil {
		src, err := registry.CreateSource(cfg.Capture)
		if err != nil {
			return nil, fmt.Errorf("app: create capture source: %w", err)
		}
		a.source = src
		if c, ok := src.(interface{ Close() error }); ok {
			a.closers = append(a.closers, c.Close)
		}
	}

	if a.encoder == nil {
		enc, err := registry.CreateEncoder(cfg.Output)
		if err != nil {
			return nil, fmt.Errorf("app: create encoder: %w", err)
		}
		a.encoder = enc
	}

	pipe, err := pipeline.New(pipelineConfig(cfg, a.metrics))
	if err != nil {
		return nil, fmt.Errorf("app: build pipeline: %w", err)
	}
	a.pipe = pipe

	a.rec = recorder.New(recorder.Config{
		Mode:              recorder.Mode(cfg.Recorder.Mode),
		DoubleTapWindow:   cfg.Recorder.DoubleTapWindow(),
		QuiesceTimeout:    cfg.Recorder.QuiesceTimeout(),
		ReconnectAttempts: cfg.Recorder.ReconnectAttempts,
		ReconnectDelay:    cfg.Recorder.ReconnectDelay(),
		Metrics:           a.metrics,
	}, a.source, pipe, a.encoder)

	// Sources that detect asynchronous device loss report it straight into
	// the coordinator's reconnect path.
	if ln, ok := a.source.(interface{ SetDeviceLostHandler(func()) }); ok {
		ln.SetDeviceLostHandler(func() { a.rec.DeviceLost(context.Background()) })
	}

	a.httpSrv = a.buildHTTPServer()
	return a, nil
}

// pipelineConfig maps the file config onto the per-stage settings.
func pipelineConfig(cfg *config.Config, m *observe.Metrics) pipeline.Config {
	return pipeline.Config{
		TargetRate:    cfg.Capture.TargetRate,
		BufferSeconds: cfg.Capture.BufferSeconds,
		MixerPolicy:   mixer.Policy(cfg.Capture.MixerPolicy),
		Filter: filter.Config{
			HighpassCutoffHz:  cfg.Filter.HighpassCutoffHz,
			PreemphasisAlpha:  cfg.Filter.PreemphasisAlpha,
			BypassHighpass:    cfg.Filter.BypassHighpass,
			BypassPreemphasis: cfg.Filter.BypassPreemphasis,
		},
		Denoise: denoise.Config{
			FrameLen: cfg.Denoise.FrameLen,
			Hop:      cfg.Denoise.Hop,
			Disabled: cfg.Denoise.Disabled,
		},
		AGC: agc.Config{
			TargetDb:  cfg.AGC.TargetDb,
			MaxGainDb: cfg.AGC.MaxGainDb,
			AttackMs:  cfg.AGC.AttackMs,
			ReleaseMs: cfg.AGC.ReleaseMs,
			CeilingDb: cfg.AGC.CeilingDb,
			Disabled:  cfg.AGC.Disabled,
		},
		Metrics: m,
	}
}

// buildHTTPServer assembles the diagnostics endpoint set: Prometheus metrics,
// liveness, and readiness.
func (a *App) buildHTTPServer() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	checks := []health.Checker{
		health.OutputDir(a.cfg.Output.Directory),
		health.Recorder(func() string { return a.rec.State().String() }),
	}
	if fr, ok := a.source.(audio.FormatReporter); ok {
		checks = append(checks, health.Capture(func(context.Context) error {
			rate, channels := fr.Format()
			if rate <= 0 || channels <= 0 {
				return fmt.Errorf("capture device reports no usable format (%d Hz, %d ch)", rate, channels)
			}
			return nil
		}))
	}
	health.New(checks...).Register(mux)

	return &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Recorder exposes the coordinator for direct control (tests, alternative
// frontends).
func (a *App) Recorder() *recorder.Recorder { return a.rec }

// Handler exposes the diagnostics handler stack.
func (a *App) Handler() http.Handler { return a.httpSrv.Handler }

// Run serves diagnostics and consumes trigger intents until ctx is
// cancelled. It returns the first non-cancellation error from either loop.
func (a *App) Run(ctx context.Context, trigger audio.TriggerSource) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("diagnostics server listening", "addr", a.httpSrv.Addr)
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: diagnostics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return a.httpSrv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		err := a.rec.Run(ctx, trigger)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.rec.State() == recorder.StateRecording {
			if _, err := a.rec.Stop(ctx); err != nil {
				slog.Warn("stop on shutdown failed", "err", err)
			}
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
