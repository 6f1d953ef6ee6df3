// Package runtime assembles the bridge: embedded bus, session store, audio
// pipeline, dialogue client, side-effect dispatcher, and the HTTP surface the
// call-control provider talks to.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/parley-labs/parley-bridge/internal/audio"
	"github.com/parley-labs/parley-bridge/internal/bus"
	"github.com/parley-labs/parley-bridge/internal/config"
	"github.com/parley-labs/parley-bridge/internal/dialogue"
	"github.com/parley-labs/parley-bridge/internal/dispatch"
	"github.com/parley-labs/parley-bridge/internal/ivr"
	"github.com/parley-labs/parley-bridge/internal/natsserver"
	"github.com/parley-labs/parley-bridge/internal/session"
	"github.com/parley-labs/parley-bridge/internal/sms"
)

type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error
	ready         atomic.Bool
	wg            sync.WaitGroup

	busClient  *bus.Client
	dispatcher *dispatch.Service
	orch       *ivr.Orchestrator
	audioDir   string
	metrics    *turnMetrics
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	metrics, err := newTurnMetrics()
	if err != nil {
		return fmt.Errorf("failed to create instruments: %w", err)
	}
	r.metrics = metrics

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	defer embedded.Shutdown()

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	defer busClient.Close()
	r.busClient = busClient

	sessions, err := session.Open(ctx, r.cfg.Sessions, r.cfg.Dialogue.VersionID, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer sessions.Close()

	transcoder, err := audio.NewFFmpegTranscoder(r.cfg.Audio.FFmpegCommand, r.cfg.Audio.SampleRate, r.cfg.Audio.Channels, r.cfg.Audio.Bitrate)
	if err != nil {
		return fmt.Errorf("failed to create transcoder: %w", err)
	}
	cleaner := audio.NewCleaner(time.Duration(r.cfg.Audio.CleanupGraceMS)*time.Millisecond, r.logger)
	defer cleaner.Drain()
	pipeline := audio.NewPipeline(r.cfg.Audio, transcoder, cleaner, r.logger)
	r.audioDir = pipeline.TempDir()

	engine := dialogue.NewClient(r.cfg.Dialogue, r.logger)
	interp := ivr.NewInterpreter(pipeline, r.cfg.Gather, r.logger)
	publisher := dispatch.NewPublisher(busClient)
	r.orch = ivr.NewOrchestrator(engine, sessions, interp, publisher,
		r.cfg.Telephony.SenderNumber, r.cfg.Dialogue.ResetOnEnd, r.logger)

	sender, err := r.buildSender()
	if err != nil {
		return err
	}
	r.dispatcher = dispatch.NewService(ctx, busClient, sender, engine, r.cfg.Dialogue.ResetOnEnd, r.logger)
	if err := r.dispatcher.Start(); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}
	defer r.dispatcher.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/ivr/launch", r.handleLaunch)
	mux.HandleFunc("/ivr/interaction", r.handleInteraction)
	mux.HandleFunc("/ivr/audio/", r.handleAudio)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	if metricHandler != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				r.logger.Error("metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if r.metricsServer != nil {
		if err := r.metricsServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// buildSender returns the outbound SMS client, or a stand-in that rejects
// sends when provider credentials are not configured. Text traces still
// produce jobs; they just land in the dispatcher's failure log.
func (r *Runtime) buildSender() (dispatch.SMSSender, error) {
	if r.cfg.Telephony.AccountSID == "" || r.cfg.Telephony.AuthToken == "" {
		r.logger.Warn("telephony credentials not configured, outbound sms disabled")
		return disabledSender{}, nil
	}
	client, err := sms.NewClient(r.cfg.Telephony)
	if err != nil {
		return nil, fmt.Errorf("failed to create sms client: %w", err)
	}
	return client, nil
}

type disabledSender struct{}

func (disabledSender) Send(context.Context, string, string, string) (string, error) {
	return "", fmt.Errorf("outbound sms is not configured")
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.busClient.Healthy() && r.dispatcher.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
