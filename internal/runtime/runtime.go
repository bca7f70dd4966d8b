package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voicekit-labs/voxd/internal/bus"
	"github.com/voicekit-labs/voxd/internal/cache"
	"github.com/voicekit-labs/voxd/internal/config"
	"github.com/voicekit-labs/voxd/internal/natsserver"
	"github.com/voicekit-labs/voxd/internal/playback"
	"github.com/voicekit-labs/voxd/internal/registry"
	"github.com/voicekit-labs/voxd/internal/speech"
	"github.com/voicekit-labs/voxd/internal/synth"
	"github.com/voicekit-labs/voxd/internal/synthesizer"
)

// Runtime assembles the daemon: telemetry, bus, cache, engine, player and the
// speech services, plus the HTTP health surface.
type Runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	httpServer *http.Server
	ready      atomic.Bool
	wg         sync.WaitGroup

	busClient   *bus.Client
	natsServer  *natsserver.EmbeddedServer
	store       *cache.Store
	player      playback.Player
	coordinator *speech.Coordinator
	speechSvc   *speech.Service
	synthSvc    *synthesizer.Service
	registry    *registry.Registry
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

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	r.natsServer, err = natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}

	busCfg := r.cfg.Bus
	if busCfg.Embedded {
		busCfg.Servers = []string{fmt.Sprintf("nats://localhost:%d", busCfg.Port)}
	}
	r.busClient, err = bus.Connect(busCfg, r.logger)
	if err != nil {
		r.natsServer.Shutdown()
		return fmt.Errorf("failed to connect to bus: %w", err)
	}

	r.store, err = cache.Open(ctx, r.cfg.Cache, r.logger)
	if err != nil {
		r.teardown(nil)
		return fmt.Errorf("failed to open utterance cache: %w", err)
	}

	engine, err := r.buildEngine(ctx)
	if err != nil {
		r.teardown(nil)
		return fmt.Errorf("failed to build synthesis engine: %w", err)
	}

	r.player, err = r.buildPlayer()
	if err != nil {
		r.teardown(nil)
		return fmt.Errorf("failed to open playback device: %w", err)
	}

	r.synthSvc = synthesizer.NewService(ctx, r.cfg.Synth, r.busClient, engine, r.store, r.logger)
	if err := r.synthSvc.Start(); err != nil {
		r.teardown(nil)
		return fmt.Errorf("failed to start synthesizer service: %w", err)
	}

	if r.cfg.Speech.Enabled {
		sink := speech.NewBusSink(r.busClient, r.logger)
		r.coordinator = speech.NewCoordinator(ctx, r.cfg.Speech, r.cfg.Synth, engine, r.player, sink, r.logger)
		r.coordinator.Start()
		r.speechSvc = speech.NewService(r.cfg.Speech, r.busClient, r.coordinator, r.logger)
		if err := r.speechSvc.Start(); err != nil {
			r.teardown(nil)
			return fmt.Errorf("failed to start speech service: %w", err)
		}
	}

	r.registry, err = registry.NewRegistry(ctx, r.cfg.Node, r.cfg.Synth, r.busClient, r.logger)
	if err != nil {
		r.teardown(nil)
		return fmt.Errorf("failed to start node registry: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/nodes", r.handleNodes)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

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

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("engine", r.cfg.Synth.Engine),
		slog.String("playback", r.cfg.Playback.Mode))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()
	r.teardown(func() {
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	})

	return nil
}

func (r *Runtime) buildEngine(ctx context.Context) (synth.Engine, error) {
	switch r.cfg.Synth.Engine {
	case "polly":
		return synth.NewPollyEngine(ctx, r.cfg.Synth.Region)
	case "exec":
		return synth.NewExecEngine(r.cfg.Synth.Command, r.cfg.Synth.SampleRate, r.cfg.Synth.Channels)
	default:
		return synth.NewMockEngine(r.cfg.Synth.SampleRate, r.cfg.Synth.Channels), nil
	}
}

func (r *Runtime) buildPlayer() (playback.Player, error) {
	if r.cfg.Playback.Mode == "oto" {
		return playback.NewOtoPlayer(r.cfg.Playback)
	}
	return playback.NewMockPlayer(), nil
}

// teardown releases components in reverse start order; nil fields are skipped
// so it is safe to call from failed partial starts.
func (r *Runtime) teardown(last func()) {
	if r.registry != nil {
		r.registry.Close()
	}
	if r.speechSvc != nil {
		r.speechSvc.Close()
	}
	if r.coordinator != nil {
		r.coordinator.Close()
	}
	if r.synthSvc != nil {
		r.synthSvc.Close()
	}
	if r.player != nil {
		if err := r.player.Close(); err != nil {
			r.logger.Warn("player close error", slog.String("error", err.Error()))
		}
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn("cache close error", slog.String("error", err.Error()))
		}
	}
	if r.busClient != nil {
		r.busClient.Close()
	}
	if r.natsServer != nil {
		r.natsServer.Shutdown()
	}
	if last != nil {
		last()
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.busClient.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleNodes(w http.ResponseWriter, _ *http.Request) {
	if r.registry == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(r.registry.Nodes())
}
