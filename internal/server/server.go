/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gopxl/beep/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/wdudokvanheel/care-chords/internal/api"
	"github.com/wdudokvanheel/care-chords/internal/bridge"
	"github.com/wdudokvanheel/care-chords/internal/config"
	"github.com/wdudokvanheel/care-chords/internal/db"
	"github.com/wdudokvanheel/care-chords/internal/engine"
	"github.com/wdudokvanheel/care-chords/internal/eventbus"
	"github.com/wdudokvanheel/care-chords/internal/events"
	"github.com/wdudokvanheel/care-chords/internal/failover"
	"github.com/wdudokvanheel/care-chords/internal/mixer"
	"github.com/wdudokvanheel/care-chords/internal/output"
	"github.com/wdudokvanheel/care-chords/internal/player"
	"github.com/wdudokvanheel/care-chords/internal/playlist"
	"github.com/wdudokvanheel/care-chords/internal/sleep"
	"github.com/wdudokvanheel/care-chords/internal/telemetry"
)

// sinkCapacity is the number of sink events buffered between the engine's
// sink thread and the bridge.
const sinkCapacity = 8

// Server bundles HTTP and the playback pipeline.
type Server struct {
	cfg        *config.Config
	logger     zerolog.Logger
	router     chi.Router
	httpServer *http.Server
	listener   net.Listener
	closers    []func() error

	db         *gorm.DB
	bus        *events.Bus
	relay      eventbus.Relay
	graph      *mixer.Graph
	sink       *bridge.ChannelSink
	engine     *engine.Engine
	bridge     *bridge.Bridge
	controller *player.Controller
	monitor    *failover.Monitor
	output     output.Output
	api        *api.API

	httpCtx    context.Context
	httpCancel context.CancelFunc
	serveErr   chan error

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies. Nothing runs until Start.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("carechords-api"))
	router.Use(telemetry.MetricsMiddleware)
	// Status streams stay open; everything else gets a deadline.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(30 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isStreamRequest(r) {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:      cfg,
		logger:   logger,
		router:   router,
		bus:      events.NewBus(),
		serveErr: make(chan error, 1),
	}
	srv.httpCtx, srv.httpCancel = context.WithCancel(context.Background())

	if err := srv.initDependencies(); err != nil {
		srv.httpCancel()
		srv.Close()
		return nil, err
	}

	srv.configureRoutes()

	srv.httpServer = &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// Streaming handlers manage their own lifetime.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
		// Cancelled on shutdown so open status streams end.
		BaseContext: func(net.Listener) context.Context { return srv.httpCtx },
	}

	return srv, nil
}

func isStreamRequest(r *http.Request) bool {
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return true
	}
	return r.URL.Path == "/status_stream" || r.URL.Path == "/ws/status"
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; img-src 'self' data:; frame-ancestors 'none'; base-uri 'self'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	s.DeferClose(func() error { return db.Close(database) })
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database

	if err := os.MkdirAll(s.cfg.MediaRoot, 0o755); err != nil {
		return fmt.Errorf("failed to create media directory %s: %w", s.cfg.MediaRoot, err)
	}
	s.logger.Info().Str("path", s.cfg.MediaRoot).Msg("media directory ready")

	store := playlist.NewStore(database, s.logger)
	resolver := playlist.Chain{store, playlist.DirectoryResolver{Root: s.cfg.MediaRoot}}

	rate := beep.SampleRate(s.cfg.SampleRate)
	volume := mixer.NewVolume(1)
	s.graph = mixer.New(mixer.Config{
		SampleRate:     rate,
		BufferMaxBytes: s.cfg.BufferMaxBytes,
		Initial:        mixer.BranchSilence,
	}, volume, s.logger)

	if s.cfg.MonitorSource != "" {
		ambient, format, err := engine.OpenLoop(s.cfg.MonitorSource)
		if err != nil {
			s.logger.Warn().Err(err).Str("source", s.cfg.MonitorSource).Msg("ambient feed unavailable, continuing without it")
		} else {
			s.graph.AddAmbient(ambient, format)
		}
	}
	if s.cfg.NoiseFilter {
		s.logger.Warn().Msg("noise filter requested but not implemented, ignoring")
	}

	s.sink = bridge.NewChannelSink(sinkCapacity)
	s.engine = engine.New(engine.Config{
		MediaRoot:  s.cfg.MediaRoot,
		SampleRate: rate,
	}, s.sink, s.logger)
	s.bridge = bridge.New(s.graph, s.graph, bridge.Config{
		SampleRate: uint64(rate),
		Channels:   mixer.Channels,
	}, s.bus, s.logger)

	timer := sleep.NewTimer(volume, s.logger)
	s.controller = player.New(s.engine, resolver, timer, player.Config{
		CommandBuffer: s.cfg.CommandBuffer,
		Fade: sleep.FadeConfig{
			Steps:        s.cfg.SleepFadeSteps,
			StepInterval: s.cfg.SleepFadeStepInterval,
			PauseDelay:   s.cfg.SleepPauseDelay,
			RestoreDelay: s.cfg.SleepRestoreDelay,
		},
	}, s.bus, s.logger)

	s.monitor = failover.NewMonitor(s.graph, s.graph, mixer.BranchSilence, s.cfg.FailoverInterval, s.bus, s.logger)

	s.output = output.New(output.Config{
		SampleRate: rate,
		Device:     s.cfg.AudioOutput,
	}, s.graph.Streamer(), s.logger)

	if err := s.initEventBus(); err != nil {
		return err
	}

	s.api = api.New(s.controller, store, s.cfg.MediaRoot, []byte(s.cfg.JWTSigningKey), s.logger)
	return nil
}

func (s *Server) initEventBus() error {
	nodeID := eventbus.NewNodeID(s.cfg.InstanceID)

	switch s.cfg.EventBus {
	case config.EventBusRedis:
		redisCfg := eventbus.DefaultRedisConfig()
		redisCfg.Addr = s.cfg.RedisAddr
		redisCfg.Password = s.cfg.RedisPassword
		redisCfg.DB = s.cfg.RedisDB
		s.relay = eventbus.NewRedisBus(redisCfg, s.bus, nodeID, s.logger)
	case config.EventBusNATS:
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = s.cfg.NATSURL
		relay, err := eventbus.NewNATSBus(natsCfg, s.bus, nodeID, s.logger)
		if err != nil {
			return fmt.Errorf("connect event bus: %w", err)
		}
		s.relay = relay
	default:
		return nil
	}

	s.DeferClose(s.relay.Close)
	s.logger.Info().Str("backend", string(s.cfg.EventBus)).Str("node_id", nodeID).Msg("event fan-out enabled")
	return nil
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Controller returns the playback controller.
func (s *Server) Controller() *player.Controller {
	return s.controller
}

// Addr returns the bound listen address once Start has succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.httpServer.Addr
	}
	return s.listener.Addr().String()
}

// Err reports a failure of the HTTP listener after Start.
func (s *Server) Err() <-chan error {
	return s.serveErr
}

// Start binds the HTTP listener and launches the pipeline goroutines.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	s.listener = ln

	s.startBackgroundWorkers(ctx)

	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("HTTP server listening")
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("http server error")
			s.serveErr <- err
		}
	}()
	return nil
}

// Shutdown stops the HTTP server, then the pipeline, then releases
// resources in reverse order.
func (s *Server) Shutdown(ctx context.Context) error {
	s.httpCancel()
	var firstErr error
	if s.listener != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error().Err(err).Msg("graceful shutdown failed")
			firstErr = err
		}
	}
	if err := s.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Close stops background workers and releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.bgCancel = cancel

	s.goWorker(func() {
		s.engine.Run(ctx)
	})

	s.goWorker(func() {
		err := s.bridge.Run(ctx, s.sink.Events())
		// Unblocks the sink thread if the bridge stopped first.
		s.sink.Release()
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("audio bridge exited")
		}
	})

	s.goWorker(func() {
		// The engine closing its events on shutdown is not a failure.
		if err := s.controller.Run(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("playback controller exited")
		}
	})

	s.goWorker(func() {
		s.monitor.Run(ctx)
	})

	s.goWorker(func() {
		if err := s.output.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error().Err(err).Msg("audio output exited")
		}
	})

	s.goWorker(func() {
		s.forwardInfo(ctx)
	})

	if s.relay != nil {
		s.goWorker(func() {
			if err := s.relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("event relay exited")
			}
		})
	}

	if s.db != nil {
		s.goWorker(func() {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					db.UpdateConnectionMetrics(s.db)
				}
			}
		})
	}
}

func (s *Server) goWorker(fn func()) {
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		fn()
	}()
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	// A bridge blocked on a full live queue only wakes on close.
	s.graph.Close()
	s.bgWG.Wait()
	s.bgCancel = nil
}

// forwardInfo publishes every controller snapshot on the event bus.
func (s *Server) forwardInfo(ctx context.Context) {
	reader := s.controller.Subscribe()
	for {
		info, err := reader.Next(ctx)
		if err != nil {
			return
		}
		s.bus.Publish(events.EventPlaybackInfo, infoPayload(info))
	}
}

func infoPayload(info player.Info) events.Payload {
	payload := events.Payload{
		"status":  info.State.String(),
		"shuffle": info.Shuffle,
	}
	if info.Metadata != nil {
		payload["artist"] = info.Metadata.Artist
		payload["title"] = info.Metadata.Title
		payload["artwork_url"] = info.Metadata.ArtworkURL
	}
	if left, ok := info.SleepRemaining(time.Now()); ok {
		payload["sleep_timer_ms"] = left.Milliseconds()
	}
	return payload
}

func (s *Server) configureRoutes() {
	if s.cfg.MetricsEnabled {
		s.router.Handle("/metrics", telemetry.Handler())
	}
	s.api.Routes(s.router)
}
