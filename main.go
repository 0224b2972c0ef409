package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/nellylemmy/talktime-meeting-engine/admission"
	"github.com/nellylemmy/talktime-meeting-engine/config"
	"github.com/nellylemmy/talktime-meeting-engine/configcache"
	"github.com/nellylemmy/talktime-meeting-engine/engine"
	"github.com/nellylemmy/talktime-meeting-engine/eventbus"
	"github.com/nellylemmy/talktime-meeting-engine/handler"
	"github.com/nellylemmy/talktime-meeting-engine/identity"
	"github.com/nellylemmy/talktime-meeting-engine/lifecycle"
	"github.com/nellylemmy/talktime-meeting-engine/lockmanager"
	"github.com/nellylemmy/talktime-meeting-engine/logger"
	"github.com/nellylemmy/talktime-meeting-engine/meeting"
	appmw "github.com/nellylemmy/talktime-meeting-engine/middleware"
	"github.com/nellylemmy/talktime-meeting-engine/observability"
	"github.com/nellylemmy/talktime-meeting-engine/redisclient"
	"github.com/nellylemmy/talktime-meeting-engine/router"
	"github.com/nellylemmy/talktime-meeting-engine/secretmanager"
	"github.com/nellylemmy/talktime-meeting-engine/store"
)

// logSubscriber is the event bus's default subscriber, recording every
// lifecycle transition at info level until a real downstream
// collaborator (notification scheduler, analytics reader, signaling
// room) is wired in its place.
type logSubscriber struct {
	logger zerolog.Logger
}

func (s logSubscriber) Name() string { return "log_subscriber" }

func (s logSubscriber) Handle(ctx context.Context, e meeting.Event) error {
	s.logger.Info().
		Str("kind", string(e.Kind)).
		Str("meetingId", e.MeetingID).
		Msg("lifecycle event")
	return nil
}

func main() {
	cfg := config.Load()
	log := logger.New(cfg)

	log.Info().Str("env", cfg.Env).Msg("meeting engine starting")

	rc, err := redisclient.New(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("redis init failed — config cache falls back to built-in defaults")
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rc.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("redis ping failed")
		} else {
			log.Info().Msg("redis connected")
		}
		cancel()
	}

	directory := identity.NewHTTPDirectory(cfg.IdentityServiceURL, log)
	st := store.NewMemoryStore(directory)
	locks := lockmanager.New()

	var loader configcache.Loader
	if rc != nil {
		loader = rc.ConfigLoader()
	}
	cache := configcache.New(log, loader, configcache.DefaultTTL)

	bus := eventbus.New(log, eventbus.DefaultConfig())
	bus.Subscribe(logSubscriber{logger: log})

	evaluator := admission.New(st, directory, cache, locks, log)
	if rc != nil {
		evaluator.WithDistributedLock(rc)
	}
	sm := lifecycle.New(st, evaluator, bus, cache, log)
	scheduler := lifecycle.NewScheduler(st, bus, cache, lifecycle.NoopWarningNotifier{}, log, cfg.SchedulerTickInterval)
	scheduler.Attach(sm)

	secretCfg := secretmanager.Config{
		Enabled:   cfg.VaultEnabled,
		Address:   cfg.VaultAddr,
		Token:     cfg.VaultToken,
		MountPath: cfg.VaultMountPath,
		Path:      "meeting-engine/token-signing-key",
	}
	secrets := secretmanager.New(secretCfg)
	if _, err := secrets.Get(context.Background()); err != nil {
		log.Warn().Err(err).Msg("token signing secret unavailable at startup")
	}

	eng := engine.New(st, directory, cache, sm, scheduler, bus)

	authMW := appmw.NewAuthMiddleware(log, "Authorization")
	metrics := observability.NewMetrics(log)
	traceExporter := observability.NewLogExporter(log)
	tracer := observability.NewTracer(log, traceExporter, 1.0)
	var settingsSaver handler.SettingsSaver
	if rc != nil {
		settingsSaver = rc.SaveSettings
	}
	cacheHandler := handler.NewConfigCacheHandler(cache, settingsSaver, log)
	tokenHandler := handler.NewTokenHandler(st, secrets, log)

	var pd *observability.PagerDutyClient
	var ddExporter *observability.DatadogExporter
	var splunkForwarder *observability.SplunkForwarder

	if cfg.PagerDutyEnabled {
		pdCfg := observability.DefaultPagerDutyConfig()
		pdCfg.Enabled = true
		pdCfg.RoutingKey = cfg.PagerDutyRoutingKey
		pd = observability.NewPagerDutyClient(pdCfg, log)
		bus.OnDeliveryExhausted = func(subscriber string, e meeting.Event) {
			_ = pd.AlertEventDeliveryExhausted(string(e.Kind), e.MeetingID)
		}
	}

	if cfg.DatadogEnabled {
		ddCfg := observability.DefaultDatadogConfig()
		ddCfg.Enabled = true
		ddCfg.Address = cfg.DatadogAgentAddress
		exporter, err := observability.NewDatadogExporter(ddCfg, log)
		if err != nil {
			log.Warn().Err(err).Msg("datadog exporter init failed — continuing without it")
		} else {
			ddExporter = exporter
			bus.Subscribe(observability.NewDatadogEventSubscriber(ddExporter))
		}
	}

	if cfg.SplunkEnabled {
		spCfg := observability.DefaultSplunkConfig()
		spCfg.Enabled = true
		spCfg.HECURL = cfg.SplunkHECURL
		spCfg.Token = cfg.SplunkToken
		splunkForwarder = observability.NewSplunkForwarder(spCfg, log)
		bus.Subscribe(observability.NewSplunkEventSubscriber(splunkForwarder))
	}

	r := router.NewRouter(cfg, log, router.Deps{
		Engine:      eng,
		Store:       st,
		AuthMW:      authMW,
		Metrics:     metrics,
		Tracer:      tracer,
		ConfigCache: cacheHandler,
		Token:       tokenHandler,
	})

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	bus.Start(bgCtx)
	if err := scheduler.Start(bgCtx); err != nil {
		log.Error().Err(err).Msg("scheduler failed to start")
	}
	if pd != nil {
		go observability.WatchScheduler(bgCtx, scheduler, pd, cfg.SchedulerTickInterval, cfg.SchedulerTickInterval, 15*time.Second)
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("meeting engine listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	bgCancel()
	scheduler.Stop()
	bus.Stop()
	tracer.Shutdown()
	if ddExporter != nil {
		ddExporter.Stop()
	}
	if splunkForwarder != nil {
		splunkForwarder.Stop()
	}
	if rc != nil {
		rc.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("meeting engine stopped gracefully")
	}
}
