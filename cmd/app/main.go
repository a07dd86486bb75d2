package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/local/pageforge/internal/ai"
	"github.com/local/pageforge/internal/config"
	"github.com/local/pageforge/internal/fetch"
	"github.com/local/pageforge/internal/imagerender"
	"github.com/local/pageforge/internal/insight"
	"github.com/local/pageforge/internal/limiter"
	"github.com/local/pageforge/internal/logger"
	"github.com/local/pageforge/internal/metrics"
	"github.com/local/pageforge/internal/orchestrator"
	"github.com/local/pageforge/internal/pdf"
	"github.com/local/pageforge/internal/session"
	"github.com/local/pageforge/internal/statuscheck"
	"github.com/local/pageforge/internal/store"
	"github.com/local/pageforge/internal/web"
)

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()

	_ = logger.Init(logger.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	})
	defer logger.Close()

	metrics.Init()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Document pipeline
	opener := pdf.NewFitzOpener()
	loader := pdf.NewLoader(opener, cfg.Render.MaxUploadMB<<20)
	converter := orchestrator.New(opener)

	// Remote intake
	fetcher := fetch.New(cfg.Fetch)
	go fetch.SweepLoop(ctx, 15*time.Minute, cfg.Fetch.TempMaxAge)

	// Insight providers
	inflight := limiter.NewInflight(2)
	generator := insight.New(cfg, ai.NewOpenAIClient(), ai.NewAnthropicClient(), inflight)

	// Optional status mirror
	var mirror session.Mirror
	var pinger statuscheck.RedisPinger
	if cfg.Session.MirrorRedisURL != "" {
		rm, err := store.NewRedisMirror(cfg.Session.MirrorRedisURL, cfg.Session.TTL)
		if err != nil {
			log.Warn().Err(err).Msg("status mirror disabled: redis connect failed")
		} else {
			defer rm.Close()
			mirror = session.NewRedisMirror(rm)
			pinger = rm
		}
	}

	// Sessions
	format, err := imagerender.ParseFormat(cfg.Render.DefaultFormat)
	if err != nil {
		log.Warn().Str("format", cfg.Render.DefaultFormat).Msg("unknown default format; using png")
		format = imagerender.FormatPNG
	}
	defaults := imagerender.Settings{
		Format:  format,
		Scale:   cfg.Render.DefaultScale,
		Quality: cfg.Render.DefaultQuality,
	}
	sessions := session.NewManager(ctx, cfg.Session, defaults, cfg.Render.MaxScale, mirror)

	checker := statuscheck.New(statuscheck.Options{
		Redis:         pinger,
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		AnthropicKey:  os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIBase:    os.Getenv("OPENAI_BASE_URL"),
		AnthropicBase: os.Getenv("ANTHROPIC_BASE_URL"),
	})

	server := web.New(web.Dependencies{
		Sessions:  sessions,
		Loader:    loader,
		Fetcher:   fetcher,
		Converter: converter,
		Insight:   generator,
		Health:    checker,
	}, cfg)

	mux := http.NewServeMux()
	server.RegisterRoutes(mux)

	httpSrv := &http.Server{Addr: ":" + cfg.Port, Handler: mux}
	go func() {
		log.Info().Msgf("http server listening on :%s", cfg.Port)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	_ = httpSrv.Shutdown(shutdownCtx)
	log.Info().Msg("shutdown complete")
}
