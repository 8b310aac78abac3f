package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/adlook/placement-analyzer/config"
	"github.com/adlook/placement-analyzer/internal/capture"
	"github.com/adlook/placement-analyzer/internal/composer"
	"github.com/adlook/placement-analyzer/internal/optimizer"
	"github.com/adlook/placement-analyzer/internal/pipeline"
	"github.com/adlook/placement-analyzer/internal/probe"
	"github.com/adlook/placement-analyzer/internal/scraper"
	"github.com/adlook/placement-analyzer/internal/server"
	"github.com/adlook/placement-analyzer/internal/store"
	"github.com/adlook/placement-analyzer/internal/vision"
	"github.com/lmittmann/tint"
)

var (
	cfg *config.Config
	log *slog.Logger
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg = config.MustLoad()
	log = setupLogger()
	log.Info("starting application on port "+cfg.Port, slog.String("env", cfg.Env))

	capturer := capture.NewCapturer(cfg.CaptureSettings, log)
	analysisPipeline := &pipeline.Pipeline{
		Prober:   probe.NewProber(cfg.ProbeSettings, log),
		Capturer: capturer,
		Optimize: optimizer.NewOptimizer(cfg.ImageSettings, log),
		Analyzer: vision.NewAnalyzer(cfg.OpenAISettings, log),
		Scraper:  scraper.NewScraper(cfg.ScraperSettings, log),
		Composer: composer.NewComposer(cfg.OpenAISettings, cfg.ComposerSettings, log),
		Cfg:      cfg,
		Log:      log,
	}
	analysisStore := store.NewEphemeralStore(cfg.CacheSettings, log)
	srv := server.New(analysisPipeline, capturer, analysisStore, cfg, log)

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: srv.Router(),
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server stopped.", slog.String("err", err.Error()))
			stop()
		}
	}()

	// Graceful shutdown. In-flight analyses get a grace period bounded by the
	// per-request ceiling before the listener is torn down.
	<-ctx.Done()
	log.Info("stopping server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		cfg.PipelineSettings.RequestCeiling+5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown did not complete cleanly.", slog.String("err", err.Error()))
	}
	log.Info("server stopped.")
}

func setupLogger() *slog.Logger {
	resolvedLogLevel := func() slog.Level {
		envLogLevel := strings.ToLower(cfg.LogLevel)
		switch envLogLevel {
		case "info":
			return slog.LevelInfo
		case "error":
			return slog.LevelError
		default:
			return slog.LevelDebug
		}
	}

	replaceAttrs := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.SourceKey {
			source := a.Value.Any().(*slog.Source)
			source.File = filepath.Base(source.File)
		}
		return a
	}

	var logger *slog.Logger
	if strings.ToLower(cfg.LogType) == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			AddSource:   true,
			Level:       resolvedLogLevel(),
			ReplaceAttr: replaceAttrs}))
	} else {
		logger = slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			AddSource:   true,
			Level:       resolvedLogLevel(),
			ReplaceAttr: replaceAttrs,
			NoColor:     false}))
	}

	slog.SetDefault(logger)
	logger.Debug("debug messages are enabled.")

	return logger
}
