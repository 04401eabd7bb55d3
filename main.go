package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/robfig/cron/v3"
	"github.com/tracklab/songcache/internal/acquire"
	"github.com/tracklab/songcache/internal/api"
	"github.com/tracklab/songcache/internal/cache"
	"github.com/tracklab/songcache/internal/config"
	"github.com/tracklab/songcache/internal/database"
	"github.com/tracklab/songcache/internal/notify"
	"github.com/tracklab/songcache/internal/quota"
	"github.com/tracklab/songcache/internal/resolver"
	"github.com/tracklab/songcache/internal/search"
)

func main() {
	config.Load()

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	if config.Cfg.InstallYTDLP {
		if err := acquire.Install(context.Background()); err != nil {
			log.Fatalf("yt-dlp install: %v", err)
		}
	}

	var notifier notify.Notifier = notify.Noop{}
	if config.Cfg.TelegramBotToken != "" {
		notifier = notify.NewTelegram(config.Cfg.TelegramBotToken)
	}

	quotaStore := quota.New(database.DB, notifier)
	songCache := cache.New(database.DB)
	searcher := search.NewYouTube(config.Cfg.YouTubeAPIKey, config.Cfg.SearchTimeout)
	acquirer := acquire.NewCatbox(config.Cfg.DownloadDir, config.Cfg.AcquireTimeout)
	pipeline := resolver.New(quotaStore, songCache, searcher, acquirer, config.Cfg.SearchTimeout)
	handler := api.NewHandler(pipeline)

	// Midnight UTC sweep keeps quota counters tidy; Authorize also
	// rolls them over lazily, so a missed run costs nothing.
	sched := cron.New(cron.WithLocation(time.UTC))
	sched.AddFunc("0 0 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := quotaStore.ResetOutdated(ctx); err != nil {
			log.Printf("quota sweep: %v", err)
		}
	})
	sched.Start()
	defer sched.Stop()

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	// Health (no auth)
	r.Get("/health", api.HealthCheck)

	// Public lookup endpoint; authorization happens in the resolver.
	r.Get("/get", handler.GetMusic)

	// Management API
	r.Route("/admin", func(r chi.Router) {
		r.Use(api.AdminAuth)

		r.Post("/keys", api.CreateKey)
		r.Delete("/keys/{key}", api.DeleteKey)
		r.Put("/keys/{key}/disable", api.DisableKey)
		r.Put("/keys/{key}/enable", api.EnableKey)
		r.Get("/keys/{key}/usage", api.GetKeyUsage)
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("songcache starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("songcache stopped")
}
