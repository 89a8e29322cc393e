package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/nanobanana/nanobanana-api/internal/config"
	"github.com/nanobanana/nanobanana-api/internal/domain/account"
	"github.com/nanobanana/nanobanana-api/internal/domain/credit"
	"github.com/nanobanana/nanobanana-api/internal/domain/generation"
	"github.com/nanobanana/nanobanana-api/internal/domain/notify"
	"github.com/nanobanana/nanobanana-api/internal/middleware"
	"github.com/nanobanana/nanobanana-api/internal/pkg/apimart"
	"github.com/nanobanana/nanobanana-api/internal/pkg/database"
	"github.com/nanobanana/nanobanana-api/internal/pkg/jwt"
	"github.com/nanobanana/nanobanana-api/internal/pkg/logger"
	pkgresponse "github.com/nanobanana/nanobanana-api/internal/pkg/response"
)

const version = "1.0.0"

// handlers is everything the router mounts
type handlers struct {
	auth       func(http.Handler) http.Handler
	generation *generation.Handler
	account    *account.Handler
	websocket  http.HandlerFunc
}

func main() {
	cfg := config.Load()
	if err := logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
		LogFile:     cfg.LogFile,
		Service:     "api",
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to init logger")
	}

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting NanoBanana API")

	db, err := database.NewPostgres(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	redis, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(redis)

	if cfg.APIMartAPIKey == "" {
		log.Warn().Msg("APIMART_API_KEY is not set; submissions will be refunded")
	}

	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)

	// ---------- Repositories ----------
	creditRepo := credit.NewRepository(db)
	jobRepo := generation.NewRepository(db)
	workspaceRepo := account.NewWorkspaceRepository(db)

	// ---------- WebSocket hub ----------
	// With redis the hub relays events published by any process; without it
	// this process publishes straight into the hub.
	hub := notify.NewHub(redis)
	go hub.Run()
	defer hub.Shutdown()

	var events notify.Publisher = hub
	if redis != nil {
		events = notify.NewRedisPublisher(redis)
	}

	// ---------- Services ----------
	creditService := credit.NewService(creditRepo)

	apimartClient := apimart.NewClient(apimart.Config{
		BaseURL:  cfg.APIMartBaseURL,
		APIKey:   cfg.APIMartAPIKey,
		Model:    cfg.APIMartModel,
		Language: cfg.StatusLanguage,
		Timeout:  cfg.APIMartTimeout(),
	})

	generationService := generation.NewService(generation.Config{
		Costs: generation.CostTable{
			"1K": cfg.Cost1K,
			"2K": cfg.Cost2K,
			"4K": cfg.Cost4K,
		},
	}, creditService, jobRepo, apimartClient, events)

	accountService := account.NewService(account.Config{
		InitialBonus:         cfg.InitialBonusCredits,
		DefaultWorkspaceName: cfg.DefaultWorkspaceName,
	}, creditService, workspaceRepo, jobRepo)

	// ---------- Handlers ----------
	r := newRouter(cfg, handlers{
		auth:       middleware.Auth(jwtService),
		generation: generation.NewHandler(generationService),
		account:    account.NewHandler(accountService),
		websocket:  notify.NewHandler(hub, cfg.AllowedOrigins).WebSocket,
	})

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
		// Submit waits on the remote call, keep room above its timeout.
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.APIMartTimeout() + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}

func newRouter(cfg *config.Config, h handlers) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))

	r.With(middleware.TokenFromQuery, h.auth).Get("/ws", h.websocket)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pkgresponse.OK(w, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			pkgresponse.OK(w, map[string]string{"message": "pong"})
		})

		r.Mount("/generations", h.generation.Routes(h.auth))
		r.Mount("/credits", h.account.Routes(h.auth))
	})

	return r
}
