package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sidequest-backend/internal/config"
	"sidequest-backend/internal/handlers"
	"sidequest-backend/internal/middleware"
	"sidequest-backend/internal/repository"
	"sidequest-backend/internal/services"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func Run() {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Setup logger
	setupLogger(cfg.Log.Level)

	// Connect to database
	db, err := pgxpool.New(context.Background(), cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Test database connection
	if err := db.Ping(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to ping database")
	}
	log.Info().Msg("Database connection established")

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	friendshipRepo := repository.NewFriendshipRepository(db)
	presenceRepo := repository.NewPresenceRepository(db)
	participantRepo := repository.NewParticipantRepository(db)
	eventRepo := repository.NewEventRepository(db)
	rsvpRepo := repository.NewRSVPRepository(db)

	// Initialize services
	userService := services.NewUserService(userRepo, cfg.JWT.Secret)
	friendshipService := services.NewFriendshipService(friendshipRepo, userRepo)
	resolver := services.NewVisibilityResolver(friendshipService)
	hub := services.NewPresenceHub()

	notifier, err := services.NewNotifier(cfg.APNS, userRepo)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create push notifier")
	}
	if notifier == nil {
		log.Info().Msg("Push notifications disabled")
	}

	var push services.PushSender
	if notifier != nil {
		push = notifier
	}
	presenceService := services.NewPresenceService(
		presenceRepo,
		participantRepo,
		friendshipService,
		resolver,
		hub,
		push,
		cfg.Presence.TTL(),
	)
	eventService := services.NewEventService(eventRepo, rsvpRepo, resolver)
	liveViewFactory := services.NewLiveViewFactory(
		hub,
		presenceService,
		resolver,
		time.Duration(cfg.Presence.SnapshotRefreshSecs)*time.Second,
	)

	// Start the expiry sweep
	sweeper := services.NewSweeper(presenceRepo, hub, cfg.Presence.SweepSpec)
	if err := sweeper.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start expiry sweeper")
	}
	defer sweeper.Stop()

	// Initialize handlers
	userHandler := handlers.NewUserHandler(userService)
	friendHandler := handlers.NewFriendHandler(friendshipService)
	presenceHandler := handlers.NewPresenceHandler(presenceService, cfg.Presence.DefaultRadiusMiles)
	eventHandler := handlers.NewEventHandler(eventService)
	wsHandler := handlers.NewWebSocketHandler(hub, userService, liveViewFactory, cfg.Presence.DefaultRadiusMiles)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(corsMiddleware)

	// Routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public routes
		r.Post("/users", userHandler.CreateUser)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(userService))
			r.Put("/users/push-token", userHandler.UpdatePushToken)

			r.Post("/friends/request", friendHandler.Request)
			r.Post("/friends/accept", friendHandler.Accept)
			r.Post("/friends/reject", friendHandler.Reject)
			r.Get("/friends", friendHandler.List)
			r.Get("/friends/requests", friendHandler.PendingRequests)

			r.Post("/presence/start", presenceHandler.Start)
			r.Post("/presence/location", presenceHandler.UpdateLocation)
			r.Post("/presence/stop", presenceHandler.Stop)
			r.Get("/presence/me", presenceHandler.GetMine)
			r.Get("/presence/nearby", presenceHandler.Nearby)
			r.Post("/presence/participate", presenceHandler.Participate)
			r.Get("/presence/{presence_id}/participants", presenceHandler.Participants)

			r.Post("/events", eventHandler.Create)
			r.Get("/events", eventHandler.List)
			r.Get("/events/{event_id}", eventHandler.Get)
			r.Get("/events/{event_id}/invitees", eventHandler.Invitees)
			r.Post("/events/{event_id}/rsvp", eventHandler.RSVP)
			r.Delete("/events/{event_id}/rsvp", eventHandler.CancelRSVP)
			r.Get("/events/{event_id}/rsvps", eventHandler.RSVPs)
		})
	})

	// WebSocket route
	r.Get("/ws", wsHandler.HandleWebSocket)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("host", cfg.Server.Host).
			Int("port", cfg.Server.Port).
			Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

// setupLogger configures zerolog logger
func setupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// corsMiddleware handles CORS
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
