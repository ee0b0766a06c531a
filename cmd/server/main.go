package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vedran77/chatsync/internal/app"
	"github.com/vedran77/chatsync/internal/cache"
	"github.com/vedran77/chatsync/internal/config"
	"github.com/vedran77/chatsync/internal/logger"
	"github.com/vedran77/chatsync/internal/metrics"
	"github.com/vedran77/chatsync/internal/push"
	"github.com/vedran77/chatsync/internal/service"
	"github.com/vedran77/chatsync/internal/transport/http/handlers"
	"github.com/vedran77/chatsync/internal/transport/http/middleware"
	"github.com/vedran77/chatsync/internal/transport/ws"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel)
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Stores
	stores, err := app.OpenStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer stores.Close()

	store, err := cache.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	metrics.Register(prometheus.DefaultRegisterer)

	// WebSocket hub
	hub := ws.NewHub(log)

	// Services
	profileService := service.NewProfileService(stores.Users)
	authService := service.NewAuthService(stores.Users, profileService, cfg.JWTSecret, cfg.JWTTTL)
	mediaService := service.NewMediaService(stores.Media, cfg.PublicBaseURL)
	chatService := service.NewChatService(stores.Rooms, stores.Messages, stores.Users, log, cfg.NotificationBodyLimit)

	relay, closeRelay, err := app.OpenRelay(cfg)
	if err != nil {
		return err
	}
	defer closeRelay()

	notifiers := push.Fanout{ws.NewHubNotifier(hub)}
	if relay != nil {
		notifiers = append(notifiers, relay)
	}
	chatService.SetNotifier(notifiers)

	// Handlers
	authHandler := handlers.NewAuthHandler(authService, log)
	profileHandler := handlers.NewProfileHandler(profileService, log)
	notificationHandler := handlers.NewNotificationHandler(chatService, log)
	mediaHandler := handlers.NewMediaHandler(mediaService, log)
	roomHandler := handlers.NewRoomHandler(chatService, profileService, log)

	// Auth middleware
	auth := middleware.Auth(authService)

	// Routes
	mux := http.NewServeMux()

	// Public
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status": "ok"}`))
	})
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("POST /api/v1/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/v1/auth/login", authHandler.Login)
	mux.HandleFunc("GET /media/{key}", mediaHandler.Get)

	// Protected - Profile
	mux.Handle("GET /api/v1/me", auth(http.HandlerFunc(profileHandler.Me)))
	mux.Handle("PUT /api/v1/me/profile", auth(http.HandlerFunc(profileHandler.Save)))
	mux.Handle("PUT /api/v1/me/push-token", auth(http.HandlerFunc(profileHandler.PushToken)))

	// Protected - Rooms
	mux.Handle("POST /api/v1/rooms/{peer}", auth(http.HandlerFunc(roomHandler.Open)))
	mux.Handle("POST /api/v1/rooms/{peer}/messages", auth(http.HandlerFunc(roomHandler.Send)))
	mux.Handle("PATCH /api/v1/rooms/{peer}/messages/{id}", auth(http.HandlerFunc(roomHandler.Edit)))
	mux.Handle("DELETE /api/v1/rooms/{peer}/messages/{id}", auth(http.HandlerFunc(roomHandler.Delete)))
	mux.Handle("POST /api/v1/rooms/{peer}/read", auth(http.HandlerFunc(roomHandler.MarkRead)))

	// Protected - Media
	mux.Handle("POST /api/v1/media", auth(http.HandlerFunc(mediaHandler.Upload)))

	// Protected - Notification actions
	mux.Handle("POST /api/v1/notifications/reply", auth(http.HandlerFunc(notificationHandler.Reply)))
	mux.Handle("POST /api/v1/notifications/read", auth(http.HandlerFunc(notificationHandler.Read)))

	// WebSocket
	mux.Handle("GET /ws", ws.ServeWS(hub, authService, ws.Deps{
		Chat:     chatService,
		Rooms:    stores.Rooms,
		Messages: stores.Messages,
		Users:    stores.Users,
		Cache:    store,
		Log:      log,
	}))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           middleware.CORS(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error { return stores.Listen(ctx) })
	g.Go(func() error {
		log.Info("starting server", zap.String("addr", srv.Addr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	chatService.Flush()
	return err
}
