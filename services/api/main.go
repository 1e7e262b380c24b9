package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/localhub/internal/blob"
	"github.com/localhub/internal/config"
	"github.com/localhub/internal/handler"
	"github.com/localhub/internal/logger"
	"github.com/localhub/internal/middleware"
	"github.com/localhub/internal/push"
	"github.com/localhub/internal/repository"
	"github.com/localhub/internal/sanitize"
	"github.com/localhub/internal/service"
	"github.com/localhub/internal/startup"
	"github.com/localhub/internal/ws"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "apply database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	flag.Parse()

	logger.Info("starting API service")
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startup.StartEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	pool, err := startup.ConnectDB(context.Background(), cfg, 60*time.Second)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	defer pool.Close()

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = repository.Migrate(migrateCtx, pool)
	migrateCancel()
	if err != nil {
		logger.Errorf("migrations: %v", err)
		os.Exit(1)
	}
	logger.Info("database connected, migrations applied")
	if *migrate && !*dev {
		return
	}

	// В -dev Redis не нужен: кеш и подписки живут в памяти процесса.
	redisURL := cfg.Redis.URL
	if *dev {
		redisURL = ""
	}
	store, err := startup.ConnectStore(context.Background(), redisURL, 30*time.Second)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	defer store.Close()

	hub := ws.NewHub(ws.Options{
		MaxConns:       cfg.MaxWSConnections,
		SendBuffer:     cfg.WSSendBufferSize,
		WriteWait:      cfg.WSWriteTimeout,
		PongWait:       cfg.WSPongTimeout,
		MaxMessageSize: cfg.WSMaxMessageSize,
	})
	hubCtx, hubCancel := context.WithCancel(context.Background())
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	blobs := blob.New(cfg.UploadDir, cfg.MaxUploadSize)
	blobs.BaseURL = cfg.PublicBaseURL
	sanitizer := sanitize.New()
	profiles := repository.NewProfileRepository(pool)
	mediaIndex := repository.NewMediaRepository(pool)
	pushSender := push.NewSender(store, cfg.Push.VAPIDPublicKey, cfg.Push.VAPIDPrivateKey, cfg.Push.Subscriber)

	notifier := service.NewNotifier(
		repository.NewNotificationRepository(pool),
		profiles,
		hub,
		pushSender,
		service.NotifierConfig{BatchSize: cfg.Fanout.BatchSize, Concurrency: cfg.Fanout.Concurrency},
	)
	messaging := service.NewMessaging(service.MessagingDeps{
		Messages:      repository.NewMessageRepository(pool),
		Reactions:     repository.NewReactionRepository(pool),
		Conversations: repository.NewConversationRepository(pool),
		Profiles:      profiles,
		Blobs:         blobs,
		Media:         mediaIndex,
		Sanitizer:     sanitizer,
		Cache:         store,
		CacheTTL:      cfg.Cache.TTL,
		Bus:           hub,
		Notifier:      notifier,
	})
	alerts := service.NewAlerts(
		repository.NewAlertRepository(pool),
		repository.NewLocationRepository(pool),
		notifier,
		sanitizer,
		cfg.Fanout.AlertRadiusKm,
	)
	comments := service.NewComments(repository.NewCommentRepository(pool), blobs, mediaIndex, hub)
	hub.SetCommands(messaging)

	msgH := handler.NewMessageHandler(messaging)
	convH := handler.NewConversationHandler(messaging)
	notifH := handler.NewNotificationHandler(notifier)
	alertH := handler.NewAlertHandler(alerts)
	commentH := handler.NewCommentHandler(comments)
	mediaH := handler.NewMediaHandler(blobs)
	pushH := handler.NewPushHandler(pushSender)
	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins)

	authenticate := middleware.TrustedActorHeaders
	if cfg.AuthServiceURL != "" {
		authenticate = middleware.AuthServiceValidate(cfg.AuthServiceURL, nil)
	} else if os.Getenv("APP_ENV") == "production" {
		logger.Errorf("AUTH_SERVICE_URL is required in production")
		os.Exit(1)
	} else {
		logger.Warnf("AUTH_SERVICE_URL not set, trusting X-Actor-* headers")
	}
	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMinIP, cfg.RateLimitPerMinActor)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket: иначе ResponseWriter не реализует http.Hijacker и upgrade даёт 500.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSAllowedOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Session-Id", "X-Actor-Kind", "X-Actor-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler(pool))
	r.With(middleware.InternalOnly(cfg.MetricsSecret)).Handle("/metrics", promhttp.Handler())
	r.Get("/api/media/{filename}", mediaH.Serve)
	r.Get("/api/push/vapid-public-key", pushH.PublicKey)

	r.Group(func(r chi.Router) {
		r.Use(authenticate)
		r.Use(limiter.Handler)

		r.Get("/api/conversations", convH.Direct)
		r.Get("/api/conversations/products", convH.Products)
		r.Get("/api/businesses/{businessId}/conversations", convH.Business)

		r.Get("/api/rooms/{roomKey}/messages", msgH.GetMessages)
		r.Post("/api/rooms/{roomKey}/read", msgH.MarkAsRead)
		r.Get("/api/rooms/{roomKey}/unread", msgH.RoomUnread)
		r.Get("/api/messages/unread", msgH.TotalUnread)
		r.Post("/api/messages", msgH.Send)
		r.Patch("/api/messages/{messageId}", msgH.Edit)
		r.Delete("/api/messages/{messageId}", msgH.Delete)
		r.Post("/api/messages/{messageId}/reactions", msgH.React)
		r.Delete("/api/messages/{messageId}/reactions", msgH.Unreact)

		r.Get("/api/notifications", notifH.List)
		r.Get("/api/notifications/unread-count", notifH.UnreadCount)
		r.Post("/api/notifications/read-all", notifH.MarkAllRead)
		r.Post("/api/notifications/{notificationId}/read", notifH.MarkRead)

		r.Put("/api/location", alertH.UpsertLocation)
		r.Delete("/api/location", alertH.ClearLocation)
		r.Post("/api/alerts", alertH.Post)
		r.Delete("/api/comments/{commentId}", commentH.Delete)

		r.Post("/api/media", mediaH.Upload)
		r.Post("/api/push/subscribe", pushH.Subscribe)
		r.Delete("/api/push/subscribe", pushH.Unsubscribe)
		r.Get("/ws", wsH.ServeWS)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	// Фоновые рассылки и удаление блобов дописываются до закрытия пула.
	notifier.Wait()
	messaging.Wait()
	comments.Wait()
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

func healthHandler(pool *pgxpool.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			http.Error(w, "db unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}
