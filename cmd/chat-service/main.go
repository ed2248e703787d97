package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ThenChiefGuy/Habibi-Connection/config"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/auth"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/cache"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/events"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/handler"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/live"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/logger"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/mail"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/metrics"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/middleware"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/models"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/presence"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/repository"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/routes"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/service"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/session"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/storage"
	"github.com/ThenChiefGuy/Habibi-Connection/internal/ws"
)

const (
	mediaBaseURL = "/api/v1/media"
	loadTimeout  = 10 * time.Second
)

// Server holds service dependencies
type Server struct {
	Cfg     *config.Config
	Log     *zap.Logger
	App     *fiber.App
	Store   repository.Store
	Redis   *cache.Client
	Bus     events.Bus
	Hub     *ws.Hub
	Limiter *middleware.LocalLimiter

	feeds  *live.Manager[[]models.FeedMessage]
	views  *live.Manager[presence.View]
	typers *live.Manager[[]models.Typing]

	// runtime context for background workers
	Ctx    context.Context
	Cancel context.CancelFunc
}

// NewServer builds the server and all dependencies. Errors if a required dependency fails.
func NewServer(cfg *config.Config, log *zap.Logger) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{Cfg: cfg, Log: log, Ctx: ctx, Cancel: cancel}
	if err := s.build(); err != nil {
		s.close()
		cancel()
		return nil, err
	}
	return s, nil
}

func (s *Server) build() error {
	cfg, log := s.Cfg, s.Log
	metrics.Init()

	// 1) document store
	switch cfg.Store.Driver {
	case "mongo":
		repo, err := repository.NewMongoRepository(s.Ctx, cfg.Mongo.URI, cfg.Mongo.DB, cfg.MongoTimeout(), log.Named("mongo"))
		if err != nil {
			return fmt.Errorf("mongo: %w", err)
		}
		s.Store = repo
	default:
		log.Warn("using in-memory store; data is lost on restart")
		s.Store = repository.NewMemory()
	}

	// 2) redis: presence counters, typing, revocations, rate limits
	if cfg.Redis.Addr != "" {
		rc, err := cache.NewRedis(s.Ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log.Named("redis"))
		if err != nil {
			if cfg.Bus.Driver == "redis" {
				return fmt.Errorf("redis: %w", err)
			}
			log.Warn("redis unavailable, falling back to process-local state", zap.Error(err))
		} else {
			s.Redis = rc
		}
	}

	// 3) change bus
	bus, err := s.newBus()
	if err != nil {
		return err
	}
	s.Bus = bus

	// 4) blob storage and mail
	blobs, err := s.newBlobStore()
	if err != nil {
		return err
	}
	images := storage.NewImages(blobs, cfg.Chat.MaxImageBytes, mediaBaseURL, log.Named("images"))

	mailer, err := s.newMailer()
	if err != nil {
		return err
	}

	// 5) identity
	tokens, err := s.newTokens()
	if err != nil {
		return err
	}
	s.Limiter = middleware.NewLocalLimiter()
	var (
		tokenState auth.TokenState        = auth.NewMemoryState()
		conns      presence.Connections   = presence.NewLocalConnections()
		limiter    middleware.Limiter     = s.Limiter
		typingDB   repository.TypingStore
	)
	if s.Redis != nil {
		tokenState, conns, typingDB, limiter = s.Redis, s.Redis, s.Redis, s.Redis
	} else if mem, ok := s.Store.(*repository.Memory); ok {
		typingDB = mem
	} else {
		typingDB = repository.NewMemory()
	}
	authSvc := auth.NewService(s.Store, tokens, tokenState, mailer,
		auth.Options{IsAdmin: cfg.IsAdmin, ResetURL: cfg.Mail.ResetURL}, log.Named("auth"))

	// 6) live queries driven by the change bus
	s.feeds = live.NewManager[[]models.FeedMessage](log.Named("feeds"), loadTimeout)
	s.views = live.NewManager[presence.View](log.Named("presence"), loadTimeout)
	s.typers = live.NewManager[[]models.Typing](log.Named("typing"), loadTimeout)

	messages := service.NewMessageService(s.Store, s.Store, bus, images, log.Named("messages"))
	tracker := presence.NewTracker(s.Store, conns, bus, log.Named("presence"), cfg.Chat.StatusMaxLength)

	// 7) websocket hub
	s.Hub = ws.NewHub(session.Deps{
		Feeds:       s.feeds,
		Presence:    s.views,
		Typing:      s.typers,
		Messages:    messages,
		Store:       s.Store,
		TypingStore: typingDB,
		Tracker:     tracker,
		Bus:         bus,
		TypingIdle:  cfg.TypingIdle(),
		Log:         log.Named("session"),
	}, ws.Config{
		PingInterval:     cfg.PingInterval(),
		WriteWait:        cfg.WriteWait(),
		MaxMessageBytes:  cfg.WS.MaxMessageBytes,
		InboundPerSecond: cfg.WS.InboundPerSecond,
		SendBuffer:       cfg.WS.SendBufferEntries,
	}, log.Named("ws"))

	// 8) fiber app
	checks := map[string]handler.Pinger{"store": s.Store}
	if s.Redis != nil {
		checks["redis"] = s.Redis
	}
	s.App = routes.NewApp(int(cfg.Chat.MaxImageBytes) * 2)
	routes.Register(s.App, routes.Deps{
		Auth:      authSvc,
		Directory: service.NewDirectoryService(s.Store, bus, images, log.Named("directory")),
		Messages:  messages,
		Admin:     service.NewAdminService(s.Store, s.Store, bus, cfg.Chat.PageSize, log.Named("admin")),
		Tracker:   tracker,
		Presence:  s.Store,
		Images:    images,
		Hub:       s.Hub,
		Limiter:   limiter,
		RateLimit: cfg.Chat.RateLimitPerMin,
		Health:    checks,
		Log:       log,
	})
	return nil
}

func (s *Server) newBus() (events.Bus, error) {
	cfg := s.Cfg
	switch cfg.Bus.Driver {
	case "redis":
		if s.Redis == nil {
			return nil, errors.New("bus.driver redis needs redis.addr")
		}
		return events.NewRedisBus(s.Redis.Redis(), cfg.Bus.Channel, s.Log.Named("bus")), nil
	case "nats":
		b, err := events.NewNATSBus(cfg.NATS.URL, cfg.Bus.Channel, s.Log.Named("bus"))
		if err != nil {
			return nil, fmt.Errorf("nats: %w", err)
		}
		return b, nil
	case "kafka":
		return events.NewKafkaBus(cfg.Kafka.Brokers, cfg.Kafka.Topic, s.Log.Named("bus")), nil
	default:
		return events.NewLocalBus(), nil
	}
}

func (s *Server) newBlobStore() (storage.Store, error) {
	cfg := s.Cfg
	if cfg.Blob.Driver != "s3" {
		return storage.NewMemoryStore(), nil
	}
	st, err := storage.NewS3Store(s.Ctx, storage.S3Config{
		Region:      cfg.S3.Region,
		Bucket:      cfg.S3.Bucket,
		Endpoint:    cfg.S3.Endpoint,
		PublicRead:  cfg.S3.PublicRead,
		PresignTTL:  cfg.PresignTTL(),
		MaxFailures: cfg.S3.MaxFailures,
	}, s.Log.Named("s3"))
	if err != nil {
		return nil, fmt.Errorf("s3: %w", err)
	}
	return st, nil
}

func (s *Server) newMailer() (mail.Sender, error) {
	cfg := s.Cfg
	if cfg.Mail.Driver != "brevo" {
		return mail.NewLogSender(s.Log.Named("mail")), nil
	}
	return mail.NewBrevo(cfg.Mail.APIKey, cfg.Mail.From, cfg.Mail.FromName, s.Log.Named("mail"))
}

func (s *Server) newTokens() (*auth.Tokens, error) {
	cfg := s.Cfg
	if strings.EqualFold(cfg.JWT.Alg, "RS256") {
		return auth.NewRS256(cfg.JWT.PrivateKeyPath, cfg.JWT.PublicKeyPath, cfg.TokenTTL(), cfg.JWT.Issuer)
	}
	return auth.NewHS256(cfg.JWT.Secret, cfg.TokenTTL(), cfg.JWT.Issuer)
}

// Start runs the change listener, housekeeping and the HTTP server.
func (s *Server) Start() {
	fan := live.Fanout{s.feeds, s.views, s.typers}
	go events.Listen(s.Ctx, s.Bus, s.Log.Named("listener"), fan.Notify, fan.ReloadAll)

	go func() {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-s.Ctx.Done():
				return
			case <-t.C:
				s.Limiter.Sweep(10 * time.Minute)
			}
		}
	}()

	port := s.Cfg.App.Port
	if port == "" {
		port = "8080"
	}
	go func() {
		s.Log.Info("starting chat-service", zap.String("port", port), zap.String("env", s.Cfg.App.Env))
		if err := s.App.Listen(":" + port); err != nil {
			s.Log.Fatal("fiber server exited unexpectedly", zap.Error(err))
		}
	}()
}

// Shutdown disconnects clients, stops the HTTP server and closes backing services.
func (s *Server) Shutdown() {
	s.Log.Info("shutting down chat-service...")
	ctx, cancel := context.WithTimeout(context.Background(), s.Cfg.ShutdownTimeout())
	defer cancel()

	if err := s.Hub.Shutdown(ctx); err != nil {
		s.Log.Error("websocket shutdown incomplete", zap.Error(err))
	}
	if err := s.App.ShutdownWithContext(ctx); err != nil {
		s.Log.Error("http shutdown failed", zap.Error(err))
	}
	s.Cancel()
	s.close()
	s.Log.Info("chat-service stopped")
}

func (s *Server) close() {
	if s.feeds != nil {
		s.feeds.Close()
		s.views.Close()
		s.typers.Close()
	}
	if s.Bus != nil {
		if err := s.Bus.Close(); err != nil {
			s.Log.Error("failed to close change bus", zap.Error(err))
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			s.Log.Error("failed to close redis", zap.Error(err))
		}
	}
	if s.Store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Store.Close(ctx); err != nil {
			s.Log.Error("failed to close store", zap.Error(err))
		}
	}
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.App.Env, cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	srv, err := NewServer(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize server", zap.Error(err))
	}
	srv.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	srv.Shutdown()
}
