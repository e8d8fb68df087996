package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/digkill/MediaGenBot/internal/admin"
	"github.com/digkill/MediaGenBot/internal/catalog"
	"github.com/digkill/MediaGenBot/internal/config"
	"github.com/digkill/MediaGenBot/internal/database"
	"github.com/digkill/MediaGenBot/internal/metrics"
	"github.com/digkill/MediaGenBot/internal/provider"
	"github.com/digkill/MediaGenBot/internal/repository"
	"github.com/digkill/MediaGenBot/internal/service"
	"github.com/digkill/MediaGenBot/internal/session"
	"github.com/digkill/MediaGenBot/internal/storage"
	"github.com/digkill/MediaGenBot/internal/telegram"
	"github.com/digkill/MediaGenBot/pkg/logger"
	"github.com/digkill/MediaGenBot/pkg/logger/sl"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(ctx, db, cfg.DBDriver); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	dialect, err := repository.ParseDialect(cfg.DBDriver)
	if err != nil {
		log.Fatalf("database dialect: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	router := provider.NewRouter(m, adapters(cfg, logr)...)
	cat, err := loadCatalog(cfg, logr, router)
	if err != nil {
		log.Fatalf("catalog: %v", err)
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatalf("telegram bot: %v", err)
	}

	ledger := repository.NewLedgerRepository(db, dialect)
	userService := service.NewUserService(ledger, cfg.FreeGenerationsOnStart)
	authorizer := service.NewAuthorizer(ledger, logr, m)
	paymentService := service.NewPaymentService(cfg, ledger, logr, m)

	store, closeStore, err := sessionStore(ctx, cfg)
	if err != nil {
		log.Fatalf("session store: %v", err)
	}
	defer closeStore()

	var uploader telegram.Uploader
	if cfg.S3Enabled() {
		u, err := storage.NewUploader(storage.Config{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			Bucket:        cfg.S3Bucket,
			PublicBaseURL: cfg.S3PublicBaseURL,
			UsePathStyle:  cfg.S3UsePathStyle,
			Prefix:        cfg.S3Prefix,
			PublicRead:    cfg.S3PublicRead,
		})
		if err != nil {
			log.Fatalf("storage uploader: %v", err)
		}
		uploader = u
	} else {
		logr.Warn("S3 is not configured, providers will receive Telegram file links")
	}

	engine := session.New(session.Deps{
		Catalog: cat,
		Store:   store,
		Charger: authorizer,
		Jobs:    router,
		Outbox:  telegram.NewOutbox(botAPI, logr),
		Media:   telegram.NewMediaResolver(botAPI, uploader, logr),
		Log:     logr,
		Metrics: m,
		Config: session.Config{
			PollInterval:    cfg.PollInterval,
			PollMaxInterval: cfg.PollMaxInterval,
			PollTimeout:     cfg.PollTimeout,
			PollMaxAttempts: cfg.PollMaxAttempts,
			SubmitTimeout:   cfg.RequestTimeout,
			Currency:        cfg.CurrencySymbol(),
		},
	})
	defer engine.Shutdown()

	bot := telegram.NewBot(botAPI, logr, cat, engine, userService, paymentService, cfg.CurrencySymbol())

	adminServer := admin.NewServer(admin.Options{
		Addr:     cfg.AdminListenAddr,
		Username: cfg.AdminUsername,
		Password: cfg.AdminPassword,
		Gatherer: reg,
	}, logr, userService, paymentService, botAPI)
	go func() {
		if err := adminServer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logr.Error("admin server stopped", sl.Err(err))
		}
	}()

	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("bot stopped", sl.Err(err))
	}
	logr.Info("shutting down")
}

func adapters(cfg config.Config, logr *slog.Logger) []provider.Adapter {
	opts := func(baseURL, key string) provider.Options {
		return provider.Options{BaseURL: baseURL, APIKey: key, Timeout: cfg.RequestTimeout, RPS: cfg.ProviderRPS}
	}
	var out []provider.Adapter
	if cfg.ReplicateAPIToken != "" {
		out = append(out, provider.NewReplicate(opts(cfg.ReplicateBaseURL, cfg.ReplicateAPIToken), logr))
	}
	if cfg.FalKey != "" {
		out = append(out, provider.NewFal(opts(cfg.FalBaseURL, cfg.FalKey), logr))
	}
	if cfg.KIEAPIKey != "" {
		out = append(out, provider.NewKie(opts(cfg.KIEBaseURL, cfg.KIEAPIKey), logr))
	}
	return out
}

// loadCatalog reads CATALOG_PATH or the built-in models and keeps the ones a
// configured provider can serve.
func loadCatalog(cfg config.Config, logr *slog.Logger, router *provider.Router) (*catalog.Catalog, error) {
	var (
		cat *catalog.Catalog
		err error
	)
	if cfg.CatalogPath != "" {
		cat, err = catalog.Load(cfg.CatalogPath)
	} else {
		cat, err = catalog.Default()
	}
	if err != nil {
		return nil, err
	}

	cat, dropped, err := cat.Restrict(router.Providers()...)
	if err != nil {
		return nil, err
	}
	if len(dropped) > 0 {
		logr.Warn("models disabled, provider not configured", "models", dropped)
	}
	if err := cat.Validate(router.Providers()...); err != nil {
		return nil, err
	}
	logr.Info("catalog loaded", "models", len(cat.Models()), "providers", cat.Providers())
	return cat, nil
}

func sessionStore(ctx context.Context, cfg config.Config) (session.Store, func(), error) {
	if cfg.SessionStore != "redis" {
		return session.NewMemoryStore(), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return session.NewRedisStore(client, cfg.SessionTTL), func() { _ = client.Close() }, nil
}
