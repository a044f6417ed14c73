// companiond serves the subscription and feature-gating surface for the
// companion app shell over a local HTTP socket.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/stillmind/companionkit/modules/entitlements"
	"github.com/stillmind/companionkit/pkg/billing"
	"github.com/stillmind/companionkit/pkg/catalog"
	"github.com/stillmind/companionkit/pkg/crisis"
	"github.com/stillmind/companionkit/pkg/entitlement"
	"github.com/stillmind/companionkit/pkg/environment"
	"github.com/stillmind/companionkit/pkg/httpserver"
	"github.com/stillmind/companionkit/pkg/kvstore"
	"github.com/stillmind/companionkit/pkg/logger"
	"github.com/stillmind/companionkit/svc/subscription"
)

type appConfig struct {
	Env         string `env:"APP_ENV" envDefault:"development"`
	CatalogPath string `env:"CATALOG_PATH" envDefault:"catalog.yaml"`
	DataDir     string `env:"DATA_DIR" envDefault:"data"`

	// UseRedis switches the durable store from local files to Redis, for
	// shells that already run a local Redis for other modules.
	UseRedis bool `env:"USE_REDIS" envDefault:"false"`

	// Paddle is optional: without an API key the daemon falls back to a
	// static billing source, which is the local-development mode.
	PaddleAPIKey      string            `env:"PADDLE_API_KEY"`
	PaddleEnvironment string            `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
	PaddlePriceTiers  map[string]string `env:"PADDLE_PRICE_TIERS"`
	TrialDays         int               `env:"PADDLE_TRIAL_DAYS" envDefault:"21"`
}

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// The .env file is optional.
	_ = godotenv.Load()

	var cfg appConfig
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	log := logger.New(
		logger.WithEnvironment(cfg.Env, "companiond"),
		logger.WithContextExtractors(environment.LoggerExtractor()),
	)
	logger.SetAsDefault(log)

	cat, err := catalog.LoadYAML(cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("load feature catalog: %w", err)
	}

	store, closeStore, err := newStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open durable store: %w", err)
	}
	defer closeStore()

	ctrl, err := crisis.NewController(ctx, store, cat, crisis.WithLogger(log))
	if err != nil {
		return fmt.Errorf("init crisis controller: %w", err)
	}

	source, err := newBillingSource(cfg)
	if err != nil {
		return fmt.Errorf("init billing source: %w", err)
	}

	subCfg, err := subscription.LoadConfig()
	if err != nil {
		return err
	}
	mgr, err := subscription.NewManager(ctx, cat, ctrl, source, store, subCfg,
		subscription.WithLogger(log))
	if err != nil {
		return fmt.Errorf("init subscription manager: %w", err)
	}

	var httpCfg httpserver.Config
	if err := env.Parse(&httpCfg); err != nil {
		return fmt.Errorf("parse http config: %w", err)
	}

	r := chi.NewRouter()
	r.Use(environment.Middleware(environment.Parse(cfg.Env)))
	r.Get("/healthz", httpserver.HealthCheckHandler(ctx, log))
	r.Get("/readyz", httpserver.HealthCheckHandler(ctx, log, storeProbe(store)))
	r.Mount("/entitlements", entitlements.Router(entitlements.RouterOptions{
		Subscription: entitlements.NewService(mgr, entitlements.WithLogger(log)),
	}))

	srv := httpserver.NewFromConfig(httpCfg,
		httpserver.WithLogger(log),
		httpserver.WithStartHook(func(l *slog.Logger) {
			l.Info("companiond listening",
				logger.Component("httpserver"),
				slog.String("addr", httpCfg.Addr),
				slog.Int("features", cat.Len()))
		}),
	)
	return srv.Run(ctx, r)
}

// newStore opens the configured durable store and returns it with a cleanup
// function.
func newStore(ctx context.Context, cfg appConfig) (kvstore.Store, func(), error) {
	if cfg.UseRedis {
		var redisCfg kvstore.RedisConfig
		if err := env.Parse(&redisCfg); err != nil {
			return nil, nil, err
		}
		client, err := kvstore.ConnectRedis(ctx, redisCfg)
		if err != nil {
			return nil, nil, err
		}
		store := kvstore.NewRedisStore(client)
		return store, func() { _ = store.Close() }, nil
	}

	store, err := kvstore.NewFileStore(cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {}, nil
}

func newBillingSource(cfg appConfig) (billing.EntitlementSource, error) {
	if cfg.PaddleAPIKey == "" {
		return billing.NewStaticSource(), nil
	}

	priceTiers := make(map[string]entitlement.Tier, len(cfg.PaddlePriceTiers))
	for priceID, raw := range cfg.PaddlePriceTiers {
		tier, err := entitlement.ParseTier(raw)
		if err != nil {
			return nil, fmt.Errorf("price %s: %w", priceID, err)
		}
		priceTiers[priceID] = tier
	}

	return billing.NewPaddleSource(billing.PaddleConfig{
		APIKey:      cfg.PaddleAPIKey,
		Environment: cfg.PaddleEnvironment,
	}, priceTiers, cfg.TrialDays)
}

// storeProbe reports store reachability for the readiness endpoint. A missing
// key is a healthy answer; only transport failures mark the store unready.
func storeProbe(store kvstore.Store) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := store.Get(ctx, crisis.StorageKey)
		if err != nil && !errors.Is(err, kvstore.ErrKeyNotFound) {
			return err
		}
		return nil
	}
}
