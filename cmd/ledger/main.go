package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bsm/redislock"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"freight-ledger/internal/accounting"
	"freight-ledger/internal/adapters/cli"
	"freight-ledger/internal/ai"
	"freight-ledger/internal/app"
	"freight-ledger/internal/cache"
	"freight-ledger/internal/config"
	"freight-ledger/internal/core"
	"freight-ledger/internal/db"
	"freight-ledger/internal/logger"
	"freight-ledger/internal/metrics"
	"freight-ledger/internal/storage"
)

var version = "0.1.0"

func main() {
	_ = godotenv.Load()
	_ = logger.Setup(logger.DefaultConfig())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx, build, version); err != nil {
		stop()
		os.Exit(1)
	}
}

// build wires every engine and optional integration from configuration.
// Redis, the accounting system, S3 and OpenAI are all optional; the ledger
// runs on Postgres alone.
func build(ctx context.Context, configPath string) (app.ApplicationService, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := logger.Setup(logger.LogConfig{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		TimeFormat: cfg.Log.TimeFormat,
		Output:     cfg.Log.Output,
	}); err != nil {
		return nil, nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	log := logger.WithComponent("main")

	pool, err := db.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	closers := []func(){pool.Close}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	opts := core.Options{
		OperatingCompanyID:   cfg.Ledger.OperatingCompanyID,
		DefaultDueDays:       cfg.Ledger.DefaultDueDays,
		AllowOverpayment:     cfg.Ledger.AllowOverpayment,
		MaxRetries:           cfg.Ledger.MaxRetries,
		Tolerance:            cfg.Tolerance(),
		MatchDateWindowDays:  cfg.Reconciliation.DateWindowDays,
		MatchAmountTolerance: cfg.MatchAmountTolerance(),
		MaxCandidates:        cfg.Reconciliation.MaxCandidates,
	}
	if opts.OperatingCompanyID == 0 {
		log.Warn().Msg("ledger.operating_company_id is not set; invoice direction and sync are disabled")
	}

	strategy := matchStrategy(cfg, opts, log)

	source := core.NewUnitCostSource()
	parties := core.NewPartyService(pool)
	invoices := core.NewInvoiceEngine(pool, opts, core.NewCategoryRuleEngine(), source)

	deps := app.Deps{
		Options:    opts,
		TaxRate:    cfg.TaxRate(),
		Parties:    parties,
		Units:      core.NewUnitRegistry(pool, source),
		Invoices:   invoices,
		Ledger:     core.NewLedger(pool, opts),
		Reconciler: core.NewReconciler(pool, opts, strategy),
		Auditor:    core.NewAuditor(pool, opts, source),
		Reports:    core.NewReportingService(pool, opts),
	}

	rdb, err := cache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable; running without report cache and sync locks")
	}
	var locker *redislock.Client
	if rdb != nil {
		closers = append(closers, func() { _ = rdb.Close() })
		locker = redislock.New(rdb)
	}
	deps.Cache = cache.New(rdb, cfg.Redis.CacheTTL)

	if cfg.Accounting.BaseURL != "" {
		client, err := accounting.NewHTTPClient(cfg.Accounting.BaseURL, cfg.Accounting.Token, cfg.Accounting.Timeout)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		pusher := accounting.NewPusher(client, invoices, parties, locker, opts.OperatingCompanyID)
		invoices.SetSyncer(pusher)
		deps.Pusher = pusher
	}

	if cfg.Storage.Bucket != "" {
		store, err := storage.NewS3Store(ctx, storage.Options{
			Bucket:    cfg.Storage.Bucket,
			Endpoint:  cfg.Storage.Endpoint,
			Region:    cfg.Storage.Region,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
		})
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		deps.Store = store
	}

	if cfg.Metrics.Addr != "" {
		srv := metrics.Serve(cfg.Metrics.Addr)
		closers = append(closers, func() { _ = srv.Close() })
	}

	log.Debug().
		Bool("cache", deps.Cache.Enabled()).
		Bool("accounting", deps.Pusher != nil).
		Bool("storage", deps.Store != nil).
		Bool("ai_matching", cfg.Reconciliation.UseAI && cfg.OpenAI.APIKey != "").
		Msg("ledger ready")

	return app.NewAppService(deps), cleanup, nil
}

// matchStrategy ranks by amount and date using the configured tolerance and
// window, behind the OpenAI advisor when use_ai is set and a key exists.
func matchStrategy(cfg *config.Config, opts core.Options, log zerolog.Logger) core.MatchStrategy {
	base := core.NewAmountDateStrategy(opts)
	if !cfg.Reconciliation.UseAI {
		return base
	}
	if cfg.OpenAI.APIKey == "" {
		log.Warn().Msg("reconciliation.use_ai is set but OPENAI_API_KEY is empty; using amount/date ranking")
		return base
	}
	return ai.NewMatchAdvisor(cfg.OpenAI.APIKey, cfg.OpenAI.Model, base)
}
