package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"dmarket_go/internal/domain"
	"dmarket_go/internal/engine"
	"dmarket_go/internal/execution"
	"dmarket_go/internal/infra"
	"dmarket_go/internal/infra/dmarket"
	"dmarket_go/internal/infra/storage"
	"dmarket_go/internal/server"
	"dmarket_go/internal/strategy"

	"github.com/joho/godotenv"
)

const defaultConfigPath = "configs/config.yaml"

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config  *infra.Config
	Storage *storage.Storage
	Market  domain.Marketplace
	Balance *domain.BalanceGuard
	Poller  *infra.BalancePoller
	Loops   []*engine.GameLoop
	Server  *server.Server
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization (env, config, logger, DB, client).
func (b *Bootstrap) Initialize() error {
	// 0. Secrets from .env (optional)
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to read .env", slog.Any("error", err))
	}

	path := os.Getenv("DMARKET_CONFIG")
	if path == "" {
		path = defaultConfigPath
	}

	// 1. Load Config
	cfg, err := infra.LoadConfig(path)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)
	slog.Info("🚀 Bootstrapping DMarket bot...", slog.String("config", path), slog.Bool("dry_run", cfg.API.DryRun))

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Database initialized", slog.String("driver", cfg.Storage.Driver))

	// 4. Marketplace (live or paper)
	client, err := dmarket.NewClient(cfg)
	if err != nil {
		return err
	}
	b.Market = client
	if cfg.API.DryRun {
		b.Market = execution.NewPaperMarket(client, cfg.API.PaperBalance, cfg.Trade.Buy.SellFee)
		slog.Info("📝 Paper trading enabled", slog.String("balance", cfg.API.PaperBalance.String()))
	}

	// 5. Shared balance guard
	b.Balance = domain.NewBalanceGuard(0)
	b.Poller = infra.NewBalancePoller(b.Market, b.Balance, cfg.Trade.Timers.FillsInterval(), nil)

	// 6. Status server and one loop per game
	var views []server.LoopView
	if cfg.Status.ListenAddr != "" {
		b.Server = server.New(cfg.Status.ListenAddr, nil, b.Balance, infra.GlobalMetrics)
	}

	gateway := engine.NewOrderGateway(b.Market, cfg.API.OrderRetries)
	pricer := strategy.NewRules(&cfg.Trade)
	for _, game := range cfg.Trade.Games {
		deps := engine.LoopDeps{
			Game:    game,
			Config:  &cfg.Trade,
			Market:  b.Market,
			Gateway: gateway,
			Pricer:  pricer,
			Balance: b.Balance,
			Store:   store,
			Metrics: infra.GlobalMetrics,
		}
		if b.Server != nil {
			deps.OnUpdate = b.Server.Publish
		}
		loop := engine.NewGameLoop(deps)
		b.Loops = append(b.Loops, loop)
		views = append(views, loop)
	}
	if b.Server != nil {
		b.Server.SetLoops(views)
	}

	return nil
}

// Start begins balance polling and the status server.
func (b *Bootstrap) Start(ctx context.Context) error {
	if err := b.Poller.Start(ctx); err != nil {
		return fmt.Errorf("balance poller: %w", err)
	}
	if b.Server != nil {
		b.Server.Start()
	}
	return nil
}

// Close releases what Initialize opened.
func (b *Bootstrap) Close(ctx context.Context) {
	if b.Poller != nil {
		b.Poller.Stop()
	}
	if b.Server != nil {
		if err := b.Server.Shutdown(ctx); err != nil {
			slog.Warn("Status server shutdown failed", slog.Any("error", err))
		}
	}
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Warn("Failed to close database", slog.Any("error", err))
		}
	}
}
