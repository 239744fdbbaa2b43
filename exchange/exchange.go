package exchange

import (
	"context"
	"log/slog"
	"time"

	"github.com/djdcks12/Dungeon-Crawler-sub008/exchange/database"
	"github.com/djdcks12/Dungeon-Crawler-sub008/exchange/database/repositories"
	"github.com/djdcks12/Dungeon-Crawler-sub008/exchange/economy/auction"
	"github.com/djdcks12/Dungeon-Crawler-sub008/exchange/economy/settlement"
	"github.com/djdcks12/Dungeon-Crawler-sub008/exchange/economy/trade"
	"github.com/djdcks12/Dungeon-Crawler-sub008/exchange/gateway"
	"github.com/djdcks12/Dungeon-Crawler-sub008/exchange/services"
)

func New(cfg Config, version string, commit string) *App {
	return &App{
		Cfg:     cfg,
		Version: version,
		Commit:  commit,
	}
}

// App wires the whole exchange server together.
type App struct {
	Cfg     Config
	Version string
	Commit  string

	DB *database.DB

	PlayerRepository    repositories.PlayerRepository
	InventoryRepository repositories.InventoryRepository
	MailRepository      repositories.MailRepository

	CatalogService *services.CatalogService
	LocatorService *services.LocatorService

	Hub              *gateway.Hub
	Settler          *settlement.Service
	TradeCoordinator *trade.Coordinator
	AuctionManager   *auction.Manager
	AuctionScheduler *auction.Scheduler
	Gateway          *gateway.Server
}

// Setup builds every component on top of an already-connected database.
func (a *App) Setup() {
	a.PlayerRepository = repositories.NewPlayerRepository(a.DB.BunDB())
	a.InventoryRepository = repositories.NewInventoryRepository(a.DB.BunDB())
	a.MailRepository = repositories.NewMailRepository(a.DB.BunDB())

	a.CatalogService = services.NewCatalogService(services.CatalogConfig{
		Key:    a.Cfg.Catalog.Key,
		Secret: a.Cfg.Catalog.Secret,
		Region: a.Cfg.Catalog.Region,
		Bucket: a.Cfg.Catalog.Bucket,
		Object: a.Cfg.Catalog.Object,
		File:   a.Cfg.Catalog.File,
	})
	a.LocatorService = services.NewLocatorService()

	a.Hub = gateway.NewHub()
	a.Settler = settlement.New(a.PlayerRepository, a.InventoryRepository, a.MailRepository)

	a.TradeCoordinator = trade.NewCoordinator(trade.Config{
		SlotCount:     a.Cfg.Economy.TradeSlots,
		Timeout:       a.Cfg.Economy.TradeTimeout,
		MaxRange:      a.Cfg.Economy.TradeMaxRange,
		SweepInterval: a.Cfg.Economy.TradeSweepInterval,
	}, a.PlayerRepository, a.InventoryRepository, a.LocatorService, a.Settler, trade.NewNotifier(a.Hub))

	durations := make([]time.Duration, 0, len(a.Cfg.Economy.ListingDurations))
	for _, hours := range a.Cfg.Economy.ListingDurations {
		durations = append(durations, time.Duration(hours)*time.Hour)
	}
	a.AuctionManager = auction.NewManager(auction.Config{
		MaxListingsPerSeller: a.Cfg.Economy.MaxListingsPerSeller,
		ListingCommission:    a.Cfg.Economy.ListingCommission,
		SaleCommission:       a.Cfg.Economy.SaleCommission,
		Durations:            durations,
		SweepInterval:        a.Cfg.Economy.AuctionSweepInterval,
	}, a.PlayerRepository, a.InventoryRepository, a.CatalogService, a.Settler, auction.NewNotifier(a.Hub))
	a.AuctionScheduler = auction.NewScheduler(a.AuctionManager)

	a.Gateway = gateway.NewServer(a.Cfg.Gateway.ListenAddr, a.Hub,
		a.TradeCoordinator, a.AuctionManager, a.PlayerRepository,
		a.MailRepository, a.Settler, a.LocatorService)
}

// Start loads the catalog and launches the background sweepers. The
// gateway listener is run by the caller so it can own its lifecycle.
func (a *App) Start(ctx context.Context) error {
	if err := a.CatalogService.Load(ctx); err != nil {
		return err
	}

	a.TradeCoordinator.StartSweeper()
	a.AuctionScheduler.Start()

	slog.Info("Exchange server started",
		slog.String("type", "sys"),
		slog.String("version", a.Version),
		slog.String("commit", a.Commit))
	return nil
}

func (a *App) Shutdown(ctx context.Context) {
	a.TradeCoordinator.Shutdown()
	a.AuctionScheduler.Shutdown()

	if a.Gateway != nil {
		if err := a.Gateway.Shutdown(ctx); err != nil {
			slog.Error("Gateway shutdown failed", slog.Any("error", err))
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}

	slog.Info("Exchange server stopped", slog.String("type", "sys"))
}
