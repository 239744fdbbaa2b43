package exchange

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/djdcks12/Dungeon-Crawler-sub008/exchange/database"
)

func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err = toml.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

type Config struct {
	Log     LogConfig         `toml:"log"`
	Gateway GatewayConfig     `toml:"gateway"`
	DB      database.DBConfig `toml:"db"`
	Economy EconomyConfig     `toml:"economy"`
	Catalog CatalogConfig     `toml:"catalog"`
}

type LogConfig struct {
	Level     slog.Level `toml:"level"`
	Format    string     `toml:"format"`
	AddSource bool       `toml:"add_source"`
}

type GatewayConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// EconomyConfig holds the tunables for the trade and auction systems.
type EconomyConfig struct {
	TradeSlots         int           `toml:"trade_slots"`
	TradeTimeout       time.Duration `toml:"trade_timeout"`
	TradeMaxRange      float64       `toml:"trade_max_range"`
	TradeSweepInterval time.Duration `toml:"trade_sweep_interval"`

	MaxListingsPerSeller int           `toml:"max_listings_per_seller"`
	ListingCommission    float64       `toml:"listing_commission"`
	SaleCommission       float64       `toml:"sale_commission"`
	ListingDurations     []int         `toml:"listing_durations_hours"`
	AuctionSweepInterval time.Duration `toml:"auction_sweep_interval"`
}

type CatalogConfig struct {
	Key    string `toml:"key"`
	Secret string `toml:"secret"`
	Region string `toml:"region"`
	Bucket string `toml:"bucket"`
	Object string `toml:"object"`
	File   string `toml:"file"`
}

func (c *Config) applyDefaults() {
	if c.Gateway.ListenAddr == "" {
		c.Gateway.ListenAddr = ":8460"
	}
	e := &c.Economy
	if e.TradeSlots <= 0 {
		e.TradeSlots = 6
	}
	if e.TradeTimeout <= 0 {
		e.TradeTimeout = 5 * time.Minute
	}
	if e.TradeMaxRange <= 0 {
		e.TradeMaxRange = 10.0
	}
	if e.TradeSweepInterval <= 0 {
		e.TradeSweepInterval = 15 * time.Second
	}
	if e.MaxListingsPerSeller <= 0 {
		e.MaxListingsPerSeller = 10
	}
	if e.ListingCommission <= 0 {
		e.ListingCommission = 0.05
	}
	if e.SaleCommission <= 0 {
		e.SaleCommission = 0.05
	}
	if len(e.ListingDurations) == 0 {
		e.ListingDurations = []int{2, 8, 24}
	}
	if e.AuctionSweepInterval <= 0 {
		e.AuctionSweepInterval = 15 * time.Second
	}
}
