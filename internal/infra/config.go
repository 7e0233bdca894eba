package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"dmarket_go/internal/domain"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultUserAgent is a browser-like user agent string to avoid bot detection
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	DefaultAPIURL = "https://api.dmarket.com"
)

// Config는 애플리케이션의 모든 설정을 담습니다.
// LoadConfig로 로드된 후에 환경 변수를 통해 민감 내용을 덮어씁니다.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	API struct {
		URL          string       `yaml:"url"`
		PublicKey    string       `yaml:"public_key"`
		SecretKey    string       `yaml:"secret_key"`
		TimeoutSec   int          `yaml:"timeout_sec"`
		OrderRetries int          `yaml:"order_retries"`
		DryRun       bool         `yaml:"dry_run"` // paper orders, live market data
		PaperBalance domain.Cents `yaml:"paper_balance"`
	} `yaml:"api"`

	Storage struct {
		Driver string `yaml:"driver"` // sqlite | mysql
		DSN    string `yaml:"dsn"`
	} `yaml:"storage"`

	Status struct {
		ListenAddr string `yaml:"listen_addr"` // empty disables the status server
	} `yaml:"status"`

	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`

	Trade TradeConfig `yaml:"trade"`
}

// TradeConfig holds every threshold of the pricing rules.
// It is read-only once LoadConfig returns.
type TradeConfig struct {
	Games         []string     `yaml:"games"`
	BadItems      []string     `yaml:"bad_items"`
	BadItemsAllow []string     `yaml:"bad_items_allow"`
	Timers        TimersConfig `yaml:"timers"`
	Prev          PrevParams   `yaml:"prev"`
	Buy           BuyParams    `yaml:"buy"`
	Sell          SellParams   `yaml:"sell"`
}

// TimersConfig holds refresh periods in seconds.
type TimersConfig struct {
	PrevBase   int `yaml:"prev_base"`   // sale history
	OrdersBase int `yaml:"orders_base"` // order book and re-pricing
	FillsBase  int `yaml:"fills_base"`  // fills and balance
}

func (t TimersConfig) PrevInterval() time.Duration   { return time.Duration(t.PrevBase) * time.Second }
func (t TimersConfig) OrdersInterval() time.Duration { return time.Duration(t.OrdersBase) * time.Second }
func (t TimersConfig) FillsInterval() time.Duration  { return time.Duration(t.FillsBase) * time.Second }

// PrevParams drive item discovery and the history window.
type PrevParams struct {
	MinAvgPrice    domain.Cents `yaml:"min_avg_price"`
	MaxAvgPrice    domain.Cents `yaml:"max_avg_price"`
	HistorySize    int          `yaml:"history_size"`
	DiscoveryLimit int          `yaml:"discovery_limit"`
}

// BuyParams drive the eligibility filter and the bid price.
type BuyParams struct {
	Frequency          bool            `yaml:"frequency"`
	MinPrice           domain.Cents    `yaml:"min_price"`
	MaxPrice           domain.Cents    `yaml:"max_price"`
	ProfitPercent      decimal.Decimal `yaml:"profit_percent"`
	GoodPointsPercent  decimal.Decimal `yaml:"good_points_percent"`
	AllSales           int             `yaml:"all_sales"`
	DaysCount          int             `yaml:"days_count"`
	SaleCount          int             `yaml:"sale_count"`
	LastSale           int             `yaml:"last_sale"`  // days
	FirstSale          int             `yaml:"first_sale"` // days
	MaxCountSellOffers int             `yaml:"max_count_sell_offers"`
	BoostPercent       decimal.Decimal `yaml:"boost_percent"`
	BoostPoints        int             `yaml:"boost_points"`
	MaxThreshold       decimal.Decimal `yaml:"max_threshold"`
	MinThreshold       decimal.Decimal `yaml:"min_threshold"`
	StopOrdersBalance  domain.Cents    `yaml:"stop_orders_balance"`
	AvgPriceCount      int             `yaml:"avg_price_count"`
	SellFee            decimal.Decimal `yaml:"sell_fee"`
}

// SellParams bound the ask relative to the purchase price.
type SellParams struct {
	MinPercent decimal.Decimal `yaml:"min_percent"`
	MaxPercent decimal.Decimal `yaml:"max_percent"`
}

// LoadConfig는 설정 파일을 읽고 파싱합니다.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, err
	}

	return ParseConfig(data)
}

// ParseConfig decodes YAML, applies defaults and env overrides, then validates.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// 보안 우선 - 환경 변수 오버라이드 지원
	overrideWithEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns the values used for keys missing from the file.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.App.Name = "dmarket_go"
	cfg.API.URL = DefaultAPIURL
	cfg.API.TimeoutSec = 10
	cfg.API.OrderRetries = 3
	cfg.API.PaperBalance = 10_000
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.DSN = "data/dmarket.db"
	cfg.Logging.Level = "info"
	cfg.Logging.File = "logs/app.log"

	cfg.Trade.Timers = TimersConfig{PrevBase: 3600, OrdersBase: 60, FillsBase: 120}
	cfg.Trade.Prev.HistorySize = 20
	cfg.Trade.Prev.DiscoveryLimit = 200
	cfg.Trade.Buy.AvgPriceCount = 10
	cfg.Trade.Buy.SellFee = decimal.NewFromInt(7)
	return cfg
}

// Validate rejects contradictory thresholds. Every failure is a *domain.ConfigError.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.API.URL, "http://") && !strings.HasPrefix(c.API.URL, "https://") {
		return configErr("api.url", "invalid URL %q", c.API.URL)
	}
	if c.API.TimeoutSec <= 0 {
		return configErr("api.timeout_sec", "must be positive")
	}
	if c.API.OrderRetries < 1 {
		return configErr("api.order_retries", "must be at least 1")
	}
	if !c.API.DryRun && (c.API.PublicKey == "" || c.API.SecretKey == "") {
		return configErr("api.secret_key", "API keys are required unless dry_run is set")
	}
	if c.API.DryRun && c.API.PaperBalance <= 0 {
		return configErr("api.paper_balance", "must be positive in dry_run")
	}
	if c.Storage.Driver != "sqlite" && c.Storage.Driver != "mysql" {
		return configErr("storage.driver", "unsupported driver %q", c.Storage.Driver)
	}

	return c.Trade.Validate()
}

// Validate checks the trading thresholds.
func (t *TradeConfig) Validate() error {
	if len(t.Games) == 0 {
		return configErr("trade.games", "at least one game is required")
	}
	if t.Timers.PrevBase <= 0 || t.Timers.OrdersBase <= 0 || t.Timers.FillsBase <= 0 {
		return configErr("trade.timers", "all periods must be positive")
	}

	p := t.Prev
	if p.MinAvgPrice < 0 || p.MinAvgPrice > p.MaxAvgPrice {
		return configErr("trade.prev.min_avg_price", "must be within [0, max_avg_price]")
	}
	if p.HistorySize <= 0 {
		return configErr("trade.prev.history_size", "must be positive")
	}
	if p.DiscoveryLimit <= 0 {
		return configErr("trade.prev.discovery_limit", "must be positive")
	}

	b := t.Buy
	if b.MinPrice <= 0 || b.MinPrice > b.MaxPrice {
		return configErr("trade.buy.min_price", "must be within (0, max_price]")
	}
	percents := []struct {
		field string
		v     decimal.Decimal
	}{
		{"trade.buy.profit_percent", b.ProfitPercent},
		{"trade.buy.good_points_percent", b.GoodPointsPercent},
		{"trade.buy.boost_percent", b.BoostPercent},
		{"trade.buy.max_threshold", b.MaxThreshold},
		{"trade.buy.min_threshold", b.MinThreshold},
		{"trade.buy.sell_fee", b.SellFee},
		{"trade.sell.min_percent", t.Sell.MinPercent},
		{"trade.sell.max_percent", t.Sell.MaxPercent},
	}
	for _, pc := range percents {
		if pc.v.IsNegative() {
			return configErr(pc.field, "must not be negative")
		}
	}
	if b.GoodPointsPercent.GreaterThan(decimal.NewFromInt(100)) {
		return configErr("trade.buy.good_points_percent", "must not exceed 100")
	}
	if b.MinThreshold.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return configErr("trade.buy.min_threshold", "must be below 100")
	}
	if b.SellFee.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return configErr("trade.buy.sell_fee", "must be below 100")
	}
	if b.AllSales < 0 || b.SaleCount < 0 || b.DaysCount < 0 || b.LastSale < 0 || b.FirstSale < 0 || b.BoostPoints < 0 {
		return configErr("trade.buy", "counts and day windows must not be negative")
	}
	if b.MaxCountSellOffers <= 0 {
		return configErr("trade.buy.max_count_sell_offers", "must be positive")
	}
	if b.AvgPriceCount <= 0 {
		return configErr("trade.buy.avg_price_count", "must be positive")
	}
	if b.StopOrdersBalance < 0 {
		return configErr("trade.buy.stop_orders_balance", "must not be negative")
	}
	if t.Sell.MinPercent.GreaterThan(t.Sell.MaxPercent) {
		return configErr("trade.sell.min_percent", "must not exceed max_percent")
	}

	return nil
}

func configErr(field, format string, args ...any) error {
	return &domain.ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("DMARKET_PUBLIC_KEY"); key != "" {
		cfg.API.PublicKey = key
	}
	if secret := os.Getenv("DMARKET_SECRET_KEY"); secret != "" {
		cfg.API.SecretKey = secret
	}
	if dsn := os.Getenv("DMARKET_DB_DSN"); dsn != "" {
		cfg.Storage.DSN = dsn
	}
}
