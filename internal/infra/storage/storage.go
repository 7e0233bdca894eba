package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dmarket_go/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var _ domain.TradeStore = (*Storage)(nil)

// Storage persists item history and the trade journal.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens the database of the given driver (sqlite or mysql) and
// migrates the schema.
func NewStorage(driver, dsn string) (*Storage, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		if err := ensureDir(dsn); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
		// Pure Go SQLite
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, &domain.ConfigError{Field: "storage.driver", Err: fmt.Errorf("unsupported driver %q", driver)}
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto Migration
	if err := db.AutoMigrate(&domain.ItemSnapshot{}, &domain.TradeRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

func ensureDir(dsn string) error {
	if dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return nil
	}
	return os.MkdirAll(filepath.Dir(dsn), 0755)
}

// Close closes the underlying connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Item History
// ======================================================================================

// SaveItems replaces the stored history of a game.
func (s *Storage) SaveItems(game string, items []domain.ItemRecord) error {
	now := time.Now()
	rows := make([]domain.ItemSnapshot, 0, len(items))
	for _, it := range items {
		rows = append(rows, domain.ItemSnapshot{
			Title:     it.Title,
			Game:      game,
			Sales:     it.Sales,
			AvgPrice:  it.AvgPrice,
			UpdatedAt: now,
		})
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("game = ?", game).Delete(&domain.ItemSnapshot{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, 100).Error
	})
}

// LoadItems returns the stored history of a game.
func (s *Storage) LoadItems(game string) ([]domain.ItemRecord, error) {
	var rows []domain.ItemSnapshot
	if err := s.db.Where("game = ?", game).Order("title").Find(&rows).Error; err != nil {
		return nil, err
	}

	items := make([]domain.ItemRecord, 0, len(rows))
	for _, r := range rows {
		items = append(items, domain.ItemRecord{Title: r.Title, Game: r.Game, Sales: r.Sales, AvgPrice: r.AvgPrice})
	}
	return items, nil
}

// ======================================================================================
// Trade Journal
// ======================================================================================

// RecordPurchase journals a bought asset. An asset already journaled keeps
// its first record, which is returned.
func (s *Storage) RecordPurchase(f domain.Fill) (domain.TradeRecord, error) {
	var rec domain.TradeRecord
	err := s.db.
		Where(domain.TradeRecord{AssetID: f.AssetID}).
		Attrs(domain.TradeRecord{
			Title:    f.Title,
			Game:     f.Game,
			TargetID: f.Handle.ID,
			BuyPrice: f.Price,
			BuyTime:  f.At,
		}).
		FirstOrCreate(&rec).Error
	return rec, err
}

// RecordSale marks an asset as sold. Assets sold without a journaled
// purchase get a sale-only record.
func (s *Storage) RecordSale(f domain.Fill) error {
	at := f.At
	var rec domain.TradeRecord
	return s.db.
		Where(domain.TradeRecord{AssetID: f.AssetID}).
		Attrs(domain.TradeRecord{Title: f.Title, Game: f.Game}).
		Assign(domain.TradeRecord{OfferID: f.Handle.ID, SellPrice: f.Price, SellTime: &at}).
		FirstOrCreate(&rec).Error
}

// UnsoldTrades returns the bought assets of a game that are not sold yet.
func (s *Storage) UnsoldTrades(game string) ([]domain.TradeRecord, error) {
	var trades []domain.TradeRecord
	err := s.db.Where("game = ? AND sell_time IS NULL", game).Order("buy_time").Find(&trades).Error
	return trades, err
}
