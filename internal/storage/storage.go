// Package storage persists fills to a local sqlite database. Records are
// append-only audit rows; nothing in the trading path reads them back.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tanlooting/theta-engine/internal/broker"
)

// TradeRecord is one flattened fill row.
type TradeRecord struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	RunID        string `gorm:"index"`
	LocalSymbol  string `gorm:"index"`
	Symbol       string
	Strike       decimal.Decimal `gorm:"type:decimal(12,4)"`
	Right        string
	Expiry       string
	OrderID      int64 `gorm:"index"`
	Action       string
	OrderType    string
	Quantity     int
	Status       string
	FilledQty    int
	AvgFillPrice decimal.Decimal `gorm:"type:decimal(12,4)"`
	Remaining    int
	CreatedAt    time.Time
}

// Store wraps the sqlite handle.
type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// Open opens (creating if needed) the database at path and migrates the
// schema.
func Open(path string, log zerolog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating storage directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	if err := db.AutoMigrate(&TradeRecord{}); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return &Store{
		db:     db,
		logger: log.With().Str("component", "storage").Logger(),
	}, nil
}

// RecordFill persists one flattened trade. Persistence failures are logged
// and swallowed: losing an audit row must never interrupt trading.
func (s *Store) RecordFill(ctx context.Context, rec TradeRecord) {
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		s.logger.Error().Err(err).Str("local_symbol", rec.LocalSymbol).
			Int64("order_id", rec.OrderID).Msg("failed to persist fill")
		return
	}
	s.logger.Debug().Int64("order_id", rec.OrderID).Msg("fill persisted")
}

// FlattenTrade converts a registry snapshot into its persistence row.
func FlattenTrade(runID string, tr broker.Trade) TradeRecord {
	return TradeRecord{
		RunID:        runID,
		LocalSymbol:  tr.Contract.LocalSymbol,
		Symbol:       tr.Contract.Symbol,
		Strike:       decimal.NewFromFloat(tr.Contract.Strike),
		Right:        string(tr.Contract.Right),
		Expiry:       tr.Contract.Expiry,
		OrderID:      tr.Order.ID,
		Action:       string(tr.Order.Action),
		OrderType:    string(tr.Order.Kind),
		Quantity:     tr.Order.Quantity,
		Status:       string(tr.Status),
		FilledQty:    tr.Filled,
		AvgFillPrice: decimal.NewFromFloat(tr.AvgFillPrice),
		Remaining:    tr.Remaining,
	}
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
