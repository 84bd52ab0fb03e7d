// Package storage persists emitted events and closed performance reports in SQLite.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"stealth_twap/internal/analytics"
	"stealth_twap/internal/event"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// EventRecord is one journaled event. Payload is the event as JSON.
type EventRecord struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	Type      string    `gorm:"index;not null"`
	Key       string    `gorm:"column:event_key;index;not null"`
	Payload   string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

// ReportRecord is the archived performance report of a completed order.
type ReportRecord struct {
	OrderID          string `gorm:"primaryKey"`
	Owner            string `gorm:"index"`
	Asset            uint32
	TotalSize        int64
	ExecutedSize     int64
	AveragePrice     int64
	TotalSlippageBps int64
	AvgCostBps       int64
	Score            int64
	Slices           int
	Alerts           int
	StartTime        time.Time
	EndTime          time.Time
	UpdatedAt        time.Time
}

// Journal is an append-only event log plus a report archive. It implements event.Sink.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewJournal opens (and creates) the SQLite database at path in WAL mode.
func NewJournal(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	j := &Journal{db: db, logger: slog.Default().With("module", "journal")}
	if err := j.setup(); err != nil {
		j.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) setup() error {
	// One connection: SQLite has a single writer and batch passes publish concurrently.
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if err := j.db.Exec(pragma).Error; err != nil {
			return fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	if err := j.db.AutoMigrate(&EventRecord{}, &ReportRecord{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Events
// ======================================================================================

// Append stores one event.
func (j *Journal) Append(ctx context.Context, ev event.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	rec := EventRecord{
		Type:      ev.GetType().String(),
		Key:       ev.Key(),
		Payload:   string(payload),
		CreatedAt: time.Now(),
	}
	if err := j.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// Publish journals ev. Failures are logged; a sink never blocks the engine.
func (j *Journal) Publish(ev event.Event) {
	if err := j.Append(context.Background(), ev); err != nil {
		j.logger.Error("Failed to journal event",
			slog.String("type", ev.GetType().String()),
			slog.Any("error", err))
	}
}

// EventsFor returns the events of key (an order or batch id) in append order.
func (j *Journal) EventsFor(ctx context.Context, key string) ([]EventRecord, error) {
	var recs []EventRecord
	err := j.db.WithContext(ctx).Where("event_key = ?", key).Order("id ASC").Find(&recs).Error
	return recs, err
}

// LastEventID returns the highest event id, 0 when empty.
func (j *Journal) LastEventID(ctx context.Context) (uint64, error) {
	var rec EventRecord
	err := j.db.WithContext(ctx).Order("id DESC").First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	return rec.ID, err
}

// ======================================================================================
// Reports
// ======================================================================================

// SaveReport creates or replaces the archived report of rep's order.
func (j *Journal) SaveReport(ctx context.Context, rep analytics.OrderReport) error {
	rec := ReportRecord{
		OrderID:          rep.OrderID.Hex(),
		Owner:            rep.Owner.Hex(),
		Asset:            rep.Asset,
		TotalSize:        rep.TotalSize,
		ExecutedSize:     rep.ExecutedSize,
		AveragePrice:     int64(rep.AveragePrice),
		TotalSlippageBps: int64(rep.TotalSlippageBps),
		AvgCostBps:       int64(rep.AvgCostBps),
		Score:            int64(rep.Score),
		Slices:           len(rep.Executions),
		Alerts:           len(rep.Alerts),
		StartTime:        rep.StartTime,
		EndTime:          rep.EndTime,
	}
	return j.db.WithContext(ctx).Save(&rec).Error
}

// GetReport returns the archived report of orderID, or nil when absent.
func (j *Journal) GetReport(ctx context.Context, orderID string) (*ReportRecord, error) {
	var rec ReportRecord
	err := j.db.WithContext(ctx).First(&rec, "order_id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil // Not found is not an error
	}
	return &rec, err
}

// ReportsForOwner returns the owner's archived reports, newest first.
func (j *Journal) ReportsForOwner(ctx context.Context, owner string) ([]ReportRecord, error) {
	var recs []ReportRecord
	err := j.db.WithContext(ctx).Where("owner = ?", owner).Order("end_time DESC").Find(&recs).Error
	return recs, err
}
