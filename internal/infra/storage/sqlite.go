package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"trade_go/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Storage persists the price list and purchase history in SQLite.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the database at path. An empty path selects
// the per-user default location.
func NewStorage(path string) (*Storage, error) {
	if path == "" {
		var err error
		if path, err = getDBPath(); err != nil {
			return nil, fmt.Errorf("failed to resolve DB path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return newStorage(db)
}

func newStorage(db *gorm.DB) (*Storage, error) {
	if err := db.AutoMigrate(&domain.PriceEntry{}, &domain.PurchaseRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Storage{db: db}, nil
}

// getDBPath resolves the database file path based on OS
func getDBPath() (string, error) {
	var configDir string
	var err error

	if runtime.GOOS == "windows" {
		configDir = os.Getenv("LOCALAPPDATA")
		if configDir == "" {
			configDir, err = os.UserConfigDir()
		}
	} else {
		configDir, err = os.UserConfigDir()
	}

	if err != nil {
		return "", err
	}

	return filepath.Join(configDir, "TradeGo", "data", "tradebot.db"), nil
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Price Operations
// ======================================================================================

// UpsertPrice creates or replaces the price list entry for entry.SKU.
func (s *Storage) UpsertPrice(ctx context.Context, entry *domain.PriceEntry) error {
	return s.db.WithContext(ctx).Save(entry).Error
}

// GetPrice returns the entry for sku or domain.ErrPriceNotFound.
func (s *Storage) GetPrice(ctx context.Context, sku string) (*domain.PriceEntry, error) {
	var entry domain.PriceEntry
	err := s.db.WithContext(ctx).First(&entry, "sku = ?", sku).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s: %w", sku, domain.ErrPriceNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// FindPriceByName returns the entry whose display name is name.
func (s *Storage) FindPriceByName(ctx context.Context, name string) (*domain.PriceEntry, error) {
	var entry domain.PriceEntry
	err := s.db.WithContext(ctx).First(&entry, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s: %w", name, domain.ErrPriceNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// DeletePrice removes the entry for sku.
func (s *Storage) DeletePrice(ctx context.Context, sku string) error {
	return s.db.WithContext(ctx).Where("sku = ?", sku).Delete(&domain.PriceEntry{}).Error
}

// ======================================================================================
// Purchase History Operations
// ======================================================================================

// SaveRecords inserts records, replacing existing ones for the same instance.
func (s *Storage) SaveRecords(ctx context.Context, records []domain.PurchaseRecord) error {
	if len(records) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "instance_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"sku", "name", "price_keys", "price_metal", "purchased_at"}),
	}).Create(&records).Error
}

// GetRecords returns the records of the given instances keyed by instance id.
func (s *Storage) GetRecords(ctx context.Context, instanceIDs []string) (map[string]domain.PurchaseRecord, error) {
	result := make(map[string]domain.PurchaseRecord, len(instanceIDs))
	if len(instanceIDs) == 0 {
		return result, nil
	}

	var records []domain.PurchaseRecord
	if err := s.db.WithContext(ctx).Where("instance_id IN ?", instanceIDs).Find(&records).Error; err != nil {
		return nil, err
	}
	for _, r := range records {
		result[r.InstanceID] = r
	}
	return result, nil
}

// DeleteRecords removes the records of the given instances.
func (s *Storage) DeleteRecords(ctx context.Context, instanceIDs []string) error {
	if len(instanceIDs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Where("instance_id IN ?", instanceIDs).Delete(&domain.PurchaseRecord{}).Error
}

// RekeyRecords moves records to the instance ids the platform assigned after
// an exchange. moves maps old id to new id.
func (s *Storage) RekeyRecords(ctx context.Context, moves map[string]string) error {
	if len(moves) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for oldID, newID := range moves {
			err := tx.Model(&domain.PurchaseRecord{}).
				Where("instance_id = ?", oldID).
				Update("instance_id", newID).Error
			if err != nil {
				return fmt.Errorf("rekey %s: %w", oldID, err)
			}
		}
		return nil
	})
}

// PruneRecords deletes records purchased before cutoff and returns how many were removed.
func (s *Storage) PruneRecords(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("purchased_at < ?", cutoff).Delete(&domain.PurchaseRecord{})
	return res.RowsAffected, res.Error
}
