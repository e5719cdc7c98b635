package db

import (
	"context"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"menu-remote/internal/model"
)

// openORM opens a GORM SQLite connection with sane defaults.
func openORM(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
}

// migrateORM ensures the schema for all models exists.
func migrateORM(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Connection{},
		&model.MenuItem{},
		&model.StatusEvent{},
		&model.ValueChange{},
		&model.AckRecord{},
		&model.LatestValue{},
	)
}

func closeORM(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func upsertConnection(ctx context.Context, db *gorm.DB, c *model.Connection) error {
	return db.WithContext(ctx).Save(c).Error
}

// upsertItems replaces the stored definitions of items by primary key.
func upsertItems(ctx context.Context, db *gorm.DB, items []model.MenuItem) error {
	if len(items) == 0 {
		return nil
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&items).Error
}

// insertValue appends to the value history and moves the latest value in
// the same transaction.
func insertValue(ctx context.Context, db *gorm.DB, v *model.ValueChange) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(v).Error; err != nil {
			return err
		}
		latest := model.LatestValue{
			Connection: v.Connection,
			ItemID:     v.ItemID,
			Name:       v.Name,
			Kind:       v.Kind,
			Value:      v.Value,
			Numeric:    v.Numeric,
			Timestamp:  v.Timestamp,
		}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&latest).Error
	})
}

func deleteConnection(ctx context.Context, db *gorm.DB, name string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range []any{&model.MenuItem{}, &model.LatestValue{}} {
			if err := tx.Where("connection = ?", name).Delete(m).Error; err != nil {
				return err
			}
		}
		return tx.Where("name = ?", name).Delete(&model.Connection{}).Error
	})
}
