package database

import (
	"errors"
	"time"

	"github.com/cafecursor/cafecursor/internal/cards"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationReconcileLikeCounts = "2025-05-01_reconcile_like_counts"
	migrationBackfillShareable   = "2025-05-02_backfill_shareable"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationReconcileLikeCounts, apply: reconcileLikeCounts},
		{name: migrationBackfillShareable, apply: backfillShareable},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := db.Transaction(migration.apply); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// reconcileLikeCounts rewrites every like_count from the like relations.
func reconcileLikeCounts(db *gorm.DB) error {
	return db.Exec(`UPDATE cards SET like_count = (SELECT COUNT(*) FROM card_likes WHERE card_likes.card_id = cards.id)`).Error
}

// backfillShareable marks cards that were stored complete before the shareable column existed.
func backfillShareable(db *gorm.DB) error {
	var stored []cards.Card
	if err := db.Where("shareable = ?", false).Find(&stored).Error; err != nil {
		return err
	}
	for _, card := range stored {
		if !cards.IsComplete(card.ImageURL, card.Profile) {
			continue
		}
		if err := db.Model(&cards.Card{}).Where("id = ?", card.ID).UpdateColumn("shareable", true).Error; err != nil {
			return err
		}
	}
	return nil
}
