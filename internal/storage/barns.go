package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"procodus.dev/barn-monitor/internal/model"
	"procodus.dev/barn-monitor/internal/monitoring"
)

// BarnDirectory implements monitoring.BarnDirectory over the barns table.
type BarnDirectory struct {
	db *gorm.DB
}

// NewBarnDirectory creates a new BarnDirectory.
func NewBarnDirectory(db *gorm.DB) *BarnDirectory {
	return &BarnDirectory{db: db}
}

// FindByID implements monitoring.BarnDirectory.
func (d *BarnDirectory) FindByID(ctx context.Context, id string) (*model.Barn, error) {
	return d.find(ctx, "id = ?", id)
}

// FindByCode implements monitoring.BarnDirectory.
func (d *BarnDirectory) FindByCode(ctx context.Context, code string) (*model.Barn, error) {
	return d.find(ctx, "code = ?", code)
}

func (d *BarnDirectory) find(ctx context.Context, cond, key string) (*model.Barn, error) {
	var b model.Barn
	if err := d.db.WithContext(ctx).Where(cond, key).First(&b).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, monitoring.ErrBarnNotFound
		}
		return nil, fmt.Errorf("failed to look up barn %s: %w", key, err)
	}
	return &b, nil
}

// Upsert inserts or replaces barns. The barn registry is owned elsewhere;
// this is used to seed development databases.
func (d *BarnDirectory) Upsert(ctx context.Context, barns ...model.Barn) error {
	if len(barns) == 0 {
		return nil
	}
	err := d.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"code", "farm_id", "name"}),
		}).
		Create(&barns).Error
	if err != nil {
		return fmt.Errorf("failed to upsert barns: %w", err)
	}
	return nil
}

var _ monitoring.BarnDirectory = (*BarnDirectory)(nil)
