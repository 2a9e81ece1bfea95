package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/talkincode/wagateway/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormCredentials keeps credential material in the application database.
type GormCredentials struct {
	db *gorm.DB
}

func NewGormCredentials(db *gorm.DB) *GormCredentials {
	return &GormCredentials{db: db}
}

func (r *GormCredentials) Save(ctx context.Context, instanceID string, material []byte) error {
	rec := domain.Credential{InstanceID: instanceID, Material: material, UpdatedAt: time.Now()}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "instance_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"material", "updated_at"}),
	}).Create(&rec).Error
	return errors.Wrapf(err, "save credential for %s", instanceID)
}

// Load returns nil material when nothing was ever saved.
func (r *GormCredentials) Load(ctx context.Context, instanceID string) ([]byte, error) {
	var rec domain.Credential
	err := r.db.WithContext(ctx).Where("instance_id = ?", instanceID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load credential for %s", instanceID)
	}
	return rec.Material, nil
}

func (r *GormCredentials) Delete(ctx context.Context, instanceID string) error {
	err := r.db.WithContext(ctx).Where("instance_id = ?", instanceID).Delete(&domain.Credential{}).Error
	return errors.Wrapf(err, "delete credential for %s", instanceID)
}
