package store

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/pkg/errors"
	"github.com/talkincode/wagateway/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormInstanceRepository persists Instance records, upserting by instance id.
type GormInstanceRepository struct {
	db  *gorm.DB
	ids *snowflake.Node
}

func NewGormInstanceRepository(db *gorm.DB, node *snowflake.Node) *GormInstanceRepository {
	return &GormInstanceRepository{db: db, ids: node}
}

// SaveStatus upserts the durable status. An empty phone keeps the stored number.
func (r *GormInstanceRepository) SaveStatus(ctx context.Context, instanceID string, status domain.InstanceStatus, phone string) error {
	now := time.Now()
	rec := domain.Instance{
		ID:          r.ids.Generate().Int64(),
		InstanceID:  instanceID,
		Status:      status,
		PhoneNumber: phone,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	cols := []string{"status", "updated_at"}
	if phone != "" {
		cols = append(cols, "phone_number")
	}
	if status == domain.StatusConnected {
		rec.LastSeen = &now
		cols = append(cols, "last_seen")
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "instance_id"}},
		DoUpdates: clause.AssignmentColumns(cols),
	}).Create(&rec).Error
	return errors.Wrapf(err, "save status %s for %s", status, instanceID)
}

// UpdateStatus changes the status of an existing record and reports whether
// one was found. Unknown instances are left absent.
func (r *GormInstanceRepository) UpdateStatus(ctx context.Context, instanceID string, status domain.InstanceStatus) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Instance{}).
		Where("instance_id = ?", instanceID).
		Updates(map[string]interface{}{"status": status, "updated_at": time.Now()})
	if res.Error != nil {
		return false, errors.Wrapf(res.Error, "update status %s for %s", status, instanceID)
	}
	return res.RowsAffected > 0, nil
}

// Get returns the durable record or ErrNotFound.
func (r *GormInstanceRepository) Get(ctx context.Context, instanceID string) (*domain.Instance, error) {
	var inst domain.Instance
	err := r.db.WithContext(ctx).Where("instance_id = ?", instanceID).First(&inst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load instance %s", instanceID)
	}
	return &inst, nil
}

// ListByStatus returns instances currently recorded in one of the given states.
func (r *GormInstanceRepository) ListByStatus(ctx context.Context, statuses ...domain.InstanceStatus) ([]domain.Instance, error) {
	var out []domain.Instance
	err := r.db.WithContext(ctx).Where("status IN ?", statuses).Order("id ASC").Find(&out).Error
	return out, errors.Wrap(err, "list instances by status")
}

// TouchLastSeen stamps last_seen for live instances.
func (r *GormInstanceRepository) TouchLastSeen(ctx context.Context, instanceIDs []string) error {
	if len(instanceIDs) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Model(&domain.Instance{}).
		Where("instance_id IN ?", instanceIDs).
		Update("last_seen", time.Now()).Error
	return errors.Wrap(err, "touch last_seen")
}
