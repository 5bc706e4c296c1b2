package repository

import (
	"context"
	"encoding/json"

	"github.com/bitfantasy/nimo-mrp/internal/mrp/entity"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditLogRepository 审计日志仓库（只追加）
type AuditLogRepository struct {
	db *gorm.DB
}

func NewAuditLogRepository(db *gorm.DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

// Create 写入审计日志
func (r *AuditLogRepository) Create(ctx context.Context, log *entity.AuditLog) error {
	if log.ID == "" {
		log.ID = entity.NewID()
	}
	return r.db.WithContext(ctx).Create(log).Error
}

// Record 记录一次实体变更，before/after 序列化为JSON
func (r *AuditLogRepository) Record(ctx context.Context, entityType, entityID, verb string, before, after interface{}, actorID string) error {
	log := &entity.AuditLog{
		EntityType: entityType,
		EntityID:   entityID,
		Verb:       verb,
		ActorID:    actorID,
	}
	var err error
	if log.Before, err = toJSON(before); err != nil {
		return err
	}
	if log.After, err = toJSON(after); err != nil {
		return err
	}
	return r.Create(ctx, log)
}

// FindByEntity 查询某实体的审计日志
func (r *AuditLogRepository) FindByEntity(ctx context.Context, entityType, entityID string, page, pageSize int) ([]entity.AuditLog, int64, error) {
	var items []entity.AuditLog
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.AuditLog{}).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Offset(offsetOf(page, pageSize)).
		Limit(pageSize).
		Find(&items).Error

	return items, total, err
}

func toJSON(v interface{}) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}
