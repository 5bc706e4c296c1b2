package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-mrp/internal/mrp/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RequisitionRepository 领料单仓库
type RequisitionRepository struct {
	db *gorm.DB
}

func NewRequisitionRepository(db *gorm.DB) *RequisitionRepository {
	return &RequisitionRepository{db: db}
}

// WithTx 绑定到事务
func (r *RequisitionRepository) WithTx(tx *gorm.DB) *RequisitionRepository {
	return &RequisitionRepository{db: tx}
}

// FindAll 查询领料单列表
func (r *RequisitionRepository) FindAll(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.Requisition, int64, error) {
	var items []entity.Requisition
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.Requisition{})

	if status := filters["status"]; status != "" {
		query = query.Where("status = ?", status)
	}
	if dept := filters["department"]; dept != "" {
		query = query.Where("department = ?", dept)
	}
	if requestedBy := filters["requested_by"]; requestedBy != "" {
		query = query.Where("requested_by = ?", requestedBy)
	}
	if search := filters["search"]; search != "" {
		p := likePattern(search)
		query = query.Where("LOWER(title) LIKE ? OR LOWER(requisition_number) LIKE ?", p, p)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Preload("Items").
		Order("created_at DESC").
		Offset(offsetOf(page, pageSize)).
		Limit(pageSize).
		Find(&items).Error

	return items, total, err
}

// FindByID 根据ID查找领料单（含行项）
func (r *RequisitionRepository) FindByID(ctx context.Context, id string) (*entity.Requisition, error) {
	var req entity.Requisition
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("sort_order ASC")
		}).
		Preload("Items.Item").
		Where("id = ?", id).
		First(&req).Error
	if err != nil {
		return nil, translate(err)
	}
	return &req, nil
}

// LockByID 行锁读取领料单（行项不加锁，随表头串行化）
func (r *RequisitionRepository) LockByID(ctx context.Context, id string) (*entity.Requisition, error) {
	var req entity.Requisition
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&req).Error
	if err != nil {
		return nil, translate(err)
	}
	if err := r.db.WithContext(ctx).
		Where("requisition_id = ?", id).
		Order("sort_order ASC").
		Find(&req.Items).Error; err != nil {
		return nil, err
	}
	return &req, nil
}

// Create 创建领料单（连同行项）
func (r *RequisitionRepository) Create(ctx context.Context, req *entity.Requisition) error {
	return translate(r.db.WithContext(ctx).Create(req).Error)
}

// UpdateFields 更新领料单表头字段
func (r *RequisitionRepository) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&entity.Requisition{}).Where("id = ?", id).Updates(fields).Error
}

// UpdateItem 更新行项数量与状态
func (r *RequisitionRepository) UpdateItem(ctx context.Context, item *entity.RequisitionItem) error {
	return r.db.WithContext(ctx).Model(&entity.RequisitionItem{}).Where("id = ?", item.ID).Updates(map[string]interface{}{
		"quantity":          item.Quantity,
		"approved_quantity": item.ApprovedQuantity,
		"rejected_quantity": item.RejectedQuantity,
		"issued_quantity":   item.IssuedQuantity,
		"status":            item.Status,
		"notes":             item.Notes,
		"sort_order":        item.SortOrder,
	}).Error
}

// ReplaceItems 用新行项整体替换
func (r *RequisitionRepository) ReplaceItems(ctx context.Context, reqID string, items []entity.RequisitionItem) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("requisition_id = ?", reqID).Delete(&entity.RequisitionItem{}).Error; err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	for i := range items {
		items[i].RequisitionID = reqID
		if items[i].ID == "" {
			items[i].ID = entity.NewID()
		}
	}
	return db.Omit(clause.Associations).Create(&items).Error
}

// Delete 删除领料单及行项
func (r *RequisitionRepository) Delete(ctx context.Context, id string) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("requisition_id = ?", id).Delete(&entity.RequisitionItem{}).Error; err != nil {
		return err
	}
	return db.Where("id = ?", id).Delete(&entity.Requisition{}).Error
}

// GenerateCode 生成领料单号 REQ-{year}-{序号}
func (r *RequisitionRepository) GenerateCode(ctx context.Context) (string, error) {
	prefix := fmt.Sprintf("REQ-%s-", time.Now().Format("2006"))
	return nextCode(ctx, r.db, &entity.Requisition{}, "requisition_number", prefix)
}
