package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-mrp/internal/mrp/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProductionOrderRepository 生产订单仓库
type ProductionOrderRepository struct {
	db *gorm.DB
}

func NewProductionOrderRepository(db *gorm.DB) *ProductionOrderRepository {
	return &ProductionOrderRepository{db: db}
}

// WithTx 绑定到事务
func (r *ProductionOrderRepository) WithTx(tx *gorm.DB) *ProductionOrderRepository {
	return &ProductionOrderRepository{db: tx}
}

// FindAll 查询生产订单列表
func (r *ProductionOrderRepository) FindAll(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.ProductionOrder, int64, error) {
	var items []entity.ProductionOrder
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.ProductionOrder{})

	if status := filters["status"]; status != "" {
		query = query.Where("status = ?", status)
	}
	if bomID := filters["bom_id"]; bomID != "" {
		query = query.Where("bom_id = ?", bomID)
	}
	if search := filters["search"]; search != "" {
		p := likePattern(search)
		query = query.Where("LOWER(title) LIKE ? OR LOWER(order_number) LIKE ?", p, p)
	}

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

// FindByID 根据ID查找生产订单（含明细）
func (r *ProductionOrderRepository) FindByID(ctx context.Context, id string) (*entity.ProductionOrder, error) {
	var order entity.ProductionOrder
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("sort_order ASC")
		}).
		Preload("Operations", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence_number ASC")
		}).
		Preload("Issues", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Preload("Completions", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, translate(err)
	}
	return &order, nil
}

// LockByID 行锁读取订单表头
func (r *ProductionOrderRepository) LockByID(ctx context.Context, id string) (*entity.ProductionOrder, error) {
	var order entity.ProductionOrder
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, translate(err)
	}
	return &order, nil
}

// Create 创建订单（连同物料需求与工序）
func (r *ProductionOrderRepository) Create(ctx context.Context, order *entity.ProductionOrder) error {
	return translate(r.db.WithContext(ctx).Create(order).Error)
}

// UpdateFields 更新订单表头字段
func (r *ProductionOrderRepository) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&entity.ProductionOrder{}).Where("id = ?", id).Updates(fields).Error
}

// Delete 删除订单及全部明细
func (r *ProductionOrderRepository) Delete(ctx context.Context, id string) error {
	db := r.db.WithContext(ctx)
	for _, m := range []interface{}{
		&entity.ProductionOrderItem{},
		&entity.ProductionOrderOperation{},
		&entity.ProductionOrderIssue{},
		&entity.ProductionOrderCompletion{},
	} {
		if err := db.Where("production_order_id = ?", id).Delete(m).Error; err != nil {
			return err
		}
	}
	return db.Where("id = ?", id).Delete(&entity.ProductionOrder{}).Error
}

// FindItems 订单物料需求
func (r *ProductionOrderRepository) FindItems(ctx context.Context, orderID string) ([]entity.ProductionOrderItem, error) {
	var items []entity.ProductionOrderItem
	err := r.db.WithContext(ctx).
		Where("production_order_id = ?", orderID).
		Order("sort_order ASC").
		Find(&items).Error
	return items, err
}

// UpdateItemIssued 写入已发数量
func (r *ProductionOrderRepository) UpdateItemIssued(ctx context.Context, item *entity.ProductionOrderItem) error {
	return r.db.WithContext(ctx).Model(&entity.ProductionOrderItem{}).
		Where("id = ?", item.ID).
		Update("issued_quantity", item.IssuedQuantity).Error
}

// CreateIssue 追加发料记录
func (r *ProductionOrderRepository) CreateIssue(ctx context.Context, issue *entity.ProductionOrderIssue) error {
	if issue.ID == "" {
		issue.ID = entity.NewID()
	}
	return r.db.WithContext(ctx).Create(issue).Error
}

// CreateCompletion 追加完工记录
func (r *ProductionOrderRepository) CreateCompletion(ctx context.Context, c *entity.ProductionOrderCompletion) error {
	if c.ID == "" {
		c.ID = entity.NewID()
	}
	return r.db.WithContext(ctx).Create(c).Error
}

// FindOperation 根据ID取订单工序
func (r *ProductionOrderRepository) FindOperation(ctx context.Context, opID string) (*entity.ProductionOrderOperation, error) {
	var op entity.ProductionOrderOperation
	if err := r.db.WithContext(ctx).Where("id = ?", opID).First(&op).Error; err != nil {
		return nil, translate(err)
	}
	return &op, nil
}

// UpdateOperation 更新订单工序
func (r *ProductionOrderRepository) UpdateOperation(ctx context.Context, op *entity.ProductionOrderOperation) error {
	return r.db.WithContext(ctx).Save(op).Error
}

// GenerateCode 生成订单编号 MO-{year}-{序号}
func (r *ProductionOrderRepository) GenerateCode(ctx context.Context) (string, error) {
	prefix := fmt.Sprintf("MO-%s-", time.Now().Format("2006"))
	return nextCode(ctx, r.db, &entity.ProductionOrder{}, "order_number", prefix)
}
