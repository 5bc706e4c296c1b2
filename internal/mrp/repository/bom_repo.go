package repository

import (
	"context"
	"time"

	"github.com/bitfantasy/nimo-mrp/internal/mrp/entity"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BOMRepository BOM仓库
type BOMRepository struct {
	db *gorm.DB
}

func NewBOMRepository(db *gorm.DB) *BOMRepository {
	return &BOMRepository{db: db}
}

// WithTx 绑定到事务
func (r *BOMRepository) WithTx(tx *gorm.DB) *BOMRepository {
	return &BOMRepository{db: tx}
}

// FindAll 查询BOM列表
func (r *BOMRepository) FindAll(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.BOM, int64, error) {
	var items []entity.BOM
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.BOM{})

	if status := filters["status"]; status != "" {
		query = query.Where("status = ?", status)
	}
	if productID := filters["finished_product_id"]; productID != "" {
		query = query.Where("finished_product_id = ?", productID)
	}
	if search := filters["search"]; search != "" {
		query = query.Where("LOWER(name) LIKE ?", likePattern(search))
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

// FindByID 根据ID查找BOM（含行项、工序）
func (r *BOMRepository) FindByID(ctx context.Context, id string) (*entity.BOM, error) {
	var bom entity.BOM
	err := r.db.WithContext(ctx).
		Preload("FinishedProduct").
		Preload("Components", func(db *gorm.DB) *gorm.DB {
			return db.Order("sort_order ASC, created_at ASC")
		}).
		Preload("Components.Item").
		Preload("Operations", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence_number ASC")
		}).
		Where("id = ?", id).
		First(&bom).Error
	if err != nil {
		return nil, translate(err)
	}
	return &bom, nil
}

// FindHeader 只取BOM表头
func (r *BOMRepository) FindHeader(ctx context.Context, id string) (*entity.BOM, error) {
	var bom entity.BOM
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&bom).Error; err != nil {
		return nil, translate(err)
	}
	return &bom, nil
}

// LockByID 行锁读取BOM表头
func (r *BOMRepository) LockByID(ctx context.Context, id string) (*entity.BOM, error) {
	var bom entity.BOM
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&bom).Error
	if err != nil {
		return nil, translate(err)
	}
	return &bom, nil
}

// LockGraph 锁定BOM引用关系，锁行不存在时先插入
func (r *BOMRepository) LockGraph(ctx context.Context) error {
	lock := entity.BOMGraphLock{ID: entity.BOMGraphLockID, CreatedAt: time.Now()}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&lock).Error
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", entity.BOMGraphLockID).
		First(&lock).Error
}

// ExistsByName 名称是否已被占用
func (r *BOMRepository) ExistsByName(ctx context.Context, name, excludeID string) (bool, error) {
	var n int64
	query := r.db.WithContext(ctx).Model(&entity.BOM{}).Where("name = ?", name)
	if excludeID != "" {
		query = query.Where("id <> ?", excludeID)
	}
	if err := query.Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// Create 创建BOM（连同行项、工序）
func (r *BOMRepository) Create(ctx context.Context, bom *entity.BOM) error {
	return translate(r.db.WithContext(ctx).Create(bom).Error)
}

// UpdateFields 更新BOM表头字段
func (r *BOMRepository) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	return translate(r.db.WithContext(ctx).Model(&entity.BOM{}).Where("id = ?", id).Updates(fields).Error)
}

// SaveCost 持久化成本汇总
func (r *BOMRepository) SaveCost(ctx context.Context, id string, unit, labor, total decimal.Decimal, at time.Time) error {
	return r.db.WithContext(ctx).Model(&entity.BOM{}).Where("id = ?", id).Updates(map[string]interface{}{
		"unit_cost":        unit,
		"labor_cost":       labor,
		"total_cost":       total,
		"cost_computed_at": at,
	}).Error
}

// SaveComponentCost 持久化行项成本快照
func (r *BOMRepository) SaveComponentCost(ctx context.Context, componentID string, unit, total decimal.Decimal) error {
	return r.db.WithContext(ctx).Model(&entity.BOMComponent{}).Where("id = ?", componentID).Updates(map[string]interface{}{
		"unit_cost":  unit,
		"total_cost": total,
	}).Error
}

// Delete 删除BOM及其行项、工序
func (r *BOMRepository) Delete(ctx context.Context, id string) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("bom_id = ?", id).Delete(&entity.BOMComponent{}).Error; err != nil {
		return err
	}
	if err := db.Where("bom_id = ?", id).Delete(&entity.BOMOperation{}).Error; err != nil {
		return err
	}
	return db.Where("id = ?", id).Delete(&entity.BOM{}).Error
}

// === 行项 ===

// FindComponents 取BOM行项（不含预加载）
func (r *BOMRepository) FindComponents(ctx context.Context, bomID string) ([]entity.BOMComponent, error) {
	var items []entity.BOMComponent
	err := r.db.WithContext(ctx).
		Where("bom_id = ?", bomID).
		Order("sort_order ASC, created_at ASC").
		Find(&items).Error
	return items, err
}

// FindComponent 根据ID取行项
func (r *BOMRepository) FindComponent(ctx context.Context, bomID, componentID string) (*entity.BOMComponent, error) {
	var c entity.BOMComponent
	err := r.db.WithContext(ctx).Where("id = ? AND bom_id = ?", componentID, bomID).First(&c).Error
	if err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

// CreateComponent 新增行项
func (r *BOMRepository) CreateComponent(ctx context.Context, c *entity.BOMComponent) error {
	if c.ID == "" {
		c.ID = entity.NewID()
	}
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(c).Error
}

// UpdateComponent 更新行项
func (r *BOMRepository) UpdateComponent(ctx context.Context, c *entity.BOMComponent) error {
	return r.db.WithContext(ctx).Omit(clause.Associations).Save(c).Error
}

// DeleteComponent 删除行项
func (r *BOMRepository) DeleteComponent(ctx context.Context, componentID string) error {
	return r.db.WithContext(ctx).Where("id = ?", componentID).Delete(&entity.BOMComponent{}).Error
}

// MaxComponentSort 当前最大排序号
func (r *BOMRepository) MaxComponentSort(ctx context.Context, bomID string) (int, error) {
	var max int
	err := r.db.WithContext(ctx).Model(&entity.BOMComponent{}).
		Select("COALESCE(MAX(sort_order), 0)").
		Where("bom_id = ?", bomID).
		Scan(&max).Error
	return max, err
}

// FindSubBOMIDs 直接子BOM
func (r *BOMRepository) FindSubBOMIDs(ctx context.Context, bomID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&entity.BOMComponent{}).
		Where("bom_id = ? AND sub_bom_id IS NOT NULL AND sub_bom_id <> ''", bomID).
		Distinct().
		Pluck("sub_bom_id", &ids).Error
	return ids, err
}

// FindParentIDs 直接引用该BOM的父BOM
func (r *BOMRepository) FindParentIDs(ctx context.Context, bomID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&entity.BOMComponent{}).
		Where("sub_bom_id = ?", bomID).
		Distinct().
		Pluck("bom_id", &ids).Error
	return ids, err
}

// FindIDsByItem 直接引用该物料的BOM
func (r *BOMRepository) FindIDsByItem(ctx context.Context, itemID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&entity.BOMComponent{}).
		Where("item_id = ?", itemID).
		Distinct().
		Pluck("bom_id", &ids).Error
	return ids, err
}

// CountProductionOrders 引用该BOM的生产订单数
func (r *BOMRepository) CountProductionOrders(ctx context.Context, bomID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&entity.ProductionOrder{}).Where("bom_id = ?", bomID).Count(&n).Error
	return n, err
}

// === 工序 ===

// FindOperations 取BOM工序
func (r *BOMRepository) FindOperations(ctx context.Context, bomID string) ([]entity.BOMOperation, error) {
	var ops []entity.BOMOperation
	err := r.db.WithContext(ctx).
		Where("bom_id = ?", bomID).
		Order("sequence_number ASC").
		Find(&ops).Error
	return ops, err
}

// FindOperation 根据ID取工序
func (r *BOMRepository) FindOperation(ctx context.Context, bomID, opID string) (*entity.BOMOperation, error) {
	var op entity.BOMOperation
	if err := r.db.WithContext(ctx).Where("id = ? AND bom_id = ?", opID, bomID).First(&op).Error; err != nil {
		return nil, translate(err)
	}
	return &op, nil
}

// CreateOperation 新增工序
func (r *BOMRepository) CreateOperation(ctx context.Context, op *entity.BOMOperation) error {
	if op.ID == "" {
		op.ID = entity.NewID()
	}
	return r.db.WithContext(ctx).Create(op).Error
}

// UpdateOperation 更新工序
func (r *BOMRepository) UpdateOperation(ctx context.Context, op *entity.BOMOperation) error {
	return r.db.WithContext(ctx).Save(op).Error
}

// DeleteOperation 删除工序
func (r *BOMRepository) DeleteOperation(ctx context.Context, opID string) error {
	return r.db.WithContext(ctx).Where("id = ?", opID).Delete(&entity.BOMOperation{}).Error
}
