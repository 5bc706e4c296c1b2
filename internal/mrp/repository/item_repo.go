package repository

import (
	"context"
	"sort"

	"github.com/bitfantasy/nimo-mrp/internal/mrp/entity"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ItemRepository 物料仓库
type ItemRepository struct {
	db *gorm.DB
}

func NewItemRepository(db *gorm.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// WithTx 绑定到事务
func (r *ItemRepository) WithTx(tx *gorm.DB) *ItemRepository {
	return &ItemRepository{db: tx}
}

// FindAll 查询物料列表
func (r *ItemRepository) FindAll(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.Item, int64, error) {
	var items []entity.Item
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.Item{})

	if search := filters["search"]; search != "" {
		p := likePattern(search)
		query = query.Where("LOWER(name) LIKE ? OR LOWER(sku) LIKE ?", p, p)
	}
	if filters["low_stock"] == "true" {
		query = query.Where("min_quantity > 0 AND quantity < min_quantity")
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("sku ASC").
		Offset(offsetOf(page, pageSize)).
		Limit(pageSize).
		Find(&items).Error

	return items, total, err
}

// FindByID 根据ID查找物料
func (r *ItemRepository) FindByID(ctx context.Context, id string) (*entity.Item, error) {
	var item entity.Item
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&item).Error; err != nil {
		return nil, translate(err)
	}
	return &item, nil
}

// FindBySKU 根据SKU查找物料
func (r *ItemRepository) FindBySKU(ctx context.Context, sku string) (*entity.Item, error) {
	var item entity.Item
	if err := r.db.WithContext(ctx).Where("sku = ?", sku).First(&item).Error; err != nil {
		return nil, translate(err)
	}
	return &item, nil
}

// FindByIDs 批量查询，返回 id -> item
func (r *ItemRepository) FindByIDs(ctx context.Context, ids []string) (map[string]*entity.Item, error) {
	result := make(map[string]*entity.Item, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var items []entity.Item
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&items).Error; err != nil {
		return nil, err
	}
	for i := range items {
		result[items[i].ID] = &items[i]
	}
	return result, nil
}

// LockByID 行锁读取物料（SELECT ... FOR UPDATE）
func (r *ItemRepository) LockByID(ctx context.Context, id string) (*entity.Item, error) {
	var item entity.Item
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&item).Error
	if err != nil {
		return nil, translate(err)
	}
	return &item, nil
}

// LockByIDs 按ID排序依次加锁，避免死锁
func (r *ItemRepository) LockByIDs(ctx context.Context, ids []string) (map[string]*entity.Item, error) {
	sorted := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			sorted = append(sorted, id)
		}
	}
	sort.Strings(sorted)

	result := make(map[string]*entity.Item, len(sorted))
	for _, id := range sorted {
		item, err := r.LockByID(ctx, id)
		if err != nil {
			return nil, err
		}
		result[id] = item
	}
	return result, nil
}

// Create 创建物料（数量固定为0，期初库存走台账）
func (r *ItemRepository) Create(ctx context.Context, item *entity.Item) error {
	item.Quantity = decimal.Zero
	return translate(r.db.WithContext(ctx).Create(item).Error)
}

// UpdateFields 更新物料描述字段，不允许写 quantity
func (r *ItemRepository) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error {
	delete(fields, "quantity")
	delete(fields, "movement_seq")
	if len(fields) == 0 {
		return nil
	}
	res := r.db.WithContext(ctx).Model(&entity.Item{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return translate(res.Error)
	}
	return nil
}

// SetQuantity 写入库存缓存与流水序号，只能由台账调用
func (r *ItemRepository) SetQuantity(ctx context.Context, id string, qty decimal.Decimal, seq int64) error {
	return r.db.WithContext(ctx).Model(&entity.Item{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"quantity": qty, "movement_seq": seq}).Error
}

// Delete 删除物料
func (r *ItemRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&entity.Item{}).Error
}

// CountReferences 统计物料被引用次数（流水/BOM/生产/领料）
func (r *ItemRepository) CountReferences(ctx context.Context, id string) (int64, error) {
	db := r.db.WithContext(ctx)
	var total int64
	for _, m := range []interface{}{
		&entity.StockMovement{},
		&entity.BOMComponent{},
		&entity.ProductionOrderItem{},
		&entity.RequisitionItem{},
	} {
		var n int64
		if err := db.Model(m).Where("item_id = ?", id).Count(&n).Error; err != nil {
			return 0, err
		}
		total += n
	}
	var n int64
	if err := db.Model(&entity.BOM{}).Where("finished_product_id = ?", id).Count(&n).Error; err != nil {
		return 0, err
	}
	return total + n, nil
}

// FindLowStock 低库存物料
func (r *ItemRepository) FindLowStock(ctx context.Context) ([]entity.Item, error) {
	var items []entity.Item
	err := r.db.WithContext(ctx).
		Where("min_quantity > 0 AND quantity < min_quantity").
		Order("sku ASC").
		Find(&items).Error
	return items, err
}
