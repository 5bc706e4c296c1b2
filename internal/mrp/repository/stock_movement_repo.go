package repository

import (
	"context"
	"time"

	"github.com/bitfantasy/nimo-mrp/internal/mrp/entity"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// MovementFilter 流水查询条件
type MovementFilter struct {
	ItemID        string
	ReferenceType string
	ReferenceID   string
	From          *time.Time
	To            *time.Time
}

// StockMovementRepository 库存流水仓库（只追加）
type StockMovementRepository struct {
	db *gorm.DB
}

func NewStockMovementRepository(db *gorm.DB) *StockMovementRepository {
	return &StockMovementRepository{db: db}
}

// WithTx 绑定到事务
func (r *StockMovementRepository) WithTx(tx *gorm.DB) *StockMovementRepository {
	return &StockMovementRepository{db: tx}
}

// Create 追加流水
func (r *StockMovementRepository) Create(ctx context.Context, m *entity.StockMovement) error {
	if m.ID == "" {
		m.ID = entity.NewID()
	}
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *StockMovementRepository) filtered(ctx context.Context, f MovementFilter) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&entity.StockMovement{})
	if f.ItemID != "" {
		query = query.Where("item_id = ?", f.ItemID)
	}
	if f.ReferenceType != "" {
		query = query.Where("reference_type = ?", f.ReferenceType)
	}
	if f.ReferenceID != "" {
		query = query.Where("reference_id = ?", f.ReferenceID)
	}
	if f.From != nil {
		query = query.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		query = query.Where("created_at <= ?", *f.To)
	}
	return query
}

// movementOrder 同一时刻写入的流水按物料内序号排序
const movementOrder = "created_at ASC, item_id ASC, seq ASC"

// FindAll 按时间正序分页查询流水
func (r *StockMovementRepository) FindAll(ctx context.Context, f MovementFilter, page, pageSize int) ([]entity.StockMovement, int64, error) {
	var items []entity.StockMovement
	var total int64

	query := r.filtered(ctx, f)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Preload("Item").
		Order(movementOrder).
		Offset(offsetOf(page, pageSize)).
		Limit(pageSize).
		Find(&items).Error

	return items, total, err
}

// FindAllUnpaged 导出用，不分页
func (r *StockMovementRepository) FindAllUnpaged(ctx context.Context, f MovementFilter) ([]entity.StockMovement, error) {
	var items []entity.StockMovement
	err := r.filtered(ctx, f).
		Preload("Item").
		Order(movementOrder).
		Find(&items).Error
	return items, err
}

// FindByReference 查询某单据产生的流水
func (r *StockMovementRepository) FindByReference(ctx context.Context, refType, refID string) ([]entity.StockMovement, error) {
	var items []entity.StockMovement
	err := r.db.WithContext(ctx).
		Where("reference_type = ? AND reference_id = ?", refType, refID).
		Order(movementOrder).
		Find(&items).Error
	return items, err
}

// SumDelta 物料全部流水的带符号合计
func (r *StockMovementRepository) SumDelta(ctx context.Context, itemID string) (decimal.Decimal, int64, error) {
	var deltas []decimal.Decimal
	err := r.db.WithContext(ctx).
		Model(&entity.StockMovement{}).
		Where("item_id = ?", itemID).
		Pluck("delta", &deltas).Error
	if err != nil {
		return decimal.Zero, 0, err
	}
	sum := decimal.Zero
	for _, d := range deltas {
		sum = sum.Add(d)
	}
	return sum, int64(len(deltas)), nil
}
