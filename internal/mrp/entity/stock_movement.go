package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// MovementType 台账流水类型
const (
	MovementIn         = "in"
	MovementOut        = "out"
	MovementAdjustment = "adjustment"
)

// ReferenceType 流水来源
const (
	RefRequisition     = "requisition"
	RefPurchaseOrder   = "purchase_order"
	RefProductionOrder = "production_order"
	RefAdjustment      = "adjustment"
	RefInitial         = "initial"
)

// ValidMovementType 判断流水类型
func ValidMovementType(t string) bool {
	return t == MovementIn || t == MovementOut || t == MovementAdjustment
}

// ValidReferenceType 判断来源类型
func ValidReferenceType(t string) bool {
	switch t {
	case RefRequisition, RefPurchaseOrder, RefProductionOrder, RefAdjustment, RefInitial:
		return true
	}
	return false
}

// StockMovement 库存流水（只追加，不修改不删除）
type StockMovement struct {
	ID              string          `json:"id" gorm:"primaryKey;size:32"`
	ItemID          string          `json:"item_id" gorm:"size:32;not null;index:idx_movement_item_time,priority:1;uniqueIndex:idx_movement_item_seq,priority:1"`
	Seq             int64           `json:"seq" gorm:"not null;uniqueIndex:idx_movement_item_seq,priority:2"` // 物料内递增
	Type            string          `json:"type" gorm:"size:16;not null"`
	Quantity        decimal.Decimal `json:"quantity" gorm:"type:decimal(18,4);not null"` // 数量绝对值
	Delta           decimal.Decimal `json:"delta" gorm:"type:decimal(18,4);not null"`    // 正=入，负=出
	BalanceAfter    decimal.Decimal `json:"balance_after" gorm:"type:decimal(18,4);not null"`
	UnitCost        decimal.Decimal `json:"unit_cost" gorm:"type:decimal(18,4);not null;default:0"`
	ReferenceType   string          `json:"reference_type" gorm:"size:32;not null;index:idx_movement_ref,priority:1"`
	ReferenceID     string          `json:"reference_id" gorm:"size:64;index:idx_movement_ref,priority:2"`
	ReferenceNumber string          `json:"reference_number" gorm:"size:50"`
	Notes           string          `json:"notes,omitempty" gorm:"type:text"`
	CreatedBy       string          `json:"created_by" gorm:"size:64;not null"`
	CreatedAt       time.Time       `json:"created_at" gorm:"index:idx_movement_item_time,priority:2"`

	Item *Item `json:"item,omitempty" gorm:"foreignKey:ItemID"`
}

func (StockMovement) TableName() string {
	return "mrp_stock_movements"
}
