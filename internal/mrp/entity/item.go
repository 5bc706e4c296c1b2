package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Item 物料，quantity 是台账的派生缓存，只能由台账写入
type Item struct {
	ID                string          `json:"id" gorm:"primaryKey;size:32"`
	Name              string          `json:"name" gorm:"size:128;not null"`
	SKU               string          `json:"sku" gorm:"size:64;not null;uniqueIndex"`
	Description       string          `json:"description,omitempty" gorm:"type:text"`
	Unit              string          `json:"unit" gorm:"size:20;not null;default:pcs"`
	Quantity          decimal.Decimal `json:"quantity" gorm:"type:decimal(18,4);not null;default:0"`
	UnitPrice         decimal.Decimal `json:"unit_price" gorm:"type:decimal(18,4);not null;default:0"`
	LastPurchasePrice decimal.Decimal `json:"last_purchase_price" gorm:"type:decimal(18,4);not null;default:0"`
	AveragePrice      decimal.Decimal `json:"average_price" gorm:"type:decimal(18,4);not null;default:0"`
	MinQuantity       decimal.Decimal `json:"min_quantity" gorm:"type:decimal(18,4);not null;default:0"`
	MaxQuantity       decimal.Decimal `json:"max_quantity" gorm:"type:decimal(18,4);not null;default:0"`
	MovementSeq       int64           `json:"-" gorm:"not null;default:0"` // 最后一条流水的序号
	CreatedBy         string          `json:"created_by" gorm:"size:64"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (Item) TableName() string {
	return "mrp_items"
}

// 价格基准
const (
	PriceBasisUnit         = "unit_price"
	PriceBasisLastPurchase = "last_purchase_price"
	PriceBasisAverage      = "average_price"
)

// ValidPriceBasis 判断价格基准是否合法
func ValidPriceBasis(basis string) bool {
	switch basis {
	case PriceBasisUnit, PriceBasisLastPurchase, PriceBasisAverage:
		return true
	}
	return false
}

// PriceFor 按价格基准取价
func (i *Item) PriceFor(basis string) decimal.Decimal {
	switch basis {
	case PriceBasisLastPurchase:
		return i.LastPurchasePrice
	case PriceBasisAverage:
		return i.AveragePrice
	default:
		return i.UnitPrice
	}
}

// IsLowStock 低于最小库存
func (i *Item) IsLowStock() bool {
	return i.MinQuantity.IsPositive() && i.Quantity.LessThan(i.MinQuantity)
}
