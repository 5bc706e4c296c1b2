package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// BOM状态
const (
	BOMStatusDraft    = "draft"
	BOMStatusActive   = "active"
	BOMStatusObsolete = "obsolete"
)

// BOM 物料清单
type BOM struct {
	ID                string          `json:"id" gorm:"primaryKey;size:32"`
	Name              string          `json:"name" gorm:"size:128;not null;uniqueIndex"`
	Version           string          `json:"version" gorm:"size:16;not null;default:v1.0"`
	Status            string          `json:"status" gorm:"size:16;not null;default:draft"`
	FinishedProductID *string         `json:"finished_product_id,omitempty" gorm:"size:32;index"`
	Description       string          `json:"description,omitempty" gorm:"type:text"`
	OverheadCost      decimal.Decimal `json:"overhead_cost" gorm:"type:decimal(18,4);not null;default:0"`
	UnitCost          decimal.Decimal `json:"unit_cost" gorm:"type:decimal(18,4);not null;default:0"`
	LaborCost         decimal.Decimal `json:"labor_cost" gorm:"type:decimal(18,4);not null;default:0"`
	TotalCost         decimal.Decimal `json:"total_cost" gorm:"type:decimal(18,4);not null;default:0"`
	CostComputedAt    *time.Time      `json:"cost_computed_at,omitempty"`
	CreatedBy         string          `json:"created_by" gorm:"size:64"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`

	FinishedProduct *Item          `json:"finished_product,omitempty" gorm:"foreignKey:FinishedProductID"`
	Components      []BOMComponent `json:"components,omitempty" gorm:"foreignKey:BOMID"`
	Operations      []BOMOperation `json:"operations,omitempty" gorm:"foreignKey:BOMID"`
}

func (BOM) TableName() string {
	return "mrp_boms"
}

// BOMComponent BOM行项：物料或子BOM，二者只能取其一
type BOMComponent struct {
	ID          string          `json:"id" gorm:"primaryKey;size:32"`
	BOMID       string          `json:"bom_id" gorm:"size:32;not null;index"`
	ItemID      *string         `json:"item_id,omitempty" gorm:"size:32;index"`
	SubBOMID    *string         `json:"sub_bom_id,omitempty" gorm:"size:32;index"`
	Quantity    decimal.Decimal `json:"quantity" gorm:"type:decimal(18,4);not null"`
	WasteFactor decimal.Decimal `json:"waste_factor" gorm:"type:decimal(8,4);not null;default:0"`
	UnitCost    decimal.Decimal `json:"unit_cost" gorm:"type:decimal(18,4);not null;default:0"`
	TotalCost   decimal.Decimal `json:"total_cost" gorm:"type:decimal(18,4);not null;default:0"`
	SortOrder   int             `json:"sort_order" gorm:"default:0"`
	Notes       string          `json:"notes,omitempty" gorm:"type:text"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`

	Item   *Item `json:"item,omitempty" gorm:"foreignKey:ItemID"`
	SubBOM *BOM  `json:"sub_bom,omitempty" gorm:"foreignKey:SubBOMID"`
}

func (BOMComponent) TableName() string {
	return "mrp_bom_components"
}

// IsSubAssembly 是否子BOM行
func (c *BOMComponent) IsSubAssembly() bool {
	return c.SubBOMID != nil && *c.SubBOMID != ""
}

// BOMOperation 工序
type BOMOperation struct {
	ID                   string          `json:"id" gorm:"primaryKey;size:32"`
	BOMID                string          `json:"bom_id" gorm:"size:32;not null;index"`
	Name                 string          `json:"name" gorm:"size:128;not null"`
	SequenceNumber       int             `json:"sequence_number" gorm:"not null;default:0"`
	EstimatedTimeMinutes decimal.Decimal `json:"estimated_time_minutes" gorm:"type:decimal(12,2);not null;default:0"`
	LaborRate            decimal.Decimal `json:"labor_rate" gorm:"type:decimal(18,4);not null;default:0"` // 每小时
	SkillLevel           string          `json:"skill_level,omitempty" gorm:"size:32"`
	Description          string          `json:"description,omitempty" gorm:"type:text"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

func (BOMOperation) TableName() string {
	return "mrp_bom_operations"
}

var sixty = decimal.NewFromInt(60)

// LaborCost 工时成本 = 分钟/60 * 小时费率
func (o *BOMOperation) LaborCost() decimal.Decimal {
	return o.EstimatedTimeMinutes.Div(sixty).Mul(o.LaborRate)
}

// BOMGraphLockID 子BOM引用关系的全局锁行
const BOMGraphLockID = "bom_graph"

// BOMGraphLock 新增子BOM引用时先锁此行，串行化环路检查
type BOMGraphLock struct {
	ID        string    `gorm:"primaryKey;size:32"`
	CreatedAt time.Time
}

func (BOMGraphLock) TableName() string {
	return "mrp_bom_graph_locks"
}
