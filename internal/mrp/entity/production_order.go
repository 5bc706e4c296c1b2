package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductionOrderStatus 生产订单状态
const (
	POStatusDraft      = "draft"
	POStatusPlanned    = "planned"
	POStatusInProgress = "in_progress"
	POStatusCompleted  = "completed"
	POStatusCancelled  = "cancelled"
)

// ValidProductionTransitions 合法的生产订单状态流转
var ValidProductionTransitions = map[string][]string{
	POStatusDraft:      {POStatusPlanned, POStatusCancelled},
	POStatusPlanned:    {POStatusInProgress, POStatusCancelled},
	POStatusInProgress: {POStatusCompleted, POStatusCancelled},
	POStatusCompleted:  {},
	POStatusCancelled:  {},
}

// 工序状态
const (
	OpStatusPending    = "pending"
	OpStatusInProgress = "in_progress"
	OpStatusCompleted  = "completed"
	OpStatusSkipped    = "skipped"
)

// ValidOperationStatus 判断工序状态
func ValidOperationStatus(s string) bool {
	switch s {
	case OpStatusPending, OpStatusInProgress, OpStatusCompleted, OpStatusSkipped:
		return true
	}
	return false
}

// ProductionOrder 生产订单
type ProductionOrder struct {
	ID                string          `json:"id" gorm:"primaryKey;size:32"`
	OrderNumber       string          `json:"order_number" gorm:"size:32;not null;uniqueIndex"`
	Title             string          `json:"title" gorm:"size:200"`
	BOMID             string          `json:"bom_id" gorm:"size:32;not null;index"`
	BOMVersion        string          `json:"bom_version" gorm:"size:16"`
	FinishedProductID *string         `json:"finished_product_id,omitempty" gorm:"size:32"`
	Status            string          `json:"status" gorm:"size:20;not null;default:draft;index"`
	Priority          int             `json:"priority" gorm:"default:0"` // 0=普通, 1=紧急, 2=特急
	Quantity          decimal.Decimal `json:"quantity" gorm:"type:decimal(18,4);not null"`
	CompletedQuantity decimal.Decimal `json:"completed_quantity" gorm:"type:decimal(18,4);not null;default:0"`
	RejectedQuantity  decimal.Decimal `json:"rejected_quantity" gorm:"type:decimal(18,4);not null;default:0"`
	PlannedCost       decimal.Decimal `json:"planned_cost" gorm:"type:decimal(18,4);not null;default:0"`
	ActualCost        decimal.Decimal `json:"actual_cost" gorm:"type:decimal(18,4);not null;default:0"`
	PriceBasis        string          `json:"price_basis" gorm:"size:32;not null;default:unit_price"`
	PlannedStart      *time.Time      `json:"planned_start,omitempty"`
	PlannedEnd        *time.Time      `json:"planned_end,omitempty"`
	ActualStart       *time.Time      `json:"actual_start,omitempty"`
	ActualEnd         *time.Time      `json:"actual_end,omitempty"`
	Notes             string          `json:"notes,omitempty" gorm:"type:text"`
	CreatedBy         string          `json:"created_by" gorm:"size:64;not null"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`

	Items       []ProductionOrderItem       `json:"items,omitempty" gorm:"foreignKey:ProductionOrderID"`
	Operations  []ProductionOrderOperation  `json:"operations,omitempty" gorm:"foreignKey:ProductionOrderID"`
	Issues      []ProductionOrderIssue      `json:"issues,omitempty" gorm:"foreignKey:ProductionOrderID"`
	Completions []ProductionOrderCompletion `json:"completions,omitempty" gorm:"foreignKey:ProductionOrderID"`
}

func (ProductionOrder) TableName() string {
	return "mrp_production_orders"
}

// IsTerminal 是否终态
func (o *ProductionOrder) IsTerminal() bool {
	return o.Status == POStatusCompleted || o.Status == POStatusCancelled
}

// RemainingQuantity 尚未完工的数量
func (o *ProductionOrder) RemainingQuantity() decimal.Decimal {
	return o.Quantity.Sub(o.CompletedQuantity)
}

// ProductionOrderItem 生产订单物料需求（按BOM展开到叶子物料）
type ProductionOrderItem struct {
	ID                string          `json:"id" gorm:"primaryKey;size:32"`
	ProductionOrderID string          `json:"production_order_id" gorm:"size:32;not null;index"`
	ItemID            string          `json:"item_id" gorm:"size:32;not null"`
	ItemSKU           string          `json:"item_sku" gorm:"size:64"`
	ItemName          string          `json:"item_name" gorm:"size:128"`
	RequiredQuantity  decimal.Decimal `json:"required_quantity" gorm:"type:decimal(18,4);not null"`
	IssuedQuantity    decimal.Decimal `json:"issued_quantity" gorm:"type:decimal(18,4);not null;default:0"`
	UnitCost          decimal.Decimal `json:"unit_cost" gorm:"type:decimal(18,4);not null;default:0"`
	TotalCost         decimal.Decimal `json:"total_cost" gorm:"type:decimal(18,4);not null;default:0"`
	SortOrder         int             `json:"sort_order" gorm:"default:0"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (ProductionOrderItem) TableName() string {
	return "mrp_production_order_items"
}

// Remaining 可发料数量
func (i *ProductionOrderItem) Remaining() decimal.Decimal {
	return i.RequiredQuantity.Sub(i.IssuedQuantity)
}

// ProductionOrderOperation 生产订单工序（从BOM复制）
type ProductionOrderOperation struct {
	ID                   string          `json:"id" gorm:"primaryKey;size:32"`
	ProductionOrderID    string          `json:"production_order_id" gorm:"size:32;not null;index"`
	Name                 string          `json:"name" gorm:"size:128;not null"`
	SequenceNumber       int             `json:"sequence_number" gorm:"not null;default:0"`
	EstimatedTimeMinutes decimal.Decimal `json:"estimated_time_minutes" gorm:"type:decimal(12,2);not null;default:0"`
	LaborRate            decimal.Decimal `json:"labor_rate" gorm:"type:decimal(18,4);not null;default:0"`
	SkillLevel           string          `json:"skill_level,omitempty" gorm:"size:32"`
	Status               string          `json:"status" gorm:"size:20;not null;default:pending"`
	StartedAt            *time.Time      `json:"started_at,omitempty"`
	CompletedAt          *time.Time      `json:"completed_at,omitempty"`
	UpdatedBy            string          `json:"updated_by,omitempty" gorm:"size:64"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

func (ProductionOrderOperation) TableName() string {
	return "mrp_production_order_operations"
}

// ProductionOrderIssue 发料记录（只追加）
type ProductionOrderIssue struct {
	ID                string          `json:"id" gorm:"primaryKey;size:32"`
	ProductionOrderID string          `json:"production_order_id" gorm:"size:32;not null;index"`
	OrderItemID       string          `json:"order_item_id" gorm:"size:32;not null"`
	ItemID            string          `json:"item_id" gorm:"size:32;not null"`
	Quantity          decimal.Decimal `json:"quantity" gorm:"type:decimal(18,4);not null"`
	UnitCost          decimal.Decimal `json:"unit_cost" gorm:"type:decimal(18,4);not null;default:0"`
	MovementID        string          `json:"movement_id" gorm:"size:32"`
	IssuedBy          string          `json:"issued_by" gorm:"size:64;not null"`
	CreatedAt         time.Time       `json:"created_at"`
}

func (ProductionOrderIssue) TableName() string {
	return "mrp_production_order_issues"
}

// ProductionOrderCompletion 完工记录（只追加，质检不合格也记录）
type ProductionOrderCompletion struct {
	ID                 string          `json:"id" gorm:"primaryKey;size:32"`
	ProductionOrderID  string          `json:"production_order_id" gorm:"size:32;not null;index"`
	Quantity           decimal.Decimal `json:"quantity" gorm:"type:decimal(18,4);not null"`
	QualityCheckPassed bool            `json:"quality_check_passed" gorm:"not null;default:false"`
	BatchNumber        string          `json:"batch_number,omitempty" gorm:"size:64"`
	Notes              string          `json:"notes,omitempty" gorm:"type:text"`
	MovementID         *string         `json:"movement_id,omitempty" gorm:"size:32"`
	CompletedBy        string          `json:"completed_by" gorm:"size:64;not null"`
	CreatedAt          time.Time       `json:"created_at"`
}

func (ProductionOrderCompletion) TableName() string {
	return "mrp_production_order_completions"
}
