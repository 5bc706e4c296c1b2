package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// 领料单状态
const (
	ReqStatusPending           = "pending"
	ReqStatusApproved          = "approved"
	ReqStatusRejected          = "rejected"
	ReqStatusPartiallyApproved = "partially_approved"
	ReqStatusPartiallyIssued   = "partially_issued"
	ReqStatusIssued            = "issued"
)

// 领料行项状态
const (
	ReqItemStatusPending           = "pending"
	ReqItemStatusApproved          = "approved"
	ReqItemStatusRejected          = "rejected"
	ReqItemStatusPartiallyApproved = "partially_approved"
	ReqItemStatusPartiallyIssued   = "partially_issued"
	ReqItemStatusIssued            = "issued"
)

// Requisition 领料单
type Requisition struct {
	ID                string     `json:"id" gorm:"primaryKey;size:32"`
	RequisitionNumber string     `json:"requisition_number" gorm:"size:32;not null;uniqueIndex"`
	Title             string     `json:"title" gorm:"size:200;not null"`
	Description       string     `json:"description,omitempty" gorm:"type:text"`
	Department        string     `json:"department,omitempty" gorm:"size:64"`
	Priority          string     `json:"priority" gorm:"size:20;default:normal"` // urgent/high/normal/low
	Status            string     `json:"status" gorm:"size:24;not null;default:pending;index"`
	RequiredDate      *time.Time `json:"required_date,omitempty"`
	RequestedBy       string     `json:"requested_by" gorm:"size:64;not null"`
	ApprovedBy        *string    `json:"approved_by,omitempty" gorm:"size:64"`
	ApprovedAt        *time.Time `json:"approved_at,omitempty"`
	ApprovalNotes     string     `json:"approval_notes,omitempty" gorm:"type:text"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`

	Items []RequisitionItem `json:"items,omitempty" gorm:"foreignKey:RequisitionID"`
}

func (Requisition) TableName() string {
	return "mrp_requisitions"
}

// IsIssuing 已发过料
func (r *Requisition) IsIssuing() bool {
	return r.Status == ReqStatusIssued || r.Status == ReqStatusPartiallyIssued
}

// CanIssue 可发料状态
func (r *Requisition) CanIssue() bool {
	switch r.Status {
	case ReqStatusApproved, ReqStatusPartiallyApproved, ReqStatusPartiallyIssued:
		return true
	}
	return false
}

// RequisitionItem 领料行项
type RequisitionItem struct {
	ID               string          `json:"id" gorm:"primaryKey;size:32"`
	RequisitionID    string          `json:"requisition_id" gorm:"size:32;not null;index"`
	ItemID           string          `json:"item_id" gorm:"size:32;not null"`
	Quantity         decimal.Decimal `json:"quantity" gorm:"type:decimal(18,4);not null"`
	ApprovedQuantity decimal.Decimal `json:"approved_quantity" gorm:"type:decimal(18,4);not null;default:0"`
	RejectedQuantity decimal.Decimal `json:"rejected_quantity" gorm:"type:decimal(18,4);not null;default:0"`
	IssuedQuantity   decimal.Decimal `json:"issued_quantity" gorm:"type:decimal(18,4);not null;default:0"`
	Status           string          `json:"status" gorm:"size:24;not null;default:pending"`
	Notes            string          `json:"notes,omitempty" gorm:"type:text"`
	SortOrder        int             `json:"sort_order" gorm:"default:0"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`

	Item *Item `json:"item,omitempty" gorm:"foreignKey:ItemID"`
}

func (RequisitionItem) TableName() string {
	return "mrp_requisition_items"
}

// Issuable 还可发料数量
func (i *RequisitionItem) Issuable() decimal.Decimal {
	return i.ApprovedQuantity.Sub(i.IssuedQuantity)
}
