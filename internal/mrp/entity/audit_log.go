package entity

import (
	"time"

	"gorm.io/datatypes"
)

// 审计实体类型
const (
	AuditEntityItem            = "item"
	AuditEntityBOM             = "bom"
	AuditEntityProductionOrder = "production_order"
	AuditEntityRequisition     = "requisition"
)

// AuditLog 操作审计日志
type AuditLog struct {
	ID         string         `json:"id" gorm:"primaryKey;size:32"`
	EntityType string         `json:"entity_type" gorm:"size:50;not null;index:idx_audit_entity"`
	EntityID   string         `json:"entity_id" gorm:"size:32;not null;index:idx_audit_entity"`
	Verb       string         `json:"verb" gorm:"size:50;not null"` // create/update/delete/transition/issue/complete...
	Before     datatypes.JSON `json:"before,omitempty"`
	After      datatypes.JSON `json:"after,omitempty"`
	ActorID    string         `json:"actor_id" gorm:"size:64"`
	CreatedAt  time.Time      `json:"created_at"`
}

func (AuditLog) TableName() string {
	return "mrp_audit_logs"
}
