package entity

import (
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AutoMigrate 自动迁移所有MRP表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		// 物料与库存
		&Item{},
		&StockMovement{},

		// BOM
		&BOM{},
		&BOMComponent{},
		&BOMOperation{},
		&BOMGraphLock{},

		// 生产
		&ProductionOrder{},
		&ProductionOrderItem{},
		&ProductionOrderOperation{},
		&ProductionOrderIssue{},
		&ProductionOrderCompletion{},

		// 领料
		&Requisition{},
		&RequisitionItem{},

		// 审计
		&AuditLog{},
	)
}

// NewID 生成32位ID（去掉横线的UUID）
func NewID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}
