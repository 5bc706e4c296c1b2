package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// Repositories MRP仓库集合
type Repositories struct {
	Item            *ItemRepository
	Movement        *StockMovementRepository
	BOM             *BOMRepository
	ProductionOrder *ProductionOrderRepository
	Requisition     *RequisitionRepository
	AuditLog        *AuditLogRepository
}

// NewRepositories 创建MRP仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Item:            NewItemRepository(db),
		Movement:        NewStockMovementRepository(db),
		BOM:             NewBOMRepository(db),
		ProductionOrder: NewProductionOrderRepository(db),
		Requisition:     NewRequisitionRepository(db),
		AuditLog:        NewAuditLogRepository(db),
	}
}

// translate 把gorm错误转换成仓库错误
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	// 驱动未开启 TranslateError 时按错误文本兜底
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value") {
		return ErrDuplicate
	}
	return err
}

// likePattern 构造大小写无关的模糊匹配
func likePattern(search string) string {
	return "%" + strings.ToLower(search) + "%"
}

func offsetOf(page, pageSize int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * pageSize
}

// nextCode 按前缀生成下一个单号 {prefix}{至少4位序号}
// 序号超过4位后字符串 MAX 不再可靠，先按长度再按值取最大
func nextCode(ctx context.Context, db *gorm.DB, model interface{}, column, prefix string) (string, error) {
	var codes []string
	err := db.WithContext(ctx).
		Model(model).
		Where(column+" LIKE ?", prefix+"%").
		Order("LENGTH(" + column + ") DESC").
		Order(column + " DESC").
		Limit(1).
		Pluck(column, &codes).Error
	if err != nil {
		return "", err
	}

	var seq int
	if len(codes) > 0 {
		seq, _ = strconv.Atoi(strings.TrimPrefix(codes[0], prefix))
	}
	return fmt.Sprintf("%s%04d", prefix, seq+1), nil
}
