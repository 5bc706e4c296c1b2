package service

import (
	"context"
	"strings"

	"github.com/bitfantasy/nimo-mrp/internal/mrp/entity"
	"github.com/bitfantasy/nimo-mrp/internal/mrp/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CreateItemRequest 创建物料
type CreateItemRequest struct {
	Name            string          `json:"name" binding:"required"`
	SKU             string          `json:"sku" binding:"required"`
	Description     string          `json:"description"`
	Unit            string          `json:"unit"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	MinQuantity     decimal.Decimal `json:"min_quantity"`
	MaxQuantity     decimal.Decimal `json:"max_quantity"`
	InitialQuantity decimal.Decimal `json:"initial_quantity"`
}

// UpdateItemRequest 更新物料（库存数量不可直接修改）
type UpdateItemRequest struct {
	Name        *string          `json:"name"`
	SKU         *string          `json:"sku"`
	Description *string          `json:"description"`
	Unit        *string          `json:"unit"`
	UnitPrice   *decimal.Decimal `json:"unit_price"`
	MinQuantity *decimal.Decimal `json:"min_quantity"`
	MaxQuantity *decimal.Decimal `json:"max_quantity"`
}

// costRefresher 物料单价变化后刷新BOM成本
type costRefresher interface {
	RefreshForItem(ctx context.Context, itemID string) error
}

// ItemService 物料服务
type ItemService struct {
	db       *gorm.DB
	itemRepo *repository.ItemRepository
	ledger   *LedgerService
	costs    costRefresher
	events   *notifier
}

func NewItemService(itemRepo *repository.ItemRepository, ledger *LedgerService, db *gorm.DB, events *notifier) *ItemService {
	return &ItemService{
		db:       db,
		itemRepo: itemRepo,
		ledger:   ledger,
		events:   events,
	}
}

// SetCostRefresher 注入BOM成本刷新
func (s *ItemService) SetCostRefresher(c costRefresher) {
	s.costs = c
}

// ListItems 物料列表
func (s *ItemService) ListItems(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.Item, int64, error) {
	items, total, err := s.itemRepo.FindAll(ctx, page, pageSize, filters)
	if err != nil {
		return nil, 0, InternalError(err, "查询物料列表失败")
	}
	return items, total, nil
}

// GetItem 物料详情
func (s *ItemService) GetItem(ctx context.Context, id string) (*entity.Item, error) {
	item, err := s.itemRepo.FindByID(ctx, id)
	if err != nil {
		return nil, repoError(err, "物料")
	}
	return item, nil
}

// LowStock 低库存物料
func (s *ItemService) LowStock(ctx context.Context) ([]entity.Item, error) {
	items, err := s.itemRepo.FindLowStock(ctx)
	if err != nil {
		return nil, InternalError(err, "查询低库存物料失败")
	}
	return items, nil
}

func validateItemAmounts(price, min, max decimal.Decimal) error {
	if price.IsNegative() {
		return ValidationError("单价不能为负")
	}
	if min.IsNegative() || max.IsNegative() {
		return ValidationError("库存上下限不能为负")
	}
	if max.IsPositive() && min.GreaterThan(max) {
		return ValidationError("最小库存不能大于最大库存")
	}
	return nil
}

// CreateItem 创建物料，期初库存记为一条 initial 入库流水
func (s *ItemService) CreateItem(ctx context.Context, req *CreateItemRequest, actorID string) (*entity.Item, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.SKU = strings.TrimSpace(req.SKU)
	if req.Name == "" || req.SKU == "" {
		return nil, ValidationError("名称和SKU不能为空")
	}
	if err := validateItemAmounts(req.UnitPrice, req.MinQuantity, req.MaxQuantity); err != nil {
		return nil, err
	}
	if req.InitialQuantity.IsNegative() {
		return nil, ValidationError("期初库存不能为负")
	}
	if _, err := s.itemRepo.FindBySKU(ctx, req.SKU); err == nil {
		return nil, ConstraintError("SKU %s 已存在", req.SKU)
	}

	unit := req.Unit
	if unit == "" {
		unit = "pcs"
	}
	item := &entity.Item{
		ID:           entity.NewID(),
		Name:         req.Name,
		SKU:          req.SKU,
		Description:  req.Description,
		Unit:         unit,
		UnitPrice:    req.UnitPrice,
		AveragePrice: req.UnitPrice,
		MinQuantity:  req.MinQuantity,
		MaxQuantity:  req.MaxQuantity,
		CreatedBy:    actorID,
	}

	var opening *entity.StockMovement
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.itemRepo.WithTx(tx).Create(ctx, item); err != nil {
			return repoError(err, "SKU "+req.SKU)
		}
		if req.InitialQuantity.IsPositive() {
			var err error
			opening, err = s.ledger.applyLocked(ctx, tx, item, MovementInput{
				ItemID:        item.ID,
				Type:          entity.MovementIn,
				Quantity:      req.InitialQuantity,
				UnitCost:      req.UnitPrice,
				ReferenceType: entity.RefInitial,
				ReferenceID:   item.ID,
				Notes:         "期初库存",
				ActorID:       actorID,
			})
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if opening != nil {
		s.ledger.afterCommit(ctx, []*entity.StockMovement{opening}, map[string]*entity.Item{item.ID: item})
	}
	s.events.record(ctx, entity.AuditEntityItem, item.ID, "create", nil, item, actorID)
	s.events.publish(ctx, TopicItemChanged, item)
	return item, nil
}

// UpdateItem 更新物料
func (s *ItemService) UpdateItem(ctx context.Context, id string, req *UpdateItemRequest, actorID string) (*entity.Item, error) {
	before, err := s.itemRepo.FindByID(ctx, id)
	if err != nil {
		return nil, repoError(err, "物料")
	}
	after := *before

	fields := map[string]interface{}{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, ValidationError("名称不能为空")
		}
		after.Name = name
		fields["name"] = name
	}
	if req.SKU != nil && *req.SKU != before.SKU {
		sku := strings.TrimSpace(*req.SKU)
		if sku == "" {
			return nil, ValidationError("SKU不能为空")
		}
		if other, err := s.itemRepo.FindBySKU(ctx, sku); err == nil && other.ID != id {
			return nil, ConstraintError("SKU %s 已存在", sku)
		}
		after.SKU = sku
		fields["sku"] = sku
	}
	if req.Description != nil {
		after.Description = *req.Description
		fields["description"] = *req.Description
	}
	if req.Unit != nil {
		after.Unit = *req.Unit
		fields["unit"] = *req.Unit
	}
	priceChanged := false
	if req.UnitPrice != nil {
		priceChanged = !req.UnitPrice.Equal(before.UnitPrice)
		after.UnitPrice = *req.UnitPrice
		fields["unit_price"] = *req.UnitPrice
	}
	if req.MinQuantity != nil {
		after.MinQuantity = *req.MinQuantity
		fields["min_quantity"] = *req.MinQuantity
	}
	if req.MaxQuantity != nil {
		after.MaxQuantity = *req.MaxQuantity
		fields["max_quantity"] = *req.MaxQuantity
	}
	if err := validateItemAmounts(after.UnitPrice, after.MinQuantity, after.MaxQuantity); err != nil {
		return nil, err
	}

	if err := s.itemRepo.UpdateFields(ctx, id, fields); err != nil {
		return nil, repoError(err, "物料")
	}

	if priceChanged && s.costs != nil {
		if err := s.costs.RefreshForItem(ctx, id); err != nil {
			s.events.logger.Warn("refresh bom cost after price change failed",
				zap.String("item_id", id),
				zap.Error(err))
		}
	}

	updated, err := s.itemRepo.FindByID(ctx, id)
	if err != nil {
		return nil, repoError(err, "物料")
	}
	s.events.record(ctx, entity.AuditEntityItem, id, "update", before, updated, actorID)
	s.events.publish(ctx, TopicItemChanged, updated)
	return updated, nil
}

// DeleteItem 删除物料，被引用时拒绝
func (s *ItemService) DeleteItem(ctx context.Context, id, actorID string) error {
	item, err := s.itemRepo.FindByID(ctx, id)
	if err != nil {
		return repoError(err, "物料")
	}
	refs, err := s.itemRepo.CountReferences(ctx, id)
	if err != nil {
		return InternalError(err, "检查物料引用失败")
	}
	if refs > 0 {
		return ConflictError("物料 %s 已被引用，不能删除", item.SKU).With("references", refs)
	}
	if err := s.itemRepo.Delete(ctx, id); err != nil {
		return InternalError(err, "删除物料失败")
	}
	s.events.record(ctx, entity.AuditEntityItem, id, "delete", item, nil, actorID)
	s.events.publish(ctx, TopicItemChanged, map[string]interface{}{"id": id, "deleted": true})
	return nil
}
