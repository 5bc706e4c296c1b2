package service

import (
	"context"
	"time"

	"github.com/bitfantasy/nimo-mrp/internal/mrp/entity"
	"github.com/bitfantasy/nimo-mrp/internal/mrp/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// MovementInput 一次库存变动
// in/out 的 Quantity 必须为正；adjustment 的 Quantity 为带符号调整量
type MovementInput struct {
	ItemID          string          `json:"item_id" binding:"required"`
	Type            string          `json:"type" binding:"required"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	ReferenceType   string          `json:"reference_type"`
	ReferenceID     string          `json:"reference_id"`
	ReferenceNumber string          `json:"reference_number"`
	Notes           string          `json:"notes"`
	ActorID         string          `json:"-"`
}

// Reconciliation 对账结果
type Reconciliation struct {
	ItemID         string          `json:"item_id"`
	SKU            string          `json:"sku"`
	CachedQuantity decimal.Decimal `json:"cached_quantity"`
	LedgerSum      decimal.Decimal `json:"ledger_sum"`
	MovementCount  int64           `json:"movement_count"`
	Balanced       bool            `json:"balanced"`
}

// ReceivePurchaseRequest 采购入库
type ReceivePurchaseRequest struct {
	ItemID              string          `json:"item_id" binding:"required"`
	Quantity            decimal.Decimal `json:"quantity"`
	UnitPrice           decimal.Decimal `json:"unit_price"`
	PurchaseOrderID     string          `json:"purchase_order_id"`
	PurchaseOrderNumber string          `json:"purchase_order_number"`
	Notes               string          `json:"notes"`
}

// LedgerService 库存台账：物料数量的唯一写入方
type LedgerService struct {
	db           *gorm.DB
	itemRepo     *repository.ItemRepository
	movementRepo *repository.StockMovementRepository
	events       *notifier
	logger       *zap.Logger
}

func NewLedgerService(
	itemRepo *repository.ItemRepository,
	movementRepo *repository.StockMovementRepository,
	db *gorm.DB,
	events *notifier,
) *LedgerService {
	return &LedgerService{
		db:           db,
		itemRepo:     itemRepo,
		movementRepo: movementRepo,
		events:       events,
		logger:       events.logger.Named("ledger"),
	}
}

func validateMovement(in *MovementInput) error {
	if in.ItemID == "" {
		return ValidationError("item_id不能为空")
	}
	if !entity.ValidMovementType(in.Type) {
		return ValidationError("无效的流水类型: %s", in.Type).With("allowed", []string{entity.MovementIn, entity.MovementOut, entity.MovementAdjustment})
	}
	if in.Type == entity.MovementAdjustment {
		if in.Quantity.IsZero() {
			return ValidationError("调整数量不能为0")
		}
	} else if !in.Quantity.IsPositive() {
		return ValidationError("数量必须大于0")
	}
	if in.ReferenceType == "" {
		in.ReferenceType = entity.RefAdjustment
	}
	if !entity.ValidReferenceType(in.ReferenceType) {
		return ValidationError("无效的来源类型: %s", in.ReferenceType)
	}
	if in.UnitCost.IsNegative() {
		return ValidationError("单位成本不能为负")
	}
	return nil
}

// signedDelta 流水对库存的带符号影响
func signedDelta(in *MovementInput) decimal.Decimal {
	switch in.Type {
	case entity.MovementOut:
		return in.Quantity.Neg()
	default:
		return in.Quantity
	}
}

// applyLocked 在事务内对已加锁的物料写一条流水并同步库存缓存
func (s *LedgerService) applyLocked(ctx context.Context, tx *gorm.DB, item *entity.Item, in MovementInput) (*entity.StockMovement, error) {
	if err := validateMovement(&in); err != nil {
		return nil, err
	}
	delta := signedDelta(&in)
	balance := item.Quantity.Add(delta)
	seq := item.MovementSeq + 1

	m := &entity.StockMovement{
		ID:              entity.NewID(),
		ItemID:          item.ID,
		Seq:             seq,
		Type:            in.Type,
		Quantity:        delta.Abs(),
		Delta:           delta,
		BalanceAfter:    balance,
		UnitCost:        in.UnitCost,
		ReferenceType:   in.ReferenceType,
		ReferenceID:     in.ReferenceID,
		ReferenceNumber: in.ReferenceNumber,
		Notes:           in.Notes,
		CreatedBy:       in.ActorID,
		CreatedAt:       time.Now(),
	}
	if err := s.movementRepo.WithTx(tx).Create(ctx, m); err != nil {
		return nil, InternalError(err, "写入库存流水失败")
	}
	if err := s.itemRepo.WithTx(tx).SetQuantity(ctx, item.ID, balance, seq); err != nil {
		return nil, InternalError(err, "更新库存失败")
	}
	item.Quantity = balance
	item.MovementSeq = seq

	if balance.IsNegative() {
		s.logger.Warn("stock balance negative",
			zap.String("item_id", item.ID),
			zap.String("sku", item.SKU),
			zap.String("balance", balance.String()))
	}
	return m, nil
}

// record 在事务内锁定物料并写流水
func (s *LedgerService) record(ctx context.Context, tx *gorm.DB, in MovementInput) (*entity.StockMovement, *entity.Item, error) {
	if err := validateMovement(&in); err != nil {
		return nil, nil, err
	}
	item, err := s.itemRepo.WithTx(tx).LockByID(ctx, in.ItemID)
	if err != nil {
		return nil, nil, repoError(err, "物料")
	}
	m, err := s.applyLocked(ctx, tx, item, in)
	if err != nil {
		return nil, nil, err
	}
	return m, item, nil
}

// RecordMovement 记录一条库存流水（独立事务）
// 台账本身允许库存为负，充足性检查由各业务流程负责
func (s *LedgerService) RecordMovement(ctx context.Context, in MovementInput) (*entity.StockMovement, error) {
	var m *entity.StockMovement
	var item *entity.Item
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		m, item, err = s.record(ctx, tx, in)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, []*entity.StockMovement{m}, map[string]*entity.Item{item.ID: item})
	return m, nil
}

// Adjust 盘点调整
func (s *LedgerService) Adjust(ctx context.Context, itemID string, delta decimal.Decimal, reason, actorID string) (*entity.StockMovement, error) {
	return s.RecordMovement(ctx, MovementInput{
		ItemID:        itemID,
		Type:          entity.MovementAdjustment,
		Quantity:      delta,
		ReferenceType: entity.RefAdjustment,
		ReferenceID:   itemID,
		Notes:         reason,
		ActorID:       actorID,
	})
}

// ReceivePurchase 采购入库：入库流水 + 最近采购价 + 加权平均价
func (s *LedgerService) ReceivePurchase(ctx context.Context, req ReceivePurchaseRequest, actorID string) (*entity.StockMovement, error) {
	if !req.Quantity.IsPositive() {
		return nil, ValidationError("数量必须大于0")
	}
	if req.UnitPrice.IsNegative() {
		return nil, ValidationError("单价不能为负")
	}

	var m *entity.StockMovement
	var item *entity.Item
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		itemRepo := s.itemRepo.WithTx(tx)
		var err error
		item, err = itemRepo.LockByID(ctx, req.ItemID)
		if err != nil {
			return repoError(err, "物料")
		}

		// 负库存不参与加权
		onHand := decimal.Max(item.Quantity, decimal.Zero)
		avg := weightedAverage(onHand, item.AveragePrice, req.Quantity, req.UnitPrice)

		m, err = s.applyLocked(ctx, tx, item, MovementInput{
			ItemID:          item.ID,
			Type:            entity.MovementIn,
			Quantity:        req.Quantity,
			UnitCost:        req.UnitPrice,
			ReferenceType:   entity.RefPurchaseOrder,
			ReferenceID:     req.PurchaseOrderID,
			ReferenceNumber: req.PurchaseOrderNumber,
			Notes:           req.Notes,
			ActorID:         actorID,
		})
		if err != nil {
			return err
		}

		item.LastPurchasePrice = req.UnitPrice
		item.AveragePrice = avg
		return itemRepo.UpdateFields(ctx, item.ID, map[string]interface{}{
			"last_purchase_price": item.LastPurchasePrice,
			"average_price":       item.AveragePrice,
		})
	})
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, []*entity.StockMovement{m}, map[string]*entity.Item{item.ID: item})
	return m, nil
}

func weightedAverage(onHand, avg, qty, price decimal.Decimal) decimal.Decimal {
	total := onHand.Add(qty)
	if total.IsZero() {
		return price
	}
	return onHand.Mul(avg).Add(qty.Mul(price)).Div(total).Round(4)
}

// ListMovements 按时间正序查询流水
func (s *LedgerService) ListMovements(ctx context.Context, filter repository.MovementFilter, page, pageSize int) ([]entity.StockMovement, int64, error) {
	items, total, err := s.movementRepo.FindAll(ctx, filter, page, pageSize)
	if err != nil {
		return nil, 0, InternalError(err, "查询库存流水失败")
	}
	return items, total, nil
}

// Reconcile 校验 库存缓存 == Σ流水
func (s *LedgerService) Reconcile(ctx context.Context, itemID string) (*Reconciliation, error) {
	item, err := s.itemRepo.FindByID(ctx, itemID)
	if err != nil {
		return nil, repoError(err, "物料")
	}
	sum, count, err := s.movementRepo.SumDelta(ctx, itemID)
	if err != nil {
		return nil, InternalError(err, "汇总库存流水失败")
	}
	rec := &Reconciliation{
		ItemID:         item.ID,
		SKU:            item.SKU,
		CachedQuantity: item.Quantity,
		LedgerSum:      sum,
		MovementCount:  count,
		Balanced:       item.Quantity.Equal(sum),
	}
	if !rec.Balanced {
		s.logger.Error("ledger out of balance",
			zap.String("item_id", item.ID),
			zap.String("cached", item.Quantity.String()),
			zap.String("ledger", sum.String()))
	}
	return rec, nil
}

// afterCommit 提交后发送流水与低库存通知
func (s *LedgerService) afterCommit(ctx context.Context, movements []*entity.StockMovement, items map[string]*entity.Item) {
	for _, m := range movements {
		s.events.publish(ctx, TopicStockMovement, m)
	}
	for _, item := range items {
		if item.IsLowStock() {
			s.events.publish(ctx, TopicLowStock, map[string]interface{}{
				"item_id":      item.ID,
				"sku":          item.SKU,
				"name":         item.Name,
				"quantity":     item.Quantity,
				"min_quantity": item.MinQuantity,
			})
		}
	}
}
