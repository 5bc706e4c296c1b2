package service

import (
	"context"
	"strings"
	"time"

	"github.com/bitfantasy/nimo-mrp/internal/mrp/entity"
	"github.com/bitfantasy/nimo-mrp/internal/mrp/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CreateProductionOrderRequest 创建生产订单
type CreateProductionOrderRequest struct {
	BOMID        string          `json:"bom_id" binding:"required"`
	Quantity     decimal.Decimal `json:"quantity"`
	Title        string          `json:"title"`
	Priority     int             `json:"priority"`
	PriceBasis   string          `json:"price_basis"`
	PlannedStart *time.Time      `json:"planned_start"`
	PlannedEnd   *time.Time      `json:"planned_end"`
	Notes        string          `json:"notes"`
}

// UpdateProductionOrderRequest 更新生产订单描述字段（不可改数量与BOM）
type UpdateProductionOrderRequest struct {
	Title        *string    `json:"title"`
	Priority     *int       `json:"priority"`
	PlannedStart *time.Time `json:"planned_start"`
	PlannedEnd   *time.Time `json:"planned_end"`
	Notes        *string    `json:"notes"`
}

// IssueLine 发料行
type IssueLine struct {
	OrderItemID string          `json:"order_item_id" binding:"required"`
	Quantity    decimal.Decimal `json:"quantity"`
}

// CompleteRequest 完工报告
type CompleteRequest struct {
	Quantity           decimal.Decimal `json:"quantity"`
	QualityCheckPassed bool            `json:"quality_check_passed"`
	BatchNumber        string          `json:"batch_number"`
	Notes              string          `json:"notes"`
}

var issuableStatuses = []string{entity.POStatusPlanned, entity.POStatusInProgress}

// ProductionService 生产订单引擎
type ProductionService struct {
	db                *gorm.DB
	orderRepo         *repository.ProductionOrderRepository
	bomRepo           *repository.BOMRepository
	itemRepo          *repository.ItemRepository
	ledger            *LedgerService
	events            *notifier
	logger            *zap.Logger
	defaultPriceBasis string
}

func NewProductionService(
	orderRepo *repository.ProductionOrderRepository,
	bomRepo *repository.BOMRepository,
	itemRepo *repository.ItemRepository,
	ledger *LedgerService,
	db *gorm.DB,
	events *notifier,
) *ProductionService {
	return &ProductionService{
		db:                db,
		orderRepo:         orderRepo,
		bomRepo:           bomRepo,
		itemRepo:          itemRepo,
		ledger:            ledger,
		events:            events,
		logger:            events.logger.Named("production"),
		defaultPriceBasis: entity.PriceBasisUnit,
	}
}

// SetDefaultPriceBasis 设置默认取价基准
func (s *ProductionService) SetDefaultPriceBasis(basis string) {
	if entity.ValidPriceBasis(basis) {
		s.defaultPriceBasis = basis
	}
}

// ListOrders 生产订单列表
func (s *ProductionService) ListOrders(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.ProductionOrder, int64, error) {
	items, total, err := s.orderRepo.FindAll(ctx, page, pageSize, filters)
	if err != nil {
		return nil, 0, InternalError(err, "查询生产订单列表失败")
	}
	return items, total, nil
}

// GetOrder 生产订单详情
func (s *ProductionService) GetOrder(ctx context.Context, id string) (*entity.ProductionOrder, error) {
	order, err := s.orderRepo.FindByID(ctx, id)
	if err != nil {
		return nil, repoError(err, "生产订单")
	}
	return order, nil
}

// CreateOrder 从BOM创建生产订单：展开叶子物料需求，复制工序
func (s *ProductionService) CreateOrder(ctx context.Context, req *CreateProductionOrderRequest, actorID string) (*entity.ProductionOrder, error) {
	if !req.Quantity.IsPositive() {
		return nil, ValidationError("生产数量必须大于0")
	}
	basis := req.PriceBasis
	if basis == "" {
		basis = s.defaultPriceBasis
	}
	if !entity.ValidPriceBasis(basis) {
		return nil, ValidationError("无效的取价基准: %s", basis).
			With("allowed", []string{entity.PriceBasisUnit, entity.PriceBasisLastPurchase, entity.PriceBasisAverage})
	}
	if req.PlannedStart != nil && req.PlannedEnd != nil && req.PlannedEnd.Before(*req.PlannedStart) {
		return nil, ValidationError("计划结束时间不能早于开始时间")
	}

	var order *entity.ProductionOrder
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		boms := s.bomRepo.WithTx(tx)
		bom, err := boms.FindHeader(ctx, req.BOMID)
		if err != nil {
			return repoError(err, "BOM")
		}
		if bom.Status == entity.BOMStatusObsolete {
			return ConflictError("BOM %s 已作废，不能创建生产订单", bom.Name)
		}

		reqs, err := explode(ctx, boms, s.itemRepo.WithTx(tx), s.logger, bom.ID, req.Quantity)
		if err != nil {
			return err
		}
		ops, err := boms.FindOperations(ctx, bom.ID)
		if err != nil {
			return InternalError(err, "查询BOM工序失败")
		}

		repo := s.orderRepo.WithTx(tx)
		code, err := repo.GenerateCode(ctx)
		if err != nil {
			return InternalError(err, "生成订单编号失败")
		}

		title := strings.TrimSpace(req.Title)
		if title == "" {
			title = bom.Name
		}
		order = &entity.ProductionOrder{
			ID:                entity.NewID(),
			OrderNumber:       code,
			Title:             title,
			BOMID:             bom.ID,
			BOMVersion:        bom.Version,
			FinishedProductID: bom.FinishedProductID,
			Status:            entity.POStatusDraft,
			Priority:          req.Priority,
			Quantity:          req.Quantity,
			CompletedQuantity: decimal.Zero,
			RejectedQuantity:  decimal.Zero,
			PlannedCost:       bom.TotalCost.Mul(req.Quantity).Round(4),
			ActualCost:        decimal.Zero,
			PriceBasis:        basis,
			PlannedStart:      req.PlannedStart,
			PlannedEnd:        req.PlannedEnd,
			Notes:             req.Notes,
			CreatedBy:         actorID,
		}
		for i, r := range reqs {
			unit := r.Item.PriceFor(basis)
			order.Items = append(order.Items, entity.ProductionOrderItem{
				ID:                entity.NewID(),
				ProductionOrderID: order.ID,
				ItemID:            r.ItemID,
				ItemSKU:           r.SKU,
				ItemName:          r.Name,
				RequiredQuantity:  r.Quantity,
				IssuedQuantity:    decimal.Zero,
				UnitCost:          unit,
				TotalCost:         unit.Mul(r.Quantity).Round(4),
				SortOrder:         i + 1,
			})
		}
		for _, op := range ops {
			order.Operations = append(order.Operations, entity.ProductionOrderOperation{
				ID:                   entity.NewID(),
				ProductionOrderID:    order.ID,
				Name:                 op.Name,
				SequenceNumber:       op.SequenceNumber,
				EstimatedTimeMinutes: op.EstimatedTimeMinutes,
				LaborRate:            op.LaborRate,
				SkillLevel:           op.SkillLevel,
				Status:               entity.OpStatusPending,
			})
		}
		if err := repo.Create(ctx, order); err != nil {
			return repoError(err, "订单编号 "+code)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("production order created",
		zap.String("order_number", order.OrderNumber),
		zap.String("bom_id", order.BOMID),
		zap.Int("requirements", len(order.Items)))
	created, err := s.GetOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	s.events.record(ctx, entity.AuditEntityProductionOrder, order.ID, "create", nil, created, actorID)
	s.events.publish(ctx, TopicProductionOrder, created)
	return created, nil
}

// UpdateOrder 更新订单描述字段，仅 draft/planned 允许
func (s *ProductionService) UpdateOrder(ctx context.Context, id string, req *UpdateProductionOrderRequest, actorID string) (*entity.ProductionOrder, error) {
	var before entity.ProductionOrder
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.orderRepo.WithTx(tx)
		order, err := repo.LockByID(ctx, id)
		if err != nil {
			return repoError(err, "生产订单")
		}
		before = *order
		if order.Status != entity.POStatusDraft && order.Status != entity.POStatusPlanned {
			return ConflictError("订单状态为 %s，不允许修改", order.Status).
				With("status", order.Status).
				With("allowed_statuses", []string{entity.POStatusDraft, entity.POStatusPlanned})
		}

		start, end := order.PlannedStart, order.PlannedEnd
		fields := map[string]interface{}{}
		if req.Title != nil {
			fields["title"] = strings.TrimSpace(*req.Title)
		}
		if req.Priority != nil {
			fields["priority"] = *req.Priority
		}
		if req.PlannedStart != nil {
			start = req.PlannedStart
			fields["planned_start"] = *req.PlannedStart
		}
		if req.PlannedEnd != nil {
			end = req.PlannedEnd
			fields["planned_end"] = *req.PlannedEnd
		}
		if req.Notes != nil {
			fields["notes"] = *req.Notes
		}
		if start != nil && end != nil && end.Before(*start) {
			return ValidationError("计划结束时间不能早于开始时间")
		}
		if err := repo.UpdateFields(ctx, id, fields); err != nil {
			return InternalError(err, "更新生产订单失败")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	s.events.record(ctx, entity.AuditEntityProductionOrder, id, "update", &before, updated, actorID)
	s.events.publish(ctx, TopicProductionOrder, updated)
	return updated, nil
}

// checkTransition 按状态表校验流转
func checkTransition(from, to string) error {
	allowed := entity.ValidProductionTransitions[from]
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return InvalidTransitionError(from, to, allowed)
}

// Transition 订单状态流转
func (s *ProductionService) Transition(ctx context.Context, id, to, actorID string) (*entity.ProductionOrder, error) {
	var from string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.orderRepo.WithTx(tx)
		order, err := repo.LockByID(ctx, id)
		if err != nil {
			return repoError(err, "生产订单")
		}
		from = order.Status
		if err := checkTransition(order.Status, to); err != nil {
			return err
		}

		now := time.Now()
		fields := map[string]interface{}{"status": to}
		switch to {
		case entity.POStatusInProgress:
			if order.ActualStart == nil {
				fields["actual_start"] = now
			}
		case entity.POStatusCompleted, entity.POStatusCancelled:
			fields["actual_end"] = now
		}
		if err := repo.UpdateFields(ctx, id, fields); err != nil {
			return InternalError(err, "更新订单状态失败")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("production order transitioned",
		zap.String("order_id", id),
		zap.String("from", from),
		zap.String("to", to))
	updated, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	s.events.record(ctx, entity.AuditEntityProductionOrder, id, "transition",
		map[string]string{"status": from}, map[string]string{"status": to}, actorID)
	s.events.publish(ctx, TopicProductionOrder, updated)
	return updated, nil
}

// stagedIssue 发料暂存：全部校验通过后才落库
type stagedIssue struct {
	orderItem *entity.ProductionOrderItem
	quantity  decimal.Decimal
}

// IssueMaterials 批量发料：全部行校验通过后在同一事务内写流水，任一行失败整体回滚
func (s *ProductionService) IssueMaterials(ctx context.Context, id string, lines []IssueLine, actorID string) (*entity.ProductionOrder, error) {
	if len(lines) == 0 {
		return nil, ValidationError("发料行不能为空")
	}
	for _, l := range lines {
		if l.OrderItemID == "" {
			return nil, ValidationError("order_item_id不能为空")
		}
		if !l.Quantity.IsPositive() {
			return nil, ValidationError("发料数量必须大于0").With("order_item_id", l.OrderItemID)
		}
	}

	var movements []*entity.StockMovement
	var locked map[string]*entity.Item
	var orderNumber string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.orderRepo.WithTx(tx)
		order, err := repo.LockByID(ctx, id)
		if err != nil {
			return repoError(err, "生产订单")
		}
		orderNumber = order.OrderNumber
		if order.Status != entity.POStatusPlanned && order.Status != entity.POStatusInProgress {
			return ConflictError("订单状态为 %s，不允许发料", order.Status).
				With("status", order.Status).
				With("allowed_statuses", issuableStatuses)
		}

		orderItems, err := repo.FindItems(ctx, id)
		if err != nil {
			return InternalError(err, "查询订单物料失败")
		}
		byID := make(map[string]*entity.ProductionOrderItem, len(orderItems))
		for i := range orderItems {
			byID[orderItems[i].ID] = &orderItems[i]
		}

		// 合并重复行后校验剩余可发数量
		var staged []*stagedIssue
		stagedByID := map[string]*stagedIssue{}
		for _, l := range lines {
			oi, ok := byID[l.OrderItemID]
			if !ok {
				return NotFoundError("订单物料 %s 不存在", l.OrderItemID)
			}
			st, ok := stagedByID[oi.ID]
			if !ok {
				st = &stagedIssue{orderItem: oi, quantity: decimal.Zero}
				stagedByID[oi.ID] = st
				staged = append(staged, st)
			}
			st.quantity = st.quantity.Add(l.Quantity)
		}
		demand := map[string]decimal.Decimal{}
		itemIDs := make([]string, 0, len(staged))
		for _, st := range staged {
			remaining := st.orderItem.Remaining()
			if st.quantity.GreaterThan(remaining) {
				return ConflictError("物料 %s 发料数量超过剩余需求", st.orderItem.ItemSKU).
					With("order_item_id", st.orderItem.ID).
					With("requested", st.quantity).
					With("remaining", remaining)
			}
			if _, ok := demand[st.orderItem.ItemID]; !ok {
				itemIDs = append(itemIDs, st.orderItem.ItemID)
				demand[st.orderItem.ItemID] = decimal.Zero
			}
			demand[st.orderItem.ItemID] = demand[st.orderItem.ItemID].Add(st.quantity)
		}

		locked, err = s.itemRepo.WithTx(tx).LockByIDs(ctx, itemIDs)
		if err != nil {
			return repoError(err, "物料")
		}
		for _, itemID := range itemIDs {
			item := locked[itemID]
			if item.Quantity.LessThan(demand[itemID]) {
				return ConflictError("物料 %s 库存不足", item.SKU).
					With("item_id", itemID).
					With("requested", demand[itemID]).
					With("available", item.Quantity)
			}
		}

		// 校验全部通过，开始写入
		actual := order.ActualCost
		now := time.Now()
		for _, st := range staged {
			oi := st.orderItem
			m, err := s.ledger.applyLocked(ctx, tx, locked[oi.ItemID], MovementInput{
				ItemID:          oi.ItemID,
				Type:            entity.MovementOut,
				Quantity:        st.quantity,
				UnitCost:        oi.UnitCost,
				ReferenceType:   entity.RefProductionOrder,
				ReferenceID:     order.ID,
				ReferenceNumber: order.OrderNumber,
				Notes:           "生产发料",
				ActorID:         actorID,
			})
			if err != nil {
				return err
			}
			movements = append(movements, m)

			oi.IssuedQuantity = oi.IssuedQuantity.Add(st.quantity)
			if err := repo.UpdateItemIssued(ctx, oi); err != nil {
				return InternalError(err, "更新已发数量失败")
			}
			if err := repo.CreateIssue(ctx, &entity.ProductionOrderIssue{
				ProductionOrderID: order.ID,
				OrderItemID:       oi.ID,
				ItemID:            oi.ItemID,
				Quantity:          st.quantity,
				UnitCost:          oi.UnitCost,
				MovementID:        m.ID,
				IssuedBy:          actorID,
				CreatedAt:         now,
			}); err != nil {
				return InternalError(err, "写入发料记录失败")
			}
			actual = actual.Add(st.quantity.Mul(oi.UnitCost))
		}
		if err := repo.UpdateFields(ctx, id, map[string]interface{}{"actual_cost": actual.Round(4)}); err != nil {
			return InternalError(err, "更新实际成本失败")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.ledger.afterCommit(ctx, movements, locked)
	updated, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	s.events.record(ctx, entity.AuditEntityProductionOrder, id, "issue", nil, lines, actorID)
	s.events.publish(ctx, TopicProductionIssued, map[string]interface{}{
		"order_id":     id,
		"order_number": orderNumber,
		"movements":    len(movements),
	})
	return updated, nil
}

// Complete 完工报告：质检合格入库成品，不合格只记录；累计合格数量达到订单数量时订单完成
func (s *ProductionService) Complete(ctx context.Context, id string, req *CompleteRequest, actorID string) (*entity.ProductionOrder, error) {
	if !req.Quantity.IsPositive() {
		return nil, ValidationError("完工数量必须大于0")
	}

	var movement *entity.StockMovement
	var product *entity.Item
	var finished bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.orderRepo.WithTx(tx)
		order, err := repo.LockByID(ctx, id)
		if err != nil {
			return repoError(err, "生产订单")
		}
		if order.Status != entity.POStatusInProgress {
			return ConflictError("订单状态为 %s，不允许报工", order.Status).
				With("status", order.Status).
				With("allowed_statuses", []string{entity.POStatusInProgress})
		}
		remaining := order.RemainingQuantity()
		if req.Quantity.GreaterThan(remaining) {
			return ConflictError("完工数量超过订单剩余数量").
				With("requested", req.Quantity).
				With("remaining", remaining)
		}

		completion := &entity.ProductionOrderCompletion{
			ProductionOrderID:  order.ID,
			Quantity:           req.Quantity,
			QualityCheckPassed: req.QualityCheckPassed,
			BatchNumber:        req.BatchNumber,
			Notes:              req.Notes,
			CompletedBy:        actorID,
			CreatedAt:          time.Now(),
		}
		fields := map[string]interface{}{}

		if req.QualityCheckPassed {
			if order.FinishedProductID == nil || *order.FinishedProductID == "" {
				return ValidationError("BOM未指定成品物料，无法入库")
			}
			unitCost := decimal.Zero
			if order.Quantity.IsPositive() {
				unitCost = order.PlannedCost.Div(order.Quantity).Round(4)
			}
			movement, product, err = s.ledger.record(ctx, tx, MovementInput{
				ItemID:          *order.FinishedProductID,
				Type:            entity.MovementIn,
				Quantity:        req.Quantity,
				UnitCost:        unitCost,
				ReferenceType:   entity.RefProductionOrder,
				ReferenceID:     order.ID,
				ReferenceNumber: order.OrderNumber,
				Notes:           "生产完工入库",
				ActorID:         actorID,
			})
			if err != nil {
				return err
			}
			completion.MovementID = &movement.ID

			completed := order.CompletedQuantity.Add(req.Quantity)
			fields["completed_quantity"] = completed
			if completed.GreaterThanOrEqual(order.Quantity) {
				finished = true
				fields["status"] = entity.POStatusCompleted
				fields["actual_end"] = time.Now()
			}
		} else {
			fields["rejected_quantity"] = order.RejectedQuantity.Add(req.Quantity)
		}

		if err := repo.CreateCompletion(ctx, completion); err != nil {
			return InternalError(err, "写入完工记录失败")
		}
		if err := repo.UpdateFields(ctx, id, fields); err != nil {
			return InternalError(err, "更新订单完工数量失败")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if movement != nil {
		s.ledger.afterCommit(ctx, []*entity.StockMovement{movement}, map[string]*entity.Item{product.ID: product})
	}
	updated, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	s.events.record(ctx, entity.AuditEntityProductionOrder, id, "complete", nil, req, actorID)
	s.events.publish(ctx, TopicProductionCompleted, map[string]interface{}{
		"order_id":             id,
		"quantity":             req.Quantity,
		"quality_check_passed": req.QualityCheckPassed,
		"finished":             finished,
	})
	if finished {
		s.logger.Info("production order completed", zap.String("order_id", id))
		s.events.publish(ctx, TopicProductionOrder, updated)
	}
	return updated, nil
}

// SetOperationStatus 更新单道工序状态，工序之间不做顺序约束
func (s *ProductionService) SetOperationStatus(ctx context.Context, opID, status, actorID string) (*entity.ProductionOrderOperation, error) {
	if !entity.ValidOperationStatus(status) {
		return nil, ValidationError("无效的工序状态: %s", status).
			With("allowed", []string{entity.OpStatusPending, entity.OpStatusInProgress, entity.OpStatusCompleted, entity.OpStatusSkipped})
	}

	var op *entity.ProductionOrderOperation
	var from string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.orderRepo.WithTx(tx)
		var err error
		op, err = repo.FindOperation(ctx, opID)
		if err != nil {
			return repoError(err, "订单工序")
		}
		order, err := repo.LockByID(ctx, op.ProductionOrderID)
		if err != nil {
			return repoError(err, "生产订单")
		}
		if order.IsTerminal() {
			return ConflictError("订单已%s，工序不可修改", order.Status).With("status", order.Status)
		}

		from = op.Status
		now := time.Now()
		op.Status = status
		op.UpdatedBy = actorID
		switch status {
		case entity.OpStatusPending:
			op.StartedAt = nil
			op.CompletedAt = nil
		case entity.OpStatusInProgress:
			if op.StartedAt == nil {
				op.StartedAt = &now
			}
			op.CompletedAt = nil
		case entity.OpStatusCompleted:
			if op.StartedAt == nil {
				op.StartedAt = &now
			}
			op.CompletedAt = &now
		case entity.OpStatusSkipped:
			op.CompletedAt = nil
		}
		if err := repo.UpdateOperation(ctx, op); err != nil {
			return InternalError(err, "更新工序状态失败")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.events.record(ctx, entity.AuditEntityProductionOrder, op.ProductionOrderID, "operation_status",
		map[string]string{"operation_id": opID, "status": from},
		map[string]string{"operation_id": opID, "status": status}, actorID)
	s.events.publish(ctx, TopicProductionOrder, map[string]interface{}{
		"order_id":     op.ProductionOrderID,
		"operation_id": opID,
		"status":       status,
	})
	return op, nil
}

// DeleteOrder 删除订单，仅 draft/cancelled 允许，级联删除明细
func (s *ProductionService) DeleteOrder(ctx context.Context, id, actorID string) error {
	var before *entity.ProductionOrder
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.orderRepo.WithTx(tx)
		order, err := repo.LockByID(ctx, id)
		if err != nil {
			return repoError(err, "生产订单")
		}
		if order.Status != entity.POStatusDraft && order.Status != entity.POStatusCancelled {
			return ConflictError("订单状态为 %s，不允许删除", order.Status).
				With("status", order.Status).
				With("allowed_statuses", []string{entity.POStatusDraft, entity.POStatusCancelled})
		}
		before = order
		if err := repo.Delete(ctx, id); err != nil {
			return InternalError(err, "删除生产订单失败")
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.events.record(ctx, entity.AuditEntityProductionOrder, id, "delete", before, nil, actorID)
	s.events.publish(ctx, TopicProductionOrder, map[string]interface{}{"id": id, "deleted": true})
	return nil
}
