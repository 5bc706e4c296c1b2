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

// RequisitionItemInput 领料行
type RequisitionItemInput struct {
	ItemID   string          `json:"item_id" binding:"required"`
	Quantity decimal.Decimal `json:"quantity"`
	Notes    string          `json:"notes"`
}

// CreateRequisitionRequest 创建领料单
type CreateRequisitionRequest struct {
	Title        string                 `json:"title" binding:"required"`
	Description  string                 `json:"description"`
	Department   string                 `json:"department"`
	Priority     string                 `json:"priority"`
	RequiredDate *time.Time             `json:"required_date"`
	Items        []RequisitionItemInput `json:"items"`
}

// UpdateRequisitionRequest 更新领料单；Items 非nil时整体替换行项
type UpdateRequisitionRequest struct {
	Title        *string                 `json:"title"`
	Description  *string                 `json:"description"`
	Department   *string                 `json:"department"`
	Priority     *string                 `json:"priority"`
	RequiredDate *time.Time              `json:"required_date"`
	Items        *[]RequisitionItemInput `json:"items"`
}

// ApprovalDecision 行项审批：批准数量，其余视为驳回
type ApprovalDecision struct {
	ItemID           string          `json:"item_id" binding:"required"`
	ApprovedQuantity decimal.Decimal `json:"approved_quantity"`
}

// ApproveRequest 审批；Decisions 为空表示全部按申请数量批准
type ApproveRequest struct {
	Decisions []ApprovalDecision `json:"decisions"`
	Notes     string             `json:"notes"`
}

// RequisitionIssueLine 领料发料行，item_id 为领料单行项ID
type RequisitionIssueLine struct {
	ItemID   string          `json:"item_id" binding:"required"`
	Quantity decimal.Decimal `json:"quantity"`
}

var requisitionPriorities = []string{"urgent", "high", "normal", "low"}

// RequisitionService 领料单引擎
type RequisitionService struct {
	db       *gorm.DB
	reqRepo  *repository.RequisitionRepository
	itemRepo *repository.ItemRepository
	ledger   *LedgerService
	events   *notifier
	logger   *zap.Logger
}

func NewRequisitionService(
	reqRepo *repository.RequisitionRepository,
	itemRepo *repository.ItemRepository,
	ledger *LedgerService,
	db *gorm.DB,
	events *notifier,
) *RequisitionService {
	return &RequisitionService{
		db:       db,
		reqRepo:  reqRepo,
		itemRepo: itemRepo,
		ledger:   ledger,
		events:   events,
		logger:   events.logger.Named("requisition"),
	}
}

// ListRequisitions 领料单列表
func (s *RequisitionService) ListRequisitions(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.Requisition, int64, error) {
	items, total, err := s.reqRepo.FindAll(ctx, page, pageSize, filters)
	if err != nil {
		return nil, 0, InternalError(err, "查询领料单列表失败")
	}
	return items, total, nil
}

// GetRequisition 领料单详情
func (s *RequisitionService) GetRequisition(ctx context.Context, id string) (*entity.Requisition, error) {
	req, err := s.reqRepo.FindByID(ctx, id)
	if err != nil {
		return nil, repoError(err, "领料单")
	}
	return req, nil
}

func validPriority(p string) bool {
	for _, v := range requisitionPriorities {
		if v == p {
			return true
		}
	}
	return false
}

// buildItems 校验并构造行项
func (s *RequisitionService) buildItems(ctx context.Context, items *repository.ItemRepository, inputs []RequisitionItemInput) ([]entity.RequisitionItem, error) {
	if len(inputs) == 0 {
		return nil, ValidationError("领料行不能为空")
	}
	ids := make([]string, 0, len(inputs))
	for _, in := range inputs {
		if in.ItemID == "" {
			return nil, ValidationError("item_id不能为空")
		}
		if !in.Quantity.IsPositive() {
			return nil, ValidationError("领料数量必须大于0").With("item_id", in.ItemID)
		}
		ids = append(ids, in.ItemID)
	}
	found, err := items.FindByIDs(ctx, ids)
	if err != nil {
		return nil, InternalError(err, "查询物料失败")
	}
	result := make([]entity.RequisitionItem, 0, len(inputs))
	for i, in := range inputs {
		if _, ok := found[in.ItemID]; !ok {
			return nil, NotFoundError("物料 %s 不存在", in.ItemID)
		}
		result = append(result, entity.RequisitionItem{
			ID:               entity.NewID(),
			ItemID:           in.ItemID,
			Quantity:         in.Quantity,
			ApprovedQuantity: decimal.Zero,
			RejectedQuantity: decimal.Zero,
			IssuedQuantity:   decimal.Zero,
			Status:           entity.ReqItemStatusPending,
			Notes:            in.Notes,
			SortOrder:        i + 1,
		})
	}
	return result, nil
}

// CreateRequisition 创建领料单，初始状态 pending
func (s *RequisitionService) CreateRequisition(ctx context.Context, in *CreateRequisitionRequest, actorID string) (*entity.Requisition, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, ValidationError("标题不能为空")
	}
	priority := in.Priority
	if priority == "" {
		priority = "normal"
	}
	if !validPriority(priority) {
		return nil, ValidationError("无效的优先级: %s", priority).With("allowed", requisitionPriorities)
	}
	items, err := s.buildItems(ctx, s.itemRepo, in.Items)
	if err != nil {
		return nil, err
	}

	req := &entity.Requisition{
		ID:           entity.NewID(),
		Title:        title,
		Description:  in.Description,
		Department:   in.Department,
		Priority:     priority,
		Status:       entity.ReqStatusPending,
		RequiredDate: in.RequiredDate,
		RequestedBy:  actorID,
	}
	for i := range items {
		items[i].RequisitionID = req.ID
	}
	req.Items = items

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.reqRepo.WithTx(tx)
		code, err := repo.GenerateCode(ctx)
		if err != nil {
			return InternalError(err, "生成领料单号失败")
		}
		req.RequisitionNumber = code
		if err := repo.Create(ctx, req); err != nil {
			return repoError(err, "领料单号 "+code)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	created, err := s.GetRequisition(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	s.events.record(ctx, entity.AuditEntityRequisition, req.ID, "create", nil, created, actorID)
	s.events.publish(ctx, TopicRequisition, created)
	return created, nil
}

// approvalRollup 行项审批结果汇总为单据状态
func approvalRollup(items []entity.RequisitionItem) string {
	allApproved, allRejected := true, true
	for _, it := range items {
		if it.Status != entity.ReqItemStatusApproved {
			allApproved = false
		}
		if it.Status != entity.ReqItemStatusRejected {
			allRejected = false
		}
	}
	switch {
	case allApproved:
		return entity.ReqStatusApproved
	case allRejected:
		return entity.ReqStatusRejected
	default:
		return entity.ReqStatusPartiallyApproved
	}
}

// issueRollup 发料后汇总单据状态；无变化时返回原状态
func issueRollup(current string, items []entity.RequisitionItem) string {
	anyIssued, allIssued := false, true
	for _, it := range items {
		if it.IssuedQuantity.IsPositive() {
			anyIssued = true
		}
		if it.ApprovedQuantity.IsPositive() && it.IssuedQuantity.LessThan(it.ApprovedQuantity) {
			allIssued = false
		}
	}
	switch {
	case anyIssued && allIssued:
		return entity.ReqStatusIssued
	case anyIssued:
		return entity.ReqStatusPartiallyIssued
	default:
		return current
	}
}

func itemApprovalStatus(it *entity.RequisitionItem) string {
	switch {
	case it.ApprovedQuantity.Equal(it.Quantity):
		return entity.ReqItemStatusApproved
	case it.ApprovedQuantity.IsZero():
		return entity.ReqItemStatusRejected
	default:
		return entity.ReqItemStatusPartiallyApproved
	}
}

func itemIssueStatus(it *entity.RequisitionItem) string {
	switch {
	case it.IssuedQuantity.IsZero():
		return itemApprovalStatus(it)
	case it.IssuedQuantity.GreaterThanOrEqual(it.ApprovedQuantity):
		return entity.ReqItemStatusIssued
	default:
		return entity.ReqItemStatusPartiallyIssued
	}
}

// Approve 行项级审批并汇总
func (s *RequisitionService) Approve(ctx context.Context, id string, in *ApproveRequest, actorID string) (*entity.Requisition, error) {
	for _, d := range in.Decisions {
		if d.ApprovedQuantity.IsNegative() {
			return nil, ValidationError("批准数量不能为负").With("item_id", d.ItemID)
		}
	}

	var from, to string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.reqRepo.WithTx(tx)
		req, err := repo.LockByID(ctx, id)
		if err != nil {
			return repoError(err, "领料单")
		}
		from = req.Status
		if req.Status != entity.ReqStatusPending {
			return ConflictError("领料单状态为 %s，不能审批", req.Status).
				With("status", req.Status).
				With("allowed_statuses", []string{entity.ReqStatusPending})
		}

		approved := make(map[string]decimal.Decimal, len(req.Items))
		if len(in.Decisions) == 0 {
			for _, it := range req.Items {
				approved[it.ID] = it.Quantity
			}
		} else {
			for _, d := range in.Decisions {
				if _, dup := approved[d.ItemID]; dup {
					return ValidationError("行项 %s 重复审批", d.ItemID)
				}
				approved[d.ItemID] = d.ApprovedQuantity
			}
			for _, it := range req.Items {
				if _, ok := approved[it.ID]; !ok {
					return ValidationError("行项 %s 缺少审批结果", it.ID)
				}
			}
			if len(approved) != len(req.Items) {
				return NotFoundError("审批包含不属于该领料单的行项")
			}
		}

		for i := range req.Items {
			it := &req.Items[i]
			q := approved[it.ID]
			if q.GreaterThan(it.Quantity) {
				return ValidationError("行项 %s 批准数量超过申请数量", it.ID).
					With("requested", it.Quantity).
					With("approved", q)
			}
			it.ApprovedQuantity = q
			it.RejectedQuantity = it.Quantity.Sub(q)
			it.IssuedQuantity = decimal.Zero
			it.Status = itemApprovalStatus(it)
			if err := repo.UpdateItem(ctx, it); err != nil {
				return InternalError(err, "更新领料行项失败")
			}
		}

		to = approvalRollup(req.Items)
		now := time.Now()
		return repo.UpdateFields(ctx, id, map[string]interface{}{
			"status":         to,
			"approved_by":    actorID,
			"approved_at":    now,
			"approval_notes": in.Notes,
		})
	})
	if err != nil {
		return nil, err
	}
	return s.afterStatusChange(ctx, id, "approve", from, to, actorID)
}

// Reject 整单驳回，等价于全部行项批准数量为0
func (s *RequisitionService) Reject(ctx context.Context, id, notes, actorID string) (*entity.Requisition, error) {
	req, err := s.GetRequisition(ctx, id)
	if err != nil {
		return nil, err
	}
	decisions := make([]ApprovalDecision, 0, len(req.Items))
	for _, it := range req.Items {
		decisions = append(decisions, ApprovalDecision{ItemID: it.ID, ApprovedQuantity: decimal.Zero})
	}
	return s.Approve(ctx, id, &ApproveRequest{Decisions: decisions, Notes: notes}, actorID)
}

// Issue 按批准数量发料；lines 为空时发放全部剩余。全部校验通过后才写流水
func (s *RequisitionService) Issue(ctx context.Context, id string, lines []RequisitionIssueLine, actorID string) (*entity.Requisition, error) {
	for _, l := range lines {
		if !l.Quantity.IsPositive() {
			return nil, ValidationError("发料数量必须大于0").With("item_id", l.ItemID)
		}
	}

	var from, to string
	var movements []*entity.StockMovement
	var locked map[string]*entity.Item
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.reqRepo.WithTx(tx)
		req, err := repo.LockByID(ctx, id)
		if err != nil {
			return repoError(err, "领料单")
		}
		from = req.Status
		if !req.CanIssue() {
			return ConflictError("领料单状态为 %s，不能发料", req.Status).
				With("status", req.Status).
				With("allowed_statuses", []string{entity.ReqStatusApproved, entity.ReqStatusPartiallyApproved, entity.ReqStatusPartiallyIssued})
		}

		byID := make(map[string]*entity.RequisitionItem, len(req.Items))
		for i := range req.Items {
			byID[req.Items[i].ID] = &req.Items[i]
		}

		// 暂存：行项 -> 本次发料数量
		staged := map[string]decimal.Decimal{}
		var order []string
		if len(lines) == 0 {
			for i := range req.Items {
				it := &req.Items[i]
				if it.Issuable().IsPositive() {
					staged[it.ID] = it.Issuable()
					order = append(order, it.ID)
				}
			}
		} else {
			for _, l := range lines {
				if _, ok := byID[l.ItemID]; !ok {
					return NotFoundError("领料行项 %s 不存在", l.ItemID)
				}
				if _, ok := staged[l.ItemID]; !ok {
					order = append(order, l.ItemID)
					staged[l.ItemID] = decimal.Zero
				}
				staged[l.ItemID] = staged[l.ItemID].Add(l.Quantity)
			}
		}
		if len(order) == 0 {
			return ConflictError("没有可发料的行项")
		}

		demand := map[string]decimal.Decimal{}
		var stockIDs []string
		for _, rid := range order {
			it := byID[rid]
			if remaining := it.Issuable(); staged[rid].GreaterThan(remaining) {
				return ConflictError("行项发料数量超过批准未发数量").
					With("item_id", rid).
					With("requested", staged[rid]).
					With("remaining", remaining)
			}
			if _, ok := demand[it.ItemID]; !ok {
				stockIDs = append(stockIDs, it.ItemID)
				demand[it.ItemID] = decimal.Zero
			}
			demand[it.ItemID] = demand[it.ItemID].Add(staged[rid])
		}

		locked, err = s.itemRepo.WithTx(tx).LockByIDs(ctx, stockIDs)
		if err != nil {
			return repoError(err, "物料")
		}
		for _, sid := range stockIDs {
			if locked[sid].Quantity.LessThan(demand[sid]) {
				return ConflictError("物料 %s 库存不足", locked[sid].SKU).
					With("item_id", sid).
					With("requested", demand[sid]).
					With("available", locked[sid].Quantity)
			}
		}

		for _, rid := range order {
			it := byID[rid]
			stock := locked[it.ItemID]
			m, err := s.ledger.applyLocked(ctx, tx, stock, MovementInput{
				ItemID:          it.ItemID,
				Type:            entity.MovementOut,
				Quantity:        staged[rid],
				UnitCost:        stock.UnitPrice,
				ReferenceType:   entity.RefRequisition,
				ReferenceID:     req.ID,
				ReferenceNumber: req.RequisitionNumber,
				Notes:           "领料发料",
				ActorID:         actorID,
			})
			if err != nil {
				return err
			}
			movements = append(movements, m)
			it.IssuedQuantity = it.IssuedQuantity.Add(staged[rid])
			it.Status = itemIssueStatus(it)
			if err := repo.UpdateItem(ctx, it); err != nil {
				return InternalError(err, "更新领料行项失败")
			}
		}

		to = issueRollup(req.Status, req.Items)
		return repo.UpdateFields(ctx, id, map[string]interface{}{"status": to})
	})
	if err != nil {
		return nil, err
	}

	s.ledger.afterCommit(ctx, movements, locked)
	return s.afterStatusChange(ctx, id, "issue", from, to, actorID)
}

// reopen 补偿流转：冲回已发数量（同单据的入库流水），清除审批信息，回到 pending
func (s *RequisitionService) reopen(ctx context.Context, tx *gorm.DB, req *entity.Requisition, actorID, reason string) ([]*entity.StockMovement, map[string]*entity.Item, error) {
	repo := s.reqRepo.WithTx(tx)

	restore := map[string]decimal.Decimal{}
	var stockIDs []string
	for _, it := range req.Items {
		if it.IssuedQuantity.IsPositive() {
			if _, ok := restore[it.ItemID]; !ok {
				stockIDs = append(stockIDs, it.ItemID)
				restore[it.ItemID] = decimal.Zero
			}
			restore[it.ItemID] = restore[it.ItemID].Add(it.IssuedQuantity)
		}
	}

	var movements []*entity.StockMovement
	var locked map[string]*entity.Item
	if len(stockIDs) > 0 {
		var err error
		locked, err = s.itemRepo.WithTx(tx).LockByIDs(ctx, stockIDs)
		if err != nil {
			return nil, nil, repoError(err, "物料")
		}
		for _, sid := range stockIDs {
			m, err := s.ledger.applyLocked(ctx, tx, locked[sid], MovementInput{
				ItemID:          sid,
				Type:            entity.MovementIn,
				Quantity:        restore[sid],
				UnitCost:        locked[sid].UnitPrice,
				ReferenceType:   entity.RefRequisition,
				ReferenceID:     req.ID,
				ReferenceNumber: req.RequisitionNumber,
				Notes:           "领料冲回: " + reason,
				ActorID:         actorID,
			})
			if err != nil {
				return nil, nil, err
			}
			movements = append(movements, m)
		}
	}

	for i := range req.Items {
		it := &req.Items[i]
		it.ApprovedQuantity = decimal.Zero
		it.RejectedQuantity = decimal.Zero
		it.IssuedQuantity = decimal.Zero
		it.Status = entity.ReqItemStatusPending
		if err := repo.UpdateItem(ctx, it); err != nil {
			return nil, nil, InternalError(err, "重置领料行项失败")
		}
	}
	if err := repo.UpdateFields(ctx, req.ID, map[string]interface{}{
		"status":         entity.ReqStatusPending,
		"approved_by":    nil,
		"approved_at":    nil,
		"approval_notes": "",
	}); err != nil {
		return nil, nil, InternalError(err, "重置领料单失败")
	}
	req.Status = entity.ReqStatusPending
	req.ApprovedBy = nil
	req.ApprovedAt = nil
	req.ApprovalNotes = ""

	s.logger.Info("requisition reopened",
		zap.String("requisition_id", req.ID),
		zap.String("reason", reason),
		zap.Int("reversals", len(movements)))
	return movements, locked, nil
}

// UpdateRequisition 修改领料单；已审批/已发料的单据先经补偿流转回到 pending
func (s *RequisitionService) UpdateRequisition(ctx context.Context, id string, in *UpdateRequisitionRequest, actorID string) (*entity.Requisition, error) {
	fields := map[string]interface{}{}
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return nil, ValidationError("标题不能为空")
		}
		fields["title"] = title
	}
	if in.Description != nil {
		fields["description"] = *in.Description
	}
	if in.Department != nil {
		fields["department"] = *in.Department
	}
	if in.Priority != nil {
		if !validPriority(*in.Priority) {
			return nil, ValidationError("无效的优先级: %s", *in.Priority).With("allowed", requisitionPriorities)
		}
		fields["priority"] = *in.Priority
	}
	if in.RequiredDate != nil {
		fields["required_date"] = *in.RequiredDate
	}

	var before entity.Requisition
	var movements []*entity.StockMovement
	var locked map[string]*entity.Item
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.reqRepo.WithTx(tx)
		req, err := repo.LockByID(ctx, id)
		if err != nil {
			return repoError(err, "领料单")
		}
		before = *req
		before.Items = append([]entity.RequisitionItem(nil), req.Items...)

		if req.Status != entity.ReqStatusPending {
			movements, locked, err = s.reopen(ctx, tx, req, actorID, "编辑")
			if err != nil {
				return err
			}
		}

		if in.Items != nil {
			items, err := s.buildItems(ctx, s.itemRepo.WithTx(tx), *in.Items)
			if err != nil {
				return err
			}
			if err := repo.ReplaceItems(ctx, id, items); err != nil {
				return InternalError(err, "替换领料行项失败")
			}
		}
		if err := repo.UpdateFields(ctx, id, fields); err != nil {
			return InternalError(err, "更新领料单失败")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(movements) > 0 {
		s.ledger.afterCommit(ctx, movements, locked)
	}
	updated, err := s.GetRequisition(ctx, id)
	if err != nil {
		return nil, err
	}
	s.events.record(ctx, entity.AuditEntityRequisition, id, "update", &before, updated, actorID)
	s.events.publish(ctx, TopicRequisition, updated)
	return updated, nil
}

// DeleteRequisition 删除领料单；已发料的先冲回库存
func (s *RequisitionService) DeleteRequisition(ctx context.Context, id, actorID string) error {
	var before *entity.Requisition
	var movements []*entity.StockMovement
	var locked map[string]*entity.Item
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := s.reqRepo.WithTx(tx)
		req, err := repo.LockByID(ctx, id)
		if err != nil {
			return repoError(err, "领料单")
		}
		snapshot := *req
		snapshot.Items = append([]entity.RequisitionItem(nil), req.Items...)
		before = &snapshot

		if req.IsIssuing() {
			movements, locked, err = s.reopen(ctx, tx, req, actorID, "删除")
			if err != nil {
				return err
			}
		}
		if err := repo.Delete(ctx, id); err != nil {
			return InternalError(err, "删除领料单失败")
		}
		return nil
	})
	if err != nil {
		return err
	}

	if len(movements) > 0 {
		s.ledger.afterCommit(ctx, movements, locked)
	}
	s.events.record(ctx, entity.AuditEntityRequisition, id, "delete", before, nil, actorID)
	s.events.publish(ctx, TopicRequisition, map[string]interface{}{"id": id, "deleted": true})
	return nil
}

func (s *RequisitionService) afterStatusChange(ctx context.Context, id, verb, from, to, actorID string) (*entity.Requisition, error) {
	s.logger.Info("requisition status changed",
		zap.String("requisition_id", id),
		zap.String("verb", verb),
		zap.String("from", from),
		zap.String("to", to))
	updated, err := s.GetRequisition(ctx, id)
	if err != nil {
		return nil, err
	}
	s.events.record(ctx, entity.AuditEntityRequisition, id, verb,
		map[string]string{"status": from}, map[string]string{"status": to}, actorID)
	s.events.publish(ctx, TopicRequisition, updated)
	return updated, nil
}
