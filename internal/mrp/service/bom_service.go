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

// ComponentInput BOM行项，item_id 与 sub_bom_id 二选一
type ComponentInput struct {
	ItemID      string          `json:"item_id"`
	SubBOMID    string          `json:"sub_bom_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	WasteFactor decimal.Decimal `json:"waste_factor"`
	SortOrder   int             `json:"sort_order"`
	Notes       string          `json:"notes"`
}

// OperationInput BOM工序
type OperationInput struct {
	Name                 string          `json:"name" binding:"required"`
	SequenceNumber       int             `json:"sequence_number"`
	EstimatedTimeMinutes decimal.Decimal `json:"estimated_time_minutes"`
	LaborRate            decimal.Decimal `json:"labor_rate"`
	SkillLevel           string          `json:"skill_level"`
	Description          string          `json:"description"`
}

// CreateBOMRequest 创建BOM
type CreateBOMRequest struct {
	Name              string           `json:"name" binding:"required"`
	Version           string           `json:"version"`
	Status            string           `json:"status"`
	FinishedProductID string           `json:"finished_product_id"`
	Description       string           `json:"description"`
	OverheadCost      decimal.Decimal  `json:"overhead_cost"`
	Components        []ComponentInput `json:"components"`
	Operations        []OperationInput `json:"operations"`
}

// UpdateBOMRequest 更新BOM表头
type UpdateBOMRequest struct {
	Name              *string          `json:"name"`
	Version           *string          `json:"version"`
	Status            *string          `json:"status"`
	FinishedProductID *string          `json:"finished_product_id"`
	Description       *string          `json:"description"`
	OverheadCost      *decimal.Decimal `json:"overhead_cost"`
}

// BOMService BOM与成本引擎
type BOMService struct {
	db       *gorm.DB
	bomRepo  *repository.BOMRepository
	itemRepo *repository.ItemRepository
	events   *notifier
	logger   *zap.Logger
}

func NewBOMService(bomRepo *repository.BOMRepository, itemRepo *repository.ItemRepository, db *gorm.DB, events *notifier) *BOMService {
	return &BOMService{
		db:       db,
		bomRepo:  bomRepo,
		itemRepo: itemRepo,
		events:   events,
		logger:   events.logger.Named("bom"),
	}
}

func validBOMStatus(s string) bool {
	return s == entity.BOMStatusDraft || s == entity.BOMStatusActive || s == entity.BOMStatusObsolete
}

// ListBOMs BOM列表
func (s *BOMService) ListBOMs(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.BOM, int64, error) {
	items, total, err := s.bomRepo.FindAll(ctx, page, pageSize, filters)
	if err != nil {
		return nil, 0, InternalError(err, "查询BOM列表失败")
	}
	return items, total, nil
}

// GetBOM BOM详情
func (s *BOMService) GetBOM(ctx context.Context, id string) (*entity.BOM, error) {
	bom, err := s.bomRepo.FindByID(ctx, id)
	if err != nil {
		return nil, repoError(err, "BOM")
	}
	return bom, nil
}

func (in *ComponentInput) referencesSubBOM() bool {
	return strings.TrimSpace(in.SubBOMID) != ""
}

// checkComponent 校验行项引用与数量；parentID 非空时检查环路
func (s *BOMService) checkComponent(ctx context.Context, boms *repository.BOMRepository, items *repository.ItemRepository, parentID string, in *ComponentInput) error {
	in.ItemID = strings.TrimSpace(in.ItemID)
	in.SubBOMID = strings.TrimSpace(in.SubBOMID)
	if (in.ItemID == "") == (in.SubBOMID == "") {
		return ValidationError("行项必须且只能引用一个物料或一个子BOM")
	}
	if !in.Quantity.IsPositive() {
		return ValidationError("行项数量必须大于0")
	}
	if in.WasteFactor.IsNegative() {
		return ValidationError("损耗率不能为负")
	}
	if in.ItemID != "" {
		if _, err := items.FindByID(ctx, in.ItemID); err != nil {
			return repoError(err, "物料")
		}
		return nil
	}
	if _, err := boms.FindHeader(ctx, in.SubBOMID); err != nil {
		return repoError(err, "子BOM")
	}
	if parentID != "" {
		if in.SubBOMID == parentID {
			return ConflictError("BOM不能引用自身").With("bom_id", parentID)
		}
		cyclic, err := reaches(ctx, boms, in.SubBOMID, parentID)
		if err != nil {
			return InternalError(err, "检查BOM环路失败")
		}
		if cyclic {
			return ConflictError("子BOM已直接或间接包含当前BOM，不能形成环路").
				With("bom_id", parentID).
				With("sub_bom_id", in.SubBOMID)
		}
	}
	return nil
}

func checkOperation(in *OperationInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return ValidationError("工序名称不能为空")
	}
	if in.EstimatedTimeMinutes.IsNegative() || in.LaborRate.IsNegative() {
		return ValidationError("工时和费率不能为负")
	}
	return nil
}

func newComponent(bomID string, in ComponentInput) entity.BOMComponent {
	c := entity.BOMComponent{
		ID:          entity.NewID(),
		BOMID:       bomID,
		Quantity:    in.Quantity,
		WasteFactor: in.WasteFactor,
		SortOrder:   in.SortOrder,
		Notes:       in.Notes,
	}
	if in.ItemID != "" {
		id := in.ItemID
		c.ItemID = &id
	} else {
		id := in.SubBOMID
		c.SubBOMID = &id
	}
	return c
}

func newOperation(bomID string, in OperationInput) entity.BOMOperation {
	return entity.BOMOperation{
		ID:                   entity.NewID(),
		BOMID:                bomID,
		Name:                 strings.TrimSpace(in.Name),
		SequenceNumber:       in.SequenceNumber,
		EstimatedTimeMinutes: in.EstimatedTimeMinutes,
		LaborRate:            in.LaborRate,
		SkillLevel:           in.SkillLevel,
		Description:          in.Description,
	}
}

// rollup 在事务内重算BOM及其祖先，返回被重算的BOM
func (s *BOMService) rollup(ctx context.Context, tx *gorm.DB, bomID string) (*CostResult, []string, error) {
	run := newCostRun(tx, s.bomRepo, s.itemRepo, s.logger)
	res, err := run.compute(ctx, bomID)
	if err != nil {
		return nil, nil, err
	}
	ancestors, err := run.cascade(ctx, bomID)
	if err != nil {
		return nil, nil, err
	}
	return res, append([]string{bomID}, ancestors...), nil
}

func (s *BOMService) afterRollup(ctx context.Context, recomputed []string) {
	for _, id := range recomputed {
		s.events.publish(ctx, TopicBOMCost, map[string]interface{}{"bom_id": id})
	}
}

// CreateBOM 创建BOM（含行项、工序），并计算成本
func (s *BOMService) CreateBOM(ctx context.Context, req *CreateBOMRequest, actorID string) (*entity.BOM, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ValidationError("BOM名称不能为空")
	}
	if req.OverheadCost.IsNegative() {
		return nil, ValidationError("制造费用不能为负")
	}
	status := req.Status
	if status == "" {
		status = entity.BOMStatusDraft
	}
	if !validBOMStatus(status) {
		return nil, ValidationError("无效的BOM状态: %s", status)
	}
	version := req.Version
	if version == "" {
		version = "v1.0"
	}
	exists, err := s.bomRepo.ExistsByName(ctx, name, "")
	if err != nil {
		return nil, InternalError(err, "检查BOM名称失败")
	}
	if exists {
		return nil, ConstraintError("BOM名称 %s 已存在", name)
	}

	bom := &entity.BOM{
		ID:           entity.NewID(),
		Name:         name,
		Version:      version,
		Status:       status,
		Description:  req.Description,
		OverheadCost: req.OverheadCost,
		CreatedBy:    actorID,
	}
	if req.FinishedProductID != "" {
		if _, err := s.itemRepo.FindByID(ctx, req.FinishedProductID); err != nil {
			return nil, repoError(err, "成品物料")
		}
		fp := req.FinishedProductID
		bom.FinishedProductID = &fp
	}
	for i := range req.Components {
		// 新BOM尚未被任何BOM引用，无需环路检查
		if err := s.checkComponent(ctx, s.bomRepo, s.itemRepo, "", &req.Components[i]); err != nil {
			return nil, err
		}
		c := newComponent(bom.ID, req.Components[i])
		if c.SortOrder == 0 {
			c.SortOrder = i + 1
		}
		bom.Components = append(bom.Components, c)
	}
	for i := range req.Operations {
		if err := checkOperation(&req.Operations[i]); err != nil {
			return nil, err
		}
		op := newOperation(bom.ID, req.Operations[i])
		if op.SequenceNumber == 0 {
			op.SequenceNumber = (i + 1) * 10
		}
		bom.Operations = append(bom.Operations, op)
	}

	var recomputed []string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.bomRepo.WithTx(tx).Create(ctx, bom); err != nil {
			return repoError(err, "BOM名称 "+name)
		}
		var err error
		_, recomputed, err = s.rollup(ctx, tx, bom.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.afterRollup(ctx, recomputed)
	created, err := s.GetBOM(ctx, bom.ID)
	if err != nil {
		return nil, err
	}
	s.events.record(ctx, entity.AuditEntityBOM, bom.ID, "create", nil, created, actorID)
	s.events.publish(ctx, TopicBOMChanged, created)
	return created, nil
}

// UpdateBOM 更新BOM表头；制造费用变化时重算成本
func (s *BOMService) UpdateBOM(ctx context.Context, id string, req *UpdateBOMRequest, actorID string) (*entity.BOM, error) {
	before, err := s.bomRepo.FindHeader(ctx, id)
	if err != nil {
		return nil, repoError(err, "BOM")
	}

	fields := map[string]interface{}{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, ValidationError("BOM名称不能为空")
		}
		if name != before.Name {
			exists, err := s.bomRepo.ExistsByName(ctx, name, id)
			if err != nil {
				return nil, InternalError(err, "检查BOM名称失败")
			}
			if exists {
				return nil, ConstraintError("BOM名称 %s 已存在", name)
			}
			fields["name"] = name
		}
	}
	if req.Version != nil && *req.Version != "" {
		fields["version"] = *req.Version
	}
	if req.Status != nil {
		if !validBOMStatus(*req.Status) {
			return nil, ValidationError("无效的BOM状态: %s", *req.Status)
		}
		fields["status"] = *req.Status
	}
	if req.Description != nil {
		fields["description"] = *req.Description
	}
	if req.FinishedProductID != nil {
		if *req.FinishedProductID == "" {
			fields["finished_product_id"] = nil
		} else {
			if _, err := s.itemRepo.FindByID(ctx, *req.FinishedProductID); err != nil {
				return nil, repoError(err, "成品物料")
			}
			fields["finished_product_id"] = *req.FinishedProductID
		}
	}
	overheadChanged := false
	if req.OverheadCost != nil {
		if req.OverheadCost.IsNegative() {
			return nil, ValidationError("制造费用不能为负")
		}
		overheadChanged = !req.OverheadCost.Equal(before.OverheadCost)
		fields["overhead_cost"] = *req.OverheadCost
	}

	var recomputed []string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.bomRepo.WithTx(tx).UpdateFields(ctx, id, fields); err != nil {
			return repoError(err, "BOM")
		}
		if overheadChanged {
			var err error
			_, recomputed, err = s.rollup(ctx, tx, id)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterRollup(ctx, recomputed)
	updated, err := s.GetBOM(ctx, id)
	if err != nil {
		return nil, err
	}
	s.events.record(ctx, entity.AuditEntityBOM, id, "update", before, updated, actorID)
	s.events.publish(ctx, TopicBOMChanged, updated)
	return updated, nil
}

// DeleteBOM 删除BOM；被其他BOM或生产订单引用时拒绝
func (s *BOMService) DeleteBOM(ctx context.Context, id, actorID string) error {
	bom, err := s.bomRepo.FindHeader(ctx, id)
	if err != nil {
		return repoError(err, "BOM")
	}
	parents, err := s.bomRepo.FindParentIDs(ctx, id)
	if err != nil {
		return InternalError(err, "查询父BOM失败")
	}
	if len(parents) > 0 {
		return ConflictError("BOM %s 被其他BOM引用，不能删除", bom.Name).With("parent_bom_ids", parents)
	}
	orders, err := s.bomRepo.CountProductionOrders(ctx, id)
	if err != nil {
		return InternalError(err, "查询生产订单失败")
	}
	if orders > 0 {
		return ConflictError("BOM %s 已有生产订单，不能删除", bom.Name).With("production_orders", orders)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.bomRepo.WithTx(tx).Delete(ctx, id)
	})
	if err != nil {
		return InternalError(err, "删除BOM失败")
	}
	s.events.record(ctx, entity.AuditEntityBOM, id, "delete", bom, nil, actorID)
	s.events.publish(ctx, TopicBOMChanged, map[string]interface{}{"id": id, "deleted": true})
	return nil
}

// === 行项 ===

// mutate 行项/工序变更的公共流程：[锁引用关系] -> 锁BOM表头 -> 变更 -> 重算
// 新增子BOM引用时 graphEdit 为 true，环路检查在引用关系锁内完成
func (s *BOMService) mutate(ctx context.Context, bomID, verb, actorID string, graphEdit bool, fn func(tx *gorm.DB, boms *repository.BOMRepository, items *repository.ItemRepository) error) (*entity.BOM, error) {
	var recomputed []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		boms := s.bomRepo.WithTx(tx)
		if graphEdit {
			if err := boms.LockGraph(ctx); err != nil {
				return InternalError(err, "锁定BOM引用关系失败")
			}
		}
		if _, err := boms.LockByID(ctx, bomID); err != nil {
			return repoError(err, "BOM")
		}
		if err := fn(tx, boms, s.itemRepo.WithTx(tx)); err != nil {
			return err
		}
		var err error
		_, recomputed, err = s.rollup(ctx, tx, bomID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.afterRollup(ctx, recomputed)
	bom, err := s.GetBOM(ctx, bomID)
	if err != nil {
		return nil, err
	}
	s.events.record(ctx, entity.AuditEntityBOM, bomID, verb, nil, bom, actorID)
	s.events.publish(ctx, TopicBOMChanged, bom)
	return bom, nil
}

// AddComponent 新增行项
func (s *BOMService) AddComponent(ctx context.Context, bomID string, in ComponentInput, actorID string) (*entity.BOM, error) {
	return s.mutate(ctx, bomID, "add_component", actorID, in.referencesSubBOM(), func(tx *gorm.DB, boms *repository.BOMRepository, items *repository.ItemRepository) error {
		return s.createComponent(ctx, boms, items, bomID, in)
	})
}

// createComponent 校验并写入一条行项，排序号缺省时追加到末尾
func (s *BOMService) createComponent(ctx context.Context, boms *repository.BOMRepository, items *repository.ItemRepository, bomID string, in ComponentInput) error {
	if err := s.checkComponent(ctx, boms, items, bomID, &in); err != nil {
		return err
	}
	c := newComponent(bomID, in)
	if c.SortOrder == 0 {
		max, err := boms.MaxComponentSort(ctx, bomID)
		if err != nil {
			return InternalError(err, "查询行项排序失败")
		}
		c.SortOrder = max + 1
	}
	if err := boms.CreateComponent(ctx, &c); err != nil {
		return InternalError(err, "新增行项失败")
	}
	return nil
}

// UpdateComponent 更新行项
func (s *BOMService) UpdateComponent(ctx context.Context, bomID, componentID string, in ComponentInput, actorID string) (*entity.BOM, error) {
	return s.mutate(ctx, bomID, "update_component", actorID, in.referencesSubBOM(), func(tx *gorm.DB, boms *repository.BOMRepository, items *repository.ItemRepository) error {
		existing, err := boms.FindComponent(ctx, bomID, componentID)
		if err != nil {
			return repoError(err, "BOM行项")
		}
		if err := s.checkComponent(ctx, boms, items, bomID, &in); err != nil {
			return err
		}
		updated := newComponent(bomID, in)
		updated.ID = existing.ID
		updated.CreatedAt = existing.CreatedAt
		updated.UnitCost = existing.UnitCost
		updated.TotalCost = existing.TotalCost
		if in.SortOrder == 0 {
			updated.SortOrder = existing.SortOrder
		}
		if err := boms.UpdateComponent(ctx, &updated); err != nil {
			return InternalError(err, "更新行项失败")
		}
		return nil
	})
}

// RemoveComponent 删除行项
func (s *BOMService) RemoveComponent(ctx context.Context, bomID, componentID, actorID string) (*entity.BOM, error) {
	return s.mutate(ctx, bomID, "remove_component", actorID, false, func(tx *gorm.DB, boms *repository.BOMRepository, _ *repository.ItemRepository) error {
		if _, err := boms.FindComponent(ctx, bomID, componentID); err != nil {
			return repoError(err, "BOM行项")
		}
		if err := boms.DeleteComponent(ctx, componentID); err != nil {
			return InternalError(err, "删除行项失败")
		}
		return nil
	})
}

// === 工序 ===

// AddOperation 新增工序
func (s *BOMService) AddOperation(ctx context.Context, bomID string, in OperationInput, actorID string) (*entity.BOM, error) {
	if err := checkOperation(&in); err != nil {
		return nil, err
	}
	return s.mutate(ctx, bomID, "add_operation", actorID, false, func(tx *gorm.DB, boms *repository.BOMRepository, _ *repository.ItemRepository) error {
		op := newOperation(bomID, in)
		if op.SequenceNumber == 0 {
			ops, err := boms.FindOperations(ctx, bomID)
			if err != nil {
				return InternalError(err, "查询工序失败")
			}
			op.SequenceNumber = (len(ops) + 1) * 10
		}
		if err := boms.CreateOperation(ctx, &op); err != nil {
			return InternalError(err, "新增工序失败")
		}
		return nil
	})
}

// UpdateOperation 更新工序
func (s *BOMService) UpdateOperation(ctx context.Context, bomID, opID string, in OperationInput, actorID string) (*entity.BOM, error) {
	if err := checkOperation(&in); err != nil {
		return nil, err
	}
	return s.mutate(ctx, bomID, "update_operation", actorID, false, func(tx *gorm.DB, boms *repository.BOMRepository, _ *repository.ItemRepository) error {
		existing, err := boms.FindOperation(ctx, bomID, opID)
		if err != nil {
			return repoError(err, "BOM工序")
		}
		op := newOperation(bomID, in)
		op.ID = existing.ID
		op.CreatedAt = existing.CreatedAt
		if in.SequenceNumber == 0 {
			op.SequenceNumber = existing.SequenceNumber
		}
		if err := boms.UpdateOperation(ctx, &op); err != nil {
			return InternalError(err, "更新工序失败")
		}
		return nil
	})
}

// RemoveOperation 删除工序
func (s *BOMService) RemoveOperation(ctx context.Context, bomID, opID, actorID string) (*entity.BOM, error) {
	return s.mutate(ctx, bomID, "remove_operation", actorID, false, func(tx *gorm.DB, boms *repository.BOMRepository, _ *repository.ItemRepository) error {
		if _, err := boms.FindOperation(ctx, bomID, opID); err != nil {
			return repoError(err, "BOM工序")
		}
		if err := boms.DeleteOperation(ctx, opID); err != nil {
			return InternalError(err, "删除工序失败")
		}
		return nil
	})
}

// === 成本 ===

// ComputeCost 重算BOM成本并落库（含子BOM与祖先BOM）
func (s *BOMService) ComputeCost(ctx context.Context, bomID string) (*CostResult, error) {
	var res *CostResult
	var recomputed []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		res, recomputed, err = s.rollup(ctx, tx, bomID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.afterRollup(ctx, recomputed)
	return res, nil
}

// RefreshForItem 物料单价变化后重算直接引用它的BOM（祖先随之级联）
func (s *BOMService) RefreshForItem(ctx context.Context, itemID string) error {
	bomIDs, err := s.bomRepo.FindIDsByItem(ctx, itemID)
	if err != nil {
		return InternalError(err, "查询引用物料的BOM失败")
	}
	for _, id := range bomIDs {
		if _, err := s.ComputeCost(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Explode 按数量展开BOM的叶子物料需求（只读）
func (s *BOMService) Explode(ctx context.Context, bomID string, qty decimal.Decimal) ([]Requirement, error) {
	if !qty.IsPositive() {
		return nil, ValidationError("数量必须大于0")
	}
	return explode(ctx, s.bomRepo, s.itemRepo, s.logger, bomID, qty)
}
