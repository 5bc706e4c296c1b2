package service

import (
	"context"
	"sort"
	"time"

	"github.com/bitfantasy/nimo-mrp/internal/mrp/entity"
	"github.com/bitfantasy/nimo-mrp/internal/mrp/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CostResult BOM成本汇总
type CostResult struct {
	BOMID        string          `json:"bom_id"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	LaborCost    decimal.Decimal `json:"labor_cost"`
	OverheadCost decimal.Decimal `json:"overhead_cost"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	Components   []ComponentCost `json:"components"`
	ComputedAt   time.Time       `json:"computed_at"`
}

// ComponentCost 行项成本明细
type ComponentCost struct {
	ComponentID string          `json:"component_id"`
	ItemID      string          `json:"item_id,omitempty"`
	SubBOMID    string          `json:"sub_bom_id,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	WasteFactor decimal.Decimal `json:"waste_factor"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	TotalCost   decimal.Decimal `json:"total_cost"`
	Resolved    bool            `json:"resolved"`
}

// componentPrice 行项单价；resolved=false 表示引用缺失，按0计
type componentPrice struct {
	value    decimal.Decimal
	resolved bool
}

var one = decimal.NewFromInt(1)

// costRun 一次成本计算：done 缓存本轮已算结果，inStack 防止环路
type costRun struct {
	boms    *repository.BOMRepository
	items   *repository.ItemRepository
	logger  *zap.Logger
	now     time.Time
	done    map[string]*CostResult
	inStack map[string]bool
}

func newCostRun(tx *gorm.DB, boms *repository.BOMRepository, items *repository.ItemRepository, logger *zap.Logger) *costRun {
	return &costRun{
		boms:    boms.WithTx(tx),
		items:   items.WithTx(tx),
		logger:  logger,
		now:     time.Now(),
		done:    make(map[string]*CostResult),
		inStack: make(map[string]bool),
	}
}

// compute 实时重算BOM成本（子BOM递归重算并落库）
func (r *costRun) compute(ctx context.Context, bomID string) (*CostResult, error) {
	if res, ok := r.done[bomID]; ok {
		return res, nil
	}
	if r.inStack[bomID] {
		return nil, ConflictError("BOM引用存在环路").With("bom_id", bomID)
	}
	r.inStack[bomID] = true
	defer delete(r.inStack, bomID)

	bom, err := r.boms.FindHeader(ctx, bomID)
	if err != nil {
		return nil, repoError(err, "BOM")
	}
	components, err := r.boms.FindComponents(ctx, bomID)
	if err != nil {
		return nil, InternalError(err, "查询BOM行项失败")
	}
	operations, err := r.boms.FindOperations(ctx, bomID)
	if err != nil {
		return nil, InternalError(err, "查询BOM工序失败")
	}

	itemIDs := make([]string, 0, len(components))
	for _, c := range components {
		if c.ItemID != nil && *c.ItemID != "" {
			itemIDs = append(itemIDs, *c.ItemID)
		}
	}
	items, err := r.items.FindByIDs(ctx, itemIDs)
	if err != nil {
		return nil, InternalError(err, "查询物料失败")
	}

	res := &CostResult{
		BOMID:        bomID,
		UnitCost:     decimal.Zero,
		LaborCost:    decimal.Zero,
		OverheadCost: bom.OverheadCost,
		ComputedAt:   r.now,
	}

	for _, c := range components {
		price, err := r.priceOf(ctx, bomID, &c, items)
		if err != nil {
			return nil, err
		}
		total := price.value.Mul(c.Quantity).Mul(one.Add(c.WasteFactor)).Round(4)
		if err := r.boms.SaveComponentCost(ctx, c.ID, price.value, total); err != nil {
			return nil, InternalError(err, "保存行项成本失败")
		}
		res.UnitCost = res.UnitCost.Add(total)

		cc := ComponentCost{
			ComponentID: c.ID,
			Quantity:    c.Quantity,
			WasteFactor: c.WasteFactor,
			UnitCost:    price.value,
			TotalCost:   total,
			Resolved:    price.resolved,
		}
		if c.ItemID != nil {
			cc.ItemID = *c.ItemID
		}
		if c.SubBOMID != nil {
			cc.SubBOMID = *c.SubBOMID
		}
		res.Components = append(res.Components, cc)
	}

	for i := range operations {
		res.LaborCost = res.LaborCost.Add(operations[i].LaborCost())
	}
	res.LaborCost = res.LaborCost.Round(4)
	res.UnitCost = res.UnitCost.Round(4)
	res.TotalCost = res.UnitCost.Add(res.LaborCost).Add(res.OverheadCost)

	if err := r.boms.SaveCost(ctx, bomID, res.UnitCost, res.LaborCost, res.TotalCost, r.now); err != nil {
		return nil, InternalError(err, "保存BOM成本失败")
	}
	r.done[bomID] = res
	return res, nil
}

func (r *costRun) priceOf(ctx context.Context, bomID string, c *entity.BOMComponent, items map[string]*entity.Item) (componentPrice, error) {
	if c.IsSubAssembly() {
		sub, err := r.compute(ctx, *c.SubBOMID)
		if err != nil {
			if IsKind(err, KindNotFound) {
				r.logger.Warn("sub bom missing, costed as zero",
					zap.String("bom_id", bomID),
					zap.String("component_id", c.ID),
					zap.String("sub_bom_id", *c.SubBOMID))
				return componentPrice{value: decimal.Zero}, nil
			}
			return componentPrice{}, err
		}
		return componentPrice{value: sub.TotalCost, resolved: true}, nil
	}

	if c.ItemID != nil {
		if item, ok := items[*c.ItemID]; ok {
			return componentPrice{value: item.UnitPrice, resolved: true}, nil
		}
	}
	r.logger.Warn("component item missing, costed as zero",
		zap.String("bom_id", bomID),
		zap.String("component_id", c.ID))
	return componentPrice{value: decimal.Zero}, nil
}

// cascade 沿反向引用图向上重算所有祖先BOM
func (r *costRun) cascade(ctx context.Context, bomID string) ([]string, error) {
	visited := map[string]bool{bomID: true}
	queue := []string{bomID}
	var ancestors []string

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		parents, err := r.boms.FindParentIDs(ctx, id)
		if err != nil {
			return nil, InternalError(err, "查询父BOM失败")
		}
		sort.Strings(parents)
		for _, p := range parents {
			if visited[p] {
				continue
			}
			visited[p] = true
			ancestors = append(ancestors, p)
			queue = append(queue, p)
		}
	}

	for _, id := range ancestors {
		if _, err := r.compute(ctx, id); err != nil {
			return nil, err
		}
	}
	return ancestors, nil
}

// reaches 判断从 from 出发沿子BOM引用能否到达 target
func reaches(ctx context.Context, boms *repository.BOMRepository, from, target string) (bool, error) {
	visited := map[string]bool{}
	stack := []string{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == target {
			return true, nil
		}
		if visited[id] {
			continue
		}
		visited[id] = true
		children, err := boms.FindSubBOMIDs(ctx, id)
		if err != nil {
			return false, err
		}
		stack = append(stack, children...)
	}
	return false, nil
}

// Requirement 展开后的叶子物料需求
type Requirement struct {
	ItemID   string          `json:"item_id"`
	SKU      string          `json:"sku"`
	Name     string          `json:"name"`
	Unit     string          `json:"unit"`
	Quantity decimal.Decimal `json:"quantity"`
	Item     *entity.Item    `json:"-"`
}

// explode 把BOM树展开成叶子物料，路径上的数量相乘，重复物料合并
func explode(ctx context.Context, boms *repository.BOMRepository, items *repository.ItemRepository, logger *zap.Logger, bomID string, qty decimal.Decimal) ([]Requirement, error) {
	totals := map[string]decimal.Decimal{}
	var order []string
	inStack := map[string]bool{}

	var walk func(id string, factor decimal.Decimal) error
	walk = func(id string, factor decimal.Decimal) error {
		if inStack[id] {
			return ConflictError("BOM引用存在环路").With("bom_id", id)
		}
		inStack[id] = true
		defer delete(inStack, id)

		components, err := boms.FindComponents(ctx, id)
		if err != nil {
			return InternalError(err, "查询BOM行项失败")
		}
		for _, c := range components {
			need := c.Quantity.Mul(factor)
			if c.IsSubAssembly() {
				if _, err := boms.FindHeader(ctx, *c.SubBOMID); err != nil {
					logger.Warn("sub bom missing, skipped in explosion",
						zap.String("bom_id", id),
						zap.String("sub_bom_id", *c.SubBOMID))
					continue
				}
				if err := walk(*c.SubBOMID, need); err != nil {
					return err
				}
				continue
			}
			if c.ItemID == nil || *c.ItemID == "" {
				continue
			}
			if _, ok := totals[*c.ItemID]; !ok {
				order = append(order, *c.ItemID)
				totals[*c.ItemID] = decimal.Zero
			}
			totals[*c.ItemID] = totals[*c.ItemID].Add(need)
		}
		return nil
	}

	if _, err := boms.FindHeader(ctx, bomID); err != nil {
		return nil, repoError(err, "BOM")
	}
	if err := walk(bomID, qty); err != nil {
		return nil, err
	}

	found, err := items.FindByIDs(ctx, order)
	if err != nil {
		return nil, InternalError(err, "查询物料失败")
	}
	reqs := make([]Requirement, 0, len(order))
	for _, id := range order {
		item, ok := found[id]
		if !ok {
			logger.Warn("component item missing, skipped in explosion", zap.String("item_id", id))
			continue
		}
		reqs = append(reqs, Requirement{
			ItemID:   id,
			SKU:      item.SKU,
			Name:     item.Name,
			Unit:     item.Unit,
			Quantity: totals[id],
			Item:     item,
		})
	}
	return reqs, nil
}
