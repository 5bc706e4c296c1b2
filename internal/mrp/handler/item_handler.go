package handler

import (
	"github.com/bitfantasy/nimo-mrp/internal/mrp/service"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// ItemHandler 物料处理器
type ItemHandler struct {
	svc    *service.ItemService
	ledger *service.LedgerService
}

func NewItemHandler(svc *service.ItemService, ledger *service.LedgerService) *ItemHandler {
	return &ItemHandler{svc: svc, ledger: ledger}
}

// ListItems 物料列表
// GET /api/v1/mrp/items?search=xxx&low_stock=true
func (h *ItemHandler) ListItems(c *gin.Context) {
	page, pageSize := GetPagination(c)
	filters := map[string]string{
		"search":    c.Query("search"),
		"low_stock": c.Query("low_stock"),
	}
	items, total, err := h.svc.ListItems(c.Request.Context(), page, pageSize, filters)
	if err != nil {
		ServiceError(c, err)
		return
	}
	SuccessList(c, items, total, page, pageSize)
}

// GetItem 物料详情
// GET /api/v1/mrp/items/:id
func (h *ItemHandler) GetItem(c *gin.Context) {
	item, err := h.svc.GetItem(c.Request.Context(), c.Param("id"))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, item)
}

// LowStock 低库存物料
// GET /api/v1/mrp/items/low-stock
func (h *ItemHandler) LowStock(c *gin.Context) {
	items, err := h.svc.LowStock(c.Request.Context())
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, items)
}

// CreateItem 创建物料
// POST /api/v1/mrp/items
func (h *ItemHandler) CreateItem(c *gin.Context) {
	var req service.CreateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	item, err := h.svc.CreateItem(c.Request.Context(), &req, GetUserID(c))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Created(c, item)
}

// UpdateItem 更新物料
// PUT /api/v1/mrp/items/:id
func (h *ItemHandler) UpdateItem(c *gin.Context) {
	var req service.UpdateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	item, err := h.svc.UpdateItem(c.Request.Context(), c.Param("id"), &req, GetUserID(c))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, item)
}

// DeleteItem 删除物料
// DELETE /api/v1/mrp/items/:id
func (h *ItemHandler) DeleteItem(c *gin.Context) {
	if err := h.svc.DeleteItem(c.Request.Context(), c.Param("id"), GetUserID(c)); err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, nil)
}

type adjustRequest struct {
	Delta  decimal.Decimal `json:"delta"`
	Reason string          `json:"reason" binding:"required"`
}

// AdjustStock 盘点调整
// POST /api/v1/mrp/items/:id/adjust
func (h *ItemHandler) AdjustStock(c *gin.Context) {
	var req adjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	m, err := h.ledger.Adjust(c.Request.Context(), c.Param("id"), req.Delta, req.Reason, GetUserID(c))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Created(c, m)
}

// Reconcile 台账对账
// GET /api/v1/mrp/items/:id/reconcile
func (h *ItemHandler) Reconcile(c *gin.Context) {
	res, err := h.ledger.Reconcile(c.Request.Context(), c.Param("id"))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, res)
}
