package handler

import (
	"github.com/bitfantasy/nimo-mrp/internal/mrp/service"
	"github.com/gin-gonic/gin"
)

// ProductionHandler 生产订单处理器
type ProductionHandler struct {
	svc *service.ProductionService
}

func NewProductionHandler(svc *service.ProductionService) *ProductionHandler {
	return &ProductionHandler{svc: svc}
}

// ListOrders 生产订单列表
// GET /api/v1/mrp/production-orders?status=xxx&bom_id=xxx&search=xxx
func (h *ProductionHandler) ListOrders(c *gin.Context) {
	page, pageSize := GetPagination(c)
	filters := map[string]string{
		"status": c.Query("status"),
		"bom_id": c.Query("bom_id"),
		"search": c.Query("search"),
	}
	items, total, err := h.svc.ListOrders(c.Request.Context(), page, pageSize, filters)
	if err != nil {
		ServiceError(c, err)
		return
	}
	SuccessList(c, items, total, page, pageSize)
}

// GetOrder 生产订单详情
// GET /api/v1/mrp/production-orders/:id
func (h *ProductionHandler) GetOrder(c *gin.Context) {
	order, err := h.svc.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, order)
}

// CreateOrder 创建生产订单
// POST /api/v1/mrp/production-orders
func (h *ProductionHandler) CreateOrder(c *gin.Context) {
	var req service.CreateProductionOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	order, err := h.svc.CreateOrder(c.Request.Context(), &req, GetUserID(c))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Created(c, order)
}

// UpdateOrder 更新生产订单
// PUT /api/v1/mrp/production-orders/:id
func (h *ProductionHandler) UpdateOrder(c *gin.Context) {
	var req service.UpdateProductionOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	order, err := h.svc.UpdateOrder(c.Request.Context(), c.Param("id"), &req, GetUserID(c))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, order)
}

type transitionRequest struct {
	Status string `json:"status" binding:"required"`
}

// Transition 状态流转
// POST /api/v1/mrp/production-orders/:id/transition
func (h *ProductionHandler) Transition(c *gin.Context) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	order, err := h.svc.Transition(c.Request.Context(), c.Param("id"), req.Status, GetUserID(c))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, order)
}

type issueRequest struct {
	Lines []service.IssueLine `json:"lines"`
}

// IssueMaterials 生产发料
// POST /api/v1/mrp/production-orders/:id/issue
func (h *ProductionHandler) IssueMaterials(c *gin.Context) {
	var req issueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	order, err := h.svc.IssueMaterials(c.Request.Context(), c.Param("id"), req.Lines, GetUserID(c))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, order)
}

// Complete 完工报告
// POST /api/v1/mrp/production-orders/:id/complete
func (h *ProductionHandler) Complete(c *gin.Context) {
	var req service.CompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	order, err := h.svc.Complete(c.Request.Context(), c.Param("id"), &req, GetUserID(c))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, order)
}

type operationStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// SetOperationStatus 更新工序状态
// PUT /api/v1/mrp/production-orders/operations/:opId
func (h *ProductionHandler) SetOperationStatus(c *gin.Context) {
	var req operationStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	op, err := h.svc.SetOperationStatus(c.Request.Context(), c.Param("opId"), req.Status, GetUserID(c))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, op)
}

// DeleteOrder 删除生产订单
// DELETE /api/v1/mrp/production-orders/:id
func (h *ProductionHandler) DeleteOrder(c *gin.Context) {
	if err := h.svc.DeleteOrder(c.Request.Context(), c.Param("id"), GetUserID(c)); err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, nil)
}
