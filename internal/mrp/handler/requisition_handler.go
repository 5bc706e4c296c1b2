package handler

import (
	"github.com/bitfantasy/nimo-mrp/internal/mrp/service"
	"github.com/gin-gonic/gin"
)

// RequisitionHandler 领料单处理器
type RequisitionHandler struct {
	svc *service.RequisitionService
}

func NewRequisitionHandler(svc *service.RequisitionService) *RequisitionHandler {
	return &RequisitionHandler{svc: svc}
}

// ListRequisitions 领料单列表
// GET /api/v1/mrp/requisitions?status=xxx&department=xxx&mine=true&search=xxx
func (h *RequisitionHandler) ListRequisitions(c *gin.Context) {
	page, pageSize := GetPagination(c)
	filters := map[string]string{
		"status":       c.Query("status"),
		"department":   c.Query("department"),
		"requested_by": c.Query("requested_by"),
		"search":       c.Query("search"),
	}
	if c.Query("mine") == "true" {
		filters["requested_by"] = GetUserID(c)
	}
	items, total, err := h.svc.ListRequisitions(c.Request.Context(), page, pageSize, filters)
	if err != nil {
		ServiceError(c, err)
		return
	}
	SuccessList(c, items, total, page, pageSize)
}

// GetRequisition 领料单详情
// GET /api/v1/mrp/requisitions/:id
func (h *RequisitionHandler) GetRequisition(c *gin.Context) {
	req, err := h.svc.GetRequisition(c.Request.Context(), c.Param("id"))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, req)
}

// CreateRequisition 创建领料单
// POST /api/v1/mrp/requisitions
func (h *RequisitionHandler) CreateRequisition(c *gin.Context) {
	var req service.CreateRequisitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	created, err := h.svc.CreateRequisition(c.Request.Context(), &req, GetUserID(c))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Created(c, created)
}

// UpdateRequisition 修改领料单（已审批的会回到待审批并冲回已发料）
// PUT /api/v1/mrp/requisitions/:id
func (h *RequisitionHandler) UpdateRequisition(c *gin.Context) {
	var req service.UpdateRequisitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	updated, err := h.svc.UpdateRequisition(c.Request.Context(), c.Param("id"), &req, GetUserID(c))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, updated)
}

// DeleteRequisition 删除领料单
// DELETE /api/v1/mrp/requisitions/:id
func (h *RequisitionHandler) DeleteRequisition(c *gin.Context) {
	if err := h.svc.DeleteRequisition(c.Request.Context(), c.Param("id"), GetUserID(c)); err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, nil)
}

// Approve 审批
// POST /api/v1/mrp/requisitions/:id/approve
func (h *RequisitionHandler) Approve(c *gin.Context) {
	var req service.ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	updated, err := h.svc.Approve(c.Request.Context(), c.Param("id"), &req, GetUserID(c))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, updated)
}

type rejectRequest struct {
	Notes string `json:"notes"`
}

// Reject 驳回
// POST /api/v1/mrp/requisitions/:id/reject
func (h *RequisitionHandler) Reject(c *gin.Context) {
	var req rejectRequest
	_ = c.ShouldBindJSON(&req)
	updated, err := h.svc.Reject(c.Request.Context(), c.Param("id"), req.Notes, GetUserID(c))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, updated)
}

type requisitionIssueRequest struct {
	Lines []service.RequisitionIssueLine `json:"lines"`
}

// Issue 发料
// POST /api/v1/mrp/requisitions/:id/issue
func (h *RequisitionHandler) Issue(c *gin.Context) {
	var req requisitionIssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	updated, err := h.svc.Issue(c.Request.Context(), c.Param("id"), req.Lines, GetUserID(c))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, updated)
}
