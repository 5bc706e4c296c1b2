package handler

import (
	"github.com/bitfantasy/nimo-mrp/internal/mrp/service"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// BOMHandler BOM处理器
type BOMHandler struct {
	svc    *service.BOMService
	export *service.ExportService
	logger *zap.Logger
}

func NewBOMHandler(svc *service.BOMService, export *service.ExportService, logger *zap.Logger) *BOMHandler {
	return &BOMHandler{svc: svc, export: export, logger: logger}
}

// ListBOMs BOM列表
// GET /api/v1/mrp/boms?status=active&finished_product_id=xxx&search=xxx
func (h *BOMHandler) ListBOMs(c *gin.Context) {
	page, pageSize := GetPagination(c)
	filters := map[string]string{
		"status":              c.Query("status"),
		"finished_product_id": c.Query("finished_product_id"),
		"search":              c.Query("search"),
	}
	items, total, err := h.svc.ListBOMs(c.Request.Context(), page, pageSize, filters)
	if err != nil {
		ServiceError(c, err)
		return
	}
	SuccessList(c, items, total, page, pageSize)
}

// GetBOM BOM详情
// GET /api/v1/mrp/boms/:id
func (h *BOMHandler) GetBOM(c *gin.Context) {
	bom, err := h.svc.GetBOM(c.Request.Context(), c.Param("id"))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, bom)
}

// CreateBOM 创建BOM
// POST /api/v1/mrp/boms
func (h *BOMHandler) CreateBOM(c *gin.Context) {
	var req service.CreateBOMRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	bom, err := h.svc.CreateBOM(c.Request.Context(), &req, GetUserID(c))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Created(c, bom)
}

// UpdateBOM 更新BOM表头
// PUT /api/v1/mrp/boms/:id
func (h *BOMHandler) UpdateBOM(c *gin.Context) {
	var req service.UpdateBOMRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	bom, err := h.svc.UpdateBOM(c.Request.Context(), c.Param("id"), &req, GetUserID(c))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, bom)
}

// DeleteBOM 删除BOM
// DELETE /api/v1/mrp/boms/:id
func (h *BOMHandler) DeleteBOM(c *gin.Context) {
	if err := h.svc.DeleteBOM(c.Request.Context(), c.Param("id"), GetUserID(c)); err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, nil)
}

// AddComponent 添加行项
// POST /api/v1/mrp/boms/:id/components
func (h *BOMHandler) AddComponent(c *gin.Context) {
	var req service.ComponentInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	bom, err := h.svc.AddComponent(c.Request.Context(), c.Param("id"), req, GetUserID(c))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Created(c, bom)
}

// ImportComponents 从CSV导入行项，encoding=gbk 或自动识别
// POST /api/v1/mrp/boms/:id/components/import
func (h *BOMHandler) ImportComponents(c *gin.Context) {
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		BadRequest(c, "请上传CSV文件")
		return
	}
	defer file.Close()

	result, err := h.svc.ImportComponents(c.Request.Context(), c.Param("id"), file, c.Query("encoding"), GetUserID(c))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, result)
}

// UpdateComponent 更新行项
// PUT /api/v1/mrp/boms/:id/components/:componentId
func (h *BOMHandler) UpdateComponent(c *gin.Context) {
	var req service.ComponentInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	bom, err := h.svc.UpdateComponent(c.Request.Context(), c.Param("id"), c.Param("componentId"), req, GetUserID(c))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, bom)
}

// RemoveComponent 删除行项
// DELETE /api/v1/mrp/boms/:id/components/:componentId
func (h *BOMHandler) RemoveComponent(c *gin.Context) {
	bom, err := h.svc.RemoveComponent(c.Request.Context(), c.Param("id"), c.Param("componentId"), GetUserID(c))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, bom)
}

// AddOperation 添加工序
// POST /api/v1/mrp/boms/:id/operations
func (h *BOMHandler) AddOperation(c *gin.Context) {
	var req service.OperationInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	bom, err := h.svc.AddOperation(c.Request.Context(), c.Param("id"), req, GetUserID(c))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Created(c, bom)
}

// UpdateOperation 更新工序
// PUT /api/v1/mrp/boms/:id/operations/:opId
func (h *BOMHandler) UpdateOperation(c *gin.Context) {
	var req service.OperationInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	bom, err := h.svc.UpdateOperation(c.Request.Context(), c.Param("id"), c.Param("opId"), req, GetUserID(c))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, bom)
}

// RemoveOperation 删除工序
// DELETE /api/v1/mrp/boms/:id/operations/:opId
func (h *BOMHandler) RemoveOperation(c *gin.Context) {
	bom, err := h.svc.RemoveOperation(c.Request.Context(), c.Param("id"), c.Param("opId"), GetUserID(c))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, bom)
}

// ComputeCost 重算成本
// POST /api/v1/mrp/boms/:id/cost
func (h *BOMHandler) ComputeCost(c *gin.Context) {
	res, err := h.svc.ComputeCost(c.Request.Context(), c.Param("id"))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, res)
}

// Explode 展开物料需求
// GET /api/v1/mrp/boms/:id/explode?quantity=10
func (h *BOMHandler) Explode(c *gin.Context) {
	qty := decimal.NewFromInt(1)
	if v := c.Query("quantity"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			BadRequest(c, "quantity 格式错误")
			return
		}
		qty = d
	}
	reqs, err := h.svc.Explode(c.Request.Context(), c.Param("id"), qty)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Success(c, gin.H{"bom_id": c.Param("id"), "quantity": qty, "requirements": reqs})
}

// ExportCost 导出成本明细
// GET /api/v1/mrp/boms/:id/export?archive=true
func (h *BOMHandler) ExportCost(c *gin.Context) {
	f, filename, err := h.export.ExportBOMCost(c.Request.Context(), c.Param("id"))
	if err != nil {
		ServiceError(c, err)
		return
	}
	writeXLSX(c, h.export, h.logger, f, filename)
}
