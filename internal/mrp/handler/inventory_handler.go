package handler

import (
	"bytes"
	"fmt"
	"net/url"
	"time"

	"github.com/bitfantasy/nimo-mrp/internal/mrp/repository"
	"github.com/bitfantasy/nimo-mrp/internal/mrp/service"
	"github.com/gin-gonic/gin"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// InventoryHandler 库存台账处理器
type InventoryHandler struct {
	ledger *service.LedgerService
	export *service.ExportService
	logger *zap.Logger
}

func NewInventoryHandler(ledger *service.LedgerService, export *service.ExportService, logger *zap.Logger) *InventoryHandler {
	return &InventoryHandler{ledger: ledger, export: export, logger: logger}
}

func movementFilter(c *gin.Context) (repository.MovementFilter, error) {
	f := repository.MovementFilter{
		ItemID:        c.Query("item_id"),
		ReferenceType: c.Query("reference_type"),
		ReferenceID:   c.Query("reference_id"),
	}
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("from 格式错误: %w", err)
		}
		f.From = &t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("to 格式错误: %w", err)
		}
		f.To = &t
	}
	return f, nil
}

// ListMovements 库存流水
// GET /api/v1/mrp/inventory/movements?item_id=xxx&reference_type=xxx&from=RFC3339&to=RFC3339
func (h *InventoryHandler) ListMovements(c *gin.Context) {
	filter, err := movementFilter(c)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	page, pageSize := GetPagination(c)
	items, total, err := h.ledger.ListMovements(c.Request.Context(), filter, page, pageSize)
	if err != nil {
		ServiceError(c, err)
		return
	}
	SuccessList(c, items, total, page, pageSize)
}

// RecordMovement 手工记录库存变动
// POST /api/v1/mrp/inventory/movements
func (h *InventoryHandler) RecordMovement(c *gin.Context) {
	var req service.MovementInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	req.ActorID = GetUserID(c)
	m, err := h.ledger.RecordMovement(c.Request.Context(), req)
	if err != nil {
		ServiceError(c, err)
		return
	}
	Created(c, m)
}

// ReceivePurchase 采购入库
// POST /api/v1/mrp/inventory/receipts
func (h *InventoryHandler) ReceivePurchase(c *gin.Context) {
	var req service.ReceivePurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	m, err := h.ledger.ReceivePurchase(c.Request.Context(), req, GetUserID(c))
	if err != nil {
		ServiceError(c, err)
		return
	}
	Created(c, m)
}

// ExportMovements 导出库存流水
// GET /api/v1/mrp/inventory/movements/export?item_id=xxx&archive=true
func (h *InventoryHandler) ExportMovements(c *gin.Context) {
	filter, err := movementFilter(c)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	f, filename, err := h.export.ExportMovements(c.Request.Context(), filter)
	if err != nil {
		ServiceError(c, err)
		return
	}
	writeXLSX(c, h.export, h.logger, f, filename)
}

// writeXLSX 输出xlsx；archive=true 时同时归档
func writeXLSX(c *gin.Context, export *service.ExportService, logger *zap.Logger, f *excelize.File, filename string) {
	defer f.Close()

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		InternalError(c, "生成Excel失败")
		return
	}
	if c.Query("archive") == "true" {
		path, err := export.Archive(c.Request.Context(), f, filename)
		if err != nil {
			logger.Warn("export archive failed", zap.String("file", filename), zap.Error(err))
		} else if path != "" {
			c.Header("X-Archive-Path", path)
		}
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename*=UTF-8''%s", url.PathEscape(filename)))
	c.Data(200, service.XLSXContentType, buf.Bytes())
}
