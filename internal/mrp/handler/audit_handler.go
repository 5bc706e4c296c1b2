package handler

import (
	"github.com/bitfantasy/nimo-mrp/internal/mrp/repository"
	"github.com/gin-gonic/gin"
)

// AuditHandler 审计日志
type AuditHandler struct {
	repo *repository.AuditLogRepository
}

func NewAuditHandler(repo *repository.AuditLogRepository) *AuditHandler {
	return &AuditHandler{repo: repo}
}

// ListAuditLogs 某实体的审计记录
// GET /api/v1/mrp/audit-logs?entity_type=requisition&entity_id=xxx
func (h *AuditHandler) ListAuditLogs(c *gin.Context) {
	entityType, entityID := c.Query("entity_type"), c.Query("entity_id")
	if entityType == "" || entityID == "" {
		BadRequest(c, "entity_type 和 entity_id 不能为空")
		return
	}
	page, pageSize := GetPagination(c)
	items, total, err := h.repo.FindByEntity(c.Request.Context(), entityType, entityID, page, pageSize)
	if err != nil {
		InternalError(c, "查询审计日志失败")
		return
	}
	SuccessList(c, items, total, page, pageSize)
}
