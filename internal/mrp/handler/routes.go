package handler

import (
	"github.com/bitfantasy/nimo-mrp/internal/middleware"
	"github.com/gin-gonic/gin"
)

// 权限点
const (
	PermInventoryRead   = "mrp:inventory:read"
	PermInventoryWrite  = "mrp:inventory:write"
	PermBOMRead         = "mrp:bom:read"
	PermBOMWrite        = "mrp:bom:write"
	PermProductionRead  = "mrp:production:read"
	PermProductionWrite = "mrp:production:write"
	PermRequisitionRead = "mrp:requisition:read"
	PermRequisitionEdit = "mrp:requisition:write"
	PermRequisitionAppr = "mrp:requisition:approve"
	PermRequisitionIss  = "mrp:requisition:issue"
	PermAuditRead       = "mrp:audit:read"
)

// RegisterRoutes 在 /api/v1 下挂载 /mrp 路由
func RegisterRoutes(v1 *gin.RouterGroup, h *Handlers, jwtSecret string) {
	mrp := v1.Group("/mrp")
	mrp.Use(middleware.JWTAuth(jwtSecret))

	// 变更通知（支持 query param token）
	mrp.GET("/events", h.SSE.Stream)

	items := mrp.Group("/items")
	{
		items.GET("", middleware.RequirePermission(PermInventoryRead), h.Item.ListItems)
		items.GET("/low-stock", middleware.RequirePermission(PermInventoryRead), h.Item.LowStock)
		items.GET("/:id", middleware.RequirePermission(PermInventoryRead), h.Item.GetItem)
		items.GET("/:id/reconcile", middleware.RequirePermission(PermInventoryRead), h.Item.Reconcile)
		items.POST("", middleware.RequirePermission(PermInventoryWrite), h.Item.CreateItem)
		items.PUT("/:id", middleware.RequirePermission(PermInventoryWrite), h.Item.UpdateItem)
		items.DELETE("/:id", middleware.RequirePermission(PermInventoryWrite), h.Item.DeleteItem)
		items.POST("/:id/adjust", middleware.RequirePermission(PermInventoryWrite), h.Item.AdjustStock)
	}

	inventory := mrp.Group("/inventory")
	{
		inventory.GET("/movements", middleware.RequirePermission(PermInventoryRead), h.Inventory.ListMovements)
		inventory.GET("/movements/export", middleware.RequirePermission(PermInventoryRead), h.Inventory.ExportMovements)
		inventory.POST("/movements", middleware.RequirePermission(PermInventoryWrite), h.Inventory.RecordMovement)
		inventory.POST("/receipts", middleware.RequirePermission(PermInventoryWrite), h.Inventory.ReceivePurchase)
	}

	boms := mrp.Group("/boms")
	{
		boms.GET("", middleware.RequirePermission(PermBOMRead), h.BOM.ListBOMs)
		boms.GET("/:id", middleware.RequirePermission(PermBOMRead), h.BOM.GetBOM)
		boms.GET("/:id/explode", middleware.RequirePermission(PermBOMRead), h.BOM.Explode)
		boms.GET("/:id/export", middleware.RequirePermission(PermBOMRead), h.BOM.ExportCost)
		boms.POST("", middleware.RequirePermission(PermBOMWrite), h.BOM.CreateBOM)
		boms.PUT("/:id", middleware.RequirePermission(PermBOMWrite), h.BOM.UpdateBOM)
		boms.DELETE("/:id", middleware.RequirePermission(PermBOMWrite), h.BOM.DeleteBOM)
		boms.POST("/:id/cost", middleware.RequirePermission(PermBOMWrite), h.BOM.ComputeCost)
		boms.POST("/:id/components", middleware.RequirePermission(PermBOMWrite), h.BOM.AddComponent)
		boms.POST("/:id/components/import", middleware.RequirePermission(PermBOMWrite), h.BOM.ImportComponents)
		boms.PUT("/:id/components/:componentId", middleware.RequirePermission(PermBOMWrite), h.BOM.UpdateComponent)
		boms.DELETE("/:id/components/:componentId", middleware.RequirePermission(PermBOMWrite), h.BOM.RemoveComponent)
		boms.POST("/:id/operations", middleware.RequirePermission(PermBOMWrite), h.BOM.AddOperation)
		boms.PUT("/:id/operations/:opId", middleware.RequirePermission(PermBOMWrite), h.BOM.UpdateOperation)
		boms.DELETE("/:id/operations/:opId", middleware.RequirePermission(PermBOMWrite), h.BOM.RemoveOperation)
	}

	orders := mrp.Group("/production-orders")
	{
		orders.GET("", middleware.RequirePermission(PermProductionRead), h.Production.ListOrders)
		orders.GET("/:id", middleware.RequirePermission(PermProductionRead), h.Production.GetOrder)
		orders.POST("", middleware.RequirePermission(PermProductionWrite), h.Production.CreateOrder)
		orders.PUT("/:id", middleware.RequirePermission(PermProductionWrite), h.Production.UpdateOrder)
		orders.DELETE("/:id", middleware.RequirePermission(PermProductionWrite), h.Production.DeleteOrder)
		orders.POST("/:id/transition", middleware.RequirePermission(PermProductionWrite), h.Production.Transition)
		orders.POST("/:id/issue", middleware.RequirePermission(PermProductionWrite), h.Production.IssueMaterials)
		orders.POST("/:id/complete", middleware.RequirePermission(PermProductionWrite), h.Production.Complete)
		orders.PUT("/operations/:opId", middleware.RequirePermission(PermProductionWrite), h.Production.SetOperationStatus)
	}

	reqs := mrp.Group("/requisitions")
	{
		reqs.GET("", middleware.RequirePermission(PermRequisitionRead), h.Requisition.ListRequisitions)
		reqs.GET("/:id", middleware.RequirePermission(PermRequisitionRead), h.Requisition.GetRequisition)
		reqs.POST("", middleware.RequirePermission(PermRequisitionEdit), h.Requisition.CreateRequisition)
		reqs.PUT("/:id", middleware.RequirePermission(PermRequisitionEdit), h.Requisition.UpdateRequisition)
		reqs.DELETE("/:id", middleware.RequirePermission(PermRequisitionEdit), h.Requisition.DeleteRequisition)
		reqs.POST("/:id/approve", middleware.RequirePermission(PermRequisitionAppr), h.Requisition.Approve)
		reqs.POST("/:id/reject", middleware.RequirePermission(PermRequisitionAppr), h.Requisition.Reject)
		reqs.POST("/:id/issue", middleware.RequirePermission(PermRequisitionIss), h.Requisition.Issue)
	}

	mrp.GET("/audit-logs", middleware.RequirePermission(PermAuditRead), h.Audit.ListAuditLogs)
}
