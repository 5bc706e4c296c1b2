package handler

import (
	"errors"
	"strconv"

	"github.com/bitfantasy/nimo-mrp/internal/mrp/service"
	"github.com/bitfantasy/nimo-mrp/internal/mrp/sse"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handlers MRP处理器集合
type Handlers struct {
	Item        *ItemHandler
	Inventory   *InventoryHandler
	BOM         *BOMHandler
	Production  *ProductionHandler
	Requisition *RequisitionHandler
	Audit       *AuditHandler
	SSE         *SSEHandler
}

// NewHandlers 创建MRP处理器集合
func NewHandlers(svcs *service.Services, hub *sse.Hub, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		Item:        NewItemHandler(svcs.Item, svcs.Ledger),
		Inventory:   NewInventoryHandler(svcs.Ledger, svcs.Export, logger),
		BOM:         NewBOMHandler(svcs.BOM, svcs.Export, logger),
		Production:  NewProductionHandler(svcs.Production),
		Requisition: NewRequisitionHandler(svcs.Requisition),
		Audit:       NewAuditHandler(svcs.Audit),
		SSE:         NewSSEHandler(hub),
	}
}

// === 响应辅助函数 ===

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type ListResponse struct {
	Items      interface{} `json:"items"`
	Pagination *Pagination `json:"pagination"`
}

type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(200, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(201, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	ErrorWithData(c, code, message, nil)
}

// ErrorWithData 错误响应，data 携带违反约束的细节
func ErrorWithData(c *gin.Context, code int, message string, data interface{}) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = 500
	}
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

func BadRequest(c *gin.Context, message string) {
	Error(c, 40000, message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, 40400, message)
}

func Forbidden(c *gin.Context, message string) {
	Error(c, 40300, message)
}

func InternalError(c *gin.Context, message string) {
	Error(c, 50000, message)
}

var errorCodes = map[service.ErrorKind]int{
	service.KindNotFound:   40400,
	service.KindValidation: 40000,
	service.KindConflict:   40900,
	service.KindConstraint: 40901,
	service.KindInternal:   50000,
}

// ServiceError 把业务错误翻译成响应
func ServiceError(c *gin.Context, err error) {
	var e *service.Error
	if !errors.As(err, &e) {
		_ = c.Error(err)
		InternalError(c, "服务器内部错误")
		return
	}
	code, ok := errorCodes[e.Kind]
	if !ok {
		code = 50000
	}
	if e.Kind == service.KindInternal {
		// 内部错误细节只进日志
		_ = c.Error(err)
		InternalError(c, e.Message)
		return
	}
	var data interface{}
	if len(e.Details) > 0 {
		data = e.Details
	}
	ErrorWithData(c, code, e.Message, data)
}

func GetUserID(c *gin.Context) string {
	userID, _ := c.Get("user_id")
	if id, ok := userID.(string); ok {
		return id
	}
	return ""
}

func GetPagination(c *gin.Context) (page, pageSize int) {
	page = 1
	pageSize = 20

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}

	if ps := c.Query("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
			pageSize = v
		}
	}

	return page, pageSize
}

// SuccessList 分页列表响应
func SuccessList(c *gin.Context, items interface{}, total int64, page, pageSize int) {
	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}
	Success(c, ListResponse{
		Items: items,
		Pagination: &Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      int(total),
			TotalPages: totalPages,
		},
	})
}
