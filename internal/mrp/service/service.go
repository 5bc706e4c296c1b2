package service

import (
	"github.com/bitfantasy/nimo-mrp/internal/mrp/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Options 服务装配参数
type Options struct {
	Publisher         Publisher
	Audit             AuditSink
	Archiver          Archiver
	Logger            *zap.Logger
	DefaultPriceBasis string
	// PublishBuffer>0 时通知异步投递
	PublishBuffer int
}

// Services MRP服务集合
type Services struct {
	Ledger      *LedgerService
	Item        *ItemService
	BOM         *BOMService
	Production  *ProductionService
	Requisition *RequisitionService
	Export      *ExportService
	Audit       *repository.AuditLogRepository

	events *notifier
}

// NewServices 装配MRP服务；审计默认写入 mrp_audit_logs
func NewServices(repos *repository.Repositories, db *gorm.DB, opts Options) *Services {
	audit := opts.Audit
	if audit == nil {
		audit = repos.AuditLog
	}
	events := newNotifier(opts.Publisher, audit, opts.Logger, opts.PublishBuffer)

	ledger := NewLedgerService(repos.Item, repos.Movement, db, events)
	bom := NewBOMService(repos.BOM, repos.Item, db, events)
	item := NewItemService(repos.Item, ledger, db, events)
	item.SetCostRefresher(bom)

	production := NewProductionService(repos.ProductionOrder, repos.BOM, repos.Item, ledger, db, events)
	if opts.DefaultPriceBasis != "" {
		production.SetDefaultPriceBasis(opts.DefaultPriceBasis)
	}

	return &Services{
		Ledger:      ledger,
		Item:        item,
		BOM:         bom,
		Production:  production,
		Requisition: NewRequisitionService(repos.Requisition, repos.Item, ledger, db, events),
		Export:      NewExportService(repos.Movement, repos.BOM, opts.Archiver, events.logger),
		Audit:       repos.AuditLog,
		events:      events,
	}
}

// Close 投递完队列中的通知
func (s *Services) Close() {
	s.events.close()
}
