package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-mrp/internal/mrp/repository"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// XLSXContentType xlsx 的 MIME 类型
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Archiver 导出文件归档
type Archiver interface {
	Put(ctx context.Context, objectName string, data []byte, contentType string) (string, error)
}

// ExportService 台账、BOM成本导出
type ExportService struct {
	movementRepo *repository.StockMovementRepository
	bomRepo      *repository.BOMRepository
	archiver     Archiver
	logger       *zap.Logger
}

func NewExportService(movementRepo *repository.StockMovementRepository, bomRepo *repository.BOMRepository, archiver Archiver, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{
		movementRepo: movementRepo,
		bomRepo:      bomRepo,
		archiver:     archiver,
		logger:       logger.Named("export"),
	}
}

var movementExportHeaders = []string{
	"时间", "SKU", "物料名称", "类型", "数量", "变动", "结存", "单位成本",
	"来源类型", "来源单号", "操作人", "备注",
}

var bomCostExportHeaders = []string{
	"序号", "类型", "SKU/子BOM", "名称", "用量", "损耗率", "单价", "小计", "备注",
}

func newSheet(name string, headers []string) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", name); err != nil {
		return nil, err
	}

	// 表头样式: 加粗
	boldStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	for i, h := range headers {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := col + "1"
		f.SetCellValue(name, cell, h)
		f.SetCellStyle(name, cell, cell, boldStyle)
	}
	return f, nil
}

func setColWidths(f *excelize.File, sheet string, widths []float64) {
	for i, w := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheet, col, col, w)
	}
}

// ExportMovements 导出库存流水
func (s *ExportService) ExportMovements(ctx context.Context, filter repository.MovementFilter) (*excelize.File, string, error) {
	movements, err := s.movementRepo.FindAllUnpaged(ctx, filter)
	if err != nil {
		return nil, "", InternalError(err, "查询库存流水失败")
	}

	sheet := "台账"
	f, err := newSheet(sheet, movementExportHeaders)
	if err != nil {
		return nil, "", InternalError(err, "创建导出文件失败")
	}

	for i, m := range movements {
		row := i + 2
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), m.CreatedAt.Format("2006-01-02 15:04:05"))
		if m.Item != nil {
			f.SetCellValue(sheet, fmt.Sprintf("B%d", row), m.Item.SKU)
			f.SetCellValue(sheet, fmt.Sprintf("C%d", row), m.Item.Name)
		}
		f.SetCellValue(sheet, fmt.Sprintf("D%d", row), m.Type)
		f.SetCellValue(sheet, fmt.Sprintf("E%d", row), m.Quantity.InexactFloat64())
		f.SetCellValue(sheet, fmt.Sprintf("F%d", row), m.Delta.InexactFloat64())
		f.SetCellValue(sheet, fmt.Sprintf("G%d", row), m.BalanceAfter.InexactFloat64())
		f.SetCellValue(sheet, fmt.Sprintf("H%d", row), m.UnitCost.InexactFloat64())
		f.SetCellValue(sheet, fmt.Sprintf("I%d", row), m.ReferenceType)
		f.SetCellValue(sheet, fmt.Sprintf("J%d", row), m.ReferenceNumber)
		f.SetCellValue(sheet, fmt.Sprintf("K%d", row), m.CreatedBy)
		f.SetCellValue(sheet, fmt.Sprintf("L%d", row), m.Notes)
	}
	setColWidths(f, sheet, []float64{20, 16, 20, 12, 10, 10, 10, 10, 16, 18, 14, 24})

	name := "stock_ledger"
	if filter.ItemID != "" {
		name += "_" + filter.ItemID
	}
	filename := fmt.Sprintf("%s_%s.xlsx", name, time.Now().Format("20060102150405"))
	return f, filename, nil
}

// ExportBOMCost 导出BOM成本明细（按最近一次汇总的快照）
func (s *ExportService) ExportBOMCost(ctx context.Context, bomID string) (*excelize.File, string, error) {
	bom, err := s.bomRepo.FindByID(ctx, bomID)
	if err != nil {
		return nil, "", repoError(err, "BOM")
	}

	sheet := "成本"
	f, err := newSheet(sheet, bomCostExportHeaders)
	if err != nil {
		return nil, "", InternalError(err, "创建导出文件失败")
	}

	for i, c := range bom.Components {
		row := i + 2
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), i+1)
		if c.IsSubAssembly() {
			f.SetCellValue(sheet, fmt.Sprintf("B%d", row), "子BOM")
			f.SetCellValue(sheet, fmt.Sprintf("C%d", row), *c.SubBOMID)
			if sub, err := s.bomRepo.FindHeader(ctx, *c.SubBOMID); err == nil {
				f.SetCellValue(sheet, fmt.Sprintf("D%d", row), sub.Name)
			}
		} else {
			f.SetCellValue(sheet, fmt.Sprintf("B%d", row), "物料")
			if c.Item != nil {
				f.SetCellValue(sheet, fmt.Sprintf("C%d", row), c.Item.SKU)
				f.SetCellValue(sheet, fmt.Sprintf("D%d", row), c.Item.Name)
			}
		}
		f.SetCellValue(sheet, fmt.Sprintf("E%d", row), c.Quantity.InexactFloat64())
		f.SetCellValue(sheet, fmt.Sprintf("F%d", row), c.WasteFactor.InexactFloat64())
		f.SetCellValue(sheet, fmt.Sprintf("G%d", row), c.UnitCost.InexactFloat64())
		f.SetCellValue(sheet, fmt.Sprintf("H%d", row), c.TotalCost.InexactFloat64())
		f.SetCellValue(sheet, fmt.Sprintf("I%d", row), c.Notes)
	}

	// 底部汇总
	summaryStyle, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	row := len(bom.Components) + 3
	summary := [][2]interface{}{
		{"物料成本", bom.UnitCost.InexactFloat64()},
		{"人工成本", bom.LaborCost.InexactFloat64()},
		{"制造费用", bom.OverheadCost.InexactFloat64()},
		{"总成本", bom.TotalCost.InexactFloat64()},
	}
	for i, kv := range summary {
		r := row + i
		f.SetCellValue(sheet, fmt.Sprintf("G%d", r), kv[0])
		f.SetCellValue(sheet, fmt.Sprintf("H%d", r), kv[1])
		f.SetCellStyle(sheet, fmt.Sprintf("G%d", r), fmt.Sprintf("H%d", r), summaryStyle)
	}
	setColWidths(f, sheet, []float64{6, 8, 18, 24, 10, 10, 12, 12, 24})

	filename := fmt.Sprintf("bom_cost_%s_%s.xlsx", bom.Name, bom.Version)
	return f, filename, nil
}

// Archive 把导出文件存档；未配置对象存储时直接返回空路径
func (s *ExportService) Archive(ctx context.Context, f *excelize.File, filename string) (string, error) {
	if s.archiver == nil {
		return "", nil
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return "", InternalError(err, "生成导出文件失败")
	}
	objectName := fmt.Sprintf("exports/%s/%s", time.Now().Format("2006/01/02"), filename)
	path, err := s.archiver.Put(ctx, objectName, buf.Bytes(), XLSXContentType)
	if err != nil {
		s.logger.Warn("archive export failed", zap.String("object", objectName), zap.Error(err))
		return "", InternalError(err, "归档导出文件失败")
	}
	s.logger.Info("export archived", zap.String("path", path))
	return path, nil
}
