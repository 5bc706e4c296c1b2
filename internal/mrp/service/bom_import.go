package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/bitfantasy/nimo-mrp/internal/mrp/entity"
	"github.com/bitfantasy/nimo-mrp/internal/mrp/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
	"gorm.io/gorm"
)

// ImportResult 行项导入结果
type ImportResult struct {
	Created int              `json:"created"`
	Failed  int              `json:"errors"`
	Rows    []ImportRowError `json:"error_rows,omitempty"`
	BOM     *entity.BOM      `json:"bom,omitempty"`
}

// ImportRowError 导入失败的行
type ImportRowError struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

func (r *ImportResult) fail(line int, err error) {
	msg := err.Error()
	var e *Error
	if errors.As(err, &e) {
		msg = e.Message
	}
	r.Failed++
	r.Rows = append(r.Rows, ImportRowError{Line: line, Message: msg})
}

// 表头别名 -> 列
var importColumns = map[string]string{
	"sku":          "sku",
	"物料编码":         "sku",
	"sub_bom_id":   "sub_bom",
	"子bom":         "sub_bom",
	"quantity":     "quantity",
	"qty":          "quantity",
	"用量":           "quantity",
	"数量":           "quantity",
	"waste_factor": "waste",
	"损耗率":          "waste",
	"notes":        "notes",
	"备注":           "notes",
}

type importRow struct {
	line int
	sku  string
	in   ComponentInput
}

// decodeImport 去掉 UTF-8 BOM；指定 gbk 或内容不是合法 UTF-8 时按 GBK 解码
func decodeImport(r io.Reader, encoding string) (io.Reader, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if strings.EqualFold(encoding, "gbk") || (encoding == "" && !utf8.Valid(data)) {
		// GBK → UTF-8
		return transform.NewReader(bytes.NewReader(data), simplifiedchinese.GBK.NewDecoder()), nil
	}
	return bytes.NewReader(data), nil
}

// parseImport 解析CSV；表头决定列位置，单行错误记入结果不中断
func parseImport(r io.Reader, result *ImportResult) ([]importRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ValidationError("导入文件为空")
	}
	if err != nil {
		return nil, ValidationError("无法解析CSV表头: %v", err)
	}
	cols := map[string]int{}
	for i, h := range header {
		if key, ok := importColumns[strings.ToLower(strings.TrimSpace(h))]; ok {
			cols[key] = i
		}
	}
	if _, ok := cols["quantity"]; !ok {
		return nil, ValidationError("缺少用量列")
	}
	_, hasSKU := cols["sku"]
	_, hasSub := cols["sub_bom"]
	if !hasSKU && !hasSub {
		return nil, ValidationError("缺少物料编码或子BOM列")
	}

	field := func(rec []string, key string) string {
		i, ok := cols[key]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var rows []importRow
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				result.fail(pe.StartLine, err)
				continue
			}
			return nil, ValidationError("读取CSV失败: %v", err)
		}
		line, _ := cr.FieldPos(0)
		if strings.TrimSpace(strings.Join(rec, "")) == "" {
			continue
		}

		row := importRow{line: line, sku: field(rec, "sku")}
		row.in.SubBOMID = field(rec, "sub_bom")
		row.in.Notes = field(rec, "notes")
		qty, err := decimal.NewFromString(field(rec, "quantity"))
		if err != nil {
			result.fail(line, ValidationError("用量 %q 不是数字", field(rec, "quantity")))
			continue
		}
		row.in.Quantity = qty
		if w := field(rec, "waste"); w != "" {
			waste, err := decimal.NewFromString(w)
			if err != nil {
				result.fail(line, ValidationError("损耗率 %q 不是数字", w))
				continue
			}
			row.in.WasteFactor = waste
		}
		if row.sku != "" && row.in.SubBOMID != "" {
			result.fail(line, ValidationError("行项必须且只能引用一个物料或一个子BOM"))
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ImportComponents 从CSV导入行项（支持GBK编码）；单行校验失败跳过，其余行在同一事务内写入并重算成本
func (s *BOMService) ImportComponents(ctx context.Context, bomID string, r io.Reader, encoding, actorID string) (*ImportResult, error) {
	decoded, err := decodeImport(r, encoding)
	if err != nil {
		return nil, ValidationError("读取导入文件失败: %v", err)
	}
	result := &ImportResult{}
	rows, err := parseImport(decoded, result)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 && result.Failed == 0 {
		return nil, ValidationError("导入文件没有行项")
	}

	graphEdit := false
	for i := range rows {
		if rows[i].in.referencesSubBOM() {
			graphEdit = true
		}
	}

	bom, err := s.mutate(ctx, bomID, "import_components", actorID, graphEdit, func(tx *gorm.DB, boms *repository.BOMRepository, items *repository.ItemRepository) error {
		for _, row := range rows {
			in := row.in
			if row.sku != "" {
				item, err := items.FindBySKU(ctx, row.sku)
				if err != nil {
					if !errors.Is(err, repository.ErrNotFound) {
						return InternalError(err, "查询物料失败")
					}
					result.fail(row.line, NotFoundError("物料 %s 不存在", row.sku))
					continue
				}
				in.ItemID = item.ID
			}
			if err := s.createComponent(ctx, boms, items, bomID, in); err != nil {
				if KindOf(err) == KindInternal {
					return err
				}
				result.fail(row.line, err)
				continue
			}
			result.Created++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.BOM = bom

	s.logger.Info("bom components imported",
		zap.String("bom_id", bomID),
		zap.Int("created", result.Created),
		zap.Int("failed", result.Failed))
	return result, nil
}
