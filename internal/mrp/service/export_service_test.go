package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/bitfantasy/nimo-mrp/internal/mrp/repository"
	"github.com/xuri/excelize/v2"
)

type memArchiver struct {
	objects map[string][]byte
	err     error
}

func (a *memArchiver) Put(_ context.Context, objectName string, data []byte, _ string) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	if a.objects == nil {
		a.objects = map[string][]byte{}
	}
	a.objects[objectName] = data
	return "mrp-exports/" + objectName, nil
}

func TestExportMovements(t *testing.T) {
	e := newTestEnv(t)
	bolt := e.item(t, "BOLT", "0.5", "100")
	if _, err := e.svc.Ledger.Adjust(e.ctx, bolt.ID, d("-3"), "盘亏", "u1"); err != nil {
		t.Fatal(err)
	}

	f, filename, err := e.svc.Export.ExportMovements(e.ctx, repository.MovementFilter{ItemID: bolt.ID})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(filename, "stock_ledger_"+bolt.ID) || !strings.HasSuffix(filename, ".xlsx") {
		t.Errorf("filename = %s", filename)
	}
	rows, err := f.GetRows("台账")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want header + 2", len(rows))
	}
	if rows[0][1] != "SKU" {
		t.Errorf("header = %v", rows[0])
	}
	for _, r := range rows[1:] {
		if r[1] != "BOLT" {
			t.Errorf("row sku = %v", r)
		}
	}
}

func TestExportBOMCostAndArchive(t *testing.T) {
	e := newTestEnv(t)
	a := e.item(t, "A", "4", "0")
	bom, err := e.svc.BOM.CreateBOM(e.ctx, &CreateBOMRequest{
		Name:       "Frame",
		Components: []ComponentInput{{ItemID: a.ID, Quantity: d("3")}},
	}, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.svc.BOM.ComputeCost(e.ctx, bom.ID); err != nil {
		t.Fatal(err)
	}

	f, filename, err := e.svc.Export.ExportBOMCost(e.ctx, bom.ID)
	if err != nil {
		t.Fatal(err)
	}
	total, err := f.GetCellValue("成本", "H2")
	if err != nil {
		t.Fatal(err)
	}
	if total != "12" {
		t.Errorf("component total = %q", total)
	}

	_, _, err = e.svc.Export.ExportBOMCost(e.ctx, "missing")
	wantKind(t, err, KindNotFound)

	// 未配置归档
	if path, err := e.svc.Export.Archive(e.ctx, f, filename); err != nil || path != "" {
		t.Errorf("nil archiver: path=%q err=%v", path, err)
	}

	arch := &memArchiver{}
	svc := NewExportService(e.repos.Movement, e.repos.BOM, arch, nil)
	path, err := svc.Archive(e.ctx, f, filename)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(path, "mrp-exports/exports/") || !strings.HasSuffix(path, filename) {
		t.Errorf("path = %s", path)
	}
	if len(arch.objects) != 1 {
		t.Fatalf("objects = %d", len(arch.objects))
	}
	for _, data := range arch.objects {
		if _, err := excelize.OpenReader(bytes.NewReader(data)); err != nil {
			t.Errorf("archived file unreadable: %v", err)
		}
	}

	arch.err = errors.New("bucket gone")
	_, err = svc.Archive(e.ctx, f, filename)
	wantKind(t, err, KindInternal)
}
