package service

import (
	"strings"
	"testing"

	"golang.org/x/text/encoding/simplifiedchinese"
)

func gbk(t *testing.T, s string) string {
	t.Helper()
	out, err := simplifiedchinese.GBK.NewEncoder().String(s)
	if err != nil {
		t.Fatalf("encode gbk: %v", err)
	}
	return out
}

func TestImportComponentsGBK(t *testing.T) {
	e := newTestEnv(t)
	steel := e.item(t, "STEEL", "10", "0")
	e.item(t, "PAINT", "2", "0")

	bom, err := e.svc.BOM.CreateBOM(e.ctx, &CreateBOMRequest{Name: "Bracket"}, "u1")
	if err != nil {
		t.Fatal(err)
	}

	csv := "物料编码,用量,损耗率,备注\n" +
		"STEEL,2,0.1,冷轧钢板\n" +
		"MISSING,1,,\n" +
		"PAINT,abc,,\n" +
		"PAINT,0.5,,面漆\n"
	result, err := e.svc.BOM.ImportComponents(e.ctx, bom.ID, strings.NewReader(gbk(t, csv)), "", "u1")
	if err != nil {
		t.Fatalf("ImportComponents: %v", err)
	}
	if result.Created != 2 || result.Failed != 2 {
		t.Fatalf("created=%d failed=%d rows=%v", result.Created, result.Failed, result.Rows)
	}
	if result.Rows[0].Line != 4 && result.Rows[1].Line != 4 {
		t.Errorf("bad quantity line not reported: %v", result.Rows)
	}

	// 10*2*1.1 + 2*0.5
	wantDecimal(t, "unit_cost", result.BOM.UnitCost, "23")
	var notes string
	for _, c := range result.BOM.Components {
		if c.ItemID != nil && *c.ItemID == steel.ID {
			notes = c.Notes
		}
	}
	if notes != "冷轧钢板" {
		t.Errorf("notes = %q, want decoded 冷轧钢板", notes)
	}
}

func TestImportComponentsUTF8AndSubBOM(t *testing.T) {
	e := newTestEnv(t)
	x := e.item(t, "X", "3", "0")

	sub, err := e.svc.BOM.CreateBOM(e.ctx, &CreateBOMRequest{
		Name: "Sub", Components: []ComponentInput{{ItemID: x.ID, Quantity: d("1")}},
	}, "u1")
	if err != nil {
		t.Fatal(err)
	}
	top, err := e.svc.BOM.CreateBOM(e.ctx, &CreateBOMRequest{Name: "Top"}, "u1")
	if err != nil {
		t.Fatal(err)
	}

	// 带 UTF-8 BOM 头，英文表头
	csv := "\xef\xbb\xbfsku,sub_bom_id,quantity\n" +
		"," + sub.ID + ",2\n" +
		"X," + sub.ID + ",1\n"
	result, err := e.svc.BOM.ImportComponents(e.ctx, top.ID, strings.NewReader(csv), "", "u1")
	if err != nil {
		t.Fatalf("ImportComponents: %v", err)
	}
	if result.Created != 1 || result.Failed != 1 {
		t.Fatalf("created=%d failed=%d rows=%v", result.Created, result.Failed, result.Rows)
	}
	wantDecimal(t, "unit_cost", result.BOM.UnitCost, "6")

	// 反向引用形成环路，整行被拒
	cyc := "sub_bom_id,quantity\n" + top.ID + ",1\n"
	result, err = e.svc.BOM.ImportComponents(e.ctx, sub.ID, strings.NewReader(cyc), "", "u1")
	if err != nil {
		t.Fatalf("ImportComponents: %v", err)
	}
	if result.Created != 0 || result.Failed != 1 {
		t.Fatalf("cyclic import created=%d failed=%d", result.Created, result.Failed)
	}
}

func TestImportComponentsRejectsBadFile(t *testing.T) {
	e := newTestEnv(t)
	bom, err := e.svc.BOM.CreateBOM(e.ctx, &CreateBOMRequest{Name: "Empty"}, "u1")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		body string
		kind ErrorKind
	}{
		{"empty", "", KindValidation},
		{"no quantity column", "sku,notes\nX,a\n", KindValidation},
		{"no reference column", "quantity\n1\n", KindValidation},
		{"header only", "sku,quantity\n", KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.BOM.ImportComponents(e.ctx, bom.ID, strings.NewReader(tt.body), "", "u1")
			wantKind(t, err, tt.kind)
		})
	}

	_, err = e.svc.BOM.ImportComponents(e.ctx, "missing", strings.NewReader("sku,quantity\nX,1\n"), "", "u1")
	wantKind(t, err, KindNotFound)
}
