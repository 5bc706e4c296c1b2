package service

import (
	"sync"
	"testing"

	"github.com/bitfantasy/nimo-mrp/internal/mrp/entity"
)

func TestBOMCostRollup(t *testing.T) {
	e := newTestEnv(t)
	steel := e.item(t, "STEEL", "10", "0")

	bom, err := e.svc.BOM.CreateBOM(e.ctx, &CreateBOMRequest{
		Name: "Bracket",
		Components: []ComponentInput{
			{ItemID: steel.ID, Quantity: d("2"), WasteFactor: d("0.1")},
		},
		Operations: []OperationInput{
			{Name: "Cut", EstimatedTimeMinutes: d("30"), LaborRate: d("20")},
		},
	}, "u1")
	if err != nil {
		t.Fatalf("CreateBOM: %v", err)
	}
	wantDecimal(t, "unit_cost", bom.UnitCost, "22")
	wantDecimal(t, "labor_cost", bom.LaborCost, "10")
	wantDecimal(t, "total_cost", bom.TotalCost, "32")
	if bom.CostComputedAt == nil {
		t.Error("cost_computed_at not set")
	}
	wantDecimal(t, "component total", bom.Components[0].TotalCost, "22")

	// 制造费用计入总成本
	overhead := d("5")
	bom, err = e.svc.BOM.UpdateBOM(e.ctx, bom.ID, &UpdateBOMRequest{OverheadCost: &overhead}, "u1")
	if err != nil {
		t.Fatalf("UpdateBOM: %v", err)
	}
	wantDecimal(t, "total_cost with overhead", bom.TotalCost, "37")
}

func TestBOMCostIdempotent(t *testing.T) {
	e := newTestEnv(t)
	a := e.item(t, "A", "3.3333", "0")
	bom, err := e.svc.BOM.CreateBOM(e.ctx, &CreateBOMRequest{
		Name:       "Idem",
		Components: []ComponentInput{{ItemID: a.ID, Quantity: d("3"), WasteFactor: d("0.05")}},
	}, "u1")
	if err != nil {
		t.Fatal(err)
	}

	first, err := e.svc.BOM.ComputeCost(e.ctx, bom.ID)
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.svc.BOM.ComputeCost(e.ctx, bom.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !first.TotalCost.Equal(second.TotalCost) || !first.UnitCost.Equal(second.UnitCost) {
		t.Errorf("rollup not idempotent: %s vs %s", first.TotalCost, second.TotalCost)
	}
	wantDecimal(t, "unit_cost", second.UnitCost, "10.4999")
}

func TestNestedBOMCostAndCascade(t *testing.T) {
	e := newTestEnv(t)
	motor := e.item(t, "MOTOR", "50", "0")

	sub, err := e.svc.BOM.CreateBOM(e.ctx, &CreateBOMRequest{
		Name:       "Drive",
		Components: []ComponentInput{{ItemID: motor.ID, Quantity: d("1")}},
	}, "u1")
	if err != nil {
		t.Fatal(err)
	}
	parent, err := e.svc.BOM.CreateBOM(e.ctx, &CreateBOMRequest{
		Name:       "Robot",
		Components: []ComponentInput{{SubBOMID: sub.ID, Quantity: d("3")}},
	}, "u1")
	if err != nil {
		t.Fatal(err)
	}
	wantDecimal(t, "parent unit_cost", parent.UnitCost, "150")

	// 物料调价后，子BOM与父BOM都随之重算
	price := d("60")
	if _, err := e.svc.Item.UpdateItem(e.ctx, motor.ID, &UpdateItemRequest{UnitPrice: &price}, "u1"); err != nil {
		t.Fatalf("UpdateItem: %v", err)
	}
	got, err := e.svc.BOM.GetBOM(e.ctx, parent.ID)
	if err != nil {
		t.Fatal(err)
	}
	wantDecimal(t, "parent unit_cost after reprice", got.UnitCost, "180")

	// 子BOM加工序，父BOM级联
	if _, err := e.svc.BOM.AddOperation(e.ctx, sub.ID, OperationInput{
		Name: "Assemble", EstimatedTimeMinutes: d("60"), LaborRate: d("12"),
	}, "u1"); err != nil {
		t.Fatal(err)
	}
	got, err = e.svc.BOM.GetBOM(e.ctx, parent.ID)
	if err != nil {
		t.Fatal(err)
	}
	wantDecimal(t, "parent unit_cost after sub labor", got.UnitCost, "216")

	// 被引用的子BOM不能删除
	wantKind(t, e.svc.BOM.DeleteBOM(e.ctx, sub.ID, "u1"), KindConflict)
}

func TestBOMCycleRejected(t *testing.T) {
	e := newTestEnv(t)
	x := e.item(t, "X", "1", "0")

	a, err := e.svc.BOM.CreateBOM(e.ctx, &CreateBOMRequest{
		Name: "A", Components: []ComponentInput{{ItemID: x.ID, Quantity: d("1")}},
	}, "u1")
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.svc.BOM.CreateBOM(e.ctx, &CreateBOMRequest{
		Name: "B", Components: []ComponentInput{{SubBOMID: a.ID, Quantity: d("1")}},
	}, "u1")
	if err != nil {
		t.Fatal(err)
	}
	c, err := e.svc.BOM.CreateBOM(e.ctx, &CreateBOMRequest{
		Name: "C", Components: []ComponentInput{{SubBOMID: b.ID, Quantity: d("1")}},
	}, "u1")
	if err != nil {
		t.Fatal(err)
	}

	// 自引用
	_, err = e.svc.BOM.AddComponent(e.ctx, a.ID, ComponentInput{SubBOMID: a.ID, Quantity: d("1")}, "u1")
	wantKind(t, err, KindConflict)

	// A -> C -> B -> A
	_, err = e.svc.BOM.AddComponent(e.ctx, a.ID, ComponentInput{SubBOMID: c.ID, Quantity: d("1")}, "u1")
	wantKind(t, err, KindConflict)

	got, err := e.svc.BOM.GetBOM(e.ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Components) != 1 {
		t.Errorf("rejected component persisted: %d components", len(got.Components))
	}
}

func TestBOMComponentValidation(t *testing.T) {
	e := newTestEnv(t)
	x := e.item(t, "X", "1", "0")
	bom, err := e.svc.BOM.CreateBOM(e.ctx, &CreateBOMRequest{Name: "V"}, "u1")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		in   ComponentInput
		kind ErrorKind
	}{
		{"no reference", ComponentInput{Quantity: d("1")}, KindValidation},
		{"both references", ComponentInput{ItemID: x.ID, SubBOMID: bom.ID, Quantity: d("1")}, KindValidation},
		{"zero quantity", ComponentInput{ItemID: x.ID, Quantity: d("0")}, KindValidation},
		{"negative waste", ComponentInput{ItemID: x.ID, Quantity: d("1"), WasteFactor: d("-0.1")}, KindValidation},
		{"unknown item", ComponentInput{ItemID: "nope", Quantity: d("1")}, KindNotFound},
		{"unknown sub bom", ComponentInput{SubBOMID: "nope", Quantity: d("1")}, KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.BOM.AddComponent(e.ctx, bom.ID, tt.in, "u1")
			wantKind(t, err, tt.kind)
		})
	}

	_, err = e.svc.BOM.CreateBOM(e.ctx, &CreateBOMRequest{Name: "V"}, "u1")
	wantKind(t, err, KindConstraint)
}

func TestBOMExplode(t *testing.T) {
	e := newTestEnv(t)
	screw := e.item(t, "SCREW", "0.1", "0")
	plate := e.item(t, "PLATE", "4", "0")

	sub, err := e.svc.BOM.CreateBOM(e.ctx, &CreateBOMRequest{
		Name: "Frame",
		Components: []ComponentInput{
			{ItemID: screw.ID, Quantity: d("4")},
			{ItemID: plate.ID, Quantity: d("1")},
		},
	}, "u1")
	if err != nil {
		t.Fatal(err)
	}
	top, err := e.svc.BOM.CreateBOM(e.ctx, &CreateBOMRequest{
		Name: "Cabinet",
		Components: []ComponentInput{
			{SubBOMID: sub.ID, Quantity: d("2")},
			{ItemID: screw.ID, Quantity: d("6"), WasteFactor: d("0.5")},
		},
	}, "u1")
	if err != nil {
		t.Fatal(err)
	}

	reqs, err := e.svc.BOM.Explode(e.ctx, top.ID, d("3"))
	if err != nil {
		t.Fatalf("Explode: %v", err)
	}
	got := map[string]string{}
	for _, r := range reqs {
		got[r.SKU] = r.Quantity.String()
	}
	// screw: 3*2*4 + 3*6 = 42（展开不计损耗）; plate: 3*2*1 = 6
	if !d(got["SCREW"]).Equal(d("42")) || !d(got["PLATE"]).Equal(d("6")) || len(got) != 2 {
		t.Errorf("Explode() = %v", got)
	}

	_, err = e.svc.BOM.Explode(e.ctx, top.ID, d("0"))
	wantKind(t, err, KindValidation)
}

func TestConcurrentSubBOMEditsStayAcyclic(t *testing.T) {
	e := newTestEnv(t)
	x := e.item(t, "X", "1", "0")

	boms := make([]*entity.BOM, 2)
	for i, name := range []string{"A", "B"} {
		b, err := e.svc.BOM.CreateBOM(e.ctx, &CreateBOMRequest{
			Name: name, Components: []ComponentInput{{ItemID: x.ID, Quantity: d("1")}},
		}, "u1")
		if err != nil {
			t.Fatal(err)
		}
		boms[i] = b
	}
	a, b := boms[0], boms[1]

	// A -> B 与 B -> A 同时提交，只能成功一个
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, pair := range [][2]string{{a.ID, b.ID}, {b.ID, a.ID}} {
		wg.Add(1)
		go func(i int, parent, sub string) {
			defer wg.Done()
			_, errs[i] = e.svc.BOM.AddComponent(e.ctx, parent, ComponentInput{SubBOMID: sub, Quantity: d("1")}, "u1")
		}(i, pair[0], pair[1])
	}
	wg.Wait()

	succeeded := 0
	for i, err := range errs {
		if err == nil {
			succeeded++
		} else if KindOf(err) != KindConflict {
			t.Errorf("edit %d: unexpected error %v", i, err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("succeeded = %d, want 1 (errs=%v)", succeeded, errs)
	}

	for _, id := range []string{a.ID, b.ID} {
		if _, err := e.svc.BOM.ComputeCost(e.ctx, id); err != nil {
			t.Errorf("ComputeCost(%s) after concurrent edits: %v", id, err)
		}
	}

	var locks int64
	if err := e.db.Model(&entity.BOMGraphLock{}).Count(&locks).Error; err != nil {
		t.Fatal(err)
	}
	if locks != 1 {
		t.Errorf("graph lock rows = %d, want 1", locks)
	}
}
