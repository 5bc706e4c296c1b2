package service

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-mrp/internal/mrp/entity"
	"github.com/shopspring/decimal"
)

type requisitionFixture struct {
	*testEnv
	bolt *entity.Item
	nut  *entity.Item
}

func newRequisitionFixture(t *testing.T) *requisitionFixture {
	t.Helper()
	e := newTestEnv(t)
	return &requisitionFixture{
		testEnv: e,
		bolt:    e.item(t, "BOLT", "0.5", "100"),
		nut:     e.item(t, "NUT", "0.2", "50"),
	}
}

func (f *requisitionFixture) create(t *testing.T, bolt, nut string) *entity.Requisition {
	t.Helper()
	req, err := f.svc.Requisition.CreateRequisition(f.ctx, &CreateRequisitionRequest{
		Title:      "装配线领料",
		Department: "production",
		Items: []RequisitionItemInput{
			{ItemID: f.bolt.ID, Quantity: d(bolt)},
			{ItemID: f.nut.ID, Quantity: d(nut)},
		},
	}, "u1")
	if err != nil {
		t.Fatalf("CreateRequisition: %v", err)
	}
	return req
}

func lineFor(req *entity.Requisition, itemID string) *entity.RequisitionItem {
	for i := range req.Items {
		if req.Items[i].ItemID == itemID {
			return &req.Items[i]
		}
	}
	return nil
}

func netDelta(ms []entity.StockMovement) decimal.Decimal {
	sum := decimal.Zero
	for _, m := range ms {
		sum = sum.Add(m.Delta)
	}
	return sum
}

func TestCreateRequisitionValidation(t *testing.T) {
	f := newRequisitionFixture(t)

	tests := []struct {
		name string
		req  CreateRequisitionRequest
		kind ErrorKind
	}{
		{"blank title", CreateRequisitionRequest{Title: " ", Items: []RequisitionItemInput{{ItemID: f.bolt.ID, Quantity: d("1")}}}, KindValidation},
		{"no items", CreateRequisitionRequest{Title: "x"}, KindValidation},
		{"zero quantity", CreateRequisitionRequest{Title: "x", Items: []RequisitionItemInput{{ItemID: f.bolt.ID, Quantity: d("0")}}}, KindValidation},
		{"bad priority", CreateRequisitionRequest{Title: "x", Priority: "asap", Items: []RequisitionItemInput{{ItemID: f.bolt.ID, Quantity: d("1")}}}, KindValidation},
		{"unknown item", CreateRequisitionRequest{Title: "x", Items: []RequisitionItemInput{{ItemID: "missing", Quantity: d("1")}}}, KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Requisition.CreateRequisition(f.ctx, &tt.req, "u1")
			wantKind(t, err, tt.kind)
		})
	}

	req := f.create(t, "10", "20")
	if req.Status != entity.ReqStatusPending || req.Priority != "normal" {
		t.Errorf("status=%s priority=%s", req.Status, req.Priority)
	}
	if req.RequisitionNumber == "" || req.RequestedBy != "u1" {
		t.Errorf("number=%q requested_by=%q", req.RequisitionNumber, req.RequestedBy)
	}
	if len(req.Items) != 2 {
		t.Fatalf("items = %d", len(req.Items))
	}
}

func TestApproveRollup(t *testing.T) {
	t.Run("all approved", func(t *testing.T) {
		f := newRequisitionFixture(t)
		req := f.create(t, "10", "20")
		got, err := f.svc.Requisition.Approve(f.ctx, req.ID, &ApproveRequest{Notes: "ok"}, "mgr")
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != entity.ReqStatusApproved {
			t.Errorf("status = %s", got.Status)
		}
		if got.ApprovedBy == nil || *got.ApprovedBy != "mgr" || got.ApprovedAt == nil {
			t.Errorf("approved_by=%v approved_at=%v", got.ApprovedBy, got.ApprovedAt)
		}
		wantDecimal(t, "bolt approved", lineFor(got, f.bolt.ID).ApprovedQuantity, "10")

		// 只能审批一次
		_, err = f.svc.Requisition.Approve(f.ctx, req.ID, &ApproveRequest{}, "mgr")
		e := wantKind(t, err, KindConflict)
		if e.Details["status"] != entity.ReqStatusApproved {
			t.Errorf("details = %v", e.Details)
		}
	})

	t.Run("partial", func(t *testing.T) {
		f := newRequisitionFixture(t)
		req := f.create(t, "10", "20")
		bolt, nut := lineFor(req, f.bolt.ID), lineFor(req, f.nut.ID)
		got, err := f.svc.Requisition.Approve(f.ctx, req.ID, &ApproveRequest{Decisions: []ApprovalDecision{
			{ItemID: bolt.ID, ApprovedQuantity: d("10")},
			{ItemID: nut.ID, ApprovedQuantity: d("5")},
		}}, "mgr")
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != entity.ReqStatusPartiallyApproved {
			t.Errorf("status = %s", got.Status)
		}
		n := lineFor(got, f.nut.ID)
		if n.Status != entity.ReqItemStatusPartiallyApproved {
			t.Errorf("nut status = %s", n.Status)
		}
		wantDecimal(t, "nut rejected", n.RejectedQuantity, "15")
	})

	t.Run("reject", func(t *testing.T) {
		f := newRequisitionFixture(t)
		req := f.create(t, "10", "20")
		got, err := f.svc.Requisition.Reject(f.ctx, req.ID, "预算不足", "mgr")
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != entity.ReqStatusRejected || got.ApprovalNotes != "预算不足" {
			t.Errorf("status=%s notes=%q", got.Status, got.ApprovalNotes)
		}
		_, err = f.svc.Requisition.Issue(f.ctx, req.ID, nil, "wh")
		wantKind(t, err, KindConflict)
	})

	t.Run("invalid decisions", func(t *testing.T) {
		f := newRequisitionFixture(t)
		req := f.create(t, "10", "20")
		bolt := lineFor(req, f.bolt.ID)

		_, err := f.svc.Requisition.Approve(f.ctx, req.ID, &ApproveRequest{Decisions: []ApprovalDecision{
			{ItemID: bolt.ID, ApprovedQuantity: d("10")},
		}}, "mgr")
		wantKind(t, err, KindValidation) // 漏审一行

		_, err = f.svc.Requisition.Approve(f.ctx, req.ID, &ApproveRequest{Decisions: []ApprovalDecision{
			{ItemID: bolt.ID, ApprovedQuantity: d("11")},
			{ItemID: lineFor(req, f.nut.ID).ID, ApprovedQuantity: d("1")},
		}}, "mgr")
		wantKind(t, err, KindValidation)

		got, err := f.svc.Requisition.GetRequisition(f.ctx, req.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != entity.ReqStatusPending {
			t.Errorf("status after failed approval = %s", got.Status)
		}
	})
}

func TestRequisitionIssue(t *testing.T) {
	f := newRequisitionFixture(t)
	req := f.create(t, "10", "20")

	_, err := f.svc.Requisition.Issue(f.ctx, req.ID, nil, "wh")
	wantKind(t, err, KindConflict) // pending 不能发料

	if _, err := f.svc.Requisition.Approve(f.ctx, req.ID, &ApproveRequest{}, "mgr"); err != nil {
		t.Fatal(err)
	}
	bolt := lineFor(req, f.bolt.ID)

	_, err = f.svc.Requisition.Issue(f.ctx, req.ID, []RequisitionIssueLine{
		{ItemID: bolt.ID, Quantity: d("6")},
		{ItemID: bolt.ID, Quantity: d("5")},
	}, "wh")
	e := wantKind(t, err, KindConflict)
	if _, ok := e.Details["remaining"]; !ok {
		t.Errorf("details = %v", e.Details)
	}
	if ms := f.movements(t, entity.RefRequisition, req.ID); len(ms) != 0 {
		t.Fatalf("rejected issue wrote %d movements", len(ms))
	}

	got, err := f.svc.Requisition.Issue(f.ctx, req.ID, []RequisitionIssueLine{{ItemID: bolt.ID, Quantity: d("4")}}, "wh")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != entity.ReqStatusPartiallyIssued {
		t.Errorf("status = %s", got.Status)
	}
	if s := lineFor(got, f.bolt.ID).Status; s != entity.ReqItemStatusPartiallyIssued {
		t.Errorf("bolt status = %s", s)
	}
	wantDecimal(t, "bolt on hand", f.quantity(t, f.bolt.ID), "96")

	// 其余全部发放
	got, err = f.svc.Requisition.Issue(f.ctx, req.ID, nil, "wh")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != entity.ReqStatusIssued {
		t.Errorf("status = %s, want issued", got.Status)
	}
	wantDecimal(t, "bolt on hand", f.quantity(t, f.bolt.ID), "90")
	wantDecimal(t, "nut on hand", f.quantity(t, f.nut.ID), "30")
	f.balanced(t, f.bolt.ID)
	f.balanced(t, f.nut.ID)

	_, err = f.svc.Requisition.Issue(f.ctx, req.ID, nil, "wh")
	wantKind(t, err, KindConflict)
}

func TestRequisitionIssueInsufficientStock(t *testing.T) {
	f := newRequisitionFixture(t)
	req := f.create(t, "10", "60")
	if _, err := f.svc.Requisition.Approve(f.ctx, req.ID, &ApproveRequest{}, "mgr"); err != nil {
		t.Fatal(err)
	}

	_, err := f.svc.Requisition.Issue(f.ctx, req.ID, nil, "wh")
	e := wantKind(t, err, KindConflict)
	if e.Details["item_id"] != f.nut.ID {
		t.Errorf("details = %v", e.Details)
	}
	wantDecimal(t, "bolt on hand", f.quantity(t, f.bolt.ID), "100")
}

func TestEditAfterIssueReversesLedger(t *testing.T) {
	f := newRequisitionFixture(t)
	req := f.create(t, "10", "20")
	if _, err := f.svc.Requisition.Approve(f.ctx, req.ID, &ApproveRequest{}, "mgr"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Requisition.Issue(f.ctx, req.ID, []RequisitionIssueLine{
		{ItemID: lineFor(req, f.bolt.ID).ID, Quantity: d("7")},
		{ItemID: lineFor(req, f.nut.ID).ID, Quantity: d("20")},
	}, "wh"); err != nil {
		t.Fatal(err)
	}

	title := "改为维修领料"
	got, err := f.svc.Requisition.UpdateRequisition(f.ctx, req.ID, &UpdateRequisitionRequest{Title: &title}, "u1")
	if err != nil {
		t.Fatalf("UpdateRequisition: %v", err)
	}
	if got.Status != entity.ReqStatusPending || got.Title != title {
		t.Errorf("status=%s title=%q", got.Status, got.Title)
	}
	if got.ApprovedBy != nil || got.ApprovedAt != nil {
		t.Error("approval fields not cleared")
	}
	for _, it := range got.Items {
		if it.Status != entity.ReqItemStatusPending || !it.IssuedQuantity.IsZero() || !it.ApprovedQuantity.IsZero() {
			t.Errorf("item %s not reset: %+v", it.ItemID, it)
		}
	}

	ms := f.movements(t, entity.RefRequisition, req.ID)
	if len(ms) != 4 {
		t.Fatalf("movements = %d, want 2 out + 2 reversal", len(ms))
	}
	if net := netDelta(ms); !net.IsZero() {
		t.Errorf("net delta = %s, want 0", net)
	}
	wantDecimal(t, "bolt on hand", f.quantity(t, f.bolt.ID), "100")
	wantDecimal(t, "nut on hand", f.quantity(t, f.nut.ID), "50")
	f.balanced(t, f.bolt.ID)
	f.balanced(t, f.nut.ID)

	// 回到 pending 后可重新审批
	if _, err := f.svc.Requisition.Approve(f.ctx, req.ID, &ApproveRequest{}, "mgr"); err != nil {
		t.Fatalf("re-approve: %v", err)
	}
}

func TestEditReplacesItemsWithoutLedgerWhenPending(t *testing.T) {
	f := newRequisitionFixture(t)
	req := f.create(t, "10", "20")

	items := []RequisitionItemInput{{ItemID: f.nut.ID, Quantity: d("3")}}
	got, err := f.svc.Requisition.UpdateRequisition(f.ctx, req.ID, &UpdateRequisitionRequest{Items: &items}, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Items) != 1 || got.Items[0].ItemID != f.nut.ID {
		t.Fatalf("items = %+v", got.Items)
	}
	if ms := f.movements(t, entity.RefRequisition, req.ID); len(ms) != 0 {
		t.Errorf("pending edit wrote %d movements", len(ms))
	}
}

func TestDeleteIssuedRequisitionRestoresStock(t *testing.T) {
	f := newRequisitionFixture(t)
	req := f.create(t, "10", "20")
	if _, err := f.svc.Requisition.Approve(f.ctx, req.ID, &ApproveRequest{}, "mgr"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Requisition.Issue(f.ctx, req.ID, nil, "wh"); err != nil {
		t.Fatal(err)
	}
	wantDecimal(t, "bolt on hand", f.quantity(t, f.bolt.ID), "90")

	if err := f.svc.Requisition.DeleteRequisition(f.ctx, req.ID, "u1"); err != nil {
		t.Fatalf("DeleteRequisition: %v", err)
	}
	_, err := f.svc.Requisition.GetRequisition(f.ctx, req.ID)
	wantKind(t, err, KindNotFound)

	// 流水不随单据删除
	if net := netDelta(f.movements(t, entity.RefRequisition, req.ID)); !net.IsZero() {
		t.Errorf("net delta = %s", net)
	}
	wantDecimal(t, "bolt on hand", f.quantity(t, f.bolt.ID), "100")
	f.balanced(t, f.bolt.ID)
	f.balanced(t, f.nut.ID)
	if f.pub.count(TopicRequisition) == 0 {
		t.Error("no requisition events published")
	}
}

func TestRequisitionNumberPastFourDigits(t *testing.T) {
	f := newRequisitionFixture(t)
	prefix := fmt.Sprintf("REQ-%s-", time.Now().Format("2006"))
	seed := &entity.Requisition{
		ID:                entity.NewID(),
		RequisitionNumber: prefix + "9999",
		Title:             "历史单据",
		Status:            entity.ReqStatusPending,
		RequestedBy:       "seed",
	}
	if err := f.db.Create(seed).Error; err != nil {
		t.Fatalf("seed requisition: %v", err)
	}

	first := f.create(t, "1", "1")
	second := f.create(t, "1", "1")
	if first.RequisitionNumber != prefix+"10000" {
		t.Errorf("first number = %s, want %s10000", first.RequisitionNumber, prefix)
	}
	if second.RequisitionNumber != prefix+"10001" {
		t.Errorf("second number = %s, want %s10001", second.RequisitionNumber, prefix)
	}
}

func TestConcurrentRequisitionIssueNeverOverdraws(t *testing.T) {
	const workers = 4
	f := newRequisitionFixture(t)

	// 每单螺母20，合计80 > 库存50
	reqs := make([]*entity.Requisition, workers)
	for i := range reqs {
		reqs[i] = f.create(t, "1", "20")
		if _, err := f.svc.Requisition.Approve(f.ctx, reqs[i].ID, &ApproveRequest{}, "mgr"); err != nil {
			t.Fatalf("Approve: %v", err)
		}
	}

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req *entity.Requisition) {
			defer wg.Done()
			_, errs[i] = f.svc.Requisition.Issue(f.ctx, req.ID, nil, fmt.Sprintf("wh-%d", i))
		}(i, req)
	}
	wg.Wait()

	succeeded := 0
	for i, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		if KindOf(err) != KindConflict {
			t.Errorf("worker %d: unexpected error %v", i, err)
		}
	}
	if succeeded != 2 {
		t.Errorf("succeeded = %d, want 2", succeeded)
	}
	nut := f.quantity(t, f.nut.ID)
	if nut.IsNegative() {
		t.Fatalf("nut overdrawn: %s", nut)
	}
	wantDecimal(t, "nut on hand", nut, fmt.Sprintf("%d", 50-20*succeeded))
	wantDecimal(t, "bolt on hand", f.quantity(t, f.bolt.ID), fmt.Sprintf("%d", 100-succeeded))
	f.balanced(t, f.nut.ID)
	f.balanced(t, f.bolt.ID)
}
