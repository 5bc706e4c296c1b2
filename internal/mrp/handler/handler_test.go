package handler

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/bitfantasy/nimo-mrp/internal/mrp/repository"
	"github.com/bitfantasy/nimo-mrp/internal/mrp/service"
	"github.com/bitfantasy/nimo-mrp/internal/mrp/sse"
	"github.com/bitfantasy/nimo-mrp/internal/mrp/testutil"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func setupMRPTest(t *testing.T) *gin.Engine {
	t.Helper()
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	hub := sse.NewHub(zap.NewNop())
	svcs := service.NewServices(repos, db, service.Options{Publisher: hub, Logger: zap.NewNop()})

	router := testutil.SetupRouter()
	RegisterRoutes(router.Group("/api/v1"), NewHandlers(svcs, hub, zap.NewNop()), testutil.JWTSecret)
	return router
}

func mustData(t *testing.T, body map[string]interface{}) map[string]interface{} {
	t.Helper()
	data, ok := body["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected object data, got %v", body)
	}
	return data
}

func createItem(t *testing.T, router *gin.Engine, token, sku, price, qty string) map[string]interface{} {
	t.Helper()
	w := testutil.DoRequest(router, "POST", "/api/v1/mrp/items", map[string]interface{}{
		"name":             "Item " + sku,
		"sku":              sku,
		"unit_price":       price,
		"initial_quantity": qty,
	}, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	return mustData(t, testutil.ParseResponse(w))
}

func TestItemCreateAndList(t *testing.T) {
	router := setupMRPTest(t)
	token := testutil.DefaultTestToken()

	for i := 1; i <= 3; i++ {
		createItem(t, router, token, fmt.Sprintf("SKU-%d", i), "1.5", "10")
	}

	w := testutil.DoRequest(router, "GET", "/api/v1/mrp/items?page=1&page_size=2", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := testutil.ParseResponse(w)
	if resp["code"].(float64) != 0 {
		t.Errorf("Expected code 0, got %v", resp["code"])
	}
	data := mustData(t, resp)
	items := data["items"].([]interface{})
	if len(items) != 2 {
		t.Errorf("Expected 2 items on page, got %d", len(items))
	}
	pg := data["pagination"].(map[string]interface{})
	if pg["total"].(float64) != 3 || pg["total_pages"].(float64) != 2 {
		t.Errorf("Unexpected pagination %v", pg)
	}
}

func TestItemErrorsUseEnvelopeCodes(t *testing.T) {
	router := setupMRPTest(t)
	token := testutil.DefaultTestToken()
	createItem(t, router, token, "DUP", "1", "0")

	// 重复SKU
	w := testutil.DoRequest(router, "POST", "/api/v1/mrp/items", map[string]interface{}{
		"name": "again", "sku": "DUP", "unit_price": "1",
	}, token)
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected 409, got %d: %s", w.Code, w.Body.String())
	}
	if code := testutil.ParseResponse(w)["code"].(float64); code != 40901 {
		t.Errorf("Expected code 40901, got %v", code)
	}

	w = testutil.DoRequest(router, "GET", "/api/v1/mrp/items/nope", nil, token)
	if w.Code != http.StatusNotFound {
		t.Fatalf("Expected 404, got %d", w.Code)
	}
	if code := testutil.ParseResponse(w)["code"].(float64); code != 40400 {
		t.Errorf("Expected code 40400, got %v", code)
	}

	w = testutil.DoRequest(router, "POST", "/api/v1/mrp/items", map[string]interface{}{
		"name": "neg", "sku": "NEG", "unit_price": "-1",
	}, token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d: %s", w.Code, w.Body.String())
	}
	if code := testutil.ParseResponse(w)["code"].(float64); code != 40000 {
		t.Errorf("Expected code 40000, got %v", code)
	}
}

func TestPermissionsEnforced(t *testing.T) {
	router := setupMRPTest(t)

	w := testutil.DoRequest(router, "GET", "/api/v1/mrp/items", nil, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", w.Code)
	}

	reader := testutil.GenerateTestToken("u-reader", "Reader", nil, []string{PermInventoryRead})
	w = testutil.DoRequest(router, "GET", "/api/v1/mrp/items", nil, reader)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 for reader, got %d", w.Code)
	}
	w = testutil.DoRequest(router, "POST", "/api/v1/mrp/items", map[string]interface{}{"name": "x", "sku": "X"}, reader)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for reader write, got %d", w.Code)
	}

	wildcard := testutil.GenerateTestToken("u-inv", "Keeper", nil, []string{"mrp:inventory:*"})
	w = testutil.DoRequest(router, "POST", "/api/v1/mrp/items", map[string]interface{}{"name": "x", "sku": "X"}, wildcard)
	if w.Code != http.StatusCreated {
		t.Errorf("Expected 201 for wildcard permission, got %d: %s", w.Code, w.Body.String())
	}
	w = testutil.DoRequest(router, "GET", "/api/v1/mrp/boms", nil, wildcard)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 outside wildcard scope, got %d", w.Code)
	}
}

func TestAdjustAndReconcile(t *testing.T) {
	router := setupMRPTest(t)
	token := testutil.DefaultTestToken()
	item := createItem(t, router, token, "BOLT", "0.5", "10")
	id := item["id"].(string)

	w := testutil.DoRequest(router, "POST", "/api/v1/mrp/items/"+id+"/adjust", map[string]interface{}{
		"delta": "-12", "reason": "盘亏",
	}, token)
	if w.Code != http.StatusOK && w.Code != http.StatusCreated {
		t.Fatalf("Expected success, got %d: %s", w.Code, w.Body.String())
	}

	w = testutil.DoRequest(router, "GET", "/api/v1/mrp/items/"+id+"/reconcile", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data := mustData(t, testutil.ParseResponse(w))
	if data["balanced"] != true {
		t.Errorf("Expected balanced ledger, got %v", data)
	}

	w = testutil.DoRequest(router, "GET", "/api/v1/mrp/inventory/movements?item_id="+id, nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	pg := mustData(t, testutil.ParseResponse(w))["pagination"].(map[string]interface{})
	if pg["total"].(float64) != 2 {
		t.Errorf("Expected 2 movements, got %v", pg["total"])
	}

	w = testutil.DoRequest(router, "GET", "/api/v1/mrp/audit-logs?entity_type=item", nil, token)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without entity_id, got %d", w.Code)
	}
	w = testutil.DoRequest(router, "GET", "/api/v1/mrp/audit-logs?entity_type=item&entity_id="+id, nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	logs := mustData(t, testutil.ParseResponse(w))["items"].([]interface{})
	if len(logs) == 0 {
		t.Error("Expected audit entries for item")
	}
}

func TestProductionOrderFlowOverHTTP(t *testing.T) {
	router := setupMRPTest(t)
	token := testutil.DefaultTestToken()
	steel := createItem(t, router, token, "STEEL", "10", "5")
	chair := createItem(t, router, token, "CHAIR", "0", "0")

	w := testutil.DoRequest(router, "POST", "/api/v1/mrp/boms", map[string]interface{}{
		"name":                "Chair",
		"status":              "active",
		"finished_product_id": chair["id"],
		"components": []map[string]interface{}{
			{"item_id": steel["id"], "quantity": "2"},
		},
	}, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	bomID := mustData(t, testutil.ParseResponse(w))["id"].(string)

	w = testutil.DoRequest(router, "POST", "/api/v1/mrp/production-orders", map[string]interface{}{
		"bom_id": bomID, "quantity": "3",
	}, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	order := mustData(t, testutil.ParseResponse(w))
	orderID := order["id"].(string)
	orderItemID := order["items"].([]interface{})[0].(map[string]interface{})["id"].(string)
	base := "/api/v1/mrp/production-orders/" + orderID

	// draft 不能直接开工
	w = testutil.DoRequest(router, "POST", base+"/transition", map[string]interface{}{"status": "in_progress"}, token)
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected 409, got %d: %s", w.Code, w.Body.String())
	}
	resp := testutil.ParseResponse(w)
	if resp["code"].(float64) != 40900 {
		t.Errorf("Expected code 40900, got %v", resp["code"])
	}
	allowed := mustData(t, resp)["allowed"].([]interface{})
	if len(allowed) != 2 || allowed[0] != "planned" {
		t.Errorf("Unexpected allowed transitions %v", allowed)
	}

	w = testutil.DoRequest(router, "POST", base+"/transition", map[string]interface{}{"status": "planned"}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// 需求6，库存5
	w = testutil.DoRequest(router, "POST", base+"/issue", map[string]interface{}{
		"lines": []map[string]interface{}{{"order_item_id": orderItemID, "quantity": "6"}},
	}, token)
	if w.Code != http.StatusConflict {
		t.Fatalf("Expected 409, got %d: %s", w.Code, w.Body.String())
	}
	if mustData(t, testutil.ParseResponse(w))["available"] == nil {
		t.Error("Expected available in error data")
	}

	w = testutil.DoRequest(router, "POST", base+"/issue", map[string]interface{}{
		"lines": []map[string]interface{}{{"order_item_id": orderItemID, "quantity": "4"}},
	}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w = testutil.DoRequest(router, "GET", "/api/v1/mrp/items/"+steel["id"].(string), nil, token)
	if q := mustData(t, testutil.ParseResponse(w))["quantity"]; q != "1" {
		t.Errorf("Expected steel quantity 1, got %v", q)
	}
}

func TestRequisitionFlowOverHTTP(t *testing.T) {
	router := setupMRPTest(t)
	token := testutil.DefaultTestToken()
	bolt := createItem(t, router, token, "BOLT", "0.5", "100")

	w := testutil.DoRequest(router, "POST", "/api/v1/mrp/requisitions", map[string]interface{}{
		"title": "领料",
		"items": []map[string]interface{}{{"item_id": bolt["id"], "quantity": "10"}},
	}, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	reqID := mustData(t, testutil.ParseResponse(w))["id"].(string)
	base := "/api/v1/mrp/requisitions/" + reqID

	issuer := testutil.GenerateTestToken("u-wh", "Keeper", nil, []string{PermRequisitionIss})
	w = testutil.DoRequest(router, "POST", base+"/approve", map[string]interface{}{}, issuer)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for approve without permission, got %d", w.Code)
	}

	w = testutil.DoRequest(router, "POST", base+"/approve", map[string]interface{}{"notes": "ok"}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if s := mustData(t, testutil.ParseResponse(w))["status"]; s != "approved" {
		t.Errorf("Expected approved, got %v", s)
	}

	w = testutil.DoRequest(router, "POST", base+"/issue", map[string]interface{}{}, issuer)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if s := mustData(t, testutil.ParseResponse(w))["status"]; s != "issued" {
		t.Errorf("Expected issued, got %v", s)
	}

	w = testutil.DoRequest(router, "POST", base+"/approve", map[string]interface{}{}, token)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 approving issued requisition, got %d", w.Code)
	}

	w = testutil.DoRequest(router, "DELETE", base, nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w = testutil.DoRequest(router, "GET", "/api/v1/mrp/items/"+bolt["id"].(string), nil, token)
	if q := mustData(t, testutil.ParseResponse(w))["quantity"]; q != "100" {
		t.Errorf("Expected bolt quantity restored to 100, got %v", q)
	}
}
