package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-mrp/internal/middleware"
	"github.com/bitfantasy/nimo-mrp/internal/mrp/entity"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const JWTSecret = "nimo-mrp-test-secret"

var dbSeq int64

// SetupTestDB 每个测试一个独立的内存 SQLite 库
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := fmt.Sprintf("mrp_test_%d_%d", time.Now().UnixNano(), atomic.AddInt64(&dbSeq, 1))
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	// 单连接：内存库随最后一个连接关闭而销毁，事务也不会互相等待
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := entity.AutoMigrate(db); err != nil {
		t.Fatalf("Failed to migrate test tables: %v", err)
	}

	t.Cleanup(func() {
		sqlDB.Close()
	})
	return db
}

// SetupRouter 测试用 gin 路由
func SetupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery())
	return r
}

// AuthGroup 带JWT认证的路由组
func AuthGroup(r *gin.Engine, path string) *gin.RouterGroup {
	return r.Group(path, middleware.JWTAuth(JWTSecret))
}

// GenerateTestToken 生成测试用JWT
func GenerateTestToken(userID, name string, roles, permissions []string) string {
	if roles == nil {
		roles = []string{}
	}
	if permissions == nil {
		permissions = []string{}
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   userID,
		"uid":   userID,
		"name":  name,
		"email": userID + "@test.com",
		"roles": roles,
		"perms": permissions,
		"iss":   "nimo-mrp",
		"iat":   now.Unix(),
		"exp":   now.Add(24 * time.Hour).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, _ := token.SignedString([]byte(JWTSecret))
	return tokenString
}

// DefaultTestToken 全权限管理员
func DefaultTestToken() string {
	return GenerateTestToken("test-user-001", "Test Admin", []string{middleware.AdminRole}, []string{"*"})
}

// DoRequest 对测试路由发起请求
func DoRequest(r *gin.Engine, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ParseResponse 解析统一响应
func ParseResponse(w *httptest.ResponseRecorder) map[string]interface{} {
	var result map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &result)
	return result
}

// D 字符串转 decimal，测试里写字面量用
func D(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// SeedItem 直接写入物料；qty>0 时同时写一条期初流水，保持台账可对账
func SeedItem(t *testing.T, db *gorm.DB, sku, unitPrice, qty string) *entity.Item {
	t.Helper()
	item := &entity.Item{
		ID:        entity.NewID(),
		Name:      "Item " + sku,
		SKU:       sku,
		Unit:      "pcs",
		Quantity:  D(qty),
		UnitPrice: D(unitPrice),
		CreatedBy: "seed",
	}
	if item.Quantity.IsPositive() {
		item.MovementSeq = 1
	}
	if err := db.Create(item).Error; err != nil {
		t.Fatalf("Failed to seed item %s: %v", sku, err)
	}
	if item.Quantity.IsPositive() {
		m := &entity.StockMovement{
			ID:            entity.NewID(),
			ItemID:        item.ID,
			Seq:           1,
			Type:          entity.MovementIn,
			Quantity:      item.Quantity,
			Delta:         item.Quantity,
			BalanceAfter:  item.Quantity,
			UnitCost:      item.UnitPrice,
			ReferenceType: entity.RefInitial,
			ReferenceID:   item.ID,
			CreatedBy:     "seed",
		}
		if err := db.Create(m).Error; err != nil {
			t.Fatalf("Failed to seed opening movement for %s: %v", sku, err)
		}
	}
	return item
}
