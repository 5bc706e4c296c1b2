package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

const testSecret = "middleware-test-secret"

func newRouter(perm string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	g := r.Group("/", JWTAuth(testSecret))
	g.GET("/guarded", RequirePermission(perm), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("user_id"))
	})
	return r
}

func do(r *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func token(t *testing.T, perms []string, roles []string) string {
	t.Helper()
	tok, err := IssueToken(testSecret, JWTClaims{UserID: "u1", Name: "tester", Permissions: perms, Roles: roles}, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	return tok
}

func TestJWTAuthRequiresToken(t *testing.T) {
	r := newRouter("mrp:inventory:read")
	if w := do(r, "/guarded", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if w := do(r, "/guarded", "not-a-jwt"); w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestRequirePermission(t *testing.T) {
	r := newRouter("mrp:inventory:write")
	tests := []struct {
		name  string
		perms []string
		want  int
	}{
		{"exact", []string{"mrp:inventory:write"}, http.StatusOK},
		{"wildcard", []string{"*"}, http.StatusOK},
		{"module wildcard", []string{"mrp:inventory:*"}, http.StatusOK},
		{"other module", []string{"mrp:bom:*"}, http.StatusForbidden},
		{"read only", []string{"mrp:inventory:read"}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, "/guarded", token(t, tt.perms, nil))
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestAdminRoleBypassesPermissions(t *testing.T) {
	r := newRouter("mrp:requisition:approve")
	if w := do(r, "/guarded", token(t, nil, []string{AdminRole})); w.Code != http.StatusOK {
		t.Errorf("admin status = %d, want 200", w.Code)
	}
	if w := do(r, "/guarded", token(t, nil, []string{"viewer"})); w.Code != http.StatusForbidden {
		t.Errorf("viewer status = %d, want 403", w.Code)
	}
}

func TestIssueTokenClaims(t *testing.T) {
	r := newRouter("mrp:bom:read")
	tok, err := IssueToken(testSecret, JWTClaims{UserID: "svc-mes", Permissions: []string{"mrp:bom:read"}}, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	w := do(r, "/guarded", tok)
	if w.Code != http.StatusOK || w.Body.String() != "svc-mes" {
		t.Fatalf("status = %d body = %q", w.Code, w.Body.String())
	}

	// ttl<=0 不设过期时间
	noExpiry, err := IssueToken(testSecret, JWTClaims{UserID: "svc-mes", Permissions: []string{"*"}}, 0)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if w := do(r, "/guarded", noExpiry); w.Code != http.StatusOK {
		t.Errorf("no-expiry token status = %d", w.Code)
	}
}
