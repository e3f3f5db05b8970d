package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"crm-dialer/internal/auth"

	"github.com/gin-gonic/gin"
)

func doRequest(t *testing.T, role string, allowed ...string) int {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/guarded", RequireAnyRole(allowed...), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	if role != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), "agent-1", role))
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRequireAnyRole(t *testing.T) {
	cases := []struct {
		name    string
		role    string
		allowed []string
		want    int
	}{
		{"allowed role", RoleSupervisor, []string{RoleSupervisor}, http.StatusOK},
		{"role not in set", RoleAgent, []string{RoleSupervisor}, http.StatusForbidden},
		{"admin bypasses", RoleAdmin, []string{RoleSupervisor}, http.StatusOK},
		{"missing role", "", []string{RoleSupervisor}, http.StatusUnauthorized},
		{"unknown role", "janitor", []string{RoleSupervisor, RoleAgent}, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := doRequest(t, tc.role, tc.allowed...); got != tc.want {
				t.Fatalf("status = %d, want %d", got, tc.want)
			}
		})
	}
}
