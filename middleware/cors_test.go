package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CORS())
	router.GET("/api/v1/alerts", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	preflight := httptest.NewRequest(http.MethodOptions, "/api/v1/alerts", nil)
	preflight.Header.Set("Origin", "https://app.example.com")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, preflight)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", resp.Code)
	}
	if resp.Header().Get("Access-Control-Allow-Headers") != "Authorization, Content-Type" {
		t.Fatalf("unexpected allowed headers %q", resp.Header().Get("Access-Control-Allow-Headers"))
	}
	if resp.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Fatalf("expected no credentials header")
	}

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/alerts", nil))
	if resp.Code != http.StatusOK || resp.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected passthrough with wildcard origin, got %d %q", resp.Code, resp.Header().Get("Access-Control-Allow-Origin"))
	}
}
