package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"quote_alert_backend/middleware"
	"quote_alert_backend/models"
	"quote_alert_backend/services/alerts"
	"quote_alert_backend/services/entitlement"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testEnv struct {
	router   *gin.Engine
	store    *alerts.Store
	verifier *middleware.TokenVerifier
	user     models.User
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "api.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	for _, migrate := range []func(*gorm.DB) error{
		models.MigrateUserModels, models.MigrateSubscriptionModels, models.MigrateAlertModels,
	} {
		if err := migrate(db); err != nil {
			t.Fatalf("migrate: %v", err)
		}
	}

	user := models.User{AuthSubject: "sub-1", Email: "a@example.com", IsActive: true}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}

	store := alerts.NewStore(db)
	verifier := middleware.NewTokenVerifier("secret")
	ac := NewAlertController(store, entitlement.NewDBPlanResolver(db))

	router := gin.New()
	api := router.Group("/api/v1", middleware.JWTAuthMiddleware(verifier))
	api.GET("/alerts", ac.GetAlerts)
	api.POST("/alerts", ac.CreateAlert)
	api.GET("/alerts/history", ac.GetHistory)
	api.GET("/alerts/:id", ac.GetAlert)
	api.PUT("/alerts/:id", ac.UpdateAlert)
	api.DELETE("/alerts/:id", ac.DeleteAlert)

	return &testEnv{router: router, store: store, verifier: verifier, user: user}
}

func (e *testEnv) do(t *testing.T, method, path, subject string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if subject != "" {
		token, err := e.verifier.Sign(subject, "", time.Hour)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	e.router.ServeHTTP(resp, req)
	return resp
}

func priceBody(threshold float64) gin.H {
	return gin.H{"symbol": " aapl ", "type": "upper", "sub_type": "price", "threshold": threshold}
}

func TestAlertAPIRequiresToken(t *testing.T) {
	env := setupEnv(t)
	if resp := env.do(t, http.MethodGet, "/api/v1/alerts", "", nil); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
	if resp := env.do(t, http.MethodGet, "/api/v1/alerts", "stranger", nil); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for unregistered subject, got %d", resp.Code)
	}
}

func TestCreateAlertValidationAndQuota(t *testing.T) {
	env := setupEnv(t)

	bad := []gin.H{
		{"symbol": "AAPL", "type": "sideways", "sub_type": "price", "threshold": 1},
		{"symbol": "AAPL", "type": "upper", "sub_type": "price"},
		{"symbol": "AAPL", "type": "upper", "sub_type": "technical"},
		{"symbol": "AAPL", "type": "upper", "sub_type": "technical",
			"conditions": []gin.H{{"type": "price", "operator": "~", "value": 1}}},
	}
	for i, body := range bad {
		if resp := env.do(t, http.MethodPost, "/api/v1/alerts", "sub-1", body); resp.Code != http.StatusBadRequest {
			t.Fatalf("case %d: expected 400, got %d %s", i, resp.Code, resp.Body.String())
		}
	}

	// free plan allows DefaultFreeMaxAlerts alerts
	for i := 0; i < entitlement.DefaultFreeMaxAlerts; i++ {
		resp := env.do(t, http.MethodPost, "/api/v1/alerts", "sub-1", priceBody(100+float64(i)))
		if resp.Code != http.StatusCreated {
			t.Fatalf("create %d: expected 201, got %d %s", i, resp.Code, resp.Body.String())
		}
	}
	resp := env.do(t, http.MethodPost, "/api/v1/alerts", "sub-1", priceBody(500))
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected quota refusal, got %d", resp.Code)
	}

	resp = env.do(t, http.MethodGet, "/api/v1/alerts", "sub-1", nil)
	var listed struct {
		Data  []models.AlertDefinition `json:"data"`
		Count int                      `json:"count"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if listed.Count != 3 || listed.Data[0].Symbol != "AAPL" || !listed.Data[0].NotifyEmail {
		t.Fatalf("unexpected list: %+v", listed)
	}
}

func TestUpdateAlertRearms(t *testing.T) {
	env := setupEnv(t)
	ctx := context.Background()

	resp := env.do(t, http.MethodPost, "/api/v1/alerts", "sub-1", priceBody(100))
	var created struct {
		Data models.AlertDefinition `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &created); err != nil || created.Data.ID == 0 {
		t.Fatalf("decode create: %v %s", err, resp.Body.String())
	}
	id := created.Data.ID

	if ok, err := env.store.MarkTriggered(ctx, id, time.Now()); err != nil || !ok {
		t.Fatalf("mark triggered: %v %v", ok, err)
	}

	path := fmt.Sprintf("/api/v1/alerts/%d", id)
	if resp := env.do(t, http.MethodPut, path, "sub-1", priceBody(120)); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 on update, got %d %s", resp.Code, resp.Body.String())
	}

	alert, err := env.store.Get(ctx, env.user.ID, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if alert.TriggeredAt != nil || !alert.Armed() {
		t.Fatalf("expected update to re-arm the alert, got %+v", alert)
	}
	if !alert.Threshold.Decimal.Equal(decimal.NewFromInt(120)) {
		t.Fatalf("expected threshold 120, got %s", alert.Threshold.Decimal)
	}

	if resp := env.do(t, http.MethodDelete, path, "sub-1", nil); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 on delete, got %d", resp.Code)
	}
	if resp := env.do(t, http.MethodGet, path, "sub-1", nil); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.Code)
	}
	if resp := env.do(t, http.MethodGet, "/api/v1/alerts/abc", "sub-1", nil); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", resp.Code)
	}
}
