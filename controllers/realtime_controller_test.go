package controllers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

type fixedStatus map[string]interface{}

func (f fixedStatus) GetStatus() map[string]interface{} {
	out := make(map[string]interface{}, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

func TestRealtimeStatus(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rc := NewRealtimeController(fixedStatus{"client_count": 2, "required_plan": "premium"}, func() map[string]interface{} {
		return map[string]interface{}{"connected": false}
	})

	router := gin.New()
	router.GET("/status", rc.GetStatus)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/status", nil))

	var body struct {
		Data map[string]interface{} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data["client_count"] != float64(2) || body.Data["required_plan"] != "premium" || body.Data["archive"] == nil {
		t.Fatalf("unexpected status: %v", body.Data)
	}
}
