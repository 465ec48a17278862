package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agentgate/agentgate/internal/common/logger"
	"github.com/agentgate/agentgate/internal/session"
)

func newTestRouter(t *testing.T) (*gin.Engine, *session.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	sessions := session.New(session.Config{CleanupInterval: time.Hour}, nil, nil, nil, logger.Default())
	t.Cleanup(sessions.Stop)

	router := gin.New()
	SetupRoutes(router, NewHandler(sessions, logger.Default()))
	return router, sessions
}

func TestHealthzReportsHealthy(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body HealthzResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Status != "healthy" {
		t.Fatalf("expected status=healthy, got %q", body.Status)
	}
}

func TestReadyzReportsSessionCount(t *testing.T) {
	router, sessions := newTestRouter(t)
	sessions.CreateSession("", "/workdir/a")
	sessions.CreateSession("", "/workdir/b")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	router.ServeHTTP(rec, req)

	var body ReadyzResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !body.Ready {
		t.Fatal("expected ready=true")
	}
	if body.Sessions != 2 {
		t.Fatalf("expected 2 sessions, got %d", body.Sessions)
	}
}

func TestListSessionsReturnsSnapshot(t *testing.T) {
	router, sessions := newTestRouter(t)
	id, _ := sessions.CreateSession("", "/workdir/a")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	router.ServeHTTP(rec, req)

	var body SessionsListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Total != 1 {
		t.Fatalf("expected total=1, got %d", body.Total)
	}
	if len(body.Sessions) != 1 || body.Sessions[0].ID != id {
		t.Fatalf("expected the created session to be listed, got %+v", body.Sessions)
	}
}
