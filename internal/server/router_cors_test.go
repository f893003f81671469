package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func preflight(t *testing.T, allowedOrigins []string, origin string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(corsMiddleware(allowedOrigins))
	router.OPTIONS("/cards/:ref/like", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	request := httptest.NewRequest(http.MethodOptions, "/cards/c1/like", http.NoBody)
	request.Header.Set("Origin", origin)
	request.Header.Set("Access-Control-Request-Method", http.MethodDelete)
	request.Header.Set("Access-Control-Request-Headers", "Authorization")

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)
	return recorder
}

func TestCORSAllowsAnyOriginByDefault(t *testing.T) {
	recorder := preflight(t, nil, "https://cafe.example.com")

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	allowHeaders := strings.ToLower(recorder.Header().Get("Access-Control-Allow-Headers"))
	if !strings.Contains(allowHeaders, "authorization") {
		t.Fatalf("expected Authorization to be allowed, got %q", allowHeaders)
	}
	if recorder.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("expected credentials to be enabled")
	}
	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "https://cafe.example.com" {
		t.Fatalf("expected origin to be echoed, got %q", got)
	}
}

func TestCORSRestrictsToConfiguredOrigins(t *testing.T) {
	allowed := []string{" https://Cafe.Example.com/ "}

	if recorder := preflight(t, allowed, "https://cafe.example.com"); recorder.Code != http.StatusNoContent {
		t.Fatalf("expected configured origin to pass, got %d", recorder.Code)
	}
	recorder := preflight(t, allowed, "https://evil.example.com")
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("expected unknown origin to be refused, got %d", recorder.Code)
	}
	if recorder.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("expected no allow-origin header for refused origin")
	}
}
