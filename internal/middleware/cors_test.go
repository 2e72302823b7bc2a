package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORS(t *testing.T) {
	cfg := CORSConfig{
		AllowedOrigins:   []string{" https://console.example.com ", "", "*"},
		AllowCredentials: true,
		MaxAge:           600,
	}

	tests := []struct {
		name       string
		cfg        CORSConfig
		method     string
		origin     string
		wantStatus int
		wantOrigin string
	}{
		{"disabled without origins", CORSConfig{}, http.MethodGet, "https://evil.example", http.StatusOK, ""},
		{"same origin request", cfg, http.MethodGet, "", http.StatusOK, ""},
		{"allowed origin trimmed", cfg, http.MethodGet, "https://console.example.com", http.StatusOK, "https://console.example.com"},
		{"unknown origin rejected", cfg, http.MethodGet, "https://evil.example", http.StatusForbidden, ""},
		{"wildcard never allowed", cfg, http.MethodGet, "*", http.StatusForbidden, ""},
		{"preflight", cfg, http.MethodOptions, "https://console.example.com", http.StatusNoContent, "https://console.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/scopes/US/manual", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rr := httptest.NewRecorder()
			CORS(tt.cfg)(okHandler()).ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if got := rr.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
		})
	}
}

func TestCORS_PreflightAdvertisesOperatorHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/scopes/US/manual", nil)
	req.Header.Set("Origin", "https://console.example.com")
	rr := httptest.NewRecorder()
	CORS(CORSConfig{AllowedOrigins: []string{"https://console.example.com"}, MaxAge: 600})(okHandler()).ServeHTTP(rr, req)

	headers := rr.Header().Get("Access-Control-Allow-Headers")
	for _, h := range []string{"Authorization", IdempotencyKeyHeader} {
		if !strings.Contains(headers, h) {
			t.Errorf("Access-Control-Allow-Headers %q missing %s", headers, h)
		}
	}
	if !strings.Contains(rr.Header().Get("Access-Control-Allow-Methods"), http.MethodDelete) {
		t.Error("preflight should allow DELETE")
	}
	if rr.Header().Get("Access-Control-Max-Age") != "600" {
		t.Errorf("Access-Control-Max-Age = %q", rr.Header().Get("Access-Control-Max-Age"))
	}
	if rr.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Error("credentials header should be absent when disabled")
	}
}
