package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestVaryAddsAccept(t *testing.T) {
	h := Vary()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Add("Vary", "Accept-Encoding")
		w.WriteHeader(http.StatusCreated)
	}))
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api", nil))

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected downstream status, got %d", resp.Code)
	}
	values := resp.Header().Values("Vary")
	if len(values) != 2 || values[0] != "Accept" || values[1] != "Accept-Encoding" {
		t.Fatalf("expected [Accept Accept-Encoding], got %v", values)
	}
}
