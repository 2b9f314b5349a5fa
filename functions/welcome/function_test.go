package welcome

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWelcomeHandler(t *testing.T) {
	resp := httptest.NewRecorder()
	welcomeHandler(resp, httptest.NewRequest(http.MethodGet, "/", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if ct := resp.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected application/json, got %q", ct)
	}

	var body Response
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("json unmarshal: %v", err)
	}
	if body.Message != "Welcome to the API" || body.Version != "1.0.0" {
		t.Fatalf("unexpected body: %+v", body)
	}
	ts, err := time.Parse(RFC3339Millis, body.Timestamp)
	if err != nil {
		t.Fatalf("timestamp %q not in RFC3339Millis: %v", body.Timestamp, err)
	}
	if age := time.Since(ts); age < -5*time.Second || age > 5*time.Second {
		t.Fatalf("timestamp %s too far from now", body.Timestamp)
	}
}

func TestWelcomeHandlerRejectsOtherMethods(t *testing.T) {
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		resp := httptest.NewRecorder()
		welcomeHandler(resp, httptest.NewRequest(method, "/", nil))

		if resp.Code != http.StatusMethodNotAllowed {
			t.Fatalf("%s: expected 405, got %d", method, resp.Code)
		}
		if allow := resp.Header().Get("Allow"); allow != http.MethodGet {
			t.Fatalf("%s: expected Allow GET, got %q", method, allow)
		}
	}
}
