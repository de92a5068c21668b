package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/codr1/courtbook/internal/booking"
	"github.com/codr1/courtbook/internal/payment"
	"github.com/codr1/courtbook/internal/testutil"
)

func newTestServer(t *testing.T) (*httptest.Server, booking.Court) {
	t.Helper()

	database := testutil.NewTestDB(t)
	court := testutil.SeedCourt(t, database)
	a := &app{
		database: database,
		engine: testutil.NewEngine(t, database, booking.Options{
			Payments: payment.NewMockAdapter("http://localhost"),
		}),
	}

	server := httptest.NewServer(newHandler(a))
	t.Cleanup(server.Close)
	return server, court
}

// Handlers are bound once per process, so every check shares one server.
func TestServer(t *testing.T) {
	server, court := newTestServer(t)

	t.Run("health", func(t *testing.T) { checkHealth(t, server) })
	t.Run("routes", func(t *testing.T) { checkRoutes(t, server, court) })
}

func checkHealth(t *testing.T, server *httptest.Server) {

	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("expected request id header")
	}
}

func checkRoutes(t *testing.T, server *httptest.Server, court booking.Court) {

	resp, err := http.Get(fmt.Sprintf("%s/api/v1/courts/%d/slots?date=2099-01-01", server.URL, court.ID))
	if err != nil {
		t.Fatalf("get slots: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPatch, server.URL+"/api/v1/bookings/1/status", strings.NewReader(`{"status":"ACTIVE"}`))
	req.Header.Set("X-User-ID", "5")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("patch status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for a member, got %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodPatch, server.URL+"/api/v1/bookings/1/status", strings.NewReader(`{"status":"ACTIVE"}`))
	req.Header.Set("X-User-ID", "5")
	req.Header.Set("X-User-Role", "staff")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("patch status: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown booking, got %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodGet, server.URL+"/api/v1/bookings/1", nil)
	req.Header.Set("X-User-ID", "nope")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get booking: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed identity, got %d", resp.StatusCode)
	}
}
