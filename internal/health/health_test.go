package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeConn struct{ connected bool }

func (f fakeConn) Connected() bool { return f.connected }

func fixedSampler(usage Usage, err error) Sampler {
	return func(context.Context) (Usage, error) { return usage, err }
}

func serve(t *testing.T, handler *Handler) (int, Response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	var response Response
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return w.Code, response
}

func TestHealthHandler(t *testing.T) {
	handler := NewHandler("order", "v1.0.0")
	handler.RegisterChecker("broker", NewBrokerChecker(fakeConn{connected: true}))
	handler.RegisterChecker("db", NewPingChecker("db", func(context.Context) error { return nil }))

	code, response := serve(t, handler)
	if code != http.StatusOK {
		t.Errorf("expected status 200, got %d", code)
	}
	if response.Status != StatusHealthy || response.Service != "order" || response.Version != "v1.0.0" {
		t.Errorf("unexpected response: %+v", response)
	}
	if len(response.Checks) != 2 {
		t.Errorf("expected 2 checks, got %d", len(response.Checks))
	}
}

func TestHealthHandler_BrokerDisconnected(t *testing.T) {
	handler := NewHandler("payment", "dev")
	handler.RegisterChecker("broker", NewBrokerChecker(fakeConn{connected: false}))

	code, response := serve(t, handler)
	if code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", code)
	}
	if response.Checks["broker"].Message == "" {
		t.Error("expected broker failure message")
	}
}

func TestHealthHandler_PingFailure(t *testing.T) {
	handler := NewHandler("delivery", "dev")
	handler.RegisterChecker("db", NewPingChecker("db", func(context.Context) error {
		return errors.New("connection refused")
	}))

	code, response := serve(t, handler)
	if code != http.StatusServiceUnavailable || response.Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy 503, got %d %s", code, response.Status)
	}
}

func TestResourceChecker(t *testing.T) {
	cases := []struct {
		name   string
		usage  Usage
		status Status
	}{
		{name: "normal load", usage: Usage{CPU: 40, Memory: 60}, status: StatusHealthy},
		{name: "cpu above threshold", usage: Usage{CPU: 95, Memory: 10}, status: StatusUnhealthy},
		{name: "memory above threshold", usage: Usage{CPU: 10, Memory: 91}, status: StatusUnhealthy},
		{name: "exactly at threshold", usage: Usage{CPU: 90, Memory: 90}, status: StatusHealthy},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			checker := NewResourceChecker(fixedSampler(tc.usage, nil), 0, 0)
			checker.Refresh(context.Background())

			check := checker.Check(context.Background())
			if check.Status != tc.status {
				t.Fatalf("expected %s, got %s (%s)", tc.status, check.Status, check.Message)
			}
			if check.Values["cpu"] != tc.usage.CPU {
				t.Fatalf("expected cpu value %v, got %v", tc.usage.CPU, check.Values["cpu"])
			}
		})
	}
}

func TestResourceChecker_NotSampledIsDegraded(t *testing.T) {
	checker := NewResourceChecker(fixedSampler(Usage{}, errors.New("no procfs")), 0, 0)
	checker.Refresh(context.Background())

	handler := NewHandler("machine", "dev")
	handler.RegisterChecker("resources", checker)

	code, response := serve(t, handler)
	if code != http.StatusOK || response.Status != StatusDegraded {
		t.Fatalf("expected degraded 200, got %d %s", code, response.Status)
	}
	if response.Checks["resources"].Message != "no procfs" {
		t.Fatalf("unexpected message: %q", response.Checks["resources"].Message)
	}
}

func TestResourceChecker_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	checker := NewResourceChecker(func(context.Context) (Usage, error) {
		calls++
		cancel()
		return Usage{CPU: 1}, nil
	}, 0, 0)

	checker.Run(ctx)

	if calls != 1 {
		t.Fatalf("expected one sample before stop, got %d", calls)
	}
	if check := checker.Check(context.Background()); check.Status != StatusHealthy {
		t.Fatalf("expected healthy, got %s", check.Status)
	}
}

func TestLivenessHandler(t *testing.T) {
	w := httptest.NewRecorder()
	LivenessHandler(w, httptest.NewRequest(http.MethodGet, "/livez", nil))
	if w.Code != http.StatusOK || w.Body.String() != `{"detail":"OK"}` {
		t.Fatalf("unexpected liveness response: %d %s", w.Code, w.Body.String())
	}
}
