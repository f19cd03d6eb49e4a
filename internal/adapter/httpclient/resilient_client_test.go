package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	config := DefaultConfig()
	client := New("test", 30*time.Second, config, nil)

	if client == nil {
		t.Fatal("New returned nil")
	}

	if client.client == nil {
		t.Error("HTTP client is nil")
	}

	if config.EnableCircuitBreaker && client.breaker == nil {
		t.Error("Circuit breaker is nil when enabled")
	}
}

func TestDefaultConfig_EnvOverrides(t *testing.T) {
	t.Setenv("DISPATCH_RETRY_MAX_ATTEMPTS", "7")
	t.Setenv("DISPATCH_CIRCUIT_BREAKER_ENABLED", "false")
	t.Setenv("DISPATCH_RETRY_INITIAL_INTERVAL_MS", "not-a-number")

	config := DefaultConfig()
	if config.MaxRetries != 7 {
		t.Errorf("MaxRetries = %d, want 7", config.MaxRetries)
	}
	if config.EnableCircuitBreaker {
		t.Error("circuit breaker should be disabled")
	}
	if config.InitialInterval != 500*time.Millisecond {
		t.Errorf("invalid value should fall back to default, got %v", config.InitialInterval)
	}
}

func TestResilientClient_Retry5xxReplaysBody(t *testing.T) {
	var attempts int32
	var bodies []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	config := Config{
		EnableCircuitBreaker: false,
		MaxRetries:           3,
		InitialInterval:      10 * time.Millisecond,
		MaxInterval:          50 * time.Millisecond,
	}
	client := New("test", 5*time.Second, config, nil)

	req, err := http.NewRequest("POST", server.URL, strings.NewReader(`{"text":"hi"}`))
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Request failed after retries: %v", err)
	}
	defer resp.Body.Close()

	if atomic.LoadInt32(&attempts) != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
	for i, b := range bodies {
		if b != `{"text":"hi"}` {
			t.Errorf("attempt %d sent body %q", i+1, b)
		}
	}
}

func TestResilientClient_NoRetryOn4xxErrors(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`invalid_payload`))
	}))
	defer server.Close()

	config := Config{
		EnableCircuitBreaker: false,
		MaxRetries:           3,
		InitialInterval:      10 * time.Millisecond,
		MaxInterval:          50 * time.Millisecond,
	}
	client := New("test", 5*time.Second, config, nil)

	req, _ := http.NewRequest("POST", server.URL, strings.NewReader("{}"))
	_, err := client.Do(req)
	if err == nil {
		t.Fatal("Expected error for 400 status")
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected StatusError 400, got %v", err)
	}

	if atomic.LoadInt32(&attempts) != 1 {
		t.Errorf("Expected 1 attempt, got %d (4xx should not be retried)", attempts)
	}
}

func TestResilientClient_CircuitBreakerOpensAfterFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	config := Config{
		EnableCircuitBreaker: true,
		MaxFailures:          3,
		CircuitTimeout:       1 * time.Second,
		MaxRetries:           0, // Single attempt per request
	}
	client := New("test", 5*time.Second, config, nil)

	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		req, _ := http.NewRequest("GET", server.URL, nil)
		_, errs[i] = client.Do(req)
	}

	var gotCircuitOpenError bool
	for _, err := range errs {
		if err != nil && strings.Contains(err.Error(), "circuit breaker is open") {
			gotCircuitOpenError = true
			break
		}
	}

	if !gotCircuitOpenError {
		t.Errorf("Expected circuit breaker to open, but didn't see open error. Errors: %v", errs)
	}
}

func TestResilientClient_DisabledCircuitBreaker(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	config := Config{EnableCircuitBreaker: false, MaxRetries: 0}
	client := New("test", 5*time.Second, config, nil)

	for i := 0; i < 5; i++ {
		req, _ := http.NewRequest("GET", server.URL, nil)
		client.Do(req)
	}

	if atomic.LoadInt32(&attempts) != 5 {
		t.Errorf("Expected 5 attempts, got %d", attempts)
	}
}

func TestResilientClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	config := DefaultConfig()
	config.EnableCircuitBreaker = false
	client := New("test", 5*time.Second, config, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", server.URL, nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	_, err = client.Do(req)
	if err == nil {
		t.Fatal("Expected error due to context cancellation")
	}

	if !strings.Contains(err.Error(), "context") && !strings.Contains(err.Error(), "deadline") {
		t.Errorf("Expected context/deadline error, got: %v", err)
	}
}

func TestShouldRetry(t *testing.T) {
	client := New("test", 30*time.Second, DefaultConfig(), nil)

	tests := []struct {
		name       string
		err        error
		statusCode int
		want       bool
	}{
		{"500 error", nil, http.StatusInternalServerError, true},
		{"502 error", nil, http.StatusBadGateway, true},
		{"503 error", nil, http.StatusServiceUnavailable, true},
		{"504 error", nil, http.StatusGatewayTimeout, true},
		{"429 error", nil, http.StatusTooManyRequests, true},
		{"400 error", nil, http.StatusBadRequest, false},
		{"403 error", nil, http.StatusForbidden, false},
		{"404 error", nil, http.StatusNotFound, false},
		{"200 success", nil, http.StatusOK, false},
		{"context deadline", context.DeadlineExceeded, 0, true},
		{"context canceled", context.Canceled, 0, false},
		{"connection refused", fmt.Errorf("connection refused"), 0, true},
		{"EOF error", fmt.Errorf("EOF"), 0, true},
		{"unknown error", fmt.Errorf("unknown error"), 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp *http.Response
			if tt.statusCode > 0 {
				resp = &http.Response{StatusCode: tt.statusCode}
			}

			got := client.shouldRetry(tt.err, resp)
			if got != tt.want {
				t.Errorf("shouldRetry() = %v, want %v", got, tt.want)
			}
		})
	}
}
