package consul

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeAgent is a minimal stand-in for the Consul HTTP API.
type fakeAgent struct {
	mu         sync.Mutex
	entries    map[string][]map[string]any
	registered map[string]map[string]any
}

func newFakeAgent(t *testing.T) (*fakeAgent, *Client) {
	t.Helper()

	fa := &fakeAgent{
		entries:    map[string][]map[string]any{},
		registered: map[string]map[string]any{},
	}
	srv := httptest.NewServer(http.HandlerFunc(fa.serveHTTP))
	t.Cleanup(srv.Close)

	client, err := NewClient(strings.TrimPrefix(srv.URL, "http://"), "")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return fa, client
}

func (fa *fakeAgent) serveHTTP(w http.ResponseWriter, r *http.Request) {
	fa.mu.Lock()
	defer fa.mu.Unlock()

	w.Header().Set("X-Consul-Index", "1")
	w.Header().Set("X-Consul-LastContact", "0")
	w.Header().Set("X-Consul-KnownLeader", "true")

	switch {
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/health/service/"):
		name := strings.TrimPrefix(r.URL.Path, "/v1/health/service/")
		entries := fa.entries[name]
		if entries == nil {
			entries = []map[string]any{}
		}
		_ = json.NewEncoder(w).Encode(entries)
	case r.Method == http.MethodPut && r.URL.Path == "/v1/agent/service/register":
		var reg map[string]any
		_ = json.NewDecoder(r.Body).Decode(&reg)
		fa.registered[reg["ID"].(string)] = reg
	case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/v1/agent/service/deregister/"):
		delete(fa.registered, strings.TrimPrefix(r.URL.Path, "/v1/agent/service/deregister/"))
	default:
		http.NotFound(w, r)
	}
}

func (fa *fakeAgent) addEntry(name, id, nodeAddr, svcAddr string, port int) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	fa.entries[name] = append(fa.entries[name], map[string]any{
		"Node":    map[string]any{"Address": nodeAddr},
		"Service": map[string]any{"ID": id, "Service": name, "Address": svcAddr, "Port": port},
	})
}

func TestDiscover_FallsBackToNodeAddress(t *testing.T) {
	fa, client := newFakeAgent(t)
	fa.addEntry("dishly-api", "api-1", "10.0.0.9", "", 8080)

	instances, err := client.Discover(context.Background(), "dishly-api")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(instances) != 1 {
		t.Fatalf("Expected 1 instance, got %d", len(instances))
	}
	if got := instances[0].HostPort(); got != "10.0.0.9:8080" {
		t.Errorf("Expected node address fallback, got %s", got)
	}
}

func TestDiscover_NoInstances(t *testing.T) {
	_, client := newFakeAgent(t)

	_, err := client.Discover(context.Background(), "missing")
	if !errors.Is(err, ErrNoInstances) {
		t.Errorf("Expected ErrNoInstances, got %v", err)
	}
}

func TestResolveBaseURL(t *testing.T) {
	fa, client := newFakeAgent(t)
	fa.addEntry("dishly-api", "api-1", "10.0.0.9", "127.0.0.1", 9090)

	got, err := client.ResolveBaseURL(context.Background(), "dishly-api", "")
	if err != nil {
		t.Fatalf("ResolveBaseURL: %v", err)
	}
	if got != "http://127.0.0.1:9090" {
		t.Errorf("Expected http://127.0.0.1:9090, got %s", got)
	}
}

func TestRegisterDeregister(t *testing.T) {
	fa, client := newFakeAgent(t)

	err := client.Register(&ServiceConfig{
		ID:      "dishly-api-1",
		Name:    "dishly-api",
		Address: "127.0.0.1",
		Port:    8080,
		Check:   &HealthCheck{HTTP: "http://127.0.0.1:8080/health", Interval: "10s", Timeout: "2s"},
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	fa.mu.Lock()
	reg, ok := fa.registered["dishly-api-1"]
	fa.mu.Unlock()
	if !ok {
		t.Fatal("Expected service to be registered")
	}
	if reg["Name"] != "dishly-api" {
		t.Errorf("Expected name dishly-api, got %v", reg["Name"])
	}

	if err := client.Deregister("dishly-api-1"); err != nil {
		t.Fatalf("Deregister: %v", err)
	}
	fa.mu.Lock()
	defer fa.mu.Unlock()
	if _, ok := fa.registered["dishly-api-1"]; ok {
		t.Error("Expected service to be deregistered")
	}
}
