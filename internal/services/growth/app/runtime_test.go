package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/louisbranch/rockettree/internal/platform/authtoken"
	platformgrpc "github.com/louisbranch/rockettree/internal/platform/grpc"
	"github.com/louisbranch/rockettree/internal/services/growth/domain/progression"
)

const (
	testSecret = "runtime-test-secret-0123"
	testIssuer = "rockettree-test"
)

func TestNewServerRejectsWeakSecret(t *testing.T) {
	_, err := NewServer(context.Background(), RuntimeConfig{
		DBPath:      filepath.Join(t.TempDir(), "growth.db"),
		TokenSecret: "short",
		TokenIssuer: testIssuer,
	})
	if err == nil {
		t.Fatal("expected secret validation error")
	}
}

func TestRuntimeServesAPIAndHealth(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server, err := NewServer(ctx, RuntimeConfig{
		HTTPAddr:    "127.0.0.1:0",
		HealthAddr:  "127.0.0.1:0",
		DBPath:      filepath.Join(t.TempDir(), "data", "growth.db"),
		TokenSecret: testSecret,
		TokenIssuer: testIssuer,
		Worker:      WorkerConfig{PollInterval: 10 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()

	conn, err := platformgrpc.DialWithHealth(ctx, server.HealthAddr(), platformgrpc.DialConfig{
		Timeout: 5 * time.Second,
		Service: HealthService,
	})
	if err != nil {
		t.Fatalf("dial health: %v", err)
	}
	_ = conn.Close()

	authority, err := authtoken.New(authtoken.Config{Secret: []byte(testSecret), Issuer: testIssuer})
	if err != nil {
		t.Fatalf("authority: %v", err)
	}
	token, err := authority.Issue("user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	transport := &http.Transport{}
	client := &http.Client{Transport: transport, Timeout: 5 * time.Second}
	defer transport.CloseIdleConnections()
	base := "http://" + server.HTTPAddr()

	call := func(method, path string, body any) *http.Response {
		t.Helper()
		var payload []byte
		if body != nil {
			payload, _ = json.Marshal(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, base+path, bytes.NewReader(payload))
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := client.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", method, path, err)
		}
		return resp
	}

	resp := call(http.MethodPost, "/accounts", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create account: status %d", resp.StatusCode)
	}
	waitFor(t, func() bool {
		resp := call(http.MethodGet, "/tree/state", nil)
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})

	resp = call(http.MethodPost, "/reflections", map[string]string{"text": "quiet morning"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create reflection: status %d", resp.StatusCode)
	}
	waitFor(t, func() bool {
		resp := call(http.MethodGet, "/progression/events", nil)
		defer resp.Body.Close()
		var events []progression.Event
		if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
			return false
		}
		return len(events) == 1 && events[0].Type == progression.TypeReflectionLogged
	})

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("runtime did not stop")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
