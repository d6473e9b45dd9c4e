package health

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/fleetwatch/gpu-observer/internal/observability"
	"github.com/fleetwatch/gpu-observer/pkg/model"
)

type mockReadiness struct {
	ready bool
}

func (m *mockReadiness) IsReady() bool { return m.ready }

type mockHealth struct {
	h model.AgentHealth
}

func (m *mockHealth) Health() model.AgentHealth { return m.h }

type mockSnapshot struct {
	data interface{}
}

func (m *mockSnapshot) LatestSnapshot() interface{} { return m.data }

type mockJobs struct {
	jobList []model.JobDescriptor
}

func (m *mockJobs) LatestJobs() []model.JobDescriptor { return m.jobList }

func newTestServer(ready bool, snapshot interface{}, jobList []model.JobDescriptor) *Server {
	metrics := observability.NewMetrics()
	r := &mockReadiness{ready: ready}
	h := &mockHealth{h: model.AgentHealth{Mode: "recommendation"}}
	s := &mockSnapshot{data: snapshot}
	j := &mockJobs{jobList: jobList}
	return NewServer(0, metrics, r, h, s, j, true)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(true, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)

	resp := w.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	var result model.AgentHealth
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if result.Mode != "recommendation" {
		t.Fatalf("expected mode=recommendation, got %s", result.Mode)
	}
}

func TestReadyzReady(t *testing.T) {
	srv := newTestServer(true, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)

	resp := w.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	var result map[string]bool
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if !result["ready"] {
		t.Fatal("expected ready=true")
	}
}

func TestReadyzNotReady(t *testing.T) {
	srv := newTestServer(false, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)

	resp := w.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	var result map[string]bool
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if result["ready"] {
		t.Fatal("expected ready=false")
	}
}

func TestMetrics(t *testing.T) {
	srv := newTestServer(true, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)

	resp := w.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "gpu_observer_") {
		t.Fatal("expected Prometheus metrics containing gpu_observer_ prefix")
	}
}

func TestDebugJobsWithData(t *testing.T) {
	jobList := []model.JobDescriptor{{Node: "n1", Session: "train:alice:proj:lora", PID: 123}}
	srv := newTestServer(true, nil, jobList)
	req := httptest.NewRequest(http.MethodGet, "/debug/jobs", nil)
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)

	resp := w.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	var result []model.JobDescriptor
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(result) != 1 || result[0].PID != 123 {
		t.Fatalf("unexpected job list: %+v", result)
	}
}

func TestDebugJobsNoData(t *testing.T) {
	srv := newTestServer(true, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/debug/jobs", nil)
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)

	resp := w.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
}

func TestDebugSnapshotNoData(t *testing.T) {
	srv := newTestServer(true, nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/debug/snapshot", nil)
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)

	resp := w.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
}

func TestDebugSnapshotWithData(t *testing.T) {
	snap := map[string]interface{}{
		"cluster": "test-cluster",
		"nodes":   3,
	}
	srv := newTestServer(true, snap, nil)
	req := httptest.NewRequest(http.MethodGet, "/debug/snapshot", nil)
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)

	resp := w.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	var result map[string]interface{}
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if result["cluster"] != "test-cluster" {
		t.Fatalf("expected cluster=test-cluster, got %v", result["cluster"])
	}
}

func TestDebugSnapshotZstdEncoding(t *testing.T) {
	snap := map[string]interface{}{"cluster": "test-cluster", "nodes": 3}
	srv := newTestServer(true, snap, nil)
	req := httptest.NewRequest(http.MethodGet, "/debug/snapshot", nil)
	req.Header.Set("Accept-Encoding", "zstd")
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)

	resp := w.Result()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Content-Encoding") != "zstd" {
		t.Fatalf("expected Content-Encoding: zstd, got %q", resp.Header.Get("Content-Encoding"))
	}

	dec, err := zstd.NewReader(resp.Body)
	if err != nil {
		t.Fatalf("creating zstd reader: %v", err)
	}
	defer dec.Close()

	decoded, err := io.ReadAll(dec.IOReadCloser())
	if err != nil {
		t.Fatalf("decoding zstd body: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(decoded, &result); err != nil {
		t.Fatalf("invalid JSON after decompression: %v", err)
	}
	if result["cluster"] != "test-cluster" {
		t.Fatalf("expected cluster=test-cluster, got %v", result["cluster"])
	}
}

func TestDebugEndpointsDisabled(t *testing.T) {
	metrics := observability.NewMetrics()
	r := &mockReadiness{ready: true}
	h := &mockHealth{}
	s := &mockSnapshot{data: map[string]string{"key": "val"}}
	j := &mockJobs{}

	srv := NewServer(0, metrics, r, h, s, j, false)

	req := httptest.NewRequest(http.MethodGet, "/debug/snapshot", nil)
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)
	if w.Result().StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for /debug/snapshot when debug disabled, got %d", w.Result().StatusCode)
	}

	req = httptest.NewRequest(http.MethodGet, "/debug/jobs", nil)
	w = httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)
	if w.Result().StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for /debug/jobs when debug disabled, got %d", w.Result().StatusCode)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w = httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)
	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for /healthz, got %d", w.Result().StatusCode)
	}
}

func TestServerStartStop(t *testing.T) {
	metrics := observability.NewMetrics()
	r := &mockReadiness{ready: true}
	h := &mockHealth{}
	s := &mockSnapshot{}
	j := &mockJobs{}

	srv := NewServer(0, metrics, r, h, s, j, false)

	if err := srv.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	addr := srv.httpServer.Addr
	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("failed to reach server: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		t.Fatalf("failed to stop server: %v", err)
	}
}
