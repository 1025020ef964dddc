package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"net/netip"
	"strconv"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/melih/lab-agent/internal/activity"
	"github.com/melih/lab-agent/internal/adapters/mock"
	"github.com/melih/lab-agent/internal/core/bootstrap"
	"github.com/melih/lab-agent/internal/core/deploy"
	"github.com/melih/lab-agent/internal/core/domain"
	"github.com/melih/lab-agent/internal/core/ipam"
	"github.com/melih/lab-agent/internal/core/ports"
	"github.com/melih/lab-agent/internal/logging"
)

const testNetwork = "lab_net"

func TestMain(m *testing.M) {
	logging.Setup(false, false, &bytes.Buffer{})
	m.Run()
}

type testAgent struct {
	app      *fiber.App
	rt       *mock.Runtime
	executor *deploy.Executor
	log      *activity.Log
}

type agentConfig struct {
	subnet, start, end string
	skipBootstrap      bool
	opts               Options
}

func newTestAgent(t *testing.T, cfg agentConfig) *testAgent {
	t.Helper()
	if cfg.subnet == "" {
		cfg.subnet, cfg.start, cfg.end = "192.168.100.0/24", "192.168.100.10", "192.168.100.12"
	}
	if cfg.opts.AgentAddress == "" {
		cfg.opts.AgentAddress = "10.0.0.5"
	}

	prefix := netip.MustParsePrefix(cfg.subnet)
	seg := domain.Segment{Name: testNetwork, Driver: "macvlan", Subnet: cfg.subnet, Gateway: prefix.Addr().Next().String()}
	rt := mock.New()
	rt.AddSegment(seg)

	pool, err := ipam.NewAddressPool(prefix, netip.MustParseAddr(cfg.start), netip.MustParseAddr(cfg.end))
	if err != nil {
		t.Fatalf("NewAddressPool: %v", err)
	}
	hostPorts, err := ipam.NewPortPool(8000, 8009)
	if err != nil {
		t.Fatalf("NewPortPool: %v", err)
	}

	log := activity.New(activity.DefaultCapacity)
	gate := bootstrap.NewGate()
	boot := bootstrap.New(rt, seg, bootstrap.WithGate(gate), bootstrap.WithActivity(log))
	if !cfg.skipBootstrap {
		if _, err := boot.EnsureSegment(context.Background()); err != nil {
			t.Fatalf("EnsureSegment: %v", err)
		}
	}

	executor := deploy.NewExecutor(rt, testNetwork, pool,
		deploy.WithHostPorts(hostPorts),
		deploy.WithGate(gate, true),
		deploy.WithActivity(log),
	)
	return &testAgent{app: NewRouter(executor, boot, log, cfg.opts), rt: rt, executor: executor, log: log}
}

func (a *testAgent) do(t *testing.T, method, target string, body any, header ...string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := a.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, out
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return v
}

func TestDeploy_Success(t *testing.T) {
	a := newTestAgent(t, agentConfig{})

	status, body := a.do(t, "POST", "/deploy", map[string]any{"image": "nginx", "name": "web"})
	if status != fiber.StatusCreated {
		t.Fatalf("status = %d, body = %s", status, body)
	}

	resp := decode[struct {
		Success   bool                    `json:"success"`
		Container domain.DeploymentRecord `json:"container"`
		AccessURL string                  `json:"access_url"`
		Message   string                  `json:"message"`
	}](t, body)
	if !resp.Success {
		t.Error("success = false")
	}
	if resp.Container.Address != netip.MustParseAddr("192.168.100.10") {
		t.Errorf("address = %v, want 192.168.100.10", resp.Container.Address)
	}
	if resp.AccessURL != "http://10.0.0.5:8000" {
		t.Errorf("access_url = %q", resp.AccessURL)
	}
	if a.rt.Running() != 1 {
		t.Errorf("running = %d, want 1", a.rt.Running())
	}
}

func TestDeploy_Errors(t *testing.T) {
	tests := []struct {
		name       string
		cfg        agentConfig
		setup      func(a *testAgent)
		body       any
		wantStatus int
		wantKind   string
	}{
		{
			name:       "missing image",
			body:       map[string]any{"name": "web"},
			wantStatus: fiber.StatusBadRequest,
			wantKind:   "validation",
		},
		{
			name:       "bad port",
			body:       map[string]any{"image": "nginx", "container_port": 70000},
			wantStatus: fiber.StatusBadRequest,
			wantKind:   "validation",
		},
		{
			name: "image missing",
			setup: func(a *testAgent) {
				a.rt.LaunchErr = fmt.Errorf("%w: nope:latest", ports.ErrImageNotFound)
			},
			body:       map[string]any{"image": "nope"},
			wantStatus: fiber.StatusNotFound,
			wantKind:   "image_not_found",
		},
		{
			name: "launch failure",
			setup: func(a *testAgent) {
				a.rt.LaunchErr = fmt.Errorf("driver failed programming external connectivity")
			},
			body:       map[string]any{"image": "nginx"},
			wantStatus: fiber.StatusInternalServerError,
			wantKind:   "launch",
		},
		{
			name: "pool exhausted",
			cfg:  agentConfig{subnet: "192.168.100.0/24", start: "192.168.100.10", end: "192.168.100.10"},
			setup: func(a *testAgent) {
				a.rt.AddContainer(testNetwork, domain.Container{ID: "stranger", Name: "stranger", Address: netip.MustParseAddr("192.168.100.10"), State: domain.StateRunning})
				if _, err := a.executor.Reconcile(context.Background()); err != nil {
					panic(err)
				}
			},
			body:       map[string]any{"image": "nginx"},
			wantStatus: fiber.StatusConflict,
			wantKind:   "pool_exhausted",
		},
		{
			name:       "segment not ready",
			cfg:        agentConfig{skipBootstrap: true},
			body:       map[string]any{"image": "nginx"},
			wantStatus: fiber.StatusServiceUnavailable,
			wantKind:   "segment_not_ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAgent(t, tt.cfg)
			if tt.setup != nil {
				tt.setup(a)
			}

			status, body := a.do(t, "POST", "/deploy", tt.body)
			if status != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", status, tt.wantStatus, body)
			}
			eb := decode[errorBody](t, body)
			if eb.Kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", eb.Kind, tt.wantKind)
			}
			if eb.Error == "" {
				t.Error("error message is empty")
			}

			stats := a.executor.Stats()
			if stats.Addresses.Reserved != 0 || stats.HostPorts.Reserved != 0 {
				t.Errorf("reservations leaked: %+v", stats)
			}
		})
	}
}

func TestDeploy_InvalidBody(t *testing.T) {
	a := newTestAgent(t, agentConfig{})

	req := httptest.NewRequest("POST", "/deploy", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestContainerRoutes(t *testing.T) {
	a := newTestAgent(t, agentConfig{})

	status, body := a.do(t, "POST", "/deploy", map[string]any{"image": "nginx", "name": "web"})
	if status != fiber.StatusCreated {
		t.Fatalf("deploy status = %d, body = %s", status, body)
	}

	status, body = a.do(t, "GET", "/containers", nil)
	if status != fiber.StatusOK {
		t.Fatalf("list status = %d", status)
	}
	list := decode[[]domain.Deployment](t, body)
	if len(list) != 1 || list[0].Name != "web" || list[0].State != domain.StateRunning {
		t.Fatalf("list = %+v", list)
	}
	id := list[0].ID
	a.rt.SetLogs(id, "ready\n")

	status, body = a.do(t, "GET", "/containers/web", nil)
	if status != fiber.StatusOK {
		t.Fatalf("get status = %d, body = %s", status, body)
	}
	if got := decode[domain.Deployment](t, body); got.ID != id {
		t.Errorf("get id = %q, want %q", got.ID, id)
	}

	status, body = a.do(t, "GET", "/api/v1/containers/web/logs?tail=5", nil)
	if status != fiber.StatusOK || string(body) != "ready\n" {
		t.Errorf("logs = %d %q", status, body)
	}

	entries := a.log.Len()
	status, _ = a.do(t, "DELETE", "/containers/web", nil)
	if status != fiber.StatusOK {
		t.Fatalf("delete status = %d", status)
	}
	if got := a.log.Len() - entries; got != 1 {
		t.Errorf("delete added %d activity entries, want 1: %v", got, a.log.Recent(got))
	}
	if a.executor.Stats().Addresses.InUse != 0 {
		t.Errorf("address still in use after delete: %+v", a.executor.Stats())
	}

	status, body = a.do(t, "GET", "/containers/web", nil)
	if status != fiber.StatusNotFound {
		t.Errorf("get after delete status = %d", status)
	}
	if eb := decode[errorBody](t, body); eb.Kind != "not_found" {
		t.Errorf("kind = %q, want not_found", eb.Kind)
	}

	status, body = a.do(t, "GET", "/containers", nil)
	if status != fiber.StatusOK || strings.TrimSpace(string(body)) != "[]" {
		t.Errorf("empty list = %d %s", status, body)
	}
}

func TestCleanup(t *testing.T) {
	a := newTestAgent(t, agentConfig{})
	for _, name := range []string{"one", "two"} {
		if status, body := a.do(t, "POST", "/deploy", map[string]any{"image": "nginx", "name": name}); status != fiber.StatusCreated {
			t.Fatalf("deploy %s: %d %s", name, status, body)
		}
	}

	status, body := a.do(t, "POST", "/cleanup", nil)
	if status != fiber.StatusOK {
		t.Fatalf("cleanup status = %d, body = %s", status, body)
	}
	resp := decode[struct {
		Removed int `json:"removed"`
	}](t, body)
	if resp.Removed != 2 {
		t.Errorf("removed = %d, want 2", resp.Removed)
	}
	if a.rt.Running() != 0 {
		t.Errorf("running = %d, want 0", a.rt.Running())
	}
}

func TestEnsureNetwork(t *testing.T) {
	a := newTestAgent(t, agentConfig{skipBootstrap: true})

	status, body := a.do(t, "POST", "/network/ensure", nil)
	if status != fiber.StatusOK {
		t.Fatalf("status = %d, body = %s", status, body)
	}
	if !a.executor.SegmentReady() {
		t.Error("segment should be ready after ensure")
	}
	if a.rt.CreateSegmentCalls != 0 {
		t.Errorf("existing segment was created again (%d calls)", a.rt.CreateSegmentCalls)
	}

	if status, body := a.do(t, "POST", "/deploy", map[string]any{"image": "nginx"}); status != fiber.StatusCreated {
		t.Errorf("deploy after ensure = %d %s", status, body)
	}
}

func TestStatusAndHealth(t *testing.T) {
	a := newTestAgent(t, agentConfig{})
	a.do(t, "POST", "/deploy", map[string]any{"image": "nginx", "name": "web"})

	status, body := a.do(t, "GET", "/health", nil)
	if status != fiber.StatusOK {
		t.Fatalf("health status = %d", status)
	}
	health := decode[struct {
		Status     string `json:"status"`
		Containers int    `json:"containers"`
	}](t, body)
	if health.Status != "healthy" || health.Containers != 1 {
		t.Errorf("health = %+v", health)
	}

	status, body = a.do(t, "GET", "/status", nil)
	if status != fiber.StatusOK {
		t.Fatalf("status status = %d", status)
	}
	st := decode[struct {
		Network struct {
			Name  string `json:"name"`
			Ready bool   `json:"ready"`
		} `json:"network"`
		Pools deploy.Stats `json:"pools"`
	}](t, body)
	if st.Network.Name != testNetwork || !st.Network.Ready {
		t.Errorf("network = %+v", st.Network)
	}
	if st.Pools.Addresses.InUse != 1 || st.Pools.Addresses.Total != 3 {
		t.Errorf("pools = %+v", st.Pools.Addresses)
	}

	status, body = a.do(t, "GET", "/system-logs", nil)
	if status != fiber.StatusOK {
		t.Fatalf("system-logs status = %d", status)
	}
	logs := decode[struct {
		Logs []activity.Entry `json:"logs"`
	}](t, body)
	if len(logs.Logs) == 0 {
		t.Error("system-logs is empty after a deployment")
	}
}

func TestIndex(t *testing.T) {
	a := newTestAgent(t, agentConfig{opts: Options{Credential: "s3cretAB"}})

	status, body := a.do(t, "GET", "/", nil)
	if status != fiber.StatusOK {
		t.Fatalf("status = %d", status)
	}
	for _, want := range []string{"10.0.0.5", "s3cretAB", testNetwork} {
		if !strings.Contains(string(body), want) {
			t.Errorf("index missing %q:\n%s", want, body)
		}
	}
}

func TestIndex_HidesEnforcedCredential(t *testing.T) {
	a := newTestAgent(t, agentConfig{opts: Options{Credential: "s3cretXY", RequireCredential: true}})

	status, body := a.do(t, "GET", "/", nil)
	if status != fiber.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if strings.Contains(string(body), "s3cretXY") {
		t.Fatalf("index shows the enforced credential:\n%s", body)
	}
	if !strings.Contains(string(body), "Password: (required") {
		t.Errorf("index should say a password is required:\n%s", body)
	}

	status, _ = a.do(t, "POST", "/deploy", map[string]any{"image": "nginx"})
	if status != fiber.StatusUnauthorized {
		t.Errorf("deploy without credential status = %d, want 401", status)
	}
}

func TestRequireCredential(t *testing.T) {
	a := newTestAgent(t, agentConfig{opts: Options{Credential: "s3cretAB", RequireCredential: true}})

	tests := []struct {
		name       string
		body       map[string]any
		header     []string
		wantStatus int
	}{
		{name: "missing", body: map[string]any{"image": "nginx"}, wantStatus: fiber.StatusUnauthorized},
		{name: "wrong header", body: map[string]any{"image": "nginx"}, header: []string{CredentialHeader, "nope"}, wantStatus: fiber.StatusUnauthorized},
		{name: "header", body: map[string]any{"image": "nginx"}, header: []string{CredentialHeader, "s3cretAB"}, wantStatus: fiber.StatusCreated},
		{name: "bearer", body: map[string]any{"image": "nginx"}, header: []string{"Authorization", "Bearer s3cretAB"}, wantStatus: fiber.StatusCreated},
		{name: "body field", body: map[string]any{"image": "nginx", "password": "s3cretAB"}, wantStatus: fiber.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := a.do(t, "POST", "/deploy", tt.body, tt.header...)
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", status, tt.wantStatus, body)
			}
		})
	}

	// read-only routes stay open
	if status, _ := a.do(t, "GET", "/containers", nil); status != fiber.StatusOK {
		t.Errorf("GET /containers = %d, want 200", status)
	}
}

func TestProxy(t *testing.T) {
	upstream := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		fmt.Fprintf(w, "hello from %s%s", r.Host, r.URL.Path)
	}))
	defer upstream.Close()
	port, err := strconv.Atoi(upstream.URL[strings.LastIndex(upstream.URL, ":")+1:])
	if err != nil {
		t.Fatal(err)
	}

	a := newTestAgent(t, agentConfig{
		subnet: "127.0.0.0/24", start: "127.0.0.1", end: "127.0.0.1",
		opts: Options{ProxyDomain: "lab.local"},
	})
	status, body := a.do(t, "POST", "/deploy", map[string]any{"image": "nginx", "name": "web", "container_port": port})
	if status != fiber.StatusCreated {
		t.Fatalf("deploy status = %d, body = %s", status, body)
	}
	if resp := decode[struct {
		AccessURL string `json:"access_url"`
	}](t, body); resp.AccessURL != "http://web.lab.local" {
		t.Errorf("access_url = %q", resp.AccessURL)
	}

	status, body = a.do(t, "GET", "http://web.lab.local/index.html", nil)
	if status != fiber.StatusOK {
		t.Fatalf("proxied status = %d, body = %s", status, body)
	}
	if want := fmt.Sprintf("hello from 127.0.0.1:%d/index.html", port); string(body) != want {
		t.Errorf("proxied body = %q, want %q", body, want)
	}

	status, _ = a.do(t, "GET", "http://ghost.lab.local/", nil)
	if status != fiber.StatusNotFound {
		t.Errorf("unknown app status = %d, want 404", status)
	}

	// other hosts fall through to the API
	status, _ = a.do(t, "GET", "http://10.0.0.5/health", nil)
	if status != fiber.StatusOK {
		t.Errorf("health through proxy middleware = %d, want 200", status)
	}
}

func TestProxy_NotRunning(t *testing.T) {
	a := newTestAgent(t, agentConfig{opts: Options{ProxyDomain: "lab.local"}})
	status, body := a.do(t, "POST", "/deploy", map[string]any{"image": "nginx", "name": "web"})
	if status != fiber.StatusCreated {
		t.Fatalf("deploy status = %d, body = %s", status, body)
	}
	rec := decode[struct {
		Container domain.DeploymentRecord `json:"container"`
	}](t, body)
	a.rt.SetState(rec.Container.ID, domain.StateExited)

	if status, _ := a.do(t, "GET", "http://web.lab.local/", nil); status != fiber.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", status)
	}
}

func TestProxy_Subdomain(t *testing.T) {
	p := NewProxyHandler(nil, ".Lab.Local.")
	tests := []struct {
		host   string
		want   string
		wantOK bool
	}{
		{host: "web.lab.local", want: "web", wantOK: true},
		{host: "WEB.lab.local", want: "web", wantOK: true},
		{host: "lab.local"},
		{host: "www.lab.local"},
		{host: "a.b.lab.local"},
		{host: "web.example.com"},
	}
	for _, tt := range tests {
		got, ok := p.subdomain(tt.host)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("subdomain(%q) = %q, %v; want %q, %v", tt.host, got, ok, tt.want, tt.wantOK)
		}
	}
}
