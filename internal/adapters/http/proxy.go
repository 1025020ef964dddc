package http

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/melih/lab-agent/internal/core/deploy"
	"github.com/melih/lab-agent/internal/core/domain"
	"github.com/melih/lab-agent/internal/logging"
)

// ProxyHandler manages reverse proxying for subdomains.
type ProxyHandler struct {
	executor *deploy.Executor
	domain   string
}

// NewProxyHandler creates a proxy for hosts of the form <name>.<domain>.
func NewProxyHandler(executor *deploy.Executor, domain string) *ProxyHandler {
	return &ProxyHandler{executor: executor, domain: strings.ToLower(strings.Trim(domain, "."))}
}

// subdomain returns the deployment name addressed by host, if any.
func (h *ProxyHandler) subdomain(host string) (string, bool) {
	host = strings.ToLower(host)
	suffix := "." + h.domain
	if !strings.HasSuffix(host, suffix) {
		return "", false
	}
	name := strings.TrimSuffix(host, suffix)
	if name == "" || name == "www" || strings.Contains(name, ".") {
		return "", false
	}
	return name, true
}

// ProxyRequest intercepts requests to subdomains (e.g. web.lab.local)
// and routes them to the deployment's segment address.
func (h *ProxyHandler) ProxyRequest(c *fiber.Ctx) error {
	name, ok := h.subdomain(c.Hostname())
	if !ok {
		return c.Next()
	}

	d, err := h.executor.Get(c.Context(), name)
	if err != nil || d.Name != name {
		return c.Status(fiber.StatusNotFound).SendString(fmt.Sprintf("App '%s' not found", name))
	}
	if d.State != domain.StateRunning {
		return c.Status(fiber.StatusServiceUnavailable).SendString(fmt.Sprintf("App '%s' is %s", name, d.State))
	}

	target := fmt.Sprintf("%s:%d", d.Address, d.ContainerPort)
	remote, err := url.Parse("http://" + target)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString("Invalid target URL")
	}

	proxy := httputil.NewSingleHostReverseProxy(remote)

	// Rewrite Host to the target so the app does not reject the subdomain.
	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		req.Host = remote.Host
	}

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logging.Warn("proxy request failed", "name", name, "target", target, "error", err)
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprintf(w, "Proxy Info: target=%s error=%v", target, err)
	}

	return adaptor.HTTPHandler(proxy)(c)
}
