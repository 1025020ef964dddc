// Package http exposes the agent over HTTP with Fiber.
package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/melih/lab-agent/internal/activity"
	"github.com/melih/lab-agent/internal/core/bootstrap"
	"github.com/melih/lab-agent/internal/core/deploy"
	agenterrors "github.com/melih/lab-agent/internal/errors"
)

// Options configures the HTTP surface.
type Options struct {
	// AgentAddress is the host address shown to clients.
	AgentAddress string
	Credential   string
	// RequireCredential guards the mutating routes with Credential.
	RequireCredential bool
	// ProxyDomain enables the subdomain proxy when set.
	ProxyDomain string
}

// NewRouter builds the Fiber app. Routes are served at the root and under
// /api/v1.
func NewRouter(executor *deploy.Executor, boot *bootstrap.Bootstrapper, log *activity.Log, opts Options) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "lab-agent",
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message, "kind": agenterrors.KindInternal})
			}
			return writeError(c, err)
		},
	})
	app.Use(recover.New())
	app.Use(cors.New())

	if opts.ProxyDomain != "" {
		app.Use(NewProxyHandler(executor, opts.ProxyDomain).ProxyRequest)
	}

	h := NewContainerHandler(executor, boot, log, opts)
	app.Get("/", h.Index)
	register(app, h, opts)
	register(app.Group("/api/v1"), h, opts)
	return app
}

func register(r fiber.Router, h *ContainerHandler, opts Options) {
	guard := func(c *fiber.Ctx) error { return c.Next() }
	if opts.RequireCredential {
		guard = RequireCredential(opts.Credential)
	}

	r.Post("/deploy", guard, h.Deploy)
	r.Post("/cleanup", guard, h.Cleanup)
	r.Post("/network/ensure", guard, h.EnsureNetwork)

	containers := r.Group("/containers")
	containers.Get("/", h.ListContainers)
	containers.Get("/:id", h.GetContainer)
	containers.Delete("/:id", guard, h.RemoveContainer)
	containers.Get("/:id/logs", h.GetContainerLogs)

	r.Get("/status", h.Status)
	r.Get("/system-logs", h.SystemLogs)
	r.Get("/health", h.Health)
}
