package http

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/melih/lab-agent/internal/activity"
	"github.com/melih/lab-agent/internal/core/bootstrap"
	"github.com/melih/lab-agent/internal/core/deploy"
	"github.com/melih/lab-agent/internal/core/domain"
	agenterrors "github.com/melih/lab-agent/internal/errors"
)

// DefaultLogTail is used when a logs request has no tail parameter.
const DefaultLogTail = 100

type ContainerHandler struct {
	executor *deploy.Executor
	boot     *bootstrap.Bootstrapper
	activity *activity.Log
	opts     Options
}

func NewContainerHandler(executor *deploy.Executor, boot *bootstrap.Bootstrapper, log *activity.Log, opts Options) *ContainerHandler {
	return &ContainerHandler{executor: executor, boot: boot, activity: log, opts: opts}
}

// DeployRequest is the body of POST /deploy.
type DeployRequest struct {
	domain.DeploymentRequest
	Password string `json:"password,omitempty"`
}

func (h *ContainerHandler) Deploy(c *fiber.Ctx) error {
	var req DeployRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, agenterrors.ValidationError("invalid request body"))
	}

	rec, err := h.executor.Deploy(c.Context(), req.DeploymentRequest)
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":    true,
		"container":  rec,
		"access_url": h.accessURL(*rec),
		"message":    fmt.Sprintf("deployed %s at %s", rec.Name, rec.Address),
	})
}

// accessURL prefers the proxied hostname, then the published host port,
// then the segment address.
func (h *ContainerHandler) accessURL(rec domain.DeploymentRecord) string {
	switch {
	case h.opts.ProxyDomain != "":
		return fmt.Sprintf("http://%s.%s", rec.Name, h.opts.ProxyDomain)
	case rec.HostPort != 0:
		return fmt.Sprintf("http://%s:%d", h.opts.AgentAddress, rec.HostPort)
	default:
		return fmt.Sprintf("http://%s:%d", rec.Address, rec.ContainerPort)
	}
}

func (h *ContainerHandler) ListContainers(c *fiber.Ctx) error {
	deployments, err := h.executor.List(c.Context())
	if err != nil {
		return writeError(c, err)
	}
	if deployments == nil {
		deployments = []domain.Deployment{}
	}
	return c.JSON(deployments)
}

func (h *ContainerHandler) GetContainer(c *fiber.Ctx) error {
	d, err := h.executor.Get(c.Context(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(d)
}

func (h *ContainerHandler) RemoveContainer(c *fiber.Ctx) error {
	rec, err := h.executor.Remove(c.Context(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"removed": rec,
	})
}

func (h *ContainerHandler) GetContainerLogs(c *fiber.Ctx) error {
	tail := c.QueryInt("tail", DefaultLogTail)
	logs, err := h.executor.Logs(c.Context(), c.Params("id"), tail)
	if err != nil {
		return writeError(c, err)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.SendString(logs)
}

func (h *ContainerHandler) Cleanup(c *fiber.Ctx) error {
	removed, err := h.executor.Cleanup(c.Context())
	if err != nil {
		return c.Status(agenterrors.HTTPStatus(err)).JSON(fiber.Map{
			"error":   err.Error(),
			"kind":    agenterrors.KindOf(err),
			"removed": removed,
		})
	}
	return c.JSON(fiber.Map{
		"success": true,
		"removed": removed,
	})
}

func (h *ContainerHandler) EnsureNetwork(c *fiber.Ctx) error {
	seg, err := h.boot.EnsureSegment(c.Context())
	if err != nil {
		return writeError(c, err)
	}
	report, err := h.executor.Reconcile(c.Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"success":   true,
		"network":   seg,
		"reconcile": report,
	})
}

func (h *ContainerHandler) Status(c *fiber.Ctx) error {
	network := fiber.Map{
		"name":  h.executor.Network(),
		"ready": h.executor.SegmentReady(),
	}
	if seg, ok := h.boot.Segment(); ok {
		network["segment"] = seg
	}
	return c.JSON(fiber.Map{
		"agent":       h.opts.AgentAddress,
		"network":     network,
		"pools":       h.executor.Stats(),
		"deployments": h.executor.Registry().List(),
		"activity":    h.activity.Recent(20),
	})
}

func (h *ContainerHandler) SystemLogs(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"logs": h.activity.Recent(0),
	})
}

func (h *ContainerHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":     "healthy",
		"containers": h.executor.Registry().Len(),
	})
}

// Index renders a plain-text summary for a browser or curl.
func (h *ContainerHandler) Index(c *fiber.Ctx) error {
	var b strings.Builder
	fmt.Fprintf(&b, "lab-agent\n\n")
	fmt.Fprintf(&b, "Agent:    %s\n", h.opts.AgentAddress)
	if h.opts.RequireCredential {
		fmt.Fprintf(&b, "Password: (required, see agent console)\n")
	} else {
		fmt.Fprintf(&b, "Password: %s\n", h.opts.Credential)
	}
	fmt.Fprintf(&b, "Network:  %s (ready: %t)\n", h.executor.Network(), h.executor.SegmentReady())
	fmt.Fprintf(&b, "Running:  %d\n\n", h.executor.Registry().Len())
	fmt.Fprintf(&b, "Recent activity:\n")
	for _, e := range h.activity.Recent(10) {
		fmt.Fprintf(&b, "  %s\n", e)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.SendString(b.String())
}

func writeError(c *fiber.Ctx, err error) error {
	return c.Status(agenterrors.HTTPStatus(err)).JSON(fiber.Map{
		"error": err.Error(),
		"kind":  agenterrors.KindOf(err),
	})
}
