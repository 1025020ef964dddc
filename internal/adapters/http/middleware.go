package http

import (
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/melih/lab-agent/internal/credential"
	agenterrors "github.com/melih/lab-agent/internal/errors"
)

// CredentialHeader carries the access credential.
const CredentialHeader = "X-Lab-Password"

// RequireCredential rejects requests that do not present want via the
// X-Lab-Password header, a bearer token or a "password" body field.
func RequireCredential(want string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if credential.Match(want, presented(c)) {
			return c.Next()
		}
		return writeError(c, agenterrors.Unauthorized())
	}
}

func presented(c *fiber.Ctx) string {
	if v := c.Get(CredentialHeader); v != "" {
		return v
	}
	if v, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer "); ok {
		return strings.TrimSpace(v)
	}
	var body struct {
		Password string `json:"password"`
	}
	if len(c.Body()) > 0 && json.Unmarshal(c.Body(), &body) == nil {
		return body.Password
	}
	return ""
}
