// Package errors provides typed errors for the lab agent.
//
// # Error Types
//
// AgentError is the base error type. Its Kind decides both the HTTP status
// the façade answers with and the exit code of the CLI:
//
//	type AgentError struct {
//	    Kind    Kind   // validation, pool_exhausted, launch, ...
//	    Message string // User-facing message
//	    Cause   error  // Wrapped error
//	}
//
// # Kinds
//
//	validation         400, exit 3
//	unauthorized       401
//	not_found          404
//	image_not_found    404
//	pool_exhausted     409
//	segment_not_ready  503, exit 2
//	bootstrap          500, exit 2
//	launch, runtime    500, exit 4
//	config             500, exit 3
//
// # Extracting
//
//	if err != nil {
//	    return c.Status(errors.HTTPStatus(err)).JSON(...)
//	}
//
//	os.Exit(errors.GetExitCode(err))
package errors
