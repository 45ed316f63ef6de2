package auth

import (
	"fmt"

	"github.com/labstack/echo/v4"

	apperrors "github.com/taziji/ChinaRMBSite/internal/errors"
)

// Authentication attempt outcomes, as recorded per request.
const (
	ResultGranted    = "granted"
	ResultDenied     = "denied"
	ResultChallenged = "challenged"
)

// AttemptRecorder counts authentication outcomes. Implementations must
// be safe for concurrent use.
type AttemptRecorder interface {
	RecordAttempt(result string)
}

// Gate returns middleware enforcing HTTP Basic authentication against
// store. A nil store disables the gate: every request passes through
// untouched. A nil recorder disables attempt counting.
//
// Every rejection, whether the header is missing, undecodable, names
// an unknown user, or carries the wrong password, produces the same
// 401 response with a WWW-Authenticate challenge for realm.
func Gate(store *Store, realm string, attempts AttemptRecorder) echo.MiddlewareFunc {
	challenge := fmt.Sprintf("Basic realm=%q", realm)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if store == nil {
				return next(c)
			}

			username, password, ok := c.Request().BasicAuth()
			if !ok {
				record(attempts, ResultChallenged)
				c.Response().Header().Set(echo.HeaderWWWAuthenticate, challenge)
				return apperrors.AuthError("Unauthorized")
			}
			if !store.Verify(username, password) {
				record(attempts, ResultDenied)
				c.Response().Header().Set(echo.HeaderWWWAuthenticate, challenge)
				return apperrors.AuthError("Unauthorized")
			}

			record(attempts, ResultGranted)
			return next(c)
		}
	}
}

func record(rec AttemptRecorder, result string) {
	if rec != nil {
		rec.RecordAttempt(result)
	}
}
