package shared

import (
	"fmt"

	"github.com/diazhh/alcaldia-saas/internal/platform/httpx"
)

// Session and CSRF failures map to 401 and 403 through httpx.StatusFor.
var (
	ErrSessionMissing    = fmt.Errorf("session missing: %w", httpx.ErrUnauthorized)
	ErrCSRFTokenMissing  = fmt.Errorf("csrf token missing: %w", httpx.ErrForbidden)
	ErrCSRFTokenMismatch = fmt.Errorf("csrf token mismatch: %w", httpx.ErrForbidden)
)
