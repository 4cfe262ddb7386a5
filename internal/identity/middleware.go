package identity

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pulsedesk/pulsedesk/internal/platform/httpx"
	"github.com/pulsedesk/pulsedesk/internal/shared"
)

// MetricsRecorder receives authorization telemetry. Implemented by
// observability.Metrics; nil disables recording.
type MetricsRecorder interface {
	AuthRejected(code string)
	AuthzDenied(code string)
	LegacyFallback(tier string)
}

// Middleware wires the authorization decision engine into HTTP handlers.
// Every denial short-circuits before the guarded handler runs.
type Middleware struct {
	Service *Service
	Logger  *slog.Logger
	Audit   shared.Recorder
	Metrics MetricsRecorder
}

// Authenticate resolves the bearer credential and stores the principal in the
// request context. Each rejection reason maps to its own wire code.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			m.rejectCredential(w, r, ErrTokenMissing, nil)
			return
		}
		p, err := m.Service.Authenticate(r.Context(), raw)
		if err != nil {
			m.rejectCredential(w, r, err, p)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), p)))
	})
}

// RequireFullAccess rejects principals without the full-access flag.
func (m Middleware) RequireFullAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := PrincipalFromContext(r.Context())
		if p == nil {
			m.rejectUnauthenticated(w, r)
			return
		}
		if !HasFullAccess(p) {
			m.deny(w, r, p, httpx.CodeInsufficientPermissions, "full access",
				"You do not have permission to perform this action")
			return
		}
		m.noteLegacy(p)
		next.ServeHTTP(w, r)
	})
}

// RequirePermission gates a route on a module/action capability.
func (m Middleware) RequirePermission(module Module, action Action) func(http.Handler) http.Handler {
	required := string(module) + "." + string(action)
	message := "You do not have permission to " + strings.ToLower(string(action)) + " " + strings.ToLower(string(module))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromContext(r.Context())
			if p == nil {
				m.rejectUnauthenticated(w, r)
				return
			}
			if !HasPermission(p, module, action) {
				m.deny(w, r, p, httpx.CodeInsufficientPermissions, required, message)
				return
			}
			m.noteLegacy(p)
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePageAccess gates a route on a Pages-bucket flag.
func (m Middleware) RequirePageAccess(page Page) func(http.Handler) http.Handler {
	required := "Pages." + string(page)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromContext(r.Context())
			if p == nil {
				m.rejectUnauthenticated(w, r)
				return
			}
			if !HasPageAccess(p, page) {
				m.deny(w, r, p, httpx.CodePageAccessDenied, required,
					"You do not have access to the "+strings.ToLower(string(page))+" page")
				return
			}
			m.noteLegacy(p)
			next.ServeHTTP(w, r)
		})
	}
}

// Authorize passes principals with full access or a legacy tag in the allowed
// set. Retained only for routes not yet migrated to permission-based checks;
// new call sites must use RequirePermission.
func (m Middleware) Authorize(tags ...LegacyRole) func(http.Handler) http.Handler {
	allowed := make(map[LegacyRole]bool, len(tags))
	for _, tag := range tags {
		allowed[tag] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromContext(r.Context())
			if p == nil {
				m.rejectUnauthenticated(w, r)
				return
			}
			if !HasFullAccess(p) && !allowed[p.LegacyRole] {
				m.deny(w, r, p, httpx.CodeInsufficientPermissions, "legacy:"+joinTags(tags),
					"You do not have permission to perform this action")
				return
			}
			m.noteLegacy(p)
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// rejectCredential maps an authentication failure to its wire code. The raw
// credential is never logged; the principal id is included only for the
// revoked and inactive cases where it is known.
func (m Middleware) rejectCredential(w http.ResponseWriter, r *http.Request, err error, p *Principal) {
	status := http.StatusUnauthorized
	var code, message string
	switch {
	case errors.Is(err, ErrTokenMissing):
		code, message = httpx.CodeTokenMissing, "Authentication token required"
	case errors.Is(err, ErrTokenExpired):
		code, message = httpx.CodeTokenExpired, "Your session has expired, please log in again"
	case errors.Is(err, ErrTokenMalformed):
		code, message = httpx.CodeTokenInvalid, "Invalid authentication token"
	case errors.Is(err, ErrTokenType):
		code, message = httpx.CodeInvalidTokenType, "Invalid token type"
	case errors.Is(err, ErrUserNotFound):
		code, message = httpx.CodeUserNotFound, "Account not found"
	case errors.Is(err, ErrUserInactive):
		code, message = httpx.CodeAccountInactive, "Your account has been deactivated, please contact an administrator"
	case errors.Is(err, ErrTokenRevoked):
		code, message = httpx.CodeTokenRevoked, "Your session has been revoked, please log in again"
	default:
		status = http.StatusInternalServerError
		code, message = httpx.CodeInternalError, "An unexpected error occurred"
		if m.Logger != nil {
			m.Logger.Error("authenticate", slog.Any("error", err))
		}
	}
	if m.Logger != nil {
		attrs := []any{
			slog.String("code", code),
			slog.String("path", r.URL.Path),
			slog.String("ip", r.RemoteAddr),
		}
		if p != nil {
			attrs = append(attrs, slog.Int64("principal_id", p.ID))
		}
		m.Logger.Warn("authentication rejected", attrs...)
	}
	if m.Metrics != nil {
		m.Metrics.AuthRejected(code)
	}
	httpx.Reject(w, status, code, message)
}

func (m Middleware) rejectUnauthenticated(w http.ResponseWriter, r *http.Request) {
	if m.Logger != nil {
		m.Logger.Warn("authorization without principal",
			slog.String("path", r.URL.Path), slog.String("ip", r.RemoteAddr))
	}
	if m.Metrics != nil {
		m.Metrics.AuthRejected(httpx.CodeAuthRequired)
	}
	httpx.Reject(w, http.StatusUnauthorized, httpx.CodeAuthRequired, "Authentication required")
}

// deny emits the 403, the denial log and the audit record: who tried what and
// was denied why.
func (m Middleware) deny(w http.ResponseWriter, r *http.Request, p *Principal, code, required, message string) {
	if m.Logger != nil {
		m.Logger.Warn("authorization denied",
			slog.Int64("actor_id", p.ID),
			slog.String("role", p.RoleName()),
			slog.String("required", required),
			slog.String("code", code),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("ip", r.RemoteAddr),
		)
	}
	if m.Audit != nil {
		_ = m.Audit.Record(r.Context(), shared.AuditLog{
			ActorID:  p.ID,
			Action:   "authz.denied",
			Entity:   "route",
			EntityID: r.Method + " " + r.URL.Path,
			Meta: map[string]any{
				"code":     code,
				"required": required,
				"role":     p.RoleName(),
				"ip":       r.RemoteAddr,
			},
		})
	}
	if m.Metrics != nil {
		m.Metrics.AuthzDenied(code)
	}
	httpx.Reject(w, http.StatusForbidden, code, message)
}

// noteLegacy tracks requests allowed through the deprecated legacy fallback so
// operators can watch migration progress.
func (m Middleware) noteLegacy(p *Principal) {
	if !UsesLegacyFallback(p) {
		return
	}
	if m.Logger != nil {
		m.Logger.Debug("legacy role fallback",
			slog.Int64("principal_id", p.ID),
			slog.String("tier", string(p.LegacyRole)))
	}
	if m.Metrics != nil {
		m.Metrics.LegacyFallback(string(p.LegacyRole))
	}
}

func joinTags(tags []LegacyRole) string {
	parts := make([]string, len(tags))
	for i, tag := range tags {
		parts[i] = string(tag)
	}
	return strings.Join(parts, ",")
}

// RequestPrincipalID is a convenience for handlers needing the acting id.
func RequestPrincipalID(r *http.Request) (int64, bool) {
	p := PrincipalFromContext(r.Context())
	if p == nil {
		return 0, false
	}
	return p.ID, true
}
