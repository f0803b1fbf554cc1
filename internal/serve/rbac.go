package serve

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Role represents a caller's access level.
type Role string

const (
	// RoleViewer can read runs and events.
	RoleViewer Role = "viewer"

	// RoleOperator can also start and cancel runs and use the analysis
	// endpoints.
	RoleOperator Role = "operator"

	// RoleAdmin can also delete stored runs.
	RoleAdmin Role = "admin"
)

// ParseRole converts a string to a Role, defaulting to viewer if unknown.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "admin":
		return RoleAdmin
	case "operator":
		return RoleOperator
	default:
		return RoleViewer
	}
}

// Permission represents a specific action that can be authorized.
type Permission string

const (
	PermReadRuns   Permission = "runs:read"
	PermReadEvents Permission = "events:read"

	PermWriteRuns Permission = "runs:write"
	PermAnalyze   Permission = "analyze:execute"

	PermDeleteRuns Permission = "runs:delete"
)

var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermReadRuns,
		PermReadEvents,
	},
	RoleOperator: {
		PermReadRuns,
		PermReadEvents,
		PermWriteRuns,
		PermAnalyze,
	},
	RoleAdmin: {
		PermReadRuns,
		PermReadEvents,
		PermWriteRuns,
		PermAnalyze,
		PermDeleteRuns,
	},
}

// HasPermission checks if a role has a specific permission.
func (r Role) HasPermission(p Permission) bool {
	for _, perm := range rolePermissions[r] {
		if perm == p {
			return true
		}
	}
	return false
}

// RoleContext holds RBAC information for a request.
type RoleContext struct {
	Role Role
	// Anonymous is set when the server runs without tokens.
	Anonymous bool
}

type ctxKeyRole struct{}

var roleContextKey = ctxKeyRole{}

// RoleFromContext extracts RBAC context from a request context.
func RoleFromContext(ctx context.Context) *RoleContext {
	if rc, ok := ctx.Value(roleContextKey).(*RoleContext); ok {
		return rc
	}
	return nil
}

func withRoleContext(ctx context.Context, rc *RoleContext) context.Context {
	return context.WithValue(ctx, roleContextKey, rc)
}

// rbacMiddleware resolves the caller's role from its bearer token. A
// server without tokens treats every caller as admin. The websocket
// endpoint also accepts the token as ?token= since browsers cannot set
// headers on upgrade requests.
func (s *Server) rbacMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.tokens) == 0 {
			next.ServeHTTP(w, r.WithContext(withRoleContext(r.Context(), &RoleContext{Role: RoleAdmin, Anonymous: true})))
			return
		}
		token := bearerToken(r)
		role, ok := s.tokens[token]
		if token == "" || !ok {
			reqID := requestIDFromContext(r.Context())
			s.logger.Warn("rejected request", "path", r.URL.Path, "has_token", token != "", "request_id", reqID)
			writeErrorResponse(w, http.StatusUnauthorized, ErrCodeUnauthorized, "missing or unknown bearer token", nil, reqID)
			return
		}
		next.ServeHTTP(w, r.WithContext(withRoleContext(r.Context(), &RoleContext{Role: role})))
	})
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// RequirePermission creates a middleware that enforces a specific permission.
func (s *Server) RequirePermission(perm Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := requestIDFromContext(r.Context())
			rc := RoleFromContext(r.Context())
			if rc == nil {
				writeErrorResponse(w, http.StatusForbidden, ErrCodeForbidden, "access denied: no role context", nil, reqID)
				return
			}
			if !rc.Role.HasPermission(perm) {
				s.logger.Warn("permission denied", "role", rc.Role, "perm", perm, "path", r.URL.Path, "request_id", reqID)
				writeErrorResponse(w, http.StatusForbidden, ErrCodeForbidden,
					fmt.Sprintf("access denied: role '%s' lacks permission '%s'", rc.Role, perm), nil, reqID)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
