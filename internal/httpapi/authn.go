package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"taskgrid.org/internal/audit"
	"taskgrid.org/internal/auth"
	"taskgrid.org/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = map[string]struct{}{
	"/v1/auth/login":    {},
	"/v1/auth/register": {},
	"/v1/auth/refresh":  {},
	"/healthz":          {},
	"/readyz":           {},
	"/metrics":          {},
}

func isPublicPath(path string) bool {
	_, ok := publicPaths[path]
	return ok
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		principal, err := a.auth.AuthenticateToken(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}

		ctx := auth.ContextWithPrincipal(r.Context(), principal)
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// protect consults the operation's declared requirement and the decision
// engine before invoking the handler.
func (a *API) protect(op string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}
		req, _ := auth.RequirementFor(op)
		scope := scopeFromRequest(r)

		if err := a.engine.Authorize(&principal, req, scope); err != nil {
			obs.AuthzDecisions.WithLabelValues("deny").Inc()
			_ = audit.LogEvent(r.Context(), "authz.denied", map[string]any{
				"operation":     op,
				"department_id": scope.DepartmentID(),
				"reason":        err.Error(),
			})
			switch {
			case errors.Is(err, auth.ErrAuthenticationRequired):
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, r, http.StatusUnauthorized, "authentication required")
			case errors.Is(err, auth.ErrForbidden):
				writeError(w, r, http.StatusForbidden, err.Error())
			default:
				writeError(w, r, http.StatusInternalServerError, "authorization error")
			}
			return
		}
		obs.AuthzDecisions.WithLabelValues("allow").Inc()
		next(w, r)
	}
}

// scopeFromRequest gathers the request fields the engine consults when
// resolving the target department. The JSON body, when present, is buffered
// and restored so handlers can decode it again.
func scopeFromRequest(r *http.Request) auth.Scope {
	scope := auth.Scope{
		PathDepartmentID:  r.PathValue("departmentId"),
		PathID:            r.PathValue("id"),
		QueryDepartmentID: r.URL.Query().Get("departmentId"),
	}
	if r.Body == nil || r.Body == http.NoBody {
		return scope
	}
	if ct := r.Header.Get("Content-Type"); !strings.Contains(ct, "application/json") {
		return scope
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return scope
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	var probe struct {
		DepartmentID string `json:"departmentId"`
	}
	if json.Unmarshal(body, &probe) == nil {
		scope.BodyDepartmentID = probe.DepartmentID
	}
	return scope
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
