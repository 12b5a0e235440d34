package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"formline/internal/engine"
)

// Principal is the signed-in user a request runs as.
type Principal struct {
	UserID string
	Email  string
	Role   string
	Via    string
}

const (
	viaToken  = "token"
	viaAPIKey = "api_key"
)

var (
	errNoCredentials  = errors.New("authentication required")
	errBadCredentials = errors.New("invalid credentials")
)

type principalKey struct{}

func principalFromRequest(ctx context.Context) (Principal, huma.StatusError) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	if !ok || p.UserID == "" {
		return Principal{}, newAPIError(http.StatusUnauthorized, "unauthorized", errNoCredentials.Error(), nil)
	}
	return p, nil
}

// authenticate resolves the caller from a bearer token or, failing that,
// an X-Api-Key header. A malformed or rejected credential is never
// retried with the other scheme.
func authenticate(req *http.Request, e engine.Engine) (Principal, error) {
	if authz := strings.TrimSpace(req.Header.Get("Authorization")); authz != "" {
		scheme, token, ok := strings.Cut(authz, " ")
		token = strings.TrimSpace(token)
		if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
			return Principal{}, errBadCredentials
		}
		claims, err := e.ParseToken(token)
		if err != nil {
			return Principal{}, errors.Join(errBadCredentials, err)
		}
		return Principal{UserID: claims.Subject, Email: claims.Email, Role: claims.Role, Via: viaToken}, nil
	}
	if key := strings.TrimSpace(req.Header.Get("X-Api-Key")); key != "" {
		u, err := e.UserForAPIKey(req.Context(), key)
		if err != nil {
			return Principal{}, errors.Join(errBadCredentials, err)
		}
		return Principal{UserID: u.ID, Email: u.Email, Role: u.Role, Via: viaAPIKey}, nil
	}
	return Principal{}, errNoCredentials
}

func newAuthMiddleware(basePath string, e engine.Engine, logger *slog.Logger) func(http.Handler) http.Handler {
	public := publicPaths(basePath)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !strings.HasPrefix(req.URL.Path, basePath) || public[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}
			p, err := authenticate(req, e)
			switch {
			case errors.Is(err, errNoCredentials):
				writeStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", err.Error(), nil))
				return
			case err != nil:
				logger.Debug("credentials rejected", "path", req.URL.Path, "err", err)
				writeStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", errBadCredentials.Error(), nil))
				return
			}
			next.ServeHTTP(w, req.WithContext(context.WithValue(req.Context(), principalKey{}, p)))
		})
	}
}

func writeStatusError(w http.ResponseWriter, err huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	_ = json.NewEncoder(w).Encode(err)
}
