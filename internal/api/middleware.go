package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/terra-clan/tanda-engine/internal/models"
	"github.com/terra-clan/tanda-engine/internal/storage"
)

const lastUsedTimeout = 5 * time.Second

// AuthMiddleware resolves the API key of a request to a console, judge tablet
// or scoreboard client
type AuthMiddleware struct {
	repo storage.Repository
}

// NewAuthMiddleware creates new auth middleware
func NewAuthMiddleware(repo storage.Repository) *AuthMiddleware {
	return &AuthMiddleware{repo: repo}
}

type authFailure struct {
	status  int
	code    string
	message string
}

var (
	errMissingKey    = &authFailure{http.StatusUnauthorized, "missing_api_key", "provide Authorization header with Bearer token or X-API-Key header"}
	errInvalidKey    = &authFailure{http.StatusUnauthorized, "invalid_api_key", "the provided api key is not valid"}
	errInactive      = &authFailure{http.StatusUnauthorized, "client_inactive", "this api key has been deactivated"}
	errLookupFailed  = &authFailure{http.StatusInternalServerError, "internal_error", "authentication error"}
	errUnboundJudge  = &authFailure{http.StatusUnauthorized, "invalid_api_key", "judge key is not bound to a judge"}
	errNotAuthorized = &authFailure{http.StatusUnauthorized, "not_authenticated", "authentication required"}
)

// Authenticate verifies the API key of the request.
// Accepted: "Authorization: Bearer <key>", a raw key in Authorization,
// X-API-Key, and the api_key query parameter for websocket clients.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client, fail := m.resolveClient(r)
		if fail != nil {
			respondError(w, fail.status, fail.code, fail.message)
			return
		}

		go m.touchLastUsed(client)

		slog.Debug("authenticated request",
			"client", client.Name,
			"role", clientRole(client),
			"key_prefix", client.MaskedApiKey(),
			"judge_id", client.JudgeID(),
		)
		next.ServeHTTP(w, r.WithContext(ContextWithClient(r.Context(), client)))
	})
}

func (m *AuthMiddleware) resolveClient(r *http.Request) (*models.ApiClient, *authFailure) {
	apiKey := extractAPIKey(r)
	if apiKey == "" {
		return nil, errMissingKey
	}

	client, err := m.repo.GetClientByApiKey(r.Context(), apiKey)
	switch {
	case err != nil:
		slog.Error("failed to lookup api client", "error", err, "key_prefix", maskKey(apiKey))
		return nil, errLookupFailed
	case client == nil:
		slog.Warn("invalid api key attempt", "key_prefix", maskKey(apiKey), "remote_addr", r.RemoteAddr)
		return nil, errInvalidKey
	case !client.IsActive:
		slog.Warn("inactive client attempt", "client", client.Name, "key_prefix", maskKey(apiKey))
		return nil, errInactive
	}

	// A judge_id key present but empty would let the tablet vote as nobody
	if id, ok := client.Metadata["judge_id"]; ok && strings.TrimSpace(id) == "" {
		slog.Warn("judge client without judge id", "client", client.Name)
		return nil, errUnboundJudge
	}
	return client, nil
}

// touchLastUsed records tablet and console activity off the request path
func (m *AuthMiddleware) touchLastUsed(client *models.ApiClient) {
	ctx, cancel := context.WithTimeout(context.Background(), lastUsedTimeout)
	defer cancel()
	if err := m.repo.UpdateClientLastUsed(ctx, client.ApiKey); err != nil {
		slog.Error("failed to update client last_used_at", "error", err, "client", client.Name)
	}
}

// RequirePermission returns middleware that checks for specific permission.
// Judge tablets are limited to reading tandas and submitting scores.
func (m *AuthMiddleware) RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := ClientFromContext(r.Context())
			if client == nil {
				respondError(w, errNotAuthorized.status, errNotAuthorized.code, errNotAuthorized.message)
				return
			}

			if client.Allows(permission) {
				next.ServeHTTP(w, r)
				return
			}

			slog.Warn("permission denied",
				"client", client.Name,
				"role", clientRole(client),
				"required", permission,
				"has", client.Permissions,
			)
			if client.HasPermission(permission) {
				respondError(w, http.StatusForbidden, "judge_scope",
					"judge clients cannot use permission: "+permission)
				return
			}
			respondError(w, http.StatusForbidden, "permission_denied",
				"client does not have required permission: "+permission)
		})
	}
}

func clientRole(c *models.ApiClient) string {
	switch {
	case c.JudgeID() != "":
		return "judge"
	case c.HasPermission(models.PermTandasControl):
		return "organizer"
	default:
		return "viewer"
	}
}

func extractAPIKey(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		if strings.HasPrefix(authHeader, "Bearer ") {
			return strings.TrimPrefix(authHeader, "Bearer ")
		}
		return authHeader
	}

	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("api_key")
}

// maskKey returns first 8 chars of key for safe logging
func maskKey(key string) string {
	if len(key) < 8 {
		return "***"
	}
	return key[:8] + "..."
}
