package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/terra-clan/assessment-engine/internal/models"
)

const lastUsedTimeout = 5 * time.Second

// ClientStore looks up API clients
type ClientStore interface {
	GetClientByApiKey(ctx context.Context, apiKey string) (*models.ApiClient, error)
	UpdateClientLastUsed(ctx context.Context, apiKey string) error
}

// AuthMiddleware authenticates callers by API key and enforces permissions
type AuthMiddleware struct {
	clients ClientStore
}

// NewAuthMiddleware creates new auth middleware
func NewAuthMiddleware(clients ClientStore) *AuthMiddleware {
	return &AuthMiddleware{clients: clients}
}

// Authenticate resolves the API key from "Authorization: Bearer <key>", a raw
// Authorization value, or X-API-Key, and stores the client in the context.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := extractAPIKey(r)
		if apiKey == "" {
			respondError(w, http.StatusUnauthorized, "missing_api_key", "provide Authorization header with Bearer token or X-API-Key header")
			return
		}

		client, status, code, message := m.resolve(r, apiKey)
		if client == nil {
			respondError(w, status, code, message)
			return
		}

		go m.touch(client.Name, apiKey)

		slog.Debug("authenticated request",
			"client", client.Name,
			"key_prefix", client.MaskedApiKey(),
			"subject_scope", client.SubjectScope(),
		)
		next.ServeHTTP(w, r.WithContext(ContextWithClient(r.Context(), client)))
	})
}

// resolve returns the active client for apiKey, or the error response to send
func (m *AuthMiddleware) resolve(r *http.Request, apiKey string) (*models.ApiClient, int, string, string) {
	client, err := m.clients.GetClientByApiKey(r.Context(), apiKey)
	switch {
	case err != nil:
		slog.Error("failed to lookup api client", "error", err, "key_prefix", models.MaskKey(apiKey))
		return nil, http.StatusInternalServerError, "auth_error", "internal server error"
	case client == nil:
		slog.Warn("invalid api key attempt", "key_prefix", models.MaskKey(apiKey), "remote_addr", r.RemoteAddr)
		return nil, http.StatusUnauthorized, "invalid_api_key", "the provided api key is not valid"
	case !client.IsActive:
		slog.Warn("inactive client attempt", "client", client.Name, "key_prefix", models.MaskKey(apiKey))
		return nil, http.StatusUnauthorized, "client_inactive", "this api key has been deactivated"
	}
	return client, 0, "", ""
}

// touch records key usage off the request path
func (m *AuthMiddleware) touch(name, apiKey string) {
	ctx, cancel := context.WithTimeout(context.Background(), lastUsedTimeout)
	defer cancel()
	if err := m.clients.UpdateClientLastUsed(ctx, apiKey); err != nil {
		slog.Error("failed to update client last_used_at", "error", err, "client", name)
	}
}

// RequirePermission returns middleware that checks for specific permission
func (m *AuthMiddleware) RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := ClientFromContext(r.Context())
			if client == nil {
				respondError(w, http.StatusUnauthorized, "not_authenticated", "authentication required")
				return
			}

			if !client.HasPermission(permission) {
				slog.Warn("permission denied",
					"client", client.Name,
					"required", permission,
					"has", client.Permissions,
				)
				respondError(w, http.StatusForbidden, "permission_denied",
					"client does not have required permission: "+permission)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}
