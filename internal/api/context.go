package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/terra-clan/assessment-engine/internal/models"
)

type contextKey string

const clientContextKey contextKey = "api_client"

// ClientFromContext returns the authenticated client, or nil
func ClientFromContext(ctx context.Context) *models.ApiClient {
	client, _ := ctx.Value(clientContextKey).(*models.ApiClient)
	return client
}

// ContextWithClient attaches the authenticated client to ctx
func ContextWithClient(ctx context.Context, client *models.ApiClient) context.Context {
	return context.WithValue(ctx, clientContextKey, client)
}

// authorizeSubject rejects requests from a subject-scoped client that name a
// different subject. It writes the error response and returns false on refusal.
func authorizeSubject(w http.ResponseWriter, r *http.Request, subjectID string) bool {
	client := ClientFromContext(r.Context())
	if client.CanActFor(subjectID) {
		return true
	}

	slog.Warn("subject scope violation",
		"client", client.Name,
		"scope", client.SubjectScope(),
		"subject_id", subjectID,
	)
	respondError(w, http.StatusForbidden, "subject_forbidden", "client is not allowed to act for this subject")
	return false
}
