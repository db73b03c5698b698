package api

import (
	"context"

	"github.com/terra-clan/tanda-engine/internal/models"
)

type contextKey string

const clientContextKey contextKey = "api_client"

// ClientFromContext returns the authenticated client, nil outside Authenticate
func ClientFromContext(ctx context.Context) *models.ApiClient {
	client, ok := ctx.Value(clientContextKey).(*models.ApiClient)
	if !ok {
		return nil
	}
	return client
}

// ContextWithClient adds ApiClient to context
func ContextWithClient(ctx context.Context, client *models.ApiClient) context.Context {
	return context.WithValue(ctx, clientContextKey, client)
}

// judgeFromContext returns the judge the caller is bound to. Organizer
// clients are not bound and may vote on behalf of any judge.
func judgeFromContext(ctx context.Context) (string, bool) {
	id := ClientFromContext(ctx).JudgeID()
	return id, id != ""
}
