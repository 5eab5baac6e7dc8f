package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/catalogimport/internal/core"
	mw "github.com/JonMunkholm/catalogimport/internal/web/middleware"
)

// WithRequestMetadata adds the client IP and User-Agent to ctx so the
// service can log who started an import.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	ctx = core.ContextWithIPAddress(ctx, mw.ClientIP(r))
	ctx = core.ContextWithUserAgent(ctx, r.UserAgent())
	return ctx
}
