package registry

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/danmuck/wsframe/internal/auth"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// AdmissionRequest describes a connection attempt before the upgrade.
type AdmissionRequest struct {
	// Origin is the Origin header sent by the client, possibly empty.
	Origin string
	// Secure is true when the request arrived over TLS.
	Secure     bool
	RemoteAddr string
	Path       string
	Query      url.Values
	Header     http.Header
}

// AdmissionHook decides whether a connection attempt may upgrade. The
// handshake waits for it; returning false answers 401.
type AdmissionHook func(ctx context.Context, req AdmissionRequest) bool

// AllowAll admits every request.
func AllowAll(context.Context, AdmissionRequest) bool {
	return true
}

// AllowOrigins admits requests whose Origin matches one of origins
// (case-insensitive). A "*" entry admits any origin; requests without an
// Origin header are admitted.
func AllowOrigins(origins ...string) AdmissionHook {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[strings.ToLower(strings.TrimSpace(o))] = struct{}{}
	}
	return func(_ context.Context, req AdmissionRequest) bool {
		if req.Origin == "" {
			return true
		}
		if _, ok := allowed["*"]; ok {
			return true
		}
		_, ok := allowed[strings.ToLower(req.Origin)]
		return ok
	}
}

// RequireSecure admits only TLS requests.
func RequireSecure(_ context.Context, req AdmissionRequest) bool {
	return req.Secure
}

// RequireToken admits requests whose bearer header or access_token query
// parameter passes v.
func RequireToken(v auth.Validator) AdmissionHook {
	return func(_ context.Context, req AdmissionRequest) bool {
		if err := v.Validate(auth.RequestToken(req.Header, req.Query)); err != nil {
			log.Debug().Str("remote", req.RemoteAddr).Err(err).Msg("token rejected")
			return false
		}
		return true
	}
}

// RateLimited rejects requests once limiter is exhausted, then defers to next.
func RateLimited(limiter *rate.Limiter, next AdmissionHook) AdmissionHook {
	if next == nil {
		next = AllowAll
	}
	return func(ctx context.Context, req AdmissionRequest) bool {
		if !limiter.Allow() {
			return false
		}
		return next(ctx, req)
	}
}

// Chain admits a request only when every hook does. Hooks run in order and
// stop at the first rejection.
func Chain(hooks ...AdmissionHook) AdmissionHook {
	return func(ctx context.Context, req AdmissionRequest) bool {
		for _, h := range hooks {
			if h == nil {
				continue
			}
			if !h(ctx, req) {
				return false
			}
		}
		return true
	}
}
