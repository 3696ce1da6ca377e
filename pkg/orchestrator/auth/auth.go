// Package auth issues and checks the bearer tokens bots use to call back into the orchestrator.
package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

var (
	// ErrUnauthenticated is returned when a callback carries no valid token
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden is returned when a token belongs to a different bot
	ErrForbidden = errors.New("forbidden")
)

// Principal is the bot a session acts for
type Principal struct {
	BotID int64
}

type Session interface {
	Principal() Principal
}

type AuthnProvider interface {
	Authenticate(ctx context.Context, reqHeaders func(name string) string) (Session, error)
}

// context utils

type sessionKeyType struct{}

var sessionKey = sessionKeyType{}

func AuthSessionFrom(ctx context.Context) (Session, bool) {
	v, ok := ctx.Value(sessionKey).(Session)
	return v, ok && v != nil
}

func AuthSessionTo(ctx context.Context, session Session) context.Context {
	return context.WithValue(ctx, sessionKey, session)
}

// RequireBot checks that the request session belongs to botID
func RequireBot(ctx context.Context, botID int64) error {
	s, ok := AuthSessionFrom(ctx)
	if !ok {
		return ErrUnauthenticated
	}
	if s.Principal().BotID != botID {
		return ErrForbidden
	}
	return nil
}

// AuthnMiddleware attaches the session of a valid bearer token to the request context.
// Requests without a token pass through; handlers decide whether they need one.
func AuthnMiddleware(authn AuthnProvider) func(ctx huma.Context, next func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		if authn == nil {
			next(ctx)
			return
		}
		session, err := authn.Authenticate(ctx.Context(), ctx.Header)
		if err != nil {
			ctx.SetStatus(http.StatusUnauthorized)
			_, _ = ctx.BodyWriter().Write([]byte("Unauthorized"))
			return
		}
		if session != nil {
			ctx = huma.WithContext(ctx, AuthSessionTo(ctx.Context(), session))
		}
		next(ctx)
	}
}
