package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

const tokenCookieKey = "token"

type contextKey string

const usernameKey contextKey = "username"

var errNoToken = errors.New("no token in request")

func WithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, usernameKey, username)
}

func Username(ctx context.Context) (string, bool) {
	username, ok := ctx.Value(usernameKey).(string)

	return username, ok
}

// tokenFromRequest reads a bearer token, falling back to the token cookie
// browsers send along with websocket and download requests.
func tokenFromRequest(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			return "", errNoToken
		}
		return token, nil
	}

	cookie, err := r.Cookie(tokenCookieKey)
	if err != nil {
		return "", errNoToken
	}

	return cookie.Value, nil
}
