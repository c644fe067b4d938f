package query

import (
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/valyala/fasthttp"
)

// authorize implements SPEC_FULL.md §6 NEW's optional bearer-token
// check: when s.SigningKey is set, every request except /status must
// carry a valid "Authorization: Bearer <jwt>" header signed with that
// key. A missing or invalid token is a 400 per spec.md §6's existing
// "malformed" status-code contract — auth failure introduces no new
// status code.
func (s *Server) authorize(ctx *fasthttp.RequestCtx) bool {
	if len(s.SigningKey) == 0 {
		return true
	}
	if string(ctx.Path()) == "/status" {
		return true
	}

	header := string(ctx.Request.Header.Peek("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		ctx.SetBodyString("missing bearer token")
		return false
	}
	tokenStr := strings.TrimPrefix(header, prefix)

	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.SigningKey, nil
	})
	if err != nil || !token.Valid {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		ctx.SetBodyString("invalid bearer token")
		return false
	}
	return true
}
