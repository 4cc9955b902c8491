// Package auth validates bearer credentials presented on a WebSocket upgrade.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"net/url"
	"strings"
)

var ErrUnauthorized = errors.New("unauthorized")

// QueryParam carries a token for clients that cannot set request headers,
// such as browsers.
const QueryParam = "access_token"

type Validator interface {
	Validate(token string) error
}

// Tokens accepts any of a fixed set of shared secrets.
type Tokens struct {
	values [][]byte
}

// NewTokens builds a Tokens validator. Blank entries are ignored, so a set
// built only from blanks denies everything.
func NewTokens(tokens ...string) Tokens {
	t := Tokens{values: make([][]byte, 0, len(tokens))}
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		t.values = append(t.values, []byte(tok))
	}
	return t
}

func (t Tokens) Len() int { return len(t.values) }

func (t Tokens) Validate(token string) error {
	if token == "" {
		return ErrUnauthorized
	}
	presented := []byte(token)
	ok := 0
	for _, v := range t.values {
		ok |= subtle.ConstantTimeCompare(v, presented)
	}
	if ok != 1 {
		return ErrUnauthorized
	}
	return nil
}

type FuncValidator func(token string) error

func (f FuncValidator) Validate(token string) error {
	return f(token)
}

// BearerToken returns the credential of an "Authorization: Bearer" header,
// or "" when the header is missing or uses another scheme.
func BearerToken(h http.Header) string {
	raw := strings.TrimSpace(h.Get("Authorization"))
	scheme, token, ok := strings.Cut(raw, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// RequestToken prefers the bearer header and falls back to the
// access_token query parameter.
func RequestToken(h http.Header, query url.Values) string {
	if tok := BearerToken(h); tok != "" {
		return tok
	}
	return strings.TrimSpace(query.Get(QueryParam))
}
