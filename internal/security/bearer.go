package security

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/alexedwards/argon2id"

	"github.com/noah-isme/kashier-bridge/internal/common"
)

// BearerToken guards host-facing endpoints with a shared static token. When
// TokenHash is set the presented token is checked against that argon2id hash
// instead, so the plain token never has to live in the environment.
type BearerToken struct {
	Token     string
	TokenHash string
}

// Middleware answers 401 unless the Authorization header carries the token.
// With neither Token nor TokenHash set every request is rejected.
func (b BearerToken) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !b.valid(presented(r)) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="kashier-bridge"`)
			common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "valid bearer token required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b BearerToken) valid(token string) bool {
	if token == "" {
		return false
	}
	if hash := strings.TrimSpace(b.TokenHash); hash != "" {
		match, err := argon2id.ComparePasswordAndHash(token, hash)
		return err == nil && match
	}
	expected := strings.TrimSpace(b.Token)
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(expected)) == 1
}

// HashToken derives the argon2id hash accepted in TokenHash.
func HashToken(token string) (string, error) {
	return argon2id.CreateHash(token, argon2id.DefaultParams)
}

func presented(r *http.Request) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
