package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"

	"github.com/kiranshivaraju/scenarist/internal/api/response"
	"golang.org/x/crypto/bcrypt"
)

const keyPrefixLen = 8

// Auth checks a single shared API key against a bcrypt hash. With no hash
// configured every request passes and is identified by its client IP.
//
// bcrypt is deliberately slow, so the digest of the last key that verified is
// remembered and later requests carrying the same key skip the comparison.
type Auth struct {
	keyHash []byte

	mu       sync.RWMutex
	verified []byte
}

// NewAuth creates a new Auth middleware. An empty keyHash disables auth.
func NewAuth(keyHash string) *Auth {
	a := &Auth{}
	if keyHash != "" {
		a.keyHash = []byte(keyHash)
	}
	return a
}

// Enabled reports whether a key is required.
func (a *Auth) Enabled() bool { return len(a.keyHash) > 0 }

// Authenticate validates the Bearer token and stores the client id in the
// request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r.WithContext(setClientID(r.Context(), "ip:"+clientIP(r))))
			return
		}

		key, ok := bearerToken(r.Header.Get("Authorization"))
		switch {
		case !ok:
			unauthorized(w, "Missing or invalid Authorization header")
			return
		case len(key) < keyPrefixLen:
			unauthorized(w, "Invalid API key format")
			return
		case !a.check(key):
			unauthorized(w, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r.WithContext(setClientID(r.Context(), "key:"+key[:keyPrefixLen])))
	})
}

func (a *Auth) check(key string) bool {
	digest := sha256.Sum256([]byte(key))

	a.mu.RLock()
	hit := a.verified != nil && subtle.ConstantTimeCompare(a.verified, digest[:]) == 1
	a.mu.RUnlock()
	if hit {
		return true
	}

	if bcrypt.CompareHashAndPassword(a.keyHash, []byte(key)) != nil {
		return false
	}
	a.mu.Lock()
	a.verified = digest[:]
	a.mu.Unlock()
	return true
}

func unauthorized(w http.ResponseWriter, msg string) {
	response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", msg, nil)
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
