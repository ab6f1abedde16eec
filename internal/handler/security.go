package handler

import (
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/auth"
)

// SecurityHandler authenticates API requests via HMAC-SHA256 hashed API keys.
type SecurityHandler struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewSecurityHandler creates a SecurityHandler with the given API key
// repository and HMAC pepper.
func NewSecurityHandler(apikeys auth.Repository, pepper []byte) *SecurityHandler {
	return &SecurityHandler{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// APIKey returns the key presented in the api_key header or as a Bearer token.
func APIKey(r *http.Request) string {
	if k := r.Header.Get("api_key"); k != "" {
		return k
	}
	if v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// Authenticate resolves the caller identity and stores it in the request
// context. Requests without a valid key are answered with 401.
func (s *SecurityHandler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := APIKey(r)
		if key == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		id, ok := s.resolve(r, key)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		ctx := auth.WithIdentity(r.Context(), id)
		ctx = zctx.With(ctx, zap.String("user_id", id.UserID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *SecurityHandler) resolve(r *http.Request, key string) (auth.Identity, bool) {
	hexHash := auth.HashKey(s.pepper, key)

	info, err := s.apikeys.FindByHash(r.Context(), hexHash)
	if err != nil {
		zctx.From(r.Context()).Debug("API key lookup failed", zap.Error(err))
		return auth.Identity{}, false
	}

	// The repository matched on the hash; compare again in constant time
	// against what it returned.
	want, err := hex.DecodeString(hexHash)
	if err != nil {
		return auth.Identity{}, false
	}
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(want, stored) != 1 {
		return auth.Identity{}, false
	}

	return auth.Identity{
		KeyID:  info.ID,
		UserID: info.UserID,
		Scopes: info.Scopes,
	}, true
}
