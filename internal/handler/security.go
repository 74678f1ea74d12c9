package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/merchkit/promo-engine/internal/domain/auth"
)

// APIKeyHeader carries the administrative API key.
const APIKeyHeader = "X-Api-Key"

// APIKeyAuth returns a middleware authenticating requests via HMAC-SHA256
// hashed API keys. The raw key is hashed with the pepper, looked up in the
// repository, and compared in constant time to prevent timing attacks. The
// resulting key must carry the required scope.
func APIKeyAuth(apikeys auth.Repository, pepper []byte, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(APIKeyHeader)
			if key == "" {
				respondError(w, http.StatusUnauthorized, "unauthorized", "missing api key")
				return
			}

			mac := hmac.New(sha256.New, pepper)
			mac.Write([]byte(key))
			hash := mac.Sum(nil)

			info, err := apikeys.FindByHash(r.Context(), hex.EncodeToString(hash))
			if err != nil {
				respondError(w, http.StatusUnauthorized, "unauthorized", "invalid api key")
				return
			}

			// The lookup already matched, but the stored hash could differ from
			// what we computed if the repository returns a stale/wrong row.
			storedBytes, err := hex.DecodeString(info.KeyHash)
			if err != nil || subtle.ConstantTimeCompare(hash, storedBytes) != 1 {
				respondError(w, http.StatusUnauthorized, "unauthorized", "invalid api key")
				return
			}

			if !info.HasScope(scope) {
				respondError(w, http.StatusForbidden, "forbidden", "api key lacks required scope")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
