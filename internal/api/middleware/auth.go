package middleware

import (
	"net/http"
	"strings"

	"portsync/pkg/crypto"
)

// TokenAuth - bearer-токен для endpoints, генерирующих живой трафик
// к шлюзу (ручной refresh)
//
// tokenHash - bcrypt-хеш из конфигурации; открытый токен нигде не
// хранится. Пустой хеш отключает аутентификацию (dev-режим).
func TokenAuth(tokenHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenHash == "" {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			token := strings.TrimPrefix(header, "Bearer ")
			if token == "" || token == header {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, `{"error":"authorization required"}`, http.StatusUnauthorized)
				return
			}

			if err := crypto.VerifyToken(token, tokenHash); err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
