package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/medvault/phr-access/pkg/logger"
	"github.com/medvault/phr-access/pkg/types"
)

type contextKey string

const principalKey contextKey = "principal"

// Claims carries the authenticated principal inside the JWT.
type Claims struct {
	Principal string `json:"principal"`
	jwt.RegisteredClaims
}

// AuthMiddleware validates bearer tokens and injects the normalized
// principal into the request context. The principal string inside the
// token is parsed here so every downstream layer sees canonical form.
type AuthMiddleware struct {
	secret []byte
	log    *logger.Logger
}

// NewAuthMiddleware creates the middleware with the signing secret.
func NewAuthMiddleware(secret string, log *logger.Logger) *AuthMiddleware {
	return &AuthMiddleware{secret: []byte(secret), log: log}
}

// Handler wraps next with bearer token authentication.
func (a *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, types.NewAuthorizationError("MISSING_TOKEN", "authorization header is required"))
			return
		}

		tokenStr := strings.TrimPrefix(header, "Bearer ")
		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			return a.secret, nil
		})
		if err != nil || !token.Valid {
			if a.log != nil {
				a.log.Security("invalid_token", "", map[string]interface{}{"error": fmt.Sprint(err)})
			}
			writeError(w, types.NewAuthorizationError("INVALID_TOKEN", "token is invalid or expired"))
			return
		}

		principal, err := types.ParsePrincipal(claims.Principal)
		if err != nil {
			writeError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// PrincipalFrom extracts the authenticated principal from the context.
func PrincipalFrom(ctx context.Context) (types.Principal, bool) {
	p, ok := ctx.Value(principalKey).(types.Principal)
	return p, ok
}

// IssueToken mints a signed token for principal. Authentication lives
// with the identity provider; this exists for tests and local tooling.
func IssueToken(secret, issuer string, principal types.Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Principal: principal.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   principal.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// LoggingMiddleware records every request through the structured logger.
func LoggingMiddleware(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r)
			log.HTTPRequest(r.Method, r.URL.Path, r.RemoteAddr, wrapped.status, time.Since(start).Milliseconds())
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
