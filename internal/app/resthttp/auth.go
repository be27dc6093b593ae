package resthttp

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

const anonymous = "anonymous"

type principalKey struct{}

// WithPrincipal кладёт аутентифицированного пользователя в контекст.
func WithPrincipal(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, principalKey{}, name)
}

// PrincipalFrom достаёт пользователя из контекста.
func PrincipalFrom(ctx context.Context) string {
	if v, ok := ctx.Value(principalKey{}).(string); ok && v != "" {
		return v
	}
	return anonymous
}

// Authenticator проверяет bearer-токены HS256. Пустой секрет отключает проверку.
type Authenticator struct {
	secret []byte
	issuer string
}

func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer}
}

func (a *Authenticator) enabled() bool {
	return a != nil && len(a.secret) > 0
}

// Middleware пропускает запрос дальше только с валидным токеном и проставляет principal.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.enabled() {
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), anonymous)))
			return
		}

		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="drive"`)
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		subject, err := a.Verify(strings.TrimSpace(raw))
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		zerolog.Ctx(r.Context()).UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("user", subject)
		})
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), subject)))
	})
}

// Verify разбирает токен и возвращает subject.
func (a *Authenticator) Verify(token string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// Issue подписывает токен для subject; используется CLI и тестами.
func (a *Authenticator) Issue(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
