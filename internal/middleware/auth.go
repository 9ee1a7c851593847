package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/soaringjerry/Pulse/internal/services"
)

type authCtxKey int

const authKey authCtxKey = 7

const (
	roleAdmin   = "admin"
	tokenIssuer = "pulse"
)

type Claims struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator signs and verifies HS256 admin tokens.
type Authenticator struct {
	secret []byte
	now    func() time.Time
}

func NewAuthenticator(secret string) *Authenticator {
	if secret == "" {
		secret = "pulse-dev-secret"
	}
	return &Authenticator{secret: []byte(secret), now: time.Now}
}

// Sign issues a token for actor. It satisfies services.TokenSigner.
func (a *Authenticator) Sign(actor services.Actor, ttl time.Duration) (string, error) {
	now := a.now()
	role := ""
	if actor.Admin {
		role = roleAdmin
	}
	claims := Claims{UID: actor.ID, Email: actor.Email, Role: role, RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   actor.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *Authenticator) parseToken(tok string) (*Claims, error) {
	t, err := jwt.ParseWithClaims(tok, &Claims{}, func(token *jwt.Token) (interface{}, error) { return a.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, err
	}
	if c, ok := t.Claims.(*Claims); ok && t.Valid {
		return c, nil
	}
	return nil, errors.New("invalid token")
}

// WithAuth attaches the verified actor to the context when a valid bearer
// token is present. Requests without one continue anonymously.
func (a *Authenticator) WithAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		if strings.HasPrefix(h, "Bearer ") {
			tok := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
			if c, err := a.parseToken(tok); err == nil {
				ctx := context.WithValue(r.Context(), authKey, c)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects requests whose actor is not an admin.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ActorFromContext(r.Context()).Admin {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized", "code": string(services.ErrorUnauthorized)})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ActorFromContext returns the verified caller, or services.Anonymous.
func ActorFromContext(ctx context.Context) services.Actor {
	if c, ok := ctx.Value(authKey).(*Claims); ok && c.UID != "" {
		return services.Actor{ID: c.UID, Email: c.Email, Admin: c.Role == roleAdmin}
	}
	return services.Anonymous
}
