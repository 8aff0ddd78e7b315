package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const identityKey contextKey = "identity"

// Identity is the authenticated caller with their marketplace roles.
// Roles come from the token; the workflow trusts them as-is.
type Identity struct {
	UserID    string
	Requester bool
	Expert    bool
	Admin     bool
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	SecretKey string
}

// NewJWTConfig creates a new JWT config
func NewJWTConfig(secretKey string) *JWTConfig {
	if secretKey == "" {
		secretKey = "default-secret-key-change-in-production" // Default for development
	}
	return &JWTConfig{SecretKey: secretKey}
}

// Middleware authenticates requests. Tokens carry the user id in "sub"
// and roles in a "roles" claim ("requester", "expert", "admin"). The
// X-User-ID / X-User-Roles headers are a development shortcut.
func (c *JWTConfig) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID := r.Header.Get("X-User-ID"); userID != "" {
			ident := Identity{UserID: userID}
			applyRoles(&ident, strings.Split(r.Header.Get("X-User-Roles"), ","))
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), ident)))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing authorization header", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid authorization header", http.StatusUnauthorized)
			return
		}

		ident, err := c.ParseToken(parts[1])
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), ident)))
	})
}

// ParseToken validates a token string and extracts the caller identity.
func (c *JWTConfig) ParseToken(tokenString string) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(c.SecretKey), nil
	})
	if err != nil || !token.Valid {
		return Identity{}, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, errors.New("invalid token claims")
	}

	userID, _ := claims["sub"].(string)
	if userID == "" {
		return Identity{}, errors.New("token missing subject")
	}

	ident := Identity{UserID: userID}
	if roles, ok := claims["roles"].([]interface{}); ok {
		names := make([]string, 0, len(roles))
		for _, r := range roles {
			if s, ok := r.(string); ok {
				names = append(names, s)
			}
		}
		applyRoles(&ident, names)
	}
	return ident, nil
}

func applyRoles(ident *Identity, roles []string) {
	for _, role := range roles {
		switch strings.TrimSpace(role) {
		case "requester":
			ident.Requester = true
		case "expert":
			ident.Expert = true
		case "admin":
			ident.Admin = true
		}
	}
}

// WithIdentity stores the identity on the context.
func WithIdentity(ctx context.Context, ident Identity) context.Context {
	return context.WithValue(ctx, identityKey, ident)
}

// GetIdentity extracts the identity from context.
func GetIdentity(ctx context.Context) (Identity, bool) {
	ident, ok := ctx.Value(identityKey).(Identity)
	return ident, ok
}
