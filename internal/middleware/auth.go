// Package middleware provides the HTTP middleware chain: authentication,
// rate limiting, CORS, request tracing and metrics instrumentation.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sportsblock/sportsblock/pkg/logger"
)

type contextKey string

const (
	userIDKey      contextKey = "user_id"
	usernameKey    contextKey = "username"
	hiveAccountKey contextKey = "hive_account"
	roleKey        contextKey = "role"
)

// Claims is the JWT payload issued at login.
type Claims struct {
	UserID      string `json:"uid"`
	Username    string `json:"username"`
	HiveAccount string `json:"hive_account,omitempty"`
	Role        string `json:"role"`
	jwt.RegisteredClaims
}

// AuthConfig controls token verification.
type AuthConfig struct {
	Secret    []byte
	Issuer    string
	SkipPaths []string
}

// Auth verifies bearer tokens and attaches the caller's identity to the
// request context. Paths listed in SkipPaths pass through unauthenticated.
type Auth struct {
	cfg AuthConfig
	log *logger.Logger
}

// NewAuth builds the authentication middleware.
func NewAuth(cfg AuthConfig, log *logger.Logger) (*Auth, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("middleware: auth secret is required")
	}
	if log == nil {
		log = logger.NewDefault("auth")
	}
	return &Auth{cfg: cfg, log: log}, nil
}

// Middleware returns the handler wrapper.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.skip(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token := extractBearer(r)
		if token == "" {
			writeAuthError(w, "missing authorization token")
			return
		}

		claims, err := a.Verify(token)
		if err != nil {
			a.log.WithError(err).WithField("path", r.URL.Path).Debug("token rejected")
			writeAuthError(w, "invalid or expired token")
			return
		}

		ctx := r.Context()
		ctx = context.WithValue(ctx, userIDKey, claims.UserID)
		ctx = context.WithValue(ctx, usernameKey, claims.Username)
		ctx = context.WithValue(ctx, hiveAccountKey, claims.HiveAccount)
		ctx = context.WithValue(ctx, roleKey, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Verify parses and validates a token string, returning its claims.
func (a *Auth) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return a.cfg.Secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.UserID == "" {
		return nil, errors.New("token has no subject user")
	}
	return claims, nil
}

// IssueToken signs a token for the given identity, valid for ttl.
func (a *Auth) IssueToken(userID, username, hiveAccount, role string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := time.Now()
	claims := &Claims{
		UserID:      userID,
		Username:    username,
		HiveAccount: hiveAccount,
		Role:        role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.cfg.Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.cfg.Secret)
}

func (a *Auth) skip(path string) bool {
	for _, p := range a.cfg.SkipPaths {
		if path == p {
			return true
		}
		if strings.HasSuffix(p, "*") && strings.HasPrefix(path, strings.TrimSuffix(p, "*")) {
			return true
		}
	}
	return false
}

func extractBearer(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// GetUserID returns the authenticated user ID, if any.
func GetUserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// GetUsername returns the authenticated username, if any.
func GetUsername(ctx context.Context) string {
	name, _ := ctx.Value(usernameKey).(string)
	return name
}

// GetHiveAccount returns the caller's linked Hive account, if any.
func GetHiveAccount(ctx context.Context) string {
	acct, _ := ctx.Value(hiveAccountKey).(string)
	return acct
}

// GetUserRole returns the authenticated role, if any.
func GetUserRole(ctx context.Context) string {
	role, _ := ctx.Value(roleKey).(string)
	return role
}

// RequireUserID returns the user ID or an error when the context carries no
// authenticated identity.
func RequireUserID(ctx context.Context) (string, error) {
	id := GetUserID(ctx)
	if id == "" {
		return "", errors.New("not authenticated")
	}
	return id, nil
}
