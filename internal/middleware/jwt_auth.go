package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/opsdesk/patternd/internal/api"
)

// Roles carried in tokens. Only these two may use the pattern endpoints.
const (
	RoleAdministrator    = "Administrator"
	RoleDepartmentMember = "Department Member"
)

// ErrForbiddenRole is returned by ScopeDepartment for roles without pattern access.
var ErrForbiddenRole = errors.New("role may not view pattern data")

// UserClaims represents the JWT claims for a user
type UserClaims struct {
	Username   string `json:"username"`
	Role       string `json:"role"`
	Department string `json:"department,omitempty"`
	jwt.RegisteredClaims
}

// IsAdministrator reports whether the token belongs to an administrator
func (c *UserClaims) IsAdministrator() bool {
	return c != nil && c.Role == RoleAdministrator
}

// JWTAuthConfig holds JWT authentication configuration
type JWTAuthConfig struct {
	AdminUsername     string
	AdminPasswordHash string
	JWTSecret         string
	JWTExpiryHours    int

	// SkipPaths don't require a token. A trailing "*" matches a prefix.
	SkipPaths []string

	// QueryTokenPaths also accept the token as ?token=, for browser websockets.
	QueryTokenPaths []string
}

// JWTAuthMiddleware issues and checks bearer tokens
type JWTAuthMiddleware struct {
	config     *JWTAuthConfig
	skip       pathSet
	queryToken pathSet
}

type contextKey string

const claimsContextKey contextKey = "claims"

// NewJWTAuthMiddleware creates a new JWT authentication middleware
func NewJWTAuthMiddleware(config *JWTAuthConfig) *JWTAuthMiddleware {
	return &JWTAuthMiddleware{
		config:     config,
		skip:       newPathSet(config.SkipPaths),
		queryToken: newPathSet(config.QueryTokenPaths),
	}
}

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPassword checks if the provided password matches the hash
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// TokenTTL is how long issued tokens stay valid
func (m *JWTAuthMiddleware) TokenTTL() time.Duration {
	return time.Duration(m.config.JWTExpiryHours) * time.Hour
}

// GenerateToken signs a token for username with the given role and department
func (m *JWTAuthMiddleware) GenerateToken(username, role, department string) (string, error) {
	now := time.Now()
	claims := UserClaims{
		Username:   username,
		Role:       role,
		Department: department,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.TokenTTL())),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "patternd",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.config.JWTSecret))
}

// ValidateToken validates a JWT token and returns the claims
func (m *JWTAuthMiddleware) ValidateToken(tokenString string) (*UserClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &UserClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(m.config.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*UserClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, jwt.ErrSignatureInvalid
}

// ValidateCredentials checks the configured administrator login
func (m *JWTAuthMiddleware) ValidateCredentials(username, password string) bool {
	if m.config.AdminPasswordHash == "" {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(username), []byte(m.config.AdminUsername)) != 1 {
		return false
	}
	return CheckPassword(password, m.config.AdminPasswordHash)
}

// Wrap wraps an http.Handler with JWT authentication
func (m *JWTAuthMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skip.matches(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		tokenString := m.extractToken(r)
		if tokenString == "" {
			m.unauthorized(w, "Missing authentication token")
			return
		}

		claims, err := m.ValidateToken(tokenString)
		if err != nil {
			log.Printf("JWTAuthMiddleware: Invalid token from %s: %v", r.RemoteAddr, err)
			m.unauthorized(w, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *JWTAuthMiddleware) extractToken(r *http.Request) string {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return token
	}
	if m.queryToken.matches(r.URL.Path) {
		return r.URL.Query().Get("token")
	}
	return ""
}

func (m *JWTAuthMiddleware) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", "Bearer realm=\"API\"")
	api.RespondError(w, http.StatusUnauthorized, message)
}

// RequireAdministrator rejects tokens without the Administrator role
func RequireAdministrator(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !GetClaimsFromContext(r.Context()).IsAdministrator() {
			api.RespondError(w, http.StatusForbidden, "Administrator role required")
			return
		}
		next(w, r)
	}
}

// ScopeDepartment resolves which department a caller may see. Administrators
// get the requested department, or all departments when it is empty.
// Department members always get their own department.
func ScopeDepartment(claims *UserClaims, requested string) (string, error) {
	if claims == nil {
		return "", ErrForbiddenRole
	}
	switch claims.Role {
	case RoleAdministrator:
		return requested, nil
	case RoleDepartmentMember:
		if claims.Department == "" {
			return "", ErrForbiddenRole
		}
		return claims.Department, nil
	default:
		return "", ErrForbiddenRole
	}
}

// GetClaimsFromContext returns the token claims, or nil for unauthenticated requests
func GetClaimsFromContext(ctx context.Context) *UserClaims {
	claims, _ := ctx.Value(claimsContextKey).(*UserClaims)
	return claims
}

// GetUserFromContext returns the username from the request context
func GetUserFromContext(ctx context.Context) string {
	if claims := GetClaimsFromContext(ctx); claims != nil {
		return claims.Username
	}
	return ""
}

// WithClaims returns ctx carrying claims
func WithClaims(ctx context.Context, claims *UserClaims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// pathSet matches request paths exactly or, for entries ending in "*", by prefix
type pathSet struct {
	exact    map[string]bool
	prefixes []string
}

func newPathSet(paths []string) pathSet {
	s := pathSet{exact: make(map[string]bool)}
	for _, p := range paths {
		if prefix, ok := strings.CutSuffix(p, "*"); ok {
			s.prefixes = append(s.prefixes, prefix)
			continue
		}
		s.exact[p] = true
	}
	return s
}

func (s pathSet) matches(path string) bool {
	if s.exact[path] {
		return true
	}
	for _, prefix := range s.prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
