package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ayo6706/payment-aggregator/internal/api/problem"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	operatorContextKey contextKey = "operator_id"
	roleContextKey     contextKey = "operator_role"
	merchantContextKey contextKey = "merchant"
	traceContextKey    contextKey = "trace_id"
)

// RoleAdmin is the only role allowed on the operator API.
const RoleAdmin = "admin"

// JWTConfig holds the HS256 validation parameters for operator tokens.
type JWTConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
}

func NewJWTConfig(secret, issuer, audience string) JWTConfig {
	return JWTConfig{
		Secret:   []byte(secret),
		Issuer:   strings.TrimSpace(issuer),
		Audience: strings.TrimSpace(audience),
	}
}

type operatorClaims struct {
	OperatorID string `json:"operator_id"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}

// OperatorAuth validates the bearer token and injects operator metadata into the context.
func OperatorAuth(cfg JWTConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				problem.Write(w, r, http.StatusUnauthorized, problem.Type("auth/authorization-header-required"), "", "Authorization header required")
				return
			}
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				problem.Write(w, r, http.StatusUnauthorized, problem.Type("auth/invalid-token-format"), "", "Invalid token format")
				return
			}
			if len(cfg.Secret) == 0 {
				problem.Write(w, r, http.StatusInternalServerError, problem.Type("auth/misconfigured"), "", "auth is not configured")
				return
			}

			claims := &operatorClaims{}
			opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
			if cfg.Issuer != "" {
				opts = append(opts, jwt.WithIssuer(cfg.Issuer))
			}
			if cfg.Audience != "" {
				opts = append(opts, jwt.WithAudience(cfg.Audience))
			}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
					return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
				}
				return cfg.Secret, nil
			}, opts...)
			if err != nil || !token.Valid {
				problem.Write(w, r, http.StatusUnauthorized, problem.Type("auth/invalid-token"), "", "Invalid token")
				return
			}
			if claims.OperatorID == "" || (claims.Subject != "" && claims.Subject != claims.OperatorID) {
				problem.Write(w, r, http.StatusUnauthorized, problem.Type("auth/invalid-token-claims"), "", "Invalid token claims")
				return
			}

			tagOperator(r.Context(), claims.OperatorID)
			ctx := context.WithValue(r.Context(), operatorContextKey, claims.OperatorID)
			ctx = context.WithValue(ctx, roleContextKey, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole ensures the authenticated operator has the required role.
func RequireRole(requiredRole string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if OperatorRoleFromContext(r.Context()) != requiredRole {
				problem.Write(w, r, http.StatusForbidden, problem.Type("auth/insufficient-permissions"), "", "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IssueOperatorToken signs an operator token; used by the CLI and tests.
func IssueOperatorToken(cfg JWTConfig, operatorID, role string, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = operatorID
	if cfg.Issuer != "" {
		claims.Issuer = cfg.Issuer
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, operatorClaims{
		OperatorID:       operatorID,
		Role:             role,
		RegisteredClaims: claims,
	})
	return token.SignedString(cfg.Secret)
}

func OperatorIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(operatorContextKey).(string); ok {
		return v
	}
	return ""
}

func OperatorRoleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(roleContextKey).(string); ok {
		return v
	}
	return ""
}

// TraceIDFromContext returns the trace id for the request.
func TraceIDFromContext(ctx context.Context) string {
	if tag := tagFromContext(ctx); tag != nil {
		return tag.traceID
	}
	return ""
}
