package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Role names carried in the token. Verifiers vote on proofs; workers submit
// them; clients own tasks.
const (
	RoleClient   = "client"
	RoleWorker   = "worker"
	RoleVerifier = "verifier"
)

// Claims is the token payload for API callers
type Claims struct {
	ActorID uuid.UUID `json:"actor_id"`
	Role    string    `json:"role"`
	jwt.RegisteredClaims
}

// IssueToken signs a token for the given actor. Used by the CLI tooling and
// tests; production tokens come from the identity service.
func IssueToken(secret string, actorID uuid.UUID, role string, ttl time.Duration) (string, error) {
	claims := Claims{
		ActorID: actorID,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// Middleware validates the bearer token and exposes actor_id and role to
// downstream handlers via the gin context.
func Middleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		tokenStr, found := strings.CutPrefix(header, "Bearer ")
		if !found {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "malformed authorization header"})
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("actor_id", claims.ActorID)
		c.Set("role", claims.Role)
		c.Next()
	}
}

// RequireRole guards an endpoint to a single role, e.g. voting to verifiers
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if got, ok := c.Get("role"); !ok || got != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
			return
		}
		c.Next()
	}
}
