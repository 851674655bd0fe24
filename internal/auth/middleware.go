package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"immobilier/server/internal/models"
)

const (
	claimsKey = "auth_claims"
	userKey   = "auth_user"
)

// UserStore loads the account a token was issued for.
type UserStore interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

// RequireAuth rejects requests without a valid bearer token, then reloads
// the account so deleted or deactivated users lose access at once. Claims
// and user are stored on the context.
func RequireAuth(tokens *TokenService, users UserStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		unauthorized := func() {
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Could not validate credentials"})
		}

		header := c.GetHeader("Authorization")
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
			unauthorized()
			return
		}

		claims, err := tokens.Validate(strings.TrimSpace(token))
		if err != nil {
			unauthorized()
			return
		}
		id, err := claims.UserID()
		if err != nil {
			unauthorized()
			return
		}

		user, err := users.GetUserByID(c.Request.Context(), id)
		if err != nil {
			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
		if user == nil {
			unauthorized()
			return
		}
		if !user.IsActive {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Inactive user"})
			return
		}

		c.Set(claimsKey, claims)
		c.Set(userKey, user)
		c.Next()
	}
}

// RequireAdmin must run after RequireAuth. It trusts the stored account,
// not the admin flag of the token, so a demotion applies immediately.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := UserFrom(c)
		if !ok || !user.IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin privileges required"})
			return
		}
		c.Next()
	}
}

func ClaimsFrom(c *gin.Context) (*Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*Claims)
	return claims, ok
}

// UserFrom returns the account loaded by RequireAuth.
func UserFrom(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(userKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*models.User)
	return user, ok
}
