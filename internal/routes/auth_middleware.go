// Authentication middleware.
// Checks for a valid bakery token in the Authorization header or the auth
// cookie. If valid, the claims are stored in the context.
package routes

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"easybox-network/internal/access"
	"easybox-network/internal/jwt"
	"easybox-network/internal/storage"

	"github.com/gin-gonic/gin"
)

const AUTH_COOKIE_NAME = "auth_token"

const claimsKey = "claims"

var ErrClaimsNotFound = errors.New("claims not found in context")

// GetClaims returns the authenticated principal.
func GetClaims(c *gin.Context) (*jwt.BakeryClaims, error) {
	v, exists := c.Get(claimsKey)
	if !exists {
		return nil, ErrClaimsNotFound
	}
	claims, ok := v.(*jwt.BakeryClaims)
	if !ok {
		slog.Warn("GetClaims: claims in context have unexpected type")
		return nil, ErrClaimsNotFound
	}
	return claims, nil
}

func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	token, _ := c.Cookie(AUTH_COOKIE_NAME)
	return token
}

// setAuthCookie lets the admin dashboard reuse the API token.
func setAuthCookie(c *gin.Context, token string, ttl int) {
	secure := c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https"
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(AUTH_COOKIE_NAME, token, ttl, "/", "", secure, true)
}

// AuthMiddleware rejects requests without a valid bakery token.
func (a *API) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		claims, err := a.issuer.DecodeBakeryToken(token)
		if err != nil {
			slog.Debug("AuthMiddleware: invalid token", "error", err)
			AbortWithError(c, err)
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// roleFor decides the role baked into a fresh token.
func (a *API) roleFor(b *storage.Bakery) string {
	if slices.Contains(a.admins, access.NormalizeEmail(b.Email)) {
		return access.RoleAdmin
	}
	return access.RoleBakery
}

type loginRequest struct {
	Email    string `json:"email" form:"email" binding:"required"`
	Password string `json:"password" form:"password" binding:"required"`
}

func (a *API) AuthRoutes(r *gin.RouterGroup) {
	r.POST("/login", func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBind(&req); err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		email := access.NormalizeEmail(req.Email)
		if err := access.ValidEmail(email); err != nil {
			AbortWithError(c, err)
			return
		}

		bakery, err := a.store.GetBakeryByEmail(c.Request.Context(), email)
		if errors.Is(err, storage.ErrNotFound) {
			// Burn the same time as a real check
			access.VerifyPassword(req.Password, dummyHash)
			AbortWithError(c, ErrInvalidCredentials)
			return
		}
		if err != nil {
			AbortWithError(c, err)
			return
		}
		ok, err := access.VerifyPassword(req.Password, bakery.PasswordHash)
		if err != nil {
			slog.Error("Stored password hash is unusable", "bakery", bakery.ID, "error", err)
			AbortWithError(c, ErrInvalidCredentials)
			return
		}
		if !ok {
			slog.Warn("Failed login", "email", email, "ip", c.ClientIP())
			AbortWithError(c, ErrInvalidCredentials)
			return
		}

		role := a.roleFor(bakery)
		token, err := a.issuer.IssueBakeryToken(bakery, role)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		claims, err := a.issuer.DecodeBakeryToken(token)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		setAuthCookie(c, token, int(a.issuer.TTL().Seconds()))

		slog.Info("Bakery logged in", "bakery", bakery.ID, "role", role)
		c.JSON(http.StatusOK, gin.H{
			"token":     token,
			"role":      role,
			"expiresAt": claims.ExpiresAt.Time,
		})
	})

	r.GET("/status", a.AuthMiddleware(), func(c *gin.Context) {
		claims, _ := GetClaims(c)
		c.JSON(http.StatusOK, gin.H{
			"status":   "authenticated",
			"bakeryId": claims.BakeryID,
			"email":    claims.Email,
			"role":     claims.Role,
		})
	})

	r.POST("/logout", func(c *gin.Context) {
		c.SetCookie(AUTH_COOKIE_NAME, "", -1, "/", "", false, true)
		c.Status(http.StatusNoContent)
	})
}
