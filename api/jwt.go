package api

import (
	"crypto/ed25519"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const contextKeyClaims = "auth_claims"

// JWT 是存取憑證攜帶的claims
type JWT struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// ParseAndValidateJWT 解析並驗證存取憑證
func ParseAndValidateJWT(tokenString string, key ed25519.PublicKey) (*JWT, error) {
	const op = "ParseAndValidateJWT"
	token, err := jwt.ParseWithClaims(tokenString, &JWT{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%s: token is invalid", op)
	}
	claims, ok := token.Claims.(*JWT)
	if !ok {
		return nil, fmt.Errorf("%s: token claims are invalid", op)
	}
	return claims, nil
}

// extractToken 從Authorization header或cookie取得存取憑證
func extractToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	if cookie, err := c.Cookie("access_token"); err == nil {
		return cookie
	}
	return ""
}

// AuthMiddleware 驗證存取憑證並將claims放進請求context
func (impl *ServerImpl) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c)
		if tokenString == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		claims, err := ParseAndValidateJWT(tokenString, impl.config.Auth.PublicKey)
		if err != nil {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Set(contextKeyClaims, claims)
		c.Next()
	}
}

// callerID 取得目前請求的使用者ID
func callerID(c *gin.Context) (uuid.UUID, bool) {
	value, exists := c.Get(contextKeyClaims)
	if !exists {
		return uuid.Nil, false
	}
	claims, ok := value.(*JWT)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
