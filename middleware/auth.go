package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
)

const (
	OperatorContextKey = "operator"
	OperatorTokenType  = "operator"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// ParseOperatorToken validates an HMAC-signed token whose "typ" claim is operator.
func ParseOperatorToken(tokenStr string, secret []byte) (jwt.MapClaims, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("JWT secret not configured")
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || token == nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	if typ, ok := claims["typ"].(string); !ok || typ != OperatorTokenType {
		return nil, fmt.Errorf("invalid token type")
	}
	return claims, nil
}

// OperatorAuth guards the internal endpoints with a bearer token.
func OperatorAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token is required"})
			return
		}

		claims, err := ParseOperatorToken(strings.TrimPrefix(header, "Bearer "), secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		sub, _ := claims["sub"].(string)
		c.Set(OperatorContextKey, sub)
		c.Next()
	}
}

// GetOperator returns the subject of the authenticated operator token.
func GetOperator(c *gin.Context) string {
	return c.GetString(OperatorContextKey)
}
