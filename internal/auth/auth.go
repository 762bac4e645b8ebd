// Package auth validates the session tokens clients present on the socket
// handshake and on REST calls. Tokens are issued by the account service;
// GenerateAccessToken exists for tests and local tooling.
package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"chatrelay/internal/apperr"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

type Claims struct {
	UserID   string `json:"uid"`
	DeviceID string `json:"did,omitempty"`
	jwt.RegisteredClaims
}

func GenerateAccessToken(userID, deviceID, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   userID,
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseAccessToken verifies an HS256 token. Every failure wraps
// apperr.ErrUnauthenticated.
func ParseAccessToken(tokenStr, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrUnauthenticated, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token", apperr.ErrUnauthenticated)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: token without user", apperr.ErrUnauthenticated)
	}
	return claims, nil
}

// TokenFromRequest takes the token from the token query parameter, which
// browsers need for websockets, or from a bearer Authorization header.
func TokenFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	authz := r.Header.Get("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return ""
}

// Authenticate parses the request's token.
func Authenticate(r *http.Request, secret string) (*Claims, error) {
	tok := TokenFromRequest(r)
	if tok == "" {
		return nil, fmt.Errorf("%w: missing token", apperr.ErrUnauthenticated)
	}
	return ParseAccessToken(tok, secret)
}

func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := Authenticate(c.Request, secret)
		if err != nil {
			log.Debug().Err(err).Str("path", c.FullPath()).Msg("rejected request")
			msg := "invalid token"
			if TokenFromRequest(c.Request) == "" {
				msg = "missing bearer token"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}
		c.Set("userID", claims.UserID)
		c.Set("deviceID", claims.DeviceID)
		c.Next()
	}
}

func GetUserID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if id, ok2 := v.(string); ok2 {
			return id
		}
	}
	return ""
}
