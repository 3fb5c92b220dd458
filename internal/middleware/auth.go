package middleware

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	ctxUserID    = "user_id"
	ctxSessionID = "session_id"
)

// IssueToken 签发 HS256 token：sub=用户 ID，jti=登录会话 ID（空时随机生成）。
func IssueToken(secret string, userID uint, sessionID string, ttl time.Duration) (string, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatUint(uint64(userID), 10),
		ID:        sessionID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// Auth 校验 Bearer token，把用户 ID 和会话 ID 放进 gin.Context。
func Auth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "请先登录"})
			return
		}

		var claims jwt.RegisteredClaims
		_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &claims, func(*jwt.Token) (any, error) {
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
		if err != nil {
			msg := "token 无效"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "登录已过期"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": msg})
			return
		}

		id, err := strconv.ParseUint(claims.Subject, 10, 32)
		if err != nil || id == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "token 无效"})
			return
		}
		sid := claims.ID
		if sid == "" {
			// 没有会话 ID 的 token 退化为按用户隔离
			sid = "user:" + claims.Subject
		}
		c.Set(ctxUserID, uint(id))
		c.Set(ctxSessionID, sid)
		c.Next()
	}
}

// UserID 取 Auth 写入的用户 ID，未登录为 0。
func UserID(c *gin.Context) uint {
	return c.GetUint(ctxUserID)
}

func SessionID(c *gin.Context) string {
	return c.GetString(ctxSessionID)
}

// AdminOnly 简单管理员 token 校验。
func AdminOnly(adminToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminToken == "" || c.GetHeader("X-Admin-Token") != adminToken {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "admin token 无效"})
			return
		}
		c.Next()
	}
}
