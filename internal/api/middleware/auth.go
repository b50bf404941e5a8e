package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/novel_go_server/internal/pkg/jwt"
	"github.com/qs3c/novel_go_server/internal/pkg/response"
)

const (
	UserIDKey = "userID"
)

var errBadAuthHeader = errors.New("认证格式错误")

// bearerToken 取出 Authorization: Bearer <token>
func bearerToken(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", nil
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header || token == "" {
		return "", errBadAuthHeader
	}
	return token, nil
}

// Auth JWT 认证中间件
func Auth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c)
		if err != nil {
			response.Abort(c, response.CodeAuthFailed, err.Error())
			return
		}
		if token == "" {
			response.Abort(c, response.CodeAuthFailed, "请提供认证信息")
			return
		}

		claims, err := jwt.ParseToken(token, jwtSecret)
		if err != nil {
			msg := "认证失败"
			if errors.Is(err, jwt.ErrExpiredToken) {
				msg = "登录已过期"
			}
			response.Abort(c, response.CodeAuthFailed, msg)
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Next()
	}
}

// GetUserID 从上下文获取用户 ID
func GetUserID(c *gin.Context) (int64, bool) {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return 0, false
	}
	id, ok := userID.(int64)
	return id, ok
}
