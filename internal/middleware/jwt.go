package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/bkimport/internal/pkg/errcode"
	"github.com/xxxsen/bkimport/internal/pkg/jwt"
	"github.com/xxxsen/bkimport/internal/pkg/response"
)

const ContextUserIDKey = "user_id"

// JWTAuth admits bearer tokens whose subject is the user_id they carry.
func JWTAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Error(c, errcode.ErrUnauthorized, "missing authorization")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Error(c, errcode.ErrUnauthorized, "invalid authorization")
			c.Abort()
			return
		}
		claims, err := jwt.ParseToken(strings.TrimSpace(parts[1]), secret)
		if err != nil {
			logutil.GetLogger(c.Request.Context()).Debug("reject token", zap.String("path", c.FullPath()), zap.Error(err))
			response.Error(c, errcode.ErrUnauthorized, "invalid token")
			c.Abort()
			return
		}
		if claims.Subject != claims.UserID {
			logutil.GetLogger(c.Request.Context()).Warn("reject token with foreign subject",
				zap.String("user_id", claims.UserID), zap.String("subject", claims.Subject))
			response.Error(c, errcode.ErrUnauthorized, "token subject mismatch")
			c.Abort()
			return
		}
		c.Set(ContextUserIDKey, claims.UserID)
		c.Next()
	}
}
