package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/bkimport/internal/middleware"
	"github.com/xxxsen/bkimport/internal/pkg/errcode"
	appErr "github.com/xxxsen/bkimport/internal/pkg/errors"
	"github.com/xxxsen/bkimport/internal/pkg/response"
	"github.com/xxxsen/bkimport/internal/service"
)

func getUserID(c *gin.Context) string {
	value, _ := c.Get(middleware.ContextUserIDKey)
	userID, _ := value.(string)
	return userID
}

func queryInt(c *gin.Context, key string, def int) int {
	if value := c.Query(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed >= 0 {
			return parsed
		}
	}
	return def
}

// pageLimit reads ?limit= clamped the way the listings apply it, so the
// echoed page size matches the query.
func pageLimit(c *gin.Context) int {
	return service.ClampPageLimit(queryInt(c, "limit", 0))
}

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	code, msg := errorCode(err)
	logger := logutil.GetLogger(c.Request.Context()).With(
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("user_id", getUserID(c)),
		zap.String("request_id", c.GetString(middleware.ContextRequestIDKey)),
		zap.Error(err),
	)
	if code == errcode.ErrInternal {
		logger.Error("request failed")
	} else {
		logger.Debug("request rejected")
	}
	response.Error(c, code, msg)
}

func errorCode(err error) (int, string) {
	switch {
	case errors.Is(err, appErr.ErrUnauthorized):
		return errcode.ErrUnauthorized, "unauthorized"
	case errors.Is(err, appErr.ErrForbidden):
		return errcode.ErrForbidden, "forbidden"
	case errors.Is(err, appErr.ErrNotFound):
		return errcode.ErrNotFound, "not found"
	case errors.Is(err, appErr.ErrUnsupportedFormat):
		return errcode.ErrImportUnsupportedFormat, err.Error()
	case errors.Is(err, appErr.ErrEmptyImport):
		return errcode.ErrImportEmpty, "import contains no bookmarks"
	case errors.Is(err, appErr.ErrInvalidSessionState):
		return errcode.ErrImportInvalidState, err.Error()
	case errors.Is(err, appErr.ErrInvalidTransition):
		return errcode.ErrImportInvalidTransition, err.Error()
	case errors.Is(err, appErr.ErrInvalid), errors.Is(err, appErr.ErrValidation):
		return errcode.ErrInvalid, err.Error()
	case errors.Is(err, appErr.ErrConflict):
		return errcode.ErrConflict, "conflict"
	case errors.Is(err, appErr.ErrTooMany):
		return errcode.ErrTooMany, "too many requests"
	}
	return errcode.ErrInternal, "internal error"
}
