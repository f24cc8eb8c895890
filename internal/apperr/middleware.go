package apperr

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gatekeep/proxy/internal/logger"
)

// ErrorHandler drains gin's error slice and responds with the last
// AppError attached to the context, logging at a level keyed off its
// status code.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		err := c.Errors.Last().Err
		appErr, ok := err.(*AppError)
		if !ok {
			appErr = Fatal("internal error", err)
		}

		log := logger.GetLogger()
		event := log.Warn()
		if appErr.StatusCode >= http.StatusInternalServerError {
			event = log.Error()
		}
		event.
			Str("code", string(appErr.Code)).
			Str("path", c.Request.URL.Path).
			Str("details", appErr.Details).
			Msg(appErr.Message)

		c.JSON(appErr.StatusCode, appErr.ToResponse())
	}
}

// Recovery converts a panic into a 500 AppError instead of crashing the
// process, matching gin's default recovery shape.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.GetLogger().Error().
					Interface("panic", r).
					Str("path", c.Request.URL.Path).
					Msg("recovered from panic")
				appErr := New(CodeFatal, "internal server error")
				c.AbortWithStatusJSON(appErr.StatusCode, appErr.ToResponse())
			}
		}()
		c.Next()
	}
}

// HandleError attaches err to the gin context for ErrorHandler to render.
func HandleError(c *gin.Context, err *AppError) {
	c.Error(err)
}

// AbortWithError attaches err and stops further handler execution.
func AbortWithError(c *gin.Context, err *AppError) {
	c.Error(err)
	c.Abort()
}
