package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/martijn/vmvault/internal/api/dto"
	"github.com/martijn/vmvault/internal/core/domain"
	"github.com/martijn/vmvault/internal/core/service"
)

// StatusFromError maps the domain error taxonomy onto HTTP status codes
func StatusFromError(err error) int {
	var svcErr *service.ServiceError
	switch {
	case errors.As(err, &svcErr):
		return svcErr.Code
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, domain.ErrRetentionViolation):
		return http.StatusConflict
	case errors.Is(err, domain.ErrCapacityExhausted):
		return http.StatusInsufficientStorage
	case errors.Is(err, domain.ErrChainIntegrity):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrTransport):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func errorMessage(err error) string {
	var svcErr *service.ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Message
	}
	return err.Error()
}

// ErrorHandlerMiddleware turns panics and errors attached with c.Error into
// an ErrorResponse
func ErrorHandlerMiddleware(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.WithField("path", c.Request.URL.Path).Errorf("Recovered from panic: %v", r)
				c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
					Error:   "Internal Server Error",
					Message: "An unexpected error occurred",
					Code:    http.StatusInternalServerError,
				})
				c.Abort()
			}
		}()

		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		code := StatusFromError(err)
		if code >= http.StatusInternalServerError {
			log.WithError(err).WithField("path", c.Request.URL.Path).Error("Request failed")
		}
		c.JSON(code, dto.ErrorResponse{
			Error:   http.StatusText(code),
			Message: errorMessage(err),
			Code:    code,
		})
	}
}
