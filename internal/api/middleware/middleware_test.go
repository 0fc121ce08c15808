package middleware

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/martijn/vmvault/internal/core/domain"
	"github.com/martijn/vmvault/internal/core/service"
)

func TestStatusFromError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.NewNotFound("workload", "w1"), http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", domain.NewInvalidState("workload", "w1", "locked")), http.StatusConflict},
		{&domain.Error{Kind: domain.ErrRetentionViolation}, http.StatusConflict},
		{&domain.Error{Kind: domain.ErrCapacityExhausted}, http.StatusInsufficientStorage},
		{service.NewServiceError(http.StatusBadRequest, "name is required"), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFromError(tt.err), tt.err.Error())
	}
}

func newRouter(handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	log := logrus.New()
	log.SetOutput(io.Discard)
	r := gin.New()
	r.Use(LoggerMiddleware(log), ErrorHandlerMiddleware(log), CORSMiddleware([]string{"https://ui.example"}))
	r.GET("/x", handler)
	return r
}

func TestErrorHandlerWritesMappedResponse(t *testing.T) {
	r := newRouter(func(c *gin.Context) {
		_ = c.Error(domain.NewNotFound("snapshot", "s1"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"Not Found","message":"not found: snapshot s1","code":404}`, w.Body.String())
}

func TestErrorHandlerRecoversPanics(t *testing.T) {
	r := newRouter(func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCORS(t *testing.T) {
	r := newRouter(func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://ui.example")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://ui.example", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
