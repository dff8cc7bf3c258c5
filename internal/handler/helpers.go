package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/capa/internal/middleware"
	appErr "github.com/xxxsen/capa/internal/pkg/errors"
	"github.com/xxxsen/capa/internal/pkg/response"
)

// handleError is the outer error boundary: unclassified failures become 500
// carrying the error text.
func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	logger := logutil.GetLogger(c.Request.Context()).With(
		zap.String("request_id", middleware.GetRequestID(c)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
	)
	switch {
	case errors.Is(err, appErr.ErrNoImage):
		logger.Warn("request rejected", zap.Error(err))
		response.Error(c, http.StatusBadRequest, appErr.ErrNoImage.Error())
	case appErr.IsInvalid(err):
		logger.Warn("request rejected", zap.Error(err))
		response.Error(c, http.StatusBadRequest, err.Error())
	case appErr.IsNotFound(err):
		response.Error(c, http.StatusNotFound, "not found")
	default:
		logger.Error("request failed", zap.Error(err))
		response.Error(c, http.StatusInternalServerError, err.Error())
	}
}

// handleInferenceError only distinguishes a missing image; every other
// failure, including a missing model object, is a 500.
func handleInferenceError(c *gin.Context, err error) {
	if errors.Is(err, appErr.ErrNoImage) {
		handleError(c, err)
		return
	}
	logutil.GetLogger(c.Request.Context()).Error("inference failed",
		zap.String("request_id", middleware.GetRequestID(c)),
		zap.Error(err),
	)
	response.Error(c, http.StatusInternalServerError, err.Error())
}
