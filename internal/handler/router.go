package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/capa/internal/middleware"
)

type RouterDeps struct {
	Inference         *InferenceHandler
	Reports           *ReportHandler
	GenerateRateLimit time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.POST("/", deps.Inference.Predict)
	api.POST("/predict", deps.Inference.Predict)
	api.GET("/health", deps.Inference.Health)

	api.POST("/generate-report", middleware.RateLimit(deps.GenerateRateLimit), deps.Reports.Generate)
	api.GET("/reports", deps.Reports.List)
	api.GET("/reports/:id", deps.Reports.Get)
}
