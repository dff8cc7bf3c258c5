package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/capa/internal/pkg/response"
	"github.com/xxxsen/capa/internal/service"
)

type InferenceHandler struct {
	inference *service.InferenceService
}

func NewInferenceHandler(inference *service.InferenceService) *InferenceHandler {
	return &InferenceHandler{inference: inference}
}

func (h *InferenceHandler) Predict(c *gin.Context) {
	fields, err := readFields(c)
	if err != nil {
		handleInferenceError(c, err)
		return
	}
	image, err := payloadField(fields, "image")
	if err != nil {
		handleInferenceError(c, err)
		return
	}
	imageData, err := payloadField(fields, "image_data")
	if err != nil {
		handleInferenceError(c, err)
		return
	}
	res, err := h.inference.Classify(c.Request.Context(), service.InferenceInput{
		Image:     image,
		ImageData: imageData,
		ImageID:   idField(fields, "image_id"),
	})
	if err != nil {
		handleInferenceError(c, err)
		return
	}
	response.Success(c, res)
}

func (h *InferenceHandler) Health(c *gin.Context) {
	response.Success(c, gin.H{"status": "healthy", "model_loaded": h.inference.ModelLoaded()})
}
