package service

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/capa/internal/classifier"
	"github.com/xxxsen/capa/internal/model"
	appErr "github.com/xxxsen/capa/internal/pkg/errors"
)

// ModelProvider hands out the process-wide model, loading it on first use.
type ModelProvider interface {
	Get(ctx context.Context) (*classifier.Model, error)
	Loaded() bool
}

type InferenceInput struct {
	Image     string
	ImageData string
	ImageID   *string
}

// Payload returns the base64 image, preferring Image over ImageData.
func (in InferenceInput) Payload() string {
	if in.Image != "" {
		return in.Image
	}
	return in.ImageData
}

func (in InferenceInput) ResolvedImageID() string {
	if in.ImageID == nil {
		return model.UnknownImageID
	}
	return *in.ImageID
}

type InferenceService struct {
	models ModelProvider
}

func NewInferenceService(models ModelProvider) *InferenceService {
	return &InferenceService{models: models}
}

func (s *InferenceService) ModelLoaded() bool {
	return s.models.Loaded()
}

func (s *InferenceService) Classify(ctx context.Context, in InferenceInput) (*model.InferenceResult, error) {
	m, err := s.models.Get(ctx)
	if err != nil {
		return nil, err
	}
	payload := in.Payload()
	if payload == "" {
		return nil, appErr.ErrNoImage
	}
	start := time.Now()
	tensor, err := classifier.PrepareImage(payload)
	if err != nil {
		return nil, err
	}
	prepared := time.Since(start)
	pred, err := m.Classify(tensor)
	if err != nil {
		return nil, err
	}
	imageID := in.ResolvedImageID()
	logutil.GetLogger(ctx).Debug("image classified",
		zap.String("image_id", imageID),
		zap.String("class", pred.Class),
		zap.Float64("confidence", pred.Confidence),
		zap.Duration("preprocess", prepared),
		zap.Duration("total", time.Since(start)),
	)
	return &model.InferenceResult{
		PredictedClass: pred.Class,
		Confidence:     pred.Confidence,
		ImageID:        imageID,
	}, nil
}
