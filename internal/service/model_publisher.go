package service

import (
	"context"
	"fmt"
	"os"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/capa/internal/classifier"
	"github.com/xxxsen/capa/internal/objectstore"
)

type ModelPublisher struct {
	store       objectstore.Store
	modelKey    string
	metadataKey string
}

func NewModelPublisher(store objectstore.Store, modelKey, metadataKey string) *ModelPublisher {
	return &ModelPublisher{store: store, modelKey: modelKey, metadataKey: metadataKey}
}

// Publish validates the metadata sidecar, then uploads the model followed by
// the metadata. The two uploads are not atomic: a cold start between them
// loads the new network with the previous metadata.
func (p *ModelPublisher) Publish(ctx context.Context, modelPath, metadataPath string) (*classifier.Metadata, error) {
	raw, err := os.ReadFile(metadataPath)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	meta, err := classifier.ParseMetadata(raw)
	if err != nil {
		return nil, err
	}
	if err := meta.CheckPreprocessing(); err != nil {
		return nil, err
	}
	logger := logutil.GetLogger(ctx).With(zap.String("model_key", p.modelKey), zap.String("metadata_key", p.metadataKey))
	if meta.NumClasses > 0 && meta.NumClasses != len(meta.ClassNames) {
		logger.Warn("num_classes differs from class_names length",
			zap.Int("num_classes", meta.NumClasses), zap.Int("class_names", len(meta.ClassNames)))
	}
	if err := objectstore.Upload(ctx, p.store, p.modelKey, modelPath, "application/octet-stream"); err != nil {
		return nil, fmt.Errorf("upload model: %w", err)
	}
	if err := objectstore.Upload(ctx, p.store, p.metadataKey, metadataPath, "application/json"); err != nil {
		return nil, fmt.Errorf("upload metadata: %w", err)
	}
	logger.Info("model published", zap.Strings("class_names", meta.ClassNames))
	return meta, nil
}
