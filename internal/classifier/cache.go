package classifier

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xxxsen/capa/internal/objectstore"
)

// Model is a loaded network paired with its class labels. It is immutable
// once published by ModelCache.
type Model struct {
	ClassNames []string
	Metadata   *Metadata
	network    Network
}

func NewModel(meta *Metadata, network Network) *Model {
	return &Model{ClassNames: meta.ClassNames, Metadata: meta, network: network}
}

// Classify runs one forward pass and picks the most probable class.
func (m *Model) Classify(input []float32) (Prediction, error) {
	logits, err := m.network.Forward(input)
	if err != nil {
		return Prediction{}, err
	}
	return predict(logits, m.ClassNames)
}

type CacheOptions struct {
	ModelKey    string
	MetadataKey string
	TempDir     string
}

// ModelCache loads the model from the store on first use and serves the same
// instance for the lifetime of the process. A failed load is not cached.
type ModelCache struct {
	store  objectstore.Store
	loader NetworkLoader
	opts   CacheOptions
	group  singleflight.Group
	model  atomic.Pointer[Model]
	dir    atomic.Pointer[string]
}

func NewModelCache(store objectstore.Store, loader NetworkLoader, opts CacheOptions) *ModelCache {
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	return &ModelCache{store: store, loader: loader, opts: opts}
}

func (c *ModelCache) Get(ctx context.Context) (*Model, error) {
	if m := c.model.Load(); m != nil {
		return m, nil
	}
	// The load is shared by every waiter, so one caller going away must not
	// cancel it.
	loadCtx := context.WithoutCancel(ctx)
	v, err, _ := c.group.Do("model", func() (interface{}, error) {
		if m := c.model.Load(); m != nil {
			return m, nil
		}
		m, err := c.load(loadCtx)
		if err != nil {
			return nil, err
		}
		c.model.Store(m)
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Model), nil
}

func (c *ModelCache) Loaded() bool {
	return c.model.Load() != nil
}

func (c *ModelCache) load(ctx context.Context) (*Model, error) {
	logger := logutil.GetLogger(ctx).With(
		zap.String("model_key", c.opts.ModelKey),
		zap.String("metadata_key", c.opts.MetadataKey),
	)
	logger.Info("loading model from store")
	if err := os.MkdirAll(c.opts.TempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create model temp dir: %w", err)
	}
	dir, err := os.MkdirTemp(c.opts.TempDir, "capa-model-*")
	if err != nil {
		return nil, fmt.Errorf("create model temp dir: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	modelPath := filepath.Join(dir, filepath.Base(c.opts.ModelKey))
	metaPath := filepath.Join(dir, filepath.Base(c.opts.MetadataKey))
	if err := objectstore.Download(ctx, c.store, c.opts.ModelKey, modelPath); err != nil {
		cleanup()
		return nil, err
	}
	if err := objectstore.Download(ctx, c.store, c.opts.MetadataKey, metaPath); err != nil {
		cleanup()
		return nil, err
	}
	raw, err := os.ReadFile(metaPath)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("read model metadata: %w", err)
	}
	meta, err := ParseMetadata(raw)
	if err != nil {
		cleanup()
		return nil, err
	}
	network, err := c.loader(modelPath, meta)
	if err != nil {
		cleanup()
		return nil, err
	}
	c.dir.Store(&dir)
	logger.Info("model loaded",
		zap.Int("classes", len(meta.ClassNames)),
		zap.Int("output_size", meta.OutputSize()),
		zap.Strings("class_names", meta.ClassNames),
	)
	return NewModel(meta, network), nil
}

// Close releases the network and removes the downloaded artifacts.
func (c *ModelCache) Close() error {
	var err error
	if m := c.model.Swap(nil); m != nil && m.network != nil {
		err = m.network.Close()
	}
	if dir := c.dir.Swap(nil); dir != nil {
		_ = os.RemoveAll(*dir)
	}
	return err
}
