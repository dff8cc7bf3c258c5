package service

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	appErr "github.com/xxxsen/capa/internal/pkg/errors"
)

func writeTemp(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestModelPublish(t *testing.T) {
	dir := t.TempDir()
	modelPath := writeTemp(t, dir, "model.onnx", "weights")
	metaPath := writeTemp(t, dir, "meta.json", `{"class_names": ["a", "b"], "num_classes": 2, "input_size": [224, 224]}`)
	store := newLocalStore(t)

	meta, err := NewModelPublisher(store, "model.onnx", "model_metadata.json").Publish(context.Background(), modelPath, metaPath)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, meta.ClassNames)

	rc, err := store.Get(context.Background(), "model.onnx")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	require.Equal(t, "weights", string(data))
}

func TestModelPublishRejectsBadMetadata(t *testing.T) {
	dir := t.TempDir()
	modelPath := writeTemp(t, dir, "model.onnx", "weights")
	store := newLocalStore(t)
	pub := NewModelPublisher(store, "model.onnx", "model_metadata.json")

	for name, body := range map[string]string{
		"no classes":    `{"class_names": []}`,
		"negative":      `{"class_names": ["a"], "num_classes": -1}`,
		"input size":    `{"class_names": ["a"], "input_size": [256, 256]}`,
		"normalization": `{"class_names": ["a"], "normalization": {"mean": [0.5, 0.5, 0.5], "std": [0.5, 0.5, 0.5]}}`,
		"not json":      `class_names: a`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := pub.Publish(context.Background(), modelPath, writeTemp(t, dir, name+".json", body))
			require.Error(t, err)
		})
	}
	_, err := store.Get(context.Background(), "model.onnx")
	require.True(t, appErr.IsNotFound(err))
}
