package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/capa/internal/classifier"
	"github.com/xxxsen/capa/internal/config"
	"github.com/xxxsen/capa/internal/model"
	"github.com/xxxsen/capa/internal/objectstore"
	appErr "github.com/xxxsen/capa/internal/pkg/errors"
)

type memReportRepo struct {
	mu        sync.Mutex
	items     map[string]model.Report
	seedCalls int
}

func newMemReportRepo() *memReportRepo {
	return &memReportRepo{items: map[string]model.Report{}}
}

func (r *memReportRepo) Upsert(ctx context.Context, report *model.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[report.ReportID] = *report
	return nil
}

func (r *memReportRepo) GetByID(ctx context.Context, reportID string) (*model.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[reportID]
	if !ok {
		return nil, appErr.ErrNotFound
	}
	return &item, nil
}

func (r *memReportRepo) FindSeed(ctx context.Context, failureMode string) (*model.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seedCalls++
	for _, item := range r.sorted() {
		if item.IsSeed && item.FailureMode == failureMode {
			return &item, nil
		}
	}
	return nil, appErr.ErrNotFound
}

func (r *memReportRepo) List(ctx context.Context, filter model.ReportFilter) ([]model.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Report
	for _, item := range r.sorted() {
		if filter.FailureMode != "" && item.FailureMode != filter.FailureMode {
			continue
		}
		if filter.Seed != nil && item.IsSeed != *filter.Seed {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func (r *memReportRepo) ListExpired(ctx context.Context, cutoff int64, limit uint) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, item := range r.sorted() {
		if !item.IsSeed && item.Ctime < cutoff && uint(len(ids)) < limit {
			ids = append(ids, item.ReportID)
		}
	}
	return ids, nil
}

func (r *memReportRepo) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := r.items[id]; ok {
			delete(r.items, id)
			n++
		}
	}
	return n, nil
}

func (r *memReportRepo) sorted() []model.Report {
	out := make([]model.Report, 0, len(r.items))
	for _, item := range r.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ctime < out[j].Ctime })
	return out
}

type stubGenerator struct {
	mu      sync.Mutex
	output  string
	err     error
	prompts []string
}

func (g *stubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	return g.output, g.err
}

func newLocalStore(t *testing.T) objectstore.Store {
	t.Helper()
	store, err := objectstore.New(config.StoreConfig{Type: "local", Data: map[string]interface{}{"dir": t.TempDir()}})
	require.NoError(t, err)
	return store
}

type constNetwork struct {
	logits []float32
}

func (n *constNetwork) Forward(input []float32) ([]float32, error) {
	out := make([]float32, len(n.logits))
	copy(out, n.logits)
	return out, nil
}

func (n *constNetwork) Close() error { return nil }

type staticModels struct {
	model *classifier.Model
	err   error
	calls int
}

func (m *staticModels) Get(ctx context.Context) (*classifier.Model, error) {
	m.calls++
	return m.model, m.err
}

func (m *staticModels) Loaded() bool { return m.model != nil }

var testClasses = []string{"Crazing", "Inclusion", "Patches", "Pitted_Surface", "Rolled-in_Scale", "Scratches"}

func newStaticModels(logits ...float32) *staticModels {
	meta := &classifier.Metadata{ClassNames: testClasses, NumClasses: len(testClasses)}
	return &staticModels{model: classifier.NewModel(meta, &constNetwork{logits: logits})}
}

func redSquareBase64(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 50, 50))
	for y := 0; y < 50; y++ {
		for x := 0; x < 50; x++ {
			img.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}
