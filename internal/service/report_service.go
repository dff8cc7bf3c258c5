package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xxxsen/capa/internal/ai"
	"github.com/xxxsen/capa/internal/model"
	"github.com/xxxsen/capa/internal/objectstore"
	appErr "github.com/xxxsen/capa/internal/pkg/errors"
)

const (
	reportKeyPrefix   = "reports/"
	defaultConfidence = "0.0"
	purgeBatchSize    = 200
)

type ReportRepository interface {
	Upsert(ctx context.Context, report *model.Report) error
	GetByID(ctx context.Context, reportID string) (*model.Report, error)
	FindSeed(ctx context.Context, failureMode string) (*model.Report, error)
	List(ctx context.Context, filter model.ReportFilter) ([]model.Report, error)
	ListExpired(ctx context.Context, cutoff int64, limit uint) ([]string, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}

type GenerateReportInput struct {
	ImageID     string
	FailureMode string
	Confidence  string
}

type ReportServiceOptions struct {
	Timeout   time.Duration
	CacheSize int
	CacheTTL  time.Duration
	Now       func() time.Time
}

type ReportService struct {
	repo      ReportRepository
	store     objectstore.Store
	generator ai.IGenerator
	refs      *expirable.LRU[string, *model.Report]
	timeout   time.Duration
	now       func() time.Time
}

func NewReportService(repo ReportRepository, store objectstore.Store, generator ai.IGenerator, opts ReportServiceOptions) *ReportService {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 64
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 10 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ReportService{
		repo:      repo,
		store:     store,
		generator: generator,
		refs:      expirable.NewLRU[string, *model.Report](opts.CacheSize, nil, opts.CacheTTL),
		timeout:   opts.Timeout,
		now:       opts.Now,
	}
}

func ReportObjectKey(reportID string) string {
	return reportKeyPrefix + reportID + ".json"
}

// NormalizeConfidence keeps the caller's confidence as text, accepting a JSON
// string or number.
func NormalizeConfidence(raw json.RawMessage) (string, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return defaultConfidence, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("%w: confidence must be a string or number", appErr.ErrInvalid)
	}
	return n.String(), nil
}

func (s *ReportService) Generate(ctx context.Context, in GenerateReportInput) (*model.Report, error) {
	in.ImageID = strings.TrimSpace(in.ImageID)
	in.FailureMode = strings.TrimSpace(in.FailureMode)
	if in.ImageID == "" || in.FailureMode == "" {
		return nil, fmt.Errorf("%w: image_id and failure_mode are required", appErr.ErrInvalid)
	}
	if in.Confidence == "" {
		in.Confidence = defaultConfidence
	}
	if s.generator == nil {
		return nil, ai.ErrUnavailable
	}
	logger := logutil.GetLogger(ctx).With(zap.String("image_id", in.ImageID), zap.String("failure_mode", in.FailureMode))

	reference, err := s.reference(ctx, in.FailureMode)
	if err != nil {
		logger.Error("load reference report failed", zap.Error(err))
		return nil, err
	}
	prompt, err := BuildCAPAPrompt(in.FailureMode, reference)
	if err != nil {
		return nil, err
	}

	genCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	start := time.Now()
	output, err := s.generator.Generate(genCtx, prompt)
	if err != nil {
		logger.Error("generate report failed", zap.Error(err))
		return nil, err
	}
	content, err := ParseReportContent(output)
	if err != nil {
		logger.Error("parse generated report failed", zap.Error(err), zap.Int("output_len", len(output)))
		return nil, err
	}

	now := s.now()
	report := &model.Report{
		ReportID:      fmt.Sprintf("CAPA_%s_%s", in.ImageID, now.Format("20060102_150405")),
		CreatedAt:     now.Format("2006-01-02T15:04:05.000000"),
		ImageID:       in.ImageID,
		FailureMode:   in.FailureMode,
		Confidence:    in.Confidence,
		ReportContent: *content,
		Ctime:         now.Unix(),
	}
	if err := s.persist(ctx, report); err != nil {
		logger.Error("persist report failed", zap.String("report_id", report.ReportID), zap.Error(err))
		return nil, err
	}
	logger.Info("report generated",
		zap.String("report_id", report.ReportID),
		zap.Bool("with_reference", reference != nil),
		zap.Duration("cost", time.Since(start)),
	)
	return report, nil
}

func (s *ReportService) reference(ctx context.Context, failureMode string) (*model.Report, error) {
	if cached, ok := s.refs.Get(failureMode); ok {
		return cached, nil
	}
	ref, err := s.repo.FindSeed(ctx, failureMode)
	if err != nil {
		if appErr.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	s.refs.Add(failureMode, ref)
	return ref, nil
}

// persist writes the table row and the JSON object concurrently.
func (s *ReportService) persist(ctx context.Context, report *model.Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.repo.Upsert(gctx, report); err != nil {
			return fmt.Errorf("save report: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := s.store.Put(gctx, ReportObjectKey(report.ReportID), bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
			return fmt.Errorf("upload report: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func (s *ReportService) Get(ctx context.Context, reportID string) (*model.Report, error) {
	if strings.TrimSpace(reportID) == "" {
		return nil, appErr.ErrInvalid
	}
	return s.repo.GetByID(ctx, reportID)
}

func (s *ReportService) List(ctx context.Context, filter model.ReportFilter) ([]model.Report, error) {
	if filter.Limit == 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	return s.repo.List(ctx, filter)
}

// PurgeExpired removes non-seed reports created before the cutoff, objects
// first so a failed run leaves rows to retry.
func (s *ReportService) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for {
		ids, err := s.repo.ListExpired(ctx, before.Unix(), purgeBatchSize)
		if err != nil {
			return total, err
		}
		if len(ids) == 0 {
			return total, nil
		}
		for _, id := range ids {
			if err := s.store.Delete(ctx, ReportObjectKey(id)); err != nil {
				return total, fmt.Errorf("delete report object %s: %w", id, err)
			}
		}
		n, err := s.repo.DeleteByIDs(ctx, ids)
		if err != nil {
			return total, err
		}
		total += n
		if n == 0 || len(ids) < purgeBatchSize {
			return total, nil
		}
	}
}
