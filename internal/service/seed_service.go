package service

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/capa/internal/model"
)

//go:embed seeddata/reports.json
var seedReportsJSON []byte

type seedEntry struct {
	FailureMode string `json:"failure_mode"`
	model.ReportContent
}

// SeedReports returns the built-in reference reports stamped with now.
func SeedReports(now time.Time) ([]model.Report, error) {
	var entries []seedEntry
	if err := json.Unmarshal(seedReportsJSON, &entries); err != nil {
		return nil, fmt.Errorf("decode seed reports: %w", err)
	}
	reports := make([]model.Report, 0, len(entries))
	for _, e := range entries {
		reports = append(reports, model.Report{
			ReportID:      fmt.Sprintf("SEED_%s_%s", e.FailureMode, now.Format("20060102")),
			CreatedAt:     now.Format("2006-01-02T15:04:05.000000"),
			ImageID:       "synthetic_" + strings.ToLower(e.FailureMode),
			FailureMode:   e.FailureMode,
			Confidence:    "1.0",
			IsSeed:        true,
			ReportContent: e.ReportContent,
			Ctime:         now.Unix(),
		})
	}
	return reports, nil
}

type SeedService struct {
	reports *ReportService
}

func NewSeedService(reports *ReportService) *SeedService {
	return &SeedService{reports: reports}
}

func (s *SeedService) Seed(ctx context.Context) (int, error) {
	items, err := SeedReports(s.reports.now())
	if err != nil {
		return 0, err
	}
	for i := range items {
		if err := s.reports.persist(ctx, &items[i]); err != nil {
			return i, fmt.Errorf("seed %s: %w", items[i].FailureMode, err)
		}
		s.reports.refs.Remove(items[i].FailureMode)
		logutil.GetLogger(ctx).Info("seed report stored", zap.String("report_id", items[i].ReportID))
	}
	return len(items), nil
}
